// Package report computes X and Z report snapshots from session data. The
// generator is pure: it never touches storage, so closed-session reports can
// be recomputed byte-for-byte during backfill.
package report

import (
	"slices"
	"time"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
)

// CatalogLookup resolves a product id to its vendor for the sales-by-vendor
// aggregation. Implementations must tolerate unknown products.
type CatalogLookup interface {
	VendorForProduct(productID string) (vendorID string, vendorName string, ok bool)
}

// StaticCatalog is a map-backed CatalogLookup for dev mode and tests.
type StaticCatalog map[string]Vendor

type Vendor struct {
	ID   string
	Name string
}

func (c StaticCatalog) VendorForProduct(productID string) (string, string, bool) {
	v, ok := c[productID]
	if !ok {
		return "", "", false
	}
	return v.ID, v.Name, true
}

// Generate builds a report snapshot for the session. X and Z reports share
// the exact same math; only the kind marker differs. Only succeeded, paid
// transactions count. Totals are gross; refunds accumulate in their own
// total and net out only inside the expected-cash computation. Malformed
// line items are counted in SkippedLineItemCount rather than failing the
// report; items whose product resolves to no vendor are simply left out of
// the sales-by-vendor rows.
func Generate(kind string, session domain.Session, transactions []domain.Transaction, drawer []domain.CashDrawerEntry, catalog CatalogLookup, at time.Time) *domain.ReportSnapshot {
	snapshot := &domain.ReportSnapshot{
		Kind:                kind,
		SessionID:           session.ID,
		SessionNumber:       session.Number,
		StoreID:             session.StoreID,
		GeneratedAt:         at.UTC(),
		ByPaymentMethod:     map[string]int64{},
		OpeningBalanceCents: session.OpeningBalanceCents,
		ProductsSold:        []domain.ProductSold{},
		SalesByVendor:       []domain.VendorSales{},
	}

	productTotals := map[string]*domain.ProductSold{}
	vendorTotals := map[string]*domain.VendorSales{}
	var cashRefundCents int64

	for _, tx := range transactions {
		if tx.Status != domain.TxStatusSucceeded || !tx.Paid {
			continue
		}

		snapshot.TransactionCount++
		snapshot.TotalAmountCents += tx.AmountCents
		snapshot.ByPaymentMethod[tx.PaymentMethod] += tx.AmountCents
		snapshot.RefundTotalCents += tx.RefundedAmountCents
		snapshot.TipTotalCents += tx.TipAmountCents
		if tx.PaymentMethod == domain.PaymentMethodCash {
			cashRefundCents += tx.RefundedAmountCents
		}

		for _, line := range tx.LineItems {
			if line.ProductID == "" || line.Quantity <= 0 {
				snapshot.SkippedLineItemCount++
				continue
			}
			product, ok := productTotals[line.ProductID]
			if !ok {
				product = &domain.ProductSold{ProductID: line.ProductID, Description: line.Description}
				productTotals[line.ProductID] = product
			}
			product.Quantity += line.Quantity
			product.AmountCents += line.AmountCents

			// Items without a vendor stay out of sales_by_vendor; they
			// still count in products_sold above.
			if catalog == nil {
				continue
			}
			vendorID, vendorName, found := catalog.VendorForProduct(line.ProductID)
			if !found {
				continue
			}
			vendor, ok := vendorTotals[vendorID]
			if !ok {
				vendor = &domain.VendorSales{VendorID: vendorID, VendorName: vendorName}
				vendorTotals[vendorID] = vendor
			}
			vendor.AmountCents += line.AmountCents
		}
	}

	snapshot.CashAmountCents = snapshot.ByPaymentMethod[domain.PaymentMethodCash]
	snapshot.CardAmountCents = snapshot.ByPaymentMethod[domain.PaymentMethodCard]

	for _, entry := range drawer {
		switch entry.Type {
		case domain.CashEntryWithdrawal:
			snapshot.CashWithdrawals.Count++
			snapshot.CashWithdrawals.TotalAmountCents += entry.AmountCents
		case domain.CashEntryDeposit:
			snapshot.CashDeposits.Count++
			snapshot.CashDeposits.TotalAmountCents += entry.AmountCents
		}
	}

	snapshot.ExpectedCashCents = ExpectedCash(session.OpeningBalanceCents, snapshot.CashAmountCents, snapshot.CashDeposits.TotalAmountCents, snapshot.CashWithdrawals.TotalAmountCents, cashRefundCents)

	for _, product := range productTotals {
		snapshot.ProductsSold = append(snapshot.ProductsSold, *product)
	}
	slices.SortFunc(snapshot.ProductsSold, func(a, b domain.ProductSold) int {
		return cmpString(a.ProductID, b.ProductID)
	})
	for _, vendor := range vendorTotals {
		snapshot.SalesByVendor = append(snapshot.SalesByVendor, *vendor)
	}
	slices.SortFunc(snapshot.SalesByVendor, func(a, b domain.VendorSales) int {
		return cmpString(a.VendorID, b.VendorID)
	})

	return snapshot
}

// ExpectedCash is the drawer expectation at close: opening float plus gross
// cash sales and deposits, minus withdrawals and cash refunds.
func ExpectedCash(openingCents, cashSalesCents, depositsCents, withdrawalsCents, cashRefundsCents int64) int64 {
	return openingCents + cashSalesCents + depositsCents - withdrawalsCents - cashRefundsCents
}

// Summary reduces a snapshot to the compact echo embedded in report events.
func Summary(snapshot *domain.ReportSnapshot) *domain.ReportSummary {
	if snapshot == nil {
		return nil
	}
	return &domain.ReportSummary{
		Kind:             snapshot.Kind,
		TransactionCount: snapshot.TransactionCount,
		TotalAmountCents: snapshot.TotalAmountCents,
		CashAmountCents:  snapshot.CashAmountCents,
	}
}

func cmpString(a, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
