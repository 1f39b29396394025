package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/janiator/filament-pos-stripe-sub001/internal/cache"
	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
	"github.com/janiator/filament-pos-stripe-sub001/internal/reconcile"
	"github.com/janiator/filament-pos-stripe-sub001/internal/report"
	"github.com/janiator/filament-pos-stripe-sub001/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	reconciler     *reconcile.Engine
	reportCache    cache.ReportCache
	catalog        report.CatalogLookup
	defaultStoreID string
	xReportTTL     time.Duration
}

func New(repo store.Repository, reportCache cache.ReportCache, catalog report.CatalogLookup, defaultStoreID string, xReportTTL time.Duration) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}

	return &Service{
		repo:           repo,
		reconciler:     reconcile.New(repo),
		reportCache:    reportCache,
		catalog:        catalog,
		defaultStoreID: defaultStoreID,
		xReportTTL:     xReportTTL,
	}
}

// OpenSession starts a register session on a device. The storage layer
// enforces the single-open-session rule and the device/store ownership
// check; the returned events are the session-opened and drawer-opened ledger
// entries in append order.
func (s *Service) OpenSession(ctx context.Context, req domain.OpenSessionRequest) (domain.SessionResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		return domain.SessionResponse{}, &store.ValidationError{Field: "device_id", Reason: "required"}
	}
	if req.OpeningBalanceCents < 0 {
		return domain.SessionResponse{}, &store.ValidationError{Field: "opening_balance_cents", Reason: "must be >= 0"}
	}

	created, err := s.repo.CreateSession(ctx, domain.Session{
		StoreID:             req.StoreID,
		DeviceID:            req.DeviceID,
		OperatorID:          req.OperatorID,
		OpeningBalanceCents: req.OpeningBalanceCents,
		OpeningNotes:        req.Notes,
	})
	if err != nil {
		return domain.SessionResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	opening := created.OpeningBalanceCents
	events := []domain.Event{}
	for _, spec := range []struct {
		code        string
		eventType   string
		description string
	}{
		{domain.SaftCodeSessionOpened, domain.EventTypeSession, fmt.Sprintf("session %s opened", created.Number)},
		{domain.SaftCodeDrawerOpened, domain.EventTypeDrawer, "cash drawer opened"},
	} {
		event, err := s.repo.AppendEvent(ctx, domain.Event{
			StoreID:     created.StoreID,
			DeviceID:    created.DeviceID,
			SessionID:   created.ID,
			UserID:      actor.Username,
			Code:        spec.code,
			Type:        spec.eventType,
			Description: spec.description,
			OccurredAt:  created.OpenedAt,
			Payload: &domain.EventPayload{
				AmountCents:   &opening,
				SessionNumber: created.Number,
			},
		})
		if err != nil {
			return domain.SessionResponse{}, err
		}
		events = append(events, *event)
	}

	return domain.SessionResponse{Session: *created, Events: events}, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.SessionResponse, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: *session}, nil
}

// CloseSession computes the final Z report, settles the cash count and
// transitions the session to closed. The Z snapshot is persisted in the
// closing payload so later reads never recompute it.
func (s *Service) CloseSession(ctx context.Context, sessionID string, req domain.CloseSessionRequest) (domain.ReportResponse, error) {
	if req.ActualCashCents < 0 {
		return domain.ReportResponse{}, &store.ValidationError{Field: "actual_cash_cents", Reason: "must be >= 0"}
	}

	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.ReportResponse{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.ReportResponse{}, &store.InvalidStateError{SessionID: sessionID, Status: session.Status, Operation: "close"}
	}

	snapshot, err := s.buildSnapshot(ctx, domain.ReportKindZ, *session, time.Now().UTC())
	if err != nil {
		return domain.ReportResponse{}, err
	}

	closedAt := snapshot.GeneratedAt
	closed, err := s.repo.CloseSession(ctx, sessionID, domain.Session{
		ClosedAt:            &closedAt,
		ClosedReason:        domain.ClosedReasonManual,
		ExpectedCashCents:   snapshot.ExpectedCashCents,
		ActualCashCents:     req.ActualCashCents,
		CashDifferenceCents: req.ActualCashCents - snapshot.ExpectedCashCents,
		ClosingNotes:        req.Notes,
		ClosingPayload:      &domain.SessionPayload{Report: snapshot},
	})
	if err != nil {
		return domain.ReportResponse{}, err
	}

	if err := s.reportCache.Invalidate(ctx, xReportCacheKey(sessionID)); err != nil {
		log.Printf("[service] WARN: invalidating x-report cache for %s: %v", sessionID, err)
	}

	actor, _ := ActorFromContext(ctx)
	events := []domain.Event{}
	for _, spec := range []struct {
		code        string
		eventType   string
		description string
	}{
		{domain.SaftCodeZReport, domain.EventTypeReport, fmt.Sprintf("z-report for session %s", closed.Number)},
		{domain.SaftCodeSessionClosed, domain.EventTypeSession, fmt.Sprintf("session %s closed", closed.Number)},
	} {
		event, err := s.repo.AppendEvent(ctx, domain.Event{
			StoreID:     closed.StoreID,
			DeviceID:    closed.DeviceID,
			SessionID:   closed.ID,
			UserID:      actor.Username,
			Code:        spec.code,
			Type:        spec.eventType,
			Description: spec.description,
			OccurredAt:  closedAt,
			Payload: &domain.EventPayload{
				SessionNumber: closed.Number,
				Report:        report.Summary(snapshot),
			},
		})
		if err != nil {
			return domain.ReportResponse{}, err
		}
		events = append(events, *event)
	}

	return domain.ReportResponse{Session: *closed, Report: snapshot, Events: events}, nil
}

// RecordCashMovement books a manual withdrawal or deposit against an open
// session's drawer.
func (s *Service) RecordCashMovement(ctx context.Context, sessionID string, entryType string, req domain.CashMovementRequest) (domain.SessionResponse, error) {
	if req.AmountCents <= 0 {
		return domain.SessionResponse{}, &store.ValidationError{Field: "amount_cents", Reason: "must be > 0"}
	}

	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.SessionResponse{}, &store.InvalidStateError{SessionID: sessionID, Status: session.Status, Operation: entryType}
	}

	entry, err := s.repo.CreateCashDrawerEntry(ctx, domain.CashDrawerEntry{
		SessionID:   sessionID,
		Type:        entryType,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
	})
	if err != nil {
		return domain.SessionResponse{}, err
	}

	if err := s.reportCache.Invalidate(ctx, xReportCacheKey(sessionID)); err != nil {
		log.Printf("[service] WARN: invalidating x-report cache for %s: %v", sessionID, err)
	}

	code := domain.SaftCodeCashWithdrawal
	if entryType == domain.CashEntryDeposit {
		code = domain.SaftCodeCashDeposit
	}
	actor, _ := ActorFromContext(ctx)
	amount := entry.AmountCents
	event, err := s.repo.AppendEvent(ctx, domain.Event{
		StoreID:     session.StoreID,
		DeviceID:    session.DeviceID,
		SessionID:   session.ID,
		UserID:      actor.Username,
		Code:        code,
		Type:        domain.EventTypeDrawer,
		Description: fmt.Sprintf("cash %s", entryType),
		OccurredAt:  entry.OccurredAt,
		Payload: &domain.EventPayload{
			AmountCents:   &amount,
			Reason:        entry.Reason,
			SessionNumber: session.Number,
		},
	})
	if err != nil {
		return domain.SessionResponse{}, err
	}

	return domain.SessionResponse{Session: *session, Events: []domain.Event{*event}}, nil
}

// GenerateXReport builds a mid-session snapshot without touching session
// state. Snapshots are cached briefly; a cache hit serves the earlier
// snapshot and appends no new ledger entry.
func (s *Service) GenerateXReport(ctx context.Context, sessionID string) (domain.ReportResponse, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.ReportResponse{}, err
	}
	key := xReportCacheKey(sessionID)
	if cached, ok, err := s.reportCache.Get(ctx, key); err == nil && ok {
		return domain.ReportResponse{Session: *session, Report: cached}, nil
	} else if err != nil {
		log.Printf("[service] WARN: x-report cache read for %s: %v", sessionID, err)
	}

	snapshot, err := s.buildSnapshot(ctx, domain.ReportKindX, *session, time.Now().UTC())
	if err != nil {
		return domain.ReportResponse{}, err
	}
	if err := s.reportCache.Set(ctx, key, snapshot, s.xReportTTL); err != nil {
		log.Printf("[service] WARN: x-report cache write for %s: %v", sessionID, err)
	}

	actor, _ := ActorFromContext(ctx)
	event, err := s.repo.AppendEvent(ctx, domain.Event{
		StoreID:     session.StoreID,
		DeviceID:    session.DeviceID,
		SessionID:   session.ID,
		UserID:      actor.Username,
		Code:        domain.SaftCodeXReport,
		Type:        domain.EventTypeReport,
		Description: fmt.Sprintf("x-report for session %s", session.Number),
		OccurredAt:  snapshot.GeneratedAt,
		Payload: &domain.EventPayload{
			SessionNumber: session.Number,
			Report:        report.Summary(snapshot),
		},
	})
	if err != nil {
		return domain.ReportResponse{}, err
	}

	return domain.ReportResponse{Session: *session, Report: snapshot, Events: []domain.Event{*event}}, nil
}

// GetZReport serves the Z snapshot persisted at close. It never recomputes;
// a closed session missing its snapshot is repaired by report backfill.
func (s *Service) GetZReport(ctx context.Context, sessionID string) (domain.ReportResponse, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.ReportResponse{}, err
	}
	if session.Status != domain.SessionStatusClosed {
		return domain.ReportResponse{}, &store.InvalidStateError{SessionID: sessionID, Status: session.Status, Operation: "z-report"}
	}
	if session.ClosingPayload == nil || session.ClosingPayload.Report == nil {
		return domain.ReportResponse{}, store.ErrNotFound
	}
	return domain.ReportResponse{Session: *session, Report: session.ClosingPayload.Report}, nil
}

func (s *Service) buildSnapshot(ctx context.Context, kind string, session domain.Session, at time.Time) (*domain.ReportSnapshot, error) {
	transactions, err := s.repo.ListTransactionsBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	drawer, err := s.repo.ListCashDrawerEntries(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return report.Generate(kind, session, transactions, drawer, s.catalog, at), nil
}

// IngestTransaction processes one Transaction Feed delivery. Ingest is
// idempotent on external_payment_id: an identical redelivery returns the
// stored transaction and appends nothing, a redelivery carrying changes
// (a late refund, a status flip) merges by delta instead of re-adding.
// New transactions are linked to the open session on the delivering device
// when one exists, otherwise left for reconciliation.
func (s *Service) IngestTransaction(ctx context.Context, feed domain.FeedTransaction) (domain.FeedTransactionResponse, error) {
	feed.ExternalPaymentID = strings.TrimSpace(feed.ExternalPaymentID)
	if feed.ExternalPaymentID == "" {
		return domain.FeedTransactionResponse{}, &store.ValidationError{Field: "external_payment_id", Reason: "required"}
	}
	if feed.StoreID == "" {
		feed.StoreID = s.defaultStoreID
	}
	if feed.Status == "" {
		feed.Status = domain.TxStatusSucceeded
	}
	if feed.Currency == "" {
		feed.Currency = "NOK"
	}

	sessionID := ""
	sessionNumber := ""
	if feed.DeviceID != "" {
		open, err := s.repo.GetOpenSession(ctx, feed.StoreID, feed.DeviceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.FeedTransactionResponse{}, err
		}
		if err == nil {
			sessionID = open.ID
			sessionNumber = open.Number
		}
	}
	if sessionID == "" && feed.SessionNumberHint != "" {
		hinted, err := s.repo.GetSessionByNumber(ctx, feed.StoreID, feed.SessionNumberHint)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.FeedTransactionResponse{}, err
		}
		if err == nil {
			sessionID = hinted.ID
			sessionNumber = hinted.Number
		}
	}

	created, duplicate, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		ExternalPaymentID:   feed.ExternalPaymentID,
		StoreID:             feed.StoreID,
		SessionID:           sessionID,
		AmountCents:         feed.AmountCents,
		Currency:            feed.Currency,
		Status:              feed.Status,
		PaymentMethod:       feed.PaymentMethod,
		Paid:                feed.Paid,
		PaidAt:              feed.PaidAt,
		Refunded:            feed.Refunded,
		RefundedAmountCents: feed.RefundedAmountCents,
		TipAmountCents:      feed.TipAmountCents,
		TransactionCode:     domain.SaftTransactionCode(feed.Refunded),
		PaymentCode:         domain.SaftPaymentCode(feed.PaymentMethod),
		ProductGroupCode:    domain.SaftProductGroupGeneral,
		LineItems:           feed.LineItems,
		SessionNumberHint:   feed.SessionNumberHint,
	})
	if err != nil {
		return domain.FeedTransactionResponse{}, err
	}
	if duplicate {
		merged, events, err := s.mergeRedelivery(ctx, created, feed)
		if err != nil {
			return domain.FeedTransactionResponse{}, err
		}
		return domain.FeedTransactionResponse{
			Transaction: *merged,
			Duplicate:   true,
			Linked:      merged.SessionID != "",
			Events:      events,
		}, nil
	}

	if created.SessionID != "" && created.Status == domain.TxStatusSucceeded {
		net := created.AmountCents - created.RefundedAmountCents
		if _, err := s.repo.UpdateSessionTotals(ctx, created.SessionID, 1, net); err != nil {
			return domain.FeedTransactionResponse{}, err
		}
		if err := s.reportCache.Invalidate(ctx, xReportCacheKey(created.SessionID)); err != nil {
			log.Printf("[service] WARN: invalidating x-report cache for %s: %v", created.SessionID, err)
		}
	}

	occurredAt := created.CreatedAt
	if created.PaidAt != nil {
		occurredAt = *created.PaidAt
	}
	amount := created.AmountCents
	events := []domain.Event{}
	for _, spec := range []struct {
		code        string
		eventType   string
		description string
	}{
		{domain.SaftReceiptCode(created.Refunded), domain.EventTypeTransaction, "receipt issued"},
		{domain.SaftCodePaymentReceived, domain.EventTypePayment, "payment received"},
	} {
		event, err := s.repo.AppendEvent(ctx, domain.Event{
			StoreID:       created.StoreID,
			DeviceID:      feed.DeviceID,
			SessionID:     created.SessionID,
			TransactionID: created.ID,
			Code:          spec.code,
			Type:          spec.eventType,
			Description:   spec.description,
			OccurredAt:    occurredAt,
			Payload: &domain.EventPayload{
				AmountCents:   &amount,
				PaymentMethod: created.PaymentMethod,
				SessionNumber: sessionNumber,
			},
		})
		if err != nil {
			return domain.FeedTransactionResponse{}, err
		}
		events = append(events, *event)
	}

	return domain.FeedTransactionResponse{
		Transaction: *created,
		Duplicate:   false,
		Linked:      created.SessionID != "",
		Events:      events,
	}, nil
}

// mergeRedelivery folds a re-delivered feed item into the stored
// transaction. Counters are adjusted by delta, never re-added; a refund
// arriving on redelivery appends its return receipt to the ledger.
func (s *Service) mergeRedelivery(ctx context.Context, stored *domain.Transaction, feed domain.FeedTransaction) (*domain.Transaction, []domain.Event, error) {
	next := *stored
	next.Status = feed.Status
	next.Paid = feed.Paid
	if feed.PaidAt != nil {
		next.PaidAt = feed.PaidAt
	}
	next.AmountCents = feed.AmountCents
	next.Refunded = feed.Refunded
	next.RefundedAmountCents = feed.RefundedAmountCents
	next.TipAmountCents = feed.TipAmountCents
	next.TransactionCode = domain.SaftTransactionCode(next.Refunded)

	if next.Status == stored.Status && next.Paid == stored.Paid &&
		next.AmountCents == stored.AmountCents &&
		next.Refunded == stored.Refunded &&
		next.RefundedAmountCents == stored.RefundedAmountCents &&
		next.TipAmountCents == stored.TipAmountCents {
		return stored, nil, nil
	}

	var oldCount, oldNet int64
	if stored.Status == domain.TxStatusSucceeded {
		oldCount = 1
		oldNet = stored.AmountCents - stored.RefundedAmountCents
	}
	var newCount, newNet int64
	if next.Status == domain.TxStatusSucceeded {
		newCount = 1
		newNet = next.AmountCents - next.RefundedAmountCents
	}

	updated, err := s.repo.UpdateTransaction(ctx, next)
	if err != nil {
		return nil, nil, err
	}

	if updated.SessionID != "" && (newCount != oldCount || newNet != oldNet) {
		if _, err := s.repo.UpdateSessionTotals(ctx, updated.SessionID, newCount-oldCount, newNet-oldNet); err != nil {
			return nil, nil, err
		}
		if err := s.reportCache.Invalidate(ctx, xReportCacheKey(updated.SessionID)); err != nil {
			log.Printf("[service] WARN: invalidating x-report cache for %s: %v", updated.SessionID, err)
		}
	}

	events := []domain.Event{}
	if updated.Refunded && !stored.Refunded {
		refunded := updated.RefundedAmountCents
		event, err := s.repo.AppendEvent(ctx, domain.Event{
			StoreID:       updated.StoreID,
			DeviceID:      feed.DeviceID,
			SessionID:     updated.SessionID,
			TransactionID: updated.ID,
			Code:          domain.SaftCodeReturnReceipt,
			Type:          domain.EventTypeTransaction,
			Description:   "refund recorded on redelivery",
			Payload: &domain.EventPayload{
				AmountCents:   &refunded,
				PaymentMethod: updated.PaymentMethod,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		events = append(events, *event)
	}
	return updated, events, nil
}

// RecordHeartbeat refreshes a device's last-seen timestamp, registering the
// device on first contact.
func (s *Service) RecordHeartbeat(ctx context.Context, req domain.HeartbeatRequest) (domain.HeartbeatResponse, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		return domain.HeartbeatResponse{}, &store.ValidationError{Field: "device_id", Reason: "required"}
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}

	device, err := s.repo.UpsertDeviceSeen(ctx, domain.PosDevice{
		ID:         req.DeviceID,
		StoreID:    req.StoreID,
		Name:       req.DeviceName,
		LastSeenAt: req.SeenAt,
	})
	if err != nil {
		return domain.HeartbeatResponse{}, err
	}
	return domain.HeartbeatResponse{Device: *device}, nil
}

func (s *Service) QueryEvents(ctx context.Context, filter domain.EventFilter) (domain.EventListResponse, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	events, err := s.repo.ListEvents(ctx, filter)
	if err != nil {
		return domain.EventListResponse{}, err
	}
	return domain.EventListResponse{Events: events, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *Service) ReconcileTransactions(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileSummary, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.reconciler.LinkTransactions(ctx, req)
}

func (s *Service) ReconcileEvents(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileSummary, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.reconciler.LinkEvents(ctx, req)
}

func (s *Service) ReconcileMismatches(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileSummary, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.reconciler.ResolveMismatches(ctx, req)
}

// BackfillReports repairs Z snapshots for closed sessions. A session with no
// snapshot gets a fully regenerated one; a snapshot that merely lacks the
// line-item aggregation sections keeps its close-time totals and has only
// those sections recomputed. Either way the snapshot is stamped with the
// backfill time so consumers can tell it apart from one produced at close.
func (s *Service) BackfillReports(ctx context.Context, req domain.BackfillRequest) (*domain.BackfillSummary, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	summary := &domain.BackfillSummary{DryRun: req.DryRun}
	limit := req.Limit
	if limit < 1 {
		limit = 100
	}

	sessions, err := s.repo.ListSessionsNeedingBackfill(ctx, req.StoreID, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, session := range sessions {
		summary.Examined++
		if session.ClosedAt == nil {
			summary.Skipped++
			continue
		}
		if req.DryRun {
			summary.Backfilled++
			continue
		}

		snapshot, err := s.buildSnapshot(ctx, domain.ReportKindZ, session, *session.ClosedAt)
		if err != nil {
			log.Printf("[service] WARN: backfill snapshot for session %s: %v", session.ID, err)
			summary.Errors++
			continue
		}
		snapshot.BackfilledAt = &now

		payload := domain.SessionPayload{Report: snapshot}
		if session.ClosingPayload != nil {
			payload.Extra = session.ClosingPayload.Extra
			if existing := session.ClosingPayload.Report; existing != nil {
				repaired := *existing
				repaired.ProductsSold = snapshot.ProductsSold
				repaired.SalesByVendor = snapshot.SalesByVendor
				repaired.SkippedLineItemCount = snapshot.SkippedLineItemCount
				repaired.BackfilledAt = &now
				payload.Report = &repaired
			}
		}

		if _, err := s.repo.SetSessionClosingReport(ctx, session.ID, payload); err != nil {
			log.Printf("[service] WARN: backfill persist for session %s: %v", session.ID, err)
			summary.Errors++
			continue
		}
		if _, err := s.repo.AppendEvent(ctx, domain.Event{
			StoreID:     session.StoreID,
			DeviceID:    session.DeviceID,
			SessionID:   session.ID,
			Code:        domain.SaftCodeReportBackfill,
			Type:        domain.EventTypeApplication,
			Description: fmt.Sprintf("z-report backfilled for session %s", session.Number),
			Payload: &domain.EventPayload{
				SessionNumber: session.Number,
				Report:        report.Summary(payload.Report),
			},
		}); err != nil {
			log.Printf("[service] WARN: backfill event for session %s: %v", session.ID, err)
			summary.Errors++
			continue
		}
		summary.Backfilled++
	}
	return summary, nil
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

func xReportCacheKey(sessionID string) string {
	return "xreport:" + sessionID
}
