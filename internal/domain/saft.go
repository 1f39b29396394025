package domain

// Norwegian SAF-T Cash Register event codes. The 130xx family covers the
// register lifecycle events this engine emits.
const (
	SaftCodeDeviceShutdown  = "13002"
	SaftCodeSessionOpened   = "13005"
	SaftCodeSessionClosed   = "13006"
	SaftCodeDrawerOpened    = "13008"
	SaftCodeCashWithdrawal  = "13010"
	SaftCodeCashDeposit     = "13011"
	SaftCodeXReport         = "13012"
	SaftCodeZReport         = "13013"
	SaftCodeSaleReceipt     = "13014"
	SaftCodeReturnReceipt   = "13015"
	SaftCodePaymentReceived = "13016"
	SaftCodeReconcileRepair = "13017"
	SaftCodeReportBackfill  = "13018"
)

// SAF-T transaction and payment classification codes.
const (
	SaftTxCashSale = "CASHSALE"
	SaftTxReturn   = "RETURN"

	SaftPayCash     = "CASH"
	SaftPayBankCard = "BANKCARD"
	SaftPayMobile   = "MOBILE"
	SaftPayGiftCard = "GIFTCARD"
	SaftPayOther    = "OTHER"

	SaftProductGroupGeneral = "PG-GENERAL"
)

// SaftTransactionCode classifies a feed transaction for SAF-T export.
func SaftTransactionCode(refunded bool) string {
	if refunded {
		return SaftTxReturn
	}
	return SaftTxCashSale
}

// SaftPaymentCode maps our payment method to the SAF-T payment code set.
// Unknown methods map to OTHER rather than failing ingest.
func SaftPaymentCode(method string) string {
	switch method {
	case PaymentMethodCash:
		return SaftPayCash
	case PaymentMethodCard:
		return SaftPayBankCard
	case PaymentMethodMobile:
		return SaftPayMobile
	case PaymentMethodGiftCard:
		return SaftPayGiftCard
	default:
		return SaftPayOther
	}
}

// SaftReceiptCode picks the receipt event code for a feed transaction.
func SaftReceiptCode(refunded bool) string {
	if refunded {
		return SaftCodeReturnReceipt
	}
	return SaftCodeSaleReceipt
}
