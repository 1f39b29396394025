package domain

import "time"

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

// Closed-reason provenance for sessions. Historical "abandoned" rows are
// migrated into closed with ClosedReason preserved.
const (
	ClosedReasonManual    = "manual"
	ClosedReasonAbandoned = "abandoned"
)

const (
	DeviceStatusActive   = "active"
	DeviceStatusInactive = "inactive"
	DeviceStatusOffline  = "offline"
)

const (
	TxStatusSucceeded = "succeeded"
	TxStatusPending   = "pending"
	TxStatusFailed    = "failed"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodMobile   = "mobile"
	PaymentMethodGiftCard = "gift_card"
)

const (
	CashEntryWithdrawal = "withdrawal"
	CashEntryDeposit    = "deposit"
)

const (
	EventTypeApplication = "application"
	EventTypeUser        = "user"
	EventTypeDrawer      = "drawer"
	EventTypeReport      = "report"
	EventTypeTransaction = "transaction"
	EventTypePayment     = "payment"
	EventTypeSession     = "session"
	EventTypeOther       = "other"
)

// Session is one register shift on one device.
type Session struct {
	ID                  string          `json:"id"`
	StoreID             string          `json:"store_id"`
	DeviceID            string          `json:"device_id,omitempty"`
	OperatorID          string          `json:"operator_id,omitempty"`
	Number              string          `json:"number"`
	Status              string          `json:"status"`
	ClosedReason        string          `json:"closed_reason,omitempty"`
	OpenedAt            time.Time       `json:"opened_at"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
	OpeningBalanceCents int64           `json:"opening_balance_cents"`
	TransactionCount    int64           `json:"transaction_count"`
	TotalAmountCents    int64           `json:"total_amount_cents"`
	ExpectedCashCents   int64           `json:"expected_cash_cents"`
	ActualCashCents     int64           `json:"actual_cash_cents"`
	CashDifferenceCents int64           `json:"cash_difference_cents"`
	OpeningNotes        string          `json:"opening_notes,omitempty"`
	ClosingNotes        string          `json:"closing_notes,omitempty"`
	OpeningPayload      *SessionPayload `json:"opening_payload,omitempty"`
	ClosingPayload      *SessionPayload `json:"closing_payload,omitempty"`
}

// SessionPayload is the structured opening/closing payload. The Report field
// holds the cached Z-report snapshot once the session is closed; its JSON
// shape is a durable contract read by export and receipt tooling.
type SessionPayload struct {
	Report *ReportSnapshot `json:"report,omitempty"`
	Extra  map[string]any  `json:"extra,omitempty"`
}

// TransactionLine is one line item of a transaction, as delivered by the
// Transaction Feed. Malformed lines are tolerated and skipped by reporting.
type TransactionLine struct {
	ProductID   string `json:"product_id"`
	Description string `json:"description,omitempty"`
	Quantity    int64  `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

// Transaction is one payment movement (sale or refund) from the feed, or a
// cash entry recorded at the register (no external payment id).
type Transaction struct {
	ID                  string            `json:"id"`
	ExternalPaymentID   string            `json:"external_payment_id,omitempty"`
	StoreID             string            `json:"store_id"`
	SessionID           string            `json:"session_id,omitempty"`
	AmountCents         int64             `json:"amount_cents"`
	Currency            string            `json:"currency"`
	Status              string            `json:"status"`
	PaymentMethod       string            `json:"payment_method"`
	Paid                bool              `json:"paid"`
	PaidAt              *time.Time        `json:"paid_at,omitempty"`
	Refunded            bool              `json:"refunded"`
	RefundedAmountCents int64             `json:"refunded_amount_cents"`
	TipAmountCents      int64             `json:"tip_amount_cents"`
	TransactionCode     string            `json:"transaction_code"`
	PaymentCode         string            `json:"payment_code"`
	ProductGroupCode    string            `json:"product_group_code"`
	LineItems           []TransactionLine `json:"line_items,omitempty"`
	SessionNumberHint   string            `json:"session_number_hint,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Event is one append-only ledger entry. Immutable once written, except for
// explicit reconciliation repair of the session/device linkage fields.
type Event struct {
	ID            string        `json:"id"`
	StoreID       string        `json:"store_id"`
	DeviceID      string        `json:"device_id,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Code          string        `json:"event_code"`
	Type          string        `json:"event_type"`
	Description   string        `json:"description"`
	Payload       *EventPayload `json:"payload,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// EventPayload is a closed set of optional fields keyed by event family,
// plus an open Extra map for forward-compatible data.
type EventPayload struct {
	AmountCents       *int64         `json:"amount_cents,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	PaymentMethod     string         `json:"payment_method,omitempty"`
	SessionNumber     string         `json:"session_number,omitempty"`
	InactivitySeconds *int64         `json:"inactivity_seconds,omitempty"`
	SessionWasOpen    *bool          `json:"session_was_open,omitempty"`
	AutoDetected      *bool          `json:"auto_detected,omitempty"`
	Repair            *RepairDetail  `json:"repair,omitempty"`
	Report            *ReportSummary `json:"report,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// RepairDetail records a reconciliation correction on the event ledger so
// every repair is independently auditable.
type RepairDetail struct {
	Procedure     string `json:"procedure"`
	Strategy      string `json:"strategy,omitempty"`
	FromSessionID string `json:"from_session_id,omitempty"`
	ToSessionID   string `json:"to_session_id"`
}

// ReportSummary is the compact report echo embedded in report events.
type ReportSummary struct {
	Kind             string `json:"kind"`
	TransactionCount int64  `json:"transaction_count"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	CashAmountCents  int64  `json:"cash_amount_cents"`
}

// CashDrawerEntry is one manual cash movement against an open session.
type CashDrawerEntry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PosDevice is one physical register.
type PosDevice struct {
	ID         string     `json:"id"`
	StoreID    string     `json:"store_id"`
	Identifier string     `json:"identifier"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// CashMovementSummary aggregates one drawer-entry direction for a report.
type CashMovementSummary struct {
	Count            int64 `json:"count"`
	TotalAmountCents int64 `json:"total_amount_cents"`
}

// ProductSold is one row of the products-sold report aggregation.
type ProductSold struct {
	ProductID   string `json:"product_id"`
	Description string `json:"description,omitempty"`
	Quantity    int64  `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

// VendorSales is one row of the sales-by-vendor report aggregation.
type VendorSales struct {
	VendorID    string `json:"vendor_id"`
	VendorName  string `json:"vendor_name,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

// ReportSnapshot is the X/Z report structure. Field names and nesting are a
// stable contract; backfill repairs only ever fill the aggregation sections
// and stamp BackfilledAt.
type ReportSnapshot struct {
	Kind                 string              `json:"kind"`
	SessionID            string              `json:"session_id"`
	SessionNumber        string              `json:"session_number"`
	StoreID              string              `json:"store_id"`
	GeneratedAt          time.Time           `json:"generated_at"`
	TransactionCount     int64               `json:"transaction_count"`
	TotalAmountCents     int64               `json:"total_amount_cents"`
	CashAmountCents      int64               `json:"cash_amount_cents"`
	CardAmountCents      int64               `json:"card_amount_cents"`
	ByPaymentMethod      map[string]int64    `json:"by_payment_method"`
	RefundTotalCents     int64               `json:"refund_total_cents"`
	TipTotalCents        int64               `json:"tip_total_cents"`
	OpeningBalanceCents  int64               `json:"opening_balance_cents"`
	ExpectedCashCents    int64               `json:"expected_cash_cents"`
	CashWithdrawals      CashMovementSummary `json:"cash_withdrawals"`
	CashDeposits         CashMovementSummary `json:"cash_deposits"`
	ProductsSold         []ProductSold       `json:"products_sold"`
	SalesByVendor        []VendorSales       `json:"sales_by_vendor"`
	SkippedLineItemCount int64               `json:"skipped_line_items"`
	BackfilledAt         *time.Time          `json:"backfilled_at,omitempty"`
}

const (
	ReportKindX = "x_report"
	ReportKindZ = "z_report"
)

// Actor identifies the authenticated caller; passed explicitly, never read
// from ambient state by the engine itself.
type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type OpenSessionRequest struct {
	StoreID             string `json:"store_id"`
	DeviceID            string `json:"device_id"`
	OperatorID          string `json:"operator_id,omitempty"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
	Notes               string `json:"notes,omitempty"`
}

type CloseSessionRequest struct {
	ActualCashCents int64  `json:"actual_cash_cents"`
	Notes           string `json:"notes,omitempty"`
}

type CashMovementRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}

// SessionResponse is the affected session plus any events appended by the
// operation, in append order.
type SessionResponse struct {
	Session Session `json:"session"`
	Events  []Event `json:"events,omitempty"`
}

type ReportResponse struct {
	Session Session         `json:"session"`
	Report  *ReportSnapshot `json:"report"`
	Events  []Event         `json:"events,omitempty"`
}

// FeedTransaction is one Transaction Feed delivery. DeviceID is optional
// device context accompanying the delivery; when absent the transaction is
// left for reconciliation to link.
type FeedTransaction struct {
	ExternalPaymentID   string            `json:"external_payment_id"`
	StoreID             string            `json:"store_id"`
	DeviceID            string            `json:"device_id,omitempty"`
	AmountCents         int64             `json:"amount_cents"`
	Currency            string            `json:"currency"`
	Status              string            `json:"status"`
	PaymentMethod       string            `json:"payment_method"`
	Paid                bool              `json:"paid"`
	PaidAt              *time.Time        `json:"paid_at,omitempty"`
	Refunded            bool              `json:"refunded"`
	RefundedAmountCents int64             `json:"refunded_amount_cents"`
	TipAmountCents      int64             `json:"tip_amount_cents"`
	LineItems           []TransactionLine `json:"line_items,omitempty"`
	SessionNumberHint   string            `json:"session_number_hint,omitempty"`
}

type FeedTransactionResponse struct {
	Transaction Transaction `json:"transaction"`
	Duplicate   bool        `json:"duplicate"`
	Linked      bool        `json:"linked"`
	Events      []Event     `json:"events,omitempty"`
}

type HeartbeatRequest struct {
	StoreID    string     `json:"store_id"`
	DeviceID   string     `json:"device_id"`
	SeenAt     *time.Time `json:"seen_at,omitempty"`
	DeviceName string     `json:"device_name,omitempty"`
}

type HeartbeatResponse struct {
	Device PosDevice `json:"device"`
}

// EventFilter selects events for the query API. Zero values mean "any".
type EventFilter struct {
	StoreID   string
	SessionID string
	Code      string
	Type      string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

type EventListResponse struct {
	Events []Event `json:"events"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// ReconcileRequest configures one reconciliation procedure run.
type ReconcileRequest struct {
	StoreID  string `json:"store_id,omitempty"`
	DryRun   bool   `json:"dry_run"`
	Limit    int    `json:"limit,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// ProposedChange describes one repair a dry-run would apply.
type ProposedChange struct {
	RecordKind    string `json:"record_kind"`
	RecordID      string `json:"record_id"`
	FromSessionID string `json:"from_session_id,omitempty"`
	ToSessionID   string `json:"to_session_id"`
	Strategy      string `json:"strategy"`
}

// ReconcileSummary reports per-category counts for one procedure run.
// Errors are counted, never raised mid-sweep.
type ReconcileSummary struct {
	Procedure        string           `json:"procedure"`
	DryRun           bool             `json:"dry_run"`
	Examined         int              `json:"examined"`
	Resolved         int              `json:"resolved"`
	SkippedNoSession int              `json:"skipped_no_session"`
	SkippedUnlinked  int              `json:"skipped_unlinked_transaction"`
	TiesBroken       int              `json:"ties_broken"`
	Errors           int              `json:"errors"`
	Changes          []ProposedChange `json:"changes,omitempty"`
}

type BackfillRequest struct {
	StoreID string `json:"store_id,omitempty"`
	DryRun  bool   `json:"dry_run"`
	Limit   int    `json:"limit,omitempty"`
}

type BackfillSummary struct {
	Examined   int  `json:"examined"`
	Backfilled int  `json:"backfilled"`
	Skipped    int  `json:"skipped"`
	Errors     int  `json:"errors"`
	DryRun     bool `json:"dry_run"`
}
