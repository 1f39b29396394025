package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStoreMismatch = errors.New("device belongs to another store")
)

// ConflictError reports a device conflict on session open. Either the device
// already holds an open session, under any store, and the error carries that
// session's id, or the device is registered to a different store than the one
// opening it, in which case only OpenStoreID is set.
type ConflictError struct {
	DeviceID          string
	OpenSessionID     string
	OpenSessionNumber string
	OpenStoreID       string
}

func (e *ConflictError) Error() string {
	if e.OpenSessionID == "" {
		return fmt.Sprintf("device %s belongs to store %s", e.DeviceID, e.OpenStoreID)
	}
	return fmt.Sprintf("device %s already has open session %s", e.DeviceID, e.OpenSessionID)
}

// InvalidStateError reports an operation attempted against a session in the
// wrong lifecycle state, e.g. closing an already closed session.
type InvalidStateError struct {
	SessionID string
	Status    string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s is %s, cannot %s", e.SessionID, e.Status, e.Operation)
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnresolvableLinkError reports a record whose session linkage could not be
// repaired by any reconciliation strategy.
type UnresolvableLinkError struct {
	RecordKind string
	RecordID   string
	Reason     string
}

func (e *UnresolvableLinkError) Error() string {
	return fmt.Sprintf("cannot resolve session for %s %s: %s", e.RecordKind, e.RecordID, e.Reason)
}

// UpstreamDeliveryError reports a failure to hand a record to an upstream
// consumer. Retryable; the record itself is persisted.
type UpstreamDeliveryError struct {
	Target string
	Err    error
}

func (e *UpstreamDeliveryError) Error() string {
	return fmt.Sprintf("upstream delivery to %s failed: %v", e.Target, e.Err)
}

func (e *UpstreamDeliveryError) Unwrap() error { return e.Err }

type Repository interface {
	CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	GetSessionByID(ctx context.Context, id string) (*domain.Session, error)
	GetOpenSession(ctx context.Context, storeID string, deviceID string) (*domain.Session, error)
	GetSessionByNumber(ctx context.Context, storeID string, number string) (*domain.Session, error)
	ListSessionsOpenAt(ctx context.Context, storeID string, deviceID string, at time.Time) ([]domain.Session, error)
	ListSessionsNeedingBackfill(ctx context.Context, storeID string, limit int) ([]domain.Session, error)
	CloseSession(ctx context.Context, id string, closed domain.Session) (*domain.Session, error)
	UpdateSessionTotals(ctx context.Context, id string, txDelta int64, amountDeltaCents int64) (*domain.Session, error)
	SetSessionClosingReport(ctx context.Context, id string, payload domain.SessionPayload) (*domain.Session, error)
	NextSessionNumber(ctx context.Context, storeID string) (string, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, bool, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByExternalID(ctx context.Context, externalPaymentID string) (*domain.Transaction, error)
	ListTransactionsBySession(ctx context.Context, sessionID string) ([]domain.Transaction, error)
	ListUnlinkedTransactions(ctx context.Context, storeID string, limit int) ([]domain.Transaction, error)
	LinkTransactionSession(ctx context.Context, transactionID string, sessionID string) (*domain.Transaction, error)

	AppendEvent(ctx context.Context, event domain.Event) (*domain.Event, error)
	GetEventByID(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
	ListUnlinkedEvents(ctx context.Context, storeID string, limit int) ([]domain.Event, error)
	ListMismatchedEvents(ctx context.Context, storeID string, limit int) ([]domain.Event, error)
	ListEventsByTransaction(ctx context.Context, transactionID string) ([]domain.Event, error)
	RelinkEventSession(ctx context.Context, eventID string, sessionID string) (*domain.Event, error)
	LastEventByDeviceAndCode(ctx context.Context, deviceID string, code string) (*domain.Event, error)

	CreateCashDrawerEntry(ctx context.Context, entry domain.CashDrawerEntry) (*domain.CashDrawerEntry, error)
	ListCashDrawerEntries(ctx context.Context, sessionID string) ([]domain.CashDrawerEntry, error)

	UpsertDeviceSeen(ctx context.Context, device domain.PosDevice) (*domain.PosDevice, error)
	GetDeviceByID(ctx context.Context, id string) (*domain.PosDevice, error)
	ListStaleDevices(ctx context.Context, cutoff time.Time) ([]domain.PosDevice, error)
	SetDeviceStatus(ctx context.Context, id string, status string) (*domain.PosDevice, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
