package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
	"github.com/janiator/filament-pos-stripe-sub001/internal/store"
	"github.com/janiator/filament-pos-stripe-sub001/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	sessionsByID      map[string]domain.Session
	openSessionByDev  map[string]string
	sessionCounters   map[string]int64
	transactionsByID  map[string]*domain.Transaction
	transactionsByExt map[string]*domain.Transaction
	events            []domain.Event
	eventIndexByID    map[string]int
	drawerBySession   map[string][]domain.CashDrawerEntry
	devicesByID       map[string]domain.PosDevice
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the engine uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"operator", operatorPwd, "operator"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		sessionsByID:      map[string]domain.Session{},
		openSessionByDev:  map[string]string{},
		sessionCounters:   map[string]int64{},
		transactionsByID:  map[string]*domain.Transaction{},
		transactionsByExt: map[string]*domain.Transaction{},
		events:            []domain.Event{},
		eventIndexByID:    map[string]int{},
		drawerBySession:   map[string][]domain.CashDrawerEntry{},
		devicesByID:       map[string]domain.PosDevice{},
		usersByUsername:   map[string]domain.UserAccount{},
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

// CreateSession enforces one open session per device across every store: a
// device still holding an open session anywhere conflicts, before any other
// check, so a register cannot be drained into a second tenant's drawer.
func (s *Store) CreateSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	if strings.TrimSpace(session.StoreID) == "" {
		return nil, &store.ValidationError{Field: "store_id", Reason: "required"}
	}
	if strings.TrimSpace(session.DeviceID) == "" {
		return nil, &store.ValidationError{Field: "device_id", Reason: "required"}
	}
	if session.OpeningBalanceCents < 0 {
		return nil, &store.ValidationError{Field: "opening_balance_cents", Reason: "must be >= 0"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if openID, exists := s.openSessionByDev[session.DeviceID]; exists {
		open := s.sessionsByID[openID]
		return nil, &store.ConflictError{
			DeviceID:          session.DeviceID,
			OpenSessionID:     open.ID,
			OpenSessionNumber: open.Number,
			OpenStoreID:       open.StoreID,
		}
	}
	if device, ok := s.devicesByID[session.DeviceID]; ok && device.StoreID != session.StoreID {
		return nil, &store.ConflictError{DeviceID: session.DeviceID, OpenStoreID: device.StoreID}
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	if session.Number == "" {
		session.Number = s.nextNumberLocked(session.StoreID)
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil
	session.ClosedReason = ""

	s.sessionsByID[session.ID] = session
	s.openSessionByDev[session.DeviceID] = session.ID
	return cloneSession(session), nil
}

func (s *Store) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) GetOpenSession(_ context.Context, storeID string, deviceID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openSessionByDev[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	session, ok := s.sessionsByID[id]
	if !ok || session.Status != domain.SessionStatusOpen || session.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) GetSessionByNumber(_ context.Context, storeID string, number string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessionsByID {
		if session.StoreID == storeID && session.Number == number {
			return cloneSession(session), nil
		}
	}
	return nil, store.ErrNotFound
}

// ListSessionsOpenAt returns the sessions whose open interval covers the
// instant, most recently opened first. An empty deviceID widens the match to
// the whole store.
func (s *Store) ListSessionsOpenAt(_ context.Context, storeID string, deviceID string, at time.Time) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Session{}
	for _, session := range s.sessionsByID {
		if session.StoreID != storeID {
			continue
		}
		if deviceID != "" && session.DeviceID != deviceID {
			continue
		}
		if session.OpenedAt.After(at) {
			continue
		}
		// The close instant itself still belongs to the session.
		if session.ClosedAt != nil && at.After(*session.ClosedAt) {
			continue
		}
		result = append(result, *cloneSession(session))
	}
	slices.SortFunc(result, func(a, b domain.Session) int {
		if a.OpenedAt.Equal(b.OpenedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.OpenedAt.After(b.OpenedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

// ListSessionsNeedingBackfill returns closed sessions whose Z snapshot is
// missing entirely or lacks the line-item aggregation sections.
func (s *Store) ListSessionsNeedingBackfill(_ context.Context, storeID string, limit int) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Session{}
	for _, session := range s.sessionsByID {
		if storeID != "" && session.StoreID != storeID {
			continue
		}
		if session.Status != domain.SessionStatusClosed {
			continue
		}
		if report := closingReport(session); report != nil && report.ProductsSold != nil && report.SalesByVendor != nil {
			continue
		}
		result = append(result, *cloneSession(session))
	}
	slices.SortFunc(result, func(a, b domain.Session) int {
		return cmpString(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func closingReport(session domain.Session) *domain.ReportSnapshot {
	if session.ClosingPayload == nil {
		return nil
	}
	return session.ClosingPayload.Report
}

func (s *Store) CloseSession(_ context.Context, id string, closed domain.Session) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, &store.InvalidStateError{SessionID: id, Status: session.Status, Operation: "close"}
	}
	closedAt := time.Now().UTC()
	if closed.ClosedAt != nil {
		closedAt = closed.ClosedAt.UTC()
	}
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt
	session.ClosedReason = closed.ClosedReason
	session.ExpectedCashCents = closed.ExpectedCashCents
	session.ActualCashCents = closed.ActualCashCents
	session.CashDifferenceCents = closed.CashDifferenceCents
	session.ClosingNotes = closed.ClosingNotes
	session.ClosingPayload = closed.ClosingPayload

	delete(s.openSessionByDev, session.DeviceID)
	s.sessionsByID[id] = session
	return cloneSession(session), nil
}

func (s *Store) UpdateSessionTotals(_ context.Context, id string, txDelta int64, amountDeltaCents int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	session.TransactionCount += txDelta
	session.TotalAmountCents += amountDeltaCents
	s.sessionsByID[id] = session
	return cloneSession(session), nil
}

func (s *Store) SetSessionClosingReport(_ context.Context, id string, payload domain.SessionPayload) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	session.ClosingPayload = clonePayload(&payload)
	s.sessionsByID[id] = session
	return cloneSession(session), nil
}

func (s *Store) NextSessionNumber(_ context.Context, storeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextNumberLocked(storeID), nil
}

func (s *Store) nextNumberLocked(storeID string) string {
	s.sessionCounters[storeID]++
	return fmt.Sprintf("%04d", s.sessionCounters[storeID])
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, bool, error) {
	if strings.TrimSpace(tx.StoreID) == "" {
		return nil, false, &store.ValidationError{Field: "store_id", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ExternalPaymentID != "" {
		if existing, ok := s.transactionsByExt[tx.ExternalPaymentID]; ok {
			return cloneTransaction(existing), true, nil
		}
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	stored := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = stored
	if tx.ExternalPaymentID != "" {
		s.transactionsByExt[tx.ExternalPaymentID] = stored
	}
	return cloneTransaction(stored), false, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transactionsByID[tx.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = time.Now().UTC()

	stored := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = stored
	if tx.ExternalPaymentID != "" {
		s.transactionsByExt[tx.ExternalPaymentID] = stored
	}
	return cloneTransaction(stored), nil
}

func (s *Store) GetTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByExternalID(_ context.Context, externalPaymentID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByExt[externalPaymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactionsBySession(_ context.Context, sessionID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Transaction{}
	for _, tx := range s.transactionsByID {
		if tx.SessionID == sessionID {
			result = append(result, *cloneTransaction(tx))
		}
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) ListUnlinkedTransactions(_ context.Context, storeID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Transaction{}
	for _, tx := range s.transactionsByID {
		if tx.SessionID != "" {
			continue
		}
		if storeID != "" && tx.StoreID != storeID {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		return cmpString(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) LinkTransactionSession(_ context.Context, transactionID string, sessionID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx.SessionID = sessionID
	tx.UpdatedAt = time.Now().UTC()
	return cloneTransaction(tx), nil
}

func (s *Store) AppendEvent(_ context.Context, event domain.Event) (*domain.Event, error) {
	if strings.TrimSpace(event.StoreID) == "" {
		return nil, &store.ValidationError{Field: "store_id", Reason: "required"}
	}
	if strings.TrimSpace(event.Code) == "" {
		return nil, &store.ValidationError{Field: "event_code", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = xid.New("evt")
	}
	now := time.Now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	event.CreatedAt = now
	event.Payload = clonePayloadEvent(event.Payload)

	s.eventIndexByID[event.ID] = len(s.events)
	s.events = append(s.events, event)
	return cloneEvent(event), nil
}

func (s *Store) GetEventByID(_ context.Context, id string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.eventIndexByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEvent(s.events[idx]), nil
}

func (s *Store) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Event{}
	for _, event := range s.events {
		if filter.StoreID != "" && event.StoreID != filter.StoreID {
			continue
		}
		if filter.SessionID != "" && event.SessionID != filter.SessionID {
			continue
		}
		if filter.Code != "" && event.Code != filter.Code {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && event.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && event.OccurredAt.After(filter.To) {
			continue
		}
		result = append(result, *cloneEvent(event))
	}
	slices.SortFunc(result, func(a, b domain.Event) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.OccurredAt.Before(b.OccurredAt) {
			return -1
		}
		return 1
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Event{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListUnlinkedEvents(_ context.Context, storeID string, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Event{}
	for _, event := range s.events {
		if event.SessionID != "" {
			continue
		}
		if storeID != "" && event.StoreID != storeID {
			continue
		}
		result = append(result, *cloneEvent(event))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ListMismatchedEvents returns events whose transaction link points to a
// session different from the event's own.
func (s *Store) ListMismatchedEvents(_ context.Context, storeID string, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Event{}
	for _, event := range s.events {
		if event.TransactionID == "" {
			continue
		}
		if storeID != "" && event.StoreID != storeID {
			continue
		}
		tx, ok := s.transactionsByID[event.TransactionID]
		if !ok {
			continue
		}
		if tx.SessionID == event.SessionID {
			continue
		}
		result = append(result, *cloneEvent(event))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListEventsByTransaction(_ context.Context, transactionID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Event{}
	for _, event := range s.events {
		if event.TransactionID == transactionID {
			result = append(result, *cloneEvent(event))
		}
	}
	return result, nil
}

func (s *Store) RelinkEventSession(_ context.Context, eventID string, sessionID string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.eventIndexByID[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	s.events[idx].SessionID = sessionID
	return cloneEvent(s.events[idx]), nil
}

func (s *Store) LastEventByDeviceAndCode(_ context.Context, deviceID string, code string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Event
	for i := range s.events {
		event := s.events[i]
		if event.DeviceID != deviceID || event.Code != code {
			continue
		}
		if latest == nil || event.OccurredAt.After(latest.OccurredAt) {
			latest = cloneEvent(event)
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) CreateCashDrawerEntry(_ context.Context, entry domain.CashDrawerEntry) (*domain.CashDrawerEntry, error) {
	if entry.AmountCents <= 0 {
		return nil, &store.ValidationError{Field: "amount_cents", Reason: "must be > 0"}
	}
	if entry.Type != domain.CashEntryWithdrawal && entry.Type != domain.CashEntryDeposit {
		return nil, &store.ValidationError{Field: "type", Reason: "must be withdrawal or deposit"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("drw")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	s.drawerBySession[entry.SessionID] = append(s.drawerBySession[entry.SessionID], entry)
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) ListCashDrawerEntries(_ context.Context, sessionID string) ([]domain.CashDrawerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.drawerBySession[sessionID]
	result := make([]domain.CashDrawerEntry, len(entries))
	copy(result, entries)
	slices.SortFunc(result, func(a, b domain.CashDrawerEntry) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.OccurredAt.Before(b.OccurredAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpsertDeviceSeen(_ context.Context, device domain.PosDevice) (*domain.PosDevice, error) {
	if strings.TrimSpace(device.ID) == "" {
		return nil, &store.ValidationError{Field: "device_id", Reason: "required"}
	}
	if strings.TrimSpace(device.StoreID) == "" {
		return nil, &store.ValidationError{Field: "store_id", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.devicesByID[device.ID]
	if ok {
		if existing.StoreID != device.StoreID {
			return nil, store.ErrStoreMismatch
		}
		if device.LastSeenAt != nil {
			seen := device.LastSeenAt.UTC()
			existing.LastSeenAt = &seen
		}
		if device.Name != "" {
			existing.Name = device.Name
		}
		existing.Status = domain.DeviceStatusActive
		s.devicesByID[device.ID] = existing
		copyDevice := existing
		return &copyDevice, nil
	}

	if device.Identifier == "" {
		device.Identifier = device.ID
	}
	if device.LastSeenAt == nil {
		now := time.Now().UTC()
		device.LastSeenAt = &now
	}
	device.Status = domain.DeviceStatusActive
	s.devicesByID[device.ID] = device
	copyDevice := device
	return &copyDevice, nil
}

func (s *Store) GetDeviceByID(_ context.Context, id string) (*domain.PosDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyDevice := device
	return &copyDevice, nil
}

func (s *Store) ListStaleDevices(_ context.Context, cutoff time.Time) ([]domain.PosDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.PosDevice{}
	for _, device := range s.devicesByID {
		if device.Status != domain.DeviceStatusActive {
			continue
		}
		if device.LastSeenAt == nil || !device.LastSeenAt.Before(cutoff) {
			continue
		}
		result = append(result, device)
	}
	slices.SortFunc(result, func(a, b domain.PosDevice) int {
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) SetDeviceStatus(_ context.Context, id string, status string) (*domain.PosDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	device.Status = status
	s.devicesByID[id] = device
	copyDevice := device
	return &copyDevice, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.Username) == "" {
		return &store.ValidationError{Field: "username", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
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

func cloneSession(src domain.Session) *domain.Session {
	dup := src
	if src.ClosedAt != nil {
		closed := src.ClosedAt.UTC()
		dup.ClosedAt = &closed
	}
	dup.OpeningPayload = clonePayload(src.OpeningPayload)
	dup.ClosingPayload = clonePayload(src.ClosingPayload)
	return &dup
}

func clonePayload(src *domain.SessionPayload) *domain.SessionPayload {
	if src == nil {
		return nil
	}
	dup := *src
	if src.Report != nil {
		report := *src.Report
		dup.Report = &report
	}
	if src.Extra != nil {
		extra := make(map[string]any, len(src.Extra))
		for k, v := range src.Extra {
			extra[k] = v
		}
		dup.Extra = extra
	}
	return &dup
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionLine, len(src.LineItems))
	copy(dupItems, src.LineItems)
	dup.LineItems = dupItems
	if src.PaidAt != nil {
		paid := src.PaidAt.UTC()
		dup.PaidAt = &paid
	}
	return &dup
}

func cloneEvent(src domain.Event) *domain.Event {
	dup := src
	dup.Payload = clonePayloadEvent(src.Payload)
	return &dup
}

func clonePayloadEvent(src *domain.EventPayload) *domain.EventPayload {
	if src == nil {
		return nil
	}
	dup := *src
	if src.Repair != nil {
		repair := *src.Repair
		dup.Repair = &repair
	}
	if src.Report != nil {
		report := *src.Report
		dup.Report = &report
	}
	if src.Extra != nil {
		extra := make(map[string]any, len(src.Extra))
		for k, v := range src.Extra {
			extra[k] = v
		}
		dup.Extra = extra
	}
	return &dup
}
