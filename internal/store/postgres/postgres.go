package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
	"github.com/janiator/filament-pos-stripe-sub001/internal/store"
	"github.com/janiator/filament-pos-stripe-sub001/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const sessionColumns = `
	id, store_id, COALESCE(device_id,''), COALESCE(operator_id,''), number, status,
	COALESCE(closed_reason,''), opened_at, closed_at, opening_balance_cents,
	transaction_count, total_amount_cents, expected_cash_cents, actual_cash_cents,
	cash_difference_cents, COALESCE(opening_notes,''), COALESCE(closing_notes,''),
	opening_payload, closing_payload`

// CreateSession enforces one open session per device across every store. The
// guard runs first: any open session for the device, regardless of store,
// yields a ConflictError carrying that session's id. Races are closed by the
// partial unique index pos_sessions_one_open (device_id) WHERE status =
// 'open', whose violation is translated into the same ConflictError.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	if session.StoreID == "" {
		return nil, &store.ValidationError{Field: "store_id", Reason: "required"}
	}
	if session.DeviceID == "" {
		return nil, &store.ValidationError{Field: "device_id", Reason: "required"}
	}
	if session.OpeningBalanceCents < 0 {
		return nil, &store.ValidationError{Field: "opening_balance_cents", Reason: "must be >= 0"}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var openID, openNumber, openStore string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, number, store_id
		FROM pos_sessions
		WHERE device_id = $1 AND status = 'open'
		FOR UPDATE
	`, session.DeviceID).Scan(&openID, &openNumber, &openStore)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		return nil, &store.ConflictError{
			DeviceID:          session.DeviceID,
			OpenSessionID:     openID,
			OpenSessionNumber: openNumber,
			OpenStoreID:       openStore,
		}
	}

	var deviceStore string
	err = pgTx.QueryRowContext(ctx, `
		SELECT store_id FROM pos_devices WHERE id = $1
	`, session.DeviceID).Scan(&deviceStore)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil && deviceStore != session.StoreID {
		return nil, &store.ConflictError{DeviceID: session.DeviceID, OpenStoreID: deviceStore}
	}

	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	if session.Number == "" {
		var counter int64
		err = pgTx.QueryRowContext(ctx, `
			INSERT INTO session_counters (store_id, value)
			VALUES ($1, 1)
			ON CONFLICT (store_id) DO UPDATE SET value = session_counters.value + 1
			RETURNING value
		`, session.StoreID).Scan(&counter)
		if err != nil {
			return nil, err
		}
		session.Number = fmt.Sprintf("%04d", counter)
	}

	openingPayload, err := marshalPayload(session.OpeningPayload)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO pos_sessions (
			id, store_id, device_id, operator_id, number, status, opened_at,
			opening_balance_cents, transaction_count, total_amount_cents,
			opening_notes, opening_payload, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,'open',$6,$7,0,0,$8,$9,now(),now())
	`, session.ID, session.StoreID, session.DeviceID, nullIfEmpty(session.OperatorID),
		session.Number, session.OpenedAt, session.OpeningBalanceCents,
		nullIfEmpty(session.OpeningNotes), openingPayload)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, s.openSessionConflict(ctx, session.DeviceID)
		}
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, s.openSessionConflict(ctx, session.DeviceID)
		}
		return nil, err
	}

	session.Status = domain.SessionStatusOpen
	created := session
	return &created, nil
}

func (s *Store) openSessionConflict(ctx context.Context, deviceID string) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE device_id = $1 AND status = 'open'
	`, deviceID)
	open, err := scanSession(row)
	if err != nil {
		return &store.ConflictError{DeviceID: deviceID}
	}
	return &store.ConflictError{
		DeviceID:          deviceID,
		OpenSessionID:     open.ID,
		OpenSessionNumber: open.Number,
		OpenStoreID:       open.StoreID,
	}
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	return s.getSessionWhere(ctx, "id = $1", id)
}

func (s *Store) GetOpenSession(ctx context.Context, storeID string, deviceID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE store_id = $1 AND device_id = $2 AND status = 'open'
	`, storeID, deviceID)
	return scanSession(row)
}

func (s *Store) GetSessionByNumber(ctx context.Context, storeID string, number string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE store_id = $1 AND number = $2
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, number)
	return scanSession(row)
}

func (s *Store) getSessionWhere(ctx context.Context, where string, args ...any) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE `+where, args...)
	return scanSession(row)
}

// ListSessionsOpenAt returns the sessions whose open interval covers the
// instant, close bound inclusive, most recently opened first. An empty
// deviceID widens the match to the whole store.
func (s *Store) ListSessionsOpenAt(ctx context.Context, storeID string, deviceID string, at time.Time) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE store_id = $1
			AND ($2 = '' OR device_id = $2)
			AND opened_at <= $3
			AND (closed_at IS NULL OR closed_at >= $3)
		ORDER BY opened_at DESC, id DESC
	`, storeID, deviceID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) ListSessionsNeedingBackfill(ctx context.Context, storeID string, limit int) ([]domain.Session, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE status = 'closed'
			AND (closing_payload IS NULL
				OR closing_payload->'report' IS NULL
				OR closing_payload->'report'->'products_sold' = 'null'::jsonb
				OR closing_payload->'report'->'sales_by_vendor' = 'null'::jsonb)
			AND ($1 = '' OR store_id = $1)
		ORDER BY closed_at ASC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) CloseSession(ctx context.Context, id string, closed domain.Session) (*domain.Session, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM pos_sessions WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SessionStatusOpen {
		return nil, &store.InvalidStateError{SessionID: id, Status: status, Operation: "close"}
	}

	closedAt := time.Now().UTC()
	if closed.ClosedAt != nil {
		closedAt = closed.ClosedAt.UTC()
	}
	closingPayload, err := marshalPayload(closed.ClosingPayload)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE pos_sessions
		SET status = 'closed', closed_at = $2, closed_reason = $3,
			expected_cash_cents = $4, actual_cash_cents = $5, cash_difference_cents = $6,
			closing_notes = $7, closing_payload = $8, updated_at = now()
		WHERE id = $1
	`, id, closedAt, nullIfEmpty(closed.ClosedReason), closed.ExpectedCashCents,
		closed.ActualCashCents, closed.CashDifferenceCents,
		nullIfEmpty(closed.ClosingNotes), closingPayload)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSessionByID(ctx, id)
}

func (s *Store) UpdateSessionTotals(ctx context.Context, id string, txDelta int64, amountDeltaCents int64) (*domain.Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pos_sessions
		SET transaction_count = transaction_count + $2,
			total_amount_cents = total_amount_cents + $3,
			updated_at = now()
		WHERE id = $1
	`, id, txDelta, amountDeltaCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetSessionByID(ctx, id)
}

func (s *Store) SetSessionClosingReport(ctx context.Context, id string, payload domain.SessionPayload) (*domain.Session, error) {
	raw, err := marshalPayload(&payload)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pos_sessions SET closing_payload = $2, updated_at = now() WHERE id = $1
	`, id, raw)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetSessionByID(ctx, id)
}

func (s *Store) NextSessionNumber(ctx context.Context, storeID string) (string, error) {
	var counter int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO session_counters (store_id, value)
		VALUES ($1, 1)
		ON CONFLICT (store_id) DO UPDATE SET value = session_counters.value + 1
		RETURNING value
	`, storeID).Scan(&counter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", counter), nil
}

const transactionColumns = `
	id, COALESCE(external_payment_id,''), store_id, COALESCE(session_id,''),
	amount_cents, currency, status, payment_method, paid, paid_at, refunded,
	refunded_amount_cents, tip_amount_cents, transaction_code, payment_code,
	product_group_code, line_items, COALESCE(session_number_hint,''),
	created_at, updated_at`

// CreateTransaction is the at-least-once ingest write. A unique violation on
// external_payment_id means the feed re-delivered an already stored payment;
// the existing row is returned with duplicate set.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, bool, error) {
	if tx.StoreID == "" {
		return nil, false, &store.ValidationError{Field: "store_id", Reason: "required"}
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	lineItems, err := json.Marshal(tx.LineItems)
	if err != nil {
		return nil, false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, external_payment_id, store_id, session_id, amount_cents, currency,
			status, payment_method, paid, paid_at, refunded, refunded_amount_cents,
			tip_amount_cents, transaction_code, payment_code, product_group_code,
			line_items, session_number_hint, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now())
	`, tx.ID, nullIfEmpty(tx.ExternalPaymentID), tx.StoreID, nullIfEmpty(tx.SessionID),
		tx.AmountCents, tx.Currency, tx.Status, tx.PaymentMethod, tx.Paid, nullTime(tx.PaidAt),
		tx.Refunded, tx.RefundedAmountCents, tx.TipAmountCents, tx.TransactionCode,
		tx.PaymentCode, tx.ProductGroupCode, lineItems, nullIfEmpty(tx.SessionNumberHint),
		tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && tx.ExternalPaymentID != "" {
			existing, findErr := s.FindTransactionByExternalID(ctx, tx.ExternalPaymentID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	created := tx
	return &created, false, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	lineItems, err := json.Marshal(tx.LineItems)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET session_id = $2, amount_cents = $3, currency = $4, status = $5,
			payment_method = $6, paid = $7, paid_at = $8, refunded = $9,
			refunded_amount_cents = $10, tip_amount_cents = $11, transaction_code = $12,
			payment_code = $13, product_group_code = $14, line_items = $15,
			session_number_hint = $16, updated_at = now()
		WHERE id = $1
	`, tx.ID, nullIfEmpty(tx.SessionID), tx.AmountCents, tx.Currency, tx.Status,
		tx.PaymentMethod, tx.Paid, nullTime(tx.PaidAt), tx.Refunded,
		tx.RefundedAmountCents, tx.TipAmountCents, tx.TransactionCode, tx.PaymentCode,
		tx.ProductGroupCode, lineItems, nullIfEmpty(tx.SessionNumberHint))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTransactionByID(ctx, tx.ID)
}

func (s *Store) GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (s *Store) FindTransactionByExternalID(ctx context.Context, externalPaymentID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE external_payment_id = $1
	`, externalPaymentID)
	return scanTransaction(row)
}

func (s *Store) ListTransactionsBySession(ctx context.Context, sessionID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) ListUnlinkedTransactions(ctx context.Context, storeID string, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE session_id IS NULL
			AND ($1 = '' OR store_id = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) LinkTransactionSession(ctx context.Context, transactionID string, sessionID string) (*domain.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET session_id = $2, updated_at = now() WHERE id = $1
	`, transactionID, nullIfEmpty(sessionID))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTransactionByID(ctx, transactionID)
}

const eventColumns = `
	id, store_id, COALESCE(device_id,''), COALESCE(session_id,''), COALESCE(user_id,''),
	COALESCE(transaction_id,''), event_code, event_type, description, payload,
	occurred_at, created_at`

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (*domain.Event, error) {
	if event.StoreID == "" {
		return nil, &store.ValidationError{Field: "store_id", Reason: "required"}
	}
	if event.Code == "" {
		return nil, &store.ValidationError{Field: "event_code", Reason: "required"}
	}
	if event.ID == "" {
		event.ID = xid.New("evt")
	}
	now := time.Now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	event.CreatedAt = now

	payload, err := marshalEventPayload(event.Payload)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, store_id, device_id, session_id, user_id, transaction_id,
			event_code, event_type, description, payload, occurred_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, event.ID, event.StoreID, nullIfEmpty(event.DeviceID), nullIfEmpty(event.SessionID),
		nullIfEmpty(event.UserID), nullIfEmpty(event.TransactionID), event.Code,
		event.Type, event.Description, payload, event.OccurredAt, event.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := event
	return &created, nil
}

func (s *Store) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE id = $1
	`, id)
	return scanEvent(row)
}

func (s *Store) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR session_id = $2)
			AND ($3 = '' OR event_code = $3)
			AND ($4 = '' OR event_type = $4)
			AND ($5::timestamptz IS NULL OR occurred_at >= $5)
			AND ($6::timestamptz IS NULL OR occurred_at <= $6)
		ORDER BY occurred_at ASC, id ASC
		LIMIT $7 OFFSET $8
	`, filter.StoreID, filter.SessionID, filter.Code, filter.Type,
		nullZeroTime(filter.From), nullZeroTime(filter.To), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListUnlinkedEvents(ctx context.Context, storeID string, limit int) ([]domain.Event, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE session_id IS NULL
			AND ($1 = '' OR store_id = $1)
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListMismatchedEvents(ctx context.Context, storeID string, limit int) ([]domain.Event, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.store_id, COALESCE(e.device_id,''), COALESCE(e.session_id,''),
			COALESCE(e.user_id,''), COALESCE(e.transaction_id,''), e.event_code,
			e.event_type, e.description, e.payload, e.occurred_at, e.created_at
		FROM events e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.transaction_id IS NOT NULL
			AND t.session_id IS DISTINCT FROM e.session_id
			AND ($1 = '' OR e.store_id = $1)
		ORDER BY e.occurred_at ASC, e.id ASC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListEventsByTransaction(ctx context.Context, transactionID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE transaction_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) RelinkEventSession(ctx context.Context, eventID string, sessionID string) (*domain.Event, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET session_id = $2 WHERE id = $1
	`, eventID, nullIfEmpty(sessionID))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetEventByID(ctx, eventID)
}

func (s *Store) LastEventByDeviceAndCode(ctx context.Context, deviceID string, code string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE device_id = $1 AND event_code = $2
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1
	`, deviceID, code)
	return scanEvent(row)
}

func (s *Store) CreateCashDrawerEntry(ctx context.Context, entry domain.CashDrawerEntry) (*domain.CashDrawerEntry, error) {
	if entry.AmountCents <= 0 {
		return nil, &store.ValidationError{Field: "amount_cents", Reason: "must be > 0"}
	}
	if entry.Type != domain.CashEntryWithdrawal && entry.Type != domain.CashEntryDeposit {
		return nil, &store.ValidationError{Field: "type", Reason: "must be withdrawal or deposit"}
	}
	if entry.ID == "" {
		entry.ID = xid.New("drw")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_drawer_entries (id, session_id, entry_type, amount_cents, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.SessionID, entry.Type, entry.AmountCents, nullIfEmpty(entry.Reason), entry.OccurredAt)
	if err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) ListCashDrawerEntries(ctx context.Context, sessionID string) ([]domain.CashDrawerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, entry_type, amount_cents, COALESCE(reason,''), occurred_at
		FROM cash_drawer_entries
		WHERE session_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CashDrawerEntry, 0, 8)
	for rows.Next() {
		var entry domain.CashDrawerEntry
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Type, &entry.AmountCents, &entry.Reason, &entry.OccurredAt); err != nil {
			return nil, err
		}
		entry.OccurredAt = entry.OccurredAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) UpsertDeviceSeen(ctx context.Context, device domain.PosDevice) (*domain.PosDevice, error) {
	if device.ID == "" {
		return nil, &store.ValidationError{Field: "device_id", Reason: "required"}
	}
	if device.StoreID == "" {
		return nil, &store.ValidationError{Field: "store_id", Reason: "required"}
	}
	if device.Identifier == "" {
		device.Identifier = device.ID
	}
	seenAt := time.Now().UTC()
	if device.LastSeenAt != nil {
		seenAt = device.LastSeenAt.UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var existingStore string
	err = pgTx.QueryRowContext(ctx, `
		SELECT store_id FROM pos_devices WHERE id = $1 FOR UPDATE
	`, device.ID).Scan(&existingStore)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO pos_devices (id, store_id, identifier, name, status, last_seen_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,'active',$5,now(),now())
		`, device.ID, device.StoreID, device.Identifier, nullIfEmpty(device.Name), seenAt)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case existingStore != device.StoreID:
		return nil, store.ErrStoreMismatch
	default:
		_, err = pgTx.ExecContext(ctx, `
			UPDATE pos_devices
			SET last_seen_at = $2, status = 'active',
				name = COALESCE(NULLIF($3, ''), name),
				updated_at = now()
			WHERE id = $1
		`, device.ID, seenAt, device.Name)
		if err != nil {
			return nil, err
		}
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetDeviceByID(ctx, device.ID)
}

func (s *Store) GetDeviceByID(ctx context.Context, id string) (*domain.PosDevice, error) {
	var device domain.PosDevice
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, identifier, COALESCE(name,''), status, last_seen_at
		FROM pos_devices
		WHERE id = $1
	`, id).Scan(&device.ID, &device.StoreID, &device.Identifier, &device.Name, &device.Status, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if lastSeen.Valid {
		seen := lastSeen.Time.UTC()
		device.LastSeenAt = &seen
	}
	return &device, nil
}

func (s *Store) ListStaleDevices(ctx context.Context, cutoff time.Time) ([]domain.PosDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, identifier, COALESCE(name,''), status, last_seen_at
		FROM pos_devices
		WHERE status = 'active' AND last_seen_at IS NOT NULL AND last_seen_at < $1
		ORDER BY id ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]domain.PosDevice, 0, 8)
	for rows.Next() {
		var device domain.PosDevice
		var lastSeen sql.NullTime
		if err := rows.Scan(&device.ID, &device.StoreID, &device.Identifier, &device.Name, &device.Status, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			seen := lastSeen.Time.UTC()
			device.LastSeenAt = &seen
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

func (s *Store) SetDeviceStatus(ctx context.Context, id string, status string) (*domain.PosDevice, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pos_devices SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetDeviceByID(ctx, id)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return &store.ValidationError{Field: "username", Reason: "required"}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.ValidationError{Field: "username", Reason: "already exists"}
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var closedAt sql.NullTime
	var openingPayload, closingPayload []byte
	err := row.Scan(
		&session.ID,
		&session.StoreID,
		&session.DeviceID,
		&session.OperatorID,
		&session.Number,
		&session.Status,
		&session.ClosedReason,
		&session.OpenedAt,
		&closedAt,
		&session.OpeningBalanceCents,
		&session.TransactionCount,
		&session.TotalAmountCents,
		&session.ExpectedCashCents,
		&session.ActualCashCents,
		&session.CashDifferenceCents,
		&session.OpeningNotes,
		&session.ClosingNotes,
		&openingPayload,
		&closingPayload,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		closed := closedAt.Time.UTC()
		session.ClosedAt = &closed
	}
	if len(openingPayload) > 0 {
		var payload domain.SessionPayload
		if err := json.Unmarshal(openingPayload, &payload); err != nil {
			return nil, err
		}
		session.OpeningPayload = &payload
	}
	if len(closingPayload) > 0 {
		var payload domain.SessionPayload
		if err := json.Unmarshal(closingPayload, &payload); err != nil {
			return nil, err
		}
		session.ClosingPayload = &payload
	}
	return &session, nil
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	sessions := make([]domain.Session, 0, 8)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var paidAt sql.NullTime
	var lineItems []byte
	err := row.Scan(
		&tx.ID,
		&tx.ExternalPaymentID,
		&tx.StoreID,
		&tx.SessionID,
		&tx.AmountCents,
		&tx.Currency,
		&tx.Status,
		&tx.PaymentMethod,
		&tx.Paid,
		&paidAt,
		&tx.Refunded,
		&tx.RefundedAmountCents,
		&tx.TipAmountCents,
		&tx.TransactionCode,
		&tx.PaymentCode,
		&tx.ProductGroupCode,
		&lineItems,
		&tx.SessionNumberHint,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if paidAt.Valid {
		paid := paidAt.Time.UTC()
		tx.PaidAt = &paid
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &tx.LineItems); err != nil {
			return nil, err
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	transactions := make([]domain.Transaction, 0, 16)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var event domain.Event
	var payload []byte
	err := row.Scan(
		&event.ID,
		&event.StoreID,
		&event.DeviceID,
		&event.SessionID,
		&event.UserID,
		&event.TransactionID,
		&event.Code,
		&event.Type,
		&event.Description,
		&payload,
		&event.OccurredAt,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		var p domain.EventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		event.Payload = &p
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.CreatedAt = event.CreatedAt.UTC()
	return &event, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	events := make([]domain.Event, 0, 16)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func marshalPayload(payload *domain.SessionPayload) (any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func marshalEventPayload(payload *domain.EventPayload) (any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
