// Package reconcile repairs session linkage after partial feed deliveries.
// All three procedures are idempotent sweeps: records that are already
// consistent are left untouched, and a dry run reports the exact changes a
// real run would apply.
package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
	"github.com/janiator/filament-pos-stripe-sub001/internal/store"
)

const defaultSweepLimit = 200

const (
	StrategySiblingEvent      = "sibling_event"
	StrategySessionNumber     = "session_number"
	StrategyOpenInterval      = "open_interval"
	StrategyLinkedTransaction = "linked_transaction"
	StrategyTrustTransaction  = "trust_transaction"
	StrategyTrustEvent        = "trust_event"
)

const (
	ProcedureLinkTransactions = "link_transactions"
	ProcedureLinkEvents       = "link_events"
	ProcedureResolveMismatch  = "resolve_mismatches"
)

type Engine struct {
	repo store.Repository
}

func New(repo store.Repository) *Engine {
	return &Engine{repo: repo}
}

// LinkTransactions attaches orphaned transactions to sessions. Resolution
// order: an event already linked to a session that references the
// transaction, then the session number hint the register sent along, then
// the session whose open interval covers the payment instant, scoped to the
// device when a sibling event names one and to the whole store otherwise.
func (e *Engine) LinkTransactions(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileSummary, error) {
	summary := &domain.ReconcileSummary{
		Procedure: ProcedureLinkTransactions,
		DryRun:    req.DryRun,
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultSweepLimit
	}

	transactions, err := e.repo.ListUnlinkedTransactions(ctx, req.StoreID, limit)
	if err != nil {
		return nil, err
	}

	for _, tx := range transactions {
		summary.Examined++

		sessionID, strategy, err := e.resolveTransactionSession(ctx, tx, summary)
		var unresolved *store.UnresolvableLinkError
		if errors.As(err, &unresolved) {
			summary.SkippedNoSession++
			continue
		}
		if err != nil {
			log.Printf("[reconcile] WARN: resolving transaction %s: %v", tx.ID, err)
			summary.Errors++
			continue
		}

		summary.Changes = append(summary.Changes, domain.ProposedChange{
			RecordKind:  "transaction",
			RecordID:    tx.ID,
			ToSessionID: sessionID,
			Strategy:    strategy,
		})
		if req.DryRun {
			summary.Resolved++
			continue
		}
		if err := e.applyTransactionLink(ctx, tx, sessionID, strategy); err != nil {
			log.Printf("[reconcile] WARN: linking transaction %s: %v", tx.ID, err)
			summary.Errors++
			continue
		}
		summary.Resolved++
	}
	return summary, nil
}

func (e *Engine) resolveTransactionSession(ctx context.Context, tx domain.Transaction, summary *domain.ReconcileSummary) (string, string, error) {
	siblings, err := e.repo.ListEventsByTransaction(ctx, tx.ID)
	if err != nil {
		return "", "", err
	}
	for _, sibling := range siblings {
		if sibling.SessionID != "" {
			return sibling.SessionID, StrategySiblingEvent, nil
		}
	}

	if tx.SessionNumberHint != "" {
		session, err := e.repo.GetSessionByNumber(ctx, tx.StoreID, tx.SessionNumberHint)
		if err == nil {
			return session.ID, StrategySessionNumber, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", "", err
		}
	}

	// The feed carries no device, so borrow one from any event referencing
	// this transaction. Without device context the interval match falls
	// back to every session open in the store at the payment instant.
	deviceID := ""
	for _, sibling := range siblings {
		if sibling.DeviceID != "" {
			deviceID = sibling.DeviceID
			break
		}
	}
	at := tx.CreatedAt
	if tx.PaidAt != nil {
		at = *tx.PaidAt
	}
	sessionID, strategy, err := e.matchOpenInterval(ctx, tx.StoreID, deviceID, at, summary)
	if err != nil {
		return "", "", err
	}
	if sessionID == "" {
		return "", "", &store.UnresolvableLinkError{
			RecordKind: "transaction",
			RecordID:   tx.ID,
			Reason:     "no session open in the store at payment time",
		}
	}
	return sessionID, strategy, nil
}

// matchOpenInterval returns the session open on the device at the instant.
// When intervals overlap, the most recently opened session wins and the tie
// is counted so operators can audit the ambiguity.
func (e *Engine) matchOpenInterval(ctx context.Context, storeID, deviceID string, at time.Time, summary *domain.ReconcileSummary) (string, string, error) {
	sessions, err := e.repo.ListSessionsOpenAt(ctx, storeID, deviceID, at)
	if err != nil {
		return "", "", err
	}
	if len(sessions) == 0 {
		return "", "", nil
	}
	if len(sessions) > 1 {
		summary.TiesBroken++
	}
	return sessions[0].ID, StrategyOpenInterval, nil
}

func (e *Engine) applyTransactionLink(ctx context.Context, tx domain.Transaction, sessionID, strategy string) error {
	if _, err := e.repo.LinkTransactionSession(ctx, tx.ID, sessionID); err != nil {
		return err
	}
	if tx.Status == domain.TxStatusSucceeded {
		net := tx.AmountCents - tx.RefundedAmountCents
		if _, err := e.repo.UpdateSessionTotals(ctx, sessionID, 1, net); err != nil {
			return err
		}
	}
	return e.appendRepairEvent(ctx, tx.StoreID, "", tx.ID, domain.RepairDetail{
		Procedure:   ProcedureLinkTransactions,
		Strategy:    strategy,
		ToSessionID: sessionID,
	})
}

// LinkEvents attaches orphaned ledger events to sessions, via the session of
// the transaction they reference, or failing that the open interval on their
// device at the time they occurred.
func (e *Engine) LinkEvents(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileSummary, error) {
	summary := &domain.ReconcileSummary{
		Procedure: ProcedureLinkEvents,
		DryRun:    req.DryRun,
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultSweepLimit
	}

	events, err := e.repo.ListUnlinkedEvents(ctx, req.StoreID, limit)
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		summary.Examined++

		sessionID, strategy, err := e.resolveEventSession(ctx, event, summary)
		var unresolved *store.UnresolvableLinkError
		if errors.As(err, &unresolved) {
			summary.SkippedNoSession++
			continue
		}
		if err != nil {
			log.Printf("[reconcile] WARN: resolving event %s: %v", event.ID, err)
			summary.Errors++
			continue
		}

		summary.Changes = append(summary.Changes, domain.ProposedChange{
			RecordKind:  "event",
			RecordID:    event.ID,
			ToSessionID: sessionID,
			Strategy:    strategy,
		})
		if req.DryRun {
			summary.Resolved++
			continue
		}
		if _, err := e.repo.RelinkEventSession(ctx, event.ID, sessionID); err != nil {
			log.Printf("[reconcile] WARN: relinking event %s: %v", event.ID, err)
			summary.Errors++
			continue
		}
		if err := e.appendRepairEvent(ctx, event.StoreID, event.ID, event.TransactionID, domain.RepairDetail{
			Procedure:   ProcedureLinkEvents,
			Strategy:    strategy,
			ToSessionID: sessionID,
		}); err != nil {
			log.Printf("[reconcile] WARN: recording repair for event %s: %v", event.ID, err)
			summary.Errors++
			continue
		}
		summary.Resolved++
	}
	return summary, nil
}

func (e *Engine) resolveEventSession(ctx context.Context, event domain.Event, summary *domain.ReconcileSummary) (string, string, error) {
	if event.TransactionID != "" {
		tx, err := e.repo.GetTransactionByID(ctx, event.TransactionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", "", err
		}
		if err == nil && tx.SessionID != "" {
			return tx.SessionID, StrategyLinkedTransaction, nil
		}
	}
	if event.DeviceID == "" {
		return "", "", &store.UnresolvableLinkError{
			RecordKind: "event",
			RecordID:   event.ID,
			Reason:     "no linked transaction or device context",
		}
	}
	sessionID, strategy, err := e.matchOpenInterval(ctx, event.StoreID, event.DeviceID, event.OccurredAt, summary)
	if err != nil {
		return "", "", err
	}
	if sessionID == "" {
		return "", "", &store.UnresolvableLinkError{
			RecordKind: "event",
			RecordID:   event.ID,
			Reason:     "no session open on the device at the recorded time",
		}
	}
	return sessionID, strategy, nil
}

// ResolveMismatches repairs events whose session disagrees with the session
// of the transaction they reference. A session number carried in the event
// payload wins outright; otherwise the configured strategy decides which
// side to trust. The default trusts the transaction, since feed ingest is
// the system of record for payment linkage.
func (e *Engine) ResolveMismatches(ctx context.Context, req domain.ReconcileRequest) (*domain.ReconcileSummary, error) {
	summary := &domain.ReconcileSummary{
		Procedure: ProcedureResolveMismatch,
		DryRun:    req.DryRun,
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultSweepLimit
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyTrustTransaction
	}
	if strategy != StrategyTrustTransaction && strategy != StrategyTrustEvent {
		return nil, &store.ValidationError{Field: "strategy", Reason: "must be trust_transaction or trust_event"}
	}

	events, err := e.repo.ListMismatchedEvents(ctx, req.StoreID, limit)
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		summary.Examined++

		tx, err := e.repo.GetTransactionByID(ctx, event.TransactionID)
		if err != nil {
			log.Printf("[reconcile] WARN: loading transaction %s for event %s: %v", event.TransactionID, event.ID, err)
			summary.Errors++
			continue
		}

		changes, err := e.planMismatchRepair(ctx, event, tx, strategy)
		if err != nil {
			log.Printf("[reconcile] WARN: planning repair for event %s: %v", event.ID, err)
			summary.Errors++
			continue
		}
		if len(changes) == 0 {
			summary.SkippedUnlinked++
			continue
		}

		summary.Changes = append(summary.Changes, changes...)
		if req.DryRun {
			summary.Resolved++
			continue
		}
		applied := true
		for _, change := range changes {
			if err := e.applyMismatchRepair(ctx, event, *tx, change); err != nil {
				log.Printf("[reconcile] WARN: applying repair for event %s: %v", event.ID, err)
				summary.Errors++
				applied = false
				break
			}
		}
		if applied {
			summary.Resolved++
		}
	}
	return summary, nil
}

func (e *Engine) planMismatchRepair(ctx context.Context, event domain.Event, tx *domain.Transaction, strategy string) ([]domain.ProposedChange, error) {
	if event.Payload != nil && event.Payload.SessionNumber != "" {
		session, err := e.repo.GetSessionByNumber(ctx, event.StoreID, event.Payload.SessionNumber)
		if err == nil {
			// The hint wins outright, so every side that disagrees with
			// it is repaired in the same pass.
			var changes []domain.ProposedChange
			if tx.SessionID != session.ID {
				changes = append(changes, domain.ProposedChange{
					RecordKind:    "transaction",
					RecordID:      tx.ID,
					FromSessionID: tx.SessionID,
					ToSessionID:   session.ID,
					Strategy:      StrategySessionNumber,
				})
			}
			if event.SessionID != session.ID {
				changes = append(changes, domain.ProposedChange{
					RecordKind:    "event",
					RecordID:      event.ID,
					FromSessionID: event.SessionID,
					ToSessionID:   session.ID,
					Strategy:      StrategySessionNumber,
				})
			}
			return changes, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if strategy == StrategyTrustTransaction {
		if tx.SessionID == "" {
			// Nothing trustworthy to copy; the link_transactions
			// procedure has to place the transaction first.
			return nil, nil
		}
		return []domain.ProposedChange{{
			RecordKind:    "event",
			RecordID:      event.ID,
			FromSessionID: event.SessionID,
			ToSessionID:   tx.SessionID,
			Strategy:      StrategyTrustTransaction,
		}}, nil
	}

	if event.SessionID == "" {
		return nil, nil
	}
	return []domain.ProposedChange{{
		RecordKind:    "transaction",
		RecordID:      tx.ID,
		FromSessionID: tx.SessionID,
		ToSessionID:   event.SessionID,
		Strategy:      StrategyTrustEvent,
	}}, nil
}

func (e *Engine) applyMismatchRepair(ctx context.Context, event domain.Event, tx domain.Transaction, change domain.ProposedChange) error {
	switch change.RecordKind {
	case "event":
		if _, err := e.repo.RelinkEventSession(ctx, change.RecordID, change.ToSessionID); err != nil {
			return err
		}
	case "transaction":
		if _, err := e.repo.LinkTransactionSession(ctx, change.RecordID, change.ToSessionID); err != nil {
			return err
		}
		if tx.Status == domain.TxStatusSucceeded {
			net := tx.AmountCents - tx.RefundedAmountCents
			if change.FromSessionID != "" {
				if _, err := e.repo.UpdateSessionTotals(ctx, change.FromSessionID, -1, -net); err != nil {
					return err
				}
			}
			if _, err := e.repo.UpdateSessionTotals(ctx, change.ToSessionID, 1, net); err != nil {
				return err
			}
		}
	}
	return e.appendRepairEvent(ctx, event.StoreID, event.ID, tx.ID, domain.RepairDetail{
		Procedure:     ProcedureResolveMismatch,
		Strategy:      change.Strategy,
		FromSessionID: change.FromSessionID,
		ToSessionID:   change.ToSessionID,
	})
}

// appendRepairEvent writes the audit trail entry for an applied repair. The
// repair event itself is linked to the corrected session.
func (e *Engine) appendRepairEvent(ctx context.Context, storeID, repairedEventID, transactionID string, detail domain.RepairDetail) error {
	payload := &domain.EventPayload{Repair: &detail}
	if repairedEventID != "" {
		payload.Extra = map[string]any{"repaired_event_id": repairedEventID}
	}
	_, err := e.repo.AppendEvent(ctx, domain.Event{
		StoreID:       storeID,
		SessionID:     detail.ToSessionID,
		TransactionID: transactionID,
		Code:          domain.SaftCodeReconcileRepair,
		Type:          domain.EventTypeApplication,
		Description:   "reconciliation repair",
		Payload:       payload,
	})
	return err
}
