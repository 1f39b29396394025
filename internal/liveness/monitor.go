// Package liveness watches device heartbeats and records inferred shutdown
// events for registers that have gone quiet.
package liveness

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/janiator/filament-pos-stripe-sub001/internal/domain"
	"github.com/janiator/filament-pos-stripe-sub001/internal/store"
)

// Monitor sweeps for devices whose last heartbeat is older than the
// staleness threshold. A detected shutdown is written to the event ledger
// once; repeated sweeps within the dedup window stay silent.
type Monitor struct {
	repo          store.Repository
	staleAfter    time.Duration
	sweepInterval time.Duration
	shutdownDedup time.Duration
	ticker        *time.Ticker
	stop          chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	started       bool
}

func New(repo store.Repository, staleAfter, sweepInterval, shutdownDedup time.Duration) *Monitor {
	return &Monitor{
		repo:          repo,
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
		shutdownDedup: shutdownDedup,
		stop:          make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true
	m.ticker = time.NewTicker(m.sweepInterval)
	m.wg.Add(1)
	go m.run()
	log.Printf("[liveness] started, sweep every %v, stale after %v", m.sweepInterval, m.staleAfter)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
	m.ticker.Stop()
	m.wg.Wait()
	log.Println("[liveness] stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case <-m.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := m.Sweep(ctx, time.Now().UTC()); err != nil {
				log.Printf("[liveness] WARN: sweep failed: %v", err)
			}
			cancel()
		}
	}
}

// SweepResult reports one sweep pass.
type SweepResult struct {
	Checked  int
	Detected int
	Deduped  int
	Errors   int
}

// Sweep marks stale devices offline and records a shutdown event for each,
// unless one was already recorded inside the dedup window.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	result := &SweepResult{}
	cutoff := now.Add(-m.staleAfter)

	devices, err := m.repo.ListStaleDevices(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	for _, device := range devices {
		result.Checked++
		if err := m.recordShutdown(ctx, device, now, result); err != nil {
			log.Printf("[liveness] WARN: device %s: %v", device.ID, err)
			result.Errors++
		}
	}
	return result, nil
}

func (m *Monitor) recordShutdown(ctx context.Context, device domain.PosDevice, now time.Time, result *SweepResult) error {
	last, err := m.repo.LastEventByDeviceAndCode(ctx, device.ID, domain.SaftCodeDeviceShutdown)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil && now.Sub(last.OccurredAt) < m.shutdownDedup {
		result.Deduped++
		return nil
	}

	var inactivity int64
	if device.LastSeenAt != nil {
		inactivity = int64(now.Sub(*device.LastSeenAt) / time.Second)
	}
	sessionWasOpen := false
	sessionID := ""
	open, err := m.repo.GetOpenSession(ctx, device.StoreID, device.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil {
		sessionWasOpen = true
		sessionID = open.ID
	}

	autoDetected := true
	if _, err := m.repo.AppendEvent(ctx, domain.Event{
		StoreID:     device.StoreID,
		DeviceID:    device.ID,
		SessionID:   sessionID,
		Code:        domain.SaftCodeDeviceShutdown,
		Type:        domain.EventTypeApplication,
		Description: "device shutdown inferred from missed heartbeats",
		OccurredAt:  now,
		Payload: &domain.EventPayload{
			InactivitySeconds: &inactivity,
			SessionWasOpen:    &sessionWasOpen,
			AutoDetected:      &autoDetected,
		},
	}); err != nil {
		return err
	}
	if _, err := m.repo.SetDeviceStatus(ctx, device.ID, domain.DeviceStatusOffline); err != nil {
		return err
	}
	result.Detected++
	return nil
}
