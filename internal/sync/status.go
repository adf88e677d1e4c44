package sync

import (
	"context"
	"fmt"
	"time"
)

// DatabaseStatus is a read-only diagnostics snapshot of the sync layer and
// the local database's health accounting.
type DatabaseStatus struct {
	Corrupted           bool
	ConsecutiveFailures int
	MaxFailures         int
	Syncing             bool
	LastSync            time.Time
	Cooldown            time.Duration
}

// Status returns the current diagnostics snapshot.
func (s *Syncer) Status() DatabaseStatus {
	s.mu.Lock()
	syncing := s.inFlight
	lastSync := s.lastSync
	s.mu.Unlock()

	return DatabaseStatus{
		Corrupted:           s.exec.Corrupted(),
		ConsecutiveFailures: s.exec.ConsecutiveFailures(),
		MaxFailures:         s.exec.MaxFailures(),
		Syncing:             syncing,
		LastSync:            lastSync,
		Cooldown:            s.cooldown,
	}
}

// ForceResetDatabase is the manual recovery override: it resets the failure
// accounting, drops and recreates the local schema, and on success
// immediately repopulates it with a forced sync. On failure the corrupted
// flag stays raised.
func (s *Syncer) ForceResetDatabase(ctx context.Context) error {
	s.log.Warn("manual database reset requested")
	if err := s.exec.ForceReset(ctx); err != nil {
		return fmt.Errorf("resetting database: %w", err)
	}
	if _, err := s.ForceSyncFromServer(ctx); err != nil {
		return fmt.Errorf("resync after reset: %w", err)
	}
	return nil
}
