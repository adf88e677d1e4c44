package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// defaultMaxRetries is the number of extra attempts for transient errors.
	defaultMaxRetries = 3

	// defaultRetryDelay is multiplied by the attempt number between tries
	// (linear backoff: 500ms, 1s, 1.5s).
	defaultRetryDelay = 500 * time.Millisecond

	// defaultMaxFailures is the number of consecutive exhausted operations
	// after which the database is declared corrupted.
	defaultMaxFailures = 2
)

// ErrUnavailable is returned by [Executor.Do] when an operation could not be
// performed after all retries. Callers must treat it as "operation not
// performed", not as a partial write.
var ErrUnavailable = errors.New("local store unavailable")

// ErrCorrupted is returned while the database is flagged corrupted and before
// any recovery has succeeded.
var ErrCorrupted = errors.New("local store corrupted")

// transientSignatures are error-text fragments that identify failures worth
// retrying: statement preparation errors, lock contention, I/O hiccups, and
// nil-handle panics recovered by the driver bridge.
var transientSignatures = []string{
	"prepare",
	"database is locked",
	"table is locked",
	"disk i/o error",
	"no such table",
	"invalid memory address",
	"bad connection",
}

// Executor funnels every local-store mutation through one retry and
// failure-accounting point. After too many consecutive exhausted operations
// it declares the store corrupted, performs one automatic drop-and-recreate
// recovery, and replays the failed operation once.
type Executor struct {
	store       *Store
	log         *slog.Logger
	maxRetries  int
	retryDelay  time.Duration
	maxFailures int

	mu        sync.Mutex
	failures  int
	corrupted bool
}

// NewExecutor wraps the given store with the default retry policy.
func NewExecutor(s *Store, logger *slog.Logger) *Executor {
	return &Executor{
		store:       s,
		log:         logger,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		maxFailures: defaultMaxFailures,
	}
}

// Store returns the wrapped store, for read paths that bypass the executor.
func (e *Executor) Store() *Store {
	return e.store
}

// Do runs op with the executor's retry policy. A nil return means the
// operation succeeded; any non-nil return means it was NOT performed.
// Transient failures are retried up to maxRetries with a linear
// attempt×delay backoff (context-aware sleep, no busy wait). Exhaustion
// increments the consecutive-failure counter; at the corruption threshold
// the executor resets the database once and replays op a single time.
func (e *Executor) Do(ctx context.Context, op func() error) error {
	e.mu.Lock()
	if e.corrupted {
		e.mu.Unlock()
		return ErrCorrupted
	}
	e.mu.Unlock()

	lastErr := e.attempt(ctx, op)
	if lastErr == nil {
		e.mu.Lock()
		e.failures = 0
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	e.failures++
	reached := e.failures >= e.maxFailures
	if reached {
		e.corrupted = true
	}
	failures := e.failures
	e.mu.Unlock()

	e.log.Warn("store operation failed", "error", lastErr, "consecutive_failures", failures)

	if !reached {
		return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}

	// Corruption threshold reached: one automatic recovery, then one replay.
	e.log.Error("database declared corrupted, attempting automatic recovery",
		"consecutive_failures", failures)

	if err := e.store.Reset(ctx); err != nil {
		e.log.Error("automatic recovery failed", "error", err)
		return fmt.Errorf("%w: recovery failed: %v", ErrCorrupted, err)
	}

	e.mu.Lock()
	e.corrupted = false
	e.failures = 0
	e.mu.Unlock()
	e.log.Info("automatic recovery succeeded, replaying operation")

	if err := op(); err != nil {
		e.mu.Lock()
		e.failures++
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// attempt runs op with transient-error retries and returns the final error.
func (e *Executor) attempt(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || attempt > e.maxRetries {
			return lastErr
		}

		delay := time.Duration(attempt) * e.retryDelay
		e.log.Debug("transient store error, retrying",
			"attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled during backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// ForceReset is the manual recovery override: it zeroes the failure counter,
// clears the corruption flag, and resets the database. On failure the
// corruption flag is raised again.
func (e *Executor) ForceReset(ctx context.Context) error {
	e.mu.Lock()
	e.failures = 0
	e.corrupted = false
	e.mu.Unlock()

	if err := e.store.Reset(ctx); err != nil {
		e.mu.Lock()
		e.corrupted = true
		e.mu.Unlock()
		return fmt.Errorf("forced reset: %w", err)
	}
	e.log.Info("database reset completed")
	return nil
}

// ClearCorruption zeroes the failure accounting without touching the
// database. Used by the forced-sync administrative override.
func (e *Executor) ClearCorruption() {
	e.mu.Lock()
	e.failures = 0
	e.corrupted = false
	e.mu.Unlock()
}

// Corrupted reports whether the store is currently flagged corrupted.
func (e *Executor) Corrupted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.corrupted
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (e *Executor) ConsecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// MaxFailures returns the corruption threshold.
func (e *Executor) MaxFailures() int {
	return e.maxFailures
}

// isTransient reports whether the error text matches a known retryable
// signature.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
