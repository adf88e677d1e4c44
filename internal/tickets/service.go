// Package tickets is the offline wallet facade: it serves ticket reads from
// the local store, records offline mutations, and delegates reconciliation to
// the sync layer.
package tickets

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/lfmachado/ticketvault/internal/model"
	"github.com/lfmachado/ticketvault/internal/sync"
)

// Wallet is the subset of the local store the facade reads and mutates.
type Wallet interface {
	GetAllEvents(ctx context.Context) ([]*model.Event, error)
	GetAllTickets(ctx context.Context) ([]*model.Ticket, error)
	GetTicketsByEvent(ctx context.Context, eventID string) ([]*model.Ticket, error)
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	MarkTicketUsed(ctx context.Context, id string, used bool) error
	Enqueue(ctx context.Context, opType string, payload []byte) error
	HasTickets(ctx context.Context) (bool, error)
	GetSyncStatus(ctx context.Context) (lastSync int64, lastError string, err error)
	ClearAll(ctx context.Context) error
}

// Synchronizer is the slice of the sync layer the facade drives.
type Synchronizer interface {
	SyncAll(ctx context.Context, push sync.PushFunc) (sync.Stats, error)
	SyncToServer(ctx context.Context, push sync.PushFunc) (int, error)
	Status() sync.DatabaseStatus
}

// EventTickets pairs an event with its tickets for grouped display.
type EventTickets struct {
	Event   *model.Event
	Tickets []*model.Ticket
}

// Service is the application-facing ticket wallet. Reads always come from
// the local store so they keep working offline; mutations are applied
// locally first and queued for the next push.
type Service struct {
	store  Wallet
	syncer Synchronizer
	push   sync.PushFunc
	log    *slog.Logger

	mu        stdsync.Mutex
	connected bool
}

// NewService creates the wallet facade. push is invoked for each queued
// mutation during a flush.
func NewService(store Wallet, syncer Synchronizer, push sync.PushFunc, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		syncer:    syncer,
		push:      push,
		log:       logger,
		connected: true,
	}
}

// SetConnected records the connectivity state reported by the engine's probe.
func (s *Service) SetConnected(online bool) {
	s.mu.Lock()
	s.connected = online
	s.mu.Unlock()
}

// Connected reports the last known connectivity state.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Sync runs a full pull-then-push pass. On failure the cached rows keep
// serving; the caller gets a single wrapped error.
func (s *Service) Sync(ctx context.Context) (sync.Stats, error) {
	stats, err := s.syncer.SyncAll(ctx, s.push)
	if err != nil {
		return stats, fmt.Errorf("syncing tickets: %w", err)
	}
	return stats, nil
}

// FlushPending pushes the deferred-mutation queue without pulling first.
func (s *Service) FlushPending(ctx context.Context) (int, error) {
	return s.syncer.SyncToServer(ctx, s.push)
}

// LocalTickets returns every locally cached ticket.
func (s *Service) LocalTickets(ctx context.Context) ([]*model.Ticket, error) {
	return s.store.GetAllTickets(ctx)
}

// TicketsByEvent returns the cached tickets for one event.
func (s *Service) TicketsByEvent(ctx context.Context, eventID string) ([]*model.Ticket, error) {
	return s.store.GetTicketsByEvent(ctx, eventID)
}

// Ticket returns one cached ticket, or nil when it is unknown.
func (s *Service) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	return s.store.GetTicket(ctx, id)
}

// Grouped returns every cached event with its tickets, newest event first.
// Events whose tickets were all deleted remotely still appear, with an empty
// slice.
func (s *Service) Grouped(ctx context.Context) ([]EventTickets, error) {
	events, err := s.store.GetAllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	groups := make([]EventTickets, 0, len(events))
	for _, ev := range events {
		tks, err := s.store.GetTicketsByEvent(ctx, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("listing tickets for event %s: %w", ev.ID, err)
		}
		groups = append(groups, EventTickets{Event: ev, Tickets: tks})
	}
	return groups, nil
}

// MarkUsed flips a ticket's used flag locally and queues the mutation for
// the next push. The local write is visible to reads immediately, whether or
// not the device is online.
func (s *Service) MarkUsed(ctx context.Context, id string, used bool) error {
	if err := s.store.MarkTicketUsed(ctx, id, used); err != nil {
		return fmt.Errorf("marking ticket %s: %w", id, err)
	}
	if err := s.store.Enqueue(ctx, model.OpMarkUsed, model.EncodeMarkUsed(id, used)); err != nil {
		return fmt.Errorf("queueing mark-used for %s: %w", id, err)
	}
	s.log.Info("ticket marked locally", "ticket", id, "used", used)

	if s.Connected() {
		if _, err := s.FlushPending(ctx); err != nil {
			// The queue entry survives; the next flush retries it.
			s.log.Warn("immediate push failed, mutation stays queued", "ticket", id, "error", err)
		}
	}
	return nil
}

// HasLocalData reports whether any tickets are cached.
func (s *Service) HasLocalData(ctx context.Context) (bool, error) {
	return s.store.HasTickets(ctx)
}

// LastSync returns the persisted timestamp of the last successful pull and
// the last recorded error, if any.
func (s *Service) LastSync(ctx context.Context) (time.Time, string, error) {
	ms, lastErr, err := s.store.GetSyncStatus(ctx)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("reading sync status: %w", err)
	}
	if ms == 0 {
		return time.Time{}, lastErr, nil
	}
	return time.UnixMilli(ms), lastErr, nil
}

// ClearLocalData wipes every cached row, including the pending queue.
func (s *Service) ClearLocalData(ctx context.Context) error {
	s.log.Warn("clearing all local ticket data")
	return s.store.ClearAll(ctx)
}

// Status exposes the sync layer's diagnostics snapshot.
func (s *Service) Status() sync.DatabaseStatus {
	return s.syncer.Status()
}
