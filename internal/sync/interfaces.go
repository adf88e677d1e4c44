// Package sync implements the offline-first synchronization flow for
// TicketVault. It pulls the authoritative sales list and user profile from
// the remote backend into the local store, drains the deferred-mutation
// queue back upstream, and recovers from local-database corruption.
//
// The package contains two main components:
//
//   - [Syncer] runs individual pull/push passes behind in-flight and
//     cooldown guards.
//   - [Engine] runs the polling daemon loop and the connectivity probe.
package sync

import (
	"context"

	"github.com/lfmachado/ticketvault/internal/model"
)

// RemoteSource provides read access to the ticketing backend.
// Implemented by [remote.Client].
type RemoteSource interface {
	FetchSales(ctx context.Context) ([]model.Sale, error)
	FetchProfile(ctx context.Context) (*model.Profile, error)
}

// LocalStore is the subset of local-store operations the syncer needs.
// Implemented by [store.Store].
type LocalStore interface {
	UpsertEvent(ctx context.Context, ev *model.Event) error
	UpsertTicket(ctx context.Context, tk *model.Ticket) error
	SaveProfile(ctx context.Context, p *model.Profile) error
	SetSyncStatus(ctx context.Context, lastSync int64, lastError string) error
	SetSyncError(ctx context.Context, lastError string) error
	QueuedOps(ctx context.Context) ([]model.QueuedOp, error)
	DeleteQueued(ctx context.Context, id int64) error
	ClearTicketPending(ctx context.Context, id string) error
}

// Runner guards local-store writes with retry, failure accounting, and
// corruption recovery. Implemented by [store.Executor]. No component may
// write to the store during a sync pass except through the Runner.
type Runner interface {
	Do(ctx context.Context, op func() error) error
	ForceReset(ctx context.Context) error
	ClearCorruption()
	Corrupted() bool
	ConsecutiveFailures() int
	MaxFailures() int
}

// PushFunc pushes one queued local mutation to the remote side. A nil return
// confirms remote acceptance and deletes the queue entry.
type PushFunc func(ctx context.Context, op model.QueuedOp) error
