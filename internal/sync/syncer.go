package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lfmachado/ticketvault/internal/model"
)

// DefaultCooldown is the minimum spacing between two pull passes.
const DefaultCooldown = 30 * time.Second

// Stats tracks the mutations performed in a single sync pass.
type Stats struct {
	Events  int // event rows upserted
	Tickets int // ticket rows upserted
	Pushed  int // queued mutations accepted by the remote side
	Errors  int // per-sale failures recorded without aborting the pass
}

// Syncer reconciles the remote sales list with the local store. All guard
// state (in-flight flag, cooldown stamp) lives behind a mutex in this struct
// so that concurrent triggers (a manual sync racing the connectivity
// listener) collapse to a single pass.
type Syncer struct {
	remote   RemoteSource
	store    LocalStore
	exec     Runner
	cooldown time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight bool
	lastSync time.Time
}

// NewSyncer creates a Syncer wired to the given remote source, local store,
// and executor. A cooldown of 0 selects [DefaultCooldown].
func NewSyncer(remote RemoteSource, store LocalStore, exec Runner, cooldown time.Duration, logger *slog.Logger) *Syncer {
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	return &Syncer{
		remote:   remote,
		store:    store,
		exec:     exec,
		cooldown: cooldown,
		log:      logger,
		now:      time.Now,
	}
}

// SyncFromServer performs one pull pass: fetch sales and profile, then upsert
// events and tickets through the executor. The pass is silently skipped when
// the store is corrupted, another pass is in flight, or the cooldown has not
// elapsed. The caller's request is dropped, not queued.
//
// A single sale's failure is recorded in Stats.Errors and does not abort the
// batch; rows already written for other sales stay committed.
func (s *Syncer) SyncFromServer(ctx context.Context) (Stats, error) {
	if s.exec.Corrupted() {
		s.log.Warn("sync skipped: local database flagged corrupted")
		return Stats{}, nil
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.log.Debug("sync skipped: another sync is in flight")
		return Stats{}, nil
	}
	if since := s.now().Sub(s.lastSync); since < s.cooldown {
		s.mu.Unlock()
		s.log.Debug("sync skipped: cooldown not elapsed", "since_last", since)
		return Stats{}, nil
	}
	s.inFlight = true
	s.lastSync = s.now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	return s.pull(ctx)
}

// ForceSyncFromServer is the administrative override: it clears the
// in-flight flag, the cooldown stamp, and the corruption accounting, then
// runs a normal pull pass.
func (s *Syncer) ForceSyncFromServer(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	s.inFlight = false
	s.lastSync = time.Time{}
	s.mu.Unlock()
	s.exec.ClearCorruption()

	s.log.Info("forced sync requested, bypassing cooldown")
	return s.SyncFromServer(ctx)
}

// pull fetches the remote state and writes it through the executor.
func (s *Syncer) pull(ctx context.Context) (Stats, error) {
	var stats Stats
	start := s.now()

	sales, err := s.remote.FetchSales(ctx)
	if err != nil {
		s.recordError(ctx, err)
		return stats, fmt.Errorf("fetching sales: %w", err)
	}
	profile, err := s.remote.FetchProfile(ctx)
	if err != nil {
		s.recordError(ctx, err)
		return stats, fmt.Errorf("fetching profile: %w", err)
	}

	if err := s.exec.Do(ctx, func() error { return s.store.SaveProfile(ctx, profile) }); err != nil {
		// The buyer snapshot on each ticket row still carries the profile;
		// losing the cached copy is not worth aborting the pass.
		s.log.Warn("caching profile failed", "error", err)
	}

	now := s.now().UnixMilli()
	written := make(map[string]bool, len(sales)) // event IDs upserted this pass
	var saleErrs []error

	for _, sale := range sales {
		if err := ctx.Err(); err != nil {
			saleErrs = append(saleErrs, err)
			break
		}

		if !written[sale.Ticket.ID] {
			ev := eventFromSale(&sale, now)
			if err := s.exec.Do(ctx, func() error { return s.store.UpsertEvent(ctx, ev) }); err != nil {
				s.log.Error("event upsert failed, skipping sale",
					"event", sale.Ticket.ID, "sale", sale.ID, "error", err)
				saleErrs = append(saleErrs, fmt.Errorf("sale %s: event %s: %w", sale.ID, sale.Ticket.ID, err))
				continue
			}
			written[sale.Ticket.ID] = true
			stats.Events++
		}

		tk := ticketFromSale(&sale, profile, now)
		if err := s.exec.Do(ctx, func() error { return s.store.UpsertTicket(ctx, tk) }); err != nil {
			s.log.Error("ticket upsert failed", "ticket", sale.ID, "error", err)
			saleErrs = append(saleErrs, fmt.Errorf("sale %s: %w", sale.ID, err))
			continue
		}
		stats.Tickets++
	}

	stats.Errors = len(saleErrs)
	firstErr := errors.Join(saleErrs...)

	errMsg := ""
	if firstErr != nil {
		errMsg = firstErr.Error()
	}
	s.recordStatus(ctx, now, errMsg)

	s.log.Info("pull complete",
		"events", stats.Events,
		"tickets", stats.Tickets,
		"errors", stats.Errors,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return stats, firstErr
}

// SyncToServer drains the deferred-mutation queue oldest-first. Each entry is
// handed to push; on success the row is deleted (and the ticket's pending
// flag cleared for mark-used operations). The drain stops on the first
// failure so that ordering is preserved for the next attempt.
func (s *Syncer) SyncToServer(ctx context.Context, push PushFunc) (int, error) {
	if s.exec.Corrupted() {
		s.log.Warn("push skipped: local database flagged corrupted")
		return 0, nil
	}

	ops, err := s.store.QueuedOps(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading sync queue: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	pushed := 0
	for _, op := range ops {
		if err := push(ctx, op); err != nil {
			s.log.Warn("push failed, stopping queue drain",
				"op", op.Type, "queue_id", op.ID, "pushed", pushed, "error", err)
			return pushed, fmt.Errorf("pushing %s operation %d: %w", op.Type, op.ID, err)
		}

		if op.Type == model.OpMarkUsed {
			if p, decodeErr := model.DecodeMarkUsed(op.Payload); decodeErr == nil {
				if err := s.exec.Do(ctx, func() error { return s.store.ClearTicketPending(ctx, p.TicketID) }); err != nil {
					s.log.Warn("clearing pending flag failed", "ticket", p.TicketID, "error", err)
				}
			}
		}
		if err := s.exec.Do(ctx, func() error { return s.store.DeleteQueued(ctx, op.ID) }); err != nil {
			// The remote accepted the mutation; a re-push of this entry later
			// is idempotent on the remote side, so keep draining.
			s.log.Warn("deleting drained queue entry failed", "queue_id", op.ID, "error", err)
		}
		pushed++
	}

	s.log.Info("queue drained", "pushed", pushed)
	return pushed, nil
}

// SyncAll runs a pull pass followed by a queue drain, sequentially.
func (s *Syncer) SyncAll(ctx context.Context, push PushFunc) (Stats, error) {
	stats, pullErr := s.SyncFromServer(ctx)
	pushed, pushErr := s.SyncToServer(ctx, push)
	stats.Pushed = pushed
	return stats, errors.Join(pullErr, pushErr)
}

// recordStatus best-effort persists the pass outcome to the status row.
func (s *Syncer) recordStatus(ctx context.Context, lastSync int64, lastError string) {
	if len(lastError) > 500 {
		lastError = lastError[:500]
	}
	err := s.exec.Do(ctx, func() error { return s.store.SetSyncStatus(ctx, lastSync, lastError) })
	if err != nil {
		s.log.Warn("recording sync status failed", "error", err)
	}
}

// recordError best-effort persists a fetch failure without advancing the
// last-sync stamp.
func (s *Syncer) recordError(ctx context.Context, cause error) {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := s.exec.Do(ctx, func() error { return s.store.SetSyncError(ctx, msg) }); err != nil {
		s.log.Warn("recording sync error failed", "error", err)
	}
}

// eventFromSale maps a remote sale's nested ticket block to a local event row.
func eventFromSale(sale *model.Sale, now int64) *model.Event {
	date, clock := model.SplitEventDate(sale.Ticket.EventDate)
	return &model.Event{
		ID:          sale.Ticket.ID,
		Title:       sale.Ticket.Title,
		Date:        date,
		Time:        clock,
		Location:    sale.Ticket.Description,
		ImageURL:    sale.Ticket.ImageURL,
		LastUpdated: now,
		Synced:      true,
	}
}

// ticketFromSale maps a remote sale to a local ticket row, denormalizing the
// profile into the buyer snapshot.
func ticketFromSale(sale *model.Sale, profile *model.Profile, now int64) *model.Ticket {
	code := sale.ID // remote sales carry no distinct display code
	return &model.Ticket{
		ID:            sale.ID,
		EventID:       sale.Ticket.ID,
		Type:          strings.TrimSpace(sale.Ticket.Title),
		Code:          code,
		Used:          sale.Used,
		QRCodeURL:     sale.QRCodeURL,
		PDFURL:        sale.PDFURL,
		QRCodeDataURL: sale.QRCodeDataURL,
		BuyerName:     profile.Name,
		BuyerEmail:    profile.Email,
		BuyerPhone:    profile.PhoneNumber(),
		BoughtAt:      sale.CreatedAt,
		Price:         sale.Ticket.Price,
		LastUpdated:   now,
		Synced:        true,
		PendingSync:   false,
	}
}
