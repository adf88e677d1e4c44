package tickets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/lfmachado/ticketvault/internal/model"
	"github.com/lfmachado/ticketvault/internal/store"
	"github.com/lfmachado/ticketvault/internal/sync"
)

type stubSyncer struct {
	mu       stdsync.Mutex
	store    *store.Store
	syncErr  error
	allCalls int
	toCalls  int
	status   sync.DatabaseStatus
}

func (s *stubSyncer) SyncAll(ctx context.Context, push sync.PushFunc) (sync.Stats, error) {
	s.mu.Lock()
	s.allCalls++
	s.mu.Unlock()
	if s.syncErr != nil {
		return sync.Stats{}, s.syncErr
	}
	n, err := s.drain(ctx, push)
	return sync.Stats{Pushed: n}, err
}

func (s *stubSyncer) SyncToServer(ctx context.Context, push sync.PushFunc) (int, error) {
	s.mu.Lock()
	s.toCalls++
	s.mu.Unlock()
	return s.drain(ctx, push)
}

// drain mimics the real queue walk: push, then delete on success.
func (s *stubSyncer) drain(ctx context.Context, push sync.PushFunc) (int, error) {
	ops, err := s.store.QueuedOps(ctx)
	if err != nil {
		return 0, err
	}
	pushed := 0
	for _, op := range ops {
		if err := push(ctx, op); err != nil {
			return pushed, err
		}
		if err := s.store.DeleteQueued(ctx, op.ID); err != nil {
			return pushed, err
		}
		pushed++
	}
	return pushed, nil
}

func (s *stubSyncer) Status() sync.DatabaseStatus { return s.status }

func (s *stubSyncer) pushCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toCalls
}

func newTestService(t *testing.T) (*Service, *store.Store, *stubSyncer, *[]string) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/tickets.db")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	syncer := &stubSyncer{store: st}
	pushed := &[]string{}
	push := func(_ context.Context, op model.QueuedOp) error {
		p, err := model.DecodeMarkUsed(op.Payload)
		if err != nil {
			return err
		}
		*pushed = append(*pushed, p.TicketID)
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, syncer, push, logger), st, syncer, pushed
}

func seedTicket(t *testing.T, st *store.Store, eventID, ticketID string) {
	t.Helper()
	ctx := context.Background()
	err := st.UpsertEvent(ctx, &model.Event{
		ID: eventID, Title: "Show", Date: "2025-06-10", Time: "20:00",
	})
	if err != nil {
		t.Fatalf("seeding event: %v", err)
	}
	err = st.UpsertTicket(ctx, &model.Ticket{
		ID: ticketID, EventID: eventID, Type: "Show", Synced: true,
	})
	if err != nil {
		t.Fatalf("seeding ticket: %v", err)
	}
}

func TestMarkUsedOfflineIsVisibleImmediately(t *testing.T) {
	svc, st, syncer, _ := newTestService(t)
	seedTicket(t, st, "e1", "t1")
	svc.SetConnected(false)
	ctx := context.Background()

	if err := svc.MarkUsed(ctx, "t1", true); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	tk, err := svc.Ticket(ctx, "t1")
	if err != nil || tk == nil {
		t.Fatalf("reading ticket back: tk=%v err=%v", tk, err)
	}
	if !tk.Used || !tk.PendingSync {
		t.Errorf("used=%v pending=%v, want both true", tk.Used, tk.PendingSync)
	}

	ops, err := st.QueuedOps(ctx)
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(ops) != 1 || ops[0].Type != model.OpMarkUsed {
		t.Fatalf("queue = %+v, want one mark_used entry", ops)
	}
	if syncer.pushCalls() != 0 {
		t.Error("offline mutation must not trigger a push")
	}
}

func TestMarkUsedOnlineFlushesImmediately(t *testing.T) {
	svc, st, syncer, pushed := newTestService(t)
	seedTicket(t, st, "e1", "t1")
	ctx := context.Background()

	if err := svc.MarkUsed(ctx, "t1", true); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if syncer.pushCalls() != 1 {
		t.Fatalf("push calls = %d, want 1", syncer.pushCalls())
	}
	if len(*pushed) != 1 || (*pushed)[0] != "t1" {
		t.Errorf("pushed = %v, want [t1]", *pushed)
	}
	ops, _ := st.QueuedOps(ctx)
	if len(ops) != 0 {
		t.Errorf("queue = %+v, want empty after flush", ops)
	}
}

func TestMarkUsedUnknownTicket(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if err := svc.MarkUsed(context.Background(), "missing", true); err == nil {
		t.Fatal("expected error for unknown ticket")
	}
}

func TestFlushPendingDrainsQueue(t *testing.T) {
	svc, st, _, pushed := newTestService(t)
	seedTicket(t, st, "e1", "t1")
	seedTicket(t, st, "e1", "t2")
	svc.SetConnected(false)
	ctx := context.Background()

	if err := svc.MarkUsed(ctx, "t1", true); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkUsed(ctx, "t2", true); err != nil {
		t.Fatal(err)
	}

	n, err := svc.FlushPending(ctx)
	if err != nil {
		t.Fatalf("FlushPending: %v", err)
	}
	if n != 2 {
		t.Errorf("flushed = %d, want 2", n)
	}
	if len(*pushed) != 2 || (*pushed)[0] != "t1" || (*pushed)[1] != "t2" {
		t.Errorf("push order = %v, want [t1 t2]", *pushed)
	}
}

func TestGroupedNewestEventFirst(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	events := []*model.Event{
		{ID: "e1", Title: "Old", Date: "2025-01-01", Time: "10:00"},
		{ID: "e2", Title: "New", Date: "2025-06-10", Time: "20:00"},
	}
	for _, ev := range events {
		if err := st.UpsertEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []string{"t1", "t2"} {
		err := st.UpsertTicket(ctx, &model.Ticket{ID: id, EventID: "e2", Type: "New"})
		if err != nil {
			t.Fatal(err)
		}
	}

	groups, err := svc.Grouped(ctx)
	if err != nil {
		t.Fatalf("Grouped: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Event.ID != "e2" {
		t.Errorf("first group = %s, want newest event e2", groups[0].Event.ID)
	}
	if len(groups[0].Tickets) != 2 || len(groups[1].Tickets) != 0 {
		t.Errorf("ticket counts = %d/%d, want 2/0",
			len(groups[0].Tickets), len(groups[1].Tickets))
	}
}

func TestSyncErrorKeepsLocalData(t *testing.T) {
	svc, st, syncer, _ := newTestService(t)
	seedTicket(t, st, "e1", "t1")
	syncer.syncErr = errors.New("connection refused")

	if _, err := svc.Sync(context.Background()); err == nil {
		t.Fatal("expected sync error")
	}
	tks, err := svc.LocalTickets(context.Background())
	if err != nil || len(tks) != 1 {
		t.Fatalf("cached tickets = %d err=%v, want 1", len(tks), err)
	}
}

func TestHasLocalDataAndClear(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	has, err := svc.HasLocalData(ctx)
	if err != nil || has {
		t.Fatalf("fresh store HasLocalData = %v err=%v", has, err)
	}

	seedTicket(t, st, "e1", "t1")
	has, err = svc.HasLocalData(ctx)
	if err != nil || !has {
		t.Fatalf("HasLocalData = %v err=%v after seed", has, err)
	}

	if err := svc.ClearLocalData(ctx); err != nil {
		t.Fatalf("ClearLocalData: %v", err)
	}
	has, _ = svc.HasLocalData(ctx)
	if has {
		t.Error("data survived ClearLocalData")
	}
}

func TestLastSync(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	ts, _, err := svc.LastSync(ctx)
	if err != nil || !ts.IsZero() {
		t.Fatalf("fresh store LastSync = %v err=%v", ts, err)
	}

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := st.SetSyncStatus(ctx, stamp.UnixMilli(), ""); err != nil {
		t.Fatal(err)
	}
	ts, _, err = svc.LastSync(ctx)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if !ts.Equal(stamp) {
		t.Errorf("LastSync = %v, want %v", ts, stamp)
	}
}

func TestConnectivityState(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if !svc.Connected() {
		t.Error("service should start connected")
	}
	svc.SetConnected(false)
	if svc.Connected() {
		t.Error("SetConnected(false) not reflected")
	}
}
