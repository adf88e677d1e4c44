package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/lfmachado/ticketvault/internal/model"
)

// --- Mock remote source ------------------------------------------------------

type mockRemote struct {
	mu         sync.Mutex
	sales      []model.Sale
	profile    model.Profile
	salesErr   error
	profileErr error
	fetches    int

	// block, when non-nil, makes FetchSales wait until the channel is closed.
	block chan struct{}
}

func newMockRemote(sales ...model.Sale) *mockRemote {
	return &mockRemote{
		sales:   sales,
		profile: model.Profile{Name: "Ana", Email: "ana@x.com", Cellphone: "19999999999"},
	}
}

func (m *mockRemote) FetchSales(ctx context.Context) ([]model.Sale, error) {
	m.mu.Lock()
	m.fetches++
	block := m.block
	salesErr := m.salesErr
	sales := make([]model.Sale, len(m.sales))
	copy(sales, m.sales)
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if salesErr != nil {
		return nil, salesErr
	}
	return sales, nil
}

func (m *mockRemote) FetchProfile(_ context.Context) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	cp := m.profile
	return &cp, nil
}

func (m *mockRemote) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// --- Mock local store --------------------------------------------------------

type mockLocal struct {
	mu      sync.Mutex
	events  map[string]*model.Event
	tickets map[string]*model.Ticket
	profile *model.Profile
	queue   []model.QueuedOp
	nextID  int64

	lastSync  int64
	lastError string

	cleared []string // ticket IDs whose pending flag was cleared

	failEvent  map[string]error // event ID → injected upsert failure
	failTicket map[string]error // ticket ID → injected upsert failure
}

func newMockLocal() *mockLocal {
	return &mockLocal{
		events:     make(map[string]*model.Event),
		tickets:    make(map[string]*model.Ticket),
		failEvent:  make(map[string]error),
		failTicket: make(map[string]error),
	}
}

func (m *mockLocal) UpsertEvent(_ context.Context, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failEvent[ev.ID]; err != nil {
		return err
	}
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *mockLocal) UpsertTicket(_ context.Context, tk *model.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTicket[tk.ID]; err != nil {
		return err
	}
	cp := *tk
	m.tickets[tk.ID] = &cp
	return nil
}

func (m *mockLocal) SaveProfile(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profile = &cp
	return nil
}

func (m *mockLocal) SetSyncStatus(_ context.Context, lastSync int64, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync = lastSync
	m.lastError = lastError
	return nil
}

func (m *mockLocal) SetSyncError(_ context.Context, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = lastError
	return nil
}

func (m *mockLocal) seedQueue(ticketIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ticketIDs {
		m.nextID++
		m.queue = append(m.queue, model.QueuedOp{
			ID:        m.nextID,
			Type:      model.OpMarkUsed,
			Payload:   model.EncodeMarkUsed(id, true),
			Timestamp: m.nextID,
		})
	}
}

func (m *mockLocal) QueuedOps(_ context.Context) ([]model.QueuedOp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]model.QueuedOp, len(m.queue))
	copy(ops, m.queue)
	return ops, nil
}

func (m *mockLocal) DeleteQueued(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range m.queue {
		if op.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("queue entry %d not found", id)
}

func (m *mockLocal) ClearTicketPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, id)
	return nil
}

func (m *mockLocal) event(id string) *model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

func (m *mockLocal) ticket(id string) *model.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[id]
}

func (m *mockLocal) queueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// --- Mock runner -------------------------------------------------------------

// passRunner is a Runner that executes operations directly, with a
// controllable corruption flag and a reset hook.
type passRunner struct {
	mu        sync.Mutex
	corrupted bool
	failures  int
	resets    int
	onReset   func() error
}

func (r *passRunner) Do(_ context.Context, op func() error) error {
	r.mu.Lock()
	corrupted := r.corrupted
	r.mu.Unlock()
	if corrupted {
		return fmt.Errorf("store corrupted")
	}
	return op()
}

func (r *passRunner) ForceReset(_ context.Context) error {
	r.mu.Lock()
	r.corrupted = false
	r.failures = 0
	r.resets++
	onReset := r.onReset
	r.mu.Unlock()
	if onReset != nil {
		return onReset()
	}
	return nil
}

func (r *passRunner) ClearCorruption() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupted = false
	r.failures = 0
}

func (r *passRunner) Corrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corrupted
}

func (r *passRunner) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *passRunner) MaxFailures() int { return 2 }

func (r *passRunner) resetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}
