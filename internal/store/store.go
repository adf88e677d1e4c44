// Package store owns the on-device SQLite database that caches events,
// tickets, the deferred-mutation queue, sync status, and the user profile.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] (usually behind an [*Executor]) and call its methods.
// Every call is its own commit; there is no cross-call transaction batching,
// so a failed write never rolls back its neighbours.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"

	"github.com/lfmachado/ticketvault/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id           TEXT    PRIMARY KEY,
    title        TEXT    NOT NULL DEFAULT '',
    date         TEXT    NOT NULL DEFAULT '',
    time         TEXT    NOT NULL DEFAULT '',
    location     TEXT    NOT NULL DEFAULT '',
    image_url    TEXT    NOT NULL DEFAULT '',
    last_updated INTEGER NOT NULL DEFAULT 0,
    is_synced    INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS tickets (
    id               TEXT    PRIMARY KEY,
    event_id         TEXT    NOT NULL REFERENCES events(id),
    type             TEXT    NOT NULL DEFAULT '',
    code             TEXT    NOT NULL DEFAULT '',
    used             INTEGER NOT NULL DEFAULT 0,
    qr_code_url      TEXT    NOT NULL DEFAULT '',
    pdf_url          TEXT    NOT NULL DEFAULT '',
    qr_code_data_url TEXT    NOT NULL DEFAULT '',
    buyer_name       TEXT    NOT NULL DEFAULT '',
    buyer_email      TEXT    NOT NULL DEFAULT '',
    buyer_phone      TEXT    NOT NULL DEFAULT '',
    bought_at        TEXT    NOT NULL DEFAULT '',
    price            TEXT    NOT NULL DEFAULT '0',
    last_updated     INTEGER NOT NULL DEFAULT 0,
    is_synced        INTEGER NOT NULL DEFAULT 1,
    pending_sync     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tickets_event   ON tickets (event_id);
CREATE INDEX IF NOT EXISTS idx_tickets_pending ON tickets (pending_sync) WHERE pending_sync != 0;

CREATE TABLE IF NOT EXISTS sync_queue (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    type      TEXT    NOT NULL,
    payload   TEXT    NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_status (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    last_sync  INTEGER NOT NULL DEFAULT 0,
    last_error TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_profile (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    name      TEXT NOT NULL DEFAULT '',
    email     TEXT NOT NULL DEFAULT '',
    cellphone TEXT NOT NULL DEFAULT '',
    phone     TEXT NOT NULL DEFAULT ''
);
`

// allTables lists every table owned by this package, in drop order
// (tickets before events because of the foreign key).
var allTables = []string{"tickets", "events", "sync_queue", "sync_status", "user_profile"}

// Store is the SQLite-backed local ticket cache.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the local database:
// ~/.local/share/ticketvault/tickets.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "ticketvault", "tickets.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode with foreign-key enforcement.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Reset drops all five tables and recreates the schema. This is the
// destructive recovery path used when the database is declared corrupted,
// and the backing for an explicit user-initiated reset.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range allTables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("dropping table %s: %w", table, err)
		}
	}
	if err := migrate(s.db); err != nil {
		return fmt.Errorf("recreating schema: %w", err)
	}
	return nil
}

// ClearAll deletes every row from every table without touching the schema.
// Used on logout and for manual troubleshooting.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, table := range allTables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// --- Events ------------------------------------------------------------------

// UpsertEvent inserts or replaces an event row keyed on its ID.
func (s *Store) UpsertEvent(ctx context.Context, ev *model.Event) error {
	const q = `
		INSERT INTO events (id, title, date, time, location, image_url, last_updated, is_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    title        = excluded.title,
		    date         = excluded.date,
		    time         = excluded.time,
		    location     = excluded.location,
		    image_url    = excluded.image_url,
		    last_updated = excluded.last_updated,
		    is_synced    = excluded.is_synced`

	_, err := s.db.ExecContext(ctx, q,
		ev.ID, ev.Title, ev.Date, ev.Time, ev.Location, ev.ImageURL,
		ev.LastUpdated, boolToInt(ev.Synced),
	)
	if err != nil {
		return fmt.Errorf("upserting event %q: %w", ev.ID, err)
	}
	return nil
}

// GetEvent returns the event with the given ID, or (nil, nil) if absent.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	const q = `
		SELECT id, title, date, time, location, image_url, last_updated, is_synced
		FROM events WHERE id = ?`
	return scanEvent(s.db.QueryRowContext(ctx, q, id))
}

// GetAllEvents returns all cached events, most recent event date first.
func (s *Store) GetAllEvents(ctx context.Context) ([]*model.Event, error) {
	const q = `
		SELECT id, title, date, time, location, image_url, last_updated, is_synced
		FROM events ORDER BY date DESC, time DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Tickets -----------------------------------------------------------------

const ticketColumns = `id, event_id, type, code, used,
       qr_code_url, pdf_url, qr_code_data_url,
       buyer_name, buyer_email, buyer_phone,
       bought_at, price, last_updated, is_synced, pending_sync`

// UpsertTicket inserts or replaces a ticket row keyed on its ID.
func (s *Store) UpsertTicket(ctx context.Context, tk *model.Ticket) error {
	const q = `
		INSERT INTO tickets (id, event_id, type, code, used,
		    qr_code_url, pdf_url, qr_code_data_url,
		    buyer_name, buyer_email, buyer_phone,
		    bought_at, price, last_updated, is_synced, pending_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    event_id         = excluded.event_id,
		    type             = excluded.type,
		    code             = excluded.code,
		    used             = excluded.used,
		    qr_code_url      = excluded.qr_code_url,
		    pdf_url          = excluded.pdf_url,
		    qr_code_data_url = excluded.qr_code_data_url,
		    buyer_name       = excluded.buyer_name,
		    buyer_email      = excluded.buyer_email,
		    buyer_phone      = excluded.buyer_phone,
		    bought_at        = excluded.bought_at,
		    price            = excluded.price,
		    last_updated     = excluded.last_updated,
		    is_synced        = excluded.is_synced,
		    pending_sync     = excluded.pending_sync`

	_, err := s.db.ExecContext(ctx, q,
		tk.ID, tk.EventID, tk.Type, tk.Code, boolToInt(tk.Used),
		tk.QRCodeURL, tk.PDFURL, tk.QRCodeDataURL,
		tk.BuyerName, tk.BuyerEmail, tk.BuyerPhone,
		tk.BoughtAt, tk.Price.String(), tk.LastUpdated,
		boolToInt(tk.Synced), boolToInt(tk.PendingSync),
	)
	if err != nil {
		return fmt.Errorf("upserting ticket %q: %w", tk.ID, err)
	}
	return nil
}

// GetTicket returns the ticket with the given ID, or (nil, nil) if absent.
func (s *Store) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	return scanTicket(s.db.QueryRowContext(ctx, q, id))
}

// GetAllTickets returns all cached tickets, newest purchase first.
func (s *Store) GetAllTickets(ctx context.Context) ([]*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets ORDER BY bought_at DESC, id`
	return s.queryTickets(ctx, q)
}

// GetTicketsByEvent returns the tickets belonging to one event.
func (s *Store) GetTicketsByEvent(ctx context.Context, eventID string) ([]*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id = ? ORDER BY bought_at DESC, id`
	return s.queryTickets(ctx, q, eventID)
}

// PendingTickets returns the tickets whose local mutations have not yet been
// pushed upstream.
func (s *Store) PendingTickets(ctx context.Context) ([]*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE pending_sync != 0 ORDER BY last_updated`
	return s.queryTickets(ctx, q)
}

// MarkTicketUsed flips the used flag locally and marks the row as pending
// push. It never talks to the remote side; reconciliation is deferred.
func (s *Store) MarkTicketUsed(ctx context.Context, id string, used bool) error {
	const q = `UPDATE tickets SET used = ?, pending_sync = 1, last_updated = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, boolToInt(used), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("marking ticket %q used=%t: %w", id, used, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("marking ticket %q: no such ticket", id)
	}
	return nil
}

// ClearTicketPending clears the pending-push flag after the remote side has
// accepted the mutation.
func (s *Store) ClearTicketPending(ctx context.Context, id string) error {
	const q = `UPDATE tickets SET pending_sync = 0 WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("clearing pending flag for ticket %q: %w", id, err)
	}
	return nil
}

// HasTickets reports whether any ticket rows are cached locally.
func (s *Store) HasTickets(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting tickets: %w", err)
	}
	return count > 0, nil
}

func (s *Store) queryTickets(ctx context.Context, q string, args ...any) ([]*model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*model.Ticket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, tk)
	}
	return tickets, rows.Err()
}

// --- Sync queue --------------------------------------------------------------

// Enqueue appends a deferred mutation to the sync queue.
func (s *Store) Enqueue(ctx context.Context, opType string, payload []byte) error {
	const q = `INSERT INTO sync_queue (type, payload, timestamp) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, opType, string(payload), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("enqueueing %s operation: %w", opType, err)
	}
	return nil
}

// QueuedOps returns all queued operations, oldest first.
func (s *Store) QueuedOps(ctx context.Context) ([]model.QueuedOp, error) {
	const q = `SELECT id, type, payload, timestamp FROM sync_queue ORDER BY timestamp, id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying sync queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []model.QueuedOp
	for rows.Next() {
		var op model.QueuedOp
		var payload string
		if err := rows.Scan(&op.ID, &op.Type, &payload, &op.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		op.Payload = []byte(payload)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteQueued removes a drained queue entry.
func (s *Store) DeleteQueued(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting queue entry %d: %w", id, err)
	}
	return nil
}

// --- Sync status -------------------------------------------------------------

// SetSyncStatus records the outcome of the latest sync pass in the singleton
// status row.
func (s *Store) SetSyncStatus(ctx context.Context, lastSync int64, lastError string) error {
	const q = `
		INSERT INTO sync_status (id, last_sync, last_error) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync = excluded.last_sync, last_error = excluded.last_error`
	if _, err := s.db.ExecContext(ctx, q, lastSync, lastError); err != nil {
		return fmt.Errorf("recording sync status: %w", err)
	}
	return nil
}

// SetSyncError records a failure message without touching the last-sync
// stamp, so a failed pass does not erase when data was last pulled.
func (s *Store) SetSyncError(ctx context.Context, lastError string) error {
	const q = `
		INSERT INTO sync_status (id, last_error) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_error = excluded.last_error`
	if _, err := s.db.ExecContext(ctx, q, lastError); err != nil {
		return fmt.Errorf("recording sync error: %w", err)
	}
	return nil
}

// GetSyncStatus returns the last successful sync time (epoch millis, 0 when
// never synced) and the last recorded error message.
func (s *Store) GetSyncStatus(ctx context.Context) (lastSync int64, lastError string, err error) {
	const q = `SELECT last_sync, last_error FROM sync_status WHERE id = 1`
	err = s.db.QueryRowContext(ctx, q).Scan(&lastSync, &lastError)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("reading sync status: %w", err)
	}
	return lastSync, lastError, nil
}

// --- User profile ------------------------------------------------------------

// SaveProfile caches the remote user profile in the singleton profile row.
func (s *Store) SaveProfile(ctx context.Context, p *model.Profile) error {
	const q = `
		INSERT INTO user_profile (id, name, email, cellphone, phone) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    name = excluded.name, email = excluded.email,
		    cellphone = excluded.cellphone, phone = excluded.phone`
	if _, err := s.db.ExecContext(ctx, q, p.Name, p.Email, p.Cellphone, p.Phone); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// GetProfile returns the cached profile, or (nil, nil) when none is stored.
func (s *Store) GetProfile(ctx context.Context) (*model.Profile, error) {
	const q = `SELECT name, email, cellphone, phone FROM user_profile WHERE id = 1`
	var p model.Profile
	err := s.db.QueryRowContext(ctx, q).Scan(&p.Name, &p.Email, &p.Cellphone, &p.Phone)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return &p, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so the scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*model.Event, error) {
	var ev model.Event
	var synced int
	err := sc.Scan(&ev.ID, &ev.Title, &ev.Date, &ev.Time, &ev.Location, &ev.ImageURL, &ev.LastUpdated, &synced)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}
	ev.Synced = synced != 0
	return &ev, nil
}

func scanTicket(sc scanner) (*model.Ticket, error) {
	var tk model.Ticket
	var used, synced, pending int
	var price string

	err := sc.Scan(
		&tk.ID, &tk.EventID, &tk.Type, &tk.Code, &used,
		&tk.QRCodeURL, &tk.PDFURL, &tk.QRCodeDataURL,
		&tk.BuyerName, &tk.BuyerEmail, &tk.BuyerPhone,
		&tk.BoughtAt, &price, &tk.LastUpdated, &synced, &pending,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ticket row: %w", err)
	}

	tk.Used = used != 0
	tk.Synced = synced != 0
	tk.PendingSync = pending != 0
	tk.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parsing price %q for ticket %q: %w", price, tk.ID, err)
	}
	return &tk, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
