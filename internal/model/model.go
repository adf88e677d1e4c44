// Package model defines the types shared between the remote sales API, the
// local store, and the sync engine.
package model

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Sale is a purchased ticket as reported by the remote sales API. The sale ID
// doubles as the local ticket ID.
type Sale struct {
	ID            string     `json:"id"`
	Used          bool       `json:"used"`
	PDFURL        string     `json:"pdfUrl"`
	QRCodeURL     string     `json:"qrCodeUrl"`
	QRCodeDataURL string     `json:"qrCodeDataUrl"`
	CreatedAt     string     `json:"createdAt"`
	UpdatedAt     string     `json:"updatedAt"`
	Ticket        SaleTicket `json:"ticket"`
}

// SaleTicket is the event/ticket-type block nested inside a [Sale]. Its ID is
// the event ID on the local side.
type SaleTicket struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	EventDate   string          `json:"eventDate"`
	ImageURL    string          `json:"imageUrl"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	IsActive    bool            `json:"isActive"`
	IsDeleted   bool            `json:"isDeleted"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
}

// Profile is the remote user profile. Its fields are copied onto every ticket
// row as a point-in-time buyer snapshot during sync.
type Profile struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Cellphone string `json:"cellphone"`
	Phone     string `json:"phone"`
}

// PhoneNumber returns the cellphone, falling back to the landline field.
func (p *Profile) PhoneNumber() string {
	if p.Cellphone != "" {
		return p.Cellphone
	}
	return p.Phone
}

// Event is a local event row. One event has many tickets.
type Event struct {
	ID       string
	Title    string
	Date     string // ISO date part, e.g. "2025-06-10"
	Time     string // "HH:MM", empty when the remote timestamp has no clock
	Location string
	ImageURL string

	// LastUpdated is the local write time in epoch milliseconds.
	LastUpdated int64

	// Synced is true once the row has been pulled from the server.
	Synced bool
}

// Ticket is a local ticket row. The buyer fields are a denormalized snapshot
// of the profile at sync time, overwritten on every pull.
type Ticket struct {
	ID      string
	EventID string
	Type    string
	Code    string
	Used    bool

	QRCodeURL     string
	PDFURL        string
	QRCodeDataURL string

	BuyerName  string
	BuyerEmail string
	BuyerPhone string

	BoughtAt    string
	Price       decimal.Decimal
	LastUpdated int64
	Synced      bool

	// PendingSync is set when a local mutation (e.g. marking the ticket used
	// while offline) has not yet been pushed upstream.
	PendingSync bool
}

// DisplayCode returns the ticket's display code, defaulting to the ticket ID
// when the remote side provided no distinct code.
func (t *Ticket) DisplayCode() string {
	if t.Code != "" {
		return t.Code
	}
	return t.ID
}

// AttachmentURL returns the first populated attachment reference, in display
// preference order: QR code URL, PDF URL, inline QR data URL.
func (t *Ticket) AttachmentURL() string {
	for _, u := range []string{t.QRCodeURL, t.PDFURL, t.QRCodeDataURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// SplitEventDate splits a remote ISO timestamp ("2025-06-10T19:00:00") into
// its date part and an HH:MM clock part. Timestamps without a clock yield an
// empty time.
func SplitEventDate(iso string) (date, clock string) {
	date, clock, found := strings.Cut(iso, "T")
	if !found {
		return iso, ""
	}
	if len(clock) > 5 {
		clock = clock[:5]
	}
	return date, clock
}

// --- Sync queue operations ---------------------------------------------------

// OpMarkUsed is the queue operation tag for an offline used/unused toggle.
const OpMarkUsed = "mark_used"

// QueuedOp is a deferred local mutation waiting to be pushed to the server.
// Rows are drained oldest-first.
type QueuedOp struct {
	ID        int64
	Type      string
	Payload   json.RawMessage
	Timestamp int64
}

// MarkUsedPayload is the payload for an [OpMarkUsed] queue entry.
type MarkUsedPayload struct {
	TicketID string `json:"ticket_id"`
	Used     bool   `json:"used"`
}

// EncodeMarkUsed builds the JSON payload for an [OpMarkUsed] queue entry.
func EncodeMarkUsed(ticketID string, used bool) json.RawMessage {
	b, _ := json.Marshal(MarkUsedPayload{TicketID: ticketID, Used: used}) //nolint:errcheck // struct of plain fields always marshals
	return b
}

// DecodeMarkUsed parses an [OpMarkUsed] payload.
func DecodeMarkUsed(payload json.RawMessage) (MarkUsedPayload, error) {
	var p MarkUsedPayload
	err := json.Unmarshal(payload, &p)
	return p, err
}
