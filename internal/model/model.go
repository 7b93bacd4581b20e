package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned by collaborators when a referenced entry or row
// does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of a reservation as owned by the booking
// subsystem.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether the reservation still claims its days.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Reservation is an internal booking. The engine only reads it.
type Reservation struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	CheckIn  Date   `json:"check_in"`
	CheckOut Date   `json:"check_out"`
	// ExternalEventID links the reservation to its mirror on the shared
	// calendar, if one was created.
	ExternalEventID string `json:"external_event_id,omitempty"`
}

// ExternalCalendarEntry is a read-through copy of an entry on the shared
// calendar. Start / End are instants; they become dates only after being
// normalized into the engine's zone.
type ExternalCalendarEntry struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	ColorTag string    `json:"color_tag"`
}

// EntryKind tags a calendar entry once at ingestion.
type EntryKind int

const (
	// KindManualBlock is a block created directly on the shared calendar.
	KindManualBlock EntryKind = iota
	// KindAppBookingMirror mirrors a reservation made through the app.
	KindAppBookingMirror
	// KindInfo is an informational marker that never occupies days.
	KindInfo
)

func (k EntryKind) String() string {
	switch k {
	case KindAppBookingMirror:
		return "app_booking_mirror"
	case KindInfo:
		return "info"
	default:
		return "manual_block"
	}
}

func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ClassifiedEntry carries an entry together with its kind and its day range
// in the engine zone. CheckOut is exclusive, like a reservation's.
type ClassifiedEntry struct {
	Entry    ExternalCalendarEntry `json:"entry"`
	Kind     EntryKind             `json:"kind"`
	CheckIn  Date                  `json:"check_in"`
	CheckOut Date                  `json:"check_out"`
}

// CalendarLink is an undirected edge between two calendar entry ids. The pair
// is stored sorted so (A,B) and (B,A) share one natural key.
type CalendarLink struct {
	EventIDLow  string    `json:"event_id_low"`
	EventIDHigh string    `json:"event_id_high"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewCalendarLink canonicalizes the pair and rejects self-loops.
func NewCalendarLink(a, b, createdBy string, at time.Time) (CalendarLink, error) {
	if a == "" || b == "" {
		return CalendarLink{}, errors.New("link: empty event id")
	}
	if a == b {
		return CalendarLink{}, fmt.Errorf("link: self-loop on %s", a)
	}
	if b < a {
		a, b = b, a
	}
	return CalendarLink{EventIDLow: a, EventIDHigh: b, CreatedBy: createdBy, CreatedAt: at}, nil
}

// Other returns the endpoint opposite id.
func (l CalendarLink) Other(id string) string {
	if l.EventIDLow == id {
		return l.EventIDHigh
	}
	return l.EventIDLow
}

// Touches reports whether id is one of the endpoints.
func (l CalendarLink) Touches(id string) bool {
	return l.EventIDLow == id || l.EventIDHigh == id
}

// ConflictType names a class of double-booking.
type ConflictType string

const (
	ConflictOverlappingRequests       ConflictType = "OVERLAPPING_REQUESTS"
	ConflictCalendar                  ConflictType = "CALENDAR_CONFLICT"
	ConflictOverlappingCalendarEvents ConflictType = "OVERLAPPING_CALENDAR_EVENTS"
)

type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ConflictRecord is recomputed on demand and never persisted.
type ConflictRecord struct {
	Type         ConflictType `json:"type"`
	Severity     Severity     `json:"severity"`
	Reservations []string     `json:"reservations"`
	Events       []string     `json:"events"`
}

// NewConflictRecord copies and sorts the participant ids.
func NewConflictRecord(t ConflictType, sev Severity, reservations, events []string) ConflictRecord {
	return ConflictRecord{
		Type:         t,
		Severity:     sev,
		Reservations: sortedCopy(reservations),
		Events:       sortedCopy(events),
	}
}

// NotifiedConflict is one row of the notification ledger.
type NotifiedConflict struct {
	ConflictKey    string       `json:"conflict_key"`
	ConflictType   ConflictType `json:"conflict_type"`
	NotifiedAt     time.Time    `json:"notified_at"`
	EventIDs       []string     `json:"event_ids"`
	ReservationIDs []string     `json:"reservation_ids"`
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
