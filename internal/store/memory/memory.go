// Package memory implements every engine collaborator in process. It backs
// the --memory dev mode and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"calrecon/internal/ledger"
	"calrecon/internal/linkgraph"
	"calrecon/internal/model"
)

type Reservations struct {
	mu    sync.RWMutex
	items map[string]model.Reservation
}

func NewReservations(rs ...model.Reservation) *Reservations {
	s := &Reservations{items: make(map[string]model.Reservation, len(rs))}
	for _, r := range rs {
		s.items[r.ID] = r
	}
	return s
}

func (s *Reservations) Put(r model.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[r.ID] = r
}

func (s *Reservations) Get(_ context.Context, id string) (model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	if !ok {
		return model.Reservation{}, model.ErrNotFound
	}
	return r, nil
}

// FindActive returns reservations in statuses whose stay intersects window,
// ordered by check-in.
func (s *Reservations) FindActive(_ context.Context, window model.Window, statuses ...model.Status) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Reservation, 0, len(s.items))
	for _, r := range s.items {
		if !hasStatus(statuses, r.Status) {
			continue
		}
		// Keep malformed rows so the calculator can log them.
		if r.CheckIn.After(window.To) || r.CheckOut.Before(window.From) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].CheckIn.Compare(out[j].CheckIn); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func hasStatus(statuses []model.Status, s model.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Calendar is a writable stand-in for the shared calendar.
type Calendar struct {
	mu      sync.RWMutex
	entries map[string]model.ExternalCalendarEntry
}

func NewCalendar(entries ...model.ExternalCalendarEntry) *Calendar {
	c := &Calendar{entries: make(map[string]model.ExternalCalendarEntry, len(entries))}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

func (c *Calendar) Put(e model.ExternalCalendarEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ID] = e
}

func (c *Calendar) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// FetchEntries returns entries intersecting [from, to), ordered by start.
func (c *Calendar) FetchEntries(_ context.Context, from, to time.Time) ([]model.ExternalCalendarEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ExternalCalendarEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if Intersects(e, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Intersects reports whether e overlaps [from, to). Zero-length entries count
// when their start falls inside.
func Intersects(e model.ExternalCalendarEntry, from, to time.Time) bool {
	if !e.Start.Before(to) {
		return false
	}
	return e.End.After(from) || !e.Start.Before(from)
}

func (c *Calendar) FetchEntry(_ context.Context, id string) (model.ExternalCalendarEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return model.ExternalCalendarEntry{}, model.ErrNotFound
	}
	return e, nil
}

func (c *Calendar) SetColor(_ context.Context, id, color string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return model.ErrNotFound
	}
	e.ColorTag = color
	c.entries[id] = e
	return nil
}

// Links is a LinkStore with snapshot transactions.
type Links struct {
	tx    sync.Mutex
	mu    sync.RWMutex
	links map[[2]string]model.CalendarLink
}

var (
	_ linkgraph.LinkStore  = (*Links)(nil)
	_ linkgraph.Transactor = (*Links)(nil)
)

func NewLinks(links ...model.CalendarLink) *Links {
	s := &Links{links: make(map[[2]string]model.CalendarLink, len(links))}
	for _, l := range links {
		s.links[[2]string{l.EventIDLow, l.EventIDHigh}] = l
	}
	return s
}

func (s *Links) FindLinks(_ context.Context, eventIDs []string) ([]model.CalendarLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarLink, 0)
	for _, l := range s.links {
		if len(eventIDs) == 0 || (linkgraph.LinkFilter{Touching: eventIDs}).Matches(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventIDLow != out[j].EventIDLow {
			return out[i].EventIDLow < out[j].EventIDLow
		}
		return out[i].EventIDHigh < out[j].EventIDHigh
	})
	return out, nil
}

func (s *Links) UpsertLink(_ context.Context, l model.CalendarLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{l.EventIDLow, l.EventIDHigh}
	if _, ok := s.links[key]; !ok {
		s.links[key] = l
	}
	return nil
}

func (s *Links) DeleteLinks(_ context.Context, f linkgraph.LinkFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, l := range s.links {
		if f.Matches(l) {
			delete(s.links, k)
			n++
		}
	}
	return n, nil
}

// InTx serializes fn against other transactions and restores the previous
// links if fn fails.
func (s *Links) InTx(ctx context.Context, fn func(context.Context, linkgraph.LinkStore) error) error {
	s.tx.Lock()
	defer s.tx.Unlock()

	s.mu.RLock()
	snapshot := make(map[[2]string]model.CalendarLink, len(s.links))
	for k, v := range s.links {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.links = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Ledger is a ledger.Store keyed by conflict key.
type Ledger struct {
	mu   sync.Mutex
	rows map[string]model.NotifiedConflict
}

var _ ledger.Store = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{rows: make(map[string]model.NotifiedConflict)}
}

func (l *Ledger) Exists(_ context.Context, key string, t model.ConflictType) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key]
	return ok && row.ConflictType == t, nil
}

func (l *Ledger) Insert(_ context.Context, row model.NotifiedConflict) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[row.ConflictKey]; !ok {
		l.rows[row.ConflictKey] = row
	}
	return nil
}

func (l *Ledger) DeleteWhere(_ context.Context, f ledger.Filter) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, row := range l.rows {
		if f.Matches(row) {
			delete(l.rows, k)
			n++
		}
	}
	return n, nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Locker grants named leases within one process.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) TryAcquire(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

// Colors keeps color overrides for read-only calendars.
type Colors struct {
	mu     sync.RWMutex
	colors map[string]string
}

func NewColors() *Colors {
	return &Colors{colors: make(map[string]string)}
}

func (c *Colors) Colors(_ context.Context, ids []string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if v, ok := c.colors[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (c *Colors) PutColor(_ context.Context, id, color string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.colors[id] = color
	return nil
}
