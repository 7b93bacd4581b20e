// Package linkgraph keeps the undirected graph of calendar entries that stand
// for one merged stay, and implements group / ungroup on top of it.
package linkgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"calrecon/internal/classify"
	"calrecon/internal/clock"
	"calrecon/internal/conflict"
	"calrecon/internal/daycalc"
	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

// ErrInvalidInput marks requests rejected before touching any store.
var ErrInvalidInput = errors.New("invalid link request")

// ConnectivityError names the first requested entry that cannot be reached
// from the first one through links or adjacency.
type ConnectivityError struct {
	From string
	To   string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("events %s and %s are not connected", e.From, e.To)
}

// NotFoundError reports an event id the calendar provider does not know.
type NotFoundError struct {
	EventID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("calendar event %s not found", e.EventID)
}

func (e *NotFoundError) Unwrap() error { return model.ErrNotFound }

// LinkFilter selects links to delete. A link matches if it touches any id in
// Touching or has both endpoints in Within. An empty filter matches nothing.
type LinkFilter struct {
	Touching []string
	Within   []string
}

func (f LinkFilter) Matches(l model.CalendarLink) bool {
	for _, id := range f.Touching {
		if l.Touches(id) {
			return true
		}
	}
	if len(f.Within) > 0 {
		low, high := false, false
		for _, id := range f.Within {
			low = low || id == l.EventIDLow
			high = high || id == l.EventIDHigh
		}
		return low && high
	}
	return false
}

// LinkStore persists links. FindLinks with no ids returns every link.
// UpsertLink on an existing pair is a no-op.
type LinkStore interface {
	FindLinks(ctx context.Context, eventIDs []string) ([]model.CalendarLink, error)
	UpsertLink(ctx context.Context, link model.CalendarLink) error
	DeleteLinks(ctx context.Context, filter LinkFilter) (int, error)
}

// Transactor is implemented by link stores that can run a read-then-write
// sequence atomically. fn receives a store bound to the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, links LinkStore) error) error
}

// Provider is the slice of the calendar provider the graph needs.
type Provider interface {
	FetchEntry(ctx context.Context, id string) (model.ExternalCalendarEntry, error)
	SetColor(ctx context.Context, id, color string) error
}

// Resetter forgets notified conflicts involving the given events.
type Resetter interface {
	ResetForEvents(ctx context.Context, eventIDs []string) (int, error)
}

// RescanFunc re-runs detection and notification for a scope.
type RescanFunc func(ctx context.Context, scope conflict.Scope) error

type Options struct {
	Location     *time.Location
	InfoColorTag string
	Clock        clock.Clock
}

type Manager struct {
	links    LinkStore
	provider Provider
	ledger   Resetter
	rescan   RescanFunc
	opts     Options
}

func NewManager(links LinkStore, provider Provider, ledger Resetter, rescan RescanFunc, opts Options) *Manager {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Manager{links: links, provider: provider, ledger: ledger, rescan: rescan, opts: opts}
}

// SetRescan replaces the rescan hook. The engine wires itself in after
// construction.
func (m *Manager) SetRescan(fn RescanFunc) {
	m.rescan = fn
}

func (m *Manager) withLinks(ctx context.Context, fn func(ctx context.Context, links LinkStore) error) error {
	if tx, ok := m.links.(Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(ctx, m.links)
}

// Component returns the ids transitively linked to seeds (seeds first, then
// discovered ids sorted) together with every link among them.
func Component(ctx context.Context, links LinkStore, seeds []string) ([]string, []model.CalendarLink, error) {
	seen := make(map[string]struct{}, len(seeds))
	nodes := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			nodes = append(nodes, id)
		}
	}

	edges := make(map[model.CalendarLink]struct{})
	var found []model.CalendarLink
	var discovered []string
	frontier := append([]string(nil), nodes...)
	for len(frontier) > 0 {
		batch, err := links.FindLinks(ctx, frontier)
		if err != nil {
			return nil, nil, fmt.Errorf("find links: %w", err)
		}
		frontier = frontier[:0]
		for _, l := range batch {
			key := model.CalendarLink{EventIDLow: l.EventIDLow, EventIDHigh: l.EventIDHigh}
			if _, ok := edges[key]; !ok {
				edges[key] = struct{}{}
				found = append(found, l)
			}
			for _, id := range []string{l.EventIDLow, l.EventIDHigh} {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					discovered = append(discovered, id)
					frontier = append(frontier, id)
				}
			}
		}
	}
	sort.Strings(discovered)
	return append(nodes, discovered...), found, nil
}

// interval fetches id and derives its day range; ok is false when the
// provider does not know it.
func (m *Manager) interval(ctx context.Context, id string) (daycalc.Interval, bool, error) {
	e, err := m.provider.FetchEntry(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return daycalc.Interval{}, false, nil
	}
	if err != nil {
		return daycalc.Interval{}, false, fmt.Errorf("fetch entry %s: %w", id, err)
	}
	in, out := classify.DayRange(e, m.opts.Location)
	if out.Before(in) {
		appLog.Warn("linkgraph: entry ends before it starts", "id", id)
		return daycalc.Interval{}, false, nil
	}
	return daycalc.Interval{ID: id, Source: "calendar", CheckIn: in, CheckOut: out}, true, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
