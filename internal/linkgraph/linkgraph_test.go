package linkgraph

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"calrecon/internal/clock"
	"calrecon/internal/conflict"
	"calrecon/internal/model"
)

type fakeLinks struct {
	links []model.CalendarLink
	txs   int
}

func (f *fakeLinks) FindLinks(_ context.Context, ids []string) ([]model.CalendarLink, error) {
	if len(ids) == 0 {
		return append([]model.CalendarLink(nil), f.links...), nil
	}
	var out []model.CalendarLink
	for _, l := range f.links {
		for _, id := range ids {
			if l.Touches(id) {
				out = append(out, l)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLinks) UpsertLink(_ context.Context, l model.CalendarLink) error {
	for _, have := range f.links {
		if have.EventIDLow == l.EventIDLow && have.EventIDHigh == l.EventIDHigh {
			return nil
		}
	}
	f.links = append(f.links, l)
	return nil
}

func (f *fakeLinks) DeleteLinks(_ context.Context, filter LinkFilter) (int, error) {
	kept := f.links[:0]
	n := 0
	for _, l := range f.links {
		if filter.Matches(l) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	f.links = kept
	return n, nil
}

func (f *fakeLinks) pairs() [][2]string {
	out := make([][2]string, 0, len(f.links))
	for _, l := range f.links {
		out = append(out, [2]string{l.EventIDLow, l.EventIDHigh})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0]+out[i][1] < out[j][0]+out[j][1] })
	return out
}

type txLinks struct{ *fakeLinks }

func (t txLinks) InTx(ctx context.Context, fn func(context.Context, LinkStore) error) error {
	t.txs++
	return fn(ctx, t.fakeLinks)
}

type fakeProvider struct {
	entries map[string]model.ExternalCalendarEntry
	colors  map[string]string
	failFor map[string]bool
}

func (p *fakeProvider) FetchEntry(_ context.Context, id string) (model.ExternalCalendarEntry, error) {
	e, ok := p.entries[id]
	if !ok {
		return model.ExternalCalendarEntry{}, model.ErrNotFound
	}
	return e, nil
}

func (p *fakeProvider) SetColor(_ context.Context, id, color string) error {
	if p.failFor[id] {
		return errors.New("provider rejected color")
	}
	p.colors[id] = color
	return nil
}

type fakeResetter struct{ calls [][]string }

func (r *fakeResetter) ResetForEvents(_ context.Context, ids []string) (int, error) {
	r.calls = append(r.calls, append([]string(nil), ids...))
	return len(ids), nil
}

func entry(id string, fromDay, toDay int) model.ExternalCalendarEntry {
	return model.ExternalCalendarEntry{
		ID:    id,
		Title: id,
		Start: time.Date(2025, 7, fromDay, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 7, toDay, 0, 0, 0, 0, time.UTC),
	}
}

func newProvider(entries ...model.ExternalCalendarEntry) *fakeProvider {
	p := &fakeProvider{entries: map[string]model.ExternalCalendarEntry{}, colors: map[string]string{}, failFor: map[string]bool{}}
	for _, e := range entries {
		p.entries[e.ID] = e
	}
	return p
}

func newManager(links LinkStore, p *fakeProvider, r *fakeResetter, scopes *[]conflict.Scope) *Manager {
	rescan := func(_ context.Context, s conflict.Scope) error {
		if scopes != nil {
			*scopes = append(*scopes, s)
		}
		return nil
	}
	var resetter Resetter
	if r != nil {
		resetter = r
	}
	return NewManager(links, p, resetter, rescan, Options{
		Location:     time.UTC,
		InfoColorTag: "8",
		Clock:        clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
}

func mustLink(t *testing.T, a, b string) model.CalendarLink {
	t.Helper()
	l, err := model.NewCalendarLink(a, b, "seed", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestGroupConnectedChain(t *testing.T) {
	links := &fakeLinks{}
	p := newProvider(entry("E1", 1, 5), entry("E2", 6, 9), entry("E3", 9, 12))
	m := newManager(links, p, nil, nil)

	res, err := m.Group(context.Background(), []string{"E1", "E2", "E3"}, "5", "admin")
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if res.LinksUpserted != 3 {
		t.Errorf("LinksUpserted = %d, want 3", res.LinksUpserted)
	}
	want := [][2]string{{"E1", "E2"}, {"E1", "E3"}, {"E2", "E3"}}
	if got := links.pairs(); !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
	for _, id := range []string{"E1", "E2", "E3"} {
		if p.colors[id] != "5" {
			t.Errorf("color of %s = %q", id, p.colors[id])
		}
	}

	// Regrouping is idempotent.
	if _, err := m.Group(context.Background(), []string{"E3", "E1", "E2"}, "5", "admin"); err != nil {
		t.Fatal(err)
	}
	if len(links.links) != 3 {
		t.Errorf("regroup created duplicates: %v", links.pairs())
	}
}

func TestGroupRejectsDisconnected(t *testing.T) {
	links := &fakeLinks{}
	// E3 starts two days after E2 ends.
	p := newProvider(entry("E1", 1, 5), entry("E2", 5, 9), entry("E3", 11, 14))
	m := newManager(links, p, nil, nil)

	_, err := m.Group(context.Background(), []string{"E1", "E2", "E3"}, "5", "admin")
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("Group() error = %v, want ConnectivityError", err)
	}
	if ce.From != "E1" || ce.To != "E3" {
		t.Errorf("unreachable pair = (%s, %s), want (E1, E3)", ce.From, ce.To)
	}
	if len(links.links) != 0 || len(p.colors) != 0 {
		t.Errorf("rejected group wrote links %v colors %v", links.pairs(), p.colors)
	}
}

func TestGroupThroughExistingPool(t *testing.T) {
	// E2 is far from E3 but already linked to E1, which touches E3.
	links := &fakeLinks{links: []model.CalendarLink{mustLink(t, "E1", "E2")}}
	p := newProvider(entry("E1", 10, 14), entry("E2", 1, 10), entry("E3", 15, 18))
	m := newManager(links, p, nil, nil)

	res, err := m.Group(context.Background(), []string{"E2", "E3"}, "5", "admin")
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if !reflect.DeepEqual(res.Members, []string{"E1", "E2", "E3"}) {
		t.Errorf("members = %v", res.Members)
	}
	if p.colors["E1"] != "5" {
		t.Error("pooled member not recolored")
	}
}

func TestGroupMissingEntry(t *testing.T) {
	links := &fakeLinks{}
	m := newManager(links, newProvider(entry("E1", 1, 5)), nil, nil)

	_, err := m.Group(context.Background(), []string{"E1", "ghost"}, "5", "admin")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.EventID != "ghost" {
		t.Fatalf("Group() error = %v, want NotFoundError for ghost", err)
	}
	if !errors.Is(err, model.ErrNotFound) {
		t.Error("NotFoundError does not unwrap to model.ErrNotFound")
	}
	if len(links.links) != 0 {
		t.Error("links written despite missing entry")
	}
}

func TestGroupValidation(t *testing.T) {
	m := newManager(&fakeLinks{}, newProvider(entry("E1", 1, 5), entry("E2", 5, 7)), nil, nil)
	tests := []struct {
		name  string
		ids   []string
		color string
	}{
		{"single id", []string{"E1", "E1"}, "5"},
		{"empty color", []string{"E1", "E2"}, " "},
		{"info color", []string{"E1", "E2"}, "8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Group(context.Background(), tt.ids, tt.color, "admin"); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Group() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestGroupColorFailureKeepsLinks(t *testing.T) {
	links := &fakeLinks{}
	p := newProvider(entry("E1", 1, 5), entry("E2", 5, 9))
	p.failFor["E2"] = true
	m := newManager(links, p, nil, nil)

	res, err := m.Group(context.Background(), []string{"E1", "E2"}, "5", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.ColorFailures["E2"]; !ok || len(links.links) != 1 {
		t.Errorf("result = %+v, links = %v", res, links.pairs())
	}
}

func TestUngroupMiddleOfChain(t *testing.T) {
	links := &fakeLinks{links: []model.CalendarLink{mustLink(t, "A", "B"), mustLink(t, "B", "C")}}
	p := newProvider()
	reset := &fakeResetter{}
	var scopes []conflict.Scope
	m := newManager(links, p, reset, &scopes)

	res, err := m.UngroupSingle(context.Background(), "B")
	if err != nil {
		t.Fatal(err)
	}
	if len(links.links) != 0 {
		t.Errorf("links left after ungroup: %v", links.pairs())
	}
	if !reflect.DeepEqual(res.Component, []string{"A", "B", "C"}) {
		t.Errorf("component = %v", res.Component)
	}
	if p.colors["A"] == p.colors["C"] || p.colors["A"] == "" {
		t.Errorf("A and C colors = %q, %q", p.colors["A"], p.colors["C"])
	}
	for _, id := range []string{"A", "B", "C"} {
		if p.colors[id] != UniqueColor(id, "8") {
			t.Errorf("color of %s = %q, want deterministic %q", id, p.colors[id], UniqueColor(id, "8"))
		}
	}
	if len(reset.calls) != 1 || !reflect.DeepEqual(reset.calls[0], []string{"A", "B", "C"}) {
		t.Errorf("ledger resets = %v", reset.calls)
	}
	if len(scopes) != 1 || !reflect.DeepEqual(scopes[0].EventIDs, []string{"A", "B", "C"}) || !res.Rescanned {
		t.Errorf("rescan scopes = %+v", scopes)
	}
}

func TestUngroupFullyFragmentsLongChain(t *testing.T) {
	links := &fakeLinks{links: []model.CalendarLink{
		mustLink(t, "A", "B"), mustLink(t, "B", "C"), mustLink(t, "C", "D"), mustLink(t, "X", "Y"),
	}}
	tx := txLinks{links}
	m := newManager(tx, newProvider(), &fakeResetter{}, nil)

	res, err := m.UngroupSingle(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	if got := links.pairs(); !reflect.DeepEqual(got, [][2]string{{"X", "Y"}}) {
		t.Errorf("links = %v, want only X-Y", got)
	}
	if len(res.Colors) != 4 {
		t.Errorf("recolored %d members, want 4", len(res.Colors))
	}
	if links.txs != 1 {
		t.Errorf("transactions = %d, want 1", links.txs)
	}
}

func TestUngroupPair(t *testing.T) {
	links := &fakeLinks{links: []model.CalendarLink{mustLink(t, "A", "B")}}
	p := newProvider()
	m := newManager(links, p, &fakeResetter{}, nil)

	res, err := m.UngroupSingle(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	if res.LinksDeleted != 1 || len(links.links) != 0 {
		t.Errorf("result = %+v", res)
	}
	if p.colors["B"] != UniqueColor("B", "8") || p.colors["A"] != UniqueColor("A", "8") {
		t.Errorf("colors = %v", p.colors)
	}
}

func TestUniqueColor(t *testing.T) {
	hex := regexp.MustCompile(`^#[0-9a-f]{6}$`)
	a := UniqueColor("event-1", "")
	if !hex.MatchString(a) {
		t.Fatalf("UniqueColor() = %q", a)
	}
	if a != UniqueColor("event-1", "") {
		t.Error("UniqueColor is not deterministic")
	}
	if a == UniqueColor("event-2", "") {
		t.Error("distinct ids share a color")
	}
	if got := UniqueColor("event-1", a); got == a || !hex.MatchString(got) {
		t.Errorf("reserved color returned: %q", got)
	}
}

func TestDistinctColorsResolvesCollisions(t *testing.T) {
	first := UniqueColor("E1", "")
	taken := map[string]struct{}{strings.ToUpper(first): {}}

	got := distinctColors([]string{"E1"}, "", taken)["E1"]
	if got == first {
		t.Fatalf("taken color %q reused", got)
	}
	if again := distinctColors([]string{"E1"}, "", taken)["E1"]; again != got {
		t.Errorf("re-seeded color not deterministic: %q vs %q", got, again)
	}
	if got != hashColor("E1#") {
		t.Errorf("re-seeded color = %q, want %q", got, hashColor("E1#"))
	}

	ids := []string{"E3", "E1", "E2", "E1"}
	a := distinctColors(ids, "8", nil)
	b := distinctColors([]string{"E2", "E3", "E1"}, "8", nil)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("colors depend on input order: %v vs %v", a, b)
	}
	seen := map[string]string{}
	for id, c := range a {
		if prev, dup := seen[c]; dup {
			t.Errorf("%s and %s share color %s", prev, id, c)
		}
		seen[c] = id
	}
	if len(a) != 3 {
		t.Errorf("got %d colors, want 3", len(a))
	}
}

func TestLinkFilter(t *testing.T) {
	l := mustLink(t, "A", "B")
	tests := []struct {
		name   string
		filter LinkFilter
		want   bool
	}{
		{"empty", LinkFilter{}, false},
		{"touching", LinkFilter{Touching: []string{"B"}}, true},
		{"within both", LinkFilter{Within: []string{"A", "B", "C"}}, true},
		{"within one", LinkFilter{Within: []string{"A", "C"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(l); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
