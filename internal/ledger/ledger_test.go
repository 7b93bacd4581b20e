package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"calrecon/internal/clock"
	"calrecon/internal/model"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]model.NotifiedConflict
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]model.NotifiedConflict{}}
}

func (s *fakeStore) Exists(_ context.Context, key string, t model.ConflictType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	return ok && row.ConflictType == t, nil
}

func (s *fakeStore) Insert(_ context.Context, row model.NotifiedConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.ConflictKey]; !ok {
		s.rows[row.ConflictKey] = row
	}
	return nil
}

func (s *fakeStore) DeleteWhere(_ context.Context, f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, row := range s.rows {
		if f.Matches(row) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

func TestKeyIgnoresOrderButNotType(t *testing.T) {
	a := model.ConflictRecord{Type: model.ConflictOverlappingCalendarEvents, Events: []string{"E2", "E1"}}
	b := model.ConflictRecord{Type: model.ConflictOverlappingCalendarEvents, Events: []string{"E1", "E2"}}
	if Key(a) != Key(b) {
		t.Error("key depends on participant order")
	}

	c := b
	c.Type = model.ConflictCalendar
	if Key(b) == Key(c) {
		t.Error("key ignores conflict type")
	}

	// The same id as a reservation and as an event is a different conflict.
	r := model.ConflictRecord{Type: model.ConflictCalendar, Reservations: []string{"X"}, Events: []string{"Y"}}
	e := model.ConflictRecord{Type: model.ConflictCalendar, Reservations: []string{"Y"}, Events: []string{"X"}}
	if Key(r) == Key(e) {
		t.Error("key does not distinguish reservation from event ids")
	}

	if len(Key(a)) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(Key(a)))
	}
}

func TestSeenMarkReset(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	l := New(store, clock.NewFakeClock(now))

	events := model.NewConflictRecord(model.ConflictOverlappingCalendarEvents, model.SeverityHigh, nil, []string{"E1", "E2"})
	cal := model.NewConflictRecord(model.ConflictCalendar, model.SeverityHigh, []string{"R1"}, []string{"E9"})

	for _, r := range []model.ConflictRecord{events, cal} {
		if seen, _ := l.Seen(ctx, r); seen {
			t.Fatalf("%s seen before mark", r.Type)
		}
		if err := l.Mark(ctx, r); err != nil {
			t.Fatal(err)
		}
		if seen, _ := l.Seen(ctx, r); !seen {
			t.Fatalf("%s not seen after mark", r.Type)
		}
	}

	row := store.rows[Key(events)]
	if !row.NotifiedAt.Equal(now) || len(row.EventIDs) != 2 {
		t.Errorf("stored row = %+v", row)
	}

	n, err := l.ResetForEvents(ctx, []string{"E2", "unrelated"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("reset removed %d rows, want 1", n)
	}
	if seen, _ := l.Seen(ctx, events); seen {
		t.Error("reset conflict still seen")
	}
	if seen, _ := l.Seen(ctx, cal); !seen {
		t.Error("untouched conflict was reset")
	}

	if n, _ := l.ResetForEvents(ctx, nil); n != 0 {
		t.Errorf("empty reset removed %d rows", n)
	}
}

func TestFilterMatches(t *testing.T) {
	row := model.NotifiedConflict{ConflictKey: "k1", ConflictType: model.ConflictCalendar, EventIDs: []string{"E1"}, ReservationIDs: []string{"R1"}}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"event hit", Filter{EventIDs: []string{"E0", "E1"}}, true},
		{"event miss", Filter{EventIDs: []string{"E2"}}, false},
		{"type and event", Filter{EventIDs: []string{"E1"}, Types: []model.ConflictType{model.ConflictOverlappingCalendarEvents}}, false},
		{"key", Filter{Keys: []string{"k1"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(row); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
