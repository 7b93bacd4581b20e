package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"calrecon/internal/linkgraph"
	"calrecon/internal/model"
)

func TestLinksTxRollback(t *testing.T) {
	ctx := context.Background()
	l, _ := model.NewCalendarLink("A", "B", "test", time.Time{})
	s := NewLinks(l)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, links linkgraph.LinkStore) error {
		if _, err := links.DeleteLinks(ctx, linkgraph.LinkFilter{Touching: []string{"A"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v", err)
	}
	got, _ := s.FindLinks(ctx, nil)
	if len(got) != 1 {
		t.Errorf("rollback lost links: %v", got)
	}
}

func TestFindActiveFiltersStatusAndWindow(t *testing.T) {
	d := func(day int) model.Date { return model.NewDate(2025, 6, day) }
	s := NewReservations(
		model.Reservation{ID: "in", Status: model.StatusApproved, CheckIn: d(10), CheckOut: d(15)},
		model.Reservation{ID: "pending", Status: model.StatusPending, CheckIn: d(10), CheckOut: d(15)},
		model.Reservation{ID: "cancelled", Status: model.StatusCancelled, CheckIn: d(10), CheckOut: d(15)},
		model.Reservation{ID: "late", Status: model.StatusApproved, CheckIn: d(25), CheckOut: d(28)},
	)
	got, err := s.FindActive(context.Background(), model.Window{From: d(1), To: d(20)}, model.StatusApproved)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "in" {
		t.Errorf("FindActive() = %+v", got)
	}
}

func TestLocker(t *testing.T) {
	l := NewLocker()
	release, ok, _ := l.TryAcquire(context.Background(), "maintenance")
	if !ok {
		t.Fatal("first acquire failed")
	}
	if _, ok, _ := l.TryAcquire(context.Background(), "maintenance"); ok {
		t.Fatal("lease granted twice")
	}
	release()
	if _, ok, _ := l.TryAcquire(context.Background(), "maintenance"); !ok {
		t.Fatal("lease not released")
	}
}

func TestCalendarIntersects(t *testing.T) {
	at := func(day int) time.Time { return time.Date(2025, 7, day, 0, 0, 0, 0, time.UTC) }
	c := NewCalendar(
		model.ExternalCalendarEntry{ID: "before", Start: at(1), End: at(5)},
		model.ExternalCalendarEntry{ID: "inside", Start: at(6), End: at(8)},
		model.ExternalCalendarEntry{ID: "instant", Start: at(9), End: at(9)},
	)
	got, _ := c.FetchEntries(context.Background(), at(5), at(10))
	if len(got) != 2 || got[0].ID != "inside" || got[1].ID != "instant" {
		t.Errorf("FetchEntries() = %+v", got)
	}
	if err := c.SetColor(context.Background(), "missing", "#000000"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetColor() error = %v", err)
	}
}
