package conflict

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"calrecon/internal/model"
)

func date(month, day int) model.Date {
	return model.NewDate(2025, time.Month(month), day)
}

func res(id string, status model.Status, inM, inD, outM, outD int) model.Reservation {
	return model.Reservation{ID: id, Status: status, CheckIn: date(inM, inD), CheckOut: date(outM, outD)}
}

func block(id string, inM, inD, outM, outD int) model.ClassifiedEntry {
	return model.ClassifiedEntry{
		Entry:    model.ExternalCalendarEntry{ID: id, Title: id},
		Kind:     model.KindManualBlock,
		CheckIn:  date(inM, inD),
		CheckOut: date(outM, outD),
	}
}

func link(t *testing.T, a, b string) model.CalendarLink {
	t.Helper()
	l, err := model.NewCalendarLink(a, b, "test", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func ofType(records []model.ConflictRecord, typ model.ConflictType) []model.ConflictRecord {
	var out []model.ConflictRecord
	for _, r := range records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestOverlappingRequestsSeverity(t *testing.T) {
	tests := []struct {
		name         string
		reservations []model.Reservation
		want         []model.ConflictRecord
	}{
		{
			name: "two approved overlap is high",
			reservations: []model.Reservation{
				res("R1", model.StatusApproved, 6, 10, 6, 15),
				res("R2", model.StatusApproved, 6, 12, 6, 18),
			},
			want: []model.ConflictRecord{
				model.NewConflictRecord(model.ConflictOverlappingRequests, model.SeverityHigh, []string{"R1", "R2"}, nil),
			},
		},
		{
			name: "pending pair is medium",
			reservations: []model.Reservation{
				res("R1", model.StatusApproved, 6, 10, 6, 15),
				res("R2", model.StatusPending, 6, 12, 6, 18),
			},
			want: []model.ConflictRecord{
				model.NewConflictRecord(model.ConflictOverlappingRequests, model.SeverityMedium, []string{"R1", "R2"}, nil),
			},
		},
		{
			name: "transitive cluster of three is high",
			reservations: []model.Reservation{
				res("R1", model.StatusPending, 6, 1, 6, 5),
				res("R2", model.StatusPending, 6, 4, 6, 9),
				res("R3", model.StatusPending, 6, 8, 6, 12),
			},
			want: []model.ConflictRecord{
				model.NewConflictRecord(model.ConflictOverlappingRequests, model.SeverityHigh, []string{"R1", "R2"}, nil),
				model.NewConflictRecord(model.ConflictOverlappingRequests, model.SeverityHigh, []string{"R2", "R3"}, nil),
			},
		},
		{
			name: "turnover is not an overlap",
			reservations: []model.Reservation{
				res("R1", model.StatusApproved, 6, 10, 6, 15),
				res("R2", model.StatusApproved, 6, 15, 6, 20),
			},
			want: nil,
		},
		{
			name: "cancelled and rejected ignored",
			reservations: []model.Reservation{
				res("R1", model.StatusApproved, 6, 10, 6, 15),
				res("R2", model.StatusCancelled, 6, 10, 6, 15),
				res("R3", model.StatusRejected, 6, 11, 6, 13),
			},
			want: nil,
		},
		{
			name: "malformed reservation skipped",
			reservations: []model.Reservation{
				res("R1", model.StatusApproved, 6, 10, 6, 15),
				res("bad", model.StatusApproved, 6, 14, 6, 11),
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ofType(DetectAll(Input{Reservations: tt.reservations}), model.ConflictOverlappingRequests)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestCalendarConflictAgainstManualBlocksOnly(t *testing.T) {
	mirror := block("mirror", 6, 10, 6, 15)
	mirror.Kind = model.KindAppBookingMirror
	info := block("info", 6, 10, 6, 15)
	info.Kind = model.KindInfo

	got := DetectAll(Input{
		Reservations: []model.Reservation{
			res("R1", model.StatusApproved, 6, 10, 6, 15),
			res("R2", model.StatusPending, 6, 20, 6, 25),
		},
		Entries: []model.ClassifiedEntry{
			mirror,
			info,
			block("owner", 6, 14, 6, 16),
			block("after", 6, 25, 6, 27),
		},
	})

	want := []model.ConflictRecord{
		model.NewConflictRecord(model.ConflictCalendar, model.SeverityHigh, []string{"R1"}, []string{"owner"}),
	}
	if cal := ofType(got, model.ConflictCalendar); !reflect.DeepEqual(cal, want) {
		t.Errorf("calendar conflicts = %+v, want %+v", cal, want)
	}
}

func TestOverlappingCalendarEventsBoundaryTouch(t *testing.T) {
	got := DetectAll(Input{
		Entries: []model.ClassifiedEntry{
			block("E1", 7, 1, 7, 5),
			block("E2", 7, 5, 7, 9),
		},
	})
	want := []model.ConflictRecord{
		model.NewConflictRecord(model.ConflictOverlappingCalendarEvents, model.SeverityHigh, nil, []string{"E1", "E2"}),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLinkedEventsNeverSelfConflict(t *testing.T) {
	entries := []model.ClassifiedEntry{
		block("A", 7, 1, 7, 5),
		block("B", 7, 5, 7, 9),
		block("C", 7, 8, 7, 12),
		block("D", 7, 30, 8, 2),
	}

	t.Run("direct and transitive links suppress", func(t *testing.T) {
		got := DetectAll(Input{Entries: entries, Links: []model.CalendarLink{link(t, "A", "B"), link(t, "B", "C")}})
		if len(got) != 0 {
			t.Errorf("expected no conflicts, got %+v", got)
		}
	})

	t.Run("partial links leave unlinked pair", func(t *testing.T) {
		got := DetectAll(Input{Entries: entries, Links: []model.CalendarLink{link(t, "A", "B")}})
		want := []model.ConflictRecord{
			model.NewConflictRecord(model.ConflictOverlappingCalendarEvents, model.SeverityHigh, nil, []string{"B", "C"}),
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
}

func TestDetectIsOrderIndependent(t *testing.T) {
	reservations := []model.Reservation{
		res("R3", model.StatusApproved, 7, 2, 7, 6),
		res("R1", model.StatusApproved, 7, 1, 7, 4),
		res("R2", model.StatusPending, 7, 3, 7, 8),
	}
	entries := []model.ClassifiedEntry{block("E2", 7, 6, 7, 9), block("E1", 7, 1, 7, 3)}

	first := DetectAll(Input{Reservations: reservations, Entries: entries})

	reversedR := []model.Reservation{reservations[2], reservations[1], reservations[0]}
	reversedE := []model.ClassifiedEntry{entries[1], entries[0]}
	second := DetectAll(Input{Reservations: reversedR, Entries: reversedE})

	if !reflect.DeepEqual(first, second) {
		t.Errorf("detection depends on input order:\n%+v\n%+v", first, second)
	}
	if len(first) == 0 {
		t.Fatal("expected conflicts")
	}
}

func TestDetectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Detect(ctx, Input{Reservations: []model.Reservation{res("R1", model.StatusApproved, 6, 1, 6, 5)}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Detect() error = %v, want context.Canceled", err)
	}
}

func TestTouching(t *testing.T) {
	records := []model.ConflictRecord{
		model.NewConflictRecord(model.ConflictOverlappingRequests, model.SeverityHigh, []string{"R1", "R2"}, nil),
		model.NewConflictRecord(model.ConflictCalendar, model.SeverityHigh, []string{"R3"}, []string{"E1"}),
		model.NewConflictRecord(model.ConflictOverlappingCalendarEvents, model.SeverityHigh, nil, []string{"E2", "E3"}),
	}
	if got := Touching(records, Scope{}); len(got) != 3 {
		t.Errorf("empty scope filtered records: %d", len(got))
	}
	if got := Touching(records, Scope{EventIDs: []string{"E3"}}); len(got) != 1 || got[0].Type != model.ConflictOverlappingCalendarEvents {
		t.Errorf("event scope = %+v", got)
	}
	if got := Touching(records, Scope{ReservationIDs: []string{"R3", "R2"}}); len(got) != 2 {
		t.Errorf("reservation scope = %+v", got)
	}
}
