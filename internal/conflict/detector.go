// Package conflict finds double-bookings between reservations and manual
// calendar blocks.
package conflict

import (
	"context"
	"sort"
	"strings"

	"calrecon/internal/daycalc"
	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

// Input is one detection pass worth of data. Entries must already be
// classified; only manual blocks take part.
type Input struct {
	Reservations []model.Reservation
	Entries      []model.ClassifiedEntry
	Links        []model.CalendarLink
}

// DetectAll runs a detection pass without a deadline.
func DetectAll(in Input) []model.ConflictRecord {
	out, _ := Detect(context.Background(), in)
	return out
}

// Detect returns every conflict in in, sorted so that the result does not
// depend on input order. It stops early with ctx.Err() when ctx is done.
func Detect(ctx context.Context, in Input) ([]model.ConflictRecord, error) {
	active := activeReservations(in.Reservations)
	blocks := manualBlocks(in.Entries)

	var out []model.ConflictRecord

	requests, err := overlappingRequests(ctx, active)
	if err != nil {
		return nil, err
	}
	out = append(out, requests...)

	calendar, err := calendarConflicts(ctx, active, blocks)
	if err != nil {
		return nil, err
	}
	out = append(out, calendar...)

	events, err := overlappingEvents(ctx, blocks, in.Links)
	if err != nil {
		return nil, err
	}
	out = append(out, events...)

	sortRecords(out)
	return out, nil
}

func activeReservations(in []model.Reservation) []model.Reservation {
	out := make([]model.Reservation, 0, len(in))
	for _, r := range in {
		if !r.Status.Active() {
			continue
		}
		if err := daycalc.Validate(daycalc.FromReservation(r)); err != nil {
			appLog.Error("conflict: skipping reservation", err, "reservation_id", r.ID)
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
	return out
}

func manualBlocks(in []model.ClassifiedEntry) []model.ClassifiedEntry {
	out := make([]model.ClassifiedEntry, 0, len(in))
	for _, e := range in {
		if e.Kind != model.KindManualBlock {
			continue
		}
		if err := daycalc.Validate(daycalc.FromEntry(e)); err != nil {
			appLog.Error("conflict: skipping calendar entry", err, "event_id", e.Entry.ID)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].CheckIn.Compare(out[j].CheckIn); c != 0 {
			return c < 0
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	return out
}

// overlappingRequests reports every overlapping pair of active reservations.
// A pair is HIGH when both are approved or when it sits in a transitive
// overlap cluster of three or more.
func overlappingRequests(ctx context.Context, active []model.Reservation) ([]model.ConflictRecord, error) {
	type pair struct{ a, b int }
	var pairs []pair
	uf := newUnionFind(len(active))

	for i := range active {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := daycalc.FromReservation(active[i])
		for j := i + 1; j < len(active); j++ {
			b := daycalc.FromReservation(active[j])
			if !b.CheckIn.Before(a.CheckOut) {
				break
			}
			if daycalc.Overlaps(a, b) {
				pairs = append(pairs, pair{i, j})
				uf.union(i, j)
			}
		}
	}

	out := make([]model.ConflictRecord, 0, len(pairs))
	for _, p := range pairs {
		ra, rb := active[p.a], active[p.b]
		sev := model.SeverityMedium
		if (ra.Status == model.StatusApproved && rb.Status == model.StatusApproved) || uf.size(p.a) >= 3 {
			sev = model.SeverityHigh
		}
		out = append(out, model.NewConflictRecord(model.ConflictOverlappingRequests, sev, []string{ra.ID, rb.ID}, nil))
	}
	return out, nil
}

func calendarConflicts(ctx context.Context, active []model.Reservation, blocks []model.ClassifiedEntry) ([]model.ConflictRecord, error) {
	var out []model.ConflictRecord
	for _, r := range active {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ri := daycalc.FromReservation(r)
		for _, b := range blocks {
			bi := daycalc.FromEntry(b)
			if !bi.CheckIn.Before(ri.CheckOut) {
				break
			}
			if daycalc.Overlaps(ri, bi) {
				out = append(out, model.NewConflictRecord(model.ConflictCalendar, model.SeverityHigh,
					[]string{r.ID}, []string{b.Entry.ID}))
			}
		}
	}
	return out, nil
}

// overlappingEvents reports adjacent manual blocks that are not connected in
// the link graph; linked blocks are one intentional merged stay.
func overlappingEvents(ctx context.Context, blocks []model.ClassifiedEntry, links []model.CalendarLink) ([]model.ConflictRecord, error) {
	linked := Components(links)
	var out []model.ConflictRecord
	for i := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := daycalc.FromEntry(blocks[i])
		horizon := a.CheckOut.AddDays(1)
		for j := i + 1; j < len(blocks); j++ {
			b := daycalc.FromEntry(blocks[j])
			if b.CheckIn.After(horizon) {
				break
			}
			if !daycalc.Adjacent(a, b) || linked.Connected(a.ID, b.ID) {
				continue
			}
			out = append(out, model.NewConflictRecord(model.ConflictOverlappingCalendarEvents, model.SeverityHigh,
				nil, []string{a.ID, b.ID}))
		}
	}
	return out, nil
}

var typeOrder = map[model.ConflictType]int{
	model.ConflictOverlappingRequests:       0,
	model.ConflictCalendar:                  1,
	model.ConflictOverlappingCalendarEvents: 2,
}

func sortRecords(records []model.ConflictRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if typeOrder[a.Type] != typeOrder[b.Type] {
			return typeOrder[a.Type] < typeOrder[b.Type]
		}
		if ka, kb := strings.Join(a.Reservations, ","), strings.Join(b.Reservations, ","); ka != kb {
			return ka < kb
		}
		return strings.Join(a.Events, ",") < strings.Join(b.Events, ",")
	})
}
