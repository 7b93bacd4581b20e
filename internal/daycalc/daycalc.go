// Package daycalc turns stay intervals into the set of calendar days that are
// fully occupied, honouring same-day turnover.
package daycalc

import (
	"fmt"
	"sort"

	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

const defaultMaxIterationDays = 1000

// Interval is a half-open stay [CheckIn, CheckOut) in calendar days.
type Interval struct {
	// ID and Source are only used for logging.
	ID       string
	Source   string
	CheckIn  model.Date
	CheckOut model.Date
}

// ValidationError describes a malformed interval that was skipped.
type ValidationError struct {
	Interval Interval
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid interval %s/%s [%s, %s): %s",
		e.Interval.Source, e.Interval.ID, e.Interval.CheckIn, e.Interval.CheckOut, e.Reason)
}

// Validate reports whether iv can take part in day blocking.
func Validate(iv Interval) error {
	if iv.CheckIn.IsZero() || iv.CheckOut.IsZero() {
		return &ValidationError{Interval: iv, Reason: "missing date"}
	}
	if !iv.CheckIn.Before(iv.CheckOut) {
		return &ValidationError{Interval: iv, Reason: "check-in not before check-out"}
	}
	return nil
}

// Calculator computes blocked days. The zero value uses the default cap.
type Calculator struct {
	// MaxIterationDays caps the per-interval day walk so a corrupted
	// far-future date cannot stall a request.
	MaxIterationDays int
}

func New(maxIterationDays int) *Calculator {
	return &Calculator{MaxIterationDays: maxIterationDays}
}

func (c *Calculator) maxDays() int {
	if c == nil || c.MaxIterationDays <= 0 {
		return defaultMaxIterationDays
	}
	return c.MaxIterationDays
}

// BlockedDays returns the sorted set of days in window that no guest can use:
// every day strictly inside an interval, plus boundary days where one
// interval's check-out meets another's check-in. A lone check-in or check-out
// day stays free for a same-day turnover.
//
// Callers should pass intervals loaded with padding beyond window so that
// neighbours touching its edges are seen.
func (c *Calculator) BlockedDays(intervals []Interval, window model.Window) []model.Date {
	if !window.Valid() {
		return []model.Date{}
	}

	valid := make([]Interval, 0, len(intervals))
	checkIns := make(map[model.Date]struct{}, len(intervals))
	checkOuts := make(map[model.Date]struct{}, len(intervals))
	for _, iv := range intervals {
		if err := Validate(iv); err != nil {
			appLog.Error("daycalc: skipping interval", err, "id", iv.ID, "source", iv.Source)
			continue
		}
		valid = append(valid, iv)
		checkIns[iv.CheckIn] = struct{}{}
		checkOuts[iv.CheckOut] = struct{}{}
	}

	blocked := make(map[model.Date]struct{})
	limit := c.maxDays()
	for _, iv := range valid {
		c.blockInterior(iv, window, limit, blocked)
	}

	for d := range checkIns {
		if _, ok := checkOuts[d]; ok && window.Contains(d) {
			blocked[d] = struct{}{}
		}
	}

	out := make([]model.Date, 0, len(blocked))
	for d := range blocked {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// blockInterior adds the days strictly between check-in and check-out that
// fall inside window.
func (c *Calculator) blockInterior(iv Interval, window model.Window, limit int, into map[model.Date]struct{}) {
	start := iv.CheckIn.AddDays(1)
	if start.Before(window.From) {
		start = window.From
	}
	end := iv.CheckOut.AddDays(-1)
	if end.After(window.To) {
		end = window.To
	}

	steps := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if steps >= limit {
			appLog.Error("daycalc: iteration cap reached", fmt.Errorf("interval spans more than %d days", limit),
				"id", iv.ID, "source", iv.Source, "check_in", iv.CheckIn, "check_out", iv.CheckOut)
			return
		}
		into[d] = struct{}{}
		steps++
	}
}

// Overlaps reports whether two stays share at least one night. A shared
// turnover day is not an overlap.
func Overlaps(a, b Interval) bool {
	return a.CheckIn.Before(b.CheckOut) && b.CheckIn.Before(a.CheckOut)
}

// Adjacent reports whether two stays overlap or the gap between one's end and
// the other's start is at most one calendar day.
func Adjacent(a, b Interval) bool {
	if Overlaps(a, b) {
		return true
	}
	if !a.CheckIn.Before(b.CheckIn) {
		a, b = b, a
	}
	gap := a.CheckOut.DaysUntil(b.CheckIn)
	return gap >= 0 && gap <= 1
}

// FromReservation converts a reservation into an interval.
func FromReservation(r model.Reservation) Interval {
	return Interval{ID: r.ID, Source: "reservation", CheckIn: r.CheckIn, CheckOut: r.CheckOut}
}

// FromEntry converts a classified calendar entry into an interval.
func FromEntry(e model.ClassifiedEntry) Interval {
	return Interval{ID: e.Entry.ID, Source: "calendar", CheckIn: e.CheckIn, CheckOut: e.CheckOut}
}
