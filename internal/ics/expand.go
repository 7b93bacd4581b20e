package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

const defaultMaxInstances = 5000

// instanceLayout stamps recurring instances into entry ids.
const instanceLayout = "20060102T150405Z"

// EntryID is the stable id of a non-recurring event or of one instance of a
// series (keyed by the instance's original start).
func EntryID(sourceID, uid string, instance *time.Time) string {
	id := sourceID + ":" + uid
	if instance != nil {
		id += "@" + instance.UTC().Format(instanceLayout)
	}
	return id
}

// expand turns parsed events into entries intersecting [from, to). A series
// is capped at maxInstances occurrences.
func expand(events []vevent, from, to time.Time, maxInstances int) ([]model.ExternalCalendarEntry, error) {
	if to.Before(from) {
		return nil, errors.New("ics: range end before start")
	}
	if maxInstances <= 0 {
		maxInstances = defaultMaxInstances
	}

	overrides := make(map[string][]vevent)
	var bases []vevent
	for _, ev := range events {
		key := ev.source.ID + ":" + ev.uid
		if ev.isOverride() {
			overrides[key] = append(overrides[key], ev)
			continue
		}
		bases = append(bases, ev)
	}

	var out []model.ExternalCalendarEntry
	for _, ev := range bases {
		ov := overrides[ev.source.ID+":"+ev.uid]
		if ev.rrule == "" {
			if overlaps(ev.start, ev.end, from, to) {
				out = append(out, toEntry(ev, ev.start, ev.end, nil))
			}
			continue
		}
		out = append(out, expandSeries(ev, ov, from, to, maxInstances)...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func expandSeries(ev vevent, overrides []vevent, from, to time.Time, maxInstances int) []model.ExternalCalendarEntry {
	rule, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		appLog.Error("ics: bad RRULE", err, "source", ev.source.ID, "uid", ev.uid, "rrule", ev.rrule)
		return nil
	}
	rule.DTStart(ev.start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	duration := ev.end.Sub(ev.start)
	// Instances starting before from can still reach into the range.
	starts := set.Between(from.Add(-duration), to, true)
	if len(starts) > maxInstances {
		appLog.Warn("ics: series truncated", "source", ev.source.ID, "uid", ev.uid, "cap", maxInstances)
		starts = starts[:maxInstances]
	}

	out := make([]model.ExternalCalendarEntry, 0, len(starts))
	for _, s := range starts {
		instance := s
		start, end := s, s.Add(duration)
		if ev.allDay {
			start = civil(s, ev.start.Location())
			end = start.AddDate(0, 0, int(duration.Hours()/24+0.5))
		}
		src := ev
		if o, ok := overrideFor(overrides, s); ok {
			src, start, end = o, o.start, o.end
		}
		if !overlaps(start, end, from, to) {
			continue
		}
		out = append(out, toEntry(src, start, end, &instance))
	}
	return out
}

func overrideFor(overrides []vevent, instance time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.recurrenceID.Equal(instance) {
			return o, true
		}
	}
	return vevent{}, false
}

// overlaps treats zero-length events as occupying their start instant.
func overlaps(start, end, from, to time.Time) bool {
	if !start.Before(to) {
		return false
	}
	return end.After(from) || !start.Before(from)
}

func toEntry(ev vevent, start, end time.Time, instance *time.Time) model.ExternalCalendarEntry {
	return model.ExternalCalendarEntry{
		ID:       EntryID(ev.source.ID, ev.uid, instance),
		Title:    ev.summary,
		Start:    start,
		End:      end,
		ColorTag: ev.color,
	}
}
