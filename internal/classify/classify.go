// Package classify tags shared-calendar entries as app booking mirrors,
// informational markers or manual blocks. The tag is computed once at
// ingestion and carried with the entry from then on.
package classify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

// Rules holds the recognition settings.
type Rules struct {
	// TitlePrefix, TitleEmoji and PricePattern form the booking-title
	// signature; any one of them matching marks a mirror.
	TitlePrefix  string
	TitleEmoji   string
	PricePattern string
	// InfoColorTag is the color reserved for informational entries.
	InfoColorTag string
}

// Classifier applies Rules. Build it with New.
type Classifier struct {
	rules Rules
	price *regexp.Regexp
}

func New(rules Rules) (*Classifier, error) {
	c := &Classifier{rules: rules}
	if rules.PricePattern != "" {
		re, err := regexp.Compile(rules.PricePattern)
		if err != nil {
			return nil, fmt.Errorf("classify: compile price pattern: %w", err)
		}
		c.price = re
	}
	return c, nil
}

// MirrorIDs collects the external event ids linked from reservations.
func MirrorIDs(reservations []model.Reservation) map[string]struct{} {
	ids := make(map[string]struct{}, len(reservations))
	for _, r := range reservations {
		if r.ExternalEventID != "" {
			ids[r.ExternalEventID] = struct{}{}
		}
	}
	return ids
}

// Classify returns the kind of entry in priority order: linked mirror,
// booking-title signature, info color, manual block.
func (c *Classifier) Classify(entry model.ExternalCalendarEntry, mirrorIDs map[string]struct{}) model.EntryKind {
	if _, ok := mirrorIDs[entry.ID]; ok {
		return model.KindAppBookingMirror
	}
	if c.matchesBookingTitle(entry.Title) {
		return model.KindAppBookingMirror
	}
	if c.rules.InfoColorTag != "" && entry.ColorTag == c.rules.InfoColorTag {
		return model.KindInfo
	}
	return model.KindManualBlock
}

func (c *Classifier) matchesBookingTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	if c.rules.TitlePrefix != "" && strings.HasPrefix(title, c.rules.TitlePrefix) {
		return true
	}
	if c.rules.TitleEmoji != "" && strings.Contains(title, c.rules.TitleEmoji) {
		return true
	}
	return c.price != nil && c.price.MatchString(title)
}

// ClassifyAll tags every entry and derives its day range in loc. Entries
// that start and end on the same date are widened to one night; entries
// ending before they start keep their inverted range so the day calculator
// can reject and log them.
func (c *Classifier) ClassifyAll(entries []model.ExternalCalendarEntry, reservations []model.Reservation, loc *time.Location) []model.ClassifiedEntry {
	mirrors := MirrorIDs(reservations)
	out := make([]model.ClassifiedEntry, 0, len(entries))
	for _, e := range entries {
		checkIn, checkOut := DayRange(e, loc)
		ce := model.ClassifiedEntry{Entry: e, Kind: c.Classify(e, mirrors), CheckIn: checkIn, CheckOut: checkOut}
		appLog.Debug("classified calendar entry", "id", e.ID, "kind", ce.Kind, "check_in", ce.CheckIn, "check_out", ce.CheckOut)
		out = append(out, ce)
	}
	return out
}

// DayRange derives the [check-in, check-out) days of e in loc, widening
// same-date entries to one night.
func DayRange(e model.ExternalCalendarEntry, loc *time.Location) (model.Date, model.Date) {
	in, out := model.DateOf(e.Start, loc), model.DateOf(e.End, loc)
	if in == out && !e.End.Before(e.Start) {
		out = in.AddDays(1)
	}
	return in, out
}

// ManualBlocks filters entries down to the ones that occupy days.
func ManualBlocks(entries []model.ClassifiedEntry) []model.ClassifiedEntry {
	out := make([]model.ClassifiedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == model.KindManualBlock {
			out = append(out, e)
		}
	}
	return out
}
