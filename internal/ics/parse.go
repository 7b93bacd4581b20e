package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calrecon/internal/log"
)

// propColor is the RFC 7986 COLOR property.
const propColor = "COLOR"

// vevent is one VEVENT reduced to what reconciliation needs.
type vevent struct {
	source Source

	uid     string
	summary string
	color   string

	start  time.Time
	end    time.Time
	allDay bool

	rrule   string
	exDates []time.Time
	// recurrenceID is set on overrides of one instance of a series.
	recurrenceID *time.Time
}

func (v vevent) isOverride() bool { return v.recurrenceID != nil }

// parseFeed decodes one ICS payload. All-day dates are read in loc so they
// keep their civil date.
func parseFeed(src Source, body []byte, loc *time.Location) ([]vevent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]vevent, 0, len(cal.Events()))
	for _, comp := range cal.Events() {
		ev, err := decodeEvent(src, comp, loc)
		if err != nil {
			appLog.Error("ics: skipping vevent", err, "source", src.ID)
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics feed parsed", "source", src.ID, "events", len(out))
	return out, nil
}

func decodeEvent(src Source, ve *ical.VEvent, loc *time.Location) (vevent, error) {
	ev := vevent{source: src}

	p := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return ev, errors.New("missing UID")
	}
	ev.uid = strings.TrimSpace(p.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(propColor); p != nil {
		ev.color = strings.TrimSpace(p.Value)
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.allDay = isDateValue(dtstart)

	var start, end time.Time
	var err error
	if ev.allDay {
		// Dates are civil; read them in loc rather than the library's zone.
		if start, err = parseStamp(dtstart.Value, loc); err != nil {
			return ev, err
		}
		end = start.AddDate(0, 0, 1)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if end, err = parseStamp(p.Value, loc); err != nil {
				return ev, err
			}
			end = civil(end, loc)
		}
		start = civil(start, loc)
	} else {
		if start, err = ve.GetStartAt(); err != nil {
			return ev, err
		}
		if end, err = ve.GetEndAt(); err != nil {
			end = start
		}
	}
	ev.start, ev.end = start, end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseStamp(part, tzOf(p, loc)); err == nil {
				ev.exDates = append(ev.exDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		t, err := parseStamp(p.Value, tzOf(p, loc))
		if err != nil {
			return ev, err
		}
		ev.recurrenceID = &t
	}
	return ev, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// tzOf resolves the TZID parameter of p, falling back to loc.
func tzOf(p *ical.IANAProperty, loc *time.Location) *time.Location {
	if tz := p.ICalParameters["TZID"]; len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			return l
		}
	}
	return loc
}

func civil(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// parseStamp parses the DATE and DATE-TIME forms used by EXDATE and
// RECURRENCE-ID.
func parseStamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
