package notify

import (
	"context"
	"fmt"

	"calrecon/internal/ledger"
	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

// Summary is the data handed to an EmailSender. Templates are up to the
// sender.
type Summary struct {
	Key          string             `json:"key"`
	Type         model.ConflictType `json:"type"`
	Severity     model.Severity     `json:"severity"`
	Subject      string             `json:"subject"`
	Lines        []string           `json:"lines"`
	Reservations []string           `json:"reservations"`
	Events       []string           `json:"events"`
}

func NewSummary(c model.ConflictRecord) Summary {
	s := Summary{
		Key:          ledger.Key(c),
		Type:         c.Type,
		Severity:     c.Severity,
		Reservations: c.Reservations,
		Events:       c.Events,
	}
	switch c.Type {
	case model.ConflictOverlappingRequests:
		s.Subject = fmt.Sprintf("[calrecon] %d booking requests overlap", len(c.Reservations))
	case model.ConflictCalendar:
		s.Subject = "[calrecon] Booking overlaps a calendar block"
	case model.ConflictOverlappingCalendarEvents:
		s.Subject = "[calrecon] Unlinked calendar blocks overlap"
	default:
		s.Subject = "[calrecon] Conflict " + string(c.Type)
	}
	for _, id := range c.Reservations {
		s.Lines = append(s.Lines, "reservation "+id)
	}
	for _, id := range c.Events {
		s.Lines = append(s.Lines, "calendar event "+id)
	}
	return s
}

// LogSender writes summaries to the log instead of mailing them. Used when no
// broker is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to string, s Summary) error {
	appLog.Info("[notify] "+s.Subject, "to", to, "key", s.Key, "participants", s.Lines)
	return nil
}
