// Package notify mails admins about new high-severity conflicts, once per
// conflict, using the ledger to remember what was already sent.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"calrecon/internal/ledger"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
	"calrecon/internal/model"
)

// EmailSender delivers one summary to one address. Rendering and transport
// belong to the implementation.
type EmailSender interface {
	Send(ctx context.Context, to string, summary Summary) error
}

// RecipientSource lists the subscribed admin addresses.
type RecipientSource interface {
	Recipients(ctx context.Context) ([]string, error)
}

// StaticRecipients is a fixed recipient list, usually from config.
type StaticRecipients []string

func (s StaticRecipients) Recipients(context.Context) ([]string, error) {
	return []string(s), nil
}

// PartialNotificationFailure lists the recipients that could not be reached
// for one conflict. The conflict is still marked when Sent > 0.
type PartialNotificationFailure struct {
	ConflictKey string
	Sent        int
	Failed      map[string]error
}

func (e *PartialNotificationFailure) Error() string {
	addrs := make([]string, 0, len(e.Failed))
	for a := range e.Failed {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return fmt.Sprintf("conflict %s: %d sent, failed for %s", e.ConflictKey, e.Sent, strings.Join(addrs, ", "))
}

// Report summarizes one Notify call.
type Report struct {
	Considered      int `json:"considered"`
	BelowThreshold  int `json:"below_threshold"`
	AlreadyNotified int `json:"already_notified"`
	Notified        int `json:"notified"`
	MailsSent       int `json:"mails_sent"`
	// Errors counts conflicts skipped because the ledger could not be read
	// or written.
	Errors   int                           `json:"errors"`
	Failures []*PartialNotificationFailure `json:"-"`
}

type Notifier struct {
	ledger     *ledger.Ledger
	sender     EmailSender
	recipients RecipientSource
}

func New(l *ledger.Ledger, sender EmailSender, recipients RecipientSource) *Notifier {
	return &Notifier{ledger: l, sender: sender, recipients: recipients}
}

// Notify mails every HIGH conflict not yet in the ledger. MEDIUM conflicts
// are not actionable and are only counted.
func (n *Notifier) Notify(ctx context.Context, conflicts []model.ConflictRecord) (Report, error) {
	var rep Report
	rep.Considered = len(conflicts)

	var pending []model.ConflictRecord
	for _, c := range conflicts {
		if c.Severity != model.SeverityHigh {
			rep.BelowThreshold++
			continue
		}
		pending = append(pending, c)
	}
	if len(pending) == 0 {
		return rep, nil
	}

	to, err := n.recipients.Recipients(ctx)
	if err != nil {
		return rep, fmt.Errorf("notify: recipients: %w", err)
	}
	if len(to) == 0 {
		appLog.Warn("notify: no recipients configured", "conflicts", len(pending))
	}

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		seen, err := n.ledger.Seen(ctx, c)
		if err != nil {
			appLog.Error("notify: ledger lookup failed", err, "type", c.Type)
			rep.Errors++
			continue
		}
		if seen {
			rep.AlreadyNotified++
			continue
		}

		sent, failure := n.sendAll(ctx, to, c)
		rep.MailsSent += sent
		if failure != nil {
			rep.Failures = append(rep.Failures, failure)
		}
		if sent == 0 {
			continue
		}
		if err := n.ledger.Mark(ctx, c); err != nil {
			appLog.Error("notify: mark failed", err, "key", ledger.Key(c))
			rep.Errors++
			continue
		}
		rep.Notified++
	}

	appLog.Info("notify pass done",
		"considered", rep.Considered,
		"notified", rep.Notified,
		"already_notified", rep.AlreadyNotified,
		"mails", rep.MailsSent)
	return rep, nil
}

func (n *Notifier) sendAll(ctx context.Context, to []string, c model.ConflictRecord) (int, *PartialNotificationFailure) {
	summary := NewSummary(c)
	sent := 0
	var failure *PartialNotificationFailure
	for _, addr := range to {
		if err := n.sender.Send(ctx, addr, summary); err != nil {
			metrics.RecordMail(false)
			if failure == nil {
				failure = &PartialNotificationFailure{ConflictKey: summary.Key, Failed: map[string]error{}}
			}
			failure.Failed[addr] = err
			appLog.Error("notify: send failed", err, "to", addr, "key", summary.Key)
			continue
		}
		metrics.RecordMail(true)
		sent++
	}
	if failure != nil {
		failure.Sent = sent
	}
	return sent, failure
}
