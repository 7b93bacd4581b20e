package mq

import (
	"context"
	"fmt"

	"calrecon/internal/notify"
)

// RKConflictMail is the routing key of conflict mail requests.
const RKConflictMail = "mail.conflict"

// MailRequest is the message a mailer service renders and delivers.
type MailRequest struct {
	To      string         `json:"to"`
	Summary notify.Summary `json:"summary"`
}

type jsonPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// MailSender implements notify.EmailSender by publishing a MailRequest.
// Success means the broker accepted the message.
type MailSender struct {
	pub jsonPublisher
}

var _ notify.EmailSender = (*MailSender)(nil)

func NewMailSender(pub jsonPublisher) *MailSender {
	return &MailSender{pub: pub}
}

func (m *MailSender) Send(ctx context.Context, to string, s notify.Summary) error {
	if err := m.pub.PublishJSON(ctx, RKConflictMail, MailRequest{To: to, Summary: s}); err != nil {
		return fmt.Errorf("publish mail to %s: %w", to, err)
	}
	return nil
}
