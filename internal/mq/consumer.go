package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"calrecon/internal/conflict"
	appLog "calrecon/internal/log"
	"calrecon/internal/notify"
)

// Booking lifecycle routing keys.
const (
	RKBookingCreated   = "booking.created"
	RKBookingApproved  = "booking.approved"
	RKBookingCancelled = "booking.cancelled"
	RKBookingRejected  = "booking.rejected"
	RKBookingUpdated   = "booking.updated"
)

// BookingKeys lists every routing key the consumer binds.
var BookingKeys = []string{RKBookingCreated, RKBookingApproved, RKBookingCancelled, RKBookingRejected, RKBookingUpdated}

// BookingEvent is the payload published by the booking subsystem.
type BookingEvent struct {
	ReservationID   string `json:"reservation_id"`
	ExternalEventID string `json:"external_event_id,omitempty"`
	Status          string `json:"status,omitempty"`
}

// ConflictNotifier runs a scoped notification pass.
type ConflictNotifier interface {
	NotifyNewConflicts(ctx context.Context, scope *conflict.Scope) (notify.Report, error)
}

var errBadPayload = errors.New("bad booking payload")

type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
}

type Consumer struct {
	cfg      ConsumerConfig
	notifier ConflictNotifier

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg ConsumerConfig, n ConflictNotifier) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &Consumer{cfg: cfg, notifier: n}
}

// Connect declares the exchange and queue and binds the booking keys.
func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	for _, key := range BookingKeys {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fail("bind "+key, err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail("set qos", err)
	}
	c.conn, c.ch = conn, ch
	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run consumes until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "calrecon", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.process(ctx, d)
		}
	}
}

// process acks handled and malformed messages and requeues engine failures.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	err := c.Handle(ctx, d.RoutingKey, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errBadPayload):
		appLog.Error("mq: dropping booking message", err, "key", d.RoutingKey, "message_id", d.MessageId)
		_ = d.Ack(false)
	default:
		appLog.Error("mq: booking message failed, requeueing", err, "key", d.RoutingKey, "message_id", d.MessageId)
		_ = d.Nack(false, true)
	}
}

// Handle runs a notification pass scoped to the reservation in body.
func (c *Consumer) Handle(ctx context.Context, key string, body []byte) error {
	if !strings.HasPrefix(key, "booking.") {
		appLog.Debug("mq: skip unknown key", "key", key)
		return nil
	}
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if strings.TrimSpace(ev.ReservationID) == "" {
		return fmt.Errorf("%w: missing reservation_id", errBadPayload)
	}

	scope := conflict.Scope{ReservationIDs: []string{ev.ReservationID}}
	if ev.ExternalEventID != "" {
		scope.EventIDs = []string{ev.ExternalEventID}
	}
	rep, err := c.notifier.NotifyNewConflicts(ctx, &scope)
	if err != nil {
		return err
	}
	appLog.Info("booking event processed", "key", key, "reservation_id", ev.ReservationID, "notified", rep.Notified)
	return nil
}
