// Package engine wires the day calculator, classifier, detector, notifier and
// link graph over the external collaborators and exposes the operations
// request handlers call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calrecon/internal/classify"
	"calrecon/internal/clock"
	"calrecon/internal/conflict"
	"calrecon/internal/daycalc"
	"calrecon/internal/ledger"
	"calrecon/internal/linkgraph"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
	"calrecon/internal/model"
	"calrecon/internal/notify"
)

// ErrInvalidWindow is returned for a window whose From is after To.
var ErrInvalidWindow = errors.New("invalid date window")

// mirrorStatuses are the reservation states whose linked calendar entry is a
// booking mirror rather than a manual block.
var mirrorStatuses = []model.Status{model.StatusPending, model.StatusApproved, model.StatusCancelled, model.StatusRejected}

// ReservationRepository reads reservations owned by the booking subsystem.
// FindActive returns the reservations in one of statuses that intersect
// window.
type ReservationRepository interface {
	FindActive(ctx context.Context, window model.Window, statuses ...model.Status) ([]model.Reservation, error)
}

// CalendarProvider is the shared external calendar.
type CalendarProvider interface {
	FetchEntries(ctx context.Context, from, to time.Time) ([]model.ExternalCalendarEntry, error)
	FetchEntry(ctx context.Context, id string) (model.ExternalCalendarEntry, error)
	SetColor(ctx context.Context, id, color string) error
}

type Deps struct {
	Reservations ReservationRepository
	Calendar     CalendarProvider
	Links        linkgraph.LinkStore
	Ledger       ledger.Store
	Sender       notify.EmailSender
	Recipients   notify.RecipientSource
}

type Options struct {
	Location         *time.Location
	Rules            classify.Rules
	PaddingDays      int
	MaxIterationDays int
	LookbackDays     int
	HorizonDays      int
	DetectTimeout    time.Duration
	Clock            clock.Clock
}

type Engine struct {
	reservations ReservationRepository
	calendar     CalendarProvider
	links        linkgraph.LinkStore
	classifier   *classify.Classifier
	calc         *daycalc.Calculator
	ledger       *ledger.Ledger
	notifier     *notify.Notifier
	graph        *linkgraph.Manager
	opts         Options
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Reservations == nil || deps.Calendar == nil || deps.Links == nil || deps.Ledger == nil || deps.Sender == nil {
		return nil, errors.New("engine: missing collaborator")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.PaddingDays < 1 {
		opts.PaddingDays = 1
	}
	if deps.Recipients == nil {
		deps.Recipients = notify.StaticRecipients(nil)
	}

	classifier, err := classify.New(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	led := ledger.New(deps.Ledger, opts.Clock)
	e := &Engine{
		reservations: deps.Reservations,
		calendar:     deps.Calendar,
		links:        deps.Links,
		classifier:   classifier,
		calc:         daycalc.New(opts.MaxIterationDays),
		ledger:       led,
		notifier:     notify.New(led, deps.Sender, deps.Recipients),
		opts:         opts,
	}
	e.graph = linkgraph.NewManager(deps.Links, deps.Calendar, led, e.rescan, linkgraph.Options{
		Location:     opts.Location,
		InfoColorTag: opts.Rules.InfoColorTag,
		Clock:        opts.Clock,
	})
	return e, nil
}

// Today is the current date in the engine zone.
func (e *Engine) Today() model.Date {
	return model.DateOf(e.opts.Clock.Now(), e.opts.Location)
}

// ComputeBlockedDays returns the days in window nobody can book: nights of
// approved reservations and manual calendar blocks, under the turnover rule.
func (e *Engine) ComputeBlockedDays(ctx context.Context, window model.Window) ([]model.Date, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}
	padded := window.Pad(e.opts.PaddingDays)

	// Every status is loaded so mirrors of pending, cancelled and rejected
	// bookings are recognized; only approved ones block.
	reservations, err := e.reservations.FindActive(ctx, padded, mirrorStatuses...)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	entries, err := e.fetchEntries(ctx, padded)
	if err != nil {
		return nil, err
	}

	var intervals []daycalc.Interval
	for _, r := range reservations {
		if r.Status == model.StatusApproved {
			intervals = append(intervals, daycalc.FromReservation(r))
		}
	}
	for _, ce := range classify.ManualBlocks(e.classifier.ClassifyAll(entries, reservations, e.opts.Location)) {
		intervals = append(intervals, daycalc.FromEntry(ce))
	}
	return e.calc.BlockedDays(intervals, window), nil
}

// DetectionWindow is the range scanned by detection passes.
func (e *Engine) DetectionWindow() model.Window {
	today := e.Today()
	return model.Window{From: today.AddDays(-e.opts.LookbackDays), To: today.AddDays(e.opts.HorizonDays)}
}

// DetectAllConflicts runs one detection pass, bounded by the detect timeout.
func (e *Engine) DetectAllConflicts(ctx context.Context) ([]model.ConflictRecord, error) {
	if e.opts.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.DetectTimeout)
		defer cancel()
	}

	started := e.opts.Clock.Now()
	in, err := e.loadDetectionInput(ctx)
	if err != nil {
		return nil, err
	}
	records, err := conflict.Detect(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("detect conflicts: %w", err)
	}
	metrics.RecordDetectPass(e.opts.Clock.Now().Sub(started))
	for _, r := range records {
		metrics.RecordConflict(string(r.Type), string(r.Severity))
	}
	appLog.Debug("detection pass done", "conflicts", len(records), "reservations", len(in.Reservations), "entries", len(in.Entries))
	return records, nil
}

// NotifyNewConflicts detects conflicts, keeps those touching scope when one
// is given, and mails the new high-severity ones.
func (e *Engine) NotifyNewConflicts(ctx context.Context, scope *conflict.Scope) (notify.Report, error) {
	records, err := e.DetectAllConflicts(ctx)
	if err != nil {
		return notify.Report{}, err
	}
	if scope != nil {
		records = conflict.Touching(records, *scope)
	}
	return e.notifier.Notify(ctx, records)
}

func (e *Engine) Group(ctx context.Context, eventIDs []string, color, actor string) (linkgraph.GroupResult, error) {
	return e.graph.Group(ctx, eventIDs, color, actor)
}

func (e *Engine) UngroupSingle(ctx context.Context, eventID string) (linkgraph.UngroupResult, error) {
	return e.graph.UngroupSingle(ctx, eventID)
}

// ResetForEvents exposes the ledger reset for operators.
func (e *Engine) ResetForEvents(ctx context.Context, eventIDs []string) (int, error) {
	return e.ledger.ResetForEvents(ctx, eventIDs)
}

func (e *Engine) rescan(ctx context.Context, scope conflict.Scope) error {
	_, err := e.NotifyNewConflicts(ctx, &scope)
	return err
}

func (e *Engine) loadDetectionInput(ctx context.Context) (conflict.Input, error) {
	window := e.DetectionWindow()
	// The detector drops inactive reservations itself; they are loaded so
	// their leftover mirrors are not taken for manual blocks.
	reservations, err := e.reservations.FindActive(ctx, window, mirrorStatuses...)
	if err != nil {
		return conflict.Input{}, fmt.Errorf("load reservations: %w", err)
	}
	entries, err := e.fetchEntries(ctx, window)
	if err != nil {
		return conflict.Input{}, err
	}
	links, err := e.links.FindLinks(ctx, nil)
	if err != nil {
		return conflict.Input{}, fmt.Errorf("load links: %w", err)
	}
	return conflict.Input{
		Reservations: reservations,
		Entries:      e.classifier.ClassifyAll(entries, reservations, e.opts.Location),
		Links:        links,
	}, nil
}

// fetchEntries loads entries intersecting the whole days of w.
func (e *Engine) fetchEntries(ctx context.Context, w model.Window) ([]model.ExternalCalendarEntry, error) {
	entries, err := e.calendar.FetchEntries(ctx, w.From.In(e.opts.Location), w.To.AddDays(1).In(e.opts.Location))
	if err != nil {
		return nil, fmt.Errorf("fetch calendar entries: %w", err)
	}
	return entries, nil
}
