// Package ics reads the shared calendar from ICS feeds. Feeds are read-only,
// so colors set by the link graph are kept in a ColorStore and laid over the
// feed's own COLOR values.
package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "calrecon/internal/log"
	"calrecon/internal/model"
)

// ColorStore persists color overrides by entry id.
type ColorStore interface {
	Colors(ctx context.Context, ids []string) (map[string]string, error)
	PutColor(ctx context.Context, id, color string) error
}

type Options struct {
	Sources      []Source
	Location     *time.Location
	MaxInstances int
	Colors       ColorStore
}

type Provider struct {
	fetcher *Fetcher
	opts    Options
}

func NewProvider(fetcher *Fetcher, opts Options) *Provider {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Provider{fetcher: fetcher, opts: opts}
}

// load fetches and parses every source. A failing source is logged and
// skipped; the call fails only when no source could be read.
func (p *Provider) load(ctx context.Context) ([]vevent, error) {
	var (
		events []vevent
		errs   []error
	)
	for _, src := range p.opts.Sources {
		body, cached, err := p.fetcher.Fetch(ctx, src)
		if err == nil {
			var evs []vevent
			evs, err = parseFeed(src, body, p.opts.Location)
			events = append(events, evs...)
		}
		if err != nil {
			appLog.Error("ics: source unavailable", err, "source", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		appLog.Debug("ics: source loaded", "source", src.ID, "from_cache", cached)
	}
	if len(p.opts.Sources) > 0 && len(errs) == len(p.opts.Sources) {
		return nil, errors.Join(errs...)
	}
	return events, nil
}

func (p *Provider) FetchEntries(ctx context.Context, from, to time.Time) ([]model.ExternalCalendarEntry, error) {
	events, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := expand(events, from, to, p.opts.MaxInstances)
	if err != nil {
		return nil, err
	}
	return p.withColors(ctx, entries)
}

// instanceSpan bounds the search for one instance of a series; an override
// may move an instance away from its original start.
const instanceSpan = 400 * 24 * time.Hour

func (p *Provider) FetchEntry(ctx context.Context, id string) (model.ExternalCalendarEntry, error) {
	events, err := p.load(ctx)
	if err != nil {
		return model.ExternalCalendarEntry{}, err
	}

	if at, ok := instanceOf(id); ok {
		entries, err := expand(events, at.Add(-instanceSpan), at.Add(instanceSpan), p.opts.MaxInstances)
		if err != nil {
			return model.ExternalCalendarEntry{}, err
		}
		for _, e := range entries {
			if e.ID == id {
				return p.withColor(ctx, e)
			}
		}
		return model.ExternalCalendarEntry{}, model.ErrNotFound
	}

	for _, ev := range events {
		if ev.rrule == "" && !ev.isOverride() && EntryID(ev.source.ID, ev.uid, nil) == id {
			return p.withColor(ctx, toEntry(ev, ev.start, ev.end, nil))
		}
	}
	return model.ExternalCalendarEntry{}, model.ErrNotFound
}

// SetColor records color for id. The feed itself is never written.
func (p *Provider) SetColor(ctx context.Context, id, color string) error {
	if p.opts.Colors == nil {
		return errors.New("ics: calendar is read-only and no color store is configured")
	}
	return p.opts.Colors.PutColor(ctx, id, color)
}

// instanceOf extracts the original start from a series instance id. UIDs
// often contain '@', so only a trailing stamp counts.
func instanceOf(id string) (time.Time, bool) {
	i := strings.LastIndexByte(id, '@')
	if i < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(instanceLayout, id[i+1:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (p *Provider) withColor(ctx context.Context, e model.ExternalCalendarEntry) (model.ExternalCalendarEntry, error) {
	out, err := p.withColors(ctx, []model.ExternalCalendarEntry{e})
	if err != nil {
		return model.ExternalCalendarEntry{}, err
	}
	return out[0], nil
}

func (p *Provider) withColors(ctx context.Context, entries []model.ExternalCalendarEntry) ([]model.ExternalCalendarEntry, error) {
	if p.opts.Colors == nil || len(entries) == 0 {
		return entries, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	colors, err := p.opts.Colors.Colors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ics: load color overrides: %w", err)
	}
	for i := range entries {
		if c, ok := colors[entries[i].ID]; ok {
			entries[i].ColorTag = c
		}
	}
	return entries, nil
}
