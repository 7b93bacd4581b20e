package linkgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"calrecon/internal/daycalc"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
	"calrecon/internal/model"
)

// GroupResult describes a successful group. ColorFailures lists members the
// provider refused to recolor; their links are kept.
type GroupResult struct {
	Members       []string          `json:"members"`
	LinksUpserted int               `json:"links_upserted"`
	ColorFailures map[string]string `json:"color_failures,omitempty"`
}

// Group links eventIDs into one merged stay and paints the whole resulting
// component with color. It writes nothing unless every requested entry
// exists and all of them are connected through existing links or adjacency.
func (m *Manager) Group(ctx context.Context, eventIDs []string, color, actor string) (res GroupResult, err error) {
	defer func() { metrics.RecordLinkMutation("group", err) }()

	ids := dedupe(eventIDs)
	if len(ids) < 2 {
		return GroupResult{}, fmt.Errorf("%w: group needs at least two distinct events", ErrInvalidInput)
	}
	color = strings.TrimSpace(color)
	if color == "" {
		return GroupResult{}, fmt.Errorf("%w: color is required", ErrInvalidInput)
	}
	if m.opts.InfoColorTag != "" && strings.EqualFold(color, m.opts.InfoColorTag) {
		return GroupResult{}, fmt.Errorf("%w: color %q is reserved for info entries", ErrInvalidInput, color)
	}

	var members []string
	err = m.withLinks(ctx, func(ctx context.Context, links LinkStore) error {
		nodes, stored, err := Component(ctx, links, ids)
		if err != nil {
			return err
		}

		intervals := make(map[string]daycalc.Interval, len(nodes))
		requested := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			requested[id] = struct{}{}
		}
		for _, id := range nodes {
			iv, ok, err := m.interval(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				if _, req := requested[id]; req {
					return &NotFoundError{EventID: id}
				}
				appLog.Warn("linkgraph: linked entry missing at provider", "id", id)
				continue
			}
			intervals[id] = iv
		}

		if err := checkConnected(ids, nodes, stored, intervals); err != nil {
			return err
		}

		now := m.opts.Clock.Now().UTC()
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				l, err := model.NewCalendarLink(ids[i], ids[j], actor, now)
				if err != nil {
					return err
				}
				if err := links.UpsertLink(ctx, l); err != nil {
					return fmt.Errorf("upsert link %s-%s: %w", l.EventIDLow, l.EventIDHigh, err)
				}
				res.LinksUpserted++
			}
		}
		members = nodes
		return nil
	})
	if err != nil {
		return GroupResult{}, err
	}

	res.Members = append([]string(nil), members...)
	sort.Strings(res.Members)
	res.ColorFailures = m.paint(ctx, res.Members, func(string) string { return color })

	appLog.Info("grouped calendar events", "members", strings.Join(res.Members, ","), "color", color, "actor", actor)
	return res, nil
}

// checkConnected runs a BFS from ids[0] over stored links plus adjacency
// between known ranges.
func checkConnected(ids, nodes []string, stored []model.CalendarLink, intervals map[string]daycalc.Interval) error {
	adj := make(map[string][]string, len(nodes))
	for _, l := range stored {
		adj[l.EventIDLow] = append(adj[l.EventIDLow], l.EventIDHigh)
		adj[l.EventIDHigh] = append(adj[l.EventIDHigh], l.EventIDLow)
	}
	for i := 0; i < len(nodes); i++ {
		a, ok := intervals[nodes[i]]
		if !ok {
			continue
		}
		for j := i + 1; j < len(nodes); j++ {
			b, ok := intervals[nodes[j]]
			if ok && daycalc.Adjacent(a, b) {
				adj[a.ID] = append(adj[a.ID], b.ID)
				adj[b.ID] = append(adj[b.ID], a.ID)
			}
		}
	}

	reached := map[string]struct{}{ids[0]: {}}
	queue := []string{ids[0]}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, ok := reached[next]; !ok {
				reached[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	for _, id := range ids[1:] {
		if _, ok := reached[id]; !ok {
			return &ConnectivityError{From: ids[0], To: id}
		}
	}
	return nil
}

// paint sets colors best effort and returns the failures keyed by id.
func (m *Manager) paint(ctx context.Context, ids []string, colorFor func(id string) string) map[string]string {
	var failures map[string]string
	for _, id := range ids {
		c := colorFor(id)
		if err := m.provider.SetColor(ctx, id, c); err != nil {
			appLog.Error("linkgraph: set color failed", err, "id", id, "color", c)
			if failures == nil {
				failures = make(map[string]string)
			}
			failures[id] = err.Error()
		}
	}
	return failures
}
