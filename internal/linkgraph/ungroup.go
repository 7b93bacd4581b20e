package linkgraph

import (
	"context"
	"sort"
	"strings"

	"calrecon/internal/conflict"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
)

// UngroupResult describes an ungroup. Component is the linked set the event
// belonged to before any link was removed.
type UngroupResult struct {
	Component     []string          `json:"component"`
	LinksDeleted  int               `json:"links_deleted"`
	LedgerReset   int               `json:"ledger_rows_reset"`
	Colors        map[string]string `json:"colors"`
	ColorFailures map[string]string `json:"color_failures,omitempty"`
	Rescanned     bool              `json:"rescanned"`
}

// UngroupSingle detaches eventID from its merged stay. When the stay had more
// than two members the rest of the chain is dissolved as well; every former
// member ends up isolated with its own deterministic color. Conflicts that
// the links were suppressing are forgotten by the ledger and re-detected.
func (m *Manager) UngroupSingle(ctx context.Context, eventID string) (res UngroupResult, err error) {
	defer func() { metrics.RecordLinkMutation("ungroup", err) }()

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return UngroupResult{}, ErrInvalidInput
	}

	var component, isolated []string
	err = m.withLinks(ctx, func(ctx context.Context, links LinkStore) error {
		nodes, _, err := Component(ctx, links, []string{eventID})
		if err != nil {
			return err
		}
		component = nodes

		n, err := links.DeleteLinks(ctx, LinkFilter{Touching: []string{eventID}})
		if err != nil {
			return err
		}
		res.LinksDeleted += n

		rest := nodes[1:]
		if len(nodes) > 2 {
			n, err := links.DeleteLinks(ctx, LinkFilter{Within: rest})
			if err != nil {
				return err
			}
			res.LinksDeleted += n
		}

		isolated = isolated[:0]
		for _, id := range rest {
			remaining, err := links.FindLinks(ctx, []string{id})
			if err != nil {
				return err
			}
			if len(remaining) > 0 {
				continue
			}
			// Clear stray rows a concurrent writer may have left behind.
			if _, err := links.DeleteLinks(ctx, LinkFilter{Touching: []string{id}}); err != nil {
				return err
			}
			isolated = append(isolated, id)
		}
		return nil
	})
	if err != nil {
		return UngroupResult{}, err
	}

	res.Component = append([]string(nil), component...)
	sort.Strings(res.Component)

	if m.ledger != nil {
		n, err := m.ledger.ResetForEvents(ctx, res.Component)
		if err != nil {
			appLog.Error("linkgraph: ledger reset failed", err, "event_id", eventID)
		}
		res.LedgerReset = n
	}

	recolor := append(isolated, eventID)
	res.Colors = distinctColors(recolor, m.opts.InfoColorTag, nil)
	res.ColorFailures = m.paint(ctx, recolor, func(id string) string { return res.Colors[id] })

	if m.rescan != nil {
		if err := m.rescan(ctx, conflict.Scope{EventIDs: res.Component}); err != nil {
			appLog.Error("linkgraph: rescan after ungroup failed", err, "event_id", eventID)
		} else {
			res.Rescanned = true
		}
	}

	appLog.Info("ungrouped calendar event", "event_id", eventID,
		"component", strings.Join(res.Component, ","), "links_deleted", res.LinksDeleted)
	return res, nil
}
