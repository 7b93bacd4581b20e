// Package ledger remembers which conflicts have already been mailed so a
// repeated detection pass does not spam the admins.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"calrecon/internal/clock"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
	"calrecon/internal/model"
)

// Filter selects ledger rows. A row matches when it satisfies every
// non-empty field; EventIDs matches rows sharing at least one event id.
type Filter struct {
	EventIDs []string
	Types    []model.ConflictType
	Keys     []string
}

// Matches evaluates f against one row. Stores without a query language use it.
func (f Filter) Matches(row model.NotifiedConflict) bool {
	if len(f.Keys) > 0 && !contains(f.Keys, row.ConflictKey) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == row.ConflictType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.EventIDs) > 0 {
		found := false
		for _, id := range row.EventIDs {
			if contains(f.EventIDs, id) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store persists ledger rows. Rows are unique on ConflictKey; inserting an
// existing key is not an error.
type Store interface {
	Exists(ctx context.Context, key string, conflictType model.ConflictType) (bool, error)
	Insert(ctx context.Context, row model.NotifiedConflict) error
	DeleteWhere(ctx context.Context, filter Filter) (int, error)
}

// Key returns the hex SHA-256 digest identifying a real-world conflict. It
// depends only on the type and the participant ids, never on their order.
func Key(r model.ConflictRecord) string {
	ids := make([]string, 0, len(r.Reservations)+len(r.Events))
	for _, id := range r.Reservations {
		ids = append(ids, "r:"+id)
	}
	for _, id := range r.Events {
		ids = append(ids, "e:"+id)
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(string(r.Type) + "|" + strings.Join(ids, "|")))
	return hex.EncodeToString(sum[:])
}

type Ledger struct {
	store Store
	clock clock.Clock
}

func New(store Store, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Ledger{store: store, clock: clk}
}

// Seen reports whether r was already notified.
func (l *Ledger) Seen(ctx context.Context, r model.ConflictRecord) (bool, error) {
	ok, err := l.store.Exists(ctx, Key(r), r.Type)
	if err != nil {
		return false, fmt.Errorf("ledger: exists: %w", err)
	}
	return ok, nil
}

// Mark records r as notified now.
func (l *Ledger) Mark(ctx context.Context, r model.ConflictRecord) error {
	row := model.NotifiedConflict{
		ConflictKey:    Key(r),
		ConflictType:   r.Type,
		NotifiedAt:     l.clock.Now().UTC(),
		EventIDs:       append([]string(nil), r.Events...),
		ReservationIDs: append([]string(nil), r.Reservations...),
	}
	if err := l.store.Insert(ctx, row); err != nil {
		return fmt.Errorf("ledger: insert %s: %w", row.ConflictKey, err)
	}
	return nil
}

// ResetForEvents forgets every notified conflict involving one of eventIDs so
// it can be mailed again after the link graph changes.
func (l *Ledger) ResetForEvents(ctx context.Context, eventIDs []string) (int, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	n, err := l.store.DeleteWhere(ctx, Filter{EventIDs: eventIDs})
	if err != nil {
		return 0, fmt.Errorf("ledger: reset: %w", err)
	}
	metrics.RecordLedgerReset(n)
	appLog.Info("ledger reset", "events", len(eventIDs), "rows", n)
	return n, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
