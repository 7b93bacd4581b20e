package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"calrecon/internal/ledger"
	"calrecon/internal/model"
)

type Ledger struct {
	db *pgxpool.Pool
}

var _ ledger.Store = (*Ledger)(nil)

func NewLedger(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Exists(ctx context.Context, key string, conflictType model.ConflictType) (bool, error) {
	var ok bool
	err := l.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notified_conflicts WHERE conflict_key = $1 AND conflict_type = $2)`,
		key, string(conflictType),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return ok, nil
}

// Insert ignores a key that is already present, so two racing notifiers
// never produce duplicate rows.
func (l *Ledger) Insert(ctx context.Context, row model.NotifiedConflict) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO notified_conflicts (conflict_key, conflict_type, notified_at, event_ids, reservation_ids)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (conflict_key) DO NOTHING`,
		row.ConflictKey, string(row.ConflictType), row.NotifiedAt, nonNil(row.EventIDs), nonNil(row.ReservationIDs),
	)
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	return nil
}

// DeleteWhere removes rows matching every non-empty filter field. An empty
// filter deletes every row.
func (l *Ledger) DeleteWhere(ctx context.Context, f ledger.Filter) (int, error) {
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	tag, err := l.db.Exec(ctx,
		`DELETE FROM notified_conflicts
		 WHERE (cardinality($1::text[]) = 0 OR event_ids && $1::text[])
		   AND (cardinality($2::text[]) = 0 OR conflict_type = ANY($2::text[]))
		   AND (cardinality($3::text[]) = 0 OR conflict_key = ANY($3::text[]))`,
		nonNil(f.EventIDs), types, nonNil(f.Keys),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
