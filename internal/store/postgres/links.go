package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calrecon/internal/linkgraph"
	"calrecon/internal/model"
)

// linkLockKey serializes link-graph mutations across instances.
const linkLockKey int64 = 0x63616c6c696e6b // "callink"

type Links struct {
	pool *pgxpool.Pool
	q    querier
}

var (
	_ linkgraph.LinkStore  = (*Links)(nil)
	_ linkgraph.Transactor = (*Links)(nil)
)

func NewLinks(pool *pgxpool.Pool) *Links {
	return &Links{pool: pool, q: pool}
}

func (l *Links) FindLinks(ctx context.Context, eventIDs []string) ([]model.CalendarLink, error) {
	rows, err := l.q.Query(ctx,
		`SELECT event_id_low, event_id_high, created_by, created_at
		 FROM calendar_links
		 WHERE cardinality($1::text[]) = 0
		    OR event_id_low = ANY($1::text[])
		    OR event_id_high = ANY($1::text[])
		 ORDER BY event_id_low, event_id_high`,
		nonNil(eventIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("find links: %w", err)
	}
	defer rows.Close()

	var out []model.CalendarLink
	for rows.Next() {
		var link model.CalendarLink
		if err := rows.Scan(&link.EventIDLow, &link.EventIDHigh, &link.CreatedBy, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func (l *Links) UpsertLink(ctx context.Context, link model.CalendarLink) error {
	_, err := l.q.Exec(ctx,
		`INSERT INTO calendar_links (event_id_low, event_id_high, created_by, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id_low, event_id_high) DO NOTHING`,
		link.EventIDLow, link.EventIDHigh, link.CreatedBy, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

func (l *Links) DeleteLinks(ctx context.Context, f linkgraph.LinkFilter) (int, error) {
	tag, err := l.q.Exec(ctx,
		`DELETE FROM calendar_links
		 WHERE event_id_low = ANY($1::text[]) OR event_id_high = ANY($1::text[])
		    OR (event_id_low = ANY($2::text[]) AND event_id_high = ANY($2::text[]))`,
		nonNil(f.Touching), nonNil(f.Within),
	)
	if err != nil {
		return 0, fmt.Errorf("delete links: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InTx runs fn in one transaction holding a transaction-scoped advisory
// lock, so concurrent group / ungroup calls apply one after the other.
func (l *Links) InTx(ctx context.Context, fn func(context.Context, linkgraph.LinkStore) error) (err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, linkLockKey); err != nil {
		return fmt.Errorf("lock link graph: %w", err)
	}
	if err = fn(ctx, &Links{pool: l.pool, q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
