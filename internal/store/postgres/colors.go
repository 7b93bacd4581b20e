package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Colors stores color overrides for read-only calendars.
type Colors struct {
	db *pgxpool.Pool
}

func NewColors(db *pgxpool.Pool) *Colors {
	return &Colors{db: db}
}

func (c *Colors) Colors(ctx context.Context, ids []string) (map[string]string, error) {
	rows, err := c.db.Query(ctx,
		`SELECT event_id, color FROM calendar_colors WHERE event_id = ANY($1::text[])`, nonNil(ids))
	if err != nil {
		return nil, fmt.Errorf("load colors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, color string
		if err := rows.Scan(&id, &color); err != nil {
			return nil, fmt.Errorf("scan color: %w", err)
		}
		out[id] = color
	}
	return out, rows.Err()
}

func (c *Colors) PutColor(ctx context.Context, id, color string) error {
	_, err := c.db.Exec(ctx,
		`INSERT INTO calendar_colors (event_id, color, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (event_id) DO UPDATE SET color = EXCLUDED.color, updated_at = EXCLUDED.updated_at`,
		id, color)
	if err != nil {
		return fmt.Errorf("put color: %w", err)
	}
	return nil
}
