package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	appLog "calrecon/internal/log"
)

// Locker grants named leases with session-level advisory locks, so only one
// instance runs a job at a time. The lease lives as long as the pinned
// connection.
type Locker struct {
	db *pgxpool.Pool
}

func NewLocker(db *pgxpool.Pool) *Locker {
	return &Locker{db: db}
}

func (l *Locker) TryAcquire(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			appLog.Error("advisory unlock failed", err, "lease", name)
		}
		conn.Release()
	}, true, nil
}
