package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calrecon/internal/model"
)

type Reservations struct {
	db *pgxpool.Pool
}

func NewReservations(db *pgxpool.Pool) *Reservations {
	return &Reservations{db: db}
}

// FindActive returns reservations in statuses touching window, including
// those that only share a boundary day with it.
func (r *Reservations) FindActive(ctx context.Context, window model.Window, statuses ...model.Status) ([]model.Reservation, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, status, check_in, check_out, COALESCE(external_event_id, '')
		 FROM reservations
		 WHERE (cardinality($1::text[]) = 0 OR status = ANY($1::text[]))
		   AND check_in <= $3 AND check_out >= $2
		 ORDER BY check_in, id`,
		nonNil(names), window.From.In(time.UTC), window.To.In(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Reservations) Get(ctx context.Context, id string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT id, status, check_in, check_out, COALESCE(external_event_id, '')
		 FROM reservations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reservation{}, model.ErrNotFound
	}
	return res, err
}

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var (
		res           model.Reservation
		status        string
		checkIn, outT time.Time
	)
	if err := row.Scan(&res.ID, &status, &checkIn, &outT, &res.ExternalEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, err
		}
		return res, fmt.Errorf("scan reservation: %w", err)
	}
	res.Status = model.Status(status)
	res.CheckIn = model.DateOf(checkIn, time.UTC)
	res.CheckOut = model.DateOf(outT, time.UTC)
	return res, nil
}
