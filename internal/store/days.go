package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
)

// Upsert marks a day, refreshing processed_at if it was already marked.
func (s *Store) Upsert(ctx context.Context, rec ledger.DayRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parsed_days (table_name, day, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_name, day) DO UPDATE SET processed_at = EXCLUDED.processed_at`,
		string(rec.Table), rec.Date.Time(), rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert parsed day: %w", err)
	}
	return nil
}

func (s *Store) Dates(ctx context.Context, table catalog.TableID, from, to calendar.Date) ([]calendar.Date, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day FROM parsed_days
		WHERE table_name = $1 AND day BETWEEN $2 AND $3
		ORDER BY day`,
		string(table), from.Time(), to.Time(),
	)
	if err != nil {
		return nil, fmt.Errorf("query parsed days: %w", err)
	}
	defer rows.Close()

	var out []calendar.Date
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan parsed day: %w", err)
		}
		out = append(out, calendar.Of(day))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parsed days: %w", err)
	}
	return out, nil
}

func (s *Store) Latest(ctx context.Context, table catalog.TableID) (calendar.Date, bool, error) {
	var day *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(day) FROM parsed_days WHERE table_name = $1`, string(table),
	).Scan(&day)
	if err != nil {
		return calendar.Date{}, false, fmt.Errorf("query latest parsed day: %w", err)
	}
	if day == nil {
		return calendar.Date{}, false, nil
	}
	return calendar.Of(*day), true, nil
}

// Delete removes table's marked days within [from, to]. Zero bounds are
// passed as NULL and leave that side open.
func (s *Store) Delete(ctx context.Context, table catalog.TableID, from, to calendar.Date) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM parsed_days
		WHERE table_name = $1
		  AND ($2::date IS NULL OR day >= $2::date)
		  AND ($3::date IS NULL OR day <= $3::date)`,
		string(table), bound(from), bound(to),
	)
	if err != nil {
		return 0, fmt.Errorf("delete parsed days: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func bound(d calendar.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

var _ ledger.Store = (*Store)(nil)
