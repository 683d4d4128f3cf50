package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vHozang/CheckLink/pkg/types"
)

// Metrics aggregates the stored checks for dashboards and notifications.
type Metrics struct {
	Total     int     `json:"total"`
	Live      int     `json:"live"`
	Dead      int     `json:"dead"`
	Unpaid    int     `json:"unpaid"`
	LivePct   float64 `json:"live_pct"`
	DeadPct   float64 `json:"dead_pct"`
	UnpaidPct float64 `json:"unpaid_pct"`
}

// RecentChecks returns the most recently updated rows, newest first.
func (s *Store) RecentChecks(ctx context.Context, limit int) ([]CheckRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT url, final_url, http_status, classification, title, error, updated_at
		FROM checks
		ORDER BY updated_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent checks: %w", err)
	}
	defer rows.Close()
	return scanCheckRows(rows)
}

// AllChecks returns every stored row ordered by URL, for export.
func (s *Store) AllChecks(ctx context.Context) ([]CheckRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, final_url, http_status, classification, title, error, updated_at
		FROM checks
		ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("query all checks: %w", err)
	}
	defer rows.Close()
	return scanCheckRows(rows)
}

// ListEvents returns the latest classification transitions, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]ChangeEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, url, prev_classification, new_classification, changed_at
		FROM events
		ORDER BY id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		var (
			evt  ChangeEvent
			prev sql.NullString
			when string
		)
		if err := rows.Scan(&evt.ID, &evt.URL, &prev, &evt.New, &when); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Prev = prev.String
		evt.ChangedAt = parseStamp(when)
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Metrics computes aggregate counts over all stored checks. Grouping happens
// in Go so both SQL drivers share one query shape.
func (s *Store) Metrics(ctx context.Context) (Metrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT classification, COUNT(*)
		FROM checks
		GROUP BY classification`)
	if err != nil {
		return Metrics{}, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var m Metrics
	for rows.Next() {
		var (
			class sql.NullString
			count int
		)
		if err := rows.Scan(&class, &count); err != nil {
			return Metrics{}, fmt.Errorf("scan metrics: %w", err)
		}
		m.Total += count
		switch types.Classification(class.String).Group() {
		case "ok":
			m.Live += count
		case "bad":
			m.Dead += count
		case "unpaid":
			m.Unpaid += count
		}
	}
	if err := rows.Err(); err != nil {
		return Metrics{}, err
	}

	denom := m.Total
	if denom == 0 {
		denom = 1
	}
	m.LivePct = pct(m.Live, denom)
	m.DeadPct = pct(m.Dead, denom)
	m.UnpaidPct = pct(m.Unpaid, denom)
	return m, nil
}

// LastCheckedAt returns the most recent update timestamp, if any row exists.
func (s *Store) LastCheckedAt(ctx context.Context) (time.Time, bool, error) {
	var when sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM checks ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&when)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last check time: %w", err)
	}
	if !when.Valid || when.String == "" {
		return time.Time{}, false, nil
	}
	return parseStamp(when.String), true, nil
}

func scanCheckRows(rows *sql.Rows) ([]CheckRow, error) {
	var out []CheckRow
	for rows.Next() {
		var (
			row      CheckRow
			finalURL sql.NullString
			status   sql.NullInt64
			class    sql.NullString
			title    sql.NullString
			errMsg   sql.NullString
			when     sql.NullString
		)
		if err := rows.Scan(&row.URL, &finalURL, &status, &class, &title, &errMsg, &when); err != nil {
			return nil, fmt.Errorf("scan check row: %w", err)
		}
		row.FinalURL = finalURL.String
		row.HTTPStatus = int(status.Int64)
		row.Classification = class.String
		row.Title = title.String
		row.Error = errMsg.String
		row.UpdatedAt = parseStamp(when.String)
		out = append(out, row)
	}
	return out, rows.Err()
}

func parseStamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func pct(n, d int) float64 {
	return math.Round(float64(n)*1000/float64(d)) / 10
}
