package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/vHozang/CheckLink/internal/config"
	"github.com/vHozang/CheckLink/pkg/types"
)

// CheckRow mirrors one row of the checks table: the latest known state of a
// storefront URL.
type CheckRow struct {
	URL            string    `json:"url"`
	FinalURL       string    `json:"final_url,omitempty"`
	HTTPStatus     int       `json:"http_status,omitempty"`
	Classification string    `json:"classification"`
	Title          string    `json:"title,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChangeEvent records a classification transition for a URL.
type ChangeEvent struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Prev      string    `json:"prev_classification,omitempty"`
	New       string    `json:"new_classification"`
	ChangedAt time.Time `json:"changed_at"`
}

// Store persists probe outcomes keyed by normalized URL and appends a change
// event whenever the classification differs from the stored prior value.
type Store struct {
	db          *sql.DB
	driver      string
	autoMigrate bool
}

// Open initialises a Store from configuration.
func Open(cfg config.SQLConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql config missing dsn")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	store := &Store{
		db:          db,
		driver:      driver,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// SaveResults upserts each result by its normalized URL and appends a change
// event when the classification differs from the stored value (first sight
// of a URL with a non-empty classification also counts). It returns the
// number of change events written.
func (s *Store) SaveResults(ctx context.Context, results []types.ProbeResult, now time.Time) (int, error) {
	if s == nil || s.db == nil || len(results) == 0 {
		return 0, nil
	}

	changed, err := s.saveResults(ctx, results, now)
	if err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return 0, fmt.Errorf("ensure schema: %w", schemaErr)
			}
			changed, err = s.saveResults(ctx, results, now)
		}
		if err != nil {
			return 0, fmt.Errorf("save results: %w", err)
		}
	}
	return changed, nil
}

func (s *Store) saveResults(ctx context.Context, results []types.ProbeResult, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stamp := now.UTC().Format(time.RFC3339)
	changed := 0

	for _, r := range results {
		key := r.NormalizedURL
		if key == "" {
			key = r.InputURL
		}
		newClass := strings.ToUpper(string(r.Classification))

		var prev sql.NullString
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT classification FROM checks WHERE url = ?`), key,
		).Scan(&prev)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO checks (url, classification, http_status, final_url, title, error, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`),
				key, newClass, r.HTTPStatus, r.FinalURL, r.Title, r.Error, stamp,
			); err != nil {
				return 0, err
			}
			if newClass != "" {
				if _, err := tx.ExecContext(ctx, s.rebind(`
					INSERT INTO events (url, prev_classification, new_classification, changed_at)
					VALUES (?, NULL, ?, ?)`),
					key, newClass, stamp,
				); err != nil {
					return 0, err
				}
				changed++
			}
		case err != nil:
			return 0, err
		default:
			if !strings.EqualFold(prev.String, newClass) {
				if _, err := tx.ExecContext(ctx, s.rebind(`
					INSERT INTO events (url, prev_classification, new_classification, changed_at)
					VALUES (?, ?, ?, ?)`),
					key, prev, newClass, stamp,
				); err != nil {
					return 0, err
				}
				changed++
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE checks SET classification = ?, http_status = ?, final_url = ?, title = ?, error = ?, updated_at = ?
				WHERE url = ?`),
				newClass, r.HTTPStatus, r.FinalURL, r.Title, r.Error, stamp, key,
			); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return changed, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for the postgres driver.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	eventsPK := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		eventsPK = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checks (
		    url TEXT PRIMARY KEY,
		    classification TEXT,
		    http_status INTEGER,
		    final_url TEXT,
		    title TEXT,
		    error TEXT,
		    updated_at TEXT
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
		    id %s,
		    url TEXT,
		    prev_classification TEXT,
		    new_classification TEXT,
		    changed_at TEXT
		)`, eventsPK),
		`CREATE INDEX IF NOT EXISTS idx_checks_updated_at ON checks (updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_url ON events (url)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}
