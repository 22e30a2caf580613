// Package store persists the small amount of server-side state the mapper
// keeps between sessions: the user's basemap token, the UI theme, and the
// privacy acknowledgement. It is a key-value table over database/sql so
// deployments can pick the engine they already run; SQLite is the default
// and needs no external service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known setting names. They mirror what the browser front end calls
// the same values so imports of older client exports stay recognizable.
const (
	KeyMapboxToken = "metainfo-mapbox-token"
	KeyTheme       = "metainfo-theme"
	KeyPrivacyAck  = "metainfo-privacy-ack"
)

// Store wraps the settings table. Driver is the normalized driver name so
// SQL builders can branch on placeholder style without re-parsing config.
type Store struct {
	DB     *sql.DB
	Driver string
}

// Config holds what we need to open any of the supported engines.
type Config struct {
	DBType    string // "sqlite", "chai", "genji", "duckdb", or "pgx"
	DBPath    string // file path for file-based engines
	DBConn    string // raw DSN for network engines
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	PGSSLMode string
	Port      int // server port, used for default file naming
}

// normalizeDBType trims and lowercases driver names so the switch blocks
// below never miss an engine because of incidental case or whitespace.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// Open connects, tunes the connection pool for the engine, and makes sure
// the settings table exists.
func Open(cfg Config, logf func(string, ...any)) (*Store, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	driverName := normalizeDBType(cfg.DBType)
	if driverName == "" {
		driverName = "sqlite"
	}

	var dsn string
	switch driverName {
	case "sqlite", "chai", "genji", "duckdb":
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("metainfo-%d.%s", cfg.Port, driverName)
		}
	case "pgx":
		if strings.TrimSpace(cfg.DBConn) != "" {
			dsn = cfg.DBConn
		} else {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.PGSSLMode)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// File-based engines get one physical connection so statements never
	// race at the database layer.
	switch driverName {
	case "sqlite", "chai", "genji", "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if driverName == "sqlite" {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteConnection(tuneCtx, db, logf); err != nil {
				logf("sqlite tuning skipped: %v", err)
			}
			cancel()
		}
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	logf("settings store: driver %s, dsn %s", driverName, dsn)

	s := &Store{DB: db, Driver: driverName}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// tuneSQLiteConnection applies WAL/synchronous/busy pragmas. The steps run
// through a small channel pipeline so the caller goroutine stays free to
// time out via ctx.
func tuneSQLiteConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	steps := []pragma{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}

	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					return
				}
				logf("sqlite tuning %s -> %s", step.label, mode)
				continue
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
			logf("sqlite tuning %s applied", step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			jobs <- step
		}
	}()

	return <-errs
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS settings (name TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	if err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

// Get returns the stored value and whether it exists.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	if s == nil || s.DB == nil {
		return "", false, errors.New("store not initialized")
	}

	query := "SELECT value FROM settings WHERE name = ? LIMIT 1"
	if usesNumberedPlaceholders(s.Driver) {
		query = "SELECT value FROM settings WHERE name = $1 LIMIT 1"
	}

	var value string
	err := s.DB.QueryRowContext(ctx, query, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set writes or replaces a value. Engines with ON CONFLICT support get a
// single upsert; the others get delete-then-insert, which is safe because
// file-based engines run on one connection.
func (s *Store) Set(ctx context.Context, name, value string) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}

	switch s.Driver {
	case "pgx", "duckdb":
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO settings (name, value) VALUES ($1, $2)
			 ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
			name, value)
		return err
	case "sqlite":
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO settings (name, value) VALUES (?, ?)
			 ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
			name, value)
		return err
	default:
		if _, err := s.DB.ExecContext(ctx, `DELETE FROM settings WHERE name = ?`, name); err != nil {
			return err
		}
		_, err := s.DB.ExecContext(ctx, `INSERT INTO settings (name, value) VALUES (?, ?)`, name, value)
		return err
	}
}

// Delete removes a value; deleting a missing name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}

	query := "DELETE FROM settings WHERE name = ?"
	if usesNumberedPlaceholders(s.Driver) {
		query = "DELETE FROM settings WHERE name = $1"
	}
	_, err := s.DB.ExecContext(ctx, query, name)
	return err
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func usesNumberedPlaceholders(driver string) bool {
	switch driver {
	case "pgx", "duckdb":
		return true
	default:
		return false
	}
}
