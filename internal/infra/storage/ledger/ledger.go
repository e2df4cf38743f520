// Package ledger records per-driver fetch runs in SQL.
//
// SQLite (modernc.org/sqlite, no cgo) is the default backend; PostgreSQL
// is reachable through either the pgx stdlib driver or lib/pq. The
// schema is applied with goose from embedded migrations on Open.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vietddude/racefetch/internal/core/domain"
	"github.com/vietddude/racefetch/internal/infra/storage/ledger/migrations"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// Config holds ledger connection configuration.
type Config struct {
	Driver    string        `yaml:"driver"    env:"DRIVER"` // sqlite, pgx or postgres
	DSN       string        `yaml:"dsn"       env:"DSN"`    // file path for sqlite, URL for postgres
	MaxConns  int           `yaml:"max_conns" env:"MAX_CONNS"`
	Retention time.Duration `yaml:"retention" env:"RETENTION"` // prune older runs on startup (0 = keep all)
}

// Store implements storage.RunRepository on a SQL database.
type Store struct {
	db *sqlx.DB
}

// gooseMu serializes migrations; goose keeps its dialect and FS globally.
var gooseMu sync.Mutex

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the database and applies migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn, dialect string
	switch driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("sqlite ledger path is required")
		}
		path := filepath.Clean(cfg.DSN)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		dialect = "sqlite3"
	case DriverPgx, DriverPostgres:
		dsn = cfg.DSN
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if driver == DriverSQLite {
		// One writer keeps SQLite free of lock contention.
		db.SetMaxOpenConns(1)
	} else {
		maxConns := cfg.MaxConns
		if maxConns <= 0 {
			maxConns = 5
		}
		db.SetMaxOpenConns(maxConns)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	if err := migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sqlx.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db.DB, ".")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type runRow struct {
	ID              string `db:"id"`
	SessionKey      int64  `db:"session_key"`
	DriverNumber    int64  `db:"driver_number"`
	Status          string `db:"status"`
	PositionSamples int64  `db:"position_samples"`
	StateSamples    int64  `db:"state_samples"`
	Windows         int64  `db:"windows"`
	Shrinks         int64  `db:"shrinks"`
	ErrorMessage    string `db:"error_message"`
	StartedAt       int64  `db:"started_at"`
	FinishedAt      int64  `db:"finished_at"`
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func (r runRow) toDomain() *domain.Run {
	return &domain.Run{
		ID:              r.ID,
		SessionKey:      int(r.SessionKey),
		DriverNumber:    int(r.DriverNumber),
		Status:          domain.RunStatus(r.Status),
		PositionSamples: int(r.PositionSamples),
		StateSamples:    int(r.StateSamples),
		Windows:         int(r.Windows),
		Shrinks:         int(r.Shrinks),
		Error:           r.ErrorMessage,
		StartedAt:       fromMillis(r.StartedAt),
		FinishedAt:      fromMillis(r.FinishedAt),
	}
}

const selectRuns = `SELECT id, session_key, driver_number, status, position_samples,
	state_samples, windows, shrinks, error_message, started_at, finished_at
	FROM fetch_runs`

// Record saves a run, assigning an ID when it has none.
func (s *Store) Record(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	query := s.db.Rebind(`INSERT INTO fetch_runs (id, session_key, driver_number, status,
		position_samples, state_samples, windows, shrinks, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.SessionKey, run.DriverNumber, string(run.Status),
		run.PositionSamples, run.StateSamples, run.Windows, run.Shrinks,
		run.Error, toMillis(run.StartedAt), toMillis(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	query := s.db.Rebind(selectRuns + ` ORDER BY started_at DESC, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return toDomain(rows), nil
}

// ForSession returns all runs of a session, newest first.
func (s *Store) ForSession(ctx context.Context, sessionKey int) ([]*domain.Run, error) {
	var rows []runRow
	query := s.db.Rebind(selectRuns + ` WHERE session_key = ? ORDER BY started_at DESC, driver_number`)
	if err := s.db.SelectContext(ctx, &rows, query, sessionKey); err != nil {
		return nil, fmt.Errorf("failed to list session runs: %w", err)
	}
	return toDomain(rows), nil
}

// DeleteOlderThan removes runs started before t.
func (s *Store) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM fetch_runs WHERE started_at < ?`), toMillis(t))
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

func toDomain(rows []runRow) []*domain.Run {
	runs := make([]*domain.Run, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, r.toDomain())
	}
	return runs
}
