package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps common aliases to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "pg", "pgx", "pgsql":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", s)
	}
}

// Open opens a DB, tunes its pool and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	db, err := Connect(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Connect opens and pings a DB without touching the schema.
func Connect(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:cat.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/cat?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate applies the idempotent schema for driver.
func Migrate(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	// Some drivers reject multi-statement scripts; fall back to one at a time.
	if _, err := db.ExecContext(ctx, schema); err != nil {
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, e := db.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("db: migrate: %w", e)
			}
		}
	}
	return nil
}

// tunePool keeps SQLite to a single writer connection; servers get a real pool.
func tunePool(driver Driver, db *sql.DB) {
	switch driver {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("db: sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS items (
  id TEXT PRIMARY KEY,
  assignment_id TEXT NOT NULL,
  content TEXT NOT NULL,
  param_a REAL,
  param_b REAL,
  param_c REAL,
  difficulty TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_assignment ON items(assignment_id);

CREATE TABLE IF NOT EXISTS item_choices (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  content TEXT NOT NULL,
  is_correct INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_item_choices_item ON item_choices(item_id);

CREATE TABLE IF NOT EXISTS abilities (
  examinee_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  theta REAL NOT NULL DEFAULT 0,
  last_update INTEGER NOT NULL,
  PRIMARY KEY (examinee_id, course_id)
);

CREATE TABLE IF NOT EXISTS administered_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT, -- BIGSERIAL in Postgres
  id TEXT NOT NULL UNIQUE,
  examinee_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  assignment_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  response INTEGER NOT NULL,
  theta_before REAL NOT NULL,
  theta_after REAL NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_administered_attempt ON administered_log(examinee_id, course_id, assignment_id);

CREATE TABLE IF NOT EXISTS submission_results (
  id TEXT PRIMARY KEY,
  examinee_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  assignment_id TEXT NOT NULL,
  final_theta REAL NOT NULL,
  correct_count INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  theta_before REAL NOT NULL,
  theta_after REAL NOT NULL,
  completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submission_examinee ON submission_results(examinee_id, course_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS items (
  id TEXT PRIMARY KEY,
  assignment_id TEXT NOT NULL,
  content TEXT NOT NULL,
  param_a DOUBLE PRECISION,
  param_b DOUBLE PRECISION,
  param_c DOUBLE PRECISION,
  difficulty TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_assignment ON items(assignment_id);

CREATE TABLE IF NOT EXISTS item_choices (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  content TEXT NOT NULL,
  is_correct BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_item_choices_item ON item_choices(item_id);

CREATE TABLE IF NOT EXISTS abilities (
  examinee_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  theta DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_update BIGINT NOT NULL,
  PRIMARY KEY (examinee_id, course_id)
);

CREATE TABLE IF NOT EXISTS administered_log (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  examinee_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  assignment_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  response BOOLEAN NOT NULL,
  theta_before DOUBLE PRECISION NOT NULL,
  theta_after DOUBLE PRECISION NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_administered_attempt ON administered_log(examinee_id, course_id, assignment_id);

CREATE TABLE IF NOT EXISTS submission_results (
  id TEXT PRIMARY KEY,
  examinee_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  assignment_id TEXT NOT NULL,
  final_theta DOUBLE PRECISION NOT NULL,
  correct_count INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  theta_before DOUBLE PRECISION NOT NULL,
  theta_after DOUBLE PRECISION NOT NULL,
  completed_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submission_examinee ON submission_results(examinee_id, course_id);
`
