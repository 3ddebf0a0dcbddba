package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the database/sql driver and selects dialect-specific SQL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", s)
	}
}

// Open connects to the store. For SQLite dsn is a file path; for Postgres a connection URL.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	switch d {
	case DialectSQLite:
		return openSQLite(dsn)
	case DialectPostgres:
		db, err := sql.Open(string(DialectPostgres), dsn)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
}

func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open(string(DialectSQLite), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var sqliteTypes = strings.NewReplacer("{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{real}}", "REAL", "{{ts}}", "DATETIME")
var postgresTypes = strings.NewReplacer("{{pk}}", "BIGSERIAL PRIMARY KEY", "{{real}}", "DOUBLE PRECISION", "{{ts}}", "TIMESTAMPTZ")

func Migrate(db *sql.DB, d Dialect) error {
	types := sqliteTypes
	if d == DialectPostgres {
		types = postgresTypes
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id {{pk}},
			name TEXT NOT NULL,
			slack_id TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id {{pk}},
			organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS machines (
			id {{pk}},
			room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			hostname TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'Stable'
		);`,
		`CREATE TABLE IF NOT EXISTS components (
			id {{pk}},
			machine_id BIGINT NOT NULL REFERENCES machines(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			formatting TEXT NOT NULL DEFAULT '',
			capacity {{real}}
		);`,
		`CREATE TABLE IF NOT EXISTS captures (
			id {{pk}},
			component_id BIGINT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
			value {{real}} NOT NULL,
			captured_at {{ts}} NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS parameters (
			id {{pk}},
			component_id BIGINT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
			level TEXT NOT NULL,
			min {{real}} NOT NULL,
			max {{real}} NOT NULL,
			UNIQUE(component_id, level)
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id {{pk}},
			parameter_id BIGINT NOT NULL REFERENCES parameters(id),
			capture_id BIGINT NOT NULL REFERENCES captures(id),
			message TEXT NOT NULL,
			sent INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			claimed_by TEXT,
			claimed_until {{ts}},
			created_at {{ts}} NOT NULL,
			sent_at {{ts}}
		);`,
		`CREATE INDEX IF NOT EXISTS idx_captures_component_ts ON captures(component_id, captured_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_components_machine ON components(machine_id);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sent_attempts_id ON alerts(sent, attempts, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(types.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
