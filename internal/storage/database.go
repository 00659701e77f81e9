package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

var (
	// ErrNotFound is returned when a keyed record does not exist
	ErrNotFound = fleet.ErrNotFound

	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("unique constraint violated")
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// OpenReadOnly opens an existing database without migrating it
func OpenReadOnly(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying handle for ad-hoc read queries
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS zones (
		zone_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		length_km REAL DEFAULT 0,
		pole_count INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS controllers (
		controller_id TEXT PRIMARY KEY,
		zone_id TEXT,
		firmware_version TEXT,
		connectivity TEXT,
		last_seen DATETIME NOT NULL
	);

	-- Poles. zone deletion is not cascaded.
	CREATE TABLE IF NOT EXISTS assets (
		pole_id TEXT PRIMARY KEY,
		zone_id TEXT NOT NULL,
		controller_id TEXT,
		fixture_type TEXT,
		wattage_w INTEGER DEFAULT 0,
		latitude REAL DEFAULT 0,
		longitude REAL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		installed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_zone ON assets(zone_id);

	-- Append-only time series
	CREATE TABLE IF NOT EXISTS telemetry (
		telemetry_id TEXT PRIMARY KEY,
		pole_id TEXT NOT NULL,
		ts DATETIME NOT NULL,
		state TEXT NOT NULL,
		voltage REAL NOT NULL,
		current_a REAL NOT NULL,
		power_w REAL NOT NULL,
		energy_kwh REAL DEFAULT 0,
		ambient_lux REAL DEFAULT 0,
		temperature_c REAL DEFAULT 0,
		dimming_level INTEGER DEFAULT 0,
		fault_code TEXT,
		received_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_pole_ts ON telemetry(pole_id, ts);
	CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry(ts);

	CREATE TABLE IF NOT EXISTS faults (
		fault_id TEXT PRIMARY KEY,
		pole_id TEXT NOT NULL,
		zone_id TEXT NOT NULL,
		fault_code TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		notes TEXT,
		detected_at DATETIME NOT NULL,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_faults_pole ON faults(pole_id);
	CREATE INDEX IF NOT EXISTS idx_faults_zone ON faults(zone_id);
	CREATE INDEX IF NOT EXISTS idx_faults_status ON faults(status);

	CREATE TABLE IF NOT EXISTS maintenance_tickets (
		ticket_id TEXT PRIMARY KEY,
		fault_id TEXT,
		pole_id TEXT NOT NULL,
		zone_id TEXT NOT NULL,
		description TEXT NOT NULL,
		assigned_to TEXT,
		sla_hours INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_zone ON maintenance_tickets(zone_id);
	CREATE INDEX IF NOT EXISTS idx_tickets_created ON maintenance_tickets(created_at);
	-- At most one non-terminal ticket per (pole, zone)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_pair
		ON maintenance_tickets(pole_id, zone_id) WHERE status != 'completed';

	CREATE TABLE IF NOT EXISTS automation_rules (
		rule_id TEXT PRIMARY KEY,
		zone_id TEXT NOT NULL,
		name TEXT NOT NULL,
		condition TEXT NOT NULL,
		action TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_zone ON automation_rules(zone_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// translate maps driver errors onto the package sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// requireAffected turns a zero-row update or delete into ErrNotFound
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
