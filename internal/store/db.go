// Package store is the single embedded relational State Store (C2): durable
// rows for decisions, trades, sessions, snapshots, caches, and entry dates.
// It is grounded on the sentinel repo's internal/database package, adapted
// from a seven-database split down to the single store spec.md calls for,
// using the same WAL PRAGMA tuning and WithTransaction helper.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo
)

// DB wraps the single sqlite connection used by every repository.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) the State Store at path, applying WAL mode and the
// balanced PRAGMA profile used throughout the pack, then runs the schema
// migration.
func Open(path string) (*DB, error) {
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		path = absPath
	}

	connStr := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=wal_autocheckpoint(1000)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	// Single-writer semantics (§4.2): serialize writers, allow concurrent
	// readers by keeping the pool small but non-trivial.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping state store: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate state store: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn exposes the raw *sql.DB for repositories in this package.
func (db *DB) Conn() *sql.DB { return db.conn }

// migrate creates every table named in spec.md §4.2 if it does not already
// exist. All schema creation happens here — no stage or repository may
// create tables lazily (see DESIGN NOTES, "per-department ad-hoc schemas").
func (db *DB) migrate() error {
	_, err := db.conn.Exec(schemaSQL)
	return err
}

// WithTransaction runs fn inside a single short transaction, rolling back on
// error or panic and committing otherwise. Ported from the sentinel repo's
// database.WithTransaction.
func WithTransaction(conn *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		} else {
			err = tx.Commit()
		}
	}()
	err = fn(tx)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	ticker TEXT NOT NULL,
	decision TEXT NOT NULL,
	conviction TEXT,
	rationale TEXT,
	latest_price REAL,
	market_context TEXT
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	decision_id TEXT,
	timestamp TEXT NOT NULL,
	ticker TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	status TEXT NOT NULL,
	broker_order_id TEXT
);

CREATE TABLE IF NOT EXISTS trading_sessions (
	session_id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	plan_generated_at TEXT,
	plan_executed_at TEXT,
	market_status TEXT NOT NULL,
	trades_submitted INTEGER,
	user_override INTEGER NOT NULL DEFAULT 0,
	circuit_breaker_level TEXT NOT NULL,
	notes TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trading_sessions_date ON trading_sessions(date);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	snapshot_id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	total_value REAL NOT NULL,
	cash_balance REAL NOT NULL,
	equity_value REAL NOT NULL,
	buying_power REAL NOT NULL,
	margin_used REAL,
	positions_count INTEGER NOT NULL,
	daily_pl REAL NOT NULL,
	daily_pl_pct REAL NOT NULL,
	spy_close REAL,
	spy_change_pct REAL,
	source TEXT NOT NULL,
	notes TEXT
);

CREATE TABLE IF NOT EXISTS entry_dates (
	ticker TEXT PRIMARY KEY,
	entry_date TEXT NOT NULL,
	shares REAL NOT NULL,
	entry_price REAL NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS market_data_cache (
	ticker TEXT NOT NULL,
	data_type TEXT NOT NULL,
	data_json BLOB NOT NULL,
	fetched_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	PRIMARY KEY (ticker, data_type)
);

CREATE TABLE IF NOT EXISTS sentiment_cache (
	ticker TEXT PRIMARY KEY,
	sentiment_score REAL NOT NULL,
	news_summary TEXT,
	sentiment_reasoning TEXT,
	fetched_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS market_regime_assessments (
	assessment_id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	spy_price REAL,
	spy_change_pct REAL,
	vix_level REAL,
	vix_change_pct REAL,
	regime TEXT NOT NULL,
	confidence REAL NOT NULL,
	recommendation TEXT,
	reasoning TEXT,
	user_decision TEXT,
	trades_executed INTEGER,
	portfolio_change_pct REAL,
	spy_eod_change_pct REAL,
	notes TEXT
);
`
