// Package db provides the SQLite ledger store for budgetsync.
//
// The database is an embedded SQLite file (ncruces/go-sqlite3, WASM build, no
// cgo) opened in WAL mode. It is the durable mirror of the reconciliation
// engine's in-memory state:
//
//   - Database file: <data dir>/ledger.db
//   - transactions: one row per transaction, tombstones included
//   - sync_runs: journal of sync round trips
//
// Every write is a single SQL transaction, so a crash mid-batch never leaves a
// partial set of rows for one logical ledger operation.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/store"
)

// DB wraps the SQLite connection pool with ledger-specific queries.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. Pragmas are passed in the DSN so
// that every pooled connection gets them, not only the first one.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open("~/.local/share/budgetsync/ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		guid TEXT PRIMARY KEY NOT NULL,
		value TEXT NOT NULL,       -- decimal string, signed
		date INTEGER NOT NULL,     -- millisecond epoch
		kind TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		pending INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_pending
	    ON transactions(pending) WHERE pending = 1;

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		sent INTEGER NOT NULL,
		received INTEGER NOT NULL,
		cursor INTEGER NOT NULL,
		error TEXT
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

const upsertQuery = `
	INSERT INTO transactions (guid, value, date, kind, deleted, pending)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(guid) DO UPDATE SET
		value = excluded.value,
		date = excluded.date,
		kind = excluded.kind,
		deleted = excluded.deleted,
		pending = excluded.pending
`

// UpsertOne implements store.Store.UpsertOne.
func (db *DB) UpsertOne(ctx context.Context, t schema.Transaction) error {
	return db.Apply(ctx, store.Batch{Upserts: []schema.Transaction{t}})
}

// UpsertMany implements store.Store.UpsertMany.
func (db *DB) UpsertMany(ctx context.Context, ts []schema.Transaction) error {
	return db.Apply(ctx, store.Batch{Upserts: ts})
}

// DeleteMany implements store.Store.DeleteMany.
// Returns nil for ids that don't exist (idempotent).
func (db *DB) DeleteMany(ctx context.Context, ids []string) error {
	return db.Apply(ctx, store.Batch{Deletes: ids})
}

// Apply implements store.Store.Apply.
//
// Upserts and deletes run inside one transaction; any failure rolls the whole
// batch back.
func (db *DB) Apply(ctx context.Context, b store.Batch) error {
	if b.Empty() {
		return nil
	}

	for i := range b.Upserts {
		if err := b.Upserts[i].Validate(); err != nil {
			return fmt.Errorf("invalid transaction: %w", err)
		}
	}

	// Start transaction
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(b.Upserts) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range b.Upserts {
			_, err := stmt.ExecContext(ctx,
				t.ID,
				t.Amount.String(),
				schema.Millis(t.OccurredAt),
				t.Label,
				boolToInt(t.Deleted),
				boolToInt(t.Pending),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
			}
		}
	}

	if len(b.Deletes) > 0 {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM transactions WHERE guid = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare delete: %w", err)
		}
		defer stmt.Close()

		for _, id := range b.Deletes {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to delete transaction %s: %w", id, err)
			}
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Scan implements store.Store.Scan.
// Results are ordered by date DESC, then guid ASC for repeatable ties.
func (db *DB) Scan(ctx context.Context, f store.Filter) ([]schema.Transaction, error) {
	var conditions []string
	var args []interface{}

	if c, arg, ok := matchCondition("deleted", f.Deleted); ok {
		conditions = append(conditions, c)
		args = append(args, arg)
	}
	if c, arg, ok := matchCondition("pending", f.Pending); ok {
		conditions = append(conditions, c)
		args = append(args, arg)
	}

	query := `SELECT guid, value, date, kind, deleted, pending FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC, guid ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetTransaction retrieves a single row by id, tombstones included.
// Returns sql.ErrNoRows if the row is not found.
func (db *DB) GetTransaction(ctx context.Context, id string) (schema.Transaction, error) {
	query := `SELECT guid, value, date, kind, deleted, pending FROM transactions WHERE guid = ?`
	row := db.conn.QueryRowContext(ctx, query, id)
	return scanTransaction(row)
}

// Counts summarizes the transactions table.
type Counts struct {
	Total   int
	Active  int
	Pending int
	Deleted int
}

// GetCounts returns row counts for status output.
func (db *DB) GetCounts(ctx context.Context) (Counts, error) {
	var c Counts
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN pending = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0)
	FROM transactions
	`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&c.Total, &c.Active, &c.Pending, &c.Deleted); err != nil {
		return Counts{}, fmt.Errorf("failed to get transaction counts: %w", err)
	}
	return c, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(r rowScanner) (schema.Transaction, error) {
	var t schema.Transaction
	var value string
	var date int64
	var deleted, pending int

	if err := r.Scan(&t.ID, &value, &date, &t.Label, &deleted, &pending); err != nil {
		return schema.Transaction{}, err
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return schema.Transaction{}, fmt.Errorf("invalid amount %q for %s: %w", value, t.ID, err)
	}
	t.Amount = amount
	t.OccurredAt = schema.FromMillis(date)
	t.Deleted = deleted != 0
	t.Pending = pending != 0
	return t, nil
}

// scanTransactions is a helper function to scan multiple rows from query results.
func scanTransactions(rows *sql.Rows) ([]schema.Transaction, error) {
	var result []schema.Transaction

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return result, nil
}

func matchCondition(column string, m store.Match) (string, interface{}, bool) {
	switch m {
	case store.Yes:
		return column + " = ?", 1, true
	case store.No:
		return column + " = ?", 0, true
	default:
		return "", nil, false
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ store.Store = (*DB)(nil)
