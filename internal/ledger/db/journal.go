package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

// RecordSyncRun appends a run to the sync journal.
func (db *DB) RecordSyncRun(ctx context.Context, run schema.SyncRun) error {
	query := `
	INSERT INTO sync_runs (started_at, duration_ms, sent, received, cursor, error)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, query,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		run.Sent,
		run.Received,
		run.Cursor,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// RecentSyncRuns returns up to limit journal entries, newest first.
// A limit of 0 returns every entry.
func (db *DB) RecentSyncRuns(ctx context.Context, limit int) ([]schema.SyncRun, error) {
	query := `
	SELECT id, started_at, duration_ms, sent, received, cursor, error
	FROM sync_runs
	ORDER BY id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []schema.SyncRun
	for rows.Next() {
		var run schema.SyncRun
		var startedAt string
		var durationMs int64
		var errText sql.NullString

		if err := rows.Scan(&run.ID, &startedAt, &durationMs, &run.Sent, &run.Received, &run.Cursor, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		run.StartedAt = t
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.Error = errText.String

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}
