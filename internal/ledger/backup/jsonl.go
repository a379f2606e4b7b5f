// Package backup exports the ledger table to JSONL and restores it.
//
// Each line is one schema.Transaction, tombstones and pending flags
// included, so a restore brings back exactly the rows the engine would load.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/steveyegge/budgetsync/internal/ledger/schema"
	"github.com/steveyegge/budgetsync/internal/ledger/store"
)

// Export writes every row of st to w, one JSON object per line.
// It returns the number of rows written.
func Export(ctx context.Context, st store.Store, w io.Writer) (int, error) {
	rows, err := st.Scan(ctx, store.Everything)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, t := range rows {
		if err := enc.Encode(t); err != nil {
			return 0, fmt.Errorf("failed to encode transaction %s: %w", t.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(rows), nil
}

// ExportFile writes the export to path through a temp file and rename.
func ExportFile(ctx context.Context, st store.Store, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	// Write to temp file, then rename
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, st, file)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return n, nil
}

// Read decodes a JSONL export. Every row is validated; the first invalid
// line fails the whole read.
func Read(r io.Reader) ([]schema.Transaction, error) {
	var rows []schema.Transaction
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var t schema.Transaction
		if err := decoder.Decode(&t); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid transaction at line %d: %w", lineNum, err)
		}
		rows = append(rows, t)
	}

	return rows, nil
}

// ImportOptions contains configuration for Import.
type ImportOptions struct {
	DryRun bool // Validate and count without writing
	Force  bool // Allow importing into a non-empty ledger (rows are upserted)
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Rows    int
	Pending int
	Deleted int
}

// Import restores rows from a JSONL file into st. Unless opts.Force is set
// the ledger must be empty. All rows are written in one transaction.
func Import(ctx context.Context, st store.Store, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer file.Close()

	rows, err := Read(file)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Rows: len(rows)}
	for _, t := range rows {
		if t.Pending {
			result.Pending++
		}
		if t.Deleted {
			result.Deleted++
		}
	}

	if !opts.Force {
		existing, err := st.Scan(ctx, store.Everything)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger: %w", err)
		}
		if len(existing) > 0 {
			return nil, fmt.Errorf("ledger already has %d rows (use --force to merge)", len(existing))
		}
	}

	if opts.DryRun || len(rows) == 0 {
		return result, nil
	}

	if err := st.UpsertMany(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to import rows: %w", err)
	}
	return result, nil
}
