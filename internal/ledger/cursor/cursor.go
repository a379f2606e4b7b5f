// Package cursor persists the sync cursor: the server timestamp of the last
// delta merged into the ledger. It lives in a small YAML state file next to
// the ledger database, independent of the ledger rows.
package cursor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// State is the on-disk content of the state file.
type State struct {
	Cursor    int64     `yaml:"cursor"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// File stores the cursor in a YAML file. Writes go to a temp file that is
// renamed over the target, so a crash leaves either the old or the new value.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a cursor store backed by path. The file need not exist.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the state file path.
func (f *File) Path() string {
	return f.path
}

// Cursor returns the stored cursor, or 0 if the file doesn't exist yet.
func (f *File) Cursor() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load()
	if err != nil {
		return 0, err
	}
	return st.Cursor, nil
}

// SetCursor replaces the stored cursor.
func (f *File) SetCursor(v int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(State{Cursor: v, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal cursor state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Write to temp file, then rename
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cursor state: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace cursor state: %w", err)
	}
	return nil
}

// State returns the full state file content.
func (f *File) State() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) load() (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read cursor state: %w", err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to parse cursor state %s: %w", f.path, err)
	}
	return st, nil
}

// Memory is an in-memory cursor store for tests.
type Memory struct {
	mu    sync.Mutex
	value int64
	err   error
}

// NewMemory returns a Memory store starting at v.
func NewMemory(v int64) *Memory {
	return &Memory{value: v}
}

// FailWith makes every SetCursor call return err. Pass nil to clear.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Cursor returns the current value.
func (m *Memory) Cursor() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

// SetCursor replaces the current value.
func (m *Memory) SetCursor(v int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.value = v
	return nil
}
