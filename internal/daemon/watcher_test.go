package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestConfigWatcher_StartStop(t *testing.T) {
	cw, err := NewConfigWatcher(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}

	if cw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
	if err := cw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !cw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := cw.Start(); err == nil {
		t.Error("Start() on running watcher should fail")
	}
	if err := cw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if cw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

func TestConfigWatcher_MissingDirectory(t *testing.T) {
	cw, err := NewConfigWatcher(filepath.Join(t.TempDir(), "absent", "config.toml"))
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	defer cw.Stop()

	if err := cw.Start(); err == nil {
		t.Error("Start() should fail when the config directory does not exist")
	}
}

// TestConfigWatcher_Changes verifies writes to the file are reported and
// writes to siblings are not.
func TestConfigWatcher_Changes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	if err := cw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer cw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-cw.Changes():
		t.Fatal("change reported for a sibling file")
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("[sync]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-cw.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported for the config file")
	}
}

// TestConfigWatcher_RenameOver verifies editors that save through a temp
// file are seen.
func TestConfigWatcher_RenameOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	if err := cw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer cw.Stop()

	tmp := filepath.Join(dir, ".config.toml.swp")
	if err := os.WriteFile(tmp, []byte("[sync]\ninterval = \"1m\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cw.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported after rename")
	}
}
