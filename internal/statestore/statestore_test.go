package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	records := store.Load()
	if records == nil {
		t.Fatal("expected empty map, got nil")
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	pid := 4321
	started := time.Now().Truncate(time.Second)
	records := map[string]Record{
		"web": {ServerID: "web", Pid: &pid, Status: "running", StartedAt: &started},
		"api": {ServerID: "api", Status: "stopped"},
	}

	if err := store.Save(records); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded := store.Load()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(loaded))
	}

	web := loaded["web"]
	if web.Pid == nil || *web.Pid != 4321 {
		t.Errorf("expected pid 4321, got %v", web.Pid)
	}
	if web.Status != "running" {
		t.Errorf("expected status running, got %q", web.Status)
	}
	if web.StartedAt == nil || !web.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, web.StartedAt)
	}

	api := loaded["api"]
	if api.Pid != nil {
		t.Errorf("expected nil pid for stopped record, got %v", api.Pid)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := New(path)
	records := store.Load()
	if len(records) != 0 {
		t.Errorf("expected corrupt file to load as empty state, got %d records", len(records))
	}
}

func TestLoadWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":"99","records":[{"server_id":"web","status":"running"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	store := New(path)
	if records := store.Load(); len(records) != 0 {
		t.Errorf("expected unsupported version to load as empty state, got %d records", len(records))
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "state.json"))

	if err := store.Save(map[string]Record{"web": {ServerID: "web", Status: "stopped"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "state.json.tmp")); !os.IsNotExist(err) {
		t.Error("expected temp file to be renamed away")
	}
}

func TestSaveOverwritesPrevious(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	pid := 100
	if err := store.Save(map[string]Record{
		"web": {ServerID: "web", Pid: &pid, Status: "running"},
		"db":  {ServerID: "db", Status: "stopped"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(map[string]Record{
		"web": {ServerID: "web", Status: "crashed"},
	}); err != nil {
		t.Fatal(err)
	}

	loaded := store.Load()
	if len(loaded) != 1 {
		t.Fatalf("expected snapshot to be replaced wholesale, got %d records", len(loaded))
	}
	if loaded["web"].Status != "crashed" {
		t.Errorf("expected status crashed, got %q", loaded["web"].Status)
	}
}
