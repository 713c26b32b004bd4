package db

import (
	"os"
	"path/filepath"
	"testing"
)

// openTestDB is a helper that creates and returns a temporary database
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_OpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func TestDB_Open_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "subdir", "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database with nested path: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created in nested directory")
	}
}

func TestDB_WALMode(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected WAL journal mode, got '%v'", journalMode)
	}
}

func TestDB_LogServerEvent(t *testing.T) {
	db := openTestDB(t)

	if err := db.LogServerEvent("webfront", "started", "PID: 12345"); err != nil {
		t.Errorf("Failed to log server event: %v", err)
	}

	got, err := db.GetRecentServerEvents(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ServerID != "webfront" {
		t.Errorf("Expected server_id='webfront', got %q", got[0].ServerID)
	}
	if got[0].EventType != "started" {
		t.Errorf("Expected event_type='started', got %q", got[0].EventType)
	}
	if got[0].Details != "PID: 12345" {
		t.Errorf("Expected details='PID: 12345', got %q", got[0].Details)
	}
	if got[0].ID == 0 {
		t.Error("expected non-zero ID")
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestDB_LogDaemonEvent(t *testing.T) {
	db := openTestDB(t)

	if err := db.LogDaemonEvent("start", "Daemon started (PID: 12345)"); err != nil {
		t.Errorf("Failed to log daemon event: %v", err)
	}

	got, err := db.GetRecentDaemonEvents(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].EventType != "start" {
		t.Errorf("Expected event_type='start', got %q", got[0].EventType)
	}
	if got[0].Details != "Daemon started (PID: 12345)" {
		t.Errorf("Expected details='Daemon started (PID: 12345)', got %q", got[0].Details)
	}
}

func TestDB_GetRecentServerEvents(t *testing.T) {
	db := openTestDB(t)

	events := []struct {
		serverID, eventType, details string
	}{
		{"webfront", "spawned", "PID: 100"},
		{"webfront", "started", "PID: 100"},
		{"backend", "spawned", "PID: 200"},
		{"backend", "process_died", "PID: 200"},
	}
	for _, e := range events {
		if err := db.LogServerEvent(e.serverID, e.eventType, e.details); err != nil {
			t.Fatalf("Failed to log server event: %v", err)
		}
	}

	t.Run("returns all when limit exceeds count", func(t *testing.T) {
		got, err := db.GetRecentServerEvents(10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("expected 4 events, got %d", len(got))
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		got, err := db.GetRecentServerEvents(2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
	})

	t.Run("empty table returns empty slice", func(t *testing.T) {
		emptyDB := openTestDB(t)
		got, err := emptyDB.GetRecentServerEvents(10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected 0 events, got %d", len(got))
		}
	})
}

func TestDB_GetServerEvents(t *testing.T) {
	db := openTestDB(t)

	if err := db.LogServerEvent("webfront", "started", "PID: 100"); err != nil {
		t.Fatal(err)
	}
	if err := db.LogServerEvent("backend", "started", "PID: 200"); err != nil {
		t.Fatal(err)
	}
	if err := db.LogServerEvent("webfront", "stopped", "PID: 100"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetServerEvents("webfront", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 webfront events, got %d", len(got))
	}
	for _, e := range got {
		if e.ServerID != "webfront" {
			t.Errorf("expected only webfront events, got %q", e.ServerID)
		}
	}
}

func TestDB_GetLastServerEventPerID(t *testing.T) {
	db := openTestDB(t)

	events := []struct {
		serverID, eventType, details string
	}{
		{"webfront", "started", "PID: 100"},
		{"backend", "started", "PID: 200"},
		{"webfront", "stopped", "PID: 100"},
		{"backend", "process_died", "PID: 200"},
		{"webfront", "started", "PID: 101"},
	}
	for _, e := range events {
		if err := db.LogServerEvent(e.serverID, e.eventType, e.details); err != nil {
			t.Fatalf("Failed to log server event: %v", err)
		}
	}

	got, err := db.GetLastServerEventPerID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events (one per server), got %d", len(got))
	}

	byID := make(map[string]ServerEvent)
	for _, e := range got {
		byID[e.ServerID] = e
	}

	if e := byID["webfront"]; e.EventType != "started" || e.Details != "PID: 101" {
		t.Errorf("expected webfront last event started/PID: 101, got %q/%q", e.EventType, e.Details)
	}
	if e := byID["backend"]; e.EventType != "process_died" {
		t.Errorf("expected backend last event_type='process_died', got %q", e.EventType)
	}
}

func TestDB_Close_NilConn(t *testing.T) {
	db := &DB{conn: nil}

	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil conn error = %v", err)
	}
}
