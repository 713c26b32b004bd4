// Package statestore persists the orchestrator's process records as a
// versioned JSON snapshot. Writes are atomic (temp file + rename) so a
// crash mid-write never leaves a torn file; a missing or unreadable
// snapshot is recovered as empty state so the daemon can always boot.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"
)

const snapshotVersion = "1"

// Record is the persisted form of one process record.
type Record struct {
	ServerID  string     `json:"server_id"`
	Pid       *int       `json:"pid"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Snapshot is the on-disk schema.
type Snapshot struct {
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	Records   []Record `json:"records"`
}

// Store reads and writes the snapshot at a fixed path.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted snapshot. A missing file means first run and
// yields an empty map. A corrupt or unreadable file is logged and also
// yields an empty map - recovery fidelity is lost for this boot, but
// booting must never fail on bad state.
func (s *Store) Load() map[string]Record {
	records := make(map[string]Record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read state snapshot, starting with empty state",
				"path", s.path, "error", err)
		}
		return records
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		slog.Warn("State snapshot is corrupt, starting with empty state",
			"path", s.path, "error", err)
		return records
	}

	if snapshot.Version != snapshotVersion {
		slog.Warn("Unsupported state snapshot version, starting with empty state",
			"path", s.path, "version", snapshot.Version)
		return records
	}

	for _, rec := range snapshot.Records {
		records[rec.ServerID] = rec
	}
	return records
}

// Save atomically persists the full record set. A failed save is the one
// error this subsystem surfaces loudly: silently losing a state change
// would desynchronize the next recovery pass.
func (s *Store) Save(records map[string]Record) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	snapshot := Snapshot{
		Version:   snapshotVersion,
		Timestamp: time.Now().Format(time.RFC3339),
		Records:   make([]Record, 0, len(records)),
	}
	for _, id := range ids {
		snapshot.Records = append(snapshot.Records, records[id])
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state snapshot temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename state snapshot: %w", err)
	}

	return nil
}

// Remove deletes the snapshot file. Used by tests and reset tooling.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state snapshot: %w", err)
	}
	return nil
}
