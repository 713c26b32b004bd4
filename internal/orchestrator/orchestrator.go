// Package orchestrator owns the server registry and the per-server state
// machine. It is the only writer of process records and persisted state;
// procman, monitor and statestore are sequenced from here.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.brondum.dev/steward/internal/core"
	"go.brondum.dev/steward/internal/monitor"
	"go.brondum.dev/steward/internal/osproc"
	"go.brondum.dev/steward/internal/procman"
	"go.brondum.dev/steward/internal/statestore"
)

// Status is the lifecycle state of one managed server.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
	StatusOrphaned Status = "orphaned"
)

var (
	ErrUnknownServer     = errors.New("unknown server")
	ErrOperationInFlight = errors.New("operation already in flight for this server")
	ErrNotInitialized    = errors.New("orchestrator has not completed recovery")
)

// ProcessRecord is the dynamic state of one currently-or-recently-managed
// server. A running record always has a pid the monitor has seen alive
// within the last poll; an orphaned record has a pid observed via the
// socket scan with no orchestrator-initiated start behind it.
type ProcessRecord struct {
	ServerID  string    `json:"server_id"`
	Pid       int       `json:"pid,omitempty"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at,omitzero"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
}

// AttributedSocket is a scan sample annotated with its attribution.
type AttributedSocket struct {
	osproc.SocketSample
	ServerID string `json:"server_id,omitempty"`
	Orphaned bool   `json:"orphaned,omitempty"`
}

// OpResult reports the outcome of a start/stop/kill operation.
type OpResult struct {
	ServerID string `json:"server_id,omitempty"`
	Status   Status `json:"status,omitempty"`
	Message  string `json:"message"`
}

// Orchestrator composes the state store, process manager and monitor.
type Orchestrator struct {
	mu          sync.Mutex
	configs     []*core.ServerConfig // registration order, for attribution ties
	byID        map[string]*core.ServerConfig
	records     map[string]*ProcessRecord
	opLocks     map[string]*sync.Mutex
	initialized bool

	sys    osproc.System
	store  *statestore.Store
	pm     *procman.Manager
	logDir string

	events   *Broadcaster
	eventLog func(serverID, eventType, details string) error
}

func New(sys osproc.System, store *statestore.Store, pm *procman.Manager, logDir string) *Orchestrator {
	return &Orchestrator{
		byID:    make(map[string]*core.ServerConfig),
		records: make(map[string]*ProcessRecord),
		opLocks: make(map[string]*sync.Mutex),
		sys:     sys,
		store:   store,
		pm:      pm,
		logDir:  logDir,
		events:  NewBroadcaster(),
	}
}

// Events returns the lifecycle event broadcaster.
func (o *Orchestrator) Events() *Broadcaster {
	return o.events
}

// SetEventLogger sets the callback for recording lifecycle events to the
// history database.
func (o *Orchestrator) SetEventLogger(logger func(serverID, eventType, details string) error) {
	o.eventLog = logger
}

// RegisterServers upserts configs into the registry, preserving order
// for new ids and replacing existing ids in place. It starts nothing.
// Duplicate port claims across configs are reported but not fatal.
func (o *Orchestrator) RegisterServers(configs []*core.ServerConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, cfg := range configs {
		if cfg.ID == "" {
			return errors.New("server config with empty id")
		}
		if existing, ok := o.byID[cfg.ID]; ok {
			*existing = *cfg
			continue
		}
		clone := *cfg
		o.configs = append(o.configs, &clone)
		o.byID[cfg.ID] = &clone
	}

	if dupes := monitor.DuplicatePorts(o.configs); len(dupes) > 0 {
		return fmt.Errorf("duplicate port claims: %v", dupes)
	}
	return nil
}

// Configs returns the registered configs in registration order.
func (o *Orchestrator) Configs() []*core.ServerConfig {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*core.ServerConfig, 0, len(o.configs))
	for _, cfg := range o.configs {
		clone := *cfg
		out = append(out, &clone)
	}
	return out
}

// Initialize loads the persisted snapshot and reconciles it against the
// actually-running system: records claiming running/starting whose pid
// is gone become crashed, and live unattributed listeners surface as
// orphaned. The result is saved durably before any start/stop request
// is accepted, so a crash during recovery cannot lose the discrepancy.
func (o *Orchestrator) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, rec := range o.store.Load() {
		o.records[id] = o.fromStoreRecord(rec)
	}

	for id, rec := range o.records {
		if rec.Status != StatusRunning && rec.Status != StatusStarting && rec.Status != StatusStopping {
			continue
		}
		cfg := o.byID[rec.ServerID]
		alive := rec.Pid > 0 && o.sys.Alive(rec.Pid)
		if alive && cfg != nil && !monitor.VerifyCommand(o.sys, rec.Pid, cfg) {
			// Pid reused by an unrelated process since the snapshot
			slog.Warn("Recovered pid belongs to a different process",
				"server", id, "pid", rec.Pid)
			alive = false
		}

		if alive {
			slog.Info("Recovered running server", "server", id, "pid", rec.Pid)
			rec.Status = StatusRunning
			rec.LastSeen = time.Now()
		} else if rec.Status == StatusStopping {
			// The stop was in flight when the daemon died; the process
			// being gone is exactly what the operator asked for.
			slog.Info("Recovered completed stop", "server", id)
			rec.Status = StatusStopped
			rec.Pid = 0
		} else {
			slog.Warn("Server recorded as running but process is gone",
				"server", id, "status", rec.Status, "pid", rec.Pid)
			rec.Status = StatusCrashed
		}
	}

	if samples, err := o.sys.ListeningSockets(); err != nil {
		slog.Warn("Socket scan failed during recovery, orphan detection skipped", "error", err)
	} else {
		o.applyScanLocked(samples, nil)
	}

	if err := o.persistLocked(); err != nil {
		return fmt.Errorf("failed to persist recovered state: %w", err)
	}

	o.initialized = true
	return nil
}

// Start transitions a server to starting and spawns its process. The
// serverStarted event is deferred until a monitor poll confirms the
// process alive (and its declared ports bound), so a child that exits
// immediately never produces a false start event.
func (o *Orchestrator) Start(id string) (OpResult, error) {
	unlock, err := o.beginOp(id)
	if err != nil {
		return OpResult{}, err
	}
	defer unlock()

	o.mu.Lock()
	cfg, ok := o.byID[id]
	if !ok {
		o.mu.Unlock()
		return OpResult{}, fmt.Errorf("%w: %q", ErrUnknownServer, id)
	}

	if rec := o.records[id]; rec != nil && (rec.Status == StatusRunning || rec.Status == StatusStarting) {
		result := OpResult{ServerID: id, Status: rec.Status,
			Message: fmt.Sprintf("Server %q is already running (PID: %d)", id, rec.Pid)}
		o.mu.Unlock()
		return result, nil
	}

	rec := &ProcessRecord{ServerID: id, Status: StatusStarting}
	o.records[id] = rec
	if err := o.persistLocked(); err != nil {
		rec.Status = StatusStopped
		o.mu.Unlock()
		return OpResult{}, err
	}
	cfgCopy := *cfg
	o.mu.Unlock()

	pid, spawnErr := o.pm.Spawn(cfgCopy, o.logPath(id))

	o.mu.Lock()
	defer o.mu.Unlock()

	if spawnErr != nil {
		// Never leave a dangling starting record behind a failed spawn
		rec.Status = StatusStopped
		rec.Pid = 0
		if err := o.persistLocked(); err != nil {
			slog.Error("Failed to persist after spawn failure", "server", id, "error", err)
		}
		o.logEvent(id, "spawn_failed", spawnErr.Error())
		return OpResult{}, spawnErr
	}

	rec.Pid = pid
	rec.StartedAt = time.Now()
	if err := o.persistLocked(); err != nil {
		return OpResult{}, err
	}
	o.logEvent(id, "spawned", fmt.Sprintf("PID: %d", pid))

	return OpResult{ServerID: id, Status: StatusStarting,
		Message: fmt.Sprintf("Server %q starting (PID: %d)", id, pid)}, nil
}

// Stop terminates a server's process and transitions it to stopped.
// Calling stop on a server that is already stopped or crashed is a
// reported no-op and performs no kill syscall.
func (o *Orchestrator) Stop(id string) (OpResult, error) {
	unlock, err := o.beginOp(id)
	if err != nil {
		return OpResult{}, err
	}
	defer unlock()

	o.mu.Lock()
	if _, ok := o.byID[id]; !ok {
		o.mu.Unlock()
		return OpResult{}, fmt.Errorf("%w: %q", ErrUnknownServer, id)
	}

	rec := o.records[id]
	if rec == nil || rec.Status == StatusStopped || rec.Status == StatusCrashed {
		status := StatusStopped
		if rec != nil {
			status = rec.Status
		}
		o.mu.Unlock()
		return OpResult{ServerID: id, Status: status,
			Message: fmt.Sprintf("Server %q is already stopped", id)}, nil
	}

	rec.Status = StatusStopping
	pid := rec.Pid
	if err := o.persistLocked(); err != nil {
		o.mu.Unlock()
		return OpResult{}, err
	}
	o.mu.Unlock()

	res, killErr := o.pm.Kill(pid, false)

	o.mu.Lock()
	defer o.mu.Unlock()

	if res == procman.KillFailed {
		// The process is still alive; roll back to a truthful status
		rec.Status = StatusRunning
		if err := o.persistLocked(); err != nil {
			slog.Error("Failed to persist after kill failure", "server", id, "error", err)
		}
		o.logEvent(id, "stop_failed", killErr.Error())
		return OpResult{}, fmt.Errorf("failed to stop %q: %w", id, killErr)
	}

	rec.Status = StatusStopped
	rec.Pid = 0
	if err := o.persistLocked(); err != nil {
		return OpResult{}, err
	}
	o.logEvent(id, "stopped", fmt.Sprintf("PID: %d, %s", pid, res))
	o.events.Publish(Event{Type: EventServerStopped, ServerID: id, Time: time.Now()})

	return OpResult{ServerID: id, Status: StatusStopped,
		Message: fmt.Sprintf("Server %q stopped (%s)", id, res)}, nil
}

// ForceKill terminates an orphaned pid and confirms via a fresh socket
// scan that it no longer occupies a port.
func (o *Orchestrator) ForceKill(pid int) (OpResult, error) {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return OpResult{}, ErrNotInitialized
	}
	o.mu.Unlock()

	res, killErr := o.pm.Kill(pid, true)
	if res == procman.KillFailed {
		return OpResult{}, fmt.Errorf("failed to kill pid %d: %w", pid, killErr)
	}

	if samples, err := o.sys.ListeningSockets(); err == nil {
		for _, sample := range samples {
			if sample.Pid == pid {
				return OpResult{}, fmt.Errorf("pid %d still listening on port %d after kill", pid, sample.Port)
			}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	key := orphanKey(pid)
	if _, ok := o.records[key]; ok {
		delete(o.records, key)
		if err := o.persistLocked(); err != nil {
			return OpResult{}, err
		}
	}
	o.logEvent(key, "force_killed", fmt.Sprintf("PID: %d, %s", pid, res))

	return OpResult{Status: StatusStopped,
		Message: fmt.Sprintf("Killed pid %d (%s)", pid, res)}, nil
}

// Status returns a copy of all process records, including orphans.
func (o *Orchestrator) Status() map[string]ProcessRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]ProcessRecord, len(o.records))
	for id, rec := range o.records {
		out[id] = *rec
	}
	return out
}

// ListeningSockets runs a fresh socket scan and annotates each sample
// with its attribution.
func (o *Orchestrator) ListeningSockets() ([]AttributedSocket, error) {
	samples, err := o.sys.ListeningSockets()
	if err != nil {
		return nil, fmt.Errorf("socket scan failed: %w", err)
	}

	o.mu.Lock()
	att := monitor.Attribute(samples, o.configs)
	o.mu.Unlock()

	bySample := make(map[osproc.SocketSample]string)
	for id, matched := range att.Matched {
		for _, sample := range matched {
			bySample[sample] = id
		}
	}

	out := make([]AttributedSocket, 0, len(samples))
	for _, sample := range samples {
		annotated := AttributedSocket{SocketSample: sample}
		if id, ok := bySample[sample]; ok {
			annotated.ServerID = id
		} else {
			annotated.Orphaned = true
		}
		out = append(out, annotated)
	}
	return out, nil
}

// Run executes the reconciliation loop until ctx is done.
func (o *Orchestrator) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			o.PollNow()
		}
	}
}

// PollNow runs one reconciliation pass: liveness classification, start
// confirmation, orphan attribution. Each pass is independent and
// idempotent; a missed poll only delays detection. All transitions are
// persisted before their events are emitted.
func (o *Orchestrator) PollNow() {
	o.mu.Lock()

	var pending []Event
	changed := false
	now := time.Now()

	// Liveness over tracked pids. Records in stopping are advisory for
	// the poll - the in-flight stop owns their terminal transition. A
	// starting record without a pid is mid-spawn and also skipped.
	pids := make(map[string]int)
	for id, rec := range o.records {
		switch rec.Status {
		case StatusRunning:
			pids[id] = rec.Pid
		case StatusStarting:
			if rec.Pid > 0 {
				pids[id] = rec.Pid
			}
		}
	}
	liveness := monitor.PollLiveness(o.sys, pids)

	for _, id := range liveness.Alive {
		o.records[id].LastSeen = now
		changed = true
	}
	for _, id := range liveness.Dead {
		rec := o.records[id]
		slog.Warn("Managed process died unexpectedly",
			"server", id, "pid", rec.Pid, "status", rec.Status)
		rec.Status = StatusCrashed
		changed = true
		pending = append(pending, Event{Type: EventProcessDied, ServerID: id, Pid: rec.Pid, Time: now})
		o.logEvent(id, "process_died", fmt.Sprintf("PID: %d", rec.Pid))
	}

	// Socket scan: confirmation for starting records, adoption of
	// matched outsiders, orphan bookkeeping. A failed scan degrades to
	// "unknown" for this cycle - it never declares anything dead.
	samples, scanErr := o.sys.ListeningSockets()
	if scanErr != nil {
		slog.Debug("Socket scan failed, skipping attribution this cycle", "error", scanErr)
	} else {
		pending = append(pending, o.applyScanLocked(samples, liveness.Alive)...)
		changed = true
	}

	var persistErr error
	if changed {
		persistErr = o.persistLocked()
	}
	o.mu.Unlock()

	if persistErr != nil {
		// Events must not outrun persisted state; drop them and retry
		// the whole transition set on the next poll.
		slog.Error("Failed to persist state after poll, events withheld", "error", persistErr)
		return
	}
	for _, event := range pending {
		o.events.Publish(event)
	}
}

// applyScanLocked applies attribution findings to the record set and
// returns events to publish after persisting. Callers hold o.mu.
func (o *Orchestrator) applyScanLocked(samples []osproc.SocketSample, confirmable []string) []Event {
	var pending []Event
	now := time.Now()
	att := monitor.Attribute(samples, o.configs)

	// Promote starting records whose process is confirmed: pid alive,
	// and at least one declared port bound by that pid (servers with no
	// declared ports are confirmed by liveness alone).
	confirmed := make(map[string]bool)
	for _, id := range confirmable {
		confirmed[id] = true
	}
	for id, rec := range o.records {
		if rec.Status != StatusStarting || rec.Pid <= 0 || !confirmed[id] {
			continue
		}
		cfg := o.byID[rec.ServerID]
		if cfg != nil && len(cfg.Ports) > 0 && !portBoundByPid(att.Matched[id], rec.Pid) {
			continue // not ready yet, check again next poll
		}
		slog.Info("Server confirmed running", "server", id, "pid", rec.Pid)
		rec.Status = StatusRunning
		rec.LastSeen = now
		pending = append(pending, Event{Type: EventServerStarted, ServerID: id, Pid: rec.Pid, Time: now})
		o.logEvent(id, "started", fmt.Sprintf("PID: %d", rec.Pid))
	}

	trackedPids := make(map[int]bool)
	for _, rec := range o.records {
		if rec.Pid > 0 {
			trackedPids[rec.Pid] = true
		}
	}

	// Adopt matched processes that are running outside any record -
	// e.g. a server manually restarted on its declared port. Adoption
	// needs declared-port evidence; a process that merely looks like a
	// server by name is never claimed and falls through to the orphan
	// bookkeeping instead.
	orphaned := att.Orphaned
	for id, matched := range att.Matched {
		rec := o.records[id]
		if rec != nil && rec.Status != StatusStopped && rec.Status != StatusCrashed {
			continue
		}
		sample, ok := adoptionCandidate(att.ByPort[id], trackedPids, o.sys)
		if !ok {
			orphaned = append(orphaned, matched...)
			continue
		}
		slog.Info("Adopted externally started server",
			"server", id, "pid", sample.Pid, "port", sample.Port)
		o.records[id] = &ProcessRecord{
			ServerID:  id,
			Pid:       sample.Pid,
			Status:    StatusRunning,
			StartedAt: now,
			LastSeen:  now,
		}
		trackedPids[sample.Pid] = true
		pending = append(pending, Event{Type: EventServerStarted, ServerID: id, Pid: sample.Pid, Time: now})
		o.logEvent(id, "adopted", fmt.Sprintf("PID: %d, port: %d", sample.Pid, sample.Port))
	}

	// Orphan bookkeeping: unattributed listeners become orphaned
	// records; orphans absent from this (successful) scan are gone.
	seen := make(map[string]bool)
	for _, sample := range orphaned {
		if sample.Pid <= 0 || trackedPids[sample.Pid] {
			continue
		}
		key := orphanKey(sample.Pid)
		seen[key] = true
		if rec, ok := o.records[key]; ok {
			rec.LastSeen = now
			continue
		}
		slog.Warn("Unattributed listening process detected",
			"pid", sample.Pid, "port", sample.Port, "program", sample.Program)
		o.records[key] = &ProcessRecord{
			ServerID: key,
			Pid:      sample.Pid,
			Status:   StatusOrphaned,
			LastSeen: now,
		}
		o.logEvent(key, "orphan_detected",
			fmt.Sprintf("PID: %d, port: %d, program: %s", sample.Pid, sample.Port, sample.Program))
	}
	for key, rec := range o.records {
		if rec.Status == StatusOrphaned && !seen[key] {
			delete(o.records, key)
		}
	}

	return pending
}

// adoptionCandidate picks the first port-confirmed sample whose pid is
// alive and not already tracked by another record.
func adoptionCandidate(samples []osproc.SocketSample, tracked map[int]bool, sys osproc.System) (osproc.SocketSample, bool) {
	for _, sample := range samples {
		if sample.Pid > 0 && !tracked[sample.Pid] && sys.Alive(sample.Pid) {
			return sample, true
		}
	}
	return osproc.SocketSample{}, false
}

func portBoundByPid(matched []osproc.SocketSample, pid int) bool {
	for _, sample := range matched {
		if sample.Pid == pid {
			return true
		}
	}
	return false
}

// beginOp serializes start/stop per server id without blocking
// operations on other ids. A second operation on an id with one in
// flight is rejected rather than queued.
func (o *Orchestrator) beginOp(id string) (func(), error) {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return nil, ErrNotInitialized
	}
	lock, ok := o.opLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.opLocks[id] = lock
	}
	o.mu.Unlock()

	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %q", ErrOperationInFlight, id)
	}
	return lock.Unlock, nil
}

func (o *Orchestrator) logPath(id string) string {
	return filepath.Join(o.logDir, id+".log")
}

func (o *Orchestrator) logEvent(serverID, eventType, details string) {
	if o.eventLog == nil {
		return
	}
	if err := o.eventLog(serverID, eventType, details); err != nil {
		slog.Error("Failed to log lifecycle event", "server", serverID, "error", err)
	}
}

func orphanKey(pid int) string {
	return fmt.Sprintf("orphan-%d", pid)
}

// persistLocked saves the full record set. Callers hold o.mu.
func (o *Orchestrator) persistLocked() error {
	out := make(map[string]statestore.Record, len(o.records))
	for id, rec := range o.records {
		out[id] = o.toStoreRecord(rec)
	}
	return o.store.Save(out)
}

func (o *Orchestrator) toStoreRecord(rec *ProcessRecord) statestore.Record {
	stored := statestore.Record{
		ServerID: rec.ServerID,
		Status:   string(rec.Status),
	}
	if rec.Pid > 0 {
		pid := rec.Pid
		stored.Pid = &pid
	}
	if !rec.StartedAt.IsZero() {
		started := rec.StartedAt
		stored.StartedAt = &started
	}
	if !rec.LastSeen.IsZero() {
		seen := rec.LastSeen
		stored.LastSeen = &seen
	}
	return stored
}

func (o *Orchestrator) fromStoreRecord(stored statestore.Record) *ProcessRecord {
	rec := &ProcessRecord{
		ServerID: stored.ServerID,
		Status:   Status(stored.Status),
	}
	if stored.Pid != nil {
		rec.Pid = *stored.Pid
	}
	if stored.StartedAt != nil {
		rec.StartedAt = *stored.StartedAt
	}
	if stored.LastSeen != nil {
		rec.LastSeen = *stored.LastSeen
	}
	return rec
}
