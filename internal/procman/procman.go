// Package procman is the process-lifecycle primitive: it spawns detached
// children and terminates processes by pid with graceful-then-forceful
// escalation. It holds no policy and never touches persisted state.
package procman

import (
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"go.brondum.dev/steward/internal/core"
	"go.brondum.dev/steward/internal/osproc"
)

// KillResult classifies the outcome of a Kill call.
type KillResult int

const (
	// KillAlreadyGone means the pid was not alive when Kill was called.
	KillAlreadyGone KillResult = iota
	// KillTerminated means the process exited within the grace period.
	KillTerminated
	// KillForced means the process ignored SIGTERM and was SIGKILLed.
	KillForced
	// KillFailed means the process could not be terminated.
	KillFailed
)

func (r KillResult) String() string {
	switch r {
	case KillAlreadyGone:
		return "already gone"
	case KillTerminated:
		return "terminated"
	case KillForced:
		return "force killed"
	case KillFailed:
		return "failed to terminate"
	default:
		return "unknown"
	}
}

const killPollInterval = 100 * time.Millisecond

// forceWait bounds how long we wait for a SIGKILLed process to disappear.
const forceWait = 2 * time.Second

// Manager spawns and kills server processes through an injected System.
type Manager struct {
	sys   osproc.System
	grace time.Duration
}

func New(sys osproc.System, grace time.Duration) *Manager {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Manager{sys: sys, grace: grace}
}

// Spawn launches the configured command detached from the daemon's
// lifecycle, with output going to the per-server log sink. It returns
// the pid immediately and does not wait for readiness.
func (m *Manager) Spawn(cfg core.ServerConfig, logPath string) (int, error) {
	workdir := core.ExpandPath(cfg.Workdir)

	slog.Info("Spawning server process",
		"server", cfg.ID,
		"command", cfg.Command,
		"workdir", workdir)

	pid, err := m.sys.Spawn(cfg.Command, workdir, logPath)
	if err != nil {
		return 0, fmt.Errorf("failed to spawn %q: %w", cfg.ID, err)
	}

	return pid, nil
}

// Kill terminates pid. The default path sends SIGTERM, waits up to the
// grace period, then escalates to SIGKILL; force skips straight to
// SIGKILL. Signals target the process group so shell-launched children
// go down with their parent.
func (m *Manager) Kill(pid int, force bool) (KillResult, error) {
	if pid <= 0 {
		return KillAlreadyGone, nil
	}
	if !m.sys.Alive(pid) {
		return KillAlreadyGone, nil
	}

	if force {
		if err := m.signal(pid, syscall.SIGKILL); err != nil {
			return KillFailed, fmt.Errorf("failed to force kill pid %d: %w", pid, err)
		}
		if m.waitGone(pid, forceWait) {
			return KillForced, nil
		}
		return KillFailed, fmt.Errorf("pid %d survived SIGKILL", pid)
	}

	if err := m.signal(pid, syscall.SIGTERM); err != nil {
		return KillFailed, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	if m.waitGone(pid, m.grace) {
		return KillTerminated, nil
	}

	// Grace period expired, escalate
	slog.Warn("Process did not stop gracefully, force killing", "pid", pid)
	if err := m.signal(pid, syscall.SIGKILL); err != nil {
		// It may have exited between the liveness poll and the kill
		if !m.sys.Alive(pid) {
			return KillTerminated, nil
		}
		return KillFailed, fmt.Errorf("failed to force kill pid %d: %w", pid, err)
	}
	if m.waitGone(pid, forceWait) {
		return KillForced, nil
	}
	return KillFailed, fmt.Errorf("pid %d survived SIGKILL", pid)
}

// signal sends sig to the process group first and falls back to the
// single process if the group signal fails.
func (m *Manager) signal(pid int, sig syscall.Signal) error {
	if err := m.sys.Signal(-pid, sig); err == nil {
		return nil
	}
	return m.sys.Signal(pid, sig)
}

// waitGone polls until pid is gone or the deadline passes.
func (m *Manager) waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !m.sys.Alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(killPollInterval)
	}
}
