package osproc

import (
	"syscall"
)

// SocketSample is one listening TCP socket observed during a scan.
// Samples are ephemeral - recomputed on every poll, never persisted.
type SocketSample struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Pid      int    `json:"pid"`
	Program  string `json:"program"`
	Cmdline  string `json:"cmdline,omitempty"`
}

// System abstracts process spawning, signalling, liveness checks and
// listening-socket enumeration so every OS-facing operation can be
// swapped for a fake in tests.
type System interface {
	// Spawn launches command via the shell in workdir, in its own
	// session so it survives a daemon restart, with stdout and stderr
	// appended to the file at logPath. Returns the pid immediately;
	// readiness is the monitor's concern.
	Spawn(command, workdir, logPath string) (int, error)

	// Signal delivers sig to pid. A negative pid targets the process
	// group, matching kill(2) semantics.
	Signal(pid int, sig syscall.Signal) error

	// Alive reports whether pid denotes a live process.
	Alive(pid int) bool

	// Cmdline returns the full command line for pid, used to guard
	// against pid reuse when validating recovered records.
	Cmdline(pid int) (string, error)

	// ListeningSockets enumerates listening TCP sockets with pid and
	// program attribution.
	ListeningSockets() ([]SocketSample, error)
}
