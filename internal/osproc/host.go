package osproc

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// HostSystem is the real System implementation backed by the OS.
type HostSystem struct{}

var _ System = HostSystem{}

func (HostSystem) Spawn(command, workdir, logPath string) (int, error) {
	if workdir != "" {
		if _, err := os.Stat(workdir); os.IsNotExist(err) {
			return 0, fmt.Errorf("workdir does not exist: %s", workdir)
		}
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log sink: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = workdir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil

	// Own session so the child survives daemon restarts and signals
	// sent to the daemon's group don't reach it.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid

	// The child holds its own copy of the log fd; ours can go.
	logFile.Close()

	// Reap the child when it exits so it doesn't linger as a zombie
	// while this daemon is alive. The exit itself is detected by the
	// monitor's liveness poll, not by Wait.
	go cmd.Wait()

	return pid, nil
}

func (HostSystem) Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

func (HostSystem) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means the process exists but belongs to someone else.
	return err == nil || err == unix.EPERM
}

func (HostSystem) Cmdline(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return proc.Cmdline()
}

// ListeningSockets enumerates listening TCP sockets. The gopsutil
// connection table is the first choice; when it fails (restricted
// environments, missing /proc support) we fall back to parsing lsof.
func (HostSystem) ListeningSockets() ([]SocketSample, error) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		slog.Debug("Connection table unavailable, falling back to lsof", "error", err)
		return lsofListeningSockets()
	}

	var samples []SocketSample
	for _, conn := range conns {
		if conn.Status != "LISTEN" {
			continue
		}
		sample := SocketSample{
			Protocol: "tcp",
			Port:     int(conn.Laddr.Port),
			Pid:      int(conn.Pid),
		}
		if conn.Pid > 0 {
			if proc, err := process.NewProcess(conn.Pid); err == nil {
				sample.Program, _ = proc.Name()
				sample.Cmdline, _ = proc.Cmdline()
			}
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
