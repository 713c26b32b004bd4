package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"go.brondum.dev/steward/internal/core"
)

const dialTimeout = time.Second

// SendCommand dials the daemon socket, writes a single command line and
// decodes the JSON envelope that comes back. The daemon half-closes the
// connection after writing, so reading to EOF frames the response.
func SendCommand(command string) (Response, error) {
	var response Response

	conn, err := net.DialTimeout("unix", core.GetSocketPath(), dialTimeout)
	if err != nil {
		return response, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, command); err != nil {
		return response, fmt.Errorf("failed to send command to daemon: %w", err)
	}
	payload, err := io.ReadAll(conn)
	if err != nil {
		return response, fmt.Errorf("failed to read response from daemon: %w", err)
	}
	if err := json.Unmarshal(payload, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from daemon: %w", err)
	}
	return response, nil
}

// EnsureDaemonIsRunning probes the daemon and forks a detached one when
// the probe fails, waiting until the new daemon answers commands.
func EnsureDaemonIsRunning() {
	if daemonResponds() {
		return
	}

	slog.Info("Daemon not running. Starting it now...")
	cmd := exec.Command(os.Args[0], "internal-daemon-start")
	if err := cmd.Start(); err != nil {
		slog.Error(fmt.Sprintf("Fatal: Could not fork daemon process: %v", err))
		os.Exit(1)
	}
	slog.Info(fmt.Sprintf("Daemon process launched with PID: %d", cmd.Process.Pid))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if daemonResponds() {
			slog.Info("Daemon is ready.")
			return
		}
	}
	slog.Error("Fatal: Daemon process was launched but never answered a command.")
	os.Exit(1)
}

// daemonResponds reports whether a daemon answers on the socket. Probing
// with a real command also catches a stale socket file whose daemon is
// gone, which a plain dial would not.
func daemonResponds() bool {
	_, err := SendCommand("VERSION")
	return err == nil
}
