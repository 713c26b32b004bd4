package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.brondum.dev/steward/internal/core"
	"go.brondum.dev/steward/internal/db"
	"go.brondum.dev/steward/internal/orchestrator"
	"go.brondum.dev/steward/internal/osproc"
	"go.brondum.dev/steward/internal/procman"
	"go.brondum.dev/steward/internal/statestore"
)

// Daemon owns the orchestrator and exposes it over the unix socket and
// the optional HTTP surface.
type Daemon struct {
	orch         *orchestrator.Orchestrator
	logBroadcast *LogBroadcaster // For streaming logs to clients
	database     *db.DB          // Database for event history
	listener     net.Listener
	shutdownOnce sync.Once
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

// ServerStatus is the per-server entry returned by the STATUS command.
type ServerStatus struct {
	ServerID  string `json:"server_id"`
	Name      string `json:"name,omitempty"`
	Color     string `json:"color,omitempty"`
	Pid       int    `json:"pid,omitempty"`
	Status    string `json:"status"`
	Ports     []int  `json:"ports,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	LastSeen  string `json:"last_seen,omitempty"`
}

// VersionInfo is the payload of the VERSION command.
type VersionInfo struct {
	Version string `json:"version"`
	Pid     int    `json:"pid"`
}

func New() *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	sys := osproc.HostSystem{}
	store := statestore.New(core.GetStateFilePath())
	pm := procman.New(sys, core.Config.GracePeriod)

	return &Daemon{
		orch:         orchestrator.New(sys, store, pm, core.GetLogDir()),
		logBroadcast: NewLogBroadcaster(core.Config.HistorySize),
		ctx:          ctx,
		cancelFunc:   cancel,
	}
}

// Run starts the daemon's main loop.
func (d *Daemon) Run() {
	// Setup custom logger that broadcasts to connected clients
	d.setupLogging()

	if err := os.MkdirAll(core.GetLogDir(), 0o755); err != nil {
		slog.Error("Failed to create log directory", "error", err, "path", core.GetLogDir())
	}

	// Initialize database
	dbPath := core.GetDatabasePath()
	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", dbPath)
	} else {
		d.database = database
		// Closed explicitly in shutdown(), not deferred here, so Run()
		// returning cannot race shutdown() on the connection
		slog.Info("Database opened", "path", dbPath)

		version := core.FormatVersion(core.Version)
		if err := d.database.LogDaemonEvent("start", fmt.Sprintf("daemon started - version: %s, PID: %d", version, os.Getpid())); err != nil {
			slog.Error("Failed to log daemon start", "error", err)
		}

		d.orch.SetEventLogger(func(serverID, eventType, details string) error {
			return d.database.LogServerEvent(serverID, eventType, details)
		})
	}

	// Register configured servers and recover persisted state before
	// accepting any commands
	if err := d.orch.RegisterServers(core.Config.Servers); err != nil {
		slog.Error("Server registration reported a problem", "error", err)
	}
	if err := d.orch.Initialize(); err != nil {
		slog.Error(fmt.Sprintf("Fatal: Could not recover process state: %v", err))
		os.Exit(1)
	}

	// Setup PID and socket files and ensure they are cleaned up on exit.
	socketPath := core.GetSocketPath()
	pidFilePath := core.GetPIDFilePath()

	// Try to create the socket listener
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		// Socket creation failed - this could be due to a stale socket file
		if _, statErr := os.Stat(socketPath); statErr == nil {
			// Socket file exists, try to connect to it to see if daemon is actually running
			conn, dialErr := net.Dial("unix", socketPath)
			if dialErr == nil {
				conn.Close()
				slog.Error("Fatal: Daemon is already running")
				os.Exit(1)
			}
			// Connection failed, socket file is stale - remove it
			slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
			if removeErr := os.Remove(socketPath); removeErr != nil {
				slog.Error(fmt.Sprintf("Fatal: Could not remove stale socket: %v", removeErr))
				os.Exit(1)
			}
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Fatal: Could not create socket listener: %v", err))
			os.Exit(1)
		}
	}

	os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
	defer os.Remove(pidFilePath)
	defer os.Remove(socketPath)

	d.listener = listener
	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath))

	// Reconciliation loop
	go d.orch.Run(d.ctx.Done(), core.Config.PollInterval)

	// Optional HTTP/websocket surface
	if core.Config.HTTP.Listen != "" {
		d.startHTTP(core.Config.HTTP.Listen)
	}

	// Watch config file for changes
	d.watchConfig()

	// Re-poll immediately after system wake so stale records don't
	// linger for a full interval
	startWakeMonitor(d.ctx, d.orch)

	// Handle signals
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-shutdownChan
		slog.Info("Shutdown signal received.")
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	}()

	// Accept connections in a loop
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	// Log the command execution (skip VERSION as it's automatic)
	if command != "VERSION" {
		if len(args) > 0 {
			slog.Info(fmt.Sprintf("Executing command: %s %v", command, args))
		} else {
			slog.Info(fmt.Sprintf("Executing command: %s", command))
		}
	}

	var response Response
	switch command {
	case "START":
		if len(args) > 0 {
			response = d.startServer(args[0])
		} else {
			response.AddMessage(MsgError, "Usage: START <server-id>")
		}
	case "STOP":
		if len(args) > 0 {
			response = d.stopServer(args[0])
		} else {
			response.AddMessage(MsgError, "Usage: STOP <server-id>")
		}
	case "RESTART":
		if len(args) > 0 {
			response = d.restartServer(args[0])
		} else {
			response.AddMessage(MsgError, "Usage: RESTART <server-id>")
		}
	case "KILL":
		if len(args) > 0 {
			if pid, err := strconv.Atoi(args[0]); err == nil {
				response = d.killPid(pid)
			} else {
				response.AddMessagef(MsgError, "Invalid PID: %s", args[0])
			}
		} else {
			response.AddMessage(MsgError, "Usage: KILL <pid>")
		}
	case "STATUS":
		response = d.getStatus()
	case "SOCKETS":
		response = d.getSockets()
	case "EVENTS":
		limit := 20
		if len(args) > 0 {
			if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		response = d.getEvents(limit)
	case "POLL":
		d.orch.PollNow()
		response.AddMessage(MsgInfo, "Poll complete")
	case "VERSION":
		response = d.getVersion()
	case "LOGS":
		// Handle log streaming - don't send JSON response, just stream logs
		historyLines := 20 // default
		showHistory := true
		if len(args) >= 1 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				historyLines = n
			}
			if args[0] == "no_history" || (len(args) >= 2 && args[1] == "no_history") {
				showHistory = false
			}
		}
		d.handleLogsWithHistory(conn, showHistory, historyLines)
		return // Don't send JSON response
	case "QUIT":
		response = d.quitDaemon()
		// Send response before shutting down
		writeResponse(conn, &response)
		slog.Info("Quit command received. Shutting down daemon.")
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	default:
		response.AddMessagef(MsgError, "Unknown command: %s", command)
	}

	writeResponse(conn, &response)
}

func writeResponse(conn net.Conn, response *Response) {
	payload, err := response.Encode()
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		return
	}
	conn.Write(payload)
}

func (d *Daemon) startServer(id string) Response {
	response := Response{}

	result, err := d.orch.Start(id)
	if err != nil {
		response.AddMessagef(MsgError, "Failed to start %q: %v", id, err)
		return response
	}
	response.AddMessage(MsgInfo, result.Message)
	response.AddData(result)
	return response
}

func (d *Daemon) stopServer(id string) Response {
	response := Response{}

	result, err := d.orch.Stop(id)
	if err != nil {
		response.AddMessagef(MsgError, "Failed to stop %q: %v", id, err)
		return response
	}
	response.AddMessage(MsgInfo, result.Message)
	response.AddData(result)
	return response
}

func (d *Daemon) restartServer(id string) Response {
	response := Response{}

	stopResult, err := d.orch.Stop(id)
	if err != nil {
		response.AddMessagef(MsgError, "Failed to stop %q: %v", id, err)
		return response
	}
	response.AddMessage(MsgInfo, stopResult.Message)

	startResult, err := d.orch.Start(id)
	if err != nil {
		response.AddMessagef(MsgError, "Failed to start %q: %v", id, err)
		return response
	}
	response.AddMessage(MsgInfo, startResult.Message)
	response.AddData(startResult)
	return response
}

func (d *Daemon) killPid(pid int) Response {
	response := Response{}

	result, err := d.orch.ForceKill(pid)
	if err != nil {
		response.AddMessagef(MsgError, "Failed to kill PID %d: %v", pid, err)
		return response
	}
	response.AddMessage(MsgInfo, result.Message)
	return response
}

func (d *Daemon) getStatus() Response {
	response := Response{}

	records := d.orch.Status()
	configs := d.orch.Configs()

	byID := make(map[string]*core.ServerConfig, len(configs))
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
	}

	statuses := []ServerStatus{}

	// Registered servers first, in registration order
	for _, cfg := range configs {
		status := ServerStatus{
			ServerID: cfg.ID,
			Name:     cfg.Name,
			Color:    cfg.Color,
			Ports:    cfg.Ports,
			Status:   string(orchestrator.StatusStopped),
		}
		if rec, ok := records[cfg.ID]; ok {
			status.Pid = rec.Pid
			status.Status = string(rec.Status)
			if !rec.StartedAt.IsZero() {
				status.StartedAt = rec.StartedAt.Format(time.RFC3339)
			}
			if !rec.LastSeen.IsZero() {
				status.LastSeen = rec.LastSeen.Format(time.RFC3339)
			}
		}
		statuses = append(statuses, status)
	}

	// Then orphans, sorted by pid for stable output
	var orphans []ServerStatus
	for id, rec := range records {
		if rec.Status != orchestrator.StatusOrphaned {
			continue
		}
		entry := ServerStatus{
			ServerID: id,
			Pid:      rec.Pid,
			Status:   string(rec.Status),
		}
		if !rec.LastSeen.IsZero() {
			entry.LastSeen = rec.LastSeen.Format(time.RFC3339)
		}
		orphans = append(orphans, entry)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Pid < orphans[j].Pid })
	statuses = append(statuses, orphans...)

	if len(statuses) == 0 {
		response.AddMessage(MsgWarn, "No servers configured")
	} else {
		response.AddMessage(MsgInfo, "OK")
	}
	response.AddData(statuses)
	return response
}

func (d *Daemon) getSockets() Response {
	response := Response{}

	sockets, err := d.orch.ListeningSockets()
	if err != nil {
		response.AddMessagef(MsgError, "Socket scan failed: %v", err)
		return response
	}

	sort.Slice(sockets, func(i, j int) bool { return sockets[i].Port < sockets[j].Port })
	response.AddMessage(MsgInfo, "OK")
	response.AddData(sockets)
	return response
}

func (d *Daemon) getEvents(limit int) Response {
	response := Response{}

	if d.database == nil {
		response.AddMessage(MsgError, "Event history database is not available")
		return response
	}

	events, err := d.database.GetRecentServerEvents(limit)
	if err != nil {
		response.AddMessagef(MsgError, "Failed to read event history: %v", err)
		return response
	}
	response.AddMessage(MsgInfo, "OK")
	response.AddData(events)
	return response
}

func (d *Daemon) getVersion() Response {
	response := Response{}

	response.AddMessage(MsgInfo, "OK")
	response.AddData(VersionInfo{Version: core.Version, Pid: os.Getpid()})
	return response
}

func (d *Daemon) quitDaemon() Response {
	response := Response{}

	running := 0
	for _, rec := range d.orch.Status() {
		if rec.Status == orchestrator.StatusRunning || rec.Status == orchestrator.StatusStarting {
			running++
		}
	}

	if running > 0 {
		response.AddMessagef(MsgInfo, "Stopping daemon, %d server(s) keep running detached...", running)
	} else {
		response.AddMessage(MsgInfo, "Stopping daemon...")
	}
	return response
}

// shutdown persists state and closes resources. Managed processes are
// left running - they are detached from the daemon's session and will
// be recovered or adopted on the next start.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("Executing shutdown sequence...")

		// Cancel context to stop the poll loop and watchers
		if d.cancelFunc != nil {
			d.cancelFunc()
		}

		if d.database != nil {
			version := core.FormatVersion(core.Version)
			details := fmt.Sprintf("daemon stopped - version: %s, PID: %d", version, os.Getpid())
			if err := d.database.LogDaemonEvent("stop", details); err != nil {
				slog.Error("Failed to log daemon stop event", "error", err)
			}
			if err := d.database.Close(); err != nil {
				slog.Error("Failed to close database", "error", err)
			}
		}

		slog.Info("Shutdown complete")
	})
}
