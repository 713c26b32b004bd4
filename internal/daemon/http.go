package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"go.brondum.dev/steward/internal/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin than the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startHTTP exposes the orchestrator over REST and a websocket event
// stream for the live dashboard.
func (d *Daemon) startHTTP(listen string) {
	tokenHash := d.loadTokenHash()

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(d.authMiddleware(tokenHash))

	api.HandleFunc("/servers", d.httpListServers).Methods("GET")
	api.HandleFunc("/servers/{id}/start", d.httpStartServer).Methods("POST")
	api.HandleFunc("/servers/{id}/stop", d.httpStopServer).Methods("POST")
	api.HandleFunc("/servers/{id}/restart", d.httpRestartServer).Methods("POST")
	api.HandleFunc("/sockets", d.httpListSockets).Methods("GET")
	api.HandleFunc("/kill/{pid}", d.httpKillPid).Methods("POST")
	api.HandleFunc("/events", d.httpRecentEvents).Methods("GET")
	api.HandleFunc("/events/ws", d.httpEventStream).Methods("GET")

	server := &http.Server{
		Addr:         listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
	}

	go func() {
		slog.Info("HTTP surface listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	go func() {
		<-d.ctx.Done()
		server.Close()
	}()
}

// loadTokenHash reads the bcrypt hash of the API token. A missing hash
// file disables authentication, which is acceptable for loopback-only
// listeners and logged loudly for anything else.
func (d *Daemon) loadTokenHash() []byte {
	data, err := os.ReadFile(core.GetTokenHashPath())
	if err != nil {
		if !strings.HasPrefix(core.Config.HTTP.Listen, "127.0.0.1") &&
			!strings.HasPrefix(core.Config.HTTP.Listen, "localhost") {
			slog.Warn("No API token configured and HTTP listener is not loopback-only. " +
				"Run 'steward token set' to require authentication.")
		}
		return nil
	}
	return []byte(strings.TrimSpace(string(data)))
}

func (d *Daemon) authMiddleware(tokenHash []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == nil {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			// Websocket clients cannot set headers from browsers; accept
			// the token as a query parameter there
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" || bcrypt.CompareHashAndPassword(tokenHash, []byte(token)) != nil {
				httpError(w, http.StatusUnauthorized, "invalid or missing API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func httpJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode HTTP response", "error", err)
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	httpJSON(w, status, map[string]string{"error": message})
}

func (d *Daemon) httpListServers(w http.ResponseWriter, r *http.Request) {
	response := d.getStatus()
	httpJSON(w, http.StatusOK, response.Data)
}

func (d *Daemon) httpStartServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := d.orch.Start(id)
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	httpJSON(w, http.StatusOK, result)
}

func (d *Daemon) httpStopServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := d.orch.Stop(id)
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	httpJSON(w, http.StatusOK, result)
}

func (d *Daemon) httpRestartServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := d.orch.Stop(id); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	result, err := d.orch.Start(id)
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	httpJSON(w, http.StatusOK, result)
}

func (d *Daemon) httpListSockets(w http.ResponseWriter, r *http.Request) {
	sockets, err := d.orch.ListeningSockets()
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	httpJSON(w, http.StatusOK, sockets)
}

func (d *Daemon) httpKillPid(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid pid: %v", err))
		return
	}
	result, err := d.orch.ForceKill(pid)
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	httpJSON(w, http.StatusOK, result)
}

func (d *Daemon) httpRecentEvents(w http.ResponseWriter, r *http.Request) {
	if d.database == nil {
		httpError(w, http.StatusServiceUnavailable, "event history database is not available")
		return
	}
	limit := 50
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	events, err := d.database.GetRecentServerEvents(limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpJSON(w, http.StatusOK, events)
}

// httpEventStream pushes lifecycle events over a websocket until the
// client disconnects.
func (d *Daemon) httpEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := d.orch.Events().Subscribe()
	defer d.orch.Events().Unsubscribe(events)

	// Reader goroutine notices client disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-d.ctx.Done():
			return
		}
	}
}
