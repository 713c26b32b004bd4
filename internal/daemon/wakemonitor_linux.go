package daemon

import (
	"context"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
	"go.brondum.dev/steward/internal/orchestrator"
)

// startWakeMonitor listens for system sleep/wake events via D-Bus (logind)
// and triggers an immediate reconciliation poll on wake, since processes
// may have died while the machine was asleep. Falls back to no-op if
// D-Bus is unavailable (e.g., headless servers).
func startWakeMonitor(ctx context.Context, orch *orchestrator.Orchestrator) {
	go func() {
		conn, err := dbus.SystemBus()
		if err != nil {
			// D-Bus unavailable, common on headless servers that don't sleep
			if os.Getenv("DBUS_SYSTEM_BUS_ADDRESS") == "" {
				slog.Debug("D-Bus unavailable, wake monitor disabled (headless server?)")
			} else {
				slog.Warn("Failed to connect to D-Bus for wake monitoring", "error", err)
			}
			return
		}

		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath("/org/freedesktop/login1"),
			dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
			dbus.WithMatchMember("PrepareForSleep"),
		); err != nil {
			slog.Warn("Failed to subscribe to PrepareForSleep signal", "error", err)
			return
		}

		signals := make(chan *dbus.Signal, 8)
		conn.Signal(signals)

		slog.Info("Wake monitor started (D-Bus logind)")

		for {
			select {
			case <-ctx.Done():
				conn.RemoveSignal(signals)
				slog.Debug("Wake monitor stopped")
				return
			case sig := <-signals:
				if sig == nil {
					return
				}
				if sig.Name != "org.freedesktop.login1.Manager.PrepareForSleep" {
					continue
				}
				if len(sig.Body) < 1 {
					continue
				}
				entering, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}
				if !entering {
					slog.Info("System woke from sleep, running reconciliation poll")
					orch.PollNow()
				}
			}
		}
	}()
}
