//go:build !linux

package daemon

import (
	"context"

	"go.brondum.dev/steward/internal/orchestrator"
)

// Sleep/wake detection is only wired up on Linux via logind. On other
// platforms the periodic poll catches post-wake drift on its own.
func startWakeMonitor(ctx context.Context, orch *orchestrator.Orchestrator) {}
