// Package heartbeat periodically checks an agent's task.md for pending work,
// spec.md §4.L. Grounded on
// _examples/original_source/sea_turtle/core/heartbeat.py's Heartbeat (poll
// interval, sleep-when-idle behavior) and the ticker idiom from
// _examples/nevindra-oasis/internal/scheduling/scheduler.go's Run loop.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/sea-turtle/sea-turtle/internal/workspace"
)

// OnTasksFound is invoked with the pending task lines when a check finds any.
type OnTasksFound func(agentID string, tasks []string)

// Heartbeat periodically scans one agent's workspace for pending tasks.
type Heartbeat struct {
	agentID  string
	ws       *workspace.Workspace
	interval time.Duration
	onFound  OnTasksFound
}

// New creates a Heartbeat for agentID. interval <= 0 defaults to 5 minutes,
// matching the teacher's default.
func New(agentID string, ws *workspace.Workspace, interval time.Duration, onFound OnTasksFound) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Heartbeat{agentID: agentID, ws: ws, interval: interval, onFound: onFound}
}

// Run blocks, checking for pending tasks every interval until ctx is
// cancelled. The first check happens after one interval, not immediately.
func (h *Heartbeat) Run(ctx context.Context) {
	slog.Info("heartbeat started", "agent_id", h.agentID, "interval", h.interval)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat stopped", "agent_id", h.agentID)
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *Heartbeat) check() {
	pending := h.ws.PendingTasks()
	if len(pending) == 0 {
		slog.Debug("heartbeat: no pending tasks, resting", "agent_id", h.agentID)
		return
	}
	slog.Info("heartbeat: pending tasks found", "agent_id", h.agentID, "count", len(pending))
	if h.onFound != nil {
		h.onFound(h.agentID, pending)
	}
}
