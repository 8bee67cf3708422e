package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/workspace"
)

const stateFile = "orchestration-state.json"

// stateSnapshot is the on-disk shape of orchestration-state.json. Locks
// and claims snapshot separately; sessions and in-flight votes are
// memory-only.
type stateSnapshot struct {
	Tasks     map[string]*Task     `json:"tasks"`
	Agents    map[string]*Agent    `json:"agents"`
	Workflows map[string]*Workflow `json:"workflows"`
	SavedAt   time.Time            `json:"saved_at"`
}

// persistSnapshot dumps the current state. Copies are taken under the
// domain locks; the disk write happens outside them. Write errors are
// logged, never surfaced: memory state is authoritative at runtime.
func (e *Engine) persistSnapshot() {
	snap := stateSnapshot{
		Tasks:     make(map[string]*Task),
		Agents:    make(map[string]*Agent),
		Workflows: make(map[string]*Workflow),
		SavedAt:   e.now(),
	}

	e.mu.Lock()
	for tid, t := range e.tasks {
		cp := *t
		snap.Tasks[tid] = &cp
	}
	for aid, a := range e.agents {
		cp := *a
		snap.Agents[aid] = &cp
	}
	e.mu.Unlock()

	e.workflows.mu.Lock()
	for wid, w := range e.workflows.entries {
		cp := *w
		snap.Workflows[wid] = &cp
	}
	e.workflows.mu.Unlock()

	timer := prometheus.NewTimer(metrics.SnapshotDuration.WithLabelValues(stateFile))
	err := e.ws.WriteJSONAtomic(stateFile, snap)
	timer.ObserveDuration()
	if err != nil {
		metrics.SnapshotErrors.WithLabelValues(stateFile).Inc()
		slog.Error("persist orchestration state", "err", err)
	}
}

// loadSnapshot restores tasks, agents, and workflows from a previous run.
// In-progress tasks are reverted to pending: their agents and timers did
// not survive the restart.
func (e *Engine) loadSnapshot() error {
	var snap stateSnapshot
	if err := e.ws.ReadJSON(stateFile, &snap); err != nil {
		if workspace.IsNotExist(err) {
			return nil
		}
		return err
	}

	e.mu.Lock()
	for tid, t := range snap.Tasks {
		if t.Status == TaskInProgress {
			t.Status = TaskPending
			t.AssignedTo = ""
		}
		e.tasks[tid] = t
	}
	for aid, a := range snap.Agents {
		a.Status = AgentOffline
		a.CurrentTask = ""
		e.agents[aid] = a
	}
	e.mu.Unlock()

	e.workflows.mu.Lock()
	for wid, w := range snap.Workflows {
		e.workflows.entries[wid] = w
	}
	e.workflows.mu.Unlock()
	return nil
}

// RunSnapshots persists on a fixed period until ctx is done, then once
// more on the way out.
func (e *Engine) RunSnapshots(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.persistSnapshot()
			return
		case <-ticker.C:
			e.persistSnapshot()
		}
	}
}

// Close cancels outstanding task timers and writes a final snapshot.
func (e *Engine) Close() {
	e.mu.Lock()
	for tid, timer := range e.timers {
		timer.Stop()
		delete(e.timers, tid)
	}
	e.mu.Unlock()
	e.persistSnapshot()
}
