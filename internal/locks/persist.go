package locks

import (
	"log/slog"
	"time"

	"github.com/harmonycode/harmonycode/internal/metrics"
)

// lockSnapshot is the wire shape of task-locks.json. The version field lets
// external readers detect missed updates.
type lockSnapshot struct {
	Version int64            `json:"version"`
	Locks   map[string]*Lock `json:"locks"`
}

type claimSnapshot struct {
	Claims map[string]*Claim `json:"claims"`
}

// lockSnapshotLocked copies the lock table for persistence. Caller holds mu
// and has already bumped the version; the disk write itself happens after the
// lock is released. Serializing is pure, so load followed by persist yields
// the same bytes.
func (m *Manager) lockSnapshotLocked() *lockSnapshot {
	snap := &lockSnapshot{
		Version: m.version,
		Locks:   make(map[string]*Lock, len(m.locks)),
	}
	for k, l := range m.locks {
		cp := *l
		snap.Locks[k] = &cp
	}
	return snap
}

func (m *Manager) claimSnapshotLocked() *claimSnapshot {
	snap := &claimSnapshot{Claims: make(map[string]*Claim, len(m.claims))}
	for k, c := range m.claims {
		cp := *c
		snap.Claims[k] = &cp
	}
	return snap
}

func (m *Manager) persistLocks(snap *lockSnapshot) {
	if m.ws == nil || snap == nil {
		return
	}
	start := time.Now()
	if err := m.ws.WriteJSONAtomic(LocksFile, snap); err != nil {
		metrics.SnapshotErrors.WithLabelValues(LocksFile).Inc()
		slog.Error("persist lock snapshot", "error", err)
		return
	}
	metrics.SnapshotDuration.WithLabelValues(LocksFile).Observe(time.Since(start).Seconds())
}

func (m *Manager) persistClaims(snap *claimSnapshot) {
	if m.ws == nil || snap == nil {
		return
	}
	start := time.Now()
	if err := m.ws.WriteJSONAtomic(ClaimsFile, snap); err != nil {
		metrics.SnapshotErrors.WithLabelValues(ClaimsFile).Inc()
		slog.Error("persist claim snapshot", "error", err)
		return
	}
	metrics.SnapshotDuration.WithLabelValues(ClaimsFile).Observe(time.Since(start).Seconds())
}

// load restores both snapshots at startup, dropping locks that expired
// while the server was down.
func (m *Manager) load() {
	if m.ws == nil {
		return
	}

	var ls lockSnapshot
	if err := m.ws.ReadJSON(LocksFile, &ls); err == nil {
		now := m.now()
		for taskID, l := range ls.Locks {
			if now.Before(l.ExpiresAt) {
				m.locks[taskID] = l
			}
		}
		m.version = ls.Version
	}

	var cs claimSnapshot
	if err := m.ws.ReadJSON(ClaimsFile, &cs); err == nil {
		for taskID, c := range cs.Claims {
			m.claims[taskID] = c
		}
	}
}
