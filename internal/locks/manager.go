// Package locks implements the two-phase task ownership primitive: a
// transient TTL lock that grants the exclusive right to claim, and the
// durable claim that records assignment. All three transitions
// (acquire, release, claim) share one critical section, so two concurrent
// assignments of the same task can never both succeed.
package locks

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harmonycode/harmonycode/internal/events"
	"github.com/harmonycode/harmonycode/internal/id"
	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/workspace"
)

// Snapshot file names under the workspace root.
const (
	LocksFile  = "task-locks.json"
	ClaimsFile = "task-claims.json"
)

// Claim statuses.
const (
	ClaimPending    = "pending"
	ClaimInProgress = "in_progress"
	ClaimCompleted  = "completed"
)

// Lock is the transient exclusive right to claim a task.
type Lock struct {
	TaskID    string    `json:"task_id"`
	LockedBy  string    `json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"lock_token"`
}

// Claim is the durable assignment record. At most one non-completed claim
// exists per task.
type Claim struct {
	TaskID    string    `json:"task_id"`
	Agent     string    `json:"agent"`
	ClaimedAt time.Time `json:"claimed_at"`
	Status    string    `json:"status"`
}

// Status describes the observable lock state of a task.
type Status struct {
	Locked      bool   `json:"locked"`
	Owner       string `json:"owner,omitempty"`
	ExpiresInMs int64  `json:"expires_in_ms,omitempty"`
}

// Options configures a Manager.
type Options struct {
	TTL         time.Duration // lock lifetime; 5s default
	SweepPeriod time.Duration // sweeper tick; 1s default
	Workspace   *workspace.Workspace
	Bus         events.Emitter
	Now         func() time.Time // injectable clock for tests
}

// Manager owns the in-memory lock and claim tables. Memory state is
// authoritative at runtime; the snapshots on disk are a recovery aid, not a
// commit log, so persistence errors never fail an operation.
type Manager struct {
	mu     sync.Mutex
	locks  map[string]*Lock
	claims map[string]*Claim

	ttl         time.Duration
	sweepPeriod time.Duration
	ws          *workspace.Workspace
	bus         events.Emitter
	now         func() time.Time

	version int64 // increments on every persisted lock-table change

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager builds a Manager and loads any snapshots from the workspace,
// discarding locks that expired while the server was down.
func NewManager(opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.SweepPeriod <= 0 {
		opts.SweepPeriod = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		locks:       make(map[string]*Lock),
		claims:      make(map[string]*Claim),
		ttl:         opts.TTL,
		sweepPeriod: opts.SweepPeriod,
		ws:          opts.Workspace,
		bus:         opts.Bus,
		now:         opts.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.load()
	return m
}

// Acquire grants the lock on taskID to agentID and returns the lock token.
// Re-acquiring a held lock refreshes the expiry and returns the same token
// (idempotent re-entry). Returns ok=false while a different agent holds a
// non-expired lock.
func (m *Manager) Acquire(taskID, agentID string) (token string, ok bool) {
	m.mu.Lock()
	now := m.now()

	if l, exists := m.locks[taskID]; exists && now.Before(l.ExpiresAt) {
		if l.LockedBy != agentID {
			m.mu.Unlock()
			metrics.LockAcquires.WithLabelValues("denied").Inc()
			return "", false
		}
		l.ExpiresAt = now.Add(m.ttl)
		token = l.Token
		m.version++
		snap := m.lockSnapshotLocked()
		m.mu.Unlock()
		m.persistLocks(snap)
		metrics.LockAcquires.WithLabelValues("refreshed").Inc()
		return token, true
	}

	l := &Lock{
		TaskID:    taskID,
		LockedBy:  agentID,
		LockedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		Token:     id.New("lock"),
	}
	m.locks[taskID] = l
	m.version++
	snap := m.lockSnapshotLocked()
	m.mu.Unlock()
	m.persistLocks(snap)
	metrics.LockAcquires.WithLabelValues("granted").Inc()
	return l.Token, true
}

// Release drops the lock if token matches the current holder's token.
// Anything else is a no-op.
func (m *Manager) Release(taskID, token string) bool {
	m.mu.Lock()
	l, exists := m.locks[taskID]
	if !exists || l.Token != token {
		m.mu.Unlock()
		return false
	}
	delete(m.locks, taskID)
	m.version++
	snap := m.lockSnapshotLocked()
	m.mu.Unlock()
	m.persistLocks(snap)
	return true
}

// Claim converts a held lock into a durable claim. It requires the lock to
// be held by agentID with a matching token and no existing non-completed
// claim. On success the lock is released: the claim itself is the long-term
// ownership record.
func (m *Manager) Claim(taskID, agentID, token string) bool {
	m.mu.Lock()
	now := m.now()

	l, exists := m.locks[taskID]
	if !exists || l.Token != token || l.LockedBy != agentID || !now.Before(l.ExpiresAt) {
		m.mu.Unlock()
		metrics.ClaimsTotal.WithLabelValues("conflict").Inc()
		return false
	}
	if c, ok := m.claims[taskID]; ok && c.Status != ClaimCompleted {
		m.mu.Unlock()
		metrics.ClaimsTotal.WithLabelValues("conflict").Inc()
		return false
	}

	m.claims[taskID] = &Claim{
		TaskID:    taskID,
		Agent:     agentID,
		ClaimedAt: now,
		Status:    ClaimInProgress,
	}
	delete(m.locks, taskID)
	m.version++
	lockSnap := m.lockSnapshotLocked()
	claimSnap := m.claimSnapshotLocked()
	m.mu.Unlock()

	m.persistLocks(lockSnap)
	m.persistClaims(claimSnap)
	metrics.ClaimsTotal.WithLabelValues("won").Inc()
	return true
}

// UpdateStatus moves a claim through its lifecycle. Only the claiming agent
// may update it.
func (m *Manager) UpdateStatus(taskID, agentID, status string) bool {
	switch status {
	case ClaimPending, ClaimInProgress, ClaimCompleted:
	default:
		return false
	}

	m.mu.Lock()
	c, exists := m.claims[taskID]
	if !exists || c.Agent != agentID {
		m.mu.Unlock()
		return false
	}
	c.Status = status
	snap := m.claimSnapshotLocked()
	m.mu.Unlock()
	m.persistClaims(snap)
	return true
}

// DropClaim removes the claim for a task regardless of status. Used when a
// task is reverted to pending (timeout, disconnect).
func (m *Manager) DropClaim(taskID string) {
	m.mu.Lock()
	if _, exists := m.claims[taskID]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.claims, taskID)
	snap := m.claimSnapshotLocked()
	m.mu.Unlock()
	m.persistClaims(snap)
}

// IsAvailable reports whether the task has neither a live lock nor a
// non-completed claim.
func (m *Manager) IsAvailable(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, exists := m.locks[taskID]; exists && m.now().Before(l.ExpiresAt) {
		return false
	}
	if c, exists := m.claims[taskID]; exists && c.Status != ClaimCompleted {
		return false
	}
	return true
}

// Status returns the observable lock state for a task.
func (m *Manager) Status(taskID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, exists := m.locks[taskID]
	if !exists || !m.now().Before(l.ExpiresAt) {
		return Status{Locked: false}
	}
	return Status{
		Locked:      true,
		Owner:       l.LockedBy,
		ExpiresInMs: l.ExpiresAt.Sub(m.now()).Milliseconds(),
	}
}

// ClaimOwner returns the agent holding the non-completed claim for a task.
func (m *Manager) ClaimOwner(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.claims[taskID]
	if !exists || c.Status == ClaimCompleted {
		return "", false
	}
	return c.Agent, true
}

// Start launches the sweeper goroutine.
func (m *Manager) Start() {
	go m.sweepLoop()
}

// Stop terminates the sweeper. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Sweep drops expired locks and emits lock-expired for each. It is exported
// so tests can drive expiry without waiting for the ticker.
func (m *Manager) Sweep() {
	m.mu.Lock()
	now := m.now()
	var expired []*Lock
	for taskID, l := range m.locks {
		if !now.Before(l.ExpiresAt) {
			expired = append(expired, l)
			delete(m.locks, taskID)
		}
	}
	var snap *lockSnapshot
	if len(expired) > 0 {
		m.version++
		snap = m.lockSnapshotLocked()
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	m.persistLocks(snap)
	for _, l := range expired {
		metrics.LocksExpired.Inc()
		slog.Debug("lock expired", "task_id", l.TaskID, "locked_by", l.LockedBy)
		if m.bus != nil {
			m.bus.Emit(events.LockExpired, l.TaskID, map[string]any{
				"task_id":   l.TaskID,
				"locked_by": l.LockedBy,
			})
		}
	}
}
