package locks

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonycode/harmonycode/internal/workspace"
)

// fakeClock lets tests advance lock expiry deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	opts := Options{TTL: 5 * time.Second, SweepPeriod: time.Second}
	if clock != nil {
		opts.Now = clock.Now
	}
	return NewManager(opts)
}

func TestAcquireIsIdempotentForHolder(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	tok1, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)
	require.NotEmpty(t, tok1)

	clock.Advance(2 * time.Second)
	tok2, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)
	assert.Equal(t, tok1, tok2, "re-acquire must return the same token")

	// Refresh extended the expiry: 5s from the second acquire, not the first.
	clock.Advance(4 * time.Second)
	st := m.Status("task-1")
	assert.True(t, st.Locked)
	assert.Equal(t, "agent-a", st.Owner)
}

func TestAcquireDeniedWhileHeldByOther(t *testing.T) {
	m := newTestManager(t, nil)

	_, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)

	_, ok = m.Acquire("task-1", "agent-b")
	assert.False(t, ok)
}

func TestClaimReleasesLock(t *testing.T) {
	m := newTestManager(t, nil)

	tok, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)
	require.True(t, m.Claim("task-1", "agent-a", tok))

	st := m.Status("task-1")
	assert.False(t, st.Locked, "claim must release the lock")

	owner, ok := m.ClaimOwner("task-1")
	require.True(t, ok)
	assert.Equal(t, "agent-a", owner)
	assert.False(t, m.IsAvailable("task-1"), "claimed task is not available")
}

func TestClaimRequiresMatchingToken(t *testing.T) {
	m := newTestManager(t, nil)

	_, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)

	assert.False(t, m.Claim("task-1", "agent-a", "bogus-token"))
	assert.False(t, m.Claim("task-1", "agent-b", "bogus-token"))
}

func TestClaimRejectedWhenClaimExists(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	tok, _ := m.Acquire("task-1", "agent-a")
	require.True(t, m.Claim("task-1", "agent-a", tok))

	// Lock expires, another agent wins the lock but must still lose the claim.
	clock.Advance(10 * time.Second)
	tok2, ok := m.Acquire("task-1", "agent-b")
	require.True(t, ok)
	assert.False(t, m.Claim("task-1", "agent-b", tok2))
}

func TestCompletedClaimFreesTask(t *testing.T) {
	m := newTestManager(t, nil)

	tok, _ := m.Acquire("task-1", "agent-a")
	require.True(t, m.Claim("task-1", "agent-a", tok))

	assert.False(t, m.UpdateStatus("task-1", "agent-b", ClaimCompleted), "non-owner update is forbidden")
	assert.True(t, m.UpdateStatus("task-1", "agent-a", ClaimCompleted))
	assert.True(t, m.IsAvailable("task-1"))
}

func TestExpiryMakesTaskAvailable(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	_, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)
	assert.False(t, m.IsAvailable("task-1"))

	clock.Advance(6 * time.Second)
	assert.True(t, m.IsAvailable("task-1"), "expired lock no longer blocks")

	// Sweeper drops the stale entry; a second agent can then win.
	m.Sweep()
	tok, ok := m.Acquire("task-1", "agent-b")
	require.True(t, ok)
	assert.True(t, m.Claim("task-1", "agent-b", tok))
}

func TestReleaseRequiresToken(t *testing.T) {
	m := newTestManager(t, nil)

	tok, _ := m.Acquire("task-1", "agent-a")
	assert.False(t, m.Release("task-1", "wrong"))
	assert.True(t, m.Release("task-1", tok))
	assert.True(t, m.IsAvailable("task-1"))
}

// TestConcurrentClaimRace fires N goroutines at the same task and requires
// exactly one winner of the acquire→claim sequence.
func TestConcurrentClaimRace(t *testing.T) {
	m := newTestManager(t, nil)

	const agents = 32
	start := make(chan struct{})
	var wg sync.WaitGroup
	winners := make(chan string, agents)

	for i := 0; i < agents; i++ {
		agentID := string(rune('a'+i%26)) + "-agent"
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			<-start
			tok, ok := m.Acquire("task-race", agentID)
			if !ok {
				return
			}
			if m.Claim("task-race", agentID, tok) {
				winners <- agentID
			} else {
				m.Release("task-race", tok)
			}
		}(agentID + string(rune('0' + i/26)))
	}

	close(start)
	wg.Wait()
	close(winners)

	var won []string
	for w := range winners {
		won = append(won, w)
	}
	require.Len(t, won, 1, "exactly one agent may claim the task")

	owner, ok := m.ClaimOwner("task-race")
	require.True(t, ok)
	assert.Equal(t, won[0], owner)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.Open(dir)
	require.NoError(t, err)

	clock := newFakeClock()
	m := NewManager(Options{TTL: 5 * time.Second, Workspace: ws, Now: clock.Now})

	tok, _ := m.Acquire("task-1", "agent-a")
	require.True(t, m.Claim("task-1", "agent-a", tok))
	_, ok := m.Acquire("task-2", "agent-b")
	require.True(t, ok)

	first, err := os.ReadFile(ws.Path(LocksFile))
	require.NoError(t, err)
	firstClaims, err := os.ReadFile(ws.Path(ClaimsFile))
	require.NoError(t, err)

	// Reload into a fresh manager: the restored state must match.
	m2 := NewManager(Options{TTL: 5 * time.Second, Workspace: ws, Now: clock.Now})
	owner, ok := m2.ClaimOwner("task-1")
	require.True(t, ok)
	assert.Equal(t, "agent-a", owner)

	st := m2.Status("task-2")
	assert.True(t, st.Locked)
	assert.Equal(t, "agent-b", st.Owner)

	var snap lockSnapshot
	require.NoError(t, json.Unmarshal(first, &snap))
	assert.Len(t, snap.Locks, 1)

	var cs claimSnapshot
	require.NoError(t, json.Unmarshal(firstClaims, &cs))
	assert.Equal(t, "agent-a", cs.Claims["task-1"].Agent)
}

// Serializing is pure: loading a snapshot and writing it back without any
// mutation reproduces the file byte for byte, version included.
func TestLockSnapshotByteStable(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.Open(dir)
	require.NoError(t, err)

	clock := newFakeClock()
	m := NewManager(Options{TTL: 5 * time.Second, Workspace: ws, Now: clock.Now})
	_, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)
	_, ok = m.Acquire("task-2", "agent-b")
	require.True(t, ok)

	first, err := os.ReadFile(ws.Path(LocksFile))
	require.NoError(t, err)

	m2 := NewManager(Options{TTL: 5 * time.Second, Workspace: ws, Now: clock.Now})
	m2.mu.Lock()
	snap := m2.lockSnapshotLocked()
	m2.mu.Unlock()
	m2.persistLocks(snap)

	second, err := os.ReadFile(ws.Path(LocksFile))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestExpiredLocksDiscardedOnLoad(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.Open(dir)
	require.NoError(t, err)

	clock := newFakeClock()
	m := NewManager(Options{TTL: 5 * time.Second, Workspace: ws, Now: clock.Now})
	_, ok := m.Acquire("task-1", "agent-a")
	require.True(t, ok)

	clock.Advance(time.Minute)
	m2 := NewManager(Options{TTL: 5 * time.Second, Workspace: ws, Now: clock.Now})
	assert.True(t, m2.IsAvailable("task-1"))
	st := m2.Status("task-1")
	assert.False(t, st.Locked)
}
