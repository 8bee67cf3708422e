package diversity

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonycode/harmonycode/internal/perspective"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(opts TrackerOptions) *Tracker {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	return NewTracker(opts)
}

func TestRegisterAgentKeepsExplicitPerspective(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})

	got := tr.RegisterAgent("a1", perspective.Skeptic)
	assert.Equal(t, perspective.Skeptic, got)

	p, ok := tr.PerspectiveOf("a1")
	require.True(t, ok)
	assert.Equal(t, perspective.Skeptic, p)

	// Re-registering does not reassign.
	got = tr.RegisterAgent("a1", perspective.Optimist)
	assert.Equal(t, perspective.Skeptic, got)
}

func TestRegisterAgentDrawsRandomWhenInvalid(t *testing.T) {
	tr := newTestTracker(TrackerOptions{Rand: rand.New(rand.NewSource(7))})

	got := tr.RegisterAgent("a1", "")
	assert.True(t, perspective.Valid(got))

	got = tr.RegisterAgent("a2", perspective.Perspective("NOT_A_THING"))
	assert.True(t, perspective.Valid(got))
}

func TestDistributionAndRemove(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.RegisterAgent("a1", perspective.Skeptic)
	tr.RegisterAgent("a2", perspective.Skeptic)
	tr.RegisterAgent("a3", perspective.Optimist)

	dist := tr.Distribution()
	assert.Equal(t, 2, dist[perspective.Skeptic])
	assert.Equal(t, 1, dist[perspective.Optimist])

	tr.RemoveAgent("a2")
	dist = tr.Distribution()
	assert.Equal(t, 1, dist[perspective.Skeptic])
}

func TestAgentHistoryBounded(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.RegisterAgent("a1", perspective.Skeptic)

	for i := 0; i < agentHistoryLimit+10; i++ {
		tr.RecordDecision(DecisionRecord{Agent: "a1", Decision: "message"})
	}
	assert.Len(t, tr.AgentHistory("a1"), agentHistoryLimit)
}

func TestMetricsRates(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.RegisterAgent("a1", perspective.Skeptic)
	tr.RegisterAgent("a2", perspective.Optimist)

	tr.RecordDecision(DecisionRecord{Agent: "a1", AgreedWithMajority: true, EvidenceProvided: true})
	tr.RecordDecision(DecisionRecord{Agent: "a2", AgreedWithMajority: true})
	tr.RecordDecision(DecisionRecord{Agent: "a1", ChallengedAssumptions: true})
	tr.RecordDecision(DecisionRecord{Agent: "a2", AgreedWithMajority: true, EvidenceProvided: true})

	m := tr.Metrics()
	assert.Equal(t, 2, m.TotalAgents)
	assert.InDelta(t, 1.0, m.OverallDiversity, 0.001) // 2 distinct / 2 agents
	assert.InDelta(t, 0.75, m.AgreementRate, 0.001)
	assert.InDelta(t, 0.5, m.EvidenceRate, 0.001)
	assert.InDelta(t, 0.25, m.ChallengeRate, 0.001)
	assert.ElementsMatch(t, []perspective.Perspective{perspective.Skeptic, perspective.Optimist}, m.MinorityPerspectivesPreserved)
}

func TestMetricsCachedWithinTTL(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.RegisterAgent("a1", perspective.Skeptic)

	first := tr.Metrics()
	assert.Equal(t, 1, first.TotalAgents)

	// Mutating through a tracked operation purges the cache.
	tr.RegisterAgent("a2", perspective.Optimist)
	second := tr.Metrics()
	assert.Equal(t, 2, second.TotalAgents)
}

func TestConsensusSpeedStreak(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.RegisterAgent("a1", perspective.Skeptic)

	for i := 0; i < 4; i++ {
		tr.RecordDecision(DecisionRecord{Agent: "a1", AgreedWithMajority: true})
	}
	assert.Equal(t, 4, tr.Metrics().LastConsensusSpeed)

	tr.RecordDecision(DecisionRecord{Agent: "a1", AgreedWithMajority: false})
	assert.Equal(t, 0, tr.Metrics().LastConsensusSpeed)
}

func TestRotatePerspectiveMovesToUnderrepresented(t *testing.T) {
	tr := newTestTracker(TrackerOptions{Rand: rand.New(rand.NewSource(3))})
	tr.RegisterAgent("a1", perspective.Optimist)
	tr.RegisterAgent("a2", perspective.Optimist)

	next, ok := tr.RotatePerspective("a1")
	require.True(t, ok)
	assert.NotEqual(t, perspective.Optimist, next)
	assert.True(t, perspective.Valid(next))

	p, _ := tr.PerspectiveOf("a1")
	assert.Equal(t, next, p)

	_, ok = tr.RotatePerspective("nobody")
	assert.False(t, ok)
}

func TestAutoRotateOnSustainedAgreement(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := newTestTracker(TrackerOptions{
		Now:                clock.Now,
		AutoRotate:         true,
		RotationInterval:   30 * time.Minute,
		AgreementRateLimit: 0.8,
	})
	tr.RegisterAgent("a1", perspective.Optimist)

	tr.RecordDecision(DecisionRecord{Agent: "a1", AgreedWithMajority: true})

	p, _ := tr.PerspectiveOf("a1")
	assert.NotEqual(t, perspective.Optimist, p, "agreement rate 1.0 over recent window forces rotation")
}

func TestAutoRotateOnInterval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := newTestTracker(TrackerOptions{
		Now:              clock.Now,
		AutoRotate:       true,
		RotationInterval: 30 * time.Minute,
	})
	tr.RegisterAgent("a1", perspective.Creative)

	clock.Advance(31 * time.Minute)
	tr.RecordDecision(DecisionRecord{Agent: "a1", AgreedWithMajority: false})

	p, _ := tr.PerspectiveOf("a1")
	assert.NotEqual(t, perspective.Creative, p)
}
