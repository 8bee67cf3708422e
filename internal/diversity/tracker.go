// Package diversity tracks per-agent decision history and enforces the
// anti-echo-chamber rules: perspective assignment and rotation, contribution
// gating, and weighted vote/conflict resolution.
package diversity

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/harmonycode/harmonycode/internal/perspective"
)

// History bounds and cache lifetime.
const (
	agentHistoryLimit  = 20
	globalHistoryLimit = 100
	metricsCacheTTL    = 5 * time.Second
)

// DecisionRecord is one observed decision, append-only.
type DecisionRecord struct {
	Timestamp             time.Time               `json:"timestamp"`
	Agent                 string                  `json:"agent"`
	Decision              string                  `json:"decision"`
	Perspective           perspective.Perspective `json:"perspective"`
	AgreedWithMajority    bool                    `json:"agreed_with_majority"`
	EvidenceProvided      bool                    `json:"evidence_provided"`
	ChallengedAssumptions bool                    `json:"challenged_assumptions"`
}

// Metrics is the aggregate diversity view over recent history.
type Metrics struct {
	OverallDiversity              float64                   `json:"overall_diversity"`
	AgreementRate                 float64                   `json:"agreement_rate"`
	EvidenceRate                  float64                   `json:"evidence_rate"`
	ChallengeRate                 float64                   `json:"challenge_rate"`
	LastConsensusSpeed            int                       `json:"last_consensus_speed"`
	MinorityPerspectivesPreserved []perspective.Perspective `json:"minority_perspectives_preserved"`
	TotalAgents                   int                       `json:"total_agents"`
}

type agentState struct {
	perspective perspective.Perspective
	profile     perspective.Profile
	history     []DecisionRecord
	lastRotated time.Time
}

// Tracker keeps the rolling decision history and perspective distribution.
type Tracker struct {
	mu     sync.Mutex
	agents map[string]*agentState
	global []DecisionRecord

	cache      *expirable.LRU[string, Metrics]
	rng        *rand.Rand
	now        func() time.Time
	autoRotate bool
	rotateIvl  time.Duration
	agreeLimit float64
}

// TrackerOptions configures a Tracker. Rand must be provided seeded in tests
// that need deterministic assignment; the default seeds from entropy.
type TrackerOptions struct {
	Rand               *rand.Rand
	Now                func() time.Time
	AutoRotate         bool
	RotationInterval   time.Duration
	AgreementRateLimit float64
}

// NewTracker creates an empty tracker.
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(cryptoSeed()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = 30 * time.Minute
	}
	if opts.AgreementRateLimit <= 0 {
		opts.AgreementRateLimit = 0.8
	}
	return &Tracker{
		agents:     make(map[string]*agentState),
		cache:      expirable.NewLRU[string, Metrics](1, nil, metricsCacheTTL),
		rng:        opts.Rand,
		now:        opts.Now,
		autoRotate: opts.AutoRotate,
		rotateIvl:  opts.RotationInterval,
		agreeLimit: opts.AgreementRateLimit,
	}
}

// RegisterAgent adds an agent. When p is empty a perspective is drawn from
// the random stream.
func (t *Tracker) RegisterAgent(agentID string, p perspective.Perspective) perspective.Perspective {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, exists := t.agents[agentID]; exists {
		return st.perspective
	}
	if !perspective.Valid(p) {
		p = perspective.All[t.rng.Intn(perspective.Count)]
	}
	t.agents[agentID] = &agentState{
		perspective: p,
		profile:     perspective.Profiles[p],
		lastRotated: t.now(),
	}
	t.cache.Purge()
	return p
}

// RemoveAgent forgets an agent (its global history remains).
func (t *Tracker) RemoveAgent(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
	t.cache.Purge()
}

// PerspectiveOf returns the current perspective of an agent.
func (t *Tracker) PerspectiveOf(agentID string) (perspective.Perspective, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.agents[agentID]
	if !ok {
		return "", false
	}
	return st.perspective, true
}

// Distribution returns the current perspective histogram.
func (t *Tracker) Distribution() map[perspective.Perspective]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.distributionLocked()
}

func (t *Tracker) distributionLocked() map[perspective.Perspective]int {
	dist := make(map[perspective.Perspective]int)
	for _, st := range t.agents {
		dist[st.perspective]++
	}
	return dist
}

// RecordDecision appends to the per-agent and global histories, invalidates
// the metrics cache, and triggers auto-rotation when the group has either
// not rotated for the configured interval or is agreeing too much.
func (t *Tracker) RecordDecision(rec DecisionRecord) {
	t.mu.Lock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	st, exists := t.agents[rec.Agent]
	if exists {
		if rec.Perspective == "" {
			rec.Perspective = st.perspective
		}
		st.history = append(st.history, rec)
		if len(st.history) > agentHistoryLimit {
			st.history = st.history[len(st.history)-agentHistoryLimit:]
		}
	}
	t.global = append(t.global, rec)
	if len(t.global) > globalHistoryLimit {
		t.global = t.global[len(t.global)-globalHistoryLimit:]
	}
	t.cache.Purge()

	rotate := t.autoRotate && exists &&
		(t.now().Sub(st.lastRotated) > t.rotateIvl || t.recentAgreementRateLocked() > t.agreeLimit)
	t.mu.Unlock()

	if rotate {
		t.RotatePerspective(rec.Agent)
	}
}

// RotatePerspective reassigns an agent to an underrepresented perspective
// (held by fewer than half the even share), falling back to a random one.
func (t *Tracker) RotatePerspective(agentID string) (perspective.Perspective, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.agents[agentID]
	if !exists {
		return "", false
	}

	dist := t.distributionLocked()
	threshold := math.Ceil(float64(len(t.agents))/float64(perspective.Count)) * 0.5
	var under []perspective.Perspective
	for _, p := range perspective.All {
		if p == st.perspective {
			continue
		}
		if float64(dist[p]) < threshold {
			under = append(under, p)
		}
	}

	var next perspective.Perspective
	if len(under) > 0 {
		next = under[t.rng.Intn(len(under))]
	} else {
		next = perspective.All[t.rng.Intn(perspective.Count)]
	}
	st.perspective = next
	st.profile = perspective.Profiles[next]
	st.lastRotated = t.now()
	t.cache.Purge()
	slog.Debug("rotated perspective", "agent", agentID, "perspective", next)
	return next, true
}

// Metrics computes (or returns the ≤5s-cached) aggregate diversity view.
func (t *Tracker) Metrics() Metrics {
	if m, ok := t.cache.Get("metrics"); ok {
		return m
	}

	t.mu.Lock()
	dist := t.distributionLocked()
	total := len(t.agents)

	m := Metrics{TotalAgents: total}
	if total > 0 {
		m.OverallDiversity = float64(len(dist)) / float64(total)
	}
	for _, p := range perspective.All {
		if dist[p] == 1 {
			m.MinorityPerspectivesPreserved = append(m.MinorityPerspectivesPreserved, p)
		}
	}

	if n := len(t.global); n > 0 {
		agreed, evidence, challenged := 0, 0, 0
		for _, rec := range t.global {
			if rec.AgreedWithMajority {
				agreed++
			}
			if rec.EvidenceProvided {
				evidence++
			}
			if rec.ChallengedAssumptions {
				challenged++
			}
		}
		m.AgreementRate = float64(agreed) / float64(n)
		m.EvidenceRate = float64(evidence) / float64(n)
		m.ChallengeRate = float64(challenged) / float64(n)
	}
	m.LastConsensusSpeed = t.consensusSpeedLocked()
	t.mu.Unlock()

	t.cache.Add("metrics", m)
	return m
}

// consensusSpeedLocked is the streak of agreed-with-majority records within
// the last five, counted from the newest backwards.
func (t *Tracker) consensusSpeedLocked() int {
	recent := t.global
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	streak := 0
	for i := len(recent) - 1; i >= 0; i-- {
		if !recent[i].AgreedWithMajority {
			break
		}
		streak++
	}
	return streak
}

func (t *Tracker) recentAgreementRateLocked() float64 {
	if len(t.global) == 0 {
		return 0
	}
	recent := t.global
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	agreed := 0
	for _, rec := range recent {
		if rec.AgreedWithMajority {
			agreed++
		}
	}
	return float64(agreed) / float64(len(recent))
}

// randFloat64 draws from the shared random stream under the tracker lock.
func (t *Tracker) randFloat64() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Float64()
}

// AgentHistory returns a copy of the bounded history for one agent.
func (t *Tracker) AgentHistory(agentID string) []DecisionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.agents[agentID]
	if !ok {
		return nil
	}
	return append([]DecisionRecord(nil), st.history...)
}
