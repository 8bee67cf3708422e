package diversity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/perspective"
)

// Intervention kinds.
const (
	ForceDisagreement = "FORCE_DISAGREEMENT"
	RequestEvidence   = "REQUEST_EVIDENCE"
	RotatePerspective = "ROTATE_PERSPECTIVE"
	AddPerspective    = "ADD_PERSPECTIVE"
)

// interventionGrace is how long the target has to satisfy the required
// action before the intervention's deadline passes.
const interventionGrace = 2 * time.Minute

// Required baseline perspectives: a group without these gets them first.
var requiredPerspectives = []perspective.Perspective{
	perspective.Skeptic, perspective.Analytical,
}

// Intervention is a corrective instruction emitted when diversity
// requirements are unmet.
type Intervention struct {
	Kind           string    `json:"kind"`
	Reason         string    `json:"reason"`
	Target         string    `json:"target"`
	RequiredAction string    `json:"required_action"`
	Deadline       time.Time `json:"deadline,omitempty"`
}

// EnforcerConfig mirrors the diversity section of the server config.
type EnforcerConfig struct {
	Enabled           bool
	StrictMode        bool
	MinimumAgents     int
	MinimumDiversity  float64
	DisagreementQuota float64
	EvidenceThreshold float64
}

// Contribution is one gated submission.
type Contribution struct {
	Agent       string
	Content     string
	MsgType     string // "message", "decision", "edit", ...
	Evidence    []string
	OtherAgents int // peers currently in the workspace
}

// Outcome is the gate verdict. When an intervention fires in non-strict
// mode the contribution is still allowed but carries the modifier prefix
// and the required action.
type Outcome struct {
	Allowed        bool
	Intervention   *Intervention
	ContentPrefix  string
	RequiredAction string
	Analysis       perspective.Result
}

// Enforcer is the diversity middleware: it gates contributions, assigns
// perspectives, and weighs votes and conflict resolutions.
type Enforcer struct {
	cfg      EnforcerConfig
	tracker  *Tracker
	analyzer *perspective.Analyzer
	now      func() time.Time
}

// NewEnforcer wires the middleware over a tracker and analyzer.
func NewEnforcer(cfg EnforcerConfig, tracker *Tracker, analyzer *perspective.Analyzer) *Enforcer {
	if cfg.MinimumAgents <= 0 {
		cfg.MinimumAgents = 2
	}
	return &Enforcer{cfg: cfg, tracker: tracker, analyzer: analyzer, now: time.Now}
}

// Tracker exposes the underlying tracker (the engine records outcomes and
// rotations through it).
func (e *Enforcer) Tracker() *Tracker { return e.tracker }

// CheckContribution runs the five diversity checks and picks the most
// severe intervention (lowest score). In strict mode an intervention
// rejects the contribution; otherwise it is allowed with a modifier.
func (e *Enforcer) CheckContribution(c Contribution, recentContext []string) Outcome {
	if !e.cfg.Enabled || c.OtherAgents < e.cfg.MinimumAgents {
		return Outcome{Allowed: true}
	}

	analysis := e.analyzer.Analyze(c.Content, c.Agent, recentContext)
	m := e.tracker.Metrics()

	var worst *Intervention
	worstScore := 1.0
	for _, check := range []func() (*Intervention, float64){
		func() (*Intervention, float64) { return e.checkEchoChamber(c, analysis) },
		func() (*Intervention, float64) { return e.checkDisagreementQuota(c, m) },
		func() (*Intervention, float64) { return e.checkEvidence(c, analysis) },
		func() (*Intervention, float64) { return e.checkPerspectiveDiversity(c, m) },
		func() (*Intervention, float64) { return e.checkConsensusSpeed(c, m) },
	} {
		iv, score := check()
		if iv != nil && (worst == nil || score < worstScore) {
			worst, worstScore = iv, score
		}
	}

	out := Outcome{Allowed: true, Analysis: analysis}
	if worst != nil {
		worst.Deadline = e.now().Add(interventionGrace)
		out.Intervention = worst
		out.RequiredAction = worst.RequiredAction
		metrics.Interventions.WithLabelValues(worst.Kind).Inc()
		if e.cfg.StrictMode {
			out.Allowed = false
		} else {
			out.ContentPrefix = fmt.Sprintf("[%s] ", worst.Kind)
		}
	}

	if out.Allowed {
		e.tracker.RecordDecision(DecisionRecord{
			Agent:                 c.Agent,
			Decision:              c.MsgType,
			AgreedWithMajority:    len(analysis.Features.AgreementSignals) > 0 && len(analysis.Features.DisagreementSignals) == 0,
			EvidenceProvided:      len(c.Evidence) > 0 || analysis.EvidenceQuality > 0,
			ChallengedAssumptions: len(analysis.Features.DisagreementSignals) > 0,
		})
	}
	return out
}

func (e *Enforcer) checkEchoChamber(c Contribution, analysis perspective.Result) (*Intervention, float64) {
	for _, p := range analysis.EchoPatterns {
		if p.Severity == perspective.SeverityHigh {
			return &Intervention{
				Kind:           ForceDisagreement,
				Reason:         fmt.Sprintf("echo pattern detected: %s (%s)", p.Kind, p.Detail),
				Target:         c.Agent,
				RequiredAction: "Present a substantive counter-argument or an alternative approach before this point is accepted.",
			}, 0.1
		}
	}
	return nil, 1
}

func (e *Enforcer) checkDisagreementQuota(c Contribution, m Metrics) (*Intervention, float64) {
	disagreementRate := 1 - m.AgreementRate
	deficit := (e.cfg.DisagreementQuota - 0.1) - disagreementRate
	if deficit <= 0 {
		return nil, 1
	}
	// Probabilistic: the further under quota, the more likely the nudge.
	if e.tracker.randFloat64() >= deficit {
		return nil, 1
	}
	return &Intervention{
		Kind:           ForceDisagreement,
		Reason:         fmt.Sprintf("disagreement rate %.2f below quota %.2f", disagreementRate, e.cfg.DisagreementQuota),
		Target:         c.Agent,
		RequiredAction: "Identify at least one weakness or open risk in the current direction.",
	}, 0.2
}

func (e *Enforcer) checkEvidence(c Contribution, analysis perspective.Result) (*Intervention, float64) {
	if c.MsgType != "decision" {
		return nil, 1
	}
	if analysis.EvidenceQuality >= e.cfg.EvidenceThreshold || len(c.Evidence) > 0 {
		return nil, 1
	}
	return &Intervention{
		Kind:           RequestEvidence,
		Reason:         fmt.Sprintf("decision lacks supporting evidence (quality %.2f)", analysis.EvidenceQuality),
		Target:         c.Agent,
		RequiredAction: "Attach data, measurements, or sources supporting this decision.",
	}, 0.25
}

func (e *Enforcer) checkPerspectiveDiversity(c Contribution, m Metrics) (*Intervention, float64) {
	if m.TotalAgents == 0 || m.OverallDiversity >= e.cfg.MinimumDiversity {
		return nil, 1
	}
	return &Intervention{
		Kind:           AddPerspective,
		Reason:         fmt.Sprintf("perspective diversity %.2f below minimum %.2f", m.OverallDiversity, e.cfg.MinimumDiversity),
		Target:         c.Agent,
		RequiredAction: "Argue this point from a perspective not yet represented in the discussion.",
	}, 0.3
}

func (e *Enforcer) checkConsensusSpeed(c Contribution, m Metrics) (*Intervention, float64) {
	if m.LastConsensusSpeed <= 4 {
		return nil, 1
	}
	return &Intervention{
		Kind:           ForceDisagreement,
		Reason:         fmt.Sprintf("group reached consensus %d times in a row", m.LastConsensusSpeed),
		Target:         c.Agent,
		RequiredAction: "Slow down: raise the strongest objection to the emerging consensus.",
	}, 0.15
}

// AssignPerspective picks the perspective for a newly joined agent: a
// missing required baseline perspective first, otherwise the rarest.
func (e *Enforcer) AssignPerspective(agentID string) perspective.Perspective {
	dist := e.tracker.Distribution()

	for _, p := range requiredPerspectives {
		if dist[p] == 0 {
			return e.tracker.RegisterAgent(agentID, p)
		}
	}

	rarest := perspective.All[0]
	for _, p := range perspective.All[1:] {
		if dist[p] < dist[rarest] {
			rarest = p
		}
	}
	return e.tracker.RegisterAgent(agentID, rarest)
}

// Vote is the weighted-voting input.
type Vote struct {
	ProposalID  string
	Session     string
	Agent       string
	Choice      string
	Evidence    []string
	Perspective perspective.Perspective
	Weight      float64
}

// WeighVote computes the diversity-adjusted weight of a vote.
func (e *Enforcer) WeighVote(v Vote) float64 {
	weight := 1.0
	dist := e.tracker.Distribution()

	if dist[v.Perspective] == 1 {
		weight *= 1.5 // sole bearer of a perspective
	}
	if len(v.Evidence) > 0 {
		weight *= 1.2
	}
	if v.Perspective == perspective.Analytical && len(v.Evidence) >= 3 {
		weight *= 1.1
	}
	if v.Perspective == perspective.Skeptic && mentionsRisk(v.Evidence) {
		weight *= 1.1
	}
	return weight
}

func mentionsRisk(evidence []string) bool {
	for _, ev := range evidence {
		lower := strings.ToLower(ev)
		if strings.Contains(lower, "risk") || strings.Contains(lower, "danger") ||
			strings.Contains(lower, "failure") || strings.Contains(lower, "vulnerab") {
			return true
		}
	}
	return false
}

// conflictWeights is the per-perspective weight table for edit conflicts.
var conflictWeights = map[perspective.Perspective]float64{
	perspective.Skeptic:        1.2,
	perspective.Analytical:     1.1,
	perspective.Conservative:   1.1,
	perspective.DetailOriented: 1.1,
	perspective.Pragmatist:     1.0,
	perspective.Innovator:      1.0,
	perspective.BigPicture:     1.0,
	perspective.Optimist:       0.9,
	perspective.Creative:       0.9,
}

// ConflictingEdit is one side of an edit conflict under resolution.
type ConflictingEdit struct {
	Session     string
	Agent       string
	Perspective perspective.Perspective
	Confidence  float64
}

// ResolveConflict picks the winning edit: per-perspective weight times a
// bonus for how many distinct perspectives are present in the conflict.
func (e *Enforcer) ResolveConflict(edits []ConflictingEdit) (ConflictingEdit, bool) {
	if len(edits) == 0 {
		return ConflictingEdit{}, false
	}

	distinct := make(map[perspective.Perspective]bool)
	for _, ed := range edits {
		distinct[ed.Perspective] = true
	}
	bonus := 1 + 0.2*float64(len(distinct))

	best := edits[0]
	bestScore := -1.0
	for _, ed := range edits {
		w, ok := conflictWeights[ed.Perspective]
		if !ok {
			w = 1.0
		}
		score := ed.Confidence * w * bonus
		if score > bestScore {
			best, bestScore = ed, score
		}
	}
	return best, true
}

// Decision is the output of weighted vote resolution.
type Decision struct {
	Choice         string  `json:"choice"`
	Score          float64 `json:"score"`
	Votes          int     `json:"votes"`
	DiversityScore float64 `json:"diversity_score"` // distinct perspectives / 9
}

// ResolveDecision groups votes by choice and returns the choice with the
// highest diversity-weighted score.
func (e *Enforcer) ResolveDecision(votes []Vote) (Decision, bool) {
	if len(votes) == 0 {
		return Decision{}, false
	}

	type group struct {
		weight       float64
		count        int
		evidence     int
		perspectives map[perspective.Perspective]bool
	}
	groups := make(map[string]*group)
	for _, v := range votes {
		g, ok := groups[v.Choice]
		if !ok {
			g = &group{perspectives: make(map[perspective.Perspective]bool)}
			groups[v.Choice] = g
		}
		w := v.Weight
		if w == 0 {
			w = e.WeighVote(v)
		}
		g.weight += w
		g.count++
		g.evidence += len(v.Evidence)
		if v.Perspective != "" {
			g.perspectives[v.Perspective] = true
		}
	}

	// Deterministic iteration for stable tie-breaks.
	choices := make([]string, 0, len(groups))
	for choice := range groups {
		choices = append(choices, choice)
	}
	sort.Strings(choices)

	var best Decision
	found := false
	for _, choice := range choices {
		g := groups[choice]
		diversity := float64(len(g.perspectives)) / float64(perspective.Count)
		evidenceRatio := float64(g.evidence) / float64(g.count)
		score := g.weight * (1 + 0.5*diversity + 0.3*evidenceRatio)
		if !found || score > best.Score {
			best = Decision{
				Choice:         choice,
				Score:          score,
				Votes:          g.count,
				DiversityScore: diversity,
			}
			found = true
		}
	}
	return best, true
}
