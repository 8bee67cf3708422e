package perspective

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPerspectiveRuleTable(t *testing.T) {
	tests := []struct {
		name       string
		statement  string
		want       Perspective
		confidence float64
	}{
		{
			name:       "optimist wins on positive innovative statement",
			statement:  "This is a great, brilliant idea - a novel, innovative, creative prototype we should love",
			want:       Optimist,
			confidence: 0.8,
		},
		{
			name:       "skeptic wins on uncertain evidence-heavy statement",
			statement:  "Maybe, perhaps - the data, benchmark and statistics might suggest otherwise, but I doubt it",
			want:       Skeptic,
			confidence: 0.8,
		},
		{
			name:       "conservative wins on risk-aware low-innovation statement",
			statement:  "We should be careful and stick to the proven, tested, stable and safe approach to avoid risk",
			want:       Conservative,
			confidence: 0.8,
		},
		{
			name:       "pragmatist wins on neutral evidence-backed statement",
			statement:  "The metrics and data cover both options; research suggests either works",
			want:       Pragmatist,
			confidence: 0.7,
		},
		{
			name:       "default pragmatist at half confidence",
			statement:  "hello there",
			want:       Pragmatist,
			confidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ExtractFeatures(tt.statement)
			got, conf := DetectPerspective(f)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, tt.confidence, conf, 0.001)
		})
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	statement := "I think the data shows a 40% improvement, but I disagree with the rollout plan"
	ctx := []string{"I agree with the plan", "sounds good to me"}

	a1 := NewAnalyzer()
	a2 := NewAnalyzer()
	r1 := a1.Analyze(statement, "agent-1", ctx)
	r2 := a2.Analyze(statement, "agent-1", ctx)

	assert.Equal(t, r1.Perspective, r2.Perspective)
	assert.Equal(t, r1.Features, r2.Features)
	assert.Equal(t, r1.EchoPatterns, r2.EchoPatterns)
	assert.Equal(t, r1.EvidenceQuality, r2.EvidenceQuality)
	assert.Equal(t, r1.DiversityContribution, r2.DiversityContribution)
}

func TestAgreementCascadeDetected(t *testing.T) {
	a := NewAnalyzer()
	ctx := []string{
		"I agree, we should ship it",
		"sounds good, agreed",
		"exactly my thought, +1",
	}
	r := a.Analyze("I agree with everything said", "agent-4", ctx)

	require.NotEmpty(t, r.EchoPatterns)
	kinds := map[string]string{}
	for _, p := range r.EchoPatterns {
		kinds[p.Kind] = p.Severity
	}
	assert.Equal(t, SeverityHigh, kinds[AgreementCascade])
}

func TestGroupthinkAndBandwagon(t *testing.T) {
	a := NewAnalyzer()

	r := a.Analyze("We all agree the consensus is clear", "x", nil)
	require.NotEmpty(t, r.EchoPatterns)
	assert.Equal(t, Groupthink, r.EchoPatterns[0].Kind)
	assert.Equal(t, SeverityHigh, r.EchoPatterns[0].Severity)

	r = a.Analyze("Since everyone wants this, like others said, let's do it", "x", nil)
	found := false
	for _, p := range r.EchoPatterns {
		if p.Kind == Bandwagon {
			found = true
			assert.Equal(t, SeverityMedium, p.Severity)
		}
	}
	assert.True(t, found)
}

func TestPhraseRepetitionNeedsThreeSightings(t *testing.T) {
	a := NewAnalyzer()

	r := a.Analyze("ship the release today", "x", nil)
	assert.Empty(t, filterKind(r.EchoPatterns, PhraseRepetition))

	r = a.Analyze("ship the release tomorrow", "y", nil)
	assert.Empty(t, filterKind(r.EchoPatterns, PhraseRepetition))

	r = a.Analyze("ship the release next week", "z", nil)
	assert.NotEmpty(t, filterKind(r.EchoPatterns, PhraseRepetition), "third sighting of the 2-gram crosses the >2 threshold")

	a.Reset()
	r = a.Analyze("ship the release again", "x", nil)
	assert.Empty(t, filterKind(r.EchoPatterns, PhraseRepetition))
}

// The phrase accumulator restarts its window at the cap instead of growing
// with every distinct n-gram ever seen.
func TestPhraseAccumulatorBounded(t *testing.T) {
	a := NewAnalyzer()
	for i := 0; i < 3000; i++ {
		a.Analyze(fmt.Sprintf("token%d alpha beta", i), "x", nil)
	}

	a.mu.Lock()
	size := len(a.ngrams)
	a.mu.Unlock()
	assert.Less(t, size, ngramLimit+10)
}

func filterKind(patterns []EchoPattern, kind string) []EchoPattern {
	var out []EchoPattern
	for _, p := range patterns {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func TestEvidenceQuality(t *testing.T) {
	assert.Greater(t, EvidenceQuality("Studies show a 40% gain, source: internal benchmark"), 0.7)
	assert.Equal(t, 0.0, EvidenceQuality("Obviously everyone knows this is right"))
	assert.Equal(t, 0.0, EvidenceQuality("no evidence markers here at all"))
}

func TestDiversityContributionRewardsDisagreement(t *testing.T) {
	a := NewAnalyzer()

	dissent := a.Analyze("I disagree: the data indicate a 30% regression, source: perf suite", "x", nil)
	echo := a.Analyze("I agree, we all agree, consensus is clear", "y", nil)

	assert.Greater(t, dissent.DiversityContribution, echo.DiversityContribution)
	assert.GreaterOrEqual(t, dissent.DiversityContribution, 0.8)
}

func TestProfilesCoverEnum(t *testing.T) {
	require.Len(t, All, Count)
	for _, p := range All {
		prof, ok := Profiles[p]
		require.True(t, ok, "missing profile for %s", p)
		for _, v := range []float64{prof.RiskTolerance, prof.InnovationBias, prof.EvidencePreference, prof.DecisionSpeed, prof.ConflictTolerance} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}
