// Package perspective defines the closed nine-label perspective enumeration
// and the statement analyzer behind the diversity middleware.
package perspective

// Perspective is one of the nine fixed diversity roles an agent can hold.
type Perspective string

const (
	Optimist       Perspective = "OPTIMIST"
	Skeptic        Perspective = "SKEPTIC"
	Pragmatist     Perspective = "PRAGMATIST"
	Innovator      Perspective = "INNOVATOR"
	Conservative   Perspective = "CONSERVATIVE"
	Analytical     Perspective = "ANALYTICAL"
	Creative       Perspective = "CREATIVE"
	DetailOriented Perspective = "DETAIL_ORIENTED"
	BigPicture     Perspective = "BIG_PICTURE"
)

// All lists every perspective in a fixed order.
var All = []Perspective{
	Optimist, Skeptic, Pragmatist, Innovator, Conservative,
	Analytical, Creative, DetailOriented, BigPicture,
}

// Count is the size of the closed enumeration.
const Count = 9

// Profile is the fixed score vector of a perspective, each dimension in [0,1].
type Profile struct {
	RiskTolerance      float64 `json:"risk_tolerance"`
	InnovationBias     float64 `json:"innovation_bias"`
	EvidencePreference float64 `json:"evidence_preference"`
	DecisionSpeed      float64 `json:"decision_speed"`
	ConflictTolerance  float64 `json:"conflict_tolerance"`
}

// Profiles holds the fixed score vector per perspective.
var Profiles = map[Perspective]Profile{
	Optimist:       {RiskTolerance: 0.8, InnovationBias: 0.7, EvidencePreference: 0.3, DecisionSpeed: 0.8, ConflictTolerance: 0.4},
	Skeptic:        {RiskTolerance: 0.2, InnovationBias: 0.3, EvidencePreference: 0.9, DecisionSpeed: 0.3, ConflictTolerance: 0.8},
	Pragmatist:     {RiskTolerance: 0.5, InnovationBias: 0.4, EvidencePreference: 0.6, DecisionSpeed: 0.7, ConflictTolerance: 0.5},
	Innovator:      {RiskTolerance: 0.9, InnovationBias: 0.9, EvidencePreference: 0.4, DecisionSpeed: 0.7, ConflictTolerance: 0.6},
	Conservative:   {RiskTolerance: 0.1, InnovationBias: 0.2, EvidencePreference: 0.7, DecisionSpeed: 0.4, ConflictTolerance: 0.3},
	Analytical:     {RiskTolerance: 0.4, InnovationBias: 0.4, EvidencePreference: 1.0, DecisionSpeed: 0.2, ConflictTolerance: 0.6},
	Creative:       {RiskTolerance: 0.7, InnovationBias: 1.0, EvidencePreference: 0.2, DecisionSpeed: 0.6, ConflictTolerance: 0.5},
	DetailOriented: {RiskTolerance: 0.3, InnovationBias: 0.3, EvidencePreference: 0.8, DecisionSpeed: 0.3, ConflictTolerance: 0.4},
	BigPicture:     {RiskTolerance: 0.6, InnovationBias: 0.6, EvidencePreference: 0.5, DecisionSpeed: 0.6, ConflictTolerance: 0.5},
}

// Valid reports whether p belongs to the closed enumeration.
func Valid(p Perspective) bool {
	_, ok := Profiles[p]
	return ok
}

// Parse returns the perspective for a label, or ok=false.
func Parse(s string) (Perspective, bool) {
	p := Perspective(s)
	return p, Valid(p)
}
