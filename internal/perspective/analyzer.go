package perspective

import (
	"regexp"
	"strings"
	"sync"
)

// Echo pattern kinds.
const (
	PhraseRepetition = "PHRASE_REPETITION"
	AgreementCascade = "AGREEMENT_CASCADE"
	Groupthink       = "GROUPTHINK"
	Bandwagon        = "BANDWAGON"
)

// Echo pattern severities.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// Keyword lexicons used by feature extraction. Matching is lowercase
// whole-word (tokenized), phrases are substring matches.
var (
	positiveWords = []string{
		"great", "excellent", "perfect", "love", "brilliant", "amazing",
		"good", "fantastic", "wonderful", "promising", "yes",
	}
	negativeWords = []string{
		"bad", "wrong", "terrible", "broken", "problem", "fail",
		"failure", "worse", "poor", "flawed",
	}
	certaintyWords = []string{
		"definitely", "certainly", "absolutely", "clearly", "obviously",
		"undoubtedly", "always", "never",
	}
	uncertaintyWords = []string{
		"maybe", "perhaps", "might", "possibly", "unsure", "unclear",
		"doubt", "wonder", "uncertain",
	}
	innovationWords = []string{
		"new", "novel", "innovative", "creative", "disrupt", "experiment",
		"prototype", "alternative", "reimagine", "radical",
	}
	riskWords = []string{
		"risk", "danger", "careful", "caution", "safe", "stable",
		"proven", "tested", "security", "fallback", "rollback",
	}
	evidenceWords = []string{
		"data", "study", "studies", "research", "benchmark", "metric",
		"metrics", "measured", "evidence", "source", "statistics",
	}

	agreementPhrases = []string{
		"i agree", "agreed", "+1", "sounds good", "exactly", "me too",
		"same here", "good point", "makes sense", "you're right",
	}
	disagreementPhrases = []string{
		"i disagree", "however", "on the other hand", "actually",
		"challenge", "what if", "concern", "not sure", "pushback",
		"counterpoint", "but i",
	}
	groupthinkPhrases = []string{
		"we all agree", "consensus is clear", "everyone thinks",
		"no one disagrees", "unanimous",
	}
	bandwagonPhrases = []string{
		"since everyone", "like others said", "as everyone says",
		"going with the majority", "following the group",
	}
)

// Regex sets used by evidence scoring.
var (
	evidenceRegexes = []struct {
		re     *regexp.Regexp
		weight float64
	}{
		{regexp.MustCompile(`(?i)studies show`), 0.3},
		{regexp.MustCompile(`(?i)data indicate`), 0.3},
		{regexp.MustCompile(`\d+(\.\d+)?%`), 0.25},
		{regexp.MustCompile(`(?i)benchmark`), 0.2},
		{regexp.MustCompile(`(?i)source:`), 0.3},
		{regexp.MustCompile(`(?i)according to`), 0.2},
	}
	vagueRegexes = []struct {
		re      *regexp.Regexp
		penalty float64
	}{
		{regexp.MustCompile(`(?i)obviously`), 0.2},
		{regexp.MustCompile(`(?i)everyone knows`), 0.3},
		{regexp.MustCompile(`(?i)it just works`), 0.2},
	}

	wordSplit = regexp.MustCompile(`[a-z0-9']+`)
)

// Features is the extracted feature vector of a statement.
type Features struct {
	Sentiment           float64  `json:"sentiment"`      // [-1,1]
	Certainty           float64  `json:"certainty"`      // [0,1]
	Innovation          float64  `json:"innovation"`     // [0,1]
	RiskAwareness       float64  `json:"risk_awareness"` // [0,1]
	EvidenceBased       float64  `json:"evidence_based"` // [0,1]
	AgreementSignals    []string `json:"agreement_signals"`
	DisagreementSignals []string `json:"disagreement_signals"`
	Keywords            []string `json:"keywords"`
}

// EchoPattern is one detected symptom of reduced diversity.
type EchoPattern struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Result is the full analyzer output for one statement.
type Result struct {
	Features              Features      `json:"features"`
	Perspective           Perspective   `json:"perspective"`
	Confidence            float64       `json:"confidence"`
	EchoPatterns          []EchoPattern `json:"echo_patterns"`
	EvidenceQuality       float64       `json:"evidence_quality"`
	DiversityContribution float64       `json:"diversity_contribution"`
}

// Analyzer analyzes statements. Feature extraction and detection are pure;
// the only state is the global n-gram accumulator behind phrase-repetition
// detection, which tests can Reset. The accumulator is bounded: once it
// reaches ngramLimit entries the window starts over.
type Analyzer struct {
	mu     sync.Mutex
	ngrams map[string]int
}

// ngramLimit caps the phrase-repetition accumulator. Long-running servers
// would otherwise grow it with every distinct 2- and 3-gram ever seen.
const ngramLimit = 4096

// NewAnalyzer returns an analyzer with an empty n-gram accumulator.
func NewAnalyzer() *Analyzer {
	return &Analyzer{ngrams: make(map[string]int)}
}

// Reset clears the n-gram accumulator.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ngrams = make(map[string]int)
}

// Analyze produces the feature vector, detected perspective, echo patterns,
// and derived scores for a statement. recentContext carries the last few
// statements in the conversation, newest last.
func (a *Analyzer) Analyze(statement, agentID string, recentContext []string) Result {
	feats := ExtractFeatures(statement)
	persp, conf := DetectPerspective(feats)
	quality := EvidenceQuality(statement)
	patterns := a.detectEchoPatterns(statement, feats, recentContext)

	return Result{
		Features:              feats,
		Perspective:           persp,
		Confidence:            conf,
		EchoPatterns:          patterns,
		EvidenceQuality:       quality,
		DiversityContribution: diversityContribution(feats, quality, patterns),
	}
}

// ExtractFeatures computes the feature vector from the fixed lexicons.
func ExtractFeatures(statement string) Features {
	lower := strings.ToLower(statement)
	words := wordSplit.FindAllString(lower, -1)
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
	}

	count := func(lexicon []string) int {
		n := 0
		for _, w := range lexicon {
			if wordSet[w] {
				n++
			}
		}
		return n
	}
	phrases := func(lexicon []string) []string {
		var hits []string
		for _, p := range lexicon {
			if strings.Contains(lower, p) {
				hits = append(hits, p)
			}
		}
		return hits
	}

	pos := count(positiveWords)
	neg := count(negativeWords)
	cert := count(certaintyWords)
	uncert := count(uncertaintyWords)

	f := Features{
		Innovation:          clamp01(float64(count(innovationWords)) * 0.25),
		RiskAwareness:       clamp01(float64(count(riskWords)) * 0.25),
		EvidenceBased:       clamp01(float64(count(evidenceWords)) * 0.25),
		AgreementSignals:    phrases(agreementPhrases),
		DisagreementSignals: phrases(disagreementPhrases),
		Keywords:            keywords(words),
	}
	if pos+neg > 0 {
		f.Sentiment = float64(pos-neg) / float64(pos+neg)
	}
	if cert+uncert > 0 {
		f.Certainty = float64(cert) / float64(cert+uncert)
	} else {
		f.Certainty = 0.5
	}
	return f
}

// DetectPerspective applies the fixed rule table and returns the
// highest-scoring perspective; the default is PRAGMATIST at 0.5.
func DetectPerspective(f Features) (Perspective, float64) {
	scores := map[Perspective]float64{}
	add := func(p Perspective, s float64) {
		if s > scores[p] {
			scores[p] = s
		}
	}

	if f.Sentiment > 0.5 && f.Innovation > 0.5 {
		add(Optimist, 0.8)
		add(Innovator, 0.7)
	}
	if f.Certainty < 0.3 && f.EvidenceBased > 0.5 {
		add(Skeptic, 0.8)
		add(Analytical, 0.7)
	}
	if f.Innovation < 0.3 && f.RiskAwareness > 0.5 {
		add(Conservative, 0.8)
	}
	if abs(f.Sentiment) < 0.3 && f.EvidenceBased > 0.3 {
		add(Pragmatist, 0.7)
	}
	if f.Innovation > 0.7 {
		add(Creative, 0.6)
	}

	best, bestScore := Pragmatist, 0.5
	// Deterministic tie-break: iterate the fixed enumeration order.
	for _, p := range All {
		if s, ok := scores[p]; ok && s > bestScore {
			best, bestScore = p, s
		}
	}
	return best, bestScore
}

// EvidenceQuality scores how evidence-backed a statement is: a weighted sum
// of evidence regex hits minus penalties for vague markers, clamped to [0,1].
func EvidenceQuality(statement string) float64 {
	score := 0.0
	for _, e := range evidenceRegexes {
		if e.re.MatchString(statement) {
			score += e.weight
		}
	}
	for _, v := range vagueRegexes {
		if v.re.MatchString(statement) {
			score -= v.penalty
		}
	}
	return clamp01(score)
}

func (a *Analyzer) detectEchoPatterns(statement string, f Features, recentContext []string) []EchoPattern {
	var patterns []EchoPattern
	lower := strings.ToLower(statement)

	// GROUPTHINK: fixed phrase list.
	for _, p := range groupthinkPhrases {
		if strings.Contains(lower, p) {
			patterns = append(patterns, EchoPattern{Kind: Groupthink, Severity: SeverityHigh, Detail: p})
			break
		}
	}

	// BANDWAGON: deference-to-majority phrases.
	for _, p := range bandwagonPhrases {
		if strings.Contains(lower, p) {
			patterns = append(patterns, EchoPattern{Kind: Bandwagon, Severity: SeverityMedium, Detail: p})
			break
		}
	}

	// AGREEMENT_CASCADE: this statement agrees and at least two of the last
	// three context statements also agreed.
	if len(f.AgreementSignals) > 0 {
		recent := recentContext
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		agreeing := 0
		for _, prev := range recent {
			if len(ExtractFeatures(prev).AgreementSignals) > 0 {
				agreeing++
			}
		}
		if agreeing >= 2 {
			patterns = append(patterns, EchoPattern{Kind: AgreementCascade, Severity: SeverityHigh, Detail: "recent statements converge"})
		}
	}

	// PHRASE_REPETITION: any 2- or 3-gram seen more than twice globally.
	if gram := a.recordAndFindRepeat(lower); gram != "" {
		patterns = append(patterns, EchoPattern{Kind: PhraseRepetition, Severity: SeverityMedium, Detail: gram})
	}

	return patterns
}

func (a *Analyzer) recordAndFindRepeat(lower string) string {
	words := wordSplit.FindAllString(lower, -1)
	seenInStatement := make(map[string]bool)
	var grams []string
	for n := 2; n <= 3; n++ {
		for i := 0; i+n <= len(words); i++ {
			g := strings.Join(words[i:i+n], " ")
			if !seenInStatement[g] {
				seenInStatement[g] = true
				grams = append(grams, g)
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ngrams) >= ngramLimit {
		a.ngrams = make(map[string]int)
	}
	repeated := ""
	for _, g := range grams {
		a.ngrams[g]++
		if a.ngrams[g] > 2 && repeated == "" {
			repeated = g
		}
	}
	return repeated
}

// diversityContribution scores how much a statement adds to the diversity
// of the conversation: baseline 0.5, boosted by disagreement and evidence,
// penalized per echo pattern, plus up to 0.2 for unique keywords.
func diversityContribution(f Features, quality float64, patterns []EchoPattern) float64 {
	score := 0.5
	if len(f.DisagreementSignals) > 0 {
		score += 0.3
	}
	score += 0.2 * quality
	for _, p := range patterns {
		switch p.Severity {
		case SeverityHigh:
			score -= 0.3
		case SeverityMedium:
			score -= 0.2
		case SeverityLow:
			score -= 0.1
		}
	}
	if n := len(f.Keywords); n > 0 {
		score += minFloat(0.2, float64(n)*0.04)
	}
	return clamp01(score)
}

// keywords returns the distinct non-stopword tokens of the statement, in
// first-appearance order, capped at 10.
func keywords(words []string) []string {
	stop := map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true,
		"is": true, "are": true, "to": true, "of": true, "in": true,
		"it": true, "this": true, "that": true, "we": true, "i": true,
		"for": true, "on": true, "with": true, "be": true, "as": true,
	}
	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		if len(w) < 3 || stop[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == 10 {
			break
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
