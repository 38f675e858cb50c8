// Package merge combines candidate lists from the deterministic parser,
// component inference and LLM extraction into one value per field, and audits
// candidates against their cited evidence before they are committed.
package merge

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"specfactory/internal/rules"
	"specfactory/internal/types"
)

// Agreement outcomes.
const (
	AgreementUnanimous       = "unanimous"
	AgreementWithinTolerance = "within_tolerance"
	AgreementSourceDependent = "source_dependent"
	AgreementConflict        = "conflict"
	AgreementWinnerClear     = "winner_clear"
	AgreementUnknown         = "unknown"
)

var tierBonus = map[int]float64{1: 0.30, 2: 0.28, 3: 0.20, 4: 0.12, 5: 0.10}

var methodBonus = map[types.Method]float64{
	types.MethodSpecTableMatch:       0.30,
	types.MethodParseTemplate:        0.28,
	types.MethodJSONLD:               0.25,
	types.MethodLLMExtract:           0.20,
	types.MethodComponentDBInference: 0.15,
}

const numericTolerance = 0.05

// ScoredCandidate pairs a candidate with its merge score.
type ScoredCandidate struct {
	types.Candidate
	Score float64 `json:"score"`
}

// Result is the merged outcome for one field.
type Result struct {
	Field         string            `json:"field"`
	Value         string            `json:"value"`
	Confidence    float64           `json:"confidence"`
	Agreement     string            `json:"agreement"`
	NeedsReview   bool              `json:"needsReview,omitempty"`
	UnknownReason string            `json:"unknownReason,omitempty"`
	Candidates    []ScoredCandidate `json:"candidates,omitempty"`
	Evidence      []types.EvidenceRef `json:"evidence,omitempty"`
}

// Merger scores and resolves candidates per field.
type Merger struct {
	rules          *rules.Engine
	preferredHosts map[string]bool
}

// New creates a merger. preferredHosts come from the job's preferred-source
// hints and earn a score bonus.
func New(eng *rules.Engine, preferredHosts []string) *Merger {
	hosts := make(map[string]bool, len(preferredHosts))
	for _, h := range preferredHosts {
		hosts[strings.ToLower(h)] = true
	}
	return &Merger{rules: eng, preferredHosts: hosts}
}

// Score computes a candidate's merge score in [0,1]: tier bonus, method
// bonus, preferred-host bonus, evidence bonus and a slice of the candidate's
// own confidence.
func (m *Merger) Score(c types.Candidate) float64 {
	s := tierBonus[c.Source.Tier]
	s += methodBonus[c.Method]
	if m.preferredHosts[strings.ToLower(c.Source.Host)] {
		s += 0.15
	}
	if c.SnippetID != "" && c.Quote != "" {
		s += 0.15
	}
	s += 0.10 * c.Confidence
	if s > 1 {
		s = 1
	}
	return s
}

// Merge resolves one field. Zero candidates yield the "unk" sentinel with
// reason not_found_after_search. Merging is idempotent: the same input always
// produces the same result, and appending an empty candidate set changes
// nothing.
func (m *Merger) Merge(field string, candidates []types.Candidate) Result {
	if len(candidates) == 0 {
		return Result{
			Field:         field,
			Value:         types.UnknownValue,
			Agreement:     AgreementUnknown,
			UnknownReason: types.ReasonNotFoundAfterSearch,
		}
	}

	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, ScoredCandidate{Candidate: c, Score: m.Score(c)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Source.Tier != scored[j].Source.Tier {
			return scored[i].Source.Tier < scored[j].Source.Tier
		}
		return scored[i].Value < scored[j].Value
	})

	top := scored[0]
	result := Result{
		Field:      field,
		Value:      top.Value,
		Candidates: scored,
		Evidence:   evidenceOf(top.Candidate),
	}
	rule, _ := m.rules.Rule(field)

	if allSameValue(scored) {
		result.Agreement = AgreementUnanimous
		result.Confidence = math.Min(1.0, top.Score+0.1)
		return result
	}

	runner := firstDifferent(scored, top.Value)
	if rule != nil && rule.Type == "number" {
		if withinTolerance(top.Value, runner.Value) {
			// Prefer the higher-tier source between the two agreeing values.
			winner := top
			if runner.Source.Tier < top.Source.Tier {
				winner = runner
			}
			result.Value = winner.Value
			result.Evidence = evidenceOf(winner.Candidate)
			result.Agreement = AgreementWithinTolerance
			result.Confidence = 0.85
			return result
		}
	}

	if rule != nil && rule.SourceDependent {
		result.Agreement = AgreementSourceDependent
		result.Confidence = 0.70
		result.NeedsReview = true
		return result
	}

	if top.Score-runner.Score < 0.1 {
		result.Agreement = AgreementConflict
		result.Confidence = 0.50
		result.NeedsReview = true
		return result
	}

	result.Agreement = AgreementWinnerClear
	result.Confidence = top.Score
	return result
}

func evidenceOf(c types.Candidate) []types.EvidenceRef {
	if c.SnippetID == "" {
		return nil
	}
	return []types.EvidenceRef{{SnippetID: c.SnippetID, Quote: c.Quote}}
}

func allSameValue(scored []ScoredCandidate) bool {
	for _, c := range scored[1:] {
		if c.Value != scored[0].Value {
			return false
		}
	}
	return true
}

// firstDifferent returns the best-scored candidate carrying a different value
// than the top, falling back to the second entry.
func firstDifferent(scored []ScoredCandidate, topValue string) ScoredCandidate {
	for _, c := range scored[1:] {
		if c.Value != topValue {
			return c
		}
	}
	return scored[1]
}

func withinTolerance(a, b string) bool {
	av, errA := strconv.ParseFloat(a, 64)
	bv, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil || av == 0 {
		return false
	}
	return math.Abs(av-bv) <= numericTolerance*math.Abs(av)
}
