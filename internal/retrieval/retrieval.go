// Package retrieval ranks evidence for a field across mixed sources. The
// retriever scores every evidence row with a deterministic weighted sum of
// tier, document kind, extraction method, anchor terms, identity tokens, unit
// presence and direct-field matches, then returns the top-N.
package retrieval

import (
	"sort"
	"strings"

	"specfactory/internal/rules"
)

// Evidence score weights.
const (
	tierFactor     = 2.6
	docKindFactor  = 1.5
	methodFactor   = 0.85
	anchorPerTerm  = 0.42
	anchorCap      = 1.8
	identityPerTok = 0.28
	identityCap    = 1.4
	unitBonus      = 0.35
	directBonus    = 0.65
)

// Miss diagnostic reasons.
const (
	MissPoolEmpty        = "pool_empty"
	MissNoAnchor         = "no_anchor"
	MissTierDeficit      = "tier_deficit"
	MissIdentityMismatch = "identity_mismatch"
)

var tierDefaults = map[int]float64{1: 3, 2: 2, 3: 1, 4: 0.65, 5: 0.4}

var docKindWeights = map[string]float64{
	"manual_pdf":   1.5,
	"spec_pdf":     1.4,
	"spec":         1.35,
	"support":      1.1,
	"lab_review":   0.95,
	"teardown":     0.9,
	"product_page": 0.75,
	"other":        0.55,
}

var methodWeights = map[string]float64{
	"table":             1.25,
	"kv":                1.15,
	"json_ld":           1.1,
	"window":            0.95,
	"text":              0.9,
	"llm_extract":       0.85,
	"helper_supportive": 0.65,
}

// EvidenceRow is one scoreable unit of the evidence pool, merged from prior
// provenance and raw source results.
type EvidenceRow struct {
	SnippetID           string
	Text                string
	URL                 string
	Host                string
	Tier                int
	Method              string // table | kv | json_ld | window | text | llm_extract | helper_supportive
	DocKind             string // inferred from the URL when empty
	OriginField         string
	SourceIdentityMatch *bool
}

// Hit is one ranked evidence row.
type Hit struct {
	Row   EvidenceRow
	Score float64
}

// MissDiagnostics explains a thin or empty retrieval.
type MissDiagnostics struct {
	Reasons    []string
	MinRefsGap int
}

// Options configures the retriever.
type Options struct {
	TopN                  int // default 24
	MinRefs               int // default 2, drives MinRefsGap
	IdentityFilterEnabled bool
	IdentityTokens        []string // brand + model tokens
}

// Retriever ranks evidence per field.
type Retriever struct {
	rules *rules.Engine
	opts  Options
}

// New creates a retriever bound to a rules engine.
func New(eng *rules.Engine, opts Options) *Retriever {
	if opts.TopN <= 0 {
		opts.TopN = 24
	}
	if opts.MinRefs <= 0 {
		opts.MinRefs = 2
	}
	return &Retriever{rules: eng, opts: opts}
}

// Retrieve scores the pool for one field and returns the top hits plus miss
// diagnostics. Rows with no anchor match, no unit match and no direct field
// match are skipped; for identity and critical fields the identity filter
// drops rows whose source failed identity verification.
func (r *Retriever) Retrieve(field string, pool []EvidenceRow) ([]Hit, MissDiagnostics) {
	rule, _ := r.rules.Rule(field)
	anchors := anchorTerms(rule, field)

	var hits []Hit
	anchorMatched := false
	identityDropped := 0
	for _, row := range pool {
		if rule != nil && rule.IsIdentityOrCritical() && r.opts.IdentityFilterEnabled {
			if row.SourceIdentityMatch != nil && !*row.SourceIdentityMatch {
				identityDropped++
				continue
			}
		}
		lowered := strings.ToLower(row.Text)

		anchorCount := countTerms(lowered, anchors)
		if anchorCount > 0 {
			anchorMatched = true
		}
		direct := row.OriginField == field
		unitMatch := rule != nil && rule.Unit != "" && strings.Contains(lowered, strings.ToLower(rule.Unit))
		if anchorCount == 0 && !direct && !unitMatch {
			continue
		}

		score := tierFactor * r.tierWeight(rule, row.Tier)
		score += docKindFactor * docKindWeight(row)
		score += methodFactor * methodWeight(row.Method)
		score += capped(anchorPerTerm*float64(anchorCount), anchorCap)
		score += capped(identityPerTok*float64(countTerms(lowered, r.opts.IdentityTokens)), identityCap)
		if unitMatch {
			score += unitBonus
		}
		if direct {
			score += directBonus
		}
		hits = append(hits, Hit{Row: row, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Row.Tier != hits[j].Row.Tier {
			return hits[i].Row.Tier < hits[j].Row.Tier
		}
		return hits[i].Row.URL < hits[j].Row.URL
	})
	if len(hits) > r.opts.TopN {
		hits = hits[:r.opts.TopN]
	}

	return hits, r.diagnose(pool, hits, anchorMatched, identityDropped)
}

func (r *Retriever) diagnose(pool []EvidenceRow, hits []Hit, anchorMatched bool, identityDropped int) MissDiagnostics {
	var diag MissDiagnostics
	if len(pool) == 0 {
		diag.Reasons = append(diag.Reasons, MissPoolEmpty)
	} else if !anchorMatched && len(hits) == 0 {
		diag.Reasons = append(diag.Reasons, MissNoAnchor)
	}
	if identityDropped > 0 {
		diag.Reasons = append(diag.Reasons, MissIdentityMismatch)
	}
	if len(hits) > 0 {
		bestTier := hits[0].Row.Tier
		for _, h := range hits {
			if h.Row.Tier < bestTier {
				bestTier = h.Row.Tier
			}
		}
		if bestTier > 2 {
			diag.Reasons = append(diag.Reasons, MissTierDeficit)
		}
	}
	if gap := r.opts.MinRefs - len(hits); gap > 0 {
		diag.MinRefsGap = gap
	}
	return diag
}

// tierWeight starts from the tier defaults and re-weights by the field's tier
// preference: the first preferred tier is boosted by x1.25, decreasing by
// 0.12 per rank.
func (r *Retriever) tierWeight(rule *rules.FieldRule, tier int) float64 {
	w := tierDefaults[tier]
	if rule == nil {
		return w
	}
	for rank, preferred := range rule.TierPreference {
		if preferred == tier {
			mult := 1.25 - 0.12*float64(rank)
			if mult < 1 {
				mult = 1
			}
			return w * mult
		}
	}
	return w
}

func docKindWeight(row EvidenceRow) float64 {
	kind := row.DocKind
	if kind == "" {
		kind = InferDocKind(row.URL)
	}
	if w, ok := docKindWeights[kind]; ok {
		return w
	}
	return docKindWeights["other"]
}

func methodWeight(method string) float64 {
	if w, ok := methodWeights[method]; ok {
		return w
	}
	return methodWeights["text"]
}

// InferDocKind classifies a URL into a document kind.
func InferDocKind(url string) string {
	lowered := strings.ToLower(url)
	path := strings.SplitN(lowered, "?", 2)[0]
	switch {
	case strings.HasSuffix(path, ".pdf") && strings.Contains(path, "manual"):
		return "manual_pdf"
	case strings.HasSuffix(path, ".pdf"):
		return "spec_pdf"
	case strings.Contains(path, "spec"):
		return "spec"
	case strings.Contains(path, "/support"):
		return "support"
	case strings.Contains(path, "review"):
		return "lab_review"
	case strings.Contains(path, "teardown"):
		return "teardown"
	case strings.Contains(path, "/products/") || strings.Contains(path, "/product/"):
		return "product_page"
	default:
		return "other"
	}
}

func anchorTerms(rule *rules.FieldRule, field string) []string {
	terms := []string{strings.ReplaceAll(strings.ToLower(field), "_", " ")}
	if rule == nil {
		return terms
	}
	for _, group := range [][]string{rule.Synonyms, rule.SearchHints, rule.Labels} {
		for _, t := range group {
			terms = append(terms, strings.ToLower(t))
		}
	}
	return terms
}

func countTerms(lowered string, terms []string) int {
	count := 0
	for _, term := range terms {
		if term != "" && strings.Contains(lowered, term) {
			count++
		}
	}
	return count
}

func capped(v, cap float64) float64 {
	if v > cap {
		return cap
	}
	return v
}
