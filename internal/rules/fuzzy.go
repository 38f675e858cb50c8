package rules

import (
	"strings"
	"unicode"
)

// ComponentMatch is a fuzzy lookup hit against a component database.
type ComponentMatch struct {
	Entity ComponentEntity
	Score  float64 // [0,1], 1.0 is an exact name/alias match
}

// FuzzyMatchComponent finds the best entity in the named component database
// for a query value. Returns false when no entity scores at or above the
// threshold. A threshold of 0 falls back to 0.7.
func (e *Engine) FuzzyMatchComponent(dbType, query string, threshold float64) (ComponentMatch, bool) {
	if threshold <= 0 {
		threshold = 0.7
	}
	entities, ok := e.dbs[dbType]
	if !ok || query == "" {
		return ComponentMatch{}, false
	}

	queryNorm := foldKey(query)
	queryTokens := tokenSet(queryNorm)

	best := ComponentMatch{Score: -1}
	for _, entity := range entities {
		score := nameScore(queryNorm, queryTokens, entity.Name)
		for _, alias := range entity.Aliases {
			if s := nameScore(queryNorm, queryTokens, alias); s > score {
				score = s
			}
		}
		if score > best.Score {
			best = ComponentMatch{Entity: entity, Score: score}
		}
	}
	if best.Score < threshold {
		return ComponentMatch{}, false
	}
	return best, true
}

func nameScore(queryNorm string, queryTokens map[string]bool, name string) float64 {
	nameNorm := foldKey(name)
	if nameNorm == "" {
		return 0
	}
	if nameNorm == queryNorm {
		return 1.0
	}
	nameTokens := tokenSet(nameNorm)

	inter := 0
	for tok := range queryTokens {
		if nameTokens[tok] {
			inter++
		}
	}
	if inter == 0 {
		return 0
	}

	small, large := len(queryTokens), len(nameTokens)
	if small > large {
		small, large = large, small
	}
	// One side fully contained in the other scores above the default
	// threshold: "PixArt PAW3950" still resolves the "PAW3950" entity.
	if inter == small {
		s := 0.8 + 0.2*float64(small)/float64(large)
		if s > 0.95 {
			s = 0.95
		}
		return s
	}
	// Dice coefficient over token sets.
	return 2 * float64(inter) / float64(len(queryTokens)+len(nameTokens))
}

// foldKey lowercases and collapses non-alphanumerics to single spaces.
func foldKey(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		} else {
			space = true
		}
	}
	return b.String()
}

func tokenSet(norm string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(norm) {
		set[tok] = true
	}
	return set
}
