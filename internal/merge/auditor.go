package merge

import (
	"strings"

	"specfactory/internal/types"
)

// Rejection records why a candidate failed the evidence audit.
type Rejection struct {
	Candidate types.Candidate
	Reason    string
}

// Audit rejection reasons.
const (
	RejectNoSnippet       = "snippet_not_found"
	RejectQuoteMismatch   = "quote_not_in_snippet"
	RejectValueNotInQuote = "value_not_in_quote"
)

// Auditor gates candidates on quote and provenance verifiability. Every
// committed candidate must cite a snippet that exists in the current evidence
// pack and a quote that is really part of that snippet's text.
type Auditor struct {
	// ValueCheck additionally requires the extracted value to appear inside
	// the quote for LLM candidates on numeric and enum fields.
	ValueCheck bool
}

// Verify checks one candidate against the pack. Returns ok and, when not ok,
// the rejection reason.
func (a *Auditor) Verify(c types.Candidate, pack *types.EvidencePack, fieldType string) (bool, string) {
	snippet, ok := pack.FindSnippet(c.SnippetID)
	if !ok {
		return false, RejectNoSnippet
	}
	if !containsNormalized(snippet.Text, c.Quote) {
		return false, RejectQuoteMismatch
	}
	if a.ValueCheck && c.Method == types.MethodLLMExtract && (fieldType == "number" || fieldType == "enum") {
		if !valueInQuote(c.Quote, c.Value) {
			return false, RejectValueNotInQuote
		}
	}
	return true, ""
}

// Filter splits candidates into verified and rejected sets.
func (a *Auditor) Filter(candidates []types.Candidate, pack *types.EvidencePack, fieldTypes map[string]string) ([]types.Candidate, []Rejection) {
	var passed []types.Candidate
	var rejected []Rejection
	for _, c := range candidates {
		ok, reason := a.Verify(c, pack, fieldTypes[c.Field])
		if ok {
			passed = append(passed, c)
		} else {
			rejected = append(rejected, Rejection{Candidate: c, Reason: reason})
		}
	}
	return passed, rejected
}

// containsNormalized reports whether needle is a substring of haystack after
// lowercasing and whitespace collapsing.
func containsNormalized(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(normalizeWS(haystack), normalizeWS(needle))
}

func valueInQuote(quote, value string) bool {
	return strings.Contains(stripSeparators(quote), stripSeparators(value))
}

func normalizeWS(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// stripSeparators drops commas and spaces so "30,000 DPI" matches "30000".
func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", " ", "").Replace(strings.ToLower(s))
}
