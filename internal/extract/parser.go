// Package extract implements the deterministic half of the extraction
// cascade: the rule-driven parser (regex templates, spec-row matching,
// structured metadata) and the component resolver that infers properties from
// the component database.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"specfactory/internal/rules"
	"specfactory/internal/types"
)

// Confidence levels per strategy.
const (
	regexConfidence      = 0.95
	structuredConfidence = 0.90
	specRowFloor         = 0.8
	specRowCeiling       = 0.98
)

// Parser runs the three deterministic strategies over an evidence pack.
type Parser struct {
	rules *rules.Engine
}

// NewParser creates a parser bound to a rules engine.
func NewParser(eng *rules.Engine) *Parser {
	return &Parser{rules: eng}
}

// Parse yields candidates for every field over every snippet. Candidates are
// deduped across strategies by (field, value, method, first evidence ref), so
// a value seen by both the regex and spec-row strategies surfaces twice with
// different methods but never twice with the same one.
func (p *Parser) Parse(pack *types.EvidencePack) []types.Candidate {
	var out []types.Candidate
	seen := make(map[string]bool)

	add := func(c types.Candidate) {
		ref := ""
		if len(c.EvidenceRefs) > 0 {
			ref = c.EvidenceRefs[0]
		}
		key := c.Field + "\x00" + c.Value + "\x00" + string(c.Method) + "\x00" + ref
		if seen[key] || c.Value == "" {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	for _, field := range p.rules.Fields() {
		rule, _ := p.rules.Rule(field)
		for _, snippet := range pack.Snippets {
			p.parseRegex(rule, snippet, pack, add)
			p.parseSpecRow(rule, snippet, pack, add)
			p.parseStructured(rule, snippet, pack, add)
		}
	}
	return out
}

// parseRegex applies the field's regex templates. A pattern only fires when
// the snippet carries at least one context keyword and no negative keyword.
func (p *Parser) parseRegex(rule *rules.FieldRule, snippet types.Snippet, pack *types.EvidencePack, add func(types.Candidate)) {
	if len(rule.Patterns) == 0 {
		return
	}
	if !hasContext(snippet.NormalizedText, rule.ContextKeywords) {
		return
	}
	if hasAny(snippet.NormalizedText, rule.NegativeKeywords) {
		return
	}
	for i := range rule.Patterns {
		re := rule.Patterns[i].Compiled()
		match := re.FindStringSubmatch(snippet.Text)
		if match == nil || len(match) <= rule.Patterns[i].Group {
			continue
		}
		raw := match[rule.Patterns[i].Group]
		add(types.Candidate{
			Field:        rule.Key,
			Value:        p.rules.Normalize(rule.Key, raw),
			Method:       types.MethodParseTemplate,
			EvidenceRefs: []string{snippet.ID},
			SnippetID:    snippet.ID,
			Quote:        match[0],
			Confidence:   regexConfidence,
			Source:       candidateSource(snippet, pack),
		})
	}
}

// parseSpecRow matches "key: value" pairs inside spec-table rows against the
// field's token variants.
func (p *Parser) parseSpecRow(rule *rules.FieldRule, snippet types.Snippet, pack *types.EvidencePack, add func(types.Candidate)) {
	if snippet.Type != types.SnippetSpecTableRow && !strings.Contains(snippet.Text, "|") {
		return
	}
	variants := keyVariants(rule)
	for _, segment := range strings.Split(snippet.Text, "|") {
		segment = strings.TrimSpace(segment)
		idx := strings.Index(segment, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(segment[:idx])
		value := strings.TrimSpace(segment[idx+1:])
		if key == "" || value == "" {
			continue
		}
		sim := keySimilarity(key, variants)
		if sim < specRowFloor {
			continue
		}
		conf := specRowFloor + (sim-specRowFloor)*0.9
		if conf > specRowCeiling {
			conf = specRowCeiling
		}
		add(types.Candidate{
			Field:        rule.Key,
			Value:        p.rules.Normalize(rule.Key, value),
			Method:       types.MethodSpecTableMatch,
			EvidenceRefs: []string{snippet.ID},
			SnippetID:    snippet.ID,
			Quote:        segment,
			Confidence:   conf,
			Source:       candidateSource(snippet, pack),
		})
	}
}

// parseStructured looks the field up inside structured product metadata
// (JSON-LD, microdata, OpenGraph and friends).
func (p *Parser) parseStructured(rule *rules.FieldRule, snippet types.Snippet, pack *types.EvidencePack, add func(types.Candidate)) {
	if !types.StructuredProductTypes[snippet.Type] {
		return
	}
	props := flattenStructured(snippet.Text)
	if len(props) == 0 {
		return
	}

	keys := []string{rule.Key, strings.ReplaceAll(rule.Key, "_", "")}
	if rule.JSONLDPath != "" {
		keys = append(keys, rule.JSONLDPath)
	}
	for _, key := range keys {
		raw, keyPath, ok := lookupProp(props, key)
		if !ok {
			continue
		}
		add(types.Candidate{
			Field:        rule.Key,
			Value:        p.rules.Normalize(rule.Key, raw),
			Method:       structuredMethod(snippet.Type),
			KeyPath:      keyPath,
			EvidenceRefs: []string{snippet.ID},
			SnippetID:    snippet.ID,
			Quote:        raw,
			Confidence:   structuredConfidence,
			Source:       candidateSource(snippet, pack),
		})
		return
	}
}

func structuredMethod(t types.SnippetType) types.Method {
	switch t {
	case types.SnippetJSONLDProduct:
		return types.MethodJSONLD
	case types.SnippetMicrodataProduct:
		return types.MethodMicrodata
	default:
		return types.MethodOpenGraph
	}
}

// flattenStructured parses a structured snippet body into a flat key->value
// map. additionalProperty entries ({name, value}) are folded in by name.
func flattenStructured(body string) map[string]string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil
	}
	props := make(map[string]string)
	for key, value := range doc {
		switch v := value.(type) {
		case string:
			props[strings.ToLower(key)] = v
		case float64:
			props[strings.ToLower(key)] = trimFloat(v)
		case bool:
			if v {
				props[strings.ToLower(key)] = "true"
			} else {
				props[strings.ToLower(key)] = "false"
			}
		case []any:
			if strings.EqualFold(key, "additionalProperty") {
				for _, item := range v {
					entry, ok := item.(map[string]any)
					if !ok {
						continue
					}
					name, _ := entry["name"].(string)
					if name == "" {
						continue
					}
					switch pv := entry["value"].(type) {
					case string:
						props["additionalproperty."+strings.ToLower(name)] = pv
					case float64:
						props["additionalproperty."+strings.ToLower(name)] = trimFloat(pv)
					}
				}
			}
		}
	}
	return props
}

func lookupProp(props map[string]string, key string) (value, keyPath string, ok bool) {
	lowered := strings.ToLower(key)
	if v, ok := props[lowered]; ok {
		return v, lowered, true
	}
	if v, ok := props["additionalproperty."+lowered]; ok {
		return v, "additionalProperty." + key, true
	}
	return "", "", false
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// keyVariants returns the lowercase token variants a spec-row key is matched
// against: the field key (underscores as spaces), synonyms, labels and
// context keywords.
func keyVariants(rule *rules.FieldRule) []string {
	variants := []string{
		strings.ToLower(rule.Key),
		strings.ReplaceAll(strings.ToLower(rule.Key), "_", " "),
	}
	for _, group := range [][]string{rule.Synonyms, rule.Labels, rule.ContextKeywords} {
		for _, v := range group {
			variants = append(variants, strings.ToLower(v))
		}
	}
	return variants
}

// keySimilarity scores a spec-row key against the variants: exact match after
// normalization is 1.0, keyword containment 0.9, character-bag Jaccard below
// that.
func keySimilarity(key string, variants []string) float64 {
	norm := normKey(key)
	best := 0.0
	for _, variant := range variants {
		vNorm := normKey(variant)
		if vNorm == "" {
			continue
		}
		var sim float64
		switch {
		case norm == vNorm:
			sim = 1.0
		case strings.Contains(norm, vNorm) || strings.Contains(vNorm, norm):
			sim = 0.9
		default:
			sim = charBagJaccard(norm, vNorm)
		}
		if sim > best {
			best = sim
		}
	}
	return best
}

func normKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func charBagJaccard(a, b string) float64 {
	setA := make(map[rune]bool)
	setB := make(map[rune]bool)
	for _, r := range a {
		if r != ' ' {
			setA[r] = true
		}
	}
	for _, r := range b {
		if r != ' ' {
			setB[r] = true
		}
	}
	inter := 0
	for r := range setA {
		if setB[r] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func candidateSource(snippet types.Snippet, pack *types.EvidencePack) types.CandidateSource {
	if meta, ok := pack.Sources[snippet.SourceID]; ok {
		return types.CandidateSource{Host: meta.Source.Host, Tier: meta.Source.Tier}
	}
	return types.CandidateSource{}
}

func hasContext(normalized string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	return hasAny(normalized, keywords)
}

func hasAny(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
