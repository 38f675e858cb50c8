package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"specfactory/internal/rules"
	"specfactory/internal/types"
)

// Stats counts extractor telemetry for the run record.
type Stats struct {
	Calls         int
	CacheHits     int
	ParseFailures int
	BudgetDenials int
}

// Extractor batches unfilled fields by evidence source role and extracts them
// through structured LLM calls, with a content-addressed cache in front and
// budget guards around every call.
type Extractor struct {
	rules     *rules.Engine
	fast      types.LLMClient
	reasoning types.LLMClient
	cache     *Cache
	guard     *BudgetGuard
	tracker   *UsageTracker
	log       *zap.Logger

	maxSnippetsPerBatch int
	maxCharsPerBatch    int
	stats               Stats
}

// ExtractorOptions bound batch sizes.
type ExtractorOptions struct {
	MaxSnippetsPerBatch int
	MaxCharsPerBatch    int
}

// NewExtractor wires the extraction stack. cache, guard and tracker may be
// nil (disabled); fast and reasoning may be the same client.
func NewExtractor(eng *rules.Engine, fast, reasoning types.LLMClient, cache *Cache, guard *BudgetGuard, tracker *UsageTracker, opts ExtractorOptions, log *zap.Logger) *Extractor {
	if opts.MaxSnippetsPerBatch <= 0 {
		opts.MaxSnippetsPerBatch = 12
	}
	if opts.MaxCharsPerBatch <= 0 {
		opts.MaxCharsPerBatch = 24000
	}
	if log == nil {
		log = zap.NewNop()
	}
	if reasoning == nil {
		reasoning = fast
	}
	return &Extractor{
		rules:               eng,
		fast:                fast,
		reasoning:           reasoning,
		cache:               cache,
		guard:               guard,
		tracker:             tracker,
		log:                 log,
		maxSnippetsPerBatch: opts.MaxSnippetsPerBatch,
		maxCharsPerBatch:    opts.MaxCharsPerBatch,
	}
}

// Stats returns the accumulated telemetry counters.
func (e *Extractor) Stats() Stats { return e.stats }

type batch struct {
	role     types.SourceRole
	fields   []string
	snippets []types.Snippet
}

// Extract runs one LLM round over the missing fields. Failed batches (parse
// errors, budget denials) are dropped, never fatal; the fields simply stay
// unfilled.
func (e *Extractor) Extract(ctx context.Context, job types.ProductJob, pack *types.EvidencePack, missing []string) []types.Candidate {
	if e.fast == nil || len(missing) == 0 {
		return nil
	}

	var out []types.Candidate
	for _, b := range e.buildBatches(pack, missing) {
		cands, stop := e.extractBatch(ctx, job, pack, b)
		out = append(out, cands...)
		if stop {
			break
		}
	}
	return out
}

func (e *Extractor) extractBatch(ctx context.Context, job types.ProductJob, pack *types.EvidencePack, b batch) ([]types.Candidate, bool) {
	schema := e.buildSchema(b.fields)
	prompt := e.buildPrompt(job.IdentityLock, schema, b.snippets)
	client := e.route(b.fields)
	key := CacheKey(prompt, evidenceDigest(b.snippets), client.Model())

	if e.cache != nil {
		if raw, ok := e.cache.Get(key); ok {
			result, err := ParseStructuredOutput(raw, schema)
			if err == nil {
				e.stats.CacheHits++
				e.log.Debug("llm cache hit", zap.String("role", string(b.role)), zap.Int("fields", len(b.fields)))
				return e.candidatesFrom(result, b, pack), false
			}
			// A poisoned cache entry falls through to a fresh call.
		}
	}

	if e.guard != nil {
		if ok, reason := e.guard.Allow(); !ok {
			e.stats.BudgetDenials++
			e.log.Warn("llm budget exceeded",
				zap.String("reason", reason),
				zap.String("productId", job.ProductID))
			return nil, true
		}
	}

	result, err := client.Chat(ctx, prompt, schema)
	if err != nil {
		if strings.Contains(err.Error(), "parse llm output") {
			e.stats.ParseFailures++
		}
		e.log.Warn("llm batch dropped",
			zap.String("role", string(b.role)),
			zap.Strings("fields", b.fields),
			zap.Error(err))
		return nil, false
	}
	e.stats.Calls++

	cost := EstimateCost(client.Model(), result.Usage)
	if e.tracker != nil {
		if recorded, err := e.tracker.Record(ctx, client.Model(), result.Usage); err == nil {
			cost = recorded
		}
	}
	if e.guard != nil {
		e.guard.RecordCall(cost)
	}
	if e.cache != nil && result.Raw != "" {
		if err := e.cache.Put(key, client.Model(), result.Raw); err != nil {
			e.log.Warn("llm cache write failed", zap.Error(err))
		}
	}
	return e.candidatesFrom(result, b, pack), false
}

// buildBatches groups missing fields by the source roles that actually carry
// relevant evidence for them.
func (e *Extractor) buildBatches(pack *types.EvidencePack, missing []string) []batch {
	roleOrder := []types.SourceRole{types.RoleManufacturer, types.RoleReview, types.RoleRetailer, types.RoleDatabase, types.RoleOther}

	snippetsByRole := make(map[types.SourceRole][]types.Snippet)
	for _, snippet := range pack.Snippets {
		role := types.RoleOther
		if meta, ok := pack.Sources[snippet.SourceID]; ok && meta.Source.Role != "" {
			role = meta.Source.Role
		}
		snippetsByRole[role] = append(snippetsByRole[role], snippet)
	}

	var batches []batch
	for _, role := range roleOrder {
		snippets := snippetsByRole[role]
		if len(snippets) == 0 {
			continue
		}
		var fields []string
		var relevant []types.Snippet
		seen := make(map[string]bool)
		for _, field := range missing {
			matched := false
			for _, snippet := range snippets {
				if !e.relevantToField(field, snippet) {
					continue
				}
				matched = true
				if !seen[snippet.ID] {
					seen[snippet.ID] = true
					relevant = append(relevant, snippet)
				}
			}
			if matched {
				fields = append(fields, field)
			}
		}
		if len(fields) == 0 {
			continue
		}
		sort.Strings(fields)
		batches = append(batches, batch{role: role, fields: fields, snippets: e.capSnippets(relevant)})
	}
	return batches
}

func (e *Extractor) relevantToField(field string, snippet types.Snippet) bool {
	if types.StructuredProductTypes[snippet.Type] {
		return true
	}
	rule, ok := e.rules.Rule(field)
	if !ok {
		return false
	}
	lowered := snippet.NormalizedText
	if lowered == "" {
		lowered = strings.ToLower(snippet.Text)
	}
	terms := []string{strings.ReplaceAll(strings.ToLower(field), "_", " ")}
	for _, group := range [][]string{rule.Synonyms, rule.Labels, rule.ContextKeywords} {
		for _, t := range group {
			terms = append(terms, strings.ToLower(t))
		}
	}
	for _, term := range terms {
		if term != "" && strings.Contains(lowered, term) {
			return true
		}
	}
	return rule.Unit != "" && strings.Contains(lowered, strings.ToLower(rule.Unit))
}

func (e *Extractor) capSnippets(snippets []types.Snippet) []types.Snippet {
	var out []types.Snippet
	chars := 0
	for _, s := range snippets {
		if len(out) >= e.maxSnippetsPerBatch || chars+len(s.Text) > e.maxCharsPerBatch {
			break
		}
		out = append(out, s)
		chars += len(s.Text)
	}
	return out
}

func (e *Extractor) buildSchema(fields []string) *types.ExtractionSchema {
	schema := &types.ExtractionSchema{}
	for _, field := range fields {
		sf := types.SchemaField{Key: field, Type: "string"}
		if rule, ok := e.rules.Rule(field); ok {
			if rule.Type != "" {
				sf.Type = rule.Type
			}
			sf.Unit = rule.Unit
			sf.Enum = rule.Enum
			if len(rule.Labels) > 0 {
				sf.Description = rule.Labels[0]
			}
		}
		schema.Fields = append(schema.Fields, sf)
	}
	return schema
}

// route picks the reasoning model when any field in the batch is hard:
// source-dependent values and identity-level fields need disambiguation, the
// rest are simple lookups.
func (e *Extractor) route(fields []string) types.LLMClient {
	for _, field := range fields {
		rule, ok := e.rules.Rule(field)
		if !ok {
			continue
		}
		if rule.SourceDependent || rule.RequiredLevel == "identity" {
			return e.reasoning
		}
	}
	return e.fast
}

func (e *Extractor) buildPrompt(identity types.IdentityLock, schema *types.ExtractionSchema, snippets []types.Snippet) string {
	var sb strings.Builder
	sb.WriteString("Extract product specification fields from the evidence snippets below.\n\n")
	fmt.Fprintf(&sb, "Product: %s %s", identity.Brand, identity.Model)
	if identity.Variant != "" {
		fmt.Fprintf(&sb, " (%s)", identity.Variant)
	}
	sb.WriteString("\n\nFields to extract:\n")
	fieldDefs, _ := json.Marshal(schema.Fields)
	sb.Write(fieldDefs)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("- Only use values supported by the snippets; cite the snippetId and the exact quote.\n")
	sb.WriteString("- Values for another product variant do not count.\n")
	sb.WriteString(`- "unk" with an unknownReason is a valid answer and preferred over guessing.` + "\n")
	sb.WriteString("- Respond with JSON: {\"fields\": {\"<key>\": {\"value\", \"snippetId\", \"quote\", \"confidence\", \"unknownReason\"}}}\n")
	sb.WriteString("\nSnippets:\n")
	for _, s := range snippets {
		fmt.Fprintf(&sb, "[%s] %s\n", s.ID, s.Text)
	}
	return sb.String()
}

func (e *Extractor) candidatesFrom(result *types.StructuredResult, b batch, pack *types.EvidencePack) []types.Candidate {
	var out []types.Candidate
	for _, field := range b.fields {
		fr, ok := result.Fields[field]
		if !ok || fr.Value == "" || fr.Value == types.UnknownValue {
			continue
		}
		conf := fr.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.6
		}
		c := types.Candidate{
			Field:      field,
			Value:      e.rules.Normalize(field, fr.Value),
			Method:     types.MethodLLMExtract,
			SnippetID:  fr.SnippetID,
			Quote:      fr.Quote,
			Confidence: conf,
		}
		if fr.SnippetID != "" {
			c.EvidenceRefs = []string{fr.SnippetID}
			if snippet, ok := pack.FindSnippet(fr.SnippetID); ok {
				if meta, ok := pack.Sources[snippet.SourceID]; ok {
					c.Source = types.CandidateSource{Host: meta.Source.Host, Tier: meta.Source.Tier}
				}
			}
		}
		out = append(out, c)
	}
	return out
}

func evidenceDigest(snippets []types.Snippet) string {
	hashes := make([]string, 0, len(snippets))
	for _, s := range snippets {
		hashes = append(hashes, s.SnippetHash)
	}
	return strings.Join(hashes, ",")
}
