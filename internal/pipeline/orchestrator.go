// Package pipeline drives product runs end to end: the orchestrator drains
// the planner queues through the fetcher, runs the extraction cascade
// (deterministic parse, component inference, LLM extraction), audits and
// merges candidates, and publishes the normalized record with provenance and
// traffic lights. The daemon wraps the orchestrator with a work queue and a
// filesystem watcher for 24/7 operation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"specfactory/internal/catalog"
	"specfactory/internal/config"
	"specfactory/internal/extract"
	"specfactory/internal/fetch"
	"specfactory/internal/llm"
	"specfactory/internal/logging"
	"specfactory/internal/merge"
	"specfactory/internal/planner"
	"specfactory/internal/ratelimit"
	"specfactory/internal/retrieval"
	"specfactory/internal/rules"
	"specfactory/internal/types"
)

// Pass-target thresholds for traffic lights and provenance.
const (
	greenThreshold  = 0.85
	yellowThreshold = 0.60
)

// Run statuses persisted in run.json.
const (
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
)

// Deps wires the orchestrator. Fast/Reasoning, Cache, Tracker, Events and
// Limiter may be nil; the corresponding stage is skipped or unthrottled.
// Allowlist, Denied and Intel override the per-category planner inputs; when
// all three are nil they are loaded from helper_files/{category}/ instead.
type Deps struct {
	Config    *config.Config
	Rules     *rules.Engine
	Store     types.Storage
	Fetcher   types.Fetcher
	Fast      types.LLMClient
	Reasoning types.LLMClient
	Cache     *llm.Cache
	Tracker   *llm.UsageTracker
	Events    *logging.EventLog
	Logger    *zap.Logger
	Limiter   *ratelimit.HostLimiter
	Allowlist map[string]planner.DomainProfile
	Denied    map[string]bool
	Intel     *planner.Intel
}

// Orchestrator runs one product at a time. Safe for concurrent use: all
// per-run state lives in the run, shared pieces (cache, tracker, event log)
// synchronize internally.
type Orchestrator struct {
	deps Deps

	mu     sync.Mutex
	inputs map[string]*planner.Inputs // loaded per category, daemon lifetime
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, inputs: make(map[string]*planner.Inputs)}
}

// plannerInputs resolves the planner inputs for a category: injected deps win,
// otherwise the helper_files are loaded once and cached.
func (o *Orchestrator) plannerInputs(ctx context.Context, category string) (*planner.Inputs, error) {
	d := o.deps
	if d.Allowlist != nil || d.Denied != nil || d.Intel != nil {
		in := &planner.Inputs{Allowlist: d.Allowlist, Denied: d.Denied, Intel: d.Intel}
		if in.Intel == nil {
			in.Intel = &planner.Intel{}
		}
		return in, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if in, ok := o.inputs[category]; ok {
		return in, nil
	}
	in, err := planner.LoadInputs(ctx, d.Store, category)
	if err != nil {
		return nil, fmt.Errorf("planner inputs for %s: %w", category, err)
	}
	o.inputs[category] = in
	return in, nil
}

// RunSummary is the run.json artifact.
type RunSummary struct {
	RunID            string    `json:"runId"`
	ProductID        string    `json:"productId"`
	Category         string    `json:"category"`
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	SourcesFetched   int       `json:"sourcesFetched"`
	SourceErrors     int       `json:"sourceErrors"`
	Candidates       int       `json:"candidates"`
	AuditRejections  int       `json:"auditRejections"`
	LLM              llm.Stats `json:"llm"`
	AggressiveFields []string  `json:"aggressiveFields,omitempty"`
	Flags            []string  `json:"flags,omitempty"`
}

// RunResult is what Run hands back to the caller.
type RunResult struct {
	RunID   string
	Status  string
	Record  *types.NormalizedRecord
	Summary RunSummary
}

// run carries the mutable state of one product run.
type run struct {
	o        *Orchestrator
	job      types.ProductJob
	runID    string
	planner  *planner.Planner
	parser   *extract.Parser
	resolver *extract.Resolver
	pack     *types.EvidencePack
	cands    map[string][]types.Candidate
	reject   map[string]bool // fields that lost candidates to the audit
	events   *logging.ScopedEmitter
	log      *zap.Logger
	summary  RunSummary
}

// Run executes one full product run. Cancellation is not an error: the run
// persists its partial record with status cancelled and returns normally.
func (o *Orchestrator) Run(ctx context.Context, job types.ProductJob) (*RunResult, error) {
	cfg := o.deps.Config
	runID := uuid.NewString()

	r := &run{
		o:        o,
		job:      job,
		runID:    runID,
		parser:   extract.NewParser(o.deps.Rules),
		resolver: extract.NewResolver(o.deps.Rules),
		pack:     &types.EvidencePack{Sources: make(map[string]types.SourceMeta)},
		cands:    make(map[string][]types.Candidate),
		reject:   make(map[string]bool),
		log:      o.deps.Logger.With(zap.String("productId", job.ProductID), zap.String("runId", runID)),
		summary: RunSummary{
			RunID:     runID,
			ProductID: job.ProductID,
			Category:  job.Category,
			StartedAt: time.Now().UTC(),
		},
	}
	if o.deps.Events != nil {
		r.events = o.deps.Events.Scoped(job.ProductID, runID)
	}

	inputs, err := o.plannerInputs(ctx, job.Category)
	if err != nil {
		return nil, err
	}
	r.planner = planner.New(cfg.Planner, o.deps.Rules, job, inputs.Allowlist, inputs.Denied, inputs.Intel)
	for _, seed := range job.SeedURLs {
		r.planner.Enqueue(seed, "seed", planner.EnqueueOptions{ForceApproved: true, ForceBrandBypass: true})
	}
	intelSeeds := r.seedIntel(inputs.Intel)

	r.events.Info(types.EventRunStarted, map[string]any{
		"seeds":      len(job.SeedURLs),
		"intelSeeds": intelSeeds,
		"profile":    cfg.RunProfile,
	})
	r.log.Info("run started", zap.Int("seeds", len(job.SeedURLs)))

	runCtx, cancel := context.WithTimeout(ctx, cfg.MaxRunDuration())
	defer cancel()

	cancelled := r.drain(runCtx)

	if !cancelled {
		r.inferComponents()
		r.extractWithLLM(runCtx)
	}

	results := r.mergeAll()

	if !cancelled && cfg.Aggressive.Enabled {
		r.aggressivePass(runCtx, results)
	}

	record := r.buildRecord(results, cancelled)
	status := StatusComplete
	if cancelled {
		status = StatusCancelled
	}
	r.summary.Status = status
	r.summary.FinishedAt = time.Now().UTC()
	r.summary.Flags = record.Flags

	if err := r.publish(record, results); err != nil {
		r.events.Error(types.EventFatal, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("publish run %s: %w", runID, err)
	}

	kind := types.EventRunFinished
	if cancelled {
		kind = types.EventRunCancelled
	}
	r.events.Info(kind, map[string]any{
		"status":     status,
		"sources":    r.summary.SourcesFetched,
		"errors":     r.summary.SourceErrors,
		"candidates": r.summary.Candidates,
		"llmCalls":   r.summary.LLM.Calls,
	})
	r.log.Info("run finished", zap.String("status", status),
		zap.Int("sources", r.summary.SourcesFetched), zap.Int("candidates", r.summary.Candidates))

	return &RunResult{RunID: runID, Status: status, Record: record, Summary: r.summary}, nil
}

// drain pops sources until the queues are empty or the context ends. Returns
// whether the run was cancelled.
func (r *run) drain(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return true
		}
		src, ok := r.planner.Next()
		if !ok {
			return false
		}
		if r.o.deps.Limiter != nil {
			if err := r.o.deps.Limiter.Wait(ctx, src.Host); err != nil {
				return true
			}
		}

		result, err := r.o.deps.Fetcher.Fetch(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			r.summary.SourceErrors++
			r.events.Warn(types.EventSourceError, map[string]any{"url": src.URL, "error": err.Error()})
			continue
		}
		if result.Status != "ok" {
			r.summary.SourceErrors++
			r.events.Warn(types.EventSourceError, map[string]any{"url": src.URL, "error": result.Error})
			continue
		}
		r.summary.SourcesFetched++
		r.ingest(src, result)
	}
}

// ingest appends one fetched source to the evidence pack, parses its
// snippets, updates planner priorities and runs link discovery.
func (r *run) ingest(src types.Source, result *types.SourceResult) {
	meta := types.SourceMeta{
		Source:        src,
		FinalURL:      result.FinalURL,
		FetchedAt:     result.FetchedAt.UnixMilli(),
		IdentityMatch: r.identityMatch(result),
	}
	sub := &types.EvidencePack{
		Snippets: result.Snippets,
		Sources:  map[string]types.SourceMeta{src.SourceID: meta},
	}
	r.pack.Append(sub)
	r.pack.References = append(r.pack.References, result.FinalURL)

	parsed := r.parser.Parse(sub)
	var filled []string
	for _, c := range parsed {
		if len(r.cands[c.Field]) == 0 {
			filled = append(filled, c.Field)
		}
		r.cands[c.Field] = append(r.cands[c.Field], c)
	}
	if len(filled) > 0 {
		r.planner.MarkFieldsFilled(filled)
		r.events.Info(types.EventFieldsFilled, map[string]any{"fields": filled, "url": src.URL})
	}

	discovered := r.discover(src, result)
	r.events.Info(types.EventSourceProcessed, map[string]any{
		"url":        src.URL,
		"host":       src.Host,
		"tier":       src.Tier,
		"snippets":   len(result.Snippets),
		"candidates": len(parsed),
		"discovered": discovered,
	})
}

func (r *run) discover(src types.Source, result *types.SourceResult) int {
	if result.HTML == "" {
		return 0
	}
	path := ""
	if u, err := url.Parse(result.FinalURL); err == nil {
		path = strings.ToLower(u.Path)
	}
	switch {
	case strings.HasSuffix(path, "/robots.txt"):
		return r.planner.DiscoverFromRobots(result.FinalURL, result.HTML)
	case strings.HasSuffix(path, ".xml"):
		return r.planner.DiscoverFromSitemap(result.FinalURL, result.HTML)
	default:
		return r.planner.DiscoverFromHTML(result.FinalURL, result.HTML)
	}
}

// identityMatch verifies the fetched page really covers this product: the
// brand plus at least one model token must appear in the source's snippets.
// Sources with no snippets stay unverified (nil).
func (r *run) identityMatch(result *types.SourceResult) *bool {
	if len(result.Snippets) == 0 {
		return nil
	}
	brand := strings.ToLower(r.job.IdentityLock.Brand)
	tokens := catalog.ModelTokens(r.job.IdentityLock.Model)

	var all strings.Builder
	for _, s := range result.Snippets {
		all.WriteString(strings.ToLower(s.Text))
		all.WriteByte('\n')
	}
	text := all.String()

	match := strings.Contains(text, brand)
	if match {
		match = false
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				match = true
				break
			}
		}
	}
	return &match
}

// seedIntel enqueues prior-run URLs whose text carries the brand and at least
// one model token. Intel URLs take the lane their host earns; unlike job
// seeds they are not force-approved.
func (r *run) seedIntel(intel *planner.Intel) int {
	if intel == nil || len(intel.KnownURLs) == 0 {
		return 0
	}
	brand := compactToken(r.job.IdentityLock.Brand)
	tokens := catalog.ModelTokens(r.job.IdentityLock.Model)

	seeded := 0
	for _, raw := range intel.KnownURLs {
		flat := compactToken(raw)
		if brand != "" && !strings.Contains(flat, brand) {
			continue
		}
		match := false
		for _, tok := range tokens {
			if strings.Contains(flat, compactToken(tok)) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if ok, _ := r.planner.Enqueue(raw, "intel", planner.EnqueueOptions{}); ok {
			seeded++
		}
	}
	return seeded
}

// compactToken lowercases and strips separators, so "Viper V3" matches
// "viper-v3" inside a URL.
func compactToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// inferComponents runs the component-DB resolver over everything parsed so
// far (cascade stage 2).
func (r *run) inferComponents() {
	inferred := r.resolver.Resolve(r.allCandidates())
	for _, c := range inferred {
		r.cands[c.Field] = append(r.cands[c.Field], c)
	}
	if r.o.deps.Config.Aggressive.Enabled && r.o.deps.Config.Aggressive.EvidenceAuditEnabled {
		r.audit("component_inference")
	}
}

// extractWithLLM runs cascade stage 3 on the fields still missing a
// confident value.
func (r *run) extractWithLLM(ctx context.Context) {
	ext := r.extractor()
	if ext == nil {
		return
	}
	missing := r.missingFields()
	if len(missing) == 0 {
		return
	}

	before := ext.Stats()
	got := ext.Extract(ctx, r.job, r.pack, missing)
	after := ext.Stats()
	r.summary.LLM = after

	if after.BudgetDenials > before.BudgetDenials {
		r.events.Warn(types.EventBudgetExceeded, map[string]any{"missing": missing})
	}
	if after.Calls > before.Calls {
		r.events.Info(types.EventLLMCall, map[string]any{
			"fields": missing,
			"calls":  after.Calls - before.Calls,
		})
	}
	if after.CacheHits > before.CacheHits {
		r.events.Info(types.EventLLMCacheHit, map[string]any{"hits": after.CacheHits - before.CacheHits})
	}
	if after.ParseFailures > before.ParseFailures {
		r.events.Warn(types.EventLLMParseFailure, map[string]any{"failures": after.ParseFailures - before.ParseFailures})
	}

	for _, c := range got {
		r.cands[c.Field] = append(r.cands[c.Field], c)
	}
	r.audit("llm_extract")
}

// extractor builds the per-run LLM extractor, or nil when LLMs are disabled.
// The budget guard is per run; cache and tracker are shared.
func (r *run) extractor() *llm.Extractor {
	cfg := r.o.deps.Config
	if !cfg.LLM.Enabled || r.o.deps.Fast == nil {
		return nil
	}
	guard := llm.NewBudgetGuard(r.o.deps.Tracker,
		cfg.LLM.MaxCallsPerRound, cfg.LLM.MaxCallsPerProductTotal,
		cfg.LLM.PerProductBudgetUSD, cfg.LLM.MonthlyBudgetUSD)
	return llm.NewExtractor(r.o.deps.Rules, r.o.deps.Fast, r.o.deps.Reasoning,
		r.o.deps.Cache, guard, r.o.deps.Tracker,
		llm.ExtractorOptions{
			MaxSnippetsPerBatch: cfg.LLM.MaxSnippetsPerBatch,
			MaxCharsPerBatch:    cfg.LLM.MaxSnippetCharsPerBatch,
		}, r.log)
}

// audit drops candidates whose cited evidence does not verify, and remembers
// the affected fields so their unknowns carry the right reason.
func (r *run) audit(stage string) {
	auditor := &merge.Auditor{ValueCheck: true}
	fieldTypes := make(map[string]string)
	for _, field := range r.o.deps.Rules.Fields() {
		if rule, ok := r.o.deps.Rules.Rule(field); ok {
			fieldTypes[field] = rule.Type
		}
	}
	for field, cands := range r.cands {
		var keep []types.Candidate
		for _, c := range cands {
			// Only evidence-citing candidates are auditable; the deterministic
			// parser's output is verifiable by construction.
			if c.Method != types.MethodLLMExtract && !(r.aggressiveAudit() && c.SnippetID != "") {
				keep = append(keep, c)
				continue
			}
			ok, reason := auditor.Verify(c, r.pack, fieldTypes[field])
			if ok {
				keep = append(keep, c)
				continue
			}
			r.summary.AuditRejections++
			r.reject[field] = true
			r.events.Warn(types.EventAuditDemotion, map[string]any{
				"stage":  stage,
				"field":  field,
				"value":  c.Value,
				"reason": reason,
			})
		}
		r.cands[field] = keep
	}
}

func (r *run) aggressiveAudit() bool {
	cfg := r.o.deps.Config
	return cfg.Aggressive.Enabled && cfg.Aggressive.EvidenceAuditEnabled
}

// mergeAll resolves every rule field to one value.
func (r *run) mergeAll() map[string]merge.Result {
	if r.aggressiveAudit() {
		r.audit("final")
	}
	merger := merge.New(r.o.deps.Rules, r.job.PreferredSources)
	results := make(map[string]merge.Result)
	for _, field := range r.o.deps.Rules.Fields() {
		res := merger.Merge(field, r.cands[field])
		if res.Value == types.UnknownValue && r.reject[field] {
			res.UnknownReason = types.ReasonNotSupportedByEvidence
		}
		results[field] = res
		r.summary.Candidates += len(res.Candidates)
	}
	return results
}

// missingFields lists fields with no candidate at or above the yellow
// threshold.
func (r *run) missingFields() []string {
	var missing []string
	for _, field := range r.o.deps.Rules.Fields() {
		best := 0.0
		for _, c := range r.cands[field] {
			if c.Confidence > best {
				best = c.Confidence
			}
		}
		if best < yellowThreshold {
			missing = append(missing, field)
		}
	}
	return missing
}

// aggressivePass retries critical gaps with focused evidence retrieval and
// the reasoning model, bounded by the aggressive time budget and the deep
// field cap.
func (r *run) aggressivePass(ctx context.Context, results map[string]merge.Result) {
	cfg := r.o.deps.Config
	ext := r.extractor()
	if ext == nil {
		return
	}

	var gaps []string
	for _, field := range r.o.deps.Rules.Fields() {
		rule, ok := r.o.deps.Rules.Rule(field)
		if !ok || !rule.IsIdentityOrCritical() {
			continue
		}
		res := results[field]
		if res.Value == types.UnknownValue || res.Confidence < yellowThreshold {
			gaps = append(gaps, field)
		}
	}
	if len(gaps) == 0 {
		return
	}
	if len(gaps) > cfg.Aggressive.MaxDeepFields {
		gaps = gaps[:cfg.Aggressive.MaxDeepFields]
	}

	aggCtx, cancel := context.WithTimeout(ctx, cfg.AggressiveBudget())
	defer cancel()

	retriever := retrieval.New(r.o.deps.Rules, retrieval.Options{
		IdentityFilterEnabled: cfg.Planner.IdentityFilterEnabled,
		IdentityTokens:        catalog.ModelTokens(r.job.IdentityLock.Model),
	})
	pool := r.evidencePool()

	merger := merge.New(r.o.deps.Rules, r.job.PreferredSources)
	var worked []string
	for _, field := range gaps {
		if aggCtx.Err() != nil {
			break
		}
		hits, diag := retriever.Retrieve(field, pool)
		if len(hits) == 0 {
			r.events.Info(types.EventAggressivePass, map[string]any{
				"field": field, "hits": 0, "miss": diag.Reasons,
			})
			continue
		}
		focused := r.focusedPack(hits)
		got := ext.Extract(aggCtx, r.job, focused, []string{field})
		r.summary.LLM = ext.Stats()
		for _, c := range got {
			r.cands[field] = append(r.cands[field], c)
		}
		r.audit("aggressive")
		res := merger.Merge(field, r.cands[field])
		if res.Value == types.UnknownValue && r.reject[field] {
			res.UnknownReason = types.ReasonNotSupportedByEvidence
		}
		results[field] = res
		worked = append(worked, field)
		r.events.Info(types.EventAggressivePass, map[string]any{
			"field": field, "hits": len(hits), "value": res.Value, "confidence": res.Confidence,
		})
	}
	r.summary.AggressiveFields = worked
}

// evidencePool converts the pack into retrieval rows.
func (r *run) evidencePool() []retrieval.EvidenceRow {
	rows := make([]retrieval.EvidenceRow, 0, len(r.pack.Snippets))
	for _, s := range r.pack.Snippets {
		row := retrieval.EvidenceRow{
			SnippetID: s.ID,
			Text:      s.Text,
			URL:       s.URL,
			Method:    methodForRetrieval(s),
			DocKind:   retrieval.InferDocKind(s.URL),
		}
		if meta, ok := r.pack.Sources[s.SourceID]; ok {
			row.Host = meta.Source.Host
			row.Tier = meta.Source.Tier
			row.SourceIdentityMatch = meta.IdentityMatch
			if row.URL == "" {
				row.URL = meta.FinalURL
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func methodForRetrieval(s types.Snippet) string {
	switch {
	case s.Type == types.SnippetSpecTableRow:
		if s.ExtractionMethod == "pdf_table" {
			return "kv"
		}
		return "table"
	case types.StructuredProductTypes[s.Type]:
		return "json_ld"
	default:
		return "text"
	}
}

// focusedPack narrows the evidence pack to the retrieved snippets.
func (r *run) focusedPack(hits []retrieval.Hit) *types.EvidencePack {
	want := make(map[string]bool, len(hits))
	for _, h := range hits {
		want[h.Row.SnippetID] = true
	}
	focused := &types.EvidencePack{Sources: make(map[string]types.SourceMeta)}
	for _, s := range r.pack.Snippets {
		if !want[s.ID] {
			continue
		}
		focused.Snippets = append(focused.Snippets, s)
		if meta, ok := r.pack.Sources[s.SourceID]; ok {
			focused.Sources[s.SourceID] = meta
		}
	}
	return focused
}

// buildRecord assembles the published normalized record with provenance and
// traffic lights.
func (r *run) buildRecord(results map[string]merge.Result, cancelled bool) *types.NormalizedRecord {
	record := &types.NormalizedRecord{
		ProductID:     r.job.ProductID,
		Identity:      r.job.IdentityLock,
		Fields:        make(map[string]string),
		Provenance:    make(map[string]types.FieldProvenance),
		TrafficLights: make(map[string]string),
		RunID:         r.runID,
	}
	for _, field := range r.o.deps.Rules.Fields() {
		res := results[field]
		record.Fields[field] = res.Value
		record.Provenance[field] = types.FieldProvenance{
			Value:           res.Value,
			Confidence:      res.Confidence,
			MeetsPassTarget: res.Value != types.UnknownValue && res.Confidence >= greenThreshold,
			Evidence:        res.Evidence,
			UnknownReason:   res.UnknownReason,
			Agreement:       res.Agreement,
		}
		record.TrafficLights[field] = trafficLight(res.Value, res.Confidence)
		if res.NeedsReview {
			record.Flags = append(record.Flags, "needs_review:"+field)
		}
	}
	if cancelled {
		record.Flags = append(record.Flags, "cancelled")
	}
	return record
}

func trafficLight(value string, confidence float64) string {
	switch {
	case value == types.UnknownValue:
		return types.LightGray
	case confidence >= greenThreshold:
		return types.LightGreen
	case confidence >= yellowThreshold:
		return types.LightYellow
	default:
		return types.LightRed
	}
}

// publish writes the run artifacts and mirrors them to latest/.
func (r *run) publish(record *types.NormalizedRecord, results map[string]merge.Result) error {
	cfg := r.o.deps.Config
	runPrefix := fmt.Sprintf("%s/%s/%s/runs/%s", cfg.OutputPrefix, r.job.Category, r.job.ProductID, r.runID)
	latestPrefix := fmt.Sprintf("%s/%s/%s/latest", cfg.OutputPrefix, r.job.Category, r.job.ProductID)

	plannerState, err := r.planner.Snapshot()
	if err != nil {
		return err
	}

	artifacts := map[string]any{
		"normalized.json": record,
		"candidates.json": results,
		"evidence.json":   r.pack,
		"run.json":        r.summary,
	}
	ctx := context.Background() // persistence must survive run cancellation
	for name, payload := range artifacts {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		if err := r.o.deps.Store.Write(ctx, runPrefix+"/"+name, data); err != nil {
			return err
		}
		if err := r.o.deps.Store.Write(ctx, latestPrefix+"/"+name, data); err != nil {
			return err
		}
	}
	return r.o.deps.Store.Write(ctx, runPrefix+"/planner_state.json", plannerState)
}

func (r *run) allCandidates() []types.Candidate {
	var all []types.Candidate
	for _, field := range r.o.deps.Rules.Fields() {
		all = append(all, r.cands[field]...)
	}
	return all
}

// NewHTTPFetcher builds the reference fetcher from config.
func NewHTTPFetcher(cfg *config.Config) types.Fetcher {
	return fetch.New(fetch.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		MaxRetries:   cfg.Fetch.MaxRetries,
	})
}
