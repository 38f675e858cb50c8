package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"specfactory/internal/catalog"
	"specfactory/internal/config"
	"specfactory/internal/fetch"
	"specfactory/internal/logging"
	"specfactory/internal/planner"
	"specfactory/internal/queue"
	"specfactory/internal/rules"
	"specfactory/internal/storage"
	"specfactory/internal/types"
)

type fakeFetcher struct {
	pages   map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, src types.Source) (*types.SourceResult, error) {
	f.fetched = append(f.fetched, src.URL)
	result := &types.SourceResult{Source: src, FinalURL: src.URL, FetchedAt: time.Now().UTC()}
	html, ok := f.pages[src.URL]
	if !ok {
		result.Status = "error"
		result.Error = "http 404"
		return result, nil
	}
	result.Status = "ok"
	result.HTML = html
	result.Snippets = fetch.ExtractSnippets(src, src.URL, html)
	return result, nil
}

const productPage = `<html><body>
<h1>Razer Viper V3 Pro</h1>
<table>
<tr><th>Sensor</th><td>PixArt PAW3950</td></tr>
<tr><th>Polling Rate</th><td>8000Hz</td></tr>
</table>
</body></html>`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.LLM.Enabled = false
	cfg.Orchestrator.PerHostMinDelayMs = 0
	return cfg
}

func testDeps(t *testing.T, cfg *config.Config, fetcher types.Fetcher) Deps {
	t.Helper()
	store, err := storage.NewLocalStore(cfg.Workspace)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return Deps{
		Config:  cfg,
		Rules:   rules.Default(),
		Store:   store,
		Fetcher: fetcher,
	}
}

func viperJob() types.ProductJob {
	return types.ProductJob{
		ProductID: "mouse-razer-viper-v3-pro",
		Category:  "mouse",
		IdentityLock: types.IdentityLock{
			ID: 1, Identifier: "a1b2c3d4",
			Brand: "Razer", Model: "Viper V3 Pro",
		},
		SeedURLs: []string{"https://razer.com/viper-v3-pro"},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://razer.com/viper-v3-pro": productPage,
	}}
	deps := testDeps(t, cfg, fetcher)

	eventsPath := filepath.Join(cfg.Workspace, "_runtime", "events.jsonl")
	events, err := logging.NewEventLog(eventsPath)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	deps.Events = events

	result, err := New(deps).Run(context.Background(), viperJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events.Close()

	if result.Status != StatusComplete {
		t.Fatalf("status = %s", result.Status)
	}
	rec := result.Record

	// Parsed from the spec table.
	if rec.Fields["sensor"] != "PAW3950" {
		t.Fatalf("sensor = %q", rec.Fields["sensor"])
	}
	if rec.Fields["polling_rate"] != "8000" {
		t.Fatalf("polling_rate = %q", rec.Fields["polling_rate"])
	}
	// Inferred from the sensor component entry.
	if rec.Fields["dpi"] != "30000" {
		t.Fatalf("dpi = %q", rec.Fields["dpi"])
	}
	if rec.Fields["ips"] != "750" {
		t.Fatalf("ips = %q", rec.Fields["ips"])
	}
	if rec.Provenance["dpi"].Agreement == "" {
		t.Fatal("dpi provenance missing agreement")
	}

	// No evidence anywhere for weight.
	if rec.Fields["weight"] != types.UnknownValue {
		t.Fatalf("weight = %q", rec.Fields["weight"])
	}
	if rec.Provenance["weight"].UnknownReason != types.ReasonNotFoundAfterSearch {
		t.Fatalf("weight reason = %q", rec.Provenance["weight"].UnknownReason)
	}

	// Traffic lights track confidence bands.
	if rec.TrafficLights["sensor"] != types.LightGreen {
		t.Fatalf("sensor light = %s (conf %v)", rec.TrafficLights["sensor"], rec.Provenance["sensor"].Confidence)
	}
	if rec.TrafficLights["dpi"] != types.LightYellow {
		t.Fatalf("dpi light = %s (conf %v)", rec.TrafficLights["dpi"], rec.Provenance["dpi"].Confidence)
	}
	if rec.TrafficLights["weight"] != types.LightGray {
		t.Fatalf("weight light = %s", rec.TrafficLights["weight"])
	}

	// Run artifacts and the latest mirror.
	ctx := context.Background()
	latest := "specs/outputs/mouse/mouse-razer-viper-v3-pro/latest/normalized.json"
	data, err := deps.Store.Read(ctx, latest)
	if err != nil {
		t.Fatalf("latest mirror missing: %v", err)
	}
	var mirrored types.NormalizedRecord
	if err := json.Unmarshal(data, &mirrored); err != nil {
		t.Fatalf("parse mirror: %v", err)
	}
	if mirrored.RunID != result.RunID {
		t.Fatalf("mirror run id = %s, want %s", mirrored.RunID, result.RunID)
	}
	runKey := "specs/outputs/mouse/mouse-razer-viper-v3-pro/runs/" + result.RunID + "/normalized.json"
	if _, err := deps.Store.Read(ctx, runKey); err != nil {
		t.Fatalf("run artifact missing: %v", err)
	}

	// The event log brackets the run.
	logData, err := os.ReadFile(eventsPath)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	var first, last types.Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("parse first event: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("parse last event: %v", err)
	}
	if first.Event != types.EventRunStarted || last.Event != types.EventRunFinished {
		t.Fatalf("event bracket = %s .. %s", first.Event, last.Event)
	}
	if first.RunID != result.RunID {
		t.Fatalf("event run id = %s", first.RunID)
	}
}

const reviewPage = `<html><body>
<h1>Razer Viper V3 Pro review</h1>
<table>
<tr><th>Sensor</th><td>PixArt PAW3950</td></tr>
</table>
<a href="https://mousespecs.example/razer-viper-v3-pro">Full spec sheet</a>
<a href="https://spam.example/razer-viper-v3-pro">Mirror</a>
</body></html>`

func TestRun_LoadsPlannerInputsFromHelperFiles(t *testing.T) {
	cfg := testConfig(t)
	reviewURL := "https://rtings.com/razer-viper-v3-pro-review"
	staleURL := "https://rtings.com/logitech-g502-review"
	aggregatorURL := "https://mousespecs.example/razer-viper-v3-pro"

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://razer.com/viper-v3-pro": productPage,
		reviewURL:                        reviewPage,
		aggregatorURL:                    `<html><body><p>Community-sourced spec sheet for the Razer Viper V3 Pro.</p></body></html>`,
	}}
	deps := testDeps(t, cfg, fetcher)

	ctx := context.Background()
	writeJSON := func(key, body string) {
		if err := deps.Store.Write(ctx, key, []byte(body)); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	writeJSON(planner.AllowlistKey("mouse"), `{"rtings.com": {"tier": 2, "role": "review"}}`)
	writeJSON(planner.DeniedHostsKey("mouse"), `["spam.example"]`)
	writeJSON(planner.IntelKey("mouse"), `{"knownUrls": ["`+reviewURL+`", "`+staleURL+`"]}`)

	result, err := New(deps).Run(ctx, viperJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusComplete {
		t.Fatalf("status = %s", result.Status)
	}

	fetched := make(map[string]bool)
	for _, u := range fetcher.fetched {
		fetched[u] = true
	}
	// The intel URL for this product is seeded; the one for another product
	// fails the brand/model token filter.
	if !fetched[reviewURL] {
		t.Fatalf("intel url not fetched: %v", fetcher.fetched)
	}
	if fetched[staleURL] {
		t.Fatal("intel url for a different product was fetched")
	}
	// The denied host never leaves the planner; the non-allowlist discovery
	// rides the candidate lane and still gets fetched.
	for _, u := range fetcher.fetched {
		if strings.Contains(u, "spam.example") {
			t.Fatalf("denied host fetched: %s", u)
		}
	}
	if !fetched[aggregatorURL] {
		t.Fatalf("candidate discovery not fetched: %v", fetcher.fetched)
	}

	// Lane classification lands in the evidence pack's source metadata.
	data, err := deps.Store.Read(ctx, "specs/outputs/mouse/mouse-razer-viper-v3-pro/runs/"+result.RunID+"/evidence.json")
	if err != nil {
		t.Fatalf("evidence artifact: %v", err)
	}
	var pack types.EvidencePack
	if err := json.Unmarshal(data, &pack); err != nil {
		t.Fatalf("parse evidence: %v", err)
	}
	byHost := make(map[string]types.Source)
	for _, meta := range pack.Sources {
		byHost[meta.Source.Host] = meta.Source
	}
	review, ok := byHost["rtings.com"]
	if !ok || !review.ApprovedDomain || review.CandidateSource || review.Tier != 2 || review.Role != types.RoleReview {
		t.Fatalf("allowlist source = %+v ok=%v", review, ok)
	}
	agg, ok := byHost["mousespecs.example"]
	if !ok || agg.ApprovedDomain || !agg.CandidateSource || agg.Tier != 5 {
		t.Fatalf("candidate source = %+v ok=%v", agg, ok)
	}
}

func TestRun_SourceErrorsAreNotFatal(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &fakeFetcher{pages: map[string]string{}} // every fetch 404s
	deps := testDeps(t, cfg, fetcher)

	result, err := New(deps).Run(context.Background(), viperJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusComplete {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Summary.SourceErrors != 1 {
		t.Fatalf("source errors = %d", result.Summary.SourceErrors)
	}
	for field, value := range result.Record.Fields {
		if value != types.UnknownValue {
			t.Fatalf("field %s = %q without evidence", field, value)
		}
	}
}

func TestRun_CancellationPersistsPartials(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://razer.com/viper-v3-pro": productPage,
	}}
	deps := testDeps(t, cfg, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := New(deps).Run(ctx, viperJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("status = %s", result.Status)
	}
	found := false
	for _, f := range result.Record.Flags {
		if f == "cancelled" {
			found = true
		}
	}
	if !found {
		t.Fatalf("flags = %v", result.Record.Flags)
	}
	// The partial record still lands in storage.
	key := "specs/outputs/mouse/mouse-razer-viper-v3-pro/latest/normalized.json"
	if _, err := deps.Store.Read(context.Background(), key); err != nil {
		t.Fatalf("partial record missing: %v", err)
	}
}

func TestParseJobKey(t *testing.T) {
	cat, pid, err := ParseJobKey("specs/inputs/mouse/products/mouse-razer-viper-v3-pro.json")
	if err != nil || cat != "mouse" || pid != "mouse-razer-viper-v3-pro" {
		t.Fatalf("got %q %q %v", cat, pid, err)
	}
	for _, bad := range []string{
		"specs/outputs/mouse/products/x.json",
		"specs/inputs/mouse/x.json",
		"specs/inputs/mouse/products/x.yaml",
	} {
		if _, _, err := ParseJobKey(bad); err == nil {
			t.Fatalf("accepted %q", bad)
		}
	}
}

func TestDaemon_RunProduct(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://razer.com/viper-v3-pro": productPage,
	}}
	deps := testDeps(t, cfg, fetcher)

	queues := queue.NewStateStore(deps.Store)
	cat := catalog.New(deps.Store, queues, cfg.OutputPrefix)

	ctx := context.Background()
	job, _, err := cat.AddProduct(ctx, "mouse", "Razer", "Viper V3 Pro", "", []string{"https://razer.com/viper-v3-pro"})
	if err != nil {
		t.Fatalf("AddProduct: %v", err)
	}

	d := NewDaemon(New(deps), cat, queues)
	result, err := d.RunProduct(ctx, catalog.InputKey("mouse", job.ProductID))
	if err != nil {
		t.Fatalf("RunProduct: %v", err)
	}
	if result.Record.Fields["sensor"] != "PAW3950" {
		t.Fatalf("sensor = %q", result.Record.Fields["sensor"])
	}

	state, err := queues.Load(ctx, "mouse")
	if err != nil {
		t.Fatalf("queue load: %v", err)
	}
	entry, ok := state.Products[job.ProductID]
	if !ok {
		t.Fatalf("no queue entry: %+v", state.Products)
	}
	if entry.Status != "done" || entry.LastRunID != result.RunID || entry.Attempts != 1 {
		t.Fatalf("entry = %+v", entry)
	}
}
