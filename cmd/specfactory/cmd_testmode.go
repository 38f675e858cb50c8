package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"specfactory/internal/catalog"
	"specfactory/internal/fetch"
	"specfactory/internal/logging"
	"specfactory/internal/pipeline"
	"specfactory/internal/queue"
	"specfactory/internal/rules"
	"specfactory/internal/storage"
	"specfactory/internal/types"
)

// fixtureHost serves the canned pages of the test sandbox.
const fixtureHost = "https://fixtures.test/"

// testModeCmd manages a self-contained sandbox so the whole pipeline can be
// exercised without network access or API keys.
var testModeCmd = &cobra.Command{
	Use:   "test-mode [create|generate|run|validate|wipe]",
	Short: "Run the pipeline against a canned fixture sandbox",
	Long: `test-mode operates a sandbox under <workspace>/_testmode:

  create    write the fixture pages
  generate  register the fixture products (catalog + job inputs)
  run       run the pipeline over every fixture job, offline
  validate  check the published records for completeness
  wipe      delete the sandbox`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "create":
			return testModeCreate(cmd.Context())
		case "generate":
			return testModeGenerate(cmd.Context())
		case "run":
			return testModeRun(cmd.Context())
		case "validate":
			return testModeValidate(cmd.Context())
		case "wipe":
			return testModeWipe()
		default:
			return fmt.Errorf("unknown test-mode action %q", args[0])
		}
	},
}

type fixture struct {
	brand string
	model string
	page  string
	html  string
}

var fixtures = []fixture{
	{
		brand: "Razer", model: "Viper V3 Pro", page: "viper-v3-pro.html",
		html: `<html><body><h1>Razer Viper V3 Pro</h1><table>
<tr><th>Sensor</th><td>PixArt PAW3950</td></tr>
<tr><th>Polling Rate</th><td>8000Hz</td></tr>
<tr><th>Weight</th><td>54 g</td></tr>
<tr><th>Connection</th><td>Wireless</td></tr>
</table></body></html>`,
	},
	{
		brand: "Logitech", model: "G Pro X Superlight 2", page: "superlight-2.html",
		html: `<html><body><h1>Logitech G Pro X Superlight 2</h1><table>
<tr><th>Sensor</th><td>HERO 2</td></tr>
<tr><th>Weight</th><td>60 g</td></tr>
<tr><th>Connection</th><td>Wireless</td></tr>
</table></body></html>`,
	},
	{
		// Sparse page: most fields must resolve to the unknown sentinel.
		brand: "Acme", model: "Phantom", page: "phantom.html",
		html: `<html><body><h1>Acme Phantom</h1>
<p>The Acme Phantom is a lightweight gaming mouse built for competitive play and long sessions.</p>
</body></html>`,
	},
}

func sandboxRoot() string {
	return filepath.Join(cfg.Workspace, "_testmode")
}

func sandboxStore() (types.Storage, error) {
	return storage.NewLocalStore(sandboxRoot())
}

// fixtureFetcher resolves fixture URLs against the sandbox store.
type fixtureFetcher struct {
	store types.Storage
}

func (f *fixtureFetcher) Fetch(ctx context.Context, src types.Source) (*types.SourceResult, error) {
	result := &types.SourceResult{Source: src, FinalURL: src.URL, FetchedAt: time.Now().UTC()}
	page, ok := strings.CutPrefix(src.URL, fixtureHost)
	if !ok {
		result.Status = "error"
		result.Error = "host outside the sandbox"
		return result, nil
	}
	data, err := f.store.Read(ctx, "pages/"+page)
	if err != nil {
		result.Status = "error"
		result.Error = "fixture not found"
		return result, nil
	}
	result.Status = "ok"
	result.HTML = string(data)
	result.Snippets = fetch.ExtractSnippets(src, src.URL, result.HTML)
	return result, nil
}

func testModeCreate(ctx context.Context) error {
	store, err := sandboxStore()
	if err != nil {
		return err
	}
	for _, f := range fixtures {
		if err := store.Write(ctx, "pages/"+f.page, []byte(f.html)); err != nil {
			return err
		}
	}
	fmt.Printf("sandbox created at %s (%d fixture pages)\n", sandboxRoot(), len(fixtures))
	return nil
}

func testModeGenerate(ctx context.Context) error {
	store, err := sandboxStore()
	if err != nil {
		return err
	}
	queues := queue.NewStateStore(store)
	cat := catalog.New(store, queues, cfg.OutputPrefix)
	for _, f := range fixtures {
		job, _, err := cat.AddProduct(ctx, "mouse", f.brand, f.model, "", []string{fixtureHost + f.page})
		if err != nil {
			return err
		}
		fmt.Printf("generated %s\n", job.ProductID)
	}
	return nil
}

func testModeRun(ctx context.Context) error {
	stack, err := sandboxStack()
	if err != nil {
		return err
	}
	defer stack.close()

	keys, err := stack.deps.Store.List(ctx, "specs/inputs/")
	if err != nil {
		return err
	}
	ran := 0
	for _, key := range keys {
		if _, _, err := pipeline.ParseJobKey(key); err != nil {
			continue
		}
		result, err := stack.daemon.RunProduct(ctx, key)
		if err != nil {
			return err
		}
		fmt.Printf("ran %s: %s\n", key, result.Status)
		ran++
	}
	if ran == 0 {
		return fmt.Errorf("no fixture jobs found, run test-mode generate first")
	}
	return nil
}

func testModeValidate(ctx context.Context) error {
	store, err := sandboxStore()
	if err != nil {
		return err
	}
	queues := queue.NewStateStore(store)
	cat := catalog.New(store, queues, cfg.OutputPrefix)
	eng := rules.Default()

	ids, err := cat.List(ctx, "mouse")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no fixture products found")
	}

	failures := 0
	for _, id := range ids {
		key := fmt.Sprintf("%s/mouse/%s/latest/normalized.json", cfg.OutputPrefix, id)
		data, err := store.Read(ctx, key)
		if err != nil {
			fmt.Printf("FAIL %s: no published record\n", id)
			failures++
			continue
		}
		record, problems := checkRecord(eng, data)
		for _, p := range problems {
			fmt.Printf("FAIL %s: %s\n", id, p)
		}
		failures += len(problems)
		if record != nil && len(problems) == 0 {
			fmt.Printf("ok   %s (run %s)\n", id, record.RunID)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d validation failures", failures)
	}
	fmt.Printf("%d records valid\n", len(ids))
	return nil
}

// checkRecord verifies the published invariants: every rule field present,
// unknowns carry a reason and a gray light, known values carry provenance.
func checkRecord(eng *rules.Engine, data []byte) (*types.NormalizedRecord, []string) {
	var record types.NormalizedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, []string{fmt.Sprintf("unparseable record: %v", err)}
	}
	var problems []string
	for _, field := range eng.Fields() {
		value, ok := record.Fields[field]
		if !ok {
			problems = append(problems, fmt.Sprintf("field %s missing", field))
			continue
		}
		prov, ok := record.Provenance[field]
		if !ok {
			problems = append(problems, fmt.Sprintf("field %s has no provenance", field))
			continue
		}
		light := record.TrafficLights[field]
		if value == types.UnknownValue {
			if prov.UnknownReason == "" {
				problems = append(problems, fmt.Sprintf("field %s is unk without a reason", field))
			}
			if light != types.LightGray {
				problems = append(problems, fmt.Sprintf("field %s is unk with %s light", field, light))
			}
			continue
		}
		if light == "" {
			problems = append(problems, fmt.Sprintf("field %s has no traffic light", field))
		}
		if prov.Confidence <= 0 {
			problems = append(problems, fmt.Sprintf("field %s has zero confidence", field))
		}
	}
	return &record, problems
}

func testModeWipe() error {
	if err := os.RemoveAll(sandboxRoot()); err != nil {
		return err
	}
	fmt.Println("sandbox wiped")
	return nil
}

// sandboxStack wires an offline pipeline against the sandbox store.
func sandboxStack() (*stack, error) {
	store, err := sandboxStore()
	if err != nil {
		return nil, err
	}
	events, err := logging.NewEventLog(filepath.Join(sandboxRoot(), cfg.Logging.EventsKey))
	if err != nil {
		return nil, err
	}

	sandboxCfg := *cfg
	sandboxCfg.Workspace = sandboxRoot()
	sandboxCfg.LLM.Enabled = false
	sandboxCfg.Orchestrator.PerHostMinDelayMs = 0

	deps := pipeline.Deps{
		Config:  &sandboxCfg,
		Rules:   rules.Default(),
		Store:   store,
		Fetcher: &fixtureFetcher{store: store},
		Events:  events,
		Logger:  logger,
	}
	s := &stack{deps: deps, events: events}
	s.queues = queue.NewStateStore(store)
	s.catalog = catalog.New(store, s.queues, cfg.OutputPrefix)
	s.daemon = pipeline.NewDaemon(pipeline.New(deps), s.catalog, s.queues)
	return s, nil
}
