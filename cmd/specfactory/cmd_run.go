package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"specfactory/internal/catalog"
	"specfactory/internal/llm"
	"specfactory/internal/logging"
	"specfactory/internal/pipeline"
	"specfactory/internal/queue"
	"specfactory/internal/ratelimit"
	"specfactory/internal/rules"
	"specfactory/internal/storage"
)

var runInput string

// runCmd executes a single product job to completion.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one product job to completion",
	Long: `Runs the full pipeline for one job input file and publishes the
normalized record under the output prefix. Partial results are persisted on
cancellation; the next run resumes from the inputs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stack, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer stack.close()

		result, err := stack.daemon.RunProduct(ctx, runInput)
		if err != nil {
			return err
		}
		fmt.Printf("run %s: %s\n", result.RunID, result.Status)
		for _, field := range stack.deps.Rules.Fields() {
			fmt.Printf("  %-14s %-8s %s\n", field,
				result.Record.TrafficLights[field], result.Record.Fields[field])
		}
		return nil
	},
}

// daemonCmd runs continuously, watching the inputs tree.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the inputs tree and run products continuously",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stack, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer stack.close()

		return stack.daemon.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "job input key (specs/inputs/{category}/products/{id}.json)")
	_ = runCmd.MarkFlagRequired("input")
}

// stack is the fully wired pipeline plus its closable pieces.
type stack struct {
	deps    pipeline.Deps
	catalog *catalog.Catalog
	queues  *queue.StateStore
	daemon  *pipeline.Daemon

	events *logging.EventLog
	cache  *llm.Cache
}

func (s *stack) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.events != nil {
		_ = s.events.Close()
	}
}

// buildStack wires storage, the event log, the LLM clients and the
// orchestrator from the loaded config.
func buildStack(ctx context.Context) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.FromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	events, err := logging.NewEventLog(filepath.Join(cfg.Workspace, cfg.Logging.EventsKey))
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Config:  cfg,
		Rules:   rules.Default(),
		Store:   store,
		Fetcher: pipeline.NewHTTPFetcher(cfg),
		Events:  events,
		Logger:  logger,
		Limiter: ratelimit.NewHostLimiter(cfg.PerHostMinDelay()),
	}

	s := &stack{deps: deps, events: events}
	if cfg.LLM.Enabled {
		if err := wireLLM(ctx, s); err != nil {
			s.close()
			return nil, err
		}
	}

	s.queues = queue.NewStateStore(store)
	s.catalog = catalog.New(store, s.queues, cfg.OutputPrefix)
	s.daemon = pipeline.NewDaemon(pipeline.New(s.deps), s.catalog, s.queues)
	return s, nil
}

func wireLLM(ctx context.Context, s *stack) error {
	fast, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.FastModel, cfg.LLMTimeout())
	if err != nil {
		return fmt.Errorf("fast model: %w", err)
	}
	reasoning, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.ReasoningModel, cfg.LLMTimeout())
	if err != nil {
		return fmt.Errorf("reasoning model: %w", err)
	}
	s.deps.Fast = fast
	s.deps.Reasoning = reasoning

	if cfg.LLM.CacheEnabled {
		cache, err := llm.OpenCache(filepath.Join(cfg.Workspace, cfg.LLM.CachePath), cfg.CacheTTL())
		if err != nil {
			return err
		}
		s.cache = cache
		s.deps.Cache = cache
	}
	tracker, err := llm.NewUsageTracker(ctx, s.deps.Store)
	if err != nil {
		return err
	}
	s.deps.Tracker = tracker
	logger.Info("llm extraction enabled",
		zap.String("fastModel", cfg.LLM.FastModel),
		zap.String("reasoningModel", cfg.LLM.ReasoningModel))
	return nil
}
