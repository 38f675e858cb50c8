// Package config holds all specfactory configuration. Configuration is read
// from a YAML file with environment overrides; run profiles (fast, standard,
// thorough) shift the planner and LLM budgets as presets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all specfactory configuration.
type Config struct {
	// Workspace root for the local storage backend.
	Workspace string `yaml:"workspace"`

	// Output prefix for per-product run artifacts (§6 storage layout).
	OutputPrefix string `yaml:"outputPrefix"`

	// outputMode selects storage backends: local, s3, dual.
	OutputMode string `yaml:"outputMode"`

	// RunProfile is a preset that raises/lowers budgets: fast, standard, thorough.
	RunProfile string `yaml:"runProfile"`

	Planner      PlannerConfig      `yaml:"planner"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	LLM          LLMConfig          `yaml:"llm"`
	Aggressive   AggressiveConfig   `yaml:"aggressive"`
	Fetch        FetchConfig        `yaml:"fetch"`
	S3           S3Config           `yaml:"s3"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// PlannerConfig carries the per-run source budgets (§4.2).
type PlannerConfig struct {
	MaxURLsPerProduct             int  `yaml:"maxUrlsPerProduct"`
	MaxPagesPerDomain             int  `yaml:"maxPagesPerDomain"`
	MaxManufacturerURLsPerProduct int  `yaml:"maxManufacturerUrlsPerProduct"`
	MaxManufacturerPagesPerDomain int  `yaml:"maxManufacturerPagesPerDomain"`
	ManufacturerReserveURLs       int  `yaml:"manufacturerReserveUrls"`
	MaxCandidateURLs              int  `yaml:"maxCandidateUrls"`
	FetchCandidateSources         bool `yaml:"fetchCandidateSources"`
	RestrictBrandHosts            bool `yaml:"restrictBrandHosts"`
	IdentityFilterEnabled         bool `yaml:"identityFilterEnabled"`
}

// OrchestratorConfig bounds a single product run and the daemon.
type OrchestratorConfig struct {
	MaxRunSeconds     int `yaml:"maxRunSeconds"`
	Concurrency       int `yaml:"concurrency"`
	PerHostMinDelayMs int `yaml:"perHostMinDelayMs"`
}

// LLMConfig configures the extraction LLMs and their budget guards.
type LLMConfig struct {
	Enabled                  bool    `yaml:"llmEnabled"`
	Provider                 string  `yaml:"provider"` // gemini
	APIKey                   string  `yaml:"apiKey"`
	FastModel                string  `yaml:"fastModel"`
	ReasoningModel           string  `yaml:"reasoningModel"`
	Timeout                  string  `yaml:"timeout"`
	CacheEnabled             bool    `yaml:"llmExtractionCacheEnabled"`
	CacheTTLMs               int64   `yaml:"llmExtractionCacheTtlMs"`
	CachePath                string  `yaml:"cachePath"`
	MaxCallsPerProductTotal  int     `yaml:"llmMaxCallsPerProductTotal"`
	MaxCallsPerRound         int     `yaml:"llmMaxCallsPerRound"`
	PerProductBudgetUSD      float64 `yaml:"llmPerProductBudgetUsd"`
	MonthlyBudgetUSD         float64 `yaml:"llmMonthlyBudgetUsd"`
	MaxSnippetsPerBatch      int     `yaml:"maxSnippetsPerBatch"`
	MaxSnippetCharsPerBatch  int     `yaml:"maxSnippetCharsPerBatch"`
}

// AggressiveConfig bounds the optional second pass on critical gaps.
type AggressiveConfig struct {
	Enabled              bool `yaml:"aggressiveModeEnabled"`
	MaxTimePerProductMs  int  `yaml:"aggressiveMaxTimePerProductMs"`
	EvidenceAuditEnabled bool `yaml:"aggressiveEvidenceAuditEnabled"`
	MaxDeepFields        int  `yaml:"aggressiveMaxDeepFields"`
}

// FetchConfig configures the reference HTTP fetcher.
type FetchConfig struct {
	UserAgent    string `yaml:"userAgent"`
	TimeoutMs    int    `yaml:"timeoutMs"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
	MaxRetries   int    `yaml:"maxRetries"`
}

// S3Config configures the S3 storage backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// LoggingConfig configures zap and the run event log.
type LoggingConfig struct {
	Level     string `yaml:"level"` // debug, info, warn, error
	EventsKey string `yaml:"eventsKey"`
}

// DefaultConfig returns the standard-profile defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace:    ".",
		OutputPrefix: "specs/outputs",
		OutputMode:   "local",
		RunProfile:   "standard",
		Planner: PlannerConfig{
			MaxURLsPerProduct:             24,
			MaxPagesPerDomain:             6,
			MaxManufacturerURLsPerProduct: 10,
			MaxManufacturerPagesPerDomain: 8,
			ManufacturerReserveURLs:       4,
			MaxCandidateURLs:              6,
			FetchCandidateSources:         true,
			RestrictBrandHosts:            true,
			IdentityFilterEnabled:         true,
		},
		Orchestrator: OrchestratorConfig{
			MaxRunSeconds:     900,
			Concurrency:       2,
			PerHostMinDelayMs: 1500,
		},
		LLM: LLMConfig{
			Enabled:                 true,
			Provider:                "gemini",
			FastModel:               "gemini-2.5-flash",
			ReasoningModel:          "gemini-2.5-pro",
			Timeout:                 "120s",
			CacheEnabled:            true,
			CacheTTLMs:              7 * 24 * time.Hour.Milliseconds(),
			CachePath:               "helper_files/_global/llm_cache.db",
			MaxCallsPerProductTotal: 24,
			MaxCallsPerRound:        6,
			PerProductBudgetUSD:     0.50,
			MonthlyBudgetUSD:        150,
			MaxSnippetsPerBatch:     12,
			MaxSnippetCharsPerBatch: 24000,
		},
		Aggressive: AggressiveConfig{
			Enabled:              false,
			MaxTimePerProductMs:  120000,
			EvidenceAuditEnabled: true,
			MaxDeepFields:        5,
		},
		Fetch: FetchConfig{
			UserAgent:    "specfactory/1.0 (+spec pipeline)",
			TimeoutMs:    30000,
			MaxBodyBytes: 2 << 20,
			MaxRetries:   2,
		},
		Logging: LoggingConfig{
			Level:     "info",
			EventsKey: "_runtime/events.jsonl",
		},
	}
}

// Load loads configuration from a YAML file, applies the run profile and
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyProfile(cfg.RunProfile)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyProfile(cfg.RunProfile)
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyProfile applies a named budget preset. Unknown profiles keep the
// standard defaults.
func (c *Config) ApplyProfile(profile string) {
	switch profile {
	case "fast":
		c.Planner.MaxURLsPerProduct = 10
		c.Planner.MaxPagesPerDomain = 3
		c.Planner.MaxManufacturerURLsPerProduct = 5
		c.Planner.MaxCandidateURLs = 2
		c.Planner.FetchCandidateSources = false
		c.Orchestrator.MaxRunSeconds = 300
		c.LLM.MaxCallsPerRound = 3
		c.LLM.MaxCallsPerProductTotal = 8
		c.Aggressive.Enabled = false
	case "thorough":
		c.Planner.MaxURLsPerProduct = 48
		c.Planner.MaxPagesPerDomain = 10
		c.Planner.MaxManufacturerURLsPerProduct = 18
		c.Planner.MaxManufacturerPagesPerDomain = 14
		c.Planner.MaxCandidateURLs = 12
		c.Orchestrator.MaxRunSeconds = 2400
		c.LLM.MaxCallsPerRound = 10
		c.LLM.MaxCallsPerProductTotal = 48
		c.Aggressive.Enabled = true
	}
	c.RunProfile = profileOrStandard(profile)
}

func profileOrStandard(p string) string {
	switch p {
	case "fast", "thorough":
		return p
	}
	return "standard"
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if ws := os.Getenv("SPECFACTORY_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if mode := os.Getenv("SPECFACTORY_OUTPUT_MODE"); mode != "" {
		c.OutputMode = mode
	}
	if bucket := os.Getenv("SPECFACTORY_S3_BUCKET"); bucket != "" {
		c.S3.Bucket = bucket
	}
	if n := os.Getenv("SPECFACTORY_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			c.Orchestrator.Concurrency = v
		}
	}
}

// Validate checks the parts of the config that would otherwise fail deep in a run.
func (c *Config) Validate() error {
	switch c.OutputMode {
	case "local", "s3", "dual":
	default:
		return fmt.Errorf("invalid outputMode: %s (valid: local, s3, dual)", c.OutputMode)
	}
	if c.OutputMode != "local" && c.S3.Bucket == "" {
		return fmt.Errorf("outputMode %s requires s3.bucket", c.OutputMode)
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llmEnabled but no API key configured (set GEMINI_API_KEY)")
	}
	return nil
}

// MaxRunDuration returns the orchestrator deadline.
func (c *Config) MaxRunDuration() time.Duration {
	if c.Orchestrator.MaxRunSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Orchestrator.MaxRunSeconds) * time.Second
}

// PerHostMinDelay returns the global per-host throttle interval.
func (c *Config) PerHostMinDelay() time.Duration {
	return time.Duration(c.Orchestrator.PerHostMinDelayMs) * time.Millisecond
}

// LLMTimeout returns the per-call LLM timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// CacheTTL returns the LLM extraction cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.LLM.CacheTTLMs <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.LLM.CacheTTLMs) * time.Millisecond
}

// FetchTimeout returns the per-request fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	if c.Fetch.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// AggressiveBudget returns the per-product aggressive wall-clock budget.
func (c *Config) AggressiveBudget() time.Duration {
	if c.Aggressive.MaxTimePerProductMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Aggressive.MaxTimePerProductMs) * time.Millisecond
}
