package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfgValidateWithoutLLM(cfg); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Planner.MaxURLsPerProduct != 24 || cfg.Planner.ManufacturerReserveURLs != 4 {
		t.Fatalf("planner defaults = %+v", cfg.Planner)
	}
	if cfg.MaxRunDuration() != 15*time.Minute {
		t.Fatalf("run duration = %v", cfg.MaxRunDuration())
	}
	if cfg.PerHostMinDelay() != 1500*time.Millisecond {
		t.Fatalf("per host delay = %v", cfg.PerHostMinDelay())
	}
	if cfg.CacheTTL() != 7*24*time.Hour {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL())
	}
}

// validation without requiring an API key in the test environment
func cfgValidateWithoutLLM(c *Config) error {
	c.LLM.Enabled = false
	return c.Validate()
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RunProfile != "standard" || cfg.OutputMode != "local" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_FileAndProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specfactory.yaml")
	doc := []byte("runProfile: fast\noutputPrefix: out\nplanner:\n  maxPagesPerDomain: 9\n")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputPrefix != "out" {
		t.Fatalf("outputPrefix = %q", cfg.OutputPrefix)
	}
	// The fast profile preset overrides the budgets after the file is read.
	if cfg.Planner.MaxURLsPerProduct != 10 || cfg.Orchestrator.MaxRunSeconds != 300 {
		t.Fatalf("fast profile not applied: %+v", cfg.Planner)
	}
	if cfg.Aggressive.Enabled {
		t.Fatal("fast profile should disable the aggressive pass")
	}
}

func TestApplyProfile_Thorough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyProfile("thorough")
	if cfg.Planner.MaxURLsPerProduct != 48 || !cfg.Aggressive.Enabled {
		t.Fatalf("thorough profile = %+v", cfg.Planner)
	}
	cfg.ApplyProfile("bogus")
	if cfg.RunProfile != "standard" {
		t.Fatalf("unknown profile became %q", cfg.RunProfile)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SPECFACTORY_OUTPUT_MODE", "dual")
	t.Setenv("SPECFACTORY_S3_BUCKET", "spec-bucket")
	t.Setenv("SPECFACTORY_CONCURRENCY", "4")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.OutputMode != "dual" || cfg.S3.Bucket != "spec-bucket" {
		t.Fatalf("s3 overrides = %q %q", cfg.OutputMode, cfg.S3.Bucket)
	}
	if cfg.Orchestrator.Concurrency != 4 {
		t.Fatalf("concurrency = %d", cfg.Orchestrator.Concurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Enabled = false

	cfg.OutputMode = "tape"
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid outputMode accepted")
	}
	cfg.OutputMode = "s3"
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("s3 mode without bucket accepted")
	}
	cfg.OutputMode = "local"
	cfg.LLM.Enabled = true
	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("llm without key accepted")
	}
}
