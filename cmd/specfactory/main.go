package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"specfactory/internal/config"
	"specfactory/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "specfactory",
	Short: "specfactory - product spec extraction pipeline",
	Long: `specfactory extracts structured product specifications from the open web.

Products are planned from identity-locked job files, fetched through tiered
source queues, extracted via a deterministic parse / component inference / LLM
cascade, and published as normalized records with per-field provenance and
traffic lights.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workspace != "" {
			cfg.Workspace = workspace
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the config file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace root (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(productAddCmd)
	rootCmd.AddCommand(productListCmd)
	rootCmd.AddCommand(productUpdateCmd)
	rootCmd.AddCommand(productRemoveCmd)
	rootCmd.AddCommand(productReconcileCmd)
	rootCmd.AddCommand(brandCmd)
	rootCmd.AddCommand(testModeCmd)
}

func defaultConfigPath() string {
	if env := os.Getenv("SPECFACTORY_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(".", "specfactory.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
