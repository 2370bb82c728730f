package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/config"
	"github.com/freedive-ai/coach/pkg/telemetry"
)

var version = "dev"

var configPath string

func main() {
	telemetry.Version = version

	root := &cobra.Command{
		Use:           "coach",
		Short:         "Freediving coach API with resilient model calls and monitoring",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "coach.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newUsageCmd(),
		newCostCmd(),
		newErrorsCmd(),
		newCacheCmd(),
		newBudgetCmd(),
		newBreakersCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and configures the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Log, os.Stderr)
	return cfg, nil
}
