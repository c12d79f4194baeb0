package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autoact/autoact"
)

var configPath string

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autoact",
		Short: "AutoAct - action orchestration engine",
		Long: `AutoAct orchestrates proposed automated actions: an append-only
decision ledger records who approved what, approved actions execute exactly
once through registered executors, and multi-step playbooks advance through
a durable job queue with retries and dead-lettering.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newJobsCommand())

	return rootCmd
}

// loadConfig reads the YAML config file, falling back to defaults when no
// path is given.
func loadConfig() (*autoact.Config, error) {
	config := autoact.DefaultConfig()
	if configPath == "" {
		return config, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
