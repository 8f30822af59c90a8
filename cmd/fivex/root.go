package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fivexhq/fivex/internal/config"
)

var (
	dryRun  bool
	verbose bool
	output  string
	cfgFile string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fivex",
	Short: "Automated author/review loop runner",
	Long: `fivex drives a plan phase by phase through an author agent, quality
gates, and a reviewer agent, persisting every transition so a run can be
killed and resumed.

Core commands:
  run           Execute a plan phase by phase
  plan-review   Iterate a reviewer against the plan document itself
  status        Show the active run, if any, for a plan
  plan          Inspect a plan's parsed phases
  worktree      Manage isolated git worktrees for a run
  init          Set up .5x/ in the current repository`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			os.Setenv("FIVEX_CONFIG", cfgFile) //nolint:errcheck
		}
		loaded, err := config.Load(flagOverrides())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func flagOverrides() *config.Config {
	o := &config.Config{}
	if output != "" {
		o.Output = output
	}
	o.Verbose = verbose
	return o
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .fivex/config.yaml)")
}

func effectiveOutput() string {
	if output != "" {
		return output
	}
	if cfg != nil && cfg.Output != "" {
		return cfg.Output
	}
	return "table"
}
