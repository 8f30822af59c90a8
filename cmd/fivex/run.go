package main

import (
	"github.com/spf13/cobra"

	"github.com/fivexhq/fivex/internal/orchestrator"
)

var (
	runAuto        bool
	runSkipQuality bool
	runWorkdir     string
	runStartPhase  string
	runAllowDirty  bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.md>",
	Short: "Execute a plan phase by phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runAuto, "auto", false, "run without interactive gates, escalating straight to abort")
	runCmd.Flags().BoolVar(&runSkipQuality, "skip-quality", false, "skip quality gates for this invocation")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "working directory the author/reviewer operate in (default: current directory)")
	runCmd.Flags().StringVar(&runStartPhase, "start-phase", "", "skip pending phases before this one")
	runCmd.Flags().BoolVar(&runAllowDirty, "allow-dirty", false, "permit starting against a worktree with uncommitted changes")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	planPath := args[0]

	root, err := projectRoot()
	if err != nil {
		return err
	}
	workdir := runWorkdir
	if workdir == "" {
		workdir = root
	}

	s, err := openStore(root)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	deps := buildDeps(s)
	opts := buildRunOptions(root, workdir, runAuto, runSkipQuality, runStartPhase, runAllowDirty)
	loop := orchestrator.NewPhaseLoop(deps, buildConfig(), opts, planPath)

	summary, err := loop.Run(cmd.Context())
	if err != nil {
		return err
	}
	return renderSummary(cmd, summary)
}
