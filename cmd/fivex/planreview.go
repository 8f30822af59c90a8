package main

import (
	"github.com/spf13/cobra"

	"github.com/fivexhq/fivex/internal/orchestrator"
)

var (
	planReviewAuto    bool
	planReviewWorkdir string
)

var planReviewCmd = &cobra.Command{
	Use:   "plan-review <plan.md>",
	Short: "Iterate a reviewer against the plan document itself",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanReview,
}

func init() {
	planReviewCmd.Flags().BoolVar(&planReviewAuto, "auto", false, "run without interactive gates, escalating straight to abort")
	planReviewCmd.Flags().StringVar(&planReviewWorkdir, "workdir", "", "working directory the reviewer operates in (default: current directory)")
	rootCmd.AddCommand(planReviewCmd)
}

func runPlanReview(cmd *cobra.Command, args []string) error {
	planPath := args[0]

	root, err := projectRoot()
	if err != nil {
		return err
	}
	workdir := planReviewWorkdir
	if workdir == "" {
		workdir = root
	}

	s, err := openStore(root)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	deps := buildDeps(s)
	opts := buildOptions(root, workdir, planReviewAuto, true)
	loop := orchestrator.NewPlanReviewLoop(deps, buildConfig(), opts, planPath)

	summary, err := loop.Run(cmd.Context())
	if err != nil {
		return err
	}
	return renderSummary(cmd, summary)
}
