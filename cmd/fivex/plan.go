package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fivexhq/fivex/internal/format"
	"github.com/fivexhq/fivex/internal/planfile"
)

var planCmd = &cobra.Command{
	Use:   "plan <plan.md>",
	Short: "Inspect a plan's parsed phases",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	planPath := args[0]

	content, err := os.ReadFile(planPath)
	if err != nil {
		return err
	}
	plan, err := planfile.Parse(planPath, string(content))
	if err != nil {
		return err
	}

	root, err := projectRoot()
	if err != nil {
		return err
	}
	var approved map[string]bool
	if s, err := openStore(root); err == nil {
		defer s.Close() //nolint:errcheck
		if phases, err := s.ApprovedPhases(cmd.Context(), planPath); err == nil {
			approved = make(map[string]bool, len(phases))
			for _, p := range phases {
				approved[p] = true
			}
		}
	}

	t := format.NewTable(cmd.OutOrStdout(), "PHASE", "TITLE", "CHECKLIST", "APPROVED")
	for _, phase := range plan.Phases {
		done := 0
		for _, item := range phase.Checklist {
			if item.Done {
				done++
			}
		}
		checklist := strconv.Itoa(done) + "/" + strconv.Itoa(len(phase.Checklist))
		t.AddRow(phase.Number, phase.Title, checklist, strconv.FormatBool(approved[phase.Number]))
	}
	return t.Render()
}
