package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fivexhq/fivex/internal/format"
	"github.com/fivexhq/fivex/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <plan.md>",
	Short: "Show the active run, if any, for a plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	planPath := args[0]

	root, err := projectRoot()
	if err != nil {
		return err
	}
	s, err := openStore(root)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	rows := make([][]string, 0, 2)
	for _, command := range []string{"run", "plan-review"} {
		run, err := s.GetActiveRun(cmd.Context(), planPath, command)
		if errors.Is(err, store.ErrNoActiveRun) {
			continue
		}
		if err != nil {
			return err
		}
		rows = append(rows, []string{run.ID, run.Command, string(run.Status), run.CurrentState, run.CurrentPhase})
	}

	t := format.NewTable(cmd.OutOrStdout(), "RUN ID", "COMMAND", "STATUS", "STATE", "PHASE")
	if len(rows) == 0 {
		t.AddRow("-", "-", "no active run", "-", "-")
		return t.Render()
	}
	for _, r := range rows {
		t.AddRow(r...)
	}
	return t.Render()
}
