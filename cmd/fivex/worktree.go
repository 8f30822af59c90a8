package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fivexhq/fivex/internal/worktree"
)

const worktreeTimeout = 2 * time.Minute

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Manage isolated git worktrees for a run",
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a worktree attached to a fresh run branch",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeCreate,
}

var worktreeMergeCmd = &cobra.Command{
	Use:   "merge <worktree-path> <run-id>",
	Short: "Merge a run's worktree branch back into the repo's attached branch",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorktreeMerge,
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove <worktree-path> <run-id>",
	Short: "Remove a run's worktree and its branch",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorktreeRemove,
}

func init() {
	worktreeCmd.AddCommand(worktreeCreateCmd, worktreeMergeCmd, worktreeRemoveCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func verbosef(cmd *cobra.Command) func(string, ...any) {
	return func(format string, args ...any) {
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
		}
	}
}

func runWorktreeCreate(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	path, runID, err := worktree.Create(root, worktreeTimeout, verbosef(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", runID, path)
	return nil
}

func runWorktreeMerge(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	return worktree.Merge(root, args[0], args[1], worktreeTimeout, verbosef(cmd))
}

func runWorktreeRemove(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	return worktree.Remove(root, args[0], args[1], worktreeTimeout)
}
