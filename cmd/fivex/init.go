package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up .5x/ in the current repository",
	Long: `Create the directories fivex needs and, if this is a git repository,
keep its run database and logs out of version control.

This creates:
  .5x/plans/    - plan Markdown files
  .5x/reviews/  - plan-review and per-phase review artifacts
  .5x/logs/     - per-invocation agent transcripts

Safe to run more than once.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	dirs := []string{
		cfg.BaseDir,
		cfg.Paths.PlansDir,
		cfg.Paths.ReviewsDir,
		filepath.Join(cfg.BaseDir, "logs"),
	}

	for _, dir := range dirs {
		target := filepath.Join(root, dir)
		if dryRun {
			if _, err := os.Stat(target); os.IsNotExist(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "[dry-run] would create %s\n", dir)
			}
			continue
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if isGitRepository(root) {
		if err := ensureGitignoreEntry(root, cfg.BaseDir); err != nil {
			return fmt.Errorf("update .gitignore: %w", err)
		}
	} else if verbose {
		fmt.Fprintln(cmd.OutOrStdout(), "not a git repository, skipping .gitignore setup")
	}

	if !dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "initialized fivex in %s\n", root)
	}
	return nil
}

func isGitRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// ensureGitignoreEntry appends the base dir to .gitignore, unless a
// matching line is already present.
func ensureGitignoreEntry(root, baseDir string) error {
	entry := baseDir + "/"
	path := filepath.Join(root, ".gitignore")

	if fileContainsLine(path, entry) {
		return nil
	}
	if dryRun {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		if _, err := f.WriteString("\n" + entry + "\n"); err != nil {
			return err
		}
		return nil
	}
	_, err = f.WriteString(entry + "\n")
	return err
}

func fileContainsLine(path, text string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == strings.TrimSpace(text) {
			return true
		}
	}
	return false
}
