package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fivexhq/fivex/internal/agent"
	"github.com/fivexhq/fivex/internal/format"
	"github.com/fivexhq/fivex/internal/orchestrator"
	"github.com/fivexhq/fivex/internal/quality"
	"github.com/fivexhq/fivex/internal/store"
	"github.com/fivexhq/fivex/internal/worktree"
)

// dirtyTimeout bounds the `git diff-index` probe buildOptions wires as
// Options.DirtyCheck.
const dirtyTimeout = 10 * time.Second

// projectRoot returns the current working directory, where .5x/ lives.
func projectRoot() (string, error) {
	return os.Getwd()
}

// openStore opens the project's database under <root>/<cfg.BaseDir>/5x.db,
// creating the directory if absent.
func openStore(root string) (*store.Store, error) {
	dir := filepath.Join(root, cfg.BaseDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return store.Open(filepath.Join(dir, "5x.db"))
}

func buildConfig() orchestrator.Config {
	gates := make([]quality.Gate, len(cfg.Loop.QualityCommands))
	for i, c := range cfg.Loop.QualityCommands {
		gates[i] = quality.Gate{Name: fmt.Sprintf("gate-%d", i+1), Command: c}
	}
	return orchestrator.Config{
		MaxQualityRetries:   cfg.Loop.MaxQualityRetries,
		MaxReviewIterations: cfg.Loop.MaxReviewIterations,
		MaxAutoRetries:      cfg.Loop.MaxAutoRetries,
		QualityGates:        gates,
		AuthorModel:         cfg.Loop.AuthorModel,
		ReviewerModel:       cfg.Loop.ReviewerModel,
		AuthorTimeout:       time.Duration(cfg.Loop.AuthorTimeoutSeconds) * time.Second,
		ReviewerTimeout:     time.Duration(cfg.Loop.ReviewerTimeoutSeconds) * time.Second,
	}
}

func buildDeps(s *store.Store) orchestrator.Deps {
	return orchestrator.Deps{
		Store:   s,
		Adapter: &agent.ClaudeCLIAdapter{Command: cfg.Loop.RuntimeCommand},
		Quality: &quality.ShellQualityRunner{},
	}
}

func buildOptions(root, workdir string, auto, skipQuality bool) orchestrator.Options {
	return buildRunOptions(root, workdir, auto, skipQuality, "", false)
}

// buildRunOptions extends buildOptions with the `run`-only flags:
// startPhase skips pending phases before it, and allowDirty permits
// starting against an uncommitted worktree (checked via git diff-index
// against root, the same shell-out internal/worktree uses to detect an
// unclean repo mid-merge).
func buildRunOptions(root, workdir string, auto, skipQuality bool, startPhase string, allowDirty bool) orchestrator.Options {
	return orchestrator.Options{
		Auto:        auto,
		SkipQuality: skipQuality,
		StartPhase:  startPhase,
		AllowDirty:  allowDirty,
		Workdir:     workdir,
		ProjectRoot: root,
		Quiet:       !verbose,
		ReviewsDir:  filepath.Join(root, cfg.Paths.ReviewsDir),
		DirtyCheck: func() (bool, error) {
			return worktree.IsDirty(root, dirtyTimeout)
		},
	}
}

// renderSummary writes a loop's terminal Summary to cmd's stdout in the
// configured output format (table, json, or yaml).
func renderSummary(cmd *cobra.Command, summary orchestrator.Summary) error {
	w := cmd.OutOrStdout()
	switch effectiveOutput() {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	case "yaml":
		out, err := yaml.Marshal(summary)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		t := format.NewTable(w, "RUN ID", "STATE", "PHASES", "COMPLETE")
		t.AddRow(summary.RunID, string(summary.FinalState),
			strconv.Itoa(summary.PhasesComplete)+"/"+strconv.Itoa(summary.TotalPhases),
			strconv.FormatBool(summary.Complete))
		return t.Render()
	}
}
