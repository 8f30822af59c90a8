package quality

import (
	"bytes"
	"context"
	"os/exec"
)

// ShellQualityRunner runs each gate's command through "sh -c", capturing
// combined stdout/stderr. Gates run in the order configured and a failure
// does not short-circuit the remaining gates, so escalation reports a
// complete picture in one pass.
type ShellQualityRunner struct {
	// Shell defaults to "sh" if unset.
	Shell string
}

func (r *ShellQualityRunner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	return "sh"
}

func (r *ShellQualityRunner) Run(ctx context.Context, workdir string, gates []Gate) ([]Result, error) {
	results := make([]Result, 0, len(gates))
	for _, g := range gates {
		results = append(results, r.runOne(ctx, workdir, g))
	}
	return results, nil
}

func (r *ShellQualityRunner) runOne(ctx context.Context, workdir string, g Gate) Result {
	cmd := exec.CommandContext(ctx, r.shell(), "-c", g.Command)
	cmd.Dir = workdir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return Result{
		Name:     g.Name,
		Passed:   err == nil,
		Output:   buf.String(),
		ExitCode: exitCode,
	}
}
