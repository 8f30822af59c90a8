// Package quality runs the configured quality-gate commands (lint, test,
// build, ...) for a phase and reports pass/fail with captured output.
package quality

import "context"

// Gate is one configured command, e.g. {Name: "test", Command: "go test ./..."}.
type Gate struct {
	Name    string
	Command string
}

// Result is the outcome of running a single gate.
type Result struct {
	Name     string
	Passed   bool
	Output   string
	ExitCode int
}

// Runner executes a set of quality gates against a working directory.
type Runner interface {
	Run(ctx context.Context, workdir string, gates []Gate) ([]Result, error)
}

// AllPassed reports whether every result in results passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FailureSummary joins the output of failing gates for prompt/escalation
// use, in gate order.
func FailureSummary(results []Result) string {
	var out string
	for _, r := range results {
		if r.Passed {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += r.Name + ":\n" + r.Output
	}
	return out
}
