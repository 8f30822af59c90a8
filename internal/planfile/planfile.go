// Package planfile parses the Markdown plan documents that drive a
// fivex run: "## Phase N: Title" headings followed by checklist items.
// Checklist items are informational only — a plan's actual gating state
// lives in phase_progress, not in the Markdown.
package planfile

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// ChecklistItem is one "- [ ] ..." or "- [x] ..." line under a phase
// heading.
type ChecklistItem struct {
	Text string
	Done bool
}

// Phase is one "## Phase N: Title" section of a plan.
type Phase struct {
	Number    string
	Title     string
	Checklist []ChecklistItem
	Body      string
}

// Plan is a fully parsed plan document.
type Plan struct {
	Path   string
	Title  string
	Phases []Phase
}

var (
	phaseHeadingRe = regexp.MustCompile(`^##\s+Phase\s+(\S+):\s*(.+)$`)
	titleHeadingRe = regexp.MustCompile(`^#\s+(.+)$`)
	checklistRe    = regexp.MustCompile(`^-\s+\[([ xX])\]\s+(.+)$`)
)

// Parse reads a plan document's raw content and returns its parsed form.
// path is stored for error messages and is not read from.
func Parse(path string, content string) (*Plan, error) {
	plan := &Plan{Path: path}

	var current *Phase
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(body.String())
			plan.Phases = append(plan.Phases, *current)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()

		if m := phaseHeadingRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Phase{Number: m[1], Title: strings.TrimSpace(m[2])}
			continue
		}

		if plan.Title == "" {
			if m := titleHeadingRe.FindStringSubmatch(line); m != nil {
				plan.Title = strings.TrimSpace(m[1])
				continue
			}
		}

		if current != nil {
			if m := checklistRe.FindStringSubmatch(line); m != nil {
				current.Checklist = append(current.Checklist, ChecklistItem{
					Text: strings.TrimSpace(m[2]),
					Done: strings.EqualFold(m[1], "x"),
				})
				continue
			}
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("planfile: scan %s: %w", path, err)
	}

	if err := validatePhaseNumbering(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// PhaseNumbers returns the plan's phase identifiers in document order.
func (p *Plan) PhaseNumbers() []string {
	nums := make([]string, len(p.Phases))
	for i, ph := range p.Phases {
		nums[i] = ph.Number
	}
	return nums
}

// Phase returns the phase with the given number, or nil if absent.
func (p *Plan) Phase(number string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].Number == number {
			return &p.Phases[i]
		}
	}
	return nil
}

func validatePhaseNumbering(plan *Plan) error {
	seen := make(map[string]bool, len(plan.Phases))
	for _, ph := range plan.Phases {
		if ph.Number == "" {
			return fmt.Errorf("planfile: %s: phase with empty number", plan.Path)
		}
		if seen[ph.Number] {
			return fmt.Errorf("planfile: %s: duplicate phase number %q", plan.Path, ph.Number)
		}
		seen[ph.Number] = true
	}
	return nil
}
