package store

import (
	"context"
	"database/sql"
)

// PhaseProgress tracks a single plan phase's durable state across runs:
// whether implementation has completed, the most recent review outcome,
// and whether a human (or an automatic policy) has approved it to
// proceed. This table outlives any single run, since a plan's phases are
// worked across multiple `fivex run`/`fivex plan-review` invocations.
type PhaseProgress struct {
	PlanPath            string
	Phase               string
	ImplementationDone  bool
	ReviewOutcome       string
	Approved            bool
	Reason              string
}

// MarkPhaseImplementationDone records that a phase's EXECUTE step
// produced a commit, independent of its review status.
func (s *Store) MarkPhaseImplementationDone(ctx context.Context, planPath, phase string) error {
	return s.upsertPhaseProgress(ctx, planPath, phase, func(p *PhaseProgress) {
		p.ImplementationDone = true
	})
}

// SetPhaseReviewOutcome records the most recent reviewer readiness verdict
// for a phase, without changing its approval state.
func (s *Store) SetPhaseReviewOutcome(ctx context.Context, planPath, phase, outcome string) error {
	return s.upsertPhaseProgress(ctx, planPath, phase, func(p *PhaseProgress) {
		p.ReviewOutcome = outcome
	})
}

// SetPhaseReviewApproved marks a phase approved (or force-approved) to
// advance the plan, recording why.
func (s *Store) SetPhaseReviewApproved(ctx context.Context, planPath, phase string, approved bool, reason string) error {
	return s.upsertPhaseProgress(ctx, planPath, phase, func(p *PhaseProgress) {
		p.Approved = approved
		p.Reason = reason
	})
}

func (s *Store) upsertPhaseProgress(ctx context.Context, planPath, phase string, mutate func(*PhaseProgress)) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		p, err := getPhaseProgressTx(ctx, tx, planPath, phase)
		if err != nil {
			return err
		}
		mutate(p)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO phase_progress (plan_path, phase, implementation_done, review_outcome, approved, reason, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (plan_path, phase) DO UPDATE SET
				implementation_done = excluded.implementation_done,
				review_outcome = excluded.review_outcome,
				approved = excluded.approved,
				reason = excluded.reason,
				updated_at = excluded.updated_at`,
			planPath, phase, boolToInt(p.ImplementationDone), nullableStr(p.ReviewOutcome),
			boolToInt(p.Approved), nullableStr(p.Reason), nowString()); err != nil {
			return err
		}

		return tx.Commit()
	})
}

func getPhaseProgressTx(ctx context.Context, tx *sql.Tx, planPath, phase string) (*PhaseProgress, error) {
	p := &PhaseProgress{PlanPath: planPath, Phase: phase}
	var (
		implDone, approved int
		reviewOutcome, reason sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT implementation_done, review_outcome, approved, reason
		FROM phase_progress WHERE plan_path = ? AND phase = ?`, planPath, phase).
		Scan(&implDone, &reviewOutcome, &approved, &reason)
	switch {
	case err == sql.ErrNoRows:
		return p, nil
	case err != nil:
		return nil, err
	}
	p.ImplementationDone = implDone != 0
	p.ReviewOutcome = reviewOutcome.String
	p.Approved = approved != 0
	p.Reason = reason.String
	return p, nil
}

// GetPhaseProgress loads a single phase's durable progress record.
func (s *Store) GetPhaseProgress(ctx context.Context, planPath, phase string) (*PhaseProgress, error) {
	var p *PhaseProgress
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck
		p, err = getPhaseProgressTx(ctx, tx, planPath, phase)
		return err
	})
	return p, err
}

// ApprovedPhases returns the set of phase identifiers approved so far for
// a plan, in no particular order — the orchestrator uses this to decide
// which phases remain before a run can declare the plan complete.
func (s *Store) ApprovedPhases(ctx context.Context, planPath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase FROM phase_progress WHERE plan_path = ? AND approved = 1`, planPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []string
	for rows.Next() {
		var phase string
		if err := rows.Scan(&phase); err != nil {
			return nil, err
		}
		phases = append(phases, phase)
	}
	return phases, rows.Err()
}
