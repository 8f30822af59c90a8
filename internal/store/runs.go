package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fivexhq/fivex/internal/protocol"
)

// Run is a single execution of the phase loop or plan-review loop against
// a plan file.
type Run struct {
	ID           string
	PlanPath     string
	Command      string
	Status       protocol.RunStatus
	CurrentState string
	CurrentPhase string
	ReviewPath   string
	StartedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// CreateRun inserts a new run row (and its parent plan row, if absent) and
// returns the generated run ID. Wrapped in withRetry since it writes to
// both plans and runs.
func (s *Store) CreateRun(ctx context.Context, planPath, command, initialState string) (string, error) {
	id := uuid.NewString()
	now := nowString()

	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (plan_path, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (plan_path) DO UPDATE SET updated_at = excluded.updated_at`,
			planPath, now, now); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, plan_path, command, status, current_state, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, planPath, command, protocol.StatusRunning, initialState, now, now); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateRunState atomically advances a run's current_state and, if
// non-empty, its current_phase. This is the single write path the phase
// loop uses after each state transition, making resume a matter of
// re-reading this column.
func (s *Store) UpdateRunState(ctx context.Context, runID, state, phase string) error {
	return withRetry(ctx, func() error {
		var err error
		if phase == "" {
			_, err = s.db.ExecContext(ctx,
				`UPDATE runs SET current_state = ?, updated_at = ? WHERE id = ?`,
				state, nowString(), runID)
		} else {
			_, err = s.db.ExecContext(ctx,
				`UPDATE runs SET current_state = ?, current_phase = ?, updated_at = ? WHERE id = ?`,
				state, phase, nowString(), runID)
		}
		return err
	})
}

// FinishRun marks a run terminal (completed or aborted).
func (s *Store) FinishRun(ctx context.Context, runID string, status protocol.RunStatus) error {
	if err := protocol.ValidateRunStatus(status); err != nil {
		return err
	}
	now := nowString()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
			status, now, now, runID)
		return err
	})
}

// SetReviewPath records the review artifact path produced by a run, once
// known (plan-review loop writes this after generating its output).
func (s *Store) SetReviewPath(ctx context.Context, runID, reviewPath string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET review_path = ?, updated_at = ? WHERE id = ?`,
			reviewPath, nowString(), runID)
		return err
	})
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_path, command, status, current_state, current_phase, review_path,
		       started_at, updated_at, finished_at
		FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// GetActiveRun returns the most recently started non-terminal run for a
// given plan path and command, or ErrNoActiveRun if none exists. This is
// the lookup the CLI performs to decide whether `fivex run` is starting
// fresh or resuming.
func (s *Store) GetActiveRun(ctx context.Context, planPath, command string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_path, command, status, current_state, current_phase, review_path,
		       started_at, updated_at, finished_at
		FROM runs
		WHERE plan_path = ? AND command = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1`, planPath, command, protocol.StatusRunning)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveRun
	}
	return r, err
}

func scanRun(row *sql.Row) (*Run, error) {
	var (
		r                      Run
		currentPhase           sql.NullString
		reviewPath             sql.NullString
		startedAt, updatedAt   string
		finishedAt             sql.NullString
	)
	if err := row.Scan(&r.ID, &r.PlanPath, &r.Command, &r.Status, &r.CurrentState,
		&currentPhase, &reviewPath, &startedAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.CurrentPhase = currentPhase.String
	r.ReviewPath = reviewPath.String
	r.StartedAt = parseTimeOrZero(startedAt)
	r.UpdatedAt = parseTimeOrZero(updatedAt)
	if finishedAt.Valid {
		t := parseTimeOrZero(finishedAt.String)
		r.FinishedAt = &t
	}
	return &r, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
