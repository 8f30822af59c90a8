package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QualityResult is a single quality-gate run (lint/test/build, etc.)
// against a phase, keyed uniquely per (run, phase, attempt).
type QualityResult struct {
	ID         string
	RunID      string
	Phase      string
	Attempt    int
	Passed     bool
	Results    string
	DurationMS int64
}

// UpsertQualityResult records a quality gate attempt. Like agent results,
// a replay of the same attempt is idempotent: the first recorded outcome
// wins.
func (s *Store) UpsertQualityResult(ctx context.Context, r QualityResult) (*QualityResult, error) {
	existing, err := s.GetQualityResult(ctx, r.RunID, r.Phase, r.Attempt)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := nowString()

	err = withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO quality_results (id, run_id, phase, attempt, passed, results, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, phase, attempt) DO NOTHING`,
			r.ID, r.RunID, r.Phase, r.Attempt, boolToInt(r.Passed), r.Results, r.DurationMS, now)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("store: upsert quality result: %w", err)
	}
	return &r, nil
}

// GetQualityResult looks up a recorded quality gate attempt.
func (s *Store) GetQualityResult(ctx context.Context, runID, phase string, attempt int) (*QualityResult, error) {
	var r QualityResult
	var passed int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, phase, attempt, passed, results, duration_ms
		FROM quality_results WHERE run_id = ? AND phase = ? AND attempt = ?`,
		runID, phase, attempt).Scan(&r.ID, &r.RunID, &r.Phase, &r.Attempt, &passed, &r.Results, &r.DurationMS)
	if err != nil {
		return nil, err
	}
	r.Passed = passed != 0
	return &r, nil
}

// QualityAttemptCount returns how many quality attempts have been recorded
// for a phase. Attempts are numbered from 1, so the next attempt number is
// this count plus one.
func (s *Store) QualityAttemptCount(ctx context.Context, runID, phase string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM quality_results WHERE run_id = ? AND phase = ?`,
		runID, phase).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
