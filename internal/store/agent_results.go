package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fivexhq/fivex/internal/protocol"
)

// AgentResult is a single agent invocation's persisted output, keyed
// uniquely by (run, phase, iteration, role, template, result type) so a
// replayed invocation after a crash is a no-op rather than a duplicate.
type AgentResult struct {
	ID         string
	RunID      string
	Phase      string
	Iteration  int
	Role       protocol.Role
	Template   string
	ResultType protocol.ResultType
	ResultJSON string
	DurationMS int64
	LogPath    string
	SessionID  string
	Model      string
	TokensIn   *int
	TokensOut  *int
	CostUSD    *float64
}

// UpsertAgentResult records an agent invocation's result. If a row already
// exists for the same composite key (crash-and-replay of the same step),
// the existing row's result is returned unchanged rather than overwritten
// — the orchestrator must treat this as "step already done" and move on.
func (s *Store) UpsertAgentResult(ctx context.Context, r AgentResult) (*AgentResult, error) {
	if err := protocol.ValidateRole(r.Role); err != nil {
		return nil, err
	}
	if err := protocol.ValidateResultType(r.ResultType); err != nil {
		return nil, err
	}

	existing, err := s.GetAgentResult(ctx, r.RunID, r.Phase, r.Iteration, r.Role, r.Template, r.ResultType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := nowString()

	err = withRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO agent_results (
				id, run_id, phase, iteration, role, template, result_type, result_json,
				duration_ms, log_path, session_id, model, tokens_in, tokens_out, cost_usd, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, phase, iteration, role, template, result_type) DO NOTHING`,
			r.ID, r.RunID, r.Phase, r.Iteration, r.Role, r.Template, r.ResultType, r.ResultJSON,
			r.DurationMS, nullableStr(r.LogPath), nullableStr(r.SessionID), nullableStr(r.Model),
			nullableInt(r.TokensIn), nullableInt(r.TokensOut), nullableFloat(r.CostUSD), now)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("store: upsert agent result: %w", err)
	}
	return &r, nil
}

// GetAgentResult looks up a previously stored result by its composite key.
func (s *Store) GetAgentResult(ctx context.Context, runID, phase string, iteration int, role protocol.Role, template string, resultType protocol.ResultType) (*AgentResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, phase, iteration, role, template, result_type, result_json,
		       duration_ms, log_path, session_id, model, tokens_in, tokens_out, cost_usd
		FROM agent_results
		WHERE run_id = ? AND phase = ? AND iteration = ? AND role = ? AND template = ? AND result_type = ?`,
		runID, phase, iteration, role, template, resultType)
	return scanAgentResult(row)
}

func scanAgentResult(row *sql.Row) (*AgentResult, error) {
	var (
		r                              AgentResult
		logPath, sessionID, model      sql.NullString
		tokensIn, tokensOut            sql.NullInt64
		costUSD                        sql.NullFloat64
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.Phase, &r.Iteration, &r.Role, &r.Template, &r.ResultType,
		&r.ResultJSON, &r.DurationMS, &logPath, &sessionID, &model, &tokensIn, &tokensOut, &costUSD); err != nil {
		return nil, err
	}
	r.LogPath = logPath.String
	r.SessionID = sessionID.String
	r.Model = model.String
	if tokensIn.Valid {
		v := int(tokensIn.Int64)
		r.TokensIn = &v
	}
	if tokensOut.Valid {
		v := int(tokensOut.Int64)
		r.TokensOut = &v
	}
	if costUSD.Valid {
		r.CostUSD = &costUSD.Float64
	}
	return &r, nil
}

// HasCompletedStep reports whether an agent result already exists for the
// given step, without decoding the payload. The orchestrator loops look
// up the stored result with GetAgentResult instead.
func (s *Store) HasCompletedStep(ctx context.Context, runID, phase string, iteration int, role protocol.Role, template string, resultType protocol.ResultType) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM agent_results
		WHERE run_id = ? AND phase = ? AND iteration = ? AND role = ? AND template = ? AND result_type = ?`,
		runID, phase, iteration, role, template, resultType).Scan(&n)
	return n > 0, err
}

// MaxIterationForPhase returns the highest iteration number recorded for
// a phase, or 0 if none. Resume uses this to pick up mid-retry-loop.
func (s *Store) MaxIterationForPhase(ctx context.Context, runID, phase string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(iteration) FROM agent_results WHERE run_id = ? AND phase = ?`,
		runID, phase).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// DecodeAuthorStatus unmarshals a stored status result's JSON payload.
func DecodeAuthorStatus(r *AgentResult) (protocol.AuthorStatus, error) {
	var s protocol.AuthorStatus
	if err := json.Unmarshal([]byte(r.ResultJSON), &s); err != nil {
		return s, fmt.Errorf("store: decode author status: %w", err)
	}
	return s, nil
}

// DecodeReviewerVerdict unmarshals a stored verdict result's JSON payload.
func DecodeReviewerVerdict(r *AgentResult) (protocol.ReviewerVerdict, error) {
	var v protocol.ReviewerVerdict
	if err := json.Unmarshal([]byte(r.ResultJSON), &v); err != nil {
		return v, fmt.Errorf("store: decode reviewer verdict: %w", err)
	}
	return v, nil
}

func nullableStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
