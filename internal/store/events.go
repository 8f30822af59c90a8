package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fivexhq/fivex/internal/protocol"
)

// RunEvent is one entry in a run's append-only audit log. Sequence numbers
// are assigned monotonically per run, giving a total order independent of
// wall-clock timestamps (which can collide or skew across retries).
type RunEvent struct {
	RunID     string
	Seq       int64
	EventType protocol.EventType
	Phase     string
	Iteration *int
	Data      string
}

// AppendRunEvent appends an event to a run's log, assigning it the next
// sequence number. The insert is wrapped in a transaction so the
// seq-assignment read and the insert are atomic under WAL's single-writer
// model.
func (s *Store) AppendRunEvent(ctx context.Context, runID string, eventType protocol.EventType, phase string, iteration *int, data string) (int64, error) {
	if err := protocol.ValidateEventType(eventType); err != nil {
		return 0, err
	}

	var seq int64
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var max sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM run_events WHERE run_id = ?`, runID).Scan(&max); err != nil {
			return err
		}
		seq = max.Int64 + 1

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_events (run_id, seq, event_type, phase, iteration, data, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, seq, eventType, nullableStr(phase), nullableInt(iteration), nullableStr(data), nowString()); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("store: append run event: %w", err)
	}
	return seq, nil
}

// ListRunEvents returns a run's full event log in sequence order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, event_type, phase, iteration, data
		FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var (
			e         RunEvent
			phase     sql.NullString
			iteration sql.NullInt64
			data      sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &e.EventType, &phase, &iteration, &data); err != nil {
			return nil, err
		}
		e.Phase = phase.String
		e.Data = data.String
		if iteration.Valid {
			v := int(iteration.Int64)
			e.Iteration = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
