package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendSnapshot looks up the run by token and inserts a snapshot row. If
// the run is not yet visible to this query (the engine can outrun the
// Store's initial INSERT), this is a no-op: the run is not failed over a
// missing snapshot. Other errors are logged before being returned.
func (s *Store) AppendSnapshot(ctx context.Context, runToken string, snap Snapshot) error {
	var runID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs WHERE run_token = ?`, runToken).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Error("append snapshot: resolve run failed", "run_token", runToken, "error", err)
		return fmt.Errorf("store: append snapshot: resolve run: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, ts, total, successful, failed, response_time_ms, status_code, avg_ms, current_rps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, formatTime(snap.Timestamp), snap.Total, snap.Successful, snap.Failed,
		snap.ResponseTimeMs, snap.StatusCode, snap.AverageResponseTime, snap.CurrentRPS,
	)
	if err != nil {
		s.log.Error("append snapshot failed", "run_token", runToken, "error", err)
		return fmt.Errorf("store: append snapshot: %w", err)
	}
	return nil
}

func (s *Store) listSnapshots(ctx context.Context, runID int64) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, ts, total, successful, failed, response_time_ms, status_code, avg_ms, current_rps
		FROM snapshots WHERE run_id = ? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var ts string
		if err := rows.Scan(&snap.ID, &snap.RunID, &ts, &snap.Total, &snap.Successful, &snap.Failed,
			&snap.ResponseTimeMs, &snap.StatusCode, &snap.AverageResponseTime, &snap.CurrentRPS); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		snap.Timestamp = parseTime(ts)
		out = append(out, snap)
	}
	return out, rows.Err()
}
