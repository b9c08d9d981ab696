package store

import (
	"context"
	"fmt"
)

// Statistics returns run totals grouped by status plus average latency and
// average RPS across completed runs, optionally scoped to a project or
// endpoint.
func (s *Store) Statistics(ctx context.Context, projectID, endpointID *int64) (RunStatistics, error) {
	query := `SELECT status, COUNT(*), COALESCE(SUM(total), 0) FROM runs WHERE 1=1`
	var args []any
	if endpointID != nil {
		query += ` AND endpoint_id = ?`
		args = append(args, *endpointID)
	}
	if projectID != nil {
		query += ` AND endpoint_id IN (SELECT id FROM endpoints WHERE project_id = ?)`
		args = append(args, *projectID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return RunStatistics{}, fmt.Errorf("store: statistics: %w", err)
	}
	defer rows.Close()

	result := RunStatistics{ByStatus: make(map[RunStatus]int64)}
	for rows.Next() {
		var status string
		var count, totalRequests int64
		if err := rows.Scan(&status, &count, &totalRequests); err != nil {
			return RunStatistics{}, fmt.Errorf("store: scan statistics: %w", err)
		}
		result.ByStatus[RunStatus(status)] = count
		result.TotalRequests += totalRequests
	}
	if err := rows.Err(); err != nil {
		return RunStatistics{}, err
	}

	avgQuery := `SELECT COALESCE(AVG(avg_ms), 0), COALESCE(AVG(peak_rps), 0) FROM runs WHERE status = 'Completed'`
	avgArgs := []any{}
	if endpointID != nil {
		avgQuery += ` AND endpoint_id = ?`
		avgArgs = append(avgArgs, *endpointID)
	}
	if projectID != nil {
		avgQuery += ` AND endpoint_id IN (SELECT id FROM endpoints WHERE project_id = ?)`
		avgArgs = append(avgArgs, *projectID)
	}

	if err := s.db.QueryRowContext(ctx, avgQuery, avgArgs...).Scan(&result.AvgLatencyMs, &result.AvgRPS); err != nil {
		return RunStatistics{}, fmt.Errorf("store: statistics averages: %w", err)
	}

	return result, nil
}
