package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/httpdrill/internal/config"
	"github.com/bc-dunia/httpdrill/internal/stats"
)

// CreateForEndpoint captures endpoint's current configuration into a new
// Running run, generating a fresh run token. usersOverride, if non-nil,
// replaces the endpoint's default user count.
func (s *Store) CreateForEndpoint(ctx context.Context, endpoint Endpoint, usersOverride *int) (Run, error) {
	users := endpoint.DefaultUsers
	if usersOverride != nil {
		users = *usersOverride
	}

	requests, duration := endpoint.DefaultRequests, endpoint.DefaultDurationSeconds
	if requests == nil && duration == nil {
		defaultBudget := int64(config.DefaultRequestBudget)
		requests = &defaultBudget
	}

	run := Run{
		RunToken:              uuid.NewString(),
		EndpointID:            &endpoint.ID,
		URL:                   endpoint.URL,
		Method:                endpoint.Method,
		Users:                 users,
		TargetRequests:        requests,
		TargetDurationSeconds: duration,
		ContentType:           endpoint.ContentType,
		Body:                  endpoint.Body,
		Headers:               endpoint.Headers,
		InsecureTLS:           endpoint.InsecureTLS,
		Status:                RunRunning,
		StartedAt:             time.Now(),
	}
	return s.insertRun(ctx, run)
}

// CreateAdHoc creates a Running run from an inline request.
func (s *Store) CreateAdHoc(ctx context.Context, req RunRequest) (Run, error) {
	requests, duration := req.Requests, req.DurationSeconds
	if requests == nil && duration == nil {
		defaultBudget := int64(config.DefaultRequestBudget)
		requests = &defaultBudget
	}

	run := Run{
		RunToken:              uuid.NewString(),
		URL:                   req.URL,
		Method:                req.Method,
		Users:                 req.Users,
		TargetRequests:        requests,
		TargetDurationSeconds: duration,
		ContentType:           req.ContentType,
		Body:                  req.Body,
		Headers:               req.Headers,
		InsecureTLS:           req.InsecureTLS,
		Status:                RunRunning,
		StartedAt:             time.Now(),
	}
	return s.insertRun(ctx, run)
}

func (s *Store) insertRun(ctx context.Context, run Run) (Run, error) {
	headersJSON, err := marshalHeaders(run.Headers)
	if err != nil {
		return Run{}, err
	}

	var endpointID any
	if run.EndpointID != nil {
		endpointID = *run.EndpointID
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_token, endpoint_id, url, method, users, target_requests,
			target_duration_seconds, content_type, body, headers_json, insecure_tls, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunToken, endpointID, run.URL, run.Method, run.Users,
		nullInt64(run.TargetRequests), nullInt64(run.TargetDurationSeconds), nullString(run.ContentType),
		nullBytes(run.Body), headersJSON, run.InsecureTLS, string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("store: create run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Run{}, fmt.Errorf("store: create run: %w", err)
	}
	run.ID = id
	return run, nil
}

const runSelect = `SELECT id, run_token, endpoint_id, url, method, users, target_requests,
	target_duration_seconds, content_type, body, headers_json, insecure_tls, status, started_at,
	completed_at, total, successful, failed, elapsed_ms, peak_rps, avg_ms, min_ms, max_ms,
	p50_ms, p75_ms, p90_ms, p95_ms, p99_ms, status_breakdown_json, error_message FROM runs`

// GetByToken returns the run with the given run token, or ok=false.
func (s *Store) GetByToken(ctx context.Context, token string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE run_token = ?`, token)
	return scanRunOK(row)
}

// GetByID returns the run with id, or ok=false. Endpoint/project are
// resolved separately by the caller via the endpoint link since a Run does
// not own a denormalized copy.
func (s *Store) GetByID(ctx context.Context, id int64) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id)
	return scanRunOK(row)
}

// GetWithSnapshots returns a run and its full, time-ordered snapshot timeline.
func (s *Store) GetWithSnapshots(ctx context.Context, id int64) (Run, []Snapshot, bool, error) {
	run, ok, err := s.GetByID(ctx, id)
	if err != nil || !ok {
		return Run{}, nil, ok, err
	}
	snaps, err := s.listSnapshots(ctx, run.ID)
	if err != nil {
		return Run{}, nil, false, err
	}
	return run, snaps, true, nil
}

// Complete applies the engine's final result and transitions the run to
// Completed.
func (s *Store) Complete(ctx context.Context, runID int64, result RunCompletion) error {
	breakdownJSON, err := json.Marshal(result.StatusBreakdown)
	if err != nil {
		return fmt.Errorf("store: marshal status breakdown: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, total = ?, successful = ?, failed = ?,
			elapsed_ms = ?, peak_rps = ?, avg_ms = ?, min_ms = ?, max_ms = ?,
			p50_ms = ?, p75_ms = ?, p90_ms = ?, p95_ms = ?, p99_ms = ?, status_breakdown_json = ?
		WHERE id = ?`,
		string(RunCompleted), formatTime(result.CompletedAt), result.Total, result.Successful, result.Failed,
		result.ElapsedMs, result.PeakRPS, result.Latency.Avg, result.Latency.Min, result.Latency.Max,
		result.Latency.P50, result.Latency.P75, result.Latency.P90, result.Latency.P95, result.Latency.P99,
		string(breakdownJSON), runID,
	)
	if err != nil {
		return fmt.Errorf("store: complete run: %w", err)
	}
	return checkRowsAffected(res, "run", runID)
}

// RunCompletion is the engine's output shape accepted by Complete.
type RunCompletion struct {
	CompletedAt     time.Time
	Total           int64
	Successful      int64
	Failed          int64
	ElapsedMs       int64
	PeakRPS         float64
	Latency         stats.Aggregate
	StatusBreakdown map[int]stats.Aggregate
}

// Fail transitions a run to Failed with an error message.
func (s *Store) Fail(ctx context.Context, runID int64, errMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`,
		string(RunFailed), formatTime(time.Now()), errMessage, runID,
	)
	if err != nil {
		return fmt.Errorf("store: fail run: %w", err)
	}
	return checkRowsAffected(res, "run", runID)
}

// Cancel transitions a run to Cancelled, recording whatever partial
// aggregate the engine produced up to the cancellation point.
func (s *Store) Cancel(ctx context.Context, runID int64, result RunCompletion) error {
	breakdownJSON, err := json.Marshal(result.StatusBreakdown)
	if err != nil {
		return fmt.Errorf("store: marshal status breakdown: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, total = ?, successful = ?, failed = ?,
			elapsed_ms = ?, peak_rps = ?, avg_ms = ?, min_ms = ?, max_ms = ?,
			p50_ms = ?, p75_ms = ?, p90_ms = ?, p95_ms = ?, p99_ms = ?, status_breakdown_json = ?
		WHERE id = ?`,
		string(RunCancelled), formatTime(result.CompletedAt), result.Total, result.Successful, result.Failed,
		result.ElapsedMs, result.PeakRPS, result.Latency.Avg, result.Latency.Min, result.Latency.Max,
		result.Latency.P50, result.Latency.P75, result.Latency.P90, result.Latency.P95, result.Latency.P99,
		string(breakdownJSON), runID,
	)
	if err != nil {
		return fmt.Errorf("store: cancel run: %w", err)
	}
	return checkRowsAffected(res, "run", runID)
}

// ListRecent returns the n most recently started runs.
func (s *Store) ListRecent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelect+` ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: list recent runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Search filters runs by endpoint, project, status, and time range, with
// pagination.
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]Run, error) {
	query := runSelect + ` WHERE 1=1`
	var args []any

	if filter.EndpointID != nil {
		query += ` AND endpoint_id = ?`
		args = append(args, *filter.EndpointID)
	}
	if filter.ProjectID != nil {
		query += ` AND endpoint_id IN (SELECT id FROM endpoints WHERE project_id = ?)`
		args = append(args, *filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.From != nil {
		query += ` AND started_at >= ?`
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		query += ` AND started_at <= ?`
		args = append(args, formatTime(*filter.To))
	}

	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// DeleteRun removes a run; its snapshots cascade.
func (s *Store) DeleteRun(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete run: %w", err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRunOK(row rowScanner) (Run, bool, error) {
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("store: scan run: %w", err)
	}
	return run, true, nil
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var endpointID, targetRequests, targetDuration sql.NullInt64
	var contentType, headersJSON, completedAt, breakdownJSON, errMessage sql.NullString
	var body []byte
	var statusStr, startedAt string

	if err := row.Scan(&run.ID, &run.RunToken, &endpointID, &run.URL, &run.Method, &run.Users,
		&targetRequests, &targetDuration, &contentType, &body, &headersJSON, &run.InsecureTLS,
		&statusStr, &startedAt, &completedAt, &run.Total, &run.Successful, &run.Failed,
		&run.ElapsedMs, &run.PeakRPS, &run.Latency.Avg, &run.Latency.Min, &run.Latency.Max,
		&run.Latency.P50, &run.Latency.P75, &run.Latency.P90, &run.Latency.P95, &run.Latency.P99,
		&breakdownJSON, &errMessage); err != nil {
		return Run{}, err
	}

	if endpointID.Valid {
		v := endpointID.Int64
		run.EndpointID = &v
	}
	if targetRequests.Valid {
		v := targetRequests.Int64
		run.TargetRequests = &v
	}
	if targetDuration.Valid {
		v := targetDuration.Int64
		run.TargetDurationSeconds = &v
	}
	if contentType.Valid {
		run.ContentType = contentType.String
	}
	run.Body = body
	if headersJSON.Valid && headersJSON.String != "" {
		_ = json.Unmarshal([]byte(headersJSON.String), &run.Headers)
	}
	run.Status = RunStatus(statusStr)
	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	run.Latency.Count = int(run.Total)
	if breakdownJSON.Valid && breakdownJSON.String != "" {
		_ = json.Unmarshal([]byte(breakdownJSON.String), &run.StatusBreakdown)
	}
	if errMessage.Valid {
		run.ErrorMessage = errMessage.String
	}
	return run, nil
}
