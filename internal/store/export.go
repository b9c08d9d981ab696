package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const exportVersion = "1.0"

// Export serializes a project, its endpoints, and each endpoint's
// historical runs (full aggregates, no snapshots).
func (s *Store) Export(ctx context.Context, projectID int64) (ExportPayload, error) {
	project, ok, err := s.GetProject(ctx, projectID)
	if err != nil {
		return ExportPayload{}, err
	}
	if !ok {
		return ExportPayload{}, fmt.Errorf("store: export: project %d not found", projectID)
	}

	endpoints, err := s.ListEndpointsByProject(ctx, projectID)
	if err != nil {
		return ExportPayload{}, err
	}

	exported := ExportedProject{Name: project.Name, Description: project.Description, Auth: project.Auth}
	for _, ep := range endpoints {
		eid := ep.ID
		runs, err := s.Search(ctx, SearchFilter{EndpointID: &eid})
		if err != nil {
			return ExportPayload{}, err
		}

		exportedEndpoint := ExportedEndpoint{
			Name: ep.Name, Description: ep.Description, URL: ep.URL, Method: ep.Method,
			DefaultUsers: ep.DefaultUsers, DefaultRequests: ep.DefaultRequests,
			DefaultDurationSeconds: ep.DefaultDurationSeconds, ContentType: ep.ContentType,
			Body: ep.Body, InsecureTLS: ep.InsecureTLS, RequiresAuth: ep.RequiresAuth,
			Headers: ep.Headers, Auth: ep.Auth,
		}
		for _, r := range runs {
			exportedEndpoint.Executions = append(exportedEndpoint.Executions, ExportedRun{
				RunToken: r.RunToken, URL: r.URL, Method: r.Method, Users: r.Users,
				TargetRequests: r.TargetRequests, TargetDurationSeconds: r.TargetDurationSeconds,
				Status: r.Status, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt,
				Total: r.Total, Successful: r.Successful, Failed: r.Failed, ElapsedMs: r.ElapsedMs,
				PeakRPS: r.PeakRPS, Latency: r.Latency, StatusBreakdown: r.StatusBreakdown,
				ErrorMessage: r.ErrorMessage,
			})
		}
		exported.Endpoints = append(exported.Endpoints, exportedEndpoint)
	}

	return ExportPayload{Version: exportVersion, ExportedAt: time.Now(), Project: exported}, nil
}

// Import recreates a project, its endpoints, and their historical runs from
// an ExportPayload, atomically in a single transaction. The imported
// project's name has " (Imported)" appended; each imported run receives a
// freshly generated token prefixed "imported-".
func (s *Store) Import(ctx context.Context, payload ExportPayload) (Project, error) {
	if payload.Project.Name == "" {
		return Project{}, ErrImportInvalid
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, fmt.Errorf("store: import: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	importedName := payload.Project.Name + " (Imported)"

	authJSON, err := marshalAuth(payload.Project.Auth)
	if err != nil {
		return Project{}, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, description, auth_spec_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		importedName, nullString(payload.Project.Description), authJSON, formatTime(now), formatTime(now),
	)
	if err != nil {
		return Project{}, fmt.Errorf("store: import project: %w", err)
	}
	projectID, err := res.LastInsertId()
	if err != nil {
		return Project{}, fmt.Errorf("store: import project: %w", err)
	}

	for _, ep := range payload.Project.Endpoints {
		headersJSON, err := marshalHeaders(ep.Headers)
		if err != nil {
			return Project{}, err
		}
		epAuthJSON, err := marshalAuth(ep.Auth)
		if err != nil {
			return Project{}, err
		}

		epRes, err := tx.ExecContext(ctx,
			`INSERT INTO endpoints (project_id, name, description, url, method, default_users,
				default_requests, default_duration_seconds, content_type, body, insecure_tls,
				requires_auth, headers_json, auth_spec_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			projectID, ep.Name, nullString(ep.Description), ep.URL, ep.Method, ep.DefaultUsers,
			nullInt64(ep.DefaultRequests), nullInt64(ep.DefaultDurationSeconds), nullString(ep.ContentType),
			nullBytes(ep.Body), ep.InsecureTLS, ep.RequiresAuth, headersJSON, epAuthJSON,
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return Project{}, fmt.Errorf("store: import endpoint: %w", err)
		}
		endpointID, err := epRes.LastInsertId()
		if err != nil {
			return Project{}, fmt.Errorf("store: import endpoint: %w", err)
		}

		for _, run := range ep.Executions {
			breakdownJSON, err := jsonMarshalOrEmpty(run.StatusBreakdown)
			if err != nil {
				return Project{}, err
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO runs (run_token, endpoint_id, url, method, users, target_requests,
					target_duration_seconds, status, started_at, completed_at, total, successful, failed,
					elapsed_ms, peak_rps, avg_ms, min_ms, max_ms, p50_ms, p75_ms, p90_ms, p95_ms, p99_ms,
					status_breakdown_json, error_message)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				"imported-"+uuid.NewString(), endpointID, run.URL, run.Method, run.Users,
				nullInt64(run.TargetRequests), nullInt64(run.TargetDurationSeconds), string(run.Status),
				formatTime(run.StartedAt), formatTimePtr(run.CompletedAt), run.Total, run.Successful, run.Failed,
				run.ElapsedMs, run.PeakRPS, run.Latency.Avg, run.Latency.Min, run.Latency.Max,
				run.Latency.P50, run.Latency.P75, run.Latency.P90, run.Latency.P95, run.Latency.P99,
				breakdownJSON, nullString(run.ErrorMessage),
			)
			if err != nil {
				return Project{}, fmt.Errorf("store: import run: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Project{}, fmt.Errorf("store: import: %w", err)
	}

	return Project{ID: projectID, Name: importedName, Description: payload.Project.Description, Auth: payload.Project.Auth, CreatedAt: now, UpdatedAt: now}, nil
}

func jsonMarshalOrEmpty(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
