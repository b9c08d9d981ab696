package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateEndpoint inserts a new Endpoint and refreshes its project's updatedAt.
func (s *Store) CreateEndpoint(ctx context.Context, projectID int64, dto EndpointDTO) (Endpoint, error) {
	headersJSON, err := marshalHeaders(dto.Headers)
	if err != nil {
		return Endpoint{}, err
	}
	authJSON, err := marshalAuth(dto.Auth)
	if err != nil {
		return Endpoint{}, err
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("store: create endpoint: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO endpoints (project_id, name, description, url, method, default_users,
			default_requests, default_duration_seconds, content_type, body, insecure_tls,
			requires_auth, headers_json, auth_spec_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, dto.Name, nullString(dto.Description), dto.URL, dto.Method, dto.DefaultUsers,
		nullInt64(dto.DefaultRequests), nullInt64(dto.DefaultDurationSeconds), nullString(dto.ContentType),
		nullBytes(dto.Body), dto.InsecureTLS, dto.RequiresAuth, headersJSON, authJSON,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return Endpoint{}, fmt.Errorf("store: create endpoint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Endpoint{}, fmt.Errorf("store: create endpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, formatTime(now), projectID); err != nil {
		return Endpoint{}, fmt.Errorf("store: touch project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Endpoint{}, fmt.Errorf("store: create endpoint: %w", err)
	}

	return Endpoint{
		ID: id, ProjectID: projectID, Name: dto.Name, Description: dto.Description, URL: dto.URL,
		Method: dto.Method, DefaultUsers: dto.DefaultUsers, DefaultRequests: dto.DefaultRequests,
		DefaultDurationSeconds: dto.DefaultDurationSeconds, ContentType: dto.ContentType, Body: dto.Body,
		InsecureTLS: dto.InsecureTLS, RequiresAuth: dto.RequiresAuth, Headers: dto.Headers, Auth: dto.Auth,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// ListEndpointsByProject returns a project's endpoints ordered by name.
func (s *Store) ListEndpointsByProject(ctx context.Context, projectID int64) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, endpointSelect+` WHERE project_id = ? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEndpoint returns the endpoint with id, or ok=false if none exists.
func (s *Store) GetEndpoint(ctx context.Context, id int64) (Endpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, endpointSelect+` WHERE id = ?`, id)
	e, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return Endpoint{}, false, nil
	}
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("store: get endpoint: %w", err)
	}
	return e, true, nil
}

// UpdateEndpoint applies dto's fields and refreshes the owning project's
// updatedAt.
func (s *Store) UpdateEndpoint(ctx context.Context, id int64, dto EndpointDTO) error {
	headersJSON, err := marshalHeaders(dto.Headers)
	if err != nil {
		return err
	}
	authJSON, err := marshalAuth(dto.Auth)
	if err != nil {
		return err
	}

	existing, ok, err := s.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("store: endpoint %d not found", id)
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update endpoint: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, description = ?, url = ?, method = ?, default_users = ?,
			default_requests = ?, default_duration_seconds = ?, content_type = ?, body = ?,
			insecure_tls = ?, requires_auth = ?, headers_json = ?, auth_spec_json = ?, updated_at = ?
		WHERE id = ?`,
		dto.Name, nullString(dto.Description), dto.URL, dto.Method, dto.DefaultUsers,
		nullInt64(dto.DefaultRequests), nullInt64(dto.DefaultDurationSeconds), nullString(dto.ContentType),
		nullBytes(dto.Body), dto.InsecureTLS, dto.RequiresAuth, headersJSON, authJSON, formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("store: update endpoint: %w", err)
	}
	if err := checkRowsAffected(res, "endpoint", id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, formatTime(now), existing.ProjectID); err != nil {
		return fmt.Errorf("store: touch project: %w", err)
	}

	return tx.Commit()
}

// DeleteEndpoint removes an endpoint. Runs referencing it keep their own
// captured data; their endpoint_id is cleared by ON DELETE SET NULL.
func (s *Store) DeleteEndpoint(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete endpoint: %w", err)
	}
	return nil
}

const endpointSelect = `SELECT id, project_id, name, description, url, method, default_users,
	default_requests, default_duration_seconds, content_type, body, insecure_tls, requires_auth,
	headers_json, auth_spec_json, created_at, updated_at FROM endpoints`

func scanEndpoint(row rowScanner) (Endpoint, error) {
	var e Endpoint
	var description, contentType, headersJSON, authJSON sql.NullString
	var body []byte
	var defaultRequests, defaultDuration sql.NullInt64
	var createdAt, updatedAt string

	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &description, &e.URL, &e.Method, &e.DefaultUsers,
		&defaultRequests, &defaultDuration, &contentType, &body, &e.InsecureTLS, &e.RequiresAuth,
		&headersJSON, &authJSON, &createdAt, &updatedAt); err != nil {
		return Endpoint{}, err
	}

	if description.Valid {
		e.Description = description.String
	}
	if contentType.Valid {
		e.ContentType = contentType.String
	}
	if defaultRequests.Valid {
		v := defaultRequests.Int64
		e.DefaultRequests = &v
	}
	if defaultDuration.Valid {
		v := defaultDuration.Int64
		e.DefaultDurationSeconds = &v
	}
	e.Body = body
	if headersJSON.Valid && headersJSON.String != "" {
		_ = json.Unmarshal([]byte(headersJSON.String), &e.Headers)
	}
	if authJSON.Valid && authJSON.String != "" {
		var auth AuthSpec
		if err := json.Unmarshal([]byte(authJSON.String), &auth); err == nil {
			e.Auth = &auth
		}
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

func marshalHeaders(h map[string]string) (any, error) {
	if len(h) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("store: marshal headers: %w", err)
	}
	return string(encoded), nil
}

func marshalAuth(a *AuthSpec) (any, error) {
	if a == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("store: marshal auth spec: %w", err)
	}
	return string(encoded), nil
}
