package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateProject inserts a new Project and returns it with its surrogate id.
func (s *Store) CreateProject(ctx context.Context, dto ProjectDTO) (Project, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, auth_spec_json, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)`,
		dto.Name, nullString(dto.Description), formatTime(now), formatTime(now),
	)
	if err != nil {
		return Project{}, fmt.Errorf("store: create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Project{}, fmt.Errorf("store: create project: %w", err)
	}
	return Project{ID: id, Name: dto.Name, Description: dto.Description, CreatedAt: now, UpdatedAt: now}, nil
}

// ListProjects returns every project ordered by most recent update.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, auth_spec_json, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject returns the project with id, or the zero Project and ok=false
// if none exists.
func (s *Store) GetProject(ctx context.Context, id int64) (Project, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, auth_spec_json, created_at, updated_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, fmt.Errorf("store: get project: %w", err)
	}
	return p, true, nil
}

// UpdateProject applies basic field changes and bumps updatedAt.
func (s *Store) UpdateProject(ctx context.Context, id int64, dto ProjectDTO) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		dto.Name, nullString(dto.Description), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("store: update project: %w", err)
	}
	return checkRowsAffected(res, "project", id)
}

// SetProjectAuth sets or replaces the project's default auth spec.
func (s *Store) SetProjectAuth(ctx context.Context, id int64, auth AuthSpec) error {
	encoded, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("store: marshal auth spec: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET auth_spec_json = ?, updated_at = ? WHERE id = ?`,
		string(encoded), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("store: set project auth: %w", err)
	}
	return checkRowsAffected(res, "project", id)
}

// ClearProjectAuth removes the project's default auth spec.
func (s *Store) ClearProjectAuth(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET auth_spec_json = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("store: clear project auth: %w", err)
	}
	return checkRowsAffected(res, "project", id)
}

// DeleteProject removes a project; its endpoints cascade via the foreign
// key, and any run referencing one of those endpoints has its link cleared
// by ON DELETE SET NULL.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var description, authJSON sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.Name, &description, &authJSON, &createdAt, &updatedAt); err != nil {
		return Project{}, err
	}
	if description.Valid {
		p.Description = description.String
	}
	if authJSON.Valid && authJSON.String != "" {
		var auth AuthSpec
		if err := json.Unmarshal([]byte(authJSON.String), &auth); err == nil {
			p.Auth = &auth
		}
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func checkRowsAffected(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %d not found", kind, id)
	}
	return nil
}
