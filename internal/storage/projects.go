package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateProject inserts a project row.
func (s *Store) CreateProject(ctx context.Context, p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, system_prompt, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.SystemPrompt, createdAt.Format(time.RFC3339),
	)
	return err
}

// GetProject returns the project with the given ID, or ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, system_prompt, created_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.SystemPrompt, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

// FindProjectByName resolves a project name to its ID, matching
// case-insensitively. A miss returns "" with no error so callers can
// proceed without project scope.
func (s *Store) FindProjectByName(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM projects WHERE name = ? COLLATE NOCASE LIMIT 1`, name,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetProjectPrompt returns the project's system prompt, or "" when the
// project does not exist or has no prompt.
func (s *Store) GetProjectPrompt(ctx context.Context, id string) (string, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx,
		`SELECT system_prompt FROM projects WHERE id = ?`, id,
	).Scan(&prompt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return prompt, err
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, system_prompt, created_at
		FROM projects ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.SystemPrompt, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}
