package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveMemory inserts a project memory. Importance outside 1-10 is clamped.
func (s *Store) SaveMemory(ctx context.Context, m Memory) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	importance := m.Importance
	if importance < 1 {
		importance = 1
	}
	if importance > 10 {
		importance = 10
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memories (id, project_id, memory_type, content, sentiment, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.MemoryType, m.Content, m.Sentiment, importance, createdAt.Format(time.RFC3339),
	)
	return err
}

// TopMemories returns a project's highest-importance memories, at most
// limit, importance descending with newer first on ties.
func (s *Store) TopMemories(ctx context.Context, projectID string, limit int) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, memory_type, content, sentiment, importance, created_at
		FROM project_memories WHERE project_id = ?
		ORDER BY importance DESC, created_at DESC LIMIT ?`, projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		var m Memory
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.MemoryType, &m.Content, &m.Sentiment, &m.Importance, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// GetMemory returns the memory with the given ID, or ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, id string) (Memory, error) {
	var m Memory
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, memory_type, content, sentiment, importance, created_at
		FROM project_memories WHERE id = ?`, id,
	).Scan(&m.ID, &m.ProjectID, &m.MemoryType, &m.Content, &m.Sentiment, &m.Importance, &createdAt)
	if err == sql.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Memory{}, fmt.Errorf("parsing created_at: %w", err)
	}
	m.CreatedAt = t
	return m, nil
}

// DeleteMemory removes a project memory.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
