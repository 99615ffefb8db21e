package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument inserts a document row.
func (s *Store) SaveDocument(ctx context.Context, d Document) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, file_path, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Name, d.FilePath, d.Content, createdAt.Format(time.RFC3339),
	)
	return err
}

// GetDocument returns the document with the given ID, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, file_path, content, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Name, &d.FilePath, &d.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// ListDocuments returns a project's documents, newest first. Content is
// included; use ListDocumentNames when only the manifest is needed.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, file_path, content, created_at
		FROM documents WHERE project_id = ? ORDER BY created_at DESC`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.FilePath, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// ListDocumentNames returns the file names of a project's documents in
// upload order. This feeds the prompt's file manifest.
func (s *Store) ListDocumentNames(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM documents WHERE project_id = ? ORDER BY created_at ASC`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FindDocumentByName looks up a project document by file name,
// case-insensitively. Returns ErrNotFound on a miss.
func (s *Store) FindDocumentByName(ctx context.Context, projectID, name string) (Document, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE project_id = ? AND name = ? COLLATE NOCASE LIMIT 1`,
		projectID, name,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, id)
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
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

// ListDocumentsWithoutChunks returns documents that have no chunk rows.
// Used by the backfill pass to find uploads whose embedding never ran.
func (s *Store) ListDocumentsWithoutChunks(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.project_id, d.name, d.file_path, d.content, d.created_at
		FROM documents d
		WHERE NOT EXISTS (SELECT 1 FROM document_chunks c WHERE c.document_id = d.id)
		ORDER BY d.created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.FilePath, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}
