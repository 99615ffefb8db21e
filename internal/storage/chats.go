package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateChat inserts a chat row. CreatedAt defaults to now when zero.
func (s *Store) CreateChat(ctx context.Context, c Chat) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, project_id, title, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.ProjectID, c.Title, createdAt.Format(time.RFC3339),
	)
	return err
}

// GetChat returns the chat with the given ID, or ErrNotFound.
func (s *Store) GetChat(ctx context.Context, id string) (Chat, error) {
	var c Chat
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, title, created_at
		FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.ProjectID, &c.Title, &createdAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Chat{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// UpdateChatTitle replaces the chat's title.
func (s *Store) UpdateChatTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id)
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

// ListChats returns chats newest first. Empty projectID lists all projects.
func (s *Store) ListChats(ctx context.Context, projectID string, limit int) ([]Chat, error) {
	query := `SELECT id, user_id, project_id, title, created_at FROM chats`
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chat
	for rows.Next() {
		var c Chat
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.ProjectID, &c.Title, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteChat removes a chat; its messages cascade.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
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

// messageTimeFormat keeps a fixed-width fraction so the created_at TEXT
// column sorts chronologically; RFC3339Nano trims trailing zeros, which
// breaks lexicographic ordering for sub-second appends.
const messageTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// AppendMessage adds a message to a chat. The chat row must exist.
func (s *Store) AppendMessage(ctx context.Context, m ChatMessage) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	msgType := m.Type
	if msgType == "" {
		msgType = "message"
	}
	var metadata interface{}
	if len(m.Metadata) > 0 {
		metadata = string(m.Metadata)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, content, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Content, msgType, metadata, createdAt.Format(messageTimeFormat),
	)
	return err
}

// ListMessages returns a chat's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, type, metadata, created_at
		FROM chat_messages WHERE chat_id = ? ORDER BY created_at ASC`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Type, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			m.Metadata = []byte(metadata.String)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}
