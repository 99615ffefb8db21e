package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveInstruction inserts a behavioral instruction. New instructions are
// active unless created otherwise.
func (s *Store) SaveInstruction(ctx context.Context, i Instruction) error {
	createdAt := i.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	active := 0
	if i.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_instructions (id, user_id, project_id, source_chat_id, instruction, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.UserID, i.ProjectID, i.SourceChatID, i.Instruction, active, createdAt.Format(time.RFC3339),
	)
	return err
}

// ActiveInstructions returns active instructions that apply to the given
// project: global ones (empty project_id) plus project-scoped ones, oldest
// first so earlier guidance comes before later refinements.
func (s *Store) ActiveInstructions(ctx context.Context, projectID string) ([]Instruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, source_chat_id, instruction, active, created_at
		FROM agent_instructions
		WHERE active = 1 AND (project_id = '' OR project_id = ?)
		ORDER BY created_at ASC`, projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstructions(rows)
}

// ListInstructions returns every instruction regardless of active state.
func (s *Store) ListInstructions(ctx context.Context) ([]Instruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, source_chat_id, instruction, active, created_at
		FROM agent_instructions ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstructions(rows)
}

func scanInstructions(rows *sql.Rows) ([]Instruction, error) {
	var results []Instruction
	for rows.Next() {
		var i Instruction
		var active int
		var createdAt string
		if err := rows.Scan(&i.ID, &i.UserID, &i.ProjectID, &i.SourceChatID, &i.Instruction, &active, &createdAt); err != nil {
			return nil, err
		}
		i.Active = active != 0
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		i.CreatedAt = t
		results = append(results, i)
	}
	return results, rows.Err()
}

// SetInstructionActive toggles an instruction on or off.
func (s *Store) SetInstructionActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agent_instructions SET active = ? WHERE id = ?`, v, id)
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

// DeleteInstruction removes an instruction.
func (s *Store) DeleteInstruction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_instructions WHERE id = ?`, id)
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
