package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/storage"
)

// SaveSessionData сохраняет результат сессии вместе с участниками
func (s *Storage) SaveSessionData(ctx context.Context, data *models.SessionData) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_data (session_id, task_id, group_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, data.SessionID, data.TaskID, data.GroupID, string(data.Data), timeToMillis(data.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", data.SessionID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert session data: %w", err)
	}

	for i, m := range data.Members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_members (session_id, user_id, role_id, position)
			VALUES (?, ?, ?, ?)
		`, data.SessionID, m.UserID, m.RoleID, i)
		if err != nil {
			return fmt.Errorf("failed to insert session member: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session data: %w", err)
	}
	return nil
}

// GetSessionData возвращает результат сессии по id
func (s *Storage) GetSessionData(ctx context.Context, sessionID string) (*models.SessionData, error) {
	data := &models.SessionData{}
	var raw string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, task_id, group_id, data, created_at
		FROM session_data
		WHERE session_id = ?
	`, sessionID).Scan(&data.SessionID, &data.TaskID, &data.GroupID, &raw, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}
	data.Data = []byte(raw)
	data.CreatedAt = millisToTime(createdAt)

	members, err := s.sessionMembers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data.Members = members
	return data, nil
}

// GetUserSessions возвращает сессии, в которых участвовал пользователь
func (s *Storage) GetUserSessions(ctx context.Context, userID string) ([]*models.SessionData, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.session_id
		FROM session_data d
		JOIN session_members m ON m.session_id = d.session_id
		WHERE m.user_id = ?
		ORDER BY d.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user sessions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	// Закрываем до следующих запросов: соединение одно
	rows.Close()

	sessions := make([]*models.SessionData, 0, len(ids))
	for _, id := range ids {
		data, err := s.GetSessionData(ctx, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, data)
	}
	return sessions, nil
}

func (s *Storage) sessionMembers(ctx context.Context, sessionID string) ([]models.SessionMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role_id
		FROM session_members
		WHERE session_id = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session members: %w", err)
	}
	defer rows.Close()

	members := make([]models.SessionMember, 0)
	for rows.Next() {
		var m models.SessionMember
		if err := rows.Scan(&m.UserID, &m.RoleID); err != nil {
			return nil, fmt.Errorf("failed to scan session member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return members, nil
}

// SaveComment сохраняет комментарий
func (s *Storage) SaveComment(ctx context.Context, c *models.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, session_id, field_id, user_id, nickname, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.SessionID, c.FieldID, c.UserID, c.Nickname, c.Text, timeToMillis(c.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("comment %s: %w", c.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// GetComments возвращает комментарии сессии по времени создания
func (s *Storage) GetComments(ctx context.Context, sessionID string) ([]*models.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, field_id, user_id, nickname, text, created_at
		FROM comments
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	comments := make([]*models.Comment, 0)
	for rows.Next() {
		c := &models.Comment{}
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FieldID, &c.UserID, &c.Nickname, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = millisToTime(createdAt)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return comments, nil
}

// isUniqueViolation проверяет нарушение PRIMARY KEY / UNIQUE
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
