package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/storage"
)

// GetOrCreateCollabSession возвращает сессию документа, создавая ее при первом обращении
func (s *Storage) GetOrCreateCollabSession(ctx context.Context, sessionID, documentURL string) (*models.CollabSession, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collab_sessions (session_id, document_url, created_at, reset_at)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(session_id) DO NOTHING
	`, sessionID, documentURL, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create collab session: %w", err)
	}
	return s.GetCollabSession(ctx, sessionID)
}

// GetCollabSession возвращает сессию документа по id
func (s *Storage) GetCollabSession(ctx context.Context, sessionID string) (*models.CollabSession, error) {
	cs := &models.CollabSession{}
	var createdAt, resetAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, document_url, created_at, reset_at
		FROM collab_sessions
		WHERE session_id = ?
	`, sessionID).Scan(&cs.SessionID, &cs.DocumentURL, &createdAt, &resetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get collab session: %w", err)
	}
	cs.CreatedAt = millisToTime(createdAt)
	cs.ResetAt = millisToTime(resetAt)
	return cs, nil
}

// ResetCollabSession отмечает время сброса сессии
func (s *Storage) ResetCollabSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collab_sessions SET reset_at = ? WHERE session_id = ?
	`, timeToMillis(at), sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset collab session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveEntry сохраняет запись документа по правилу LWW и назначает ей Seq
func (s *Storage) SaveEntry(ctx context.Context, documentID string, entry *models.ReplicatedEntry) (saved bool, err error) {
	if entry.Key == "" || entry.NodeID == "" {
		return false, storage.ErrInvalidEntry
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !saved {
			_ = tx.Rollback()
		}
	}()

	existing := &models.ReplicatedEntry{}
	err = tx.QueryRowContext(ctx, `
		SELECT timestamp, node_id
		FROM document_entries
		WHERE document_id = ? AND key = ?
	`, documentID, entry.Key).Scan(&existing.Timestamp, &existing.NodeID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return false, fmt.Errorf("failed to check existing entry: %w", err)
	default:
		if !entry.IsNewerThan(existing) {
			return false, nil
		}
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_seq (document_id, seq) VALUES (?, 1)
		ON CONFLICT(document_id) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, documentID).Scan(&seq)
	if err != nil {
		return false, fmt.Errorf("failed to advance document seq: %w", err)
	}

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	value := string(entry.Value)
	if value == "" {
		value = "null"
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_entries (document_id, key, value, timestamp, node_id, seq, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, key) DO UPDATE SET
			value = excluded.value,
			timestamp = excluded.timestamp,
			node_id = excluded.node_id,
			seq = excluded.seq,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, documentID, entry.Key, value, entry.Timestamp, entry.NodeID, seq,
		boolToInt(entry.Deleted), timeToMillis(updatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to upsert entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit entry: %w", err)
	}

	entry.Seq = seq
	entry.UpdatedAt = updatedAt
	return true, nil
}

// EntriesSince возвращает записи с Seq больше since и текущий Seq документа
func (s *Storage) EntriesSince(ctx context.Context, documentID string, since int64) ([]*models.ReplicatedEntry, int64, error) {
	var current int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seq FROM document_seq WHERE document_id = ?
	`, documentID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("failed to get document seq: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, timestamp, node_id, seq, deleted, updated_at
		FROM document_entries
		WHERE document_id = ? AND seq > ?
		ORDER BY seq ASC
	`, documentID, since)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query entries since seq: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.ReplicatedEntry, 0)
	for rows.Next() {
		e := &models.ReplicatedEntry{}
		var value string
		var deleted int
		var updatedAt int64
		if err := rows.Scan(&e.Key, &value, &e.Timestamp, &e.NodeID, &e.Seq, &deleted, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Value = []byte(value)
		e.Deleted = deleted != 0
		e.UpdatedAt = millisToTime(updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, current, nil
}

// ClearDocument удаляет все записи документа. Seq документа сохраняется.
func (s *Storage) ClearDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_entries WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear document: %w", err)
	}
	return nil
}
