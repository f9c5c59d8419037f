package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionData сохраненный результат групповой сессии.
type SessionData struct {
	CreatedAt time.Time       `json:"createdAt"`
	SessionID string          `json:"sessionId"`
	TaskID    string          `json:"taskId"`
	GroupID   string          `json:"groupId,omitempty"`
	Data      json.RawMessage `json:"sessionData"`
	Members   []SessionMember `json:"memberIds"`
}

// SessionMember пара [roleId, userId] участника сессии.
type SessionMember struct {
	UserID string
	RoleID int
}

// MarshalJSON кодирует участника как [roleId, userId]
func (m SessionMember) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.RoleID, m.UserID})
}

// UnmarshalJSON декодирует участника из [roleId, userId]
func (m *SessionMember) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("session member must be [roleId, userId], got %d items", len(pair))
	}
	if err := json.Unmarshal(pair[0], &m.RoleID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &m.UserID)
}

// Comment комментарий участника к полю сохраненной сессии.
type Comment struct {
	CreatedAt time.Time `json:"timeStamp"`
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	FieldID   string    `json:"fieldId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Nickname  string    `json:"nickname,omitempty"`
}

// CollabSession сессия совместного документа.
type CollabSession struct {
	CreatedAt   time.Time `json:"createdAt"`
	ResetAt     time.Time `json:"resetAt"`
	SessionID   string    `json:"sessionId"`
	DocumentURL string    `json:"documentUrl"`
}
