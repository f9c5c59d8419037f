package api

import (
	"encoding/json"
	"time"

	"github.com/iudanet/gophcollab/internal/models"
)

// SessionDataRequest сохранение результата групповой сессии
type SessionDataRequest struct {
	TaskID      string                 `json:"taskId" validate:"required"`
	GroupID     string                 `json:"groupId,omitempty"`
	SessionData json.RawMessage        `json:"sessionData" validate:"required"`
	MemberIDs   []models.SessionMember `json:"memberIds" validate:"required,min=1"`
}

// SessionDataResponse идентификатор сохраненной сессии
type SessionDataResponse struct {
	SessionID string `json:"sessionId"`
}

// UserSessionsResponse сессии, в которых участвовал пользователь
type UserSessionsResponse struct {
	Sessions []models.SessionData `json:"sessions"`
}

// CommentRequest новый комментарий к полю сессии
type CommentRequest struct {
	TimeStamp time.Time `json:"timeStamp"`
	SessionID string    `json:"sessionId" validate:"required"`
	FieldID   string    `json:"fieldId" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	Text      string    `json:"text" validate:"required,max=4000"`
}

// CommentsResponse комментарии сессии
type CommentsResponse struct {
	Comments []models.Comment `json:"comments"`
}

// NicknamesResponse ники пользователей по userId
type NicknamesResponse struct {
	Nicknames map[string]string `json:"nicknames"`
}

// JoinSessionRequest запрос на подключение к совместному документу
type JoinSessionRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	UserID    string `json:"userId,omitempty"`
}

// JoinSessionResponse адрес документа и токен доступа к нему
type JoinSessionResponse struct {
	DocumentURL string `json:"documentUrl"`
	Token       string `json:"token"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// SoftResetRequest мягкий сброс документа сессии
type SoftResetRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// SoftResetResponse результат мягкого сброса
type SoftResetResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
