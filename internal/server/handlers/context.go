package handlers

import "context"

// contextKey тип для ключей контекста
type contextKey string

const (
	// SessionIDKey ключ для хранения session_id из токена документа
	SessionIDKey contextKey = "session_id"
	// DocumentIDKey ключ для хранения document_id из токена документа
	DocumentIDKey contextKey = "document_id"
	// UserIDKey ключ для хранения user_id из токена документа
	UserIDKey contextKey = "user_id"
)

// WithDocument добавляет в контекст данные токена документа
func WithDocument(ctx context.Context, sessionID, documentID, userID string) context.Context {
	ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	ctx = context.WithValue(ctx, DocumentIDKey, documentID)
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetSessionID извлекает session_id из контекста запроса
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(SessionIDKey).(string)
	return id, ok
}

// GetDocumentID извлекает document_id из контекста запроса
func GetDocumentID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(DocumentIDKey).(string)
	return id, ok
}

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}
