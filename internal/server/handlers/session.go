package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/storage"
	"github.com/iudanet/gophcollab/pkg/api"
)

// NicknameResolver возвращает ник участника по userId
type NicknameResolver interface {
	Nickname(userID string) (string, bool)
}

// SessionHandler обрабатывает сохранение результатов сессий и комментарии к ним
type SessionHandler struct {
	logger    *slog.Logger
	sessions  storage.SessionStorage
	comments  storage.CommentStorage
	nicknames NicknameResolver
	now       func() time.Time
}

// NewSessionHandler создает новый handler сессий
func NewSessionHandler(logger *slog.Logger, sessions storage.SessionStorage, comments storage.CommentStorage, nicknames NicknameResolver) *SessionHandler {
	return &SessionHandler{
		logger:    logger,
		sessions:  sessions,
		comments:  comments,
		nicknames: nicknames,
		now:       time.Now,
	}
}

// SaveSessionData обрабатывает POST /api/v1/sessionData
func (h *SessionHandler) SaveSessionData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SessionDataRequest
	if err := decodeRequest(r, w, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid session data request", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	data := &models.SessionData{
		SessionID: uuid.NewString(),
		TaskID:    req.TaskID,
		GroupID:   req.GroupID,
		Data:      req.SessionData,
		Members:   req.MemberIDs,
		CreatedAt: h.now(),
	}
	if err := h.sessions.SaveSessionData(ctx, data); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			sendError(h.logger, w, "session already exists", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "failed to save session data", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "session data saved",
		slog.String("session_id", data.SessionID),
		slog.String("task_id", data.TaskID),
		slog.Int("members", len(data.Members)))

	sendJSON(h.logger, w, api.SessionDataResponse{SessionID: data.SessionID}, http.StatusCreated)
}

// GetSessionData обрабатывает GET /api/v1/sessionData/{id}
func (h *SessionHandler) GetSessionData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.PathValue("id")
	if sessionID == "" {
		sendError(h.logger, w, "session id is required", http.StatusBadRequest)
		return
	}

	data, err := h.sessions.GetSessionData(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			sendError(h.logger, w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get session data", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, data, http.StatusOK)
}

// GetUserSessions обрабатывает GET /api/v1/userSessionsData/{userId}
func (h *SessionHandler) GetUserSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.PathValue("userId")
	if userID == "" {
		sendError(h.logger, w, "user id is required", http.StatusBadRequest)
		return
	}

	sessions, err := h.sessions.GetUserSessions(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get user sessions", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.UserSessionsResponse{Sessions: make([]models.SessionData, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, *s)
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}

// GetComments обрабатывает GET /api/v1/comments/{sessionId}
func (h *SessionHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.PathValue("sessionId")
	comments, err := h.comments.GetComments(ctx, sessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get comments", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.CommentsResponse{Comments: make([]models.Comment, 0, len(comments))}
	for _, c := range comments {
		resp.Comments = append(resp.Comments, *c)
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}

// AddComment обрабатывает POST /api/v1/comments/
// Ник автора подставляется из данных формирования групп
func (h *SessionHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CommentRequest
	if err := decodeRequest(r, w, &req); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	createdAt := req.TimeStamp
	if createdAt.IsZero() {
		createdAt = h.now()
	}

	comment := &models.Comment{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		FieldID:   req.FieldID,
		UserID:    req.UserID,
		Text:      req.Text,
		CreatedAt: createdAt,
	}
	if h.nicknames != nil {
		if nick, ok := h.nicknames.Nickname(req.UserID); ok {
			comment.Nickname = nick
		}
	}

	if err := h.comments.SaveComment(ctx, comment); err != nil {
		h.logger.ErrorContext(ctx, "failed to save comment", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, comment, http.StatusCreated)
}
