package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/iudanet/gophcollab/internal/server/documents"
	"github.com/iudanet/gophcollab/internal/server/storage"
	"github.com/iudanet/gophcollab/pkg/api"
)

// DocumentService определяет операции совместных документов
type DocumentService interface {
	Join(ctx context.Context, sessionID, userID string) (*api.JoinSessionResponse, error)
	SoftReset(ctx context.Context, sessionID string) error
	Sync(ctx context.Context, sessionID, documentID string, req api.DocumentSyncRequest) (*api.DocumentSyncResponse, error)
	Pull(ctx context.Context, sessionID, documentID string, since int64) (*api.DocumentSyncResponse, error)
}

// DocumentHandler обрабатывает подключение к документам и их синхронизацию
type DocumentHandler struct {
	logger  *slog.Logger
	service DocumentService
}

// NewDocumentHandler создает новый handler документов
func NewDocumentHandler(logger *slog.Logger, service DocumentService) *DocumentHandler {
	return &DocumentHandler{
		logger:  logger,
		service: service,
	}
}

// JoinSession обрабатывает POST /api/v1/joinSession
// Возвращает адрес документа сессии и токен доступа к нему
func (h *DocumentHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.JoinSessionRequest
	if err := decodeRequest(r, w, &req); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	resp, err := h.service.Join(ctx, req.SessionID, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to join session",
			slog.String("session_id", req.SessionID), slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// SoftResetSession обрабатывает POST /api/v1/softResetSession
func (h *DocumentHandler) SoftResetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SoftResetRequest
	if err := decodeRequest(r, w, &req); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.SoftReset(ctx, req.SessionID); err != nil {
		if errors.Is(err, documents.ErrUnknownSession) {
			sendError(h.logger, w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to reset session",
			slog.String("session_id", req.SessionID), slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, api.SoftResetResponse{OK: true}, http.StatusOK)
}

// Pull обрабатывает GET /api/v1/documents/{documentId}?since=seq
// Возвращает записи документа новее since
func (h *DocumentHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, documentID, ok := documentFromContext(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "document claims not found in context")
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var since int64
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || since < 0 {
			h.logger.WarnContext(ctx, "invalid since parameter", slog.String("since", sinceStr))
			sendError(h.logger, w, "invalid since parameter", http.StatusBadRequest)
			return
		}
	}

	resp, err := h.service.Pull(ctx, sessionID, documentID, since)
	if err != nil {
		h.documentError(ctx, w, err)
		return
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Sync обрабатывает POST /api/v1/documents/{documentId}/sync
// Принимает записи клиента и возвращает записи сервера новее Since
func (h *DocumentHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, documentID, ok := documentFromContext(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "document claims not found in context")
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.DocumentSyncRequest
	if err := decodeRequest(r, w, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid sync request", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.service.Sync(ctx, sessionID, documentID, req)
	if err != nil {
		h.documentError(ctx, w, err)
		return
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

func (h *DocumentHandler) documentError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, documents.ErrUnknownSession) {
		sendError(h.logger, w, "session not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, storage.ErrInvalidEntry) {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.ErrorContext(ctx, "document operation failed", slog.Any("error", err))
	sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
}

func documentFromContext(ctx context.Context) (sessionID, documentID string, ok bool) {
	sessionID, ok = GetSessionID(ctx)
	if !ok {
		return "", "", false
	}
	documentID, ok = GetDocumentID(ctx)
	return sessionID, documentID, ok
}
