package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/grouping"
	"github.com/iudanet/gophcollab/pkg/api"
)

// GroupingService определяет операции формирования групп
type GroupingService interface {
	SubmitProficiency(ctx context.Context, sub grouping.Submission) ([]*models.GroupInfo, error)
	Form(ctx context.Context) []*models.GroupInfo
	SetTotal(ctx context.Context, total int) api.Distribution
	ManualOverride(ctx context.Context, groupID string, userIDs []string, roleIDs []int) (*models.GroupInfo, error)
	Leave(ctx context.Context, userID string) error
	Status() api.StatusResponse
}

// GroupingHandler обрабатывает запросы формирования групп
type GroupingHandler struct {
	logger  *slog.Logger
	service GroupingService
}

// NewGroupingHandler создает новый handler формирования групп
func NewGroupingHandler(logger *slog.Logger, service GroupingService) *GroupingHandler {
	return &GroupingHandler{
		logger:  logger,
		service: service,
	}
}

// Proficiency обрабатывает POST /api/v1/grouping/proficiency
// Результат входного теста участника; группа рассылается через события
func (h *GroupingHandler) Proficiency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ProficiencyRequest
	if err := decodeRequest(r, w, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid proficiency request", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err := h.service.SubmitProficiency(ctx, grouping.Submission{
		UserID:   req.UserID,
		TaskID:   req.TaskID,
		Nickname: req.Nickname,
		Score:    req.Score,
	})
	if err != nil {
		if errors.Is(err, grouping.ErrInvalidScore) {
			sendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(ctx, "failed to submit proficiency", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status обрабатывает GET /api/v1/grouping/status
func (h *GroupingHandler) Status(w http.ResponseWriter, r *http.Request) {
	sendJSON(h.logger, w, h.service.Status(), http.StatusOK)
}

// Manual обрабатывает POST /api/v1/grouping/manual
// Ручное назначение группы оператором
func (h *GroupingHandler) Manual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ManualGroupRequest
	if err := decodeRequest(r, w, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid manual group request", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	group, err := h.service.ManualOverride(ctx, req.GroupID, req.UserIDs, req.RoleIDs)
	if err != nil {
		if errors.Is(err, grouping.ErrInvalidManualGroup) {
			sendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(ctx, "failed to assign manual group", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, group, http.StatusOK)
}

// Leave обрабатывает POST /api/v1/grouping/leave
func (h *GroupingHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LeaveRequest
	if err := decodeRequest(r, w, &req); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Leave(ctx, req.UserID); err != nil {
		if errors.Is(err, grouping.ErrNotFound) {
			sendError(h.logger, w, "participant not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to leave", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Total обрабатывает POST /api/v1/grouping/total
// Ожидаемое количество участников и план распределения
func (h *GroupingHandler) Total(w http.ResponseWriter, r *http.Request) {
	var req api.TotalRequest
	if err := decodeRequest(r, w, &req); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	dist := h.service.SetTotal(r.Context(), req.Total)
	sendJSON(h.logger, w, api.TotalResponse{Total: req.Total, Distribution: dist}, http.StatusOK)
}

// Form обрабатывает POST /api/v1/grouping/form
// Формирует группы из всего пула без ожидания порога
func (h *GroupingHandler) Form(w http.ResponseWriter, r *http.Request) {
	formed := h.service.Form(r.Context())

	resp := api.FormResponse{Groups: make([]models.GroupInfo, 0, len(formed))}
	for _, g := range formed {
		resp.Groups = append(resp.Groups, *g)
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}
