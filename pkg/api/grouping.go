package api

import "github.com/iudanet/gophcollab/internal/models"

// ProficiencyRequest результат входного теста участника
type ProficiencyRequest struct {
	UserID   string  `json:"userId" validate:"required,max=64"`
	TaskID   string  `json:"taskId" validate:"required,max=64"`
	Nickname string  `json:"nickname,omitempty" validate:"omitempty,nickname"`
	Score    float64 `json:"score" validate:"gte=0,lte=100"`
}

// Distribution план распределения участников по группам
type Distribution struct {
	Groups3 int `json:"groups3"`
	Groups4 int `json:"groups4"`
	Total   int `json:"total"`
}

// FormedCount количество сформированных групп по размерам
type FormedCount struct {
	Groups3 int `json:"groups3"`
	Groups4 int `json:"groups4"`
}

// StatusResponse снимок состояния формирования групп
type StatusResponse struct {
	Pending      []models.WaitingParticipant `json:"pending"`
	Groups       []models.GroupInfo          `json:"groups"`
	Distribution Distribution                `json:"distribution"`
	Formed       FormedCount                 `json:"formed"`
	Total        int                         `json:"total"`
}

// ManualGroupRequest ручное назначение группы оператором
type ManualGroupRequest struct {
	GroupID string   `json:"groupId" validate:"required,max=64"`
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
	RoleIDs []int    `json:"roleIds" validate:"omitempty,dive,gte=0"`
}

// LeaveRequest выход участника из группы или пула ожидания
type LeaveRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// TotalRequest ожидаемое количество участников
type TotalRequest struct {
	Total int `json:"total" validate:"gte=0,lte=10000"`
}

// TotalResponse план распределения для ожидаемого количества
type TotalResponse struct {
	Distribution Distribution `json:"distribution"`
	Total        int          `json:"total"`
}

// FormResponse группы, сформированные по запросу оператора
type FormResponse struct {
	Groups []models.GroupInfo `json:"groups"`
}

// GroupAssignmentEvent событие назначения группы, рассылаемое через SSE
type GroupAssignmentEvent struct {
	GroupID string          `json:"groupId"`
	TaskID  string          `json:"taskId"`
	Members []models.Member `json:"members"`
	Size    int             `json:"size"`
}

// NewGroupAssignmentEvent создает событие из группы
func NewGroupAssignmentEvent(g *models.GroupInfo) GroupAssignmentEvent {
	members := make([]models.Member, len(g.Members))
	copy(members, g.Members)
	return GroupAssignmentEvent{
		GroupID: g.GroupID,
		TaskID:  g.TaskID,
		Members: members,
		Size:    g.Size,
	}
}

// Group восстанавливает GroupInfo из события
func (e GroupAssignmentEvent) Group() *models.GroupInfo {
	members := make([]models.Member, len(e.Members))
	copy(members, e.Members)
	return &models.GroupInfo{
		GroupID: e.GroupID,
		TaskID:  e.TaskID,
		Members: members,
		Size:    e.Size,
	}
}
