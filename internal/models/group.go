package models

import "time"

// SpeakerRoleID роль участника, который открывает голосование и сохраняет сессию.
const SpeakerRoleID = 0

// Допустимые размеры автоматически сформированных групп.
const (
	MinGroupSize = 3
	MaxGroupSize = 4
)

// Proficiency результат входного теста участника по задаче.
type Proficiency struct {
	TaskID string  `json:"taskId"`
	Score  float64 `json:"score"`
}

// WaitingParticipant участник в пуле ожидания формирования группы.
type WaitingParticipant struct {
	JoinedAt time.Time `json:"joinedAt"` // JoinedAt время первой подачи результата
	UserID   string    `json:"userId"`
	TaskID   string    `json:"taskId"`
	Nickname string    `json:"nickname,omitempty"`
	Score    float64   `json:"score"`
	Order    int64     `json:"-"` // Order порядок вставки в пул, сохраняется при повторной подаче
}

// Member участник сформированной группы.
type Member struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
	RoleID   int    `json:"roleId"`
}

// GroupInfo сформированная группа.
// Для автоматически сформированных групп Size всегда 3 или 4.
type GroupInfo struct {
	CreatedAt time.Time `json:"createdAt"`
	GroupID   string    `json:"groupId"`
	TaskID    string    `json:"taskId"`
	Members   []Member  `json:"members"`
	Size      int       `json:"size"`
	Manual    bool      `json:"manual,omitempty"`
}

// MemberIDs возвращает идентификаторы участников в порядке ролей.
func (g *GroupInfo) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// RoleOf возвращает роль участника в группе.
func (g *GroupInfo) RoleOf(userID string) (int, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m.RoleID, true
		}
	}
	return 0, false
}

// Speaker возвращает участника с ролью спикера.
func (g *GroupInfo) Speaker() (Member, bool) {
	for _, m := range g.Members {
		if m.RoleID == SpeakerRoleID {
			return m, true
		}
	}
	return Member{}, false
}

// Equal сравнивает состав и роли двух групп.
func (g *GroupInfo) Equal(other *GroupInfo) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.GroupID != other.GroupID || g.TaskID != other.TaskID || len(g.Members) != len(other.Members) {
		return false
	}
	for i := range g.Members {
		if g.Members[i].UserID != other.Members[i].UserID || g.Members[i].RoleID != other.Members[i].RoleID {
			return false
		}
	}
	return true
}

// Clone создает глубокую копию группы
func (g *GroupInfo) Clone() *GroupInfo {
	members := make([]Member, len(g.Members))
	copy(members, g.Members)

	clone := *g
	clone.Members = members
	return &clone
}

// RoleInfo описание роли из каталога ролей задачи.
type RoleInfo struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	ColorHex    string `json:"colorHex,omitempty" yaml:"colorHex"`
	RoleID      int    `json:"roleId" yaml:"roleId"`
	WriteAccess bool   `json:"writeAccess" yaml:"writeAccess"`
}
