package grouping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/metrics"
	"github.com/iudanet/gophcollab/pkg/api"
)

var (
	// ErrInvalidScore результат теста вне допустимого диапазона
	ErrInvalidScore = errors.New("score out of range")

	// ErrInvalidManualGroup некорректное ручное назначение группы
	ErrInvalidManualGroup = errors.New("invalid manual group")

	// ErrNotFound участник не найден ни в пуле, ни в группах
	ErrNotFound = errors.New("participant not found")
)

// Диапазон допустимого результата теста
const (
	MinScore = 0
	MaxScore = 100
)

//go:generate moq -out notifier_mock.go . Notifier

// Notifier получает сформированные группы для рассылки участникам.
type Notifier interface {
	GroupFormed(ctx context.Context, group *models.GroupInfo)
	ParticipantLeft(ctx context.Context, userID string)
}

// Submission результат теста участника
type Submission struct {
	UserID   string
	TaskID   string
	Nickname string
	Score    float64
}

// Service формирование групп. Все изменения выполняются под одной блокировкой
// (единственный писатель), чтения возвращают согласованные снимки.
type Service struct {
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	pool      map[string]*models.WaitingParticipant // pool ожидающие по userId
	groups    map[string]*models.GroupInfo          // groups группы по groupId
	userGroup map[string]string                     // userGroup userId -> groupId
	groupSeq  []string                              // groupSeq порядок создания групп
	batchSize int
	total     int
	nextOrder int64
	mu        sync.Mutex
}

// NewService создает сервис формирования групп.
// batchSize - количество ожидающих по задаче, при котором формируются группы
// без заданного плана.
func NewService(logger *slog.Logger, notifier Notifier, batchSize int) *Service {
	if batchSize < models.MinGroupSize {
		batchSize = models.MinGroupSize
	}
	return &Service{
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		pool:      make(map[string]*models.WaitingParticipant),
		groups:    make(map[string]*models.GroupInfo),
		userGroup: make(map[string]string),
		batchSize: batchSize,
	}
}

// SubmitProficiency добавляет участника в пул или обновляет его результат.
// Повторная подача сохраняет исходный порядок вставки. Если участник уже в группе,
// назначение рассылается повторно. Возвращает группы, сформированные этим вызовом.
func (s *Service) SubmitProficiency(ctx context.Context, sub Submission) ([]*models.GroupInfo, error) {
	if sub.Score < MinScore || sub.Score > MaxScore {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, sub.Score)
	}

	s.mu.Lock()
	if groupID, ok := s.userGroup[sub.UserID]; ok {
		group := s.groups[groupID].Clone()
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "participant already grouped, re-sending assignment",
			slog.String("user_id", sub.UserID), slog.String("group_id", groupID))
		s.notify(ctx, []*models.GroupInfo{group})
		return nil, nil
	}

	if existing, ok := s.pool[sub.UserID]; ok {
		existing.Score = sub.Score
		existing.TaskID = sub.TaskID
		if sub.Nickname != "" {
			existing.Nickname = sub.Nickname
		}
	} else {
		s.nextOrder++
		s.pool[sub.UserID] = &models.WaitingParticipant{
			UserID:   sub.UserID,
			TaskID:   sub.TaskID,
			Nickname: sub.Nickname,
			Score:    sub.Score,
			JoinedAt: s.now(),
			Order:    s.nextOrder,
		}
	}

	formed := s.tryFormLocked(sub.TaskID)
	pending := len(s.pool)
	s.mu.Unlock()

	metrics.PoolSize.Set(float64(pending))
	s.logger.InfoContext(ctx, "proficiency submitted",
		slog.String("user_id", sub.UserID),
		slog.String("task_id", sub.TaskID),
		slog.Float64("score", sub.Score),
		slog.Int("formed_groups", len(formed)))

	s.notify(ctx, formed)
	return formed, nil
}

// Form формирует группы из всего пула по всем задачам, не дожидаясь порога.
func (s *Service) Form(ctx context.Context) []*models.GroupInfo {
	s.mu.Lock()
	var formed []*models.GroupInfo
	for _, taskID := range s.pendingTasksLocked() {
		sizes, _ := PlanSizes(len(s.pendingForLocked(taskID)))
		formed = append(formed, s.formLocked(taskID, sizes)...)
	}
	pending := len(s.pool)
	s.mu.Unlock()

	metrics.PoolSize.Set(float64(pending))
	s.notify(ctx, formed)
	return formed
}

// SetTotal задает ожидаемое количество участников и возвращает план распределения.
func (s *Service) SetTotal(ctx context.Context, total int) api.Distribution {
	s.mu.Lock()
	s.total = total
	var formed []*models.GroupInfo
	for _, taskID := range s.pendingTasksLocked() {
		formed = append(formed, s.tryFormLocked(taskID)...)
	}
	s.mu.Unlock()

	s.notify(ctx, formed)

	g3, g4 := PlanDistribution(total)
	return api.Distribution{Groups3: g3, Groups4: g4, Total: total}
}

// ManualOverride назначает группу вручную. Участники удаляются из пула и прежних групп.
// roleIDs может быть пустым - тогда роли назначаются по порядку.
func (s *Service) ManualOverride(ctx context.Context, groupID string, userIDs []string, roleIDs []int) (*models.GroupInfo, error) {
	if groupID == "" || len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: group id and users are required", ErrInvalidManualGroup)
	}
	if len(roleIDs) != 0 && len(roleIDs) != len(userIDs) {
		return nil, fmt.Errorf("%w: %d users but %d roles", ErrInvalidManualGroup, len(userIDs), len(roleIDs))
	}

	seenUsers := make(map[string]bool, len(userIDs))
	seenRoles := make(map[int]bool, len(roleIDs))
	for i, id := range userIDs {
		if seenUsers[id] {
			return nil, fmt.Errorf("%w: duplicate user %s", ErrInvalidManualGroup, id)
		}
		seenUsers[id] = true
		if len(roleIDs) != 0 {
			if seenRoles[roleIDs[i]] {
				return nil, fmt.Errorf("%w: duplicate role %d", ErrInvalidManualGroup, roleIDs[i])
			}
			seenRoles[roleIDs[i]] = true
		}
	}

	s.mu.Lock()
	taskID := ""
	members := make([]models.Member, 0, len(userIDs))
	for i, id := range userIDs {
		role := i
		if len(roleIDs) != 0 {
			role = roleIDs[i]
		}
		member := models.Member{UserID: id, RoleID: role}
		if p, ok := s.pool[id]; ok {
			member.Nickname = p.Nickname
			if taskID == "" {
				taskID = p.TaskID
			}
			delete(s.pool, id)
		} else if prev := s.memberLocked(id); prev != nil {
			member.Nickname = prev.Nickname
		}
		s.removeFromGroupLocked(id)
		members = append(members, member)
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].RoleID < members[j].RoleID })

	if old, ok := s.groups[groupID]; ok {
		if taskID == "" {
			taskID = old.TaskID
		}
		for _, m := range old.Members {
			delete(s.userGroup, m.UserID)
		}
		s.dropGroupLocked(groupID)
	}

	group := &models.GroupInfo{
		CreatedAt: s.now(),
		GroupID:   groupID,
		TaskID:    taskID,
		Members:   members,
		Size:      len(members),
		Manual:    true,
	}
	s.addGroupLocked(group)
	result := group.Clone()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "manual group assigned",
		slog.String("group_id", groupID), slog.Int("size", len(members)))
	s.notify(ctx, []*models.GroupInfo{result})
	return result, nil
}

// Leave удаляет участника из пула ожидания и из группы.
func (s *Service) Leave(ctx context.Context, userID string) error {
	s.mu.Lock()
	_, inPool := s.pool[userID]
	delete(s.pool, userID)
	inGroup := s.removeFromGroupLocked(userID)
	pending := len(s.pool)
	s.mu.Unlock()

	if !inPool && !inGroup {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}

	metrics.PoolSize.Set(float64(pending))
	if s.notifier != nil {
		s.notifier.ParticipantLeft(ctx, userID)
	}
	s.logger.InfoContext(ctx, "participant left", slog.String("user_id", userID),
		slog.Bool("was_pending", inPool), slog.Bool("was_grouped", inGroup))
	return nil
}

// GroupOf возвращает группу участника.
func (s *Service) GroupOf(userID string) (*models.GroupInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groupID, ok := s.userGroup[userID]
	if !ok {
		return nil, false
	}
	return s.groups[groupID].Clone(), true
}

// Nickname возвращает ник участника из пула или из его группы.
func (s *Service) Nickname(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pool[userID]; ok && p.Nickname != "" {
		return p.Nickname, true
	}
	if m := s.memberLocked(userID); m != nil && m.Nickname != "" {
		return m.Nickname, true
	}
	return "", false
}

// Status возвращает согласованный снимок состояния.
func (s *Service) Status() api.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]models.WaitingParticipant, 0, len(s.pool))
	for _, p := range s.pool {
		pending = append(pending, *p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Order < pending[j].Order })

	groups := make([]models.GroupInfo, 0, len(s.groupSeq))
	var formed api.FormedCount
	for _, id := range s.groupSeq {
		g := s.groups[id]
		groups = append(groups, *g.Clone())
		switch g.Size {
		case models.MinGroupSize:
			formed.Groups3++
		case models.MaxGroupSize:
			formed.Groups4++
		}
	}

	g3, g4 := PlanDistribution(s.total)
	return api.StatusResponse{
		Total:        s.total,
		Distribution: api.Distribution{Groups3: g3, Groups4: g4, Total: s.total},
		Formed:       formed,
		Pending:      pending,
		Groups:       groups,
	}
}

// tryFormLocked формирует группы по задаче, если выполнено условие срабатывания:
// с планом - ожидающих хватает на следующую запланированную группу,
// без плана - ожидающих не меньше batchSize.
func (s *Service) tryFormLocked(taskID string) []*models.GroupInfo {
	pending := s.pendingForLocked(taskID)

	if s.total > 0 {
		sizes := s.remainingPlanLocked()
		var fit []int
		count := 0
		for _, size := range sizes {
			if count+size > len(pending) {
				break
			}
			fit = append(fit, size)
			count += size
		}
		if len(fit) == 0 {
			return nil
		}
		return s.formLocked(taskID, fit)
	}

	if len(pending) < s.batchSize {
		return nil
	}
	sizes, _ := PlanSizes(len(pending))
	return s.formLocked(taskID, sizes)
}

// remainingPlanLocked размеры запланированных групп, которые еще не сформированы
func (s *Service) remainingPlanLocked() []int {
	plan, _ := PlanSizes(s.total)
	formed := map[int]int{}
	for _, g := range s.groups {
		if !g.Manual {
			formed[g.Size]++
		}
	}

	remaining := make([]int, 0, len(plan))
	for _, size := range plan {
		if formed[size] > 0 {
			formed[size]--
			continue
		}
		remaining = append(remaining, size)
	}
	return remaining
}

func (s *Service) formLocked(taskID string, sizes []int) []*models.GroupInfo {
	if len(sizes) == 0 {
		return nil
	}
	part := FormGroups(s.pendingForLocked(taskID), sizes)

	formed := make([]*models.GroupInfo, 0, len(part.Groups))
	for _, members := range part.Groups {
		group := &models.GroupInfo{
			CreatedAt: s.now(),
			GroupID:   uuid.New().String(),
			TaskID:    taskID,
			Size:      len(members),
			Members:   make([]models.Member, 0, len(members)),
		}
		for role, p := range members {
			group.Members = append(group.Members, models.Member{
				UserID:   p.UserID,
				Nickname: p.Nickname,
				RoleID:   role,
			})
			delete(s.pool, p.UserID)
		}
		s.addGroupLocked(group)
		metrics.GroupsFormed.WithLabelValues(fmt.Sprint(group.Size)).Inc()
		formed = append(formed, group.Clone())
	}
	return formed
}

func (s *Service) pendingForLocked(taskID string) []models.WaitingParticipant {
	out := make([]models.WaitingParticipant, 0, len(s.pool))
	for _, p := range s.pool {
		if p.TaskID == taskID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (s *Service) pendingTasksLocked() []string {
	seen := make(map[string]bool)
	var tasks []string
	for _, p := range s.pool {
		if !seen[p.TaskID] {
			seen[p.TaskID] = true
			tasks = append(tasks, p.TaskID)
		}
	}
	sort.Strings(tasks)
	return tasks
}

func (s *Service) addGroupLocked(g *models.GroupInfo) {
	s.groups[g.GroupID] = g
	s.groupSeq = append(s.groupSeq, g.GroupID)
	for _, m := range g.Members {
		s.userGroup[m.UserID] = g.GroupID
	}
}

func (s *Service) dropGroupLocked(groupID string) {
	delete(s.groups, groupID)
	for i, id := range s.groupSeq {
		if id == groupID {
			s.groupSeq = append(s.groupSeq[:i], s.groupSeq[i+1:]...)
			break
		}
	}
}

func (s *Service) memberLocked(userID string) *models.Member {
	groupID, ok := s.userGroup[userID]
	if !ok {
		return nil
	}
	for _, m := range s.groups[groupID].Members {
		if m.UserID == userID {
			member := m
			return &member
		}
	}
	return nil
}

// removeFromGroupLocked удаляет участника из группы; пустая группа удаляется.
func (s *Service) removeFromGroupLocked(userID string) bool {
	groupID, ok := s.userGroup[userID]
	if !ok {
		return false
	}
	delete(s.userGroup, userID)

	g := s.groups[groupID]
	members := g.Members[:0]
	for _, m := range g.Members {
		if m.UserID != userID {
			members = append(members, m)
		}
	}
	g.Members = members
	g.Size = len(members)
	if g.Size == 0 {
		s.dropGroupLocked(groupID)
	}
	return true
}

func (s *Service) notify(ctx context.Context, groups []*models.GroupInfo) {
	if s.notifier == nil {
		return
	}
	for _, g := range groups {
		s.notifier.GroupFormed(ctx, g)
	}
}
