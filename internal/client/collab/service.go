// Package collab связывает компоненты участника: подачу результата теста,
// назначение группы, документ сессии, канал группы и голосование.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/gophcollab/internal/client/replica"
	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/pathstore"
	"github.com/iudanet/gophcollab/pkg/api"
)

// Адреса состояния задачи, которыми управляет сервис
const (
	ProficiencyPath  = "$.proficiency.score"
	CurrentNodePath  = "$.currentNode"
	PreviousNodePath = "$.previousNode"
	RolesPath        = "$.roles"
	GroupPath        = "$.collaboration.group"
	SessionDataPath  = "$.collaboration.sessionId"

	// GroupBuildingNode тип узла, на котором участник ждет назначения группы
	GroupBuildingNode = "groupBuilding"
)

// DefaultFallbackDelay задержка перед резервным опросом статуса
const DefaultFallbackDelay = 5 * time.Second

var (
	// ErrNoProficiency нет результата входного теста
	ErrNoProficiency = errors.New("proficiency score is missing")

	// ErrNotInGroup участник не состоит в группе
	ErrNotInGroup = errors.New("not in a group")

	// ErrNoNextNode у текущего узла нет перехода
	ErrNoNextNode = errors.New("current node has no outgoing edge")

	// ErrReadOnly роль участника не может менять поля
	ErrReadOnly = errors.New("role has no write access")
)

// API запросы к серверу координации
type API interface {
	SubmitProficiency(ctx context.Context, req api.ProficiencyRequest) error
	GroupingStatus(ctx context.Context) (*api.StatusResponse, error)
	LeaveGrouping(ctx context.Context, userID string) error
	SaveSessionData(ctx context.Context, req api.SessionDataRequest) (*api.SessionDataResponse, error)
	SoftResetSession(ctx context.Context, sessionID string) error
}

// EventSource поток назначений групп
type EventSource interface {
	Listen(ctx context.Context, userID string, fn func(api.GroupAssignmentEvent)) error
}

// Channel канал группы
type Channel interface {
	Connect(ctx context.Context, groupID, userID string) error
	NotifyShowSolution(currentNode, targetNode string) bool
	Disconnect()
}

// Document документ сессии группы
type Document interface {
	Join(ctx context.Context, sessionID string) (*replica.SessionContext, error)
	Leave()
}

// Voting голосование группы
type Voting interface {
	Start(ctx context.Context, group *models.GroupInfo, userID string) error
	Reset()
}

// Config параметры участника
type Config struct {
	UserID        string
	Nickname      string
	TaskID        string
	FallbackDelay time.Duration
}

// Service сценарий участника совместной работы
type Service struct {
	api        API
	events     EventSource
	channel    Channel
	document   Document
	voting     Voting
	store      *pathstore.Store
	logger     *slog.Logger
	group      *models.GroupInfo
	fallback   *time.Timer
	stop       context.CancelFunc
	cfg        Config
	filter     replica.TransferFilter
	shownRound int
	mu         sync.Mutex
}

// NewService создает сервис. voting может быть задан позже через SetVoting.
func NewService(logger *slog.Logger, cfg Config, store *pathstore.Store, client API, events EventSource, channel Channel, document Document) *Service {
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = DefaultFallbackDelay
	}
	return &Service{
		api:      client,
		events:   events,
		channel:  channel,
		document: document,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		filter:   replica.DefaultFilter(),
	}
}

// SetVoting подключает голосование
func (s *Service) SetVoting(v Voting) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.voting = v
}

// Group текущая группа участника
func (s *Service) Group() (*models.GroupInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group == nil {
		return nil, false
	}
	return s.group.Clone(), true
}

// JoinCollaboration отправляет результат теста и ждет назначения группы:
// через поток событий и один резервный опрос статуса, если событие не пришло.
// Ошибка отправки результата возвращается вызывающему.
func (s *Service) JoinCollaboration(ctx context.Context) error {
	score, err := s.proficiency()
	if err != nil {
		return err
	}

	err = s.api.SubmitProficiency(ctx, api.ProficiencyRequest{
		UserID:   s.cfg.UserID,
		TaskID:   s.cfg.TaskID,
		Nickname: s.cfg.Nickname,
		Score:    score,
	})
	if err != nil {
		return fmt.Errorf("failed to submit proficiency: %w", err)
	}
	s.logger.InfoContext(ctx, "proficiency submitted", slog.Float64("score", score))

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.stop = cancel
	if s.fallback != nil {
		s.fallback.Stop()
	}
	if s.group == nil {
		s.fallback = time.AfterFunc(s.cfg.FallbackDelay, func() { s.reconcile(listenCtx) })
	}
	s.mu.Unlock()

	go s.listen(listenCtx)
	return nil
}

func (s *Service) proficiency() (float64, error) {
	value, err := s.store.Get(ProficiencyPath)
	if err != nil {
		return 0, ErrNoProficiency
	}
	score, ok := value.(float64)
	if !ok {
		return 0, ErrNoProficiency
	}
	return score, nil
}

func (s *Service) listen(ctx context.Context) {
	if s.events == nil {
		return
	}
	err := s.events.Listen(ctx, s.cfg.UserID, func(e api.GroupAssignmentEvent) {
		group := e.Group()
		if _, ok := group.RoleOf(s.cfg.UserID); !ok {
			return
		}
		if err := s.ApplyGroupAssignment(ctx, group); err != nil {
			s.logger.Warn("failed to apply group assignment", slog.Any("error", err))
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("group assignment stream ended", slog.Any("error", err))
	}
}

// reconcile резервный опрос статуса формирования групп
func (s *Service) reconcile(ctx context.Context) {
	s.mu.Lock()
	s.fallback = nil
	assigned := s.group != nil
	s.mu.Unlock()
	if assigned {
		return
	}

	status, err := s.api.GroupingStatus(ctx)
	if err != nil {
		s.logger.Warn("group status poll failed", slog.Any("error", err))
		return
	}
	for i := range status.Groups {
		group := &status.Groups[i]
		if _, ok := group.RoleOf(s.cfg.UserID); !ok {
			continue
		}
		s.logger.Info("group found by status poll", slog.String("group_id", group.GroupID))
		if err := s.ApplyGroupAssignment(ctx, group); err != nil {
			s.logger.Warn("failed to apply group assignment", slog.Any("error", err))
		}
		return
	}
	s.logger.Debug("no group assigned yet")
}

// ApplyGroupAssignment применяет назначение группы. Повтор с теми же
// данными ничего не делает.
func (s *Service) ApplyGroupAssignment(ctx context.Context, group *models.GroupInfo) error {
	role, ok := group.RoleOf(s.cfg.UserID)
	if !ok {
		return ErrNotInGroup
	}

	s.mu.Lock()
	if s.group.Equal(group) {
		s.mu.Unlock()
		return nil
	}
	s.group = group
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	voting := s.voting
	s.mu.Unlock()

	if _, err := s.store.Set(GroupPath, map[string]any{
		"groupId": group.GroupID,
		"roleId":  role,
		"members": group.Members,
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "group assigned",
		slog.String("group_id", group.GroupID),
		slog.Int("role_id", role),
		slog.Int("size", group.Size))

	if s.channel != nil {
		if err := s.channel.Connect(ctx, group.GroupID, s.cfg.UserID); err != nil {
			s.logger.Warn("session channel connect failed", slog.Any("error", err))
		}
	}
	if s.document != nil {
		if _, err := s.document.Join(ctx, group.GroupID); err != nil {
			s.logger.Warn("session document unavailable", slog.Any("error", err))
		}
	}
	if voting != nil {
		if err := voting.Start(ctx, group, s.cfg.UserID); err != nil {
			s.logger.Warn("voting unavailable", slog.Any("error", err))
		}
	}

	s.advanceFromGroupNode()
	return nil
}

// advanceFromGroupNode уводит участника с узла ожидания группы
func (s *Service) advanceFromGroupNode() {
	current := s.store.GetString(CurrentNodePath)
	if current == "" {
		return
	}
	nodeType := s.store.GetString(pathstore.MustParse("$.nodes").Child(current).Child("type").String())
	if nodeType != GroupBuildingNode {
		return
	}
	if _, err := s.moveToNext(); err != nil {
		s.logger.Warn("failed to leave group building node", slog.Any("error", err))
	}
}

// moveToNext переходит по первому ребру текущего узла
func (s *Service) moveToNext() (string, error) {
	current := s.store.GetString(CurrentNodePath)
	next := s.store.GetString(pathstore.MustParse("$.edges").Child(current).Child("0").String())
	if next == "" {
		return "", fmt.Errorf("%w: %s", ErrNoNextNode, current)
	}

	if _, err := s.store.Set(PreviousNodePath, current); err != nil {
		return "", err
	}
	if _, err := s.store.Set(CurrentNodePath, next); err != nil {
		return "", err
	}
	return next, nil
}

// showSampleSolution переводит участника к решению. Спикер дополнительно
// рассылает переход участникам группы.
func (s *Service) showSampleSolution(ctx context.Context) error {
	current := s.store.GetString(CurrentNodePath)
	next, err := s.moveToNext()
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "moved to solution", slog.String("from", current), slog.String("to", next))

	if s.isSpeaker() && s.channel != nil {
		s.channel.NotifyShowSolution(current, next)
	}
	return nil
}

// OnApproved обработчик единогласного одобрения: спикер сохраняет сессию,
// все участники переходят к решению один раз за раунд. Если участник уже
// ушел с узла раунда по сообщению спикера, переход не повторяется.
func (s *Service) OnApproved(ctx context.Context, proposal *models.ProposalDocument) {
	s.mu.Lock()
	if proposal.Round <= s.shownRound {
		s.mu.Unlock()
		return
	}
	s.shownRound = proposal.Round
	s.mu.Unlock()

	if s.isSpeaker() {
		if _, err := s.SaveSessionData(ctx); err != nil {
			s.logger.Warn("failed to save session data", slog.Int("round", proposal.Round), slog.Any("error", err))
		}
	}

	if current := s.store.GetString(CurrentNodePath); proposal.Node != "" && current != proposal.Node {
		s.logger.DebugContext(ctx, "solution already shown",
			slog.Int("round", proposal.Round), slog.String("current", current))
		return
	}
	if err := s.showSampleSolution(ctx); err != nil {
		s.logger.Warn("failed to show solution", slog.Int("round", proposal.Round), slog.Any("error", err))
	}
}

func (s *Service) isSpeaker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group == nil {
		return false
	}
	role, ok := s.group.RoleOf(s.cfg.UserID)
	return ok && role == models.SpeakerRoleID
}

// SaveSessionData сохраняет состояние задачи как результат сессии группы
func (s *Service) SaveSessionData(ctx context.Context) (string, error) {
	group, ok := s.Group()
	if !ok {
		return "", ErrNotInGroup
	}

	data, err := json.Marshal(s.store.Snapshot())
	if err != nil {
		return "", fmt.Errorf("failed to encode session data: %w", err)
	}

	members := make([]models.SessionMember, 0, len(group.Members))
	for _, m := range group.Members {
		members = append(members, models.SessionMember{RoleID: m.RoleID, UserID: m.UserID})
	}

	resp, err := s.api.SaveSessionData(ctx, api.SessionDataRequest{
		TaskID:      s.cfg.TaskID,
		GroupID:     group.GroupID,
		SessionData: data,
		MemberIDs:   members,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save session data: %w", err)
	}

	if _, err := s.store.Set(SessionDataPath, resp.SessionID); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "session data saved", slog.String("session_id", resp.SessionID))
	return resp.SessionID, nil
}

// ClearGroup выходит из группы: закрывает канал и документ, сбрасывает
// документ сессии на сервере и голосование, очищает совместные поля.
func (s *Service) ClearGroup(ctx context.Context) error {
	s.mu.Lock()
	group := s.group
	s.group = nil
	s.shownRound = 0
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	voting := s.voting
	s.mu.Unlock()

	if s.channel != nil {
		s.channel.Disconnect()
	}
	if s.document != nil {
		s.document.Leave()
	}
	if voting != nil {
		voting.Reset()
	}

	var errs []error
	if group != nil {
		if err := s.api.SoftResetSession(ctx, group.GroupID); err != nil {
			s.logger.Warn("failed to reset session document", slog.Any("error", err))
		}
	}
	if err := s.api.LeaveGrouping(ctx, s.cfg.UserID); err != nil {
		errs = append(errs, fmt.Errorf("failed to leave grouping: %w", err))
	}

	fields := s.filter.Fields(s.store.Snapshot())
	paths := make([]string, 0, len(fields)+1)
	for path := range fields {
		paths = append(paths, path)
	}
	paths = append(paths, GroupPath)
	if err := s.store.ResetValues(paths); err != nil {
		errs = append(errs, err)
	}

	s.logger.InfoContext(ctx, "left group")
	return errors.Join(errs...)
}

// RoleInfos каталог ролей задачи
func (s *Service) RoleInfos() ([]models.RoleInfo, error) {
	value, err := s.store.Get(RolesPath)
	if err != nil {
		if errors.Is(err, pathstore.ErrPathNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var roles []models.RoleInfo
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("malformed role catalogue: %w", err)
	}
	return roles, nil
}

// SetField изменяет поле задачи с проверкой прав роли.
// Без каталога ролей или вне группы запись разрешена.
func (s *Service) SetField(path string, value any) error {
	if !s.canWrite() {
		return ErrReadOnly
	}
	_, err := s.store.Set(path, value)
	return err
}

func (s *Service) canWrite() bool {
	group, ok := s.Group()
	if !ok {
		return true
	}
	role, _ := group.RoleOf(s.cfg.UserID)

	roles, err := s.RoleInfos()
	if err != nil || len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r.RoleID == role {
			return r.WriteAccess
		}
	}
	return true
}

// Close останавливает фоновые задачи без выхода из группы
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}
