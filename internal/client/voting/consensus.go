// Package voting реализует голосование группы за переход к общему решению.
// Предложение и голоса хранятся в состоянии задачи и реплицируются
// вместе с остальными полями документа сессии.
package voting

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/pathstore"
)

// Адреса голосования в состоянии задачи
const (
	ProposalPath    = "$.collaboration.proposal"
	VotesPath       = "$.collaboration.votesByUser"
	CurrentNodePath = "$.currentNode"
)

var (
	// ErrNotSpeaker предложение может открыть только спикер
	ErrNotSpeaker = errors.New("only the speaker can start a proposal")

	// ErrNotInGroup участник не состоит в группе
	ErrNotInGroup = errors.New("not in a group")
)

var (
	proposalPath = pathstore.MustParse(ProposalPath)
	votesPath    = pathstore.MustParse(VotesPath)
)

// State состояние голосования
type State int

const (
	StateIdle State = iota
	StateProposalOpen
	StateResolved
)

// String возвращает строковое представление состояния
func (s State) String() string {
	switch s {
	case StateProposalOpen:
		return "proposal_open"
	case StateResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Prompter спрашивает участника, согласен ли он с предложением
type Prompter interface {
	Confirm(ctx context.Context, round int) (bool, error)
}

// PrompterFunc функция как Prompter
type PrompterFunc func(ctx context.Context, round int) (bool, error)

// Confirm вызывает f
func (f PrompterFunc) Confirm(ctx context.Context, round int) (bool, error) {
	return f(ctx, round)
}

// Announcer сообщает участникам группы о ходе голосования через канал сессии
type Announcer interface {
	NotifySubmitProposal(round int) bool
	SendVote(round int, vote models.Vote) bool
	SendVoteResult(round int, approved bool) bool
}

// Option настройка Consensus
type Option func(*Consensus)

// WithAnnouncer задает канал уведомлений
func WithAnnouncer(a Announcer) Option {
	return func(c *Consensus) {
		c.announcer = a
	}
}

// OnApproved задает обработчик единогласного одобрения
func OnApproved(fn func(ctx context.Context, proposal *models.ProposalDocument)) Option {
	return func(c *Consensus) {
		c.onApproved = fn
	}
}

// OnResolved задает обработчик завершения раунда
func OnResolved(fn func(ctx context.Context, round int, resolution models.Resolution)) Option {
	return func(c *Consensus) {
		c.onResolved = fn
	}
}

// Consensus голосование одного участника группы
type Consensus struct {
	store      *pathstore.Store
	prompter   Prompter
	announcer  Announcer
	logger     *slog.Logger
	onApproved func(context.Context, *models.ProposalDocument)
	onResolved func(context.Context, int, models.Resolution)
	group      *models.GroupInfo
	ctx        context.Context
	cancel     context.CancelFunc
	unwatch    func()
	unresolve  func()
	userID     string
	state      State
	maxRound   int
	openRound  int
	resolved   int
	prompted   int
	mu         sync.Mutex
}

// New создает голосование поверх PathStore участника
func New(logger *slog.Logger, store *pathstore.Store, prompter Prompter, opts ...Option) *Consensus {
	c := &Consensus{
		store:    store,
		prompter: prompter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start подключает голосование к группе. ctx ограничивает запросы подтверждения.
func (c *Consensus) Start(ctx context.Context, group *models.GroupInfo, userID string) error {
	if group == nil {
		return ErrNotInGroup
	}
	if _, ok := group.RoleOf(userID); !ok {
		return ErrNotInGroup
	}

	c.Stop()

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group = group
	c.userID = userID
	c.mu.Unlock()

	unwatch := c.store.Subscribe(c.watch)
	c.mu.Lock()
	c.unwatch = unwatch
	c.mu.Unlock()

	// Предложение могло прийти до подключения
	c.observe()
	return nil
}

// Stop отключает голосование от PathStore. Номер раунда сохраняется.
func (c *Consensus) Stop() {
	c.mu.Lock()
	unwatch, unresolve, cancel := c.unwatch, c.unresolve, c.cancel
	c.unwatch, c.unresolve, c.cancel = nil, nil, nil
	if c.state == StateProposalOpen {
		c.state = StateIdle
	}
	c.mu.Unlock()

	for _, fn := range []func(){unwatch, unresolve, cancel} {
		if fn != nil {
			fn()
		}
	}
}

// Reset сбрасывает голосование полностью (выход из группы)
func (c *Consensus) Reset() {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.group = nil
	c.userID = ""
	c.state = StateIdle
	c.maxRound = 0
	c.openRound = 0
	c.resolved = 0
	c.prompted = 0
}

// State текущее состояние
func (c *Consensus) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Round наибольший увиденный номер раунда
func (c *Consensus) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.maxRound
}

// IsVotingInProgress открыт ли раунд
func (c *Consensus) IsVotingInProgress() bool {
	return c.State() == StateProposalOpen
}

// StartProposal открывает новый раунд. Доступно только спикеру;
// если раунд уже открыт, ничего не делает.
func (c *Consensus) StartProposal(ctx context.Context) error {
	c.mu.Lock()
	if c.group == nil {
		c.mu.Unlock()
		return ErrNotInGroup
	}
	role, _ := c.group.RoleOf(c.userID)
	if role != models.SpeakerRoleID {
		c.mu.Unlock()
		return ErrNotSpeaker
	}
	if c.state == StateProposalOpen {
		c.mu.Unlock()
		return nil
	}
	round := c.maxRound + 1
	proposal := models.NewProposal(round, c.userID, c.group.MemberIDs())
	c.mu.Unlock()
	proposal.Node = c.store.GetString(CurrentNodePath)

	if _, err := c.store.SetPath(proposalPath, proposal.ToValue(), pathstore.OriginLocal); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "proposal started", slog.Int("round", round))

	if c.announcer != nil {
		c.announcer.NotifySubmitProposal(round)
	}
	return nil
}

// Vote записывает голос участника в текущий раунд
func (c *Consensus) Vote(ctx context.Context, round int, vote models.Vote) error {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == "" {
		return ErrNotInGroup
	}

	value := map[string]any{"round": round, "vote": vote.String()}
	if _, err := c.store.SetPath(votesPath.Child(userID), value, pathstore.OriginLocal); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "vote cast", slog.Int("round", round), slog.String("vote", vote.String()))

	if c.announcer != nil {
		c.announcer.SendVote(round, vote)
	}
	return nil
}

// Proposal текущее предложение с учетом голосов участников
func (c *Consensus) Proposal() (*models.ProposalDocument, bool) {
	raw, err := c.store.GetPath(proposalPath)
	if err != nil || raw == nil {
		return nil, false
	}
	proposal, err := models.ProposalFromValue(raw)
	if err != nil {
		c.logger.Warn("malformed proposal", slog.Any("error", err))
		return nil, false
	}
	c.mergeVotes(proposal)
	return proposal, true
}

// mergeVotes накладывает голоса из votesByUser, поданные в раунд предложения
func (c *Consensus) mergeVotes(proposal *models.ProposalDocument) {
	raw, err := c.store.GetPath(votesPath)
	if err != nil {
		return
	}
	byUser, ok := raw.(map[string]any)
	if !ok {
		return
	}

	for userID, entry := range byUser {
		if _, member := proposal.Votes[userID]; !member {
			continue
		}
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		round, _ := fields["round"].(float64)
		if int(round) != proposal.Round {
			c.logger.Debug("ignoring vote for another round",
				slog.String("user_id", userID), slog.Int("round", int(round)), slog.Int("current", proposal.Round))
			continue
		}
		name, _ := fields["vote"].(string)
		vote, err := models.ParseVote(name)
		if err != nil {
			continue
		}
		proposal.Votes[userID] = vote
	}
}

func isVotingPath(p pathstore.Path) bool {
	if p.Equal(proposalPath) {
		return true
	}
	segments := p.Segments()
	if len(segments) < 2 {
		return false
	}
	prefix := votesPath.Segments()
	return len(segments) >= len(prefix) && segments[0] == prefix[0] && segments[1] == prefix[1]
}

// watch наблюдатель PathStore: открытие раундов и запросы подтверждения
func (c *Consensus) watch(change pathstore.Change) {
	if !isVotingPath(change.Path) {
		return
	}
	c.observe()
}

func (c *Consensus) observe() {
	proposal, ok := c.Proposal()
	if !ok {
		return
	}

	c.mu.Lock()
	if c.group == nil || proposal.Round <= c.resolved {
		c.mu.Unlock()
		return
	}
	if proposal.Round > c.maxRound {
		c.maxRound = proposal.Round
	}

	opened := false
	if proposal.Round > c.openRound {
		c.openRound = proposal.Round
		c.state = StateProposalOpen
		if c.unresolve != nil {
			c.unresolve()
		}
		c.unresolve = c.store.Subscribe(c.resolve)
		opened = true
	}

	prompt := false
	if vote, ok := proposal.Votes[c.userID]; ok && vote == models.VotePending && c.prompted < proposal.Round {
		c.prompted = proposal.Round
		prompt = true
	}
	ctx := c.ctx
	c.mu.Unlock()

	if opened {
		c.logger.Debug("proposal observed", slog.Int("round", proposal.Round))
		c.resolveProposal(proposal)
	}
	if prompt {
		go c.ask(ctx, proposal.Round)
	}
}

// ask запрашивает подтверждение вне наблюдателя: ответ может прийти не сразу
func (c *Consensus) ask(ctx context.Context, round int) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.prompter == nil {
		return
	}

	ok, err := c.prompter.Confirm(ctx, round)
	if err != nil {
		c.logger.Warn("vote prompt failed", slog.Int("round", round), slog.Any("error", err))
		return
	}
	vote := models.VoteRejected
	if ok {
		vote = models.VoteAccepted
	}
	if err := c.Vote(ctx, round, vote); err != nil {
		c.logger.Warn("failed to cast vote", slog.Int("round", round), slog.Any("error", err))
	}
}

// resolve наблюдатель раунда; отписывается при завершении раунда
func (c *Consensus) resolve(change pathstore.Change) {
	if !isVotingPath(change.Path) {
		return
	}
	proposal, ok := c.Proposal()
	if !ok {
		return
	}
	c.resolveProposal(proposal)
}

func (c *Consensus) resolveProposal(proposal *models.ProposalDocument) {
	resolution := proposal.Resolution()
	if resolution == models.ResolutionOpen {
		return
	}

	c.mu.Lock()
	if proposal.Round <= c.resolved || proposal.Round != c.openRound {
		c.mu.Unlock()
		return
	}
	c.resolved = proposal.Round
	c.state = StateResolved
	unresolve := c.unresolve
	c.unresolve = nil
	speaker := false
	if role, ok := c.group.RoleOf(c.userID); ok && role == models.SpeakerRoleID {
		speaker = true
	}
	ctx := c.ctx
	c.mu.Unlock()

	if unresolve != nil {
		unresolve()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.InfoContext(ctx, "proposal resolved",
		slog.Int("round", proposal.Round),
		slog.String("resolution", resolution.String()),
		slog.Any("votes", voteSummary(proposal)))

	if speaker && c.announcer != nil {
		c.announcer.SendVoteResult(proposal.Round, resolution == models.ResolutionApproved)
	}
	if c.onResolved != nil {
		c.onResolved(ctx, proposal.Round, resolution)
	}
	if resolution == models.ResolutionApproved && c.onApproved != nil {
		c.onApproved(ctx, proposal.Clone())
	}
}

func voteSummary(p *models.ProposalDocument) []string {
	out := make([]string, 0, len(p.Votes))
	for userID, vote := range p.Votes {
		out = append(out, userID+"="+vote.String())
	}
	sort.Strings(out)
	return out
}
