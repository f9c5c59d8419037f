package voting

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/internal/client/replica"
	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/pathstore"
	"github.com/iudanet/gophcollab/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticCoordinator string

func (s staticCoordinator) JoinSession(context.Context, string, string) (*api.JoinSessionResponse, error) {
	return &api.JoinSessionResponse{DocumentURL: string(s), Token: "tok"}, nil
}

// recordingAnnouncer запоминает отправленные сообщения
type recordingAnnouncer struct {
	proposals []int
	votes     []models.Vote
	results   []bool
	mu        sync.Mutex
}

func (r *recordingAnnouncer) NotifySubmitProposal(round int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals = append(r.proposals, round)
	return true
}

func (r *recordingAnnouncer) SendVote(_ int, vote models.Vote) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes = append(r.votes, vote)
	return true
}

func (r *recordingAnnouncer) SendVoteResult(_ int, approved bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, approved)
	return true
}

func (r *recordingAnnouncer) Results() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.results...)
}

func testGroup(ids ...string) *models.GroupInfo {
	g := &models.GroupInfo{GroupID: "g1", TaskID: "t1", Size: len(ids)}
	for i, id := range ids {
		g.Members = append(g.Members, models.Member{UserID: id, RoleID: i})
	}
	return g
}

// participant участник с собственным PathStore, подключенный к общему документу
type participant struct {
	consensus *Consensus
	store     *pathstore.Store
	announcer *recordingAnnouncer
	approved  atomic.Int32
	resolved  chan models.Resolution
}

func newParticipant(t *testing.T, hub *replica.MemoryHub, group *models.GroupInfo, userID string, answer bool) *participant {
	t.Helper()

	p := &participant{
		store:     pathstore.New(setupTestLogger()),
		announcer: &recordingAnnouncer{},
		resolved:  make(chan models.Resolution, 4),
	}
	require.NoError(t, p.store.Load(map[string]any{}))

	doc := replica.NewDocument(setupTestLogger(), p.store, staticCoordinator("doc"), hub.Factory(), userID)
	_, err := doc.Join(context.Background(), "s1")
	require.NoError(t, err)
	t.Cleanup(doc.Leave)

	p.consensus = New(setupTestLogger(), p.store,
		PrompterFunc(func(context.Context, int) (bool, error) { return answer, nil }),
		WithAnnouncer(p.announcer),
		OnResolved(func(_ context.Context, _ int, r models.Resolution) { p.resolved <- r }),
		OnApproved(func(context.Context, *models.ProposalDocument) { p.approved.Add(1) }),
	)
	require.NoError(t, p.consensus.Start(context.Background(), group, userID))
	t.Cleanup(p.consensus.Stop)
	return p
}

func waitResolution(t *testing.T, p *participant) models.Resolution {
	t.Helper()
	select {
	case r := <-p.resolved:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("round was not resolved")
		return models.ResolutionOpen
	}
}

func TestConsensus_OneRejectionRejectsRound(t *testing.T) {
	hub := replica.NewMemoryHub()
	group := testGroup("a", "b", "c")

	speaker := newParticipant(t, hub, group, "a", true)
	accepting := newParticipant(t, hub, group, "b", true)
	rejecting := newParticipant(t, hub, group, "c", false)

	require.NoError(t, speaker.consensus.StartProposal(context.Background()))

	for _, p := range []*participant{speaker, accepting, rejecting} {
		assert.Equal(t, models.ResolutionRejected, waitResolution(t, p))
		assert.Equal(t, int32(0), p.approved.Load())
		assert.False(t, p.consensus.IsVotingInProgress())
		assert.Equal(t, StateResolved, p.consensus.State())
	}
	assert.Equal(t, []bool{false}, speaker.announcer.Results())
	assert.Empty(t, accepting.announcer.Results(), "only the speaker announces the result")
}

func TestConsensus_UnanimousApproval(t *testing.T) {
	hub := replica.NewMemoryHub()
	group := testGroup("a", "b", "c")

	speaker := newParticipant(t, hub, group, "a", true)
	others := []*participant{
		newParticipant(t, hub, group, "b", true),
		newParticipant(t, hub, group, "c", true),
	}

	require.NoError(t, speaker.consensus.StartProposal(context.Background()))

	for _, p := range append(others, speaker) {
		assert.Equal(t, models.ResolutionApproved, waitResolution(t, p))
	}

	// Повторные изменения тех же голосов не дают второго перехода
	_, err := others[0].store.Set("$.collaboration.votesByUser.b", map[string]any{"round": 1, "vote": "accepted", "again": true})
	require.NoError(t, err)
	assert.Never(t, func() bool {
		return speaker.approved.Load() > 1 || len(speaker.resolved) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(1), speaker.approved.Load())
	assert.Equal(t, []bool{true}, speaker.announcer.Results())
}

func TestConsensus_RoundsIncreaseAfterRejection(t *testing.T) {
	hub := replica.NewMemoryHub()
	group := testGroup("a", "b")

	speaker := newParticipant(t, hub, group, "a", true)
	member := newParticipant(t, hub, group, "b", false)

	require.NoError(t, speaker.consensus.StartProposal(context.Background()))
	assert.Equal(t, models.ResolutionRejected, waitResolution(t, speaker))
	assert.Equal(t, models.ResolutionRejected, waitResolution(t, member))
	assert.Equal(t, 1, speaker.consensus.Round())

	require.NoError(t, speaker.consensus.StartProposal(context.Background()))
	assert.Equal(t, 2, speaker.consensus.Round())

	// Голос первого раунда не переносится во второй: участник спрошен заново
	assert.Equal(t, models.ResolutionRejected, waitResolution(t, speaker))
	assert.Equal(t, 2, member.consensus.Round())
	assert.Equal(t, []int{1, 2}, speaker.announcer.proposals)
}

func TestConsensus_StartProposal(t *testing.T) {
	t.Run("not speaker", func(t *testing.T) {
		c := New(setupTestLogger(), pathstore.New(setupTestLogger()), nil)
		require.NoError(t, c.Start(context.Background(), testGroup("a", "b"), "b"))
		assert.ErrorIs(t, c.StartProposal(context.Background()), ErrNotSpeaker)
	})

	t.Run("not in group", func(t *testing.T) {
		c := New(setupTestLogger(), pathstore.New(setupTestLogger()), nil)
		assert.ErrorIs(t, c.Start(context.Background(), testGroup("a", "b"), "x"), ErrNotInGroup)
		assert.ErrorIs(t, c.Start(context.Background(), nil, "a"), ErrNotInGroup)
		assert.ErrorIs(t, c.StartProposal(context.Background()), ErrNotInGroup)
	})

	t.Run("open proposal is kept", func(t *testing.T) {
		store := pathstore.New(setupTestLogger())
		require.NoError(t, store.Load(map[string]any{"currentNode": "task"}))
		c := New(setupTestLogger(), store, nil)
		require.NoError(t, c.Start(context.Background(), testGroup("a", "b"), "a"))

		require.NoError(t, c.StartProposal(context.Background()))
		assert.True(t, c.IsVotingInProgress())
		require.NoError(t, c.StartProposal(context.Background()))
		assert.Equal(t, 1, c.Round())

		proposal, ok := c.Proposal()
		require.True(t, ok)
		assert.Equal(t, models.VoteAccepted, proposal.Votes["a"])
		assert.Equal(t, models.VotePending, proposal.Votes["b"])
		assert.Equal(t, "task", proposal.Node)
	})
}

func TestConsensus_PromptOncePerRound(t *testing.T) {
	store := pathstore.New(setupTestLogger())
	var prompts atomic.Int32
	release := make(chan struct{})
	defer close(release)

	c := New(setupTestLogger(), store, PrompterFunc(func(ctx context.Context, round int) (bool, error) {
		prompts.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return false, ctx.Err()
	}))
	group := testGroup("a", "b", "c")
	require.NoError(t, c.Start(context.Background(), group, "b"))
	defer c.Stop()

	proposal := models.NewProposal(1, "a", group.MemberIDs())
	_, err := store.ApplyRemote(ProposalPath, proposal.ToValue())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return prompts.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Голос другого участника и повтор предложения не открывают второй запрос
	_, err = store.ApplyRemote("$.collaboration.votesByUser.c", map[string]any{"round": 1, "vote": "accepted"})
	require.NoError(t, err)
	_, err = store.ApplyRemote("$.collaboration.votesByUser.x", map[string]any{"round": 1, "vote": "rejected"})
	require.NoError(t, err)
	assert.Never(t, func() bool { return prompts.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.True(t, c.IsVotingInProgress(), "votes from non-members are ignored")

	// Голос для другого раунда игнорируется
	_, err = store.ApplyRemote("$.collaboration.votesByUser.b", map[string]any{"round": 7, "vote": "rejected"})
	require.NoError(t, err)
	assert.True(t, c.IsVotingInProgress())
}

func TestConsensus_RejectionWaitsForPendingVotes(t *testing.T) {
	store := pathstore.New(setupTestLogger())
	resolved := make(chan models.Resolution, 1)
	c := New(setupTestLogger(), store, nil,
		OnResolved(func(_ context.Context, _ int, r models.Resolution) { resolved <- r }))
	group := testGroup("a", "b", "c")
	require.NoError(t, c.Start(context.Background(), group, "a"))
	defer c.Stop()

	proposal := models.NewProposal(1, "a", group.MemberIDs())
	_, err := store.ApplyRemote(ProposalPath, proposal.ToValue())
	require.NoError(t, err)

	_, err = store.ApplyRemote("$.collaboration.votesByUser.c", map[string]any{"round": 1, "vote": "rejected"})
	require.NoError(t, err)
	assert.True(t, c.IsVotingInProgress(), "b has not voted yet")
	assert.Empty(t, resolved)

	_, err = store.ApplyRemote("$.collaboration.votesByUser.b", map[string]any{"round": 1, "vote": "accepted"})
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionRejected, <-resolved)
	assert.False(t, c.IsVotingInProgress())
}

func TestConsensus_Reset(t *testing.T) {
	store := pathstore.New(setupTestLogger())
	c := New(setupTestLogger(), store, nil)
	require.NoError(t, c.Start(context.Background(), testGroup("a", "b"), "a"))
	require.NoError(t, c.StartProposal(context.Background()))

	c.Reset()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, c.Round())
	assert.ErrorIs(t, c.StartProposal(context.Background()), ErrNotInGroup)
}
