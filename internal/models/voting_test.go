package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalDocument_Resolution(t *testing.T) {
	tests := []struct {
		votes map[string]Vote
		name  string
		want  Resolution
	}{
		{
			name:  "no votes",
			votes: map[string]Vote{},
			want:  ResolutionOpen,
		},
		{
			name:  "pending remains",
			votes: map[string]Vote{"u1": VoteAccepted, "u2": VotePending},
			want:  ResolutionOpen,
		},
		{
			name:  "all accepted",
			votes: map[string]Vote{"u1": VoteAccepted, "u2": VoteAccepted, "u3": VoteAccepted},
			want:  ResolutionApproved,
		},
		{
			name:  "rejected waits for pending votes",
			votes: map[string]Vote{"u1": VoteAccepted, "u2": VoteRejected, "u3": VotePending},
			want:  ResolutionOpen,
		},
		{
			name:  "one rejected after all voted",
			votes: map[string]Vote{"u1": VoteAccepted, "u2": VoteRejected, "u3": VoteAccepted},
			want:  ResolutionRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ProposalDocument{Round: 1, Votes: tt.votes}
			assert.Equal(t, tt.want, p.Resolution())
		})
	}
}

func TestNewProposal_SpeakerPreAccepted(t *testing.T) {
	p := NewProposal(3, "u1", []string{"u1", "u2", "u3"})

	assert.Equal(t, 3, p.Round)
	assert.Equal(t, VoteAccepted, p.Votes["u1"])
	assert.Equal(t, VotePending, p.Votes["u2"])
	assert.Equal(t, VotePending, p.Votes["u3"])
	assert.Equal(t, ResolutionOpen, p.Resolution())
}

func TestProposalFromValue(t *testing.T) {
	p := NewProposal(2, "u1", []string{"u1", "u2"})
	p.Votes["u2"] = VoteRejected

	// Значение проходит через JSON, как после репликации
	raw, err := json.Marshal(p.ToValue())
	require.NoError(t, err)
	var value any
	require.NoError(t, json.Unmarshal(raw, &value))

	got, err := ProposalFromValue(value)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = ProposalFromValue(nil)
	assert.Error(t, err)

	_, err = ProposalFromValue(map[string]any{"round": 1, "votes": map[string]any{"u1": "maybe"}})
	assert.Error(t, err)
}

func TestSessionMember_JSON(t *testing.T) {
	data := SessionData{
		SessionID: "s1",
		Members:   []SessionMember{{RoleID: 0, UserID: "u1"}, {RoleID: 1, UserID: "u2"}},
	}

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"memberIds":[[0,"u1"],[1,"u2"]]`)

	var got SessionData
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, data.Members, got.Members)

	var bad SessionMember
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &bad))
}
