package models

import (
	"encoding/json"
	"fmt"
)

// Vote голос участника в раунде.
type Vote int

const (
	VotePending Vote = iota
	VoteAccepted
	VoteRejected
)

var voteNames = map[Vote]string{
	VotePending:  "pending",
	VoteAccepted: "accepted",
	VoteRejected: "rejected",
}

// String возвращает строковое представление голоса
func (v Vote) String() string {
	if name, ok := voteNames[v]; ok {
		return name
	}
	return fmt.Sprintf("vote(%d)", int(v))
}

// ParseVote разбирает строковое представление голоса.
func ParseVote(s string) (Vote, error) {
	for v, name := range voteNames {
		if name == s {
			return v, nil
		}
	}
	return VotePending, fmt.Errorf("unknown vote %q", s)
}

// MarshalJSON кодирует голос строкой
func (v Vote) MarshalJSON() ([]byte, error) {
	name, ok := voteNames[v]
	if !ok {
		return nil, fmt.Errorf("unknown vote %d", int(v))
	}
	return json.Marshal(name)
}

// UnmarshalJSON декодирует голос из строки
func (v *Vote) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("vote must be a string: %w", err)
	}
	parsed, err := ParseVote(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Resolution итог раунда голосования.
type Resolution int

const (
	ResolutionOpen Resolution = iota
	ResolutionApproved
	ResolutionRejected
)

// String возвращает строковое представление итога
func (r Resolution) String() string {
	switch r {
	case ResolutionApproved:
		return "approved"
	case ResolutionRejected:
		return "rejected"
	default:
		return "open"
	}
}

// ProposalDocument состояние предложения в реплицируемом документе.
type ProposalDocument struct {
	Votes map[string]Vote `json:"votes"`          // Votes голоса по userId
	Node  string          `json:"node,omitempty"` // Node узел задачи, на котором открыт раунд
	Round int             `json:"round"`          // Round номер раунда, строго возрастает
}

// NewProposal создает предложение для раунда: спикер уже согласен, остальные ждут.
func NewProposal(round int, speakerID string, memberIDs []string) *ProposalDocument {
	votes := make(map[string]Vote, len(memberIDs))
	for _, id := range memberIDs {
		votes[id] = VotePending
	}
	votes[speakerID] = VoteAccepted

	return &ProposalDocument{Round: round, Votes: votes}
}

// Resolution вычисляет итог раунда.
// Раунд открыт, пока есть Pending; затем одобрен только при всех Accepted.
func (p *ProposalDocument) Resolution() Resolution {
	if len(p.Votes) == 0 {
		return ResolutionOpen
	}
	rejected := false
	for _, v := range p.Votes {
		switch v {
		case VotePending:
			return ResolutionOpen
		case VoteRejected:
			rejected = true
		}
	}
	if rejected {
		return ResolutionRejected
	}
	return ResolutionApproved
}

// Clone создает глубокую копию предложения
func (p *ProposalDocument) Clone() *ProposalDocument {
	votes := make(map[string]Vote, len(p.Votes))
	for k, v := range p.Votes {
		votes[k] = v
	}
	return &ProposalDocument{Round: p.Round, Node: p.Node, Votes: votes}
}

// ToValue переводит предложение в простое JSON-значение для хранения в состоянии задачи.
func (p *ProposalDocument) ToValue() map[string]any {
	votes := make(map[string]any, len(p.Votes))
	for k, v := range p.Votes {
		votes[k] = v.String()
	}
	value := map[string]any{
		"round": p.Round,
		"votes": votes,
	}
	if p.Node != "" {
		value["node"] = p.Node
	}
	return value
}

// ProposalFromValue восстанавливает предложение из значения состояния задачи.
func ProposalFromValue(value any) (*ProposalDocument, error) {
	if value == nil {
		return nil, fmt.Errorf("proposal is empty")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proposal: %w", err)
	}
	var p ProposalDocument
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}
	if p.Votes == nil {
		p.Votes = make(map[string]Vote)
	}
	return &p, nil
}
