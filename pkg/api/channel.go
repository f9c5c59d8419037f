package api

// Типы сообщений канала сессии
const (
	MessageJoin           = "join"
	MessageSubmitProposal = "submitProposal"
	MessageVote           = "vote"
	MessageVoteResult     = "voteResult"
	MessageShowSolution   = "showSolution"
	MessageError          = "error"
)

// SocketMessage сообщение канала сессии /ui-events
type SocketMessage struct {
	SenderRoleID *int   `json:"senderRoleId,omitempty"`
	AllApproved  *bool  `json:"allApproved,omitempty"`
	Type         string `json:"type"`
	GroupID      string `json:"groupId"`
	UserID       string `json:"userId"`
	Vote         string `json:"vote,omitempty"`
	CurrentNode  string `json:"currentNode,omitempty"`
	TargetNode   string `json:"targetNode,omitempty"`
	Error        string `json:"error,omitempty"`
	VotingRound  int    `json:"votingRound,omitempty"`
}

// IntPtr возвращает указатель на значение
func IntPtr(v int) *int {
	return &v
}

// BoolPtr возвращает указатель на значение
func BoolPtr(v bool) *bool {
	return &v
}
