package models

import (
	"encoding/json"
	"time"
)

// InteractionEvent одно примененное изменение состояния задачи.
type InteractionEvent struct {
	At     time.Time       `json:"at"`
	Path   string          `json:"path"`
	Value  json.RawMessage `json:"value"`
	Seq    int64           `json:"seq"`
	Remote bool            `json:"remote,omitempty"` // Remote изменение пришло из реплицируемого документа
}

// Profile участник на этом устройстве.
type Profile struct {
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
	Nickname  string    `json:"nickname,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
}
