package api

import (
	"encoding/json"
	"time"
)

// DocumentEntry одна запись реплицируемого документа
type DocumentEntry struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Key       string          `json:"key"`
	NodeID    string          `json:"node_id"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Seq       int64           `json:"seq"`
	Deleted   bool            `json:"deleted"`
}

// DocumentSyncRequest отправка локальных записей и запрос записей с сервера
type DocumentSyncRequest struct {
	Entries []DocumentEntry `json:"entries" validate:"dive"`
	Since   int64           `json:"since" validate:"gte=0"` // Since последний известный клиенту Seq
}

// DocumentSyncResponse записи документа новее Since
type DocumentSyncResponse struct {
	Entries    []DocumentEntry `json:"entries"`
	CurrentSeq int64           `json:"current_seq"` // CurrentSeq текущий Seq документа на сервере
	Conflicts  int             `json:"conflicts"`   // Conflicts количество отклоненных записей
	ResetAt    int64           `json:"reset_at"`    // ResetAt время последнего мягкого сброса (unix ms), 0 - не сбрасывался
}
