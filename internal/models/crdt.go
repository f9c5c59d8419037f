package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// ReplicatedEntry представляет одно значение в реплицируемом документе сессии.
// Ключ - строка PathAddress (например "$.nodes.2.components.0.fieldValue"),
// значение - JSON без циклов.
type ReplicatedEntry struct {
	UpdatedAt time.Time       `json:"updated_at"` // UpdatedAt время последнего обновления (для информации)
	Key       string          `json:"key"`        // Key адрес поля в состоянии задачи
	NodeID    string          `json:"node_id"`    // NodeID идентификатор узла (клиента), создавшего эту версию
	Value     json.RawMessage `json:"value"`      // Value значение поля в виде JSON
	Timestamp int64           `json:"timestamp"`  // Timestamp Lamport timestamp для упорядочивания записей
	Seq       int64           `json:"seq"`        // Seq порядковый номер, назначенный сервером
	Deleted   bool            `json:"deleted"`    // Deleted флаг soft delete
}

// IsNewerThan сравнивает две записи по правилу LWW (Last-Write-Wins):
// 1. Сначала сравнивается Timestamp (больший выигрывает)
// 2. При равных Timestamp сравнивается NodeID (лексикографически)
func (e *ReplicatedEntry) IsNewerThan(other *ReplicatedEntry) bool {
	if e.Timestamp > other.Timestamp {
		return true
	}
	if e.Timestamp < other.Timestamp {
		return false
	}
	// Timestamps равны - сравниваем NodeID для детерминизма
	return e.NodeID > other.NodeID
}

// SameValue сообщает, совпадает ли значение записи с другим JSON значением.
func (e *ReplicatedEntry) SameValue(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(e.Value), bytes.TrimSpace(value))
}

// Clone создает глубокую копию записи
func (e *ReplicatedEntry) Clone() *ReplicatedEntry {
	value := make(json.RawMessage, len(e.Value))
	copy(value, e.Value)

	return &ReplicatedEntry{
		Key:       e.Key,
		Value:     value,
		Timestamp: e.Timestamp,
		NodeID:    e.NodeID,
		Seq:       e.Seq,
		Deleted:   e.Deleted,
		UpdatedAt: e.UpdatedAt,
	}
}
