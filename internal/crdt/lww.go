package crdt

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/iudanet/gophcollab/internal/models"
)

// LWWMap Last-Write-Wins map: реплицируемый документ сессии.
// Каждый ключ разрешается независимо по (Timestamp, NodeID).
type LWWMap struct {
	entries map[string]*models.ReplicatedEntry // map[key]entry
	mu      sync.RWMutex
}

// NewLWWMap создает пустой документ.
func NewLWWMap() *LWWMap {
	return &LWWMap{
		entries: make(map[string]*models.ReplicatedEntry),
	}
}

// Apply добавляет запись, если ключа нет или запись новее существующей.
// Возвращает true, если состояние изменилось.
func (m *LWWMap) Apply(entry *models.ReplicatedEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyLocked(entry)
}

// ApplyAll применяет пачку записей и возвращает количество принятых.
func (m *LWWMap) ApplyAll(entries []*models.ReplicatedEntry) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	applied := 0
	for _, e := range entries {
		if m.applyLocked(e) {
			applied++
		}
	}
	return applied
}

func (m *LWWMap) applyLocked(entry *models.ReplicatedEntry) bool {
	existing, exists := m.entries[entry.Key]

	// Если ключа нет - добавляем
	if !exists {
		m.entries[entry.Key] = entry.Clone()
		return true
	}

	// Если новая версия новее - обновляем
	if entry.IsNewerThan(existing) {
		m.entries[entry.Key] = entry.Clone()
		return true
	}

	// Та же версия могла получить Seq от сервера
	if entry.Timestamp == existing.Timestamp && entry.NodeID == existing.NodeID && entry.Seq > existing.Seq {
		existing.Seq = entry.Seq
	}

	return false
}

// Get возвращает запись по ключу или nil, если ключа нет или он удален.
func (m *LWWMap) Get(key string) *models.ReplicatedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[key]
	if !exists || entry.Deleted {
		return nil
	}

	return entry.Clone()
}

// Values возвращает текущие значения неудаленных ключей.
func (m *LWWMap) Values() map[string]json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(m.entries))
	for key, entry := range m.entries {
		if entry.Deleted {
			continue
		}
		value := make(json.RawMessage, len(entry.Value))
		copy(value, entry.Value)
		out[key] = value
	}
	return out
}

// Entries возвращает все записи, включая удаленные, отсортированные по ключу.
// Используется для синхронизации с другими узлами.
func (m *LWWMap) Entries() []*models.ReplicatedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ReplicatedEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// EntriesAfter возвращает записи с Timestamp больше since.
func (m *LWWMap) EntriesAfter(since int64) []*models.ReplicatedEntry {
	all := m.Entries()
	out := all[:0]
	for _, e := range all {
		if e.Timestamp > since {
			out = append(out, e)
		}
	}
	return out
}

// Merge объединяет документ с другим документом по правилу LWW.
// Операция коммутативна и идемпотентна.
func (m *LWWMap) Merge(other *LWWMap) {
	if m == other {
		return
	}
	incoming := other.Entries()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range incoming {
		m.applyLocked(e)
	}
}

// MaxTimestamp наибольший Timestamp среди записей.
func (m *LWWMap) MaxTimestamp() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var maxTS int64
	for _, e := range m.entries {
		if e.Timestamp > maxTS {
			maxTS = e.Timestamp
		}
	}
	return maxTS
}

// MaxSeq наибольший серверный Seq среди записей.
func (m *LWWMap) MaxSeq() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var maxSeq int64
	for _, e := range m.entries {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq
}

// Len количество неудаленных ключей.
func (m *LWWMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.entries {
		if !e.Deleted {
			count++
		}
	}
	return count
}

// Clear удаляет все записи. Используется при мягком сбросе сессии.
func (m *LWWMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*models.ReplicatedEntry)
}
