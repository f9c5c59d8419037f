// Package replica синхронизирует выбранные поля состояния задачи
// между участниками сессии через реплицируемый документ.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/iudanet/gophcollab/pkg/api"
)

// ErrClosed документ закрыт
var ErrClosed = errors.New("replicated map is closed")

//go:generate moq -out map_mock.go . ReplicatedMap

// ReplicatedMap общий для сессии документ ключ-значение.
type ReplicatedMap interface {
	// Put записывает значение ключа
	Put(ctx context.Context, key string, value json.RawMessage) error

	// OnChange подписывает на изменения, сделанные другими участниками.
	// fn получает полный снимок документа.
	OnChange(fn func(snapshot map[string]json.RawMessage)) (cancel func())

	// Snapshot возвращает копию текущего содержимого
	Snapshot() map[string]json.RawMessage

	// Close отключается от документа, не удаляя его
	Close() error
}

// listeners набор подписчиков на изменения
type listeners struct {
	fns  map[int64]func(map[string]json.RawMessage)
	next int64
	mu   sync.Mutex
}

func (l *listeners) add(fn func(map[string]json.RawMessage)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int64]func(map[string]json.RawMessage))
	}
	l.next++
	id := l.next
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) notify(snapshot map[string]json.RawMessage) {
	l.mu.Lock()
	fns := make([]func(map[string]json.RawMessage), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(copySnapshot(snapshot))
	}
}

func (l *listeners) clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}

func copySnapshot(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		value := make(json.RawMessage, len(v))
		copy(value, v)
		out[k] = value
	}
	return out
}

// MemoryHub документы в памяти процесса. Участники, открывшие документ
// с одним идентификатором, видят изменения друг друга синхронно.
type MemoryHub struct {
	docs map[string]*memoryDoc
	mu   sync.Mutex
}

type memoryDoc struct {
	values  map[string]json.RawMessage
	handles map[*MemoryMap]struct{}
}

// NewMemoryHub создает пустой набор документов
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{docs: make(map[string]*memoryDoc)}
}

// Open подключается к документу, создавая его при первом обращении
func (h *MemoryHub) Open(documentID string) *MemoryMap {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, ok := h.docs[documentID]
	if !ok {
		doc = &memoryDoc{
			values:  make(map[string]json.RawMessage),
			handles: make(map[*MemoryMap]struct{}),
		}
		h.docs[documentID] = doc
	}

	m := &MemoryMap{hub: h, doc: doc}
	doc.handles[m] = struct{}{}
	return m
}

// Reset очищает документ, как мягкий сброс сессии на сервере
func (h *MemoryHub) Reset(documentID string) {
	h.mu.Lock()
	doc, ok := h.docs[documentID]
	if !ok {
		h.mu.Unlock()
		return
	}
	doc.values = make(map[string]json.RawMessage)
	targets, snapshot := h.targetsLocked(doc, nil)
	h.mu.Unlock()

	for _, t := range targets {
		t.listeners.notify(snapshot)
	}
}

func (h *MemoryHub) targetsLocked(doc *memoryDoc, except *MemoryMap) ([]*MemoryMap, map[string]json.RawMessage) {
	targets := make([]*MemoryMap, 0, len(doc.handles))
	for m := range doc.handles {
		if m != except {
			targets = append(targets, m)
		}
	}
	return targets, copySnapshot(doc.values)
}

// MemoryMap подключение участника к документу MemoryHub
type MemoryMap struct {
	hub       *MemoryHub
	doc       *memoryDoc
	listeners listeners
	closed    bool
}

// Put записывает значение и уведомляет остальных участников документа
func (m *MemoryMap) Put(_ context.Context, key string, value json.RawMessage) error {
	m.hub.mu.Lock()
	if m.closed {
		m.hub.mu.Unlock()
		return ErrClosed
	}
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	m.doc.values[key] = stored
	targets, snapshot := m.hub.targetsLocked(m.doc, m)
	m.hub.mu.Unlock()

	for _, t := range targets {
		t.listeners.notify(snapshot)
	}
	return nil
}

// OnChange подписывает на изменения других участников
func (m *MemoryMap) OnChange(fn func(map[string]json.RawMessage)) func() {
	return m.listeners.add(fn)
}

// Snapshot возвращает копию документа
func (m *MemoryMap) Snapshot() map[string]json.RawMessage {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	return copySnapshot(m.doc.values)
}

// Close отключает участника; документ остается в hub
func (m *MemoryMap) Close() error {
	m.hub.mu.Lock()
	m.closed = true
	delete(m.doc.handles, m)
	m.hub.mu.Unlock()

	m.listeners.clear()
	return nil
}

// Factory фабрика, открывающая документ hub по адресу из ответа координатора
func (h *MemoryHub) Factory() MapFactory {
	return func(_ context.Context, joined *api.JoinSessionResponse) (ReplicatedMap, error) {
		if joined == nil || joined.DocumentURL == "" {
			return nil, ErrNoDocument
		}
		return h.Open(joined.DocumentURL), nil
	}
}
