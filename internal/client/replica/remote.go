package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iudanet/gophcollab/internal/crdt"
	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/pkg/api"
)

// DefaultPollInterval период опроса документа на сервере
const DefaultPollInterval = 2 * time.Second

// DocumentTransport доступ к документу на сервере
type DocumentTransport interface {
	PullDocument(ctx context.Context, documentURL, token string, since int64) (*api.DocumentSyncResponse, error)
	SyncDocument(ctx context.Context, documentURL, token string, req api.DocumentSyncRequest) (*api.DocumentSyncResponse, error)
}

// RemoteMap реплика документа сервера в памяти клиента.
// Локальные записи применяются сразу и отправляются фоновым циклом,
// изменения других участников приходят опросом.
type RemoteMap struct {
	transport   DocumentTransport
	logger      *slog.Logger
	lww         *crdt.LWWMap
	clock       *crdt.LamportClock
	pending     map[string]struct{}
	kick        chan struct{}
	cancel      context.CancelFunc
	listeners   listeners
	documentURL string
	token       string
	interval    time.Duration
	since       int64
	resetAt     int64
	mu          sync.Mutex // pending, since, resetAt
	syncMu      sync.Mutex // один обмен с сервером одновременно
	closed      atomic.Bool
	started     bool
}

// NewRemoteMap создает реплику документа. nodeID идентифицирует клиента в записях LWW.
func NewRemoteMap(transport DocumentTransport, logger *slog.Logger, documentURL, token, nodeID string, interval time.Duration) *RemoteMap {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &RemoteMap{
		transport:   transport,
		logger:      logger,
		lww:         crdt.NewLWWMap(),
		clock:       crdt.NewLamportClockWithNodeID(nodeID),
		pending:     make(map[string]struct{}),
		kick:        make(chan struct{}, 1),
		documentURL: documentURL,
		token:       token,
		interval:    interval,
	}
}

// Start выполняет первую синхронизацию и запускает фоновый цикл.
// Цикл живет до Close, ctx ограничивает только первую синхронизацию.
func (m *RemoteMap) Start(ctx context.Context) error {
	if err := m.Sync(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.started = true
	m.mu.Unlock()

	go m.loop(loopCtx)
	return nil
}

func (m *RemoteMap) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}

		if err := m.Sync(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("document sync failed", slog.String("document", m.documentURL), slog.Any("error", err))
		}
	}
}

// Put применяет запись локально и ставит ее в очередь на отправку.
// Сеть не используется: вызов безопасен из наблюдателей PathStore.
func (m *RemoteMap) Put(_ context.Context, key string, value json.RawMessage) error {
	if m.closed.Load() {
		return ErrClosed
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	m.lww.Apply(&models.ReplicatedEntry{
		Key:       key,
		Value:     stored,
		Timestamp: m.clock.Tick(),
		NodeID:    m.clock.NodeID(),
		UpdatedAt: time.Now(),
	})

	m.mu.Lock()
	m.pending[key] = struct{}{}
	m.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
	return nil
}

// OnChange подписывает на изменения, полученные с сервера
func (m *RemoteMap) OnChange(fn func(map[string]json.RawMessage)) func() {
	return m.listeners.add(fn)
}

// Snapshot возвращает текущее содержимое реплики
func (m *RemoteMap) Snapshot() map[string]json.RawMessage {
	return m.lww.Values()
}

// Pending количество записей, ожидающих отправки
func (m *RemoteMap) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

// Close останавливает фоновый цикл, не дожидаясь запросов в полете.
// Неотправленные записи отбрасываются, документ на сервере сохраняется.
func (m *RemoteMap) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.listeners.clear()
	return nil
}

// Sync отправляет ожидающие записи и забирает записи новее последнего Seq
func (m *RemoteMap) Sync(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	outgoing := m.outgoing()

	m.mu.Lock()
	since := m.since
	m.mu.Unlock()

	var (
		resp *api.DocumentSyncResponse
		err  error
	)
	if len(outgoing) > 0 {
		resp, err = m.transport.SyncDocument(ctx, m.documentURL, m.token, api.DocumentSyncRequest{
			Entries: outgoing,
			Since:   since,
		})
	} else {
		resp, err = m.transport.PullDocument(ctx, m.documentURL, m.token, since)
	}
	if err != nil {
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if m.closed.Load() {
		return nil
	}

	m.acknowledge(outgoing)

	changed, reset := m.apply(resp)
	if reset {
		// После сброса нумерация Seq на сервере начинается заново
		resp, err = m.transport.PullDocument(ctx, m.documentURL, m.token, 0)
		if err != nil {
			return fmt.Errorf("failed to reload document after reset: %w", err)
		}
		m.apply(resp)
		changed = true
	}

	if changed {
		m.listeners.notify(m.lww.Values())
	}
	return nil
}

// outgoing собирает ожидающие записи в формате API
func (m *RemoteMap) outgoing() []api.DocumentEntry {
	m.mu.Lock()
	keys := make([]string, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	out := make([]api.DocumentEntry, 0, len(keys))
	for _, key := range keys {
		entry := m.lww.Get(key)
		if entry == nil {
			continue
		}
		out = append(out, api.DocumentEntry{
			Key:       entry.Key,
			Value:     entry.Value,
			Timestamp: entry.Timestamp,
			NodeID:    entry.NodeID,
			Deleted:   entry.Deleted,
			UpdatedAt: entry.UpdatedAt,
		})
	}
	return out
}

// acknowledge снимает отправленные записи с очереди, если их не перезаписали во время запроса
func (m *RemoteMap) acknowledge(sent []api.DocumentEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range sent {
		current := m.lww.Get(e.Key)
		if current == nil || current.Timestamp == e.Timestamp {
			delete(m.pending, e.Key)
		}
	}
}

// apply применяет ответ сервера. reset сообщает, что сервер сбросил документ
// после предыдущего обмена и его нужно перечитать целиком.
func (m *RemoteMap) apply(resp *api.DocumentSyncResponse) (changed, reset bool) {
	m.mu.Lock()
	if resp.ResetAt > m.resetAt {
		reset = m.started || m.since > 0
		m.resetAt = resp.ResetAt
	}
	if reset {
		m.since = 0
		m.pending = make(map[string]struct{})
		m.mu.Unlock()
		m.lww.Clear()
		return true, true
	}
	if resp.CurrentSeq > m.since {
		m.since = resp.CurrentSeq
	}
	m.mu.Unlock()

	for _, e := range resp.Entries {
		m.clock.Witness(e.Timestamp)
		if m.lww.Apply(&models.ReplicatedEntry{
			Key:       e.Key,
			Value:     e.Value,
			Timestamp: e.Timestamp,
			NodeID:    e.NodeID,
			Seq:       e.Seq,
			Deleted:   e.Deleted,
			UpdatedAt: e.UpdatedAt,
		}) {
			changed = true
		}
	}
	return changed, false
}

// RemoteFactory создает фабрику реплик поверх серверного документа
func RemoteFactory(transport DocumentTransport, logger *slog.Logger, nodeID string, interval time.Duration) MapFactory {
	return func(ctx context.Context, joined *api.JoinSessionResponse) (ReplicatedMap, error) {
		if joined == nil || joined.DocumentURL == "" || joined.Token == "" {
			return nil, ErrNoDocument
		}
		m := NewRemoteMap(transport, logger, joined.DocumentURL, joined.Token, nodeID, interval)
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
}
