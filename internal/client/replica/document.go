package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/iudanet/gophcollab/internal/pathstore"
	"github.com/iudanet/gophcollab/pkg/api"
)

var (
	// ErrNoDocument сервер не вернул адрес документа
	ErrNoDocument = errors.New("no document handle")

	// ErrMalformedDocument документ содержит значение, которое нельзя применить
	ErrMalformedDocument = errors.New("malformed replicated document")

	// ErrJoinAborted подключение отменено выходом из сессии
	ErrJoinAborted = errors.New("session join aborted")
)

// Coordinator выдает адрес и токен документа сессии
type Coordinator interface {
	JoinSession(ctx context.Context, sessionID, userID string) (*api.JoinSessionResponse, error)
}

// MapFactory подключается к документу по ответу координатора
type MapFactory func(ctx context.Context, joined *api.JoinSessionResponse) (ReplicatedMap, error)

// DocumentOption настройка Document
type DocumentOption func(*Document)

// WithFilter задает фильтр реплицируемых полей
func WithFilter(filter TransferFilter) DocumentOption {
	return func(d *Document) {
		d.filter = filter
	}
}

// Document связывает PathStore участника с реплицируемым документом сессии.
// Одновременно активна не более чем одна сессия.
type Document struct {
	store       *pathstore.Store
	coordinator Coordinator
	factory     MapFactory
	logger      *slog.Logger
	session     *SessionContext
	cancelJoin  context.CancelFunc
	userID      string
	filter      TransferFilter
	gen         uint64
	mu          sync.Mutex
}

// NewDocument создает документ участника userID
func NewDocument(logger *slog.Logger, store *pathstore.Store, coordinator Coordinator, factory MapFactory, userID string, opts ...DocumentOption) *Document {
	d := &Document{
		store:       store,
		coordinator: coordinator,
		factory:     factory,
		logger:      logger,
		userID:      userID,
		filter:      DefaultFilter(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Join подключается к документу сессии и выполняет первичную синхронизацию:
// пустой документ заполняется реплицируемыми полями PathStore,
// непустой применяется к PathStore. Повторный Join той же сессии
// возвращает существующее подключение.
//
// Если координатор недоступен, сессия работает локально без синхронизации.
// Leave во время подключения отменяет его, Join возвращает ErrJoinAborted.
func (d *Document) Join(ctx context.Context, sessionID string) (*SessionContext, error) {
	d.mu.Lock()
	if d.session != nil && d.session.sessionID == sessionID {
		sc := d.session
		d.mu.Unlock()
		return sc, nil
	}
	prev := d.session
	d.session = nil
	gen := d.begin()
	joinCtx, cancel := context.WithCancel(ctx)
	d.cancelJoin = cancel
	d.mu.Unlock()
	defer cancel()

	if prev != nil {
		prev.close()
	}

	sc := &SessionContext{
		doc:       d,
		sessionID: sessionID,
		lastSeen:  make(map[string]json.RawMessage),
	}

	handle, err := d.attach(joinCtx, sessionID)
	if err != nil {
		if joinCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrJoinAborted
		}
		d.logger.Warn("collaboration unavailable, working locally",
			slog.String("session_id", sessionID), slog.Any("error", err))
		sc.localOnly = true
		return d.publishSession(gen, sc)
	}
	sc.handle = handle

	sc.applyMu.Lock()
	sc.cancels = append(sc.cancels,
		handle.OnChange(sc.OnRemoteChange),
		d.store.Subscribe(sc.onLocalChange),
	)
	err = sc.initialSync(joinCtx)
	sc.applyMu.Unlock()
	if err != nil {
		sc.close()
		return nil, err
	}

	sc, err = d.publishSession(gen, sc)
	if err != nil {
		return nil, err
	}
	d.logger.Info("joined collaboration session", slog.String("session_id", sessionID))
	return sc, nil
}

// begin начинает новое подключение; прежнее незавершенное отменяется
func (d *Document) begin() uint64 {
	if d.cancelJoin != nil {
		d.cancelJoin()
		d.cancelJoin = nil
	}
	d.gen++
	return d.gen
}

// publishSession делает сессию текущей, если подключение не было отменено
func (d *Document) publishSession(gen uint64, sc *SessionContext) (*SessionContext, error) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		sc.close()
		return nil, ErrJoinAborted
	}
	d.session = sc
	d.cancelJoin = nil
	d.mu.Unlock()
	return sc, nil
}

func (d *Document) attach(ctx context.Context, sessionID string) (ReplicatedMap, error) {
	joined, err := d.coordinator.JoinSession(ctx, sessionID, d.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	if joined == nil || joined.DocumentURL == "" {
		return nil, ErrNoDocument
	}

	handle, err := d.factory(ctx, joined)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	if handle == nil {
		return nil, ErrNoDocument
	}
	return handle, nil
}

// Session текущая сессия или nil
func (d *Document) Session() *SessionContext {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.session
}

// Publish отправляет значение в документ текущей сессии
func (d *Document) Publish(ctx context.Context, path string, value any) error {
	sc := d.Session()
	if sc == nil {
		return nil
	}
	return sc.Publish(ctx, path, value)
}

// Leave отключается от сессии. Документ на сервере не удаляется,
// незавершенное подключение отменяется без ожидания.
func (d *Document) Leave() {
	d.mu.Lock()
	sc := d.session
	d.session = nil
	d.begin()
	d.mu.Unlock()

	if sc != nil {
		sc.close()
		d.logger.Info("left collaboration session", slog.String("session_id", sc.sessionID))
	}
}

// SessionContext подключение к документу одной сессии
type SessionContext struct {
	doc       *Document
	handle    ReplicatedMap
	lastSeen  map[string]json.RawMessage
	sessionID string
	cancels   []func()
	applyMu   sync.Mutex // один проход применения удаленных изменений
	seenMu    sync.Mutex // lastSeen
	localOnly bool
	closed    bool
}

// SessionID идентификатор сессии
func (sc *SessionContext) SessionID() string {
	return sc.sessionID
}

// LocalOnly сессия работает без синхронизации
func (sc *SessionContext) LocalOnly() bool {
	return sc.localOnly
}

// Ready подключение к документу установлено и не закрыто
func (sc *SessionContext) Ready() bool {
	sc.seenMu.Lock()
	defer sc.seenMu.Unlock()

	return !sc.localOnly && !sc.closed
}

func (sc *SessionContext) initialSync(ctx context.Context) error {
	remote := sc.handle.Snapshot()
	if len(remote) == 0 {
		seed := sc.doc.filter.Fields(sc.doc.store.Snapshot())
		keys := make([]string, 0, len(seed))
		for key := range seed {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			encoded, err := pathstore.Encode(seed[key])
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrMalformedDocument, key, err)
			}
			if err := sc.handle.Put(ctx, key, encoded); err != nil {
				return fmt.Errorf("failed to seed %s: %w", key, err)
			}
			sc.remember(key, encoded)
		}
		sc.doc.logger.Debug("seeded empty document", slog.Int("fields", len(keys)))
		return nil
	}

	changes, err := sc.diff(remote)
	if err != nil {
		return err
	}
	sc.applyChanges(changes)
	sc.doc.logger.Debug("adopted remote document", slog.Int("fields", len(remote)))
	return nil
}

// Publish записывает реплицируемое поле в документ.
// Поля вне фильтра пропускаются без ошибки.
func (sc *SessionContext) Publish(ctx context.Context, path string, value any) error {
	p, err := pathstore.Parse(path)
	if err != nil {
		return err
	}
	return sc.publish(ctx, p, value)
}

func (sc *SessionContext) publish(ctx context.Context, p pathstore.Path, value any) error {
	if sc.handle == nil || !sc.doc.filter.Allows(p) {
		return nil
	}

	encoded, err := pathstore.Encode(value)
	if err != nil {
		return err
	}
	key := replicationKey(p)
	sc.remember(key, encoded)

	if err := sc.handle.Put(ctx, key, encoded); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

func (sc *SessionContext) remember(key string, value json.RawMessage) {
	sc.seenMu.Lock()
	defer sc.seenMu.Unlock()

	if sc.lastSeen != nil {
		sc.lastSeen[key] = value
	}
}

// onLocalChange наблюдатель PathStore: публикует только локальные изменения
func (sc *SessionContext) onLocalChange(change pathstore.Change) {
	if change.Origin != pathstore.OriginLocal {
		return
	}
	if err := sc.publish(context.Background(), change.Path, change.New); err != nil {
		sc.doc.logger.Warn("failed to publish change",
			slog.String("path", change.Path.String()), slog.Any("error", err))
	}
}

// OnRemoteChange применяет снимок документа к PathStore. Применяются только
// ключи, значение которых отличается от последнего виденного. Исчезнувшие
// ключи игнорируются: локальное состояние не стирается.
func (sc *SessionContext) OnRemoteChange(snapshot map[string]json.RawMessage) {
	sc.applyMu.Lock()
	defer sc.applyMu.Unlock()

	changes, err := sc.diff(snapshot)
	if err != nil {
		sc.doc.logger.Warn("skipping malformed remote snapshot",
			slog.String("session_id", sc.sessionID), slog.Any("error", err))
		return
	}
	sc.applyChanges(changes)
}

type remoteChange struct {
	value any
	path  pathstore.Path
}

// diff сравнивает снимок с последним виденным и запоминает снимок
func (sc *SessionContext) diff(snapshot map[string]json.RawMessage) ([]remoteChange, error) {
	sc.seenMu.Lock()
	defer sc.seenMu.Unlock()

	if sc.closed {
		return nil, nil
	}

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changes := make([]remoteChange, 0, len(keys))
	for _, key := range keys {
		raw := snapshot[key]
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedDocument, key, err)
		}
		if prev, ok := sc.lastSeen[key]; ok && sameJSON(prev, value) {
			continue
		}

		p, err := pathstore.Parse(key)
		if err != nil || !sc.doc.filter.Allows(p) {
			sc.doc.logger.Debug("ignoring remote key", slog.String("key", key))
			continue
		}
		changes = append(changes, remoteChange{path: p, value: value})
	}

	next := make(map[string]json.RawMessage, len(snapshot))
	for key, raw := range snapshot {
		next[key] = raw
	}
	sc.lastSeen = next
	return changes, nil
}

func (sc *SessionContext) applyChanges(changes []remoteChange) {
	for _, c := range changes {
		if _, err := sc.doc.store.SetPath(c.path, c.value, pathstore.OriginRemote); err != nil {
			sc.doc.logger.Warn("failed to apply remote change",
				slog.String("path", c.path.String()), slog.Any("error", err))
		}
	}
}

func sameJSON(raw json.RawMessage, value any) bool {
	var prev any
	if err := json.Unmarshal(raw, &prev); err != nil {
		return false
	}
	return pathstore.Equal(prev, value)
}

// close отписывается от изменений и отключается от документа, не дожидаясь сети
func (sc *SessionContext) close() {
	sc.seenMu.Lock()
	if sc.closed {
		sc.seenMu.Unlock()
		return
	}
	sc.closed = true
	sc.lastSeen = nil
	cancels := sc.cancels
	sc.cancels = nil
	sc.seenMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if sc.handle != nil {
		if err := sc.handle.Close(); err != nil {
			sc.doc.logger.Warn("failed to close document", slog.Any("error", err))
		}
	}
}
