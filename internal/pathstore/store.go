package pathstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/iudanet/gophcollab/internal/models"
)

// Origin источник изменения.
type Origin int

const (
	// OriginLocal изменение сделано локальным участником
	OriginLocal Origin = iota
	// OriginRemote изменение применено из реплицируемого документа
	OriginRemote
)

// Change уведомление об примененном изменении.
type Change struct {
	Old    any
	New    any
	Path   Path
	Seq    int64
	Origin Origin
}

// Observer получает изменения после их применения.
type Observer func(Change)

// Store дерево состояния задачи с адресацией по PathAddress.
// Наблюдатели вызываются синхронно в горутине, сделавшей изменение,
// после снятия блокировки, в порядке подписки.
type Store struct {
	root      map[string]any
	log       InteractionLog
	logger    *slog.Logger
	observers map[int64]Observer
	nextObs   int64
	seq       int64
	mu        sync.Mutex
}

// Option настройка Store
type Option func(*Store)

// WithLog задает журнал изменений
func WithLog(log InteractionLog) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New создает пустое состояние задачи
func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		root:      make(map[string]any),
		log:       NewMemoryLog(),
		logger:    logger,
		observers: make(map[int64]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log возвращает журнал изменений
func (s *Store) Log() InteractionLog {
	return s.log
}

// Load заменяет дерево состояния целиком. Журнал и наблюдатели не затрагиваются.
func (s *Store) Load(tree map[string]any) error {
	normalized, err := Normalize(tree)
	if err != nil {
		return err
	}
	root, ok := normalized.(map[string]any)
	if !ok {
		root = make(map[string]any)
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	return nil
}

// Snapshot возвращает глубокую копию дерева
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deepCopy(s.root).(map[string]any)
}

// Get читает значение по строковому адресу.
func (s *Store) Get(path string) (any, error) {
	p, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return s.GetPath(p)
}

// GetPath возвращает одно значение, если совпадение ровно одно, иначе список совпадений.
// Для конкретного адреса без совпадений возвращает ErrPathNotFound.
func (s *Store) GetPath(p Path) (any, error) {
	s.mu.Lock()
	matches := resolve(s.root, p.segments)
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = deepCopy(m)
	}
	s.mu.Unlock()

	switch {
	case len(out) == 1:
		return out[0], nil
	case len(out) == 0 && p.IsConcrete():
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
	default:
		return out, nil
	}
}

// GetString читает строковое значение; отсутствие значения дает пустую строку.
func (s *Store) GetString(path string) string {
	v, err := s.Get(path)
	if err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// Set записывает значение по строковому адресу как локальное изменение.
func (s *Store) Set(path string, value any) (bool, error) {
	p, err := Parse(path)
	if err != nil {
		return false, err
	}
	return s.SetPath(p, value, OriginLocal)
}

// ApplyRemote записывает значение, пришедшее из реплицируемого документа.
func (s *Store) ApplyRemote(path string, value any) (bool, error) {
	p, err := Parse(path)
	if err != nil {
		return false, err
	}
	return s.SetPath(p, value, OriginRemote)
}

// SetPath записывает значение, создавая недостающие промежуточные объекты.
// Если текущее значение совпадает с новым, ничего не меняется и уведомлений нет.
func (s *Store) SetPath(p Path, value any, origin Origin) (bool, error) {
	if !p.IsConcrete() {
		return false, fmt.Errorf("%w: %s", ErrAmbiguousPath, p)
	}
	if p.Len() == 0 {
		return false, fmt.Errorf("%w: cannot replace root", ErrInvalidPath)
	}

	normalized, err := Normalize(value)
	if err != nil {
		return false, err
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	s.mu.Lock()
	old, exists := lookup(s.root, p.segments)
	if exists && Equal(old, normalized) {
		s.mu.Unlock()
		return false, nil
	}

	if err := assign(s.root, p.segments, normalized); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.seq++

	event := models.InteractionEvent{
		At:     time.Now(),
		Path:   p.String(),
		Value:  encoded,
		Seq:    s.seq,
		Remote: origin == OriginRemote,
	}
	if err := s.log.Append(context.Background(), event); err != nil {
		// Состояние уже изменено, журнал отстает на одно событие
		s.logger.Warn("failed to append interaction", "path", event.Path, "seq", event.Seq, "error", err)
	}
	change := Change{Path: p, Old: deepCopy(old), New: deepCopy(normalized), Seq: s.seq, Origin: origin}
	observers := s.snapshotObservers()
	s.mu.Unlock()

	for _, obs := range observers {
		obs(change)
	}
	return true, nil
}

// ResetValues сбрасывает значения по адресам в nil. Отсутствующие адреса пропускаются.
func (s *Store) ResetValues(paths []string) error {
	for _, path := range paths {
		if _, err := s.Get(path); err != nil {
			continue
		}
		if _, err := s.Set(path, nil); err != nil {
			return fmt.Errorf("failed to reset %s: %w", path, err)
		}
	}
	return nil
}

// Replay применяет события журнала по порядку, не дописывая их в журнал.
func (s *Store) Replay(events []models.InteractionEvent) error {
	saved := s.log
	s.mu.Lock()
	s.log = discardLog{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.log = saved
		s.mu.Unlock()
	}()

	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	for _, ev := range events {
		p, err := Parse(ev.Path)
		if err != nil {
			return err
		}
		value, err := decode(ev.Value)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		origin := OriginLocal
		if ev.Remote {
			origin = OriginRemote
		}
		if _, err := s.SetPath(p, value, origin); err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Subscribe регистрирует наблюдателя. Возвращает функцию отписки.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotObservers() []Observer {
	ids := make([]int64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

type discardLog struct{}

func (discardLog) Append(context.Context, models.InteractionEvent) error { return nil }
func (discardLog) Events(context.Context) ([]models.InteractionEvent, error) {
	return nil, nil
}

// resolve находит все значения по сегментам
func resolve(root any, segments []Segment) []any {
	current := []any{root}
	for _, seg := range segments {
		next := make([]any, 0, len(current))
		for _, node := range current {
			switch seg.Kind {
			case KindKey:
				if child, ok := childByKey(node, seg.Key); ok {
					next = append(next, child)
				}
			case KindIndex:
				if child, ok := childByIndex(node, seg.Index); ok {
					next = append(next, child)
				}
			case KindWildcard:
				next = append(next, children(node)...)
			case KindFilter:
				for _, child := range children(node) {
					obj, ok := child.(map[string]any)
					if !ok {
						continue
					}
					if field, ok := obj[seg.Key]; ok && Equal(field, seg.Value) {
						next = append(next, child)
					}
				}
			}
		}
		current = next
	}
	return current
}

// lookup ищет значение по конкретному адресу
func lookup(root any, segments []Segment) (any, bool) {
	matches := resolve(root, segments)
	if len(matches) != 1 {
		return nil, false
	}
	return matches[0], true
}

func childByKey(node any, key string) (any, bool) {
	switch v := node.(type) {
	case map[string]any:
		child, ok := v[key]
		return child, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}
		return childByIndex(v, idx)
	default:
		return nil, false
	}
}

func childByIndex(node any, idx int) (any, bool) {
	switch v := node.(type) {
	case []any:
		if idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case map[string]any:
		child, ok := v[strconv.Itoa(idx)]
		return child, ok
	default:
		return nil, false
	}
}

// assign записывает значение, создавая промежуточные объекты
func assign(root map[string]any, segments []Segment, value any) error {
	var container any = root
	for i, seg := range segments {
		last := i == len(segments)-1

		switch c := container.(type) {
		case map[string]any:
			key := seg.Key
			if seg.Kind == KindIndex {
				key = strconv.Itoa(seg.Index)
			}
			if last {
				c[key] = value
				return nil
			}
			child, ok := c[key]
			if !ok || !isContainer(child) {
				child = make(map[string]any)
				c[key] = child
			}
			container = child
		case []any:
			idx := seg.Index
			if seg.Kind == KindKey {
				n, err := strconv.Atoi(seg.Key)
				if err != nil {
					return fmt.Errorf("%w: key %q on array", ErrPathNotFound, seg.Key)
				}
				idx = n
			}
			if idx < 0 || idx >= len(c) {
				return fmt.Errorf("%w: index %d out of range", ErrPathNotFound, idx)
			}
			if last {
				c[idx] = value
				return nil
			}
			if !isContainer(c[idx]) {
				c[idx] = make(map[string]any)
			}
			container = c[idx]
		}
	}
	return nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
