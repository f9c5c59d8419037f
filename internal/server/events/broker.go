// Package events рассылает назначения групп участникам через Server-Sent Events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/metrics"
	"github.com/iudanet/gophcollab/pkg/api"
)

// EventGroupAssigned имя SSE события назначения группы
const EventGroupAssigned = "groupAssigned"

// subscriberBuffer размер буфера событий подписчика
const subscriberBuffer = 16

type subscriber struct {
	ch     chan api.GroupAssignmentEvent
	userID string // userID пусто - подписчик получает все события
}

// Broker рассылает события назначения групп подписчикам
type Broker struct {
	logger    *slog.Logger
	subs      map[string]*subscriber
	last      map[string]api.GroupAssignmentEvent // last последнее назначение по userId
	done      chan struct{}
	heartbeat time.Duration
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewBroker создает брокер событий
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:    logger,
		subs:      make(map[string]*subscriber),
		last:      make(map[string]api.GroupAssignmentEvent),
		done:      make(chan struct{}),
		heartbeat: 15 * time.Second,
	}
}

// Close завершает все открытые потоки событий
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// GroupFormed рассылает назначение всем подписчикам-участникам группы
// и подписчикам без фильтра. Медленный подписчик пропускает событие.
func (b *Broker) GroupFormed(ctx context.Context, group *models.GroupInfo) {
	event := api.NewGroupAssignmentEvent(group)

	b.mu.Lock()
	defer b.mu.Unlock()

	members := make(map[string]bool, len(group.Members))
	for _, m := range group.Members {
		members[m.UserID] = true
		b.last[m.UserID] = event
	}

	for id, sub := range b.subs {
		if sub.userID != "" && !members[sub.userID] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.WarnContext(ctx, "event subscriber is slow, dropping event",
				slog.String("subscriber_id", id), slog.String("group_id", group.GroupID))
		}
	}
}

// Subscribe регистрирует подписчика. Если для участника уже есть назначение,
// оно сразу помещается в канал. Возвращает канал и функцию отписки.
func (b *Broker) Subscribe(userID string) (<-chan api.GroupAssignmentEvent, func()) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan api.GroupAssignmentEvent, subscriberBuffer), userID: userID}

	b.mu.Lock()
	b.subs[id] = sub
	if event, ok := b.last[userID]; ok && userID != "" {
		sub.ch <- event
	}
	b.mu.Unlock()
	metrics.EventSubscribers.Inc()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			metrics.EventSubscribers.Dec()
		})
	}
}

// ParticipantLeft удаляет сохраненное назначение участника
func (b *Broker) ParticipantLeft(_ context.Context, userID string) {
	b.mu.Lock()
	delete(b.last, userID)
	b.mu.Unlock()
}

// ServeHTTP обрабатывает GET /api/v1/events?userId=...
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	userID := r.URL.Query().Get("userId")
	events, unsubscribe := b.Subscribe(userID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	b.logger.DebugContext(ctx, "event stream opened", slog.String("user_id", userID))

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.DebugContext(ctx, "event stream closed", slog.String("user_id", userID))
			return
		case <-b.done:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			if err := writeEvent(w, EventGroupAssigned, event); err != nil {
				b.logger.WarnContext(ctx, "failed to write event", slog.Any("error", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
