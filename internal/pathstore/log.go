package pathstore

import (
	"context"
	"sync"

	"github.com/iudanet/gophcollab/internal/models"
)

//go:generate moq -out log_mock.go . InteractionLog

// InteractionLog упорядоченный журнал примененных изменений состояния.
type InteractionLog interface {
	// Append добавляет событие в конец журнала
	Append(ctx context.Context, event models.InteractionEvent) error

	// Events возвращает все события в порядке Seq
	Events(ctx context.Context) ([]models.InteractionEvent, error)
}

// MemoryLog журнал в памяти процесса.
type MemoryLog struct {
	events []models.InteractionEvent
	mu     sync.Mutex
}

// NewMemoryLog создает пустой журнал в памяти
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append добавляет событие
func (l *MemoryLog) Append(_ context.Context, event models.InteractionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	return nil
}

// Events возвращает копию событий
func (l *MemoryLog) Events(_ context.Context) ([]models.InteractionEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.InteractionEvent, len(l.events))
	copy(out, l.events)
	return out, nil
}
