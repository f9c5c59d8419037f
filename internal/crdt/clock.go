package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// LamportClock логические часы Лампорта узла реплицируемого документа.
type LamportClock struct {
	nodeID  string     // уникальный идентификатор узла
	counter int64      // монотонно возрастающий счетчик
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewLamportClock создает часы со случайным идентификатором узла (UUID).
func NewLamportClock() *LamportClock {
	return NewLamportClockWithNodeID(uuid.New().String())
}

// NewLamportClockWithNodeID создает часы с заданным идентификатором узла.
// Используется для тестов и восстановления состояния.
func NewLamportClockWithNodeID(nodeID string) *LamportClock {
	return &LamportClock{nodeID: nodeID}
}

// Tick увеличивает счетчик для нового локального события.
func (lc *LamportClock) Tick() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Update учитывает удаленный timestamp: counter = max(local, remote) + 1
func (lc *LamportClock) Update(remoteTimestamp int64) int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remoteTimestamp > lc.counter {
		lc.counter = remoteTimestamp
	}
	lc.counter++

	return lc.counter
}

// Witness продвигает часы до remote без создания события.
// Используется при приеме пачки записей, чтобы следующая локальная запись была новее всех.
func (lc *LamportClock) Witness(remoteTimestamp int64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remoteTimestamp > lc.counter {
		lc.counter = remoteTimestamp
	}
}

// Now возвращает текущее значение счетчика без изменения.
func (lc *LamportClock) Now() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}

// NodeID возвращает идентификатор узла.
func (lc *LamportClock) NodeID() string {
	return lc.nodeID
}
