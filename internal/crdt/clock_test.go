package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLamportClock(t *testing.T) {
	clock := NewLamportClock()

	require.NotNil(t, clock)
	assert.Equal(t, int64(0), clock.Now(), "Initial counter should be 0")
	assert.NotEmpty(t, clock.NodeID(), "NodeID should not be empty")
	assert.NotEqual(t, clock.NodeID(), NewLamportClock().NodeID())
}

func TestLamportClock_Tick_Monotonicity(t *testing.T) {
	clock := NewLamportClockWithNodeID("node")

	var previous int64
	for i := 0; i < 100; i++ {
		current := clock.Tick()
		assert.Greater(t, current, previous, "Tick should always increase")
		previous = current
	}
}

func TestLamportClock_Update(t *testing.T) {
	tests := []struct {
		name     string
		local    int64
		remote   int64
		expected int64
	}{
		{name: "remote ahead", local: 3, remote: 10, expected: 11},
		{name: "remote behind", local: 10, remote: 3, expected: 11},
		{name: "equal", local: 5, remote: 5, expected: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewLamportClockWithNodeID("node")
			clock.Witness(tt.local)
			assert.Equal(t, tt.expected, clock.Update(tt.remote))
		})
	}
}

func TestLamportClock_Witness(t *testing.T) {
	clock := NewLamportClockWithNodeID("node")

	clock.Witness(7)
	assert.Equal(t, int64(7), clock.Now())

	clock.Witness(2)
	assert.Equal(t, int64(7), clock.Now(), "Witness never moves the clock back")

	assert.Equal(t, int64(8), clock.Tick())
}

func TestLamportClock_ConcurrentTick(t *testing.T) {
	clock := NewLamportClockWithNodeID("node")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Tick()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), clock.Now())
}
