package boltdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/internal/client/storage"
	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/pathstore"
)

func TestInteractions_AppendAndEvents(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	events, err := store.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	for i, path := range []string{"$.a", "$.b", "$.a"} {
		require.NoError(t, store.Append(ctx, models.InteractionEvent{
			At:    time.Now(),
			Path:  path,
			Value: json.RawMessage(`"v"`),
			Seq:   int64(100 - i),
		}))
	}

	events, err = store.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq, "sequence is assigned by storage")
	}
	assert.Equal(t, []string{"$.a", "$.b", "$.a"}, []string{events[0].Path, events[1].Path, events[2].Path})

	require.NoError(t, store.ClearInteractions(ctx))
	events, err = store.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// Журнал переживает перезапуск и восстанавливает состояние задачи
func TestInteractions_ReplayAfterRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	first, err := New(ctx, dbPath)
	require.NoError(t, err)
	state := pathstore.New(setupTestLogger(), pathstore.WithLog(first))
	_, err = state.Set("$.nodes.n1.fieldValue", "x")
	require.NoError(t, err)
	_, err = state.ApplyRemote("$.nodes.n1.fieldValue", "y")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer second.Close()

	// Второй запуск продолжает нумерацию
	restored := pathstore.New(setupTestLogger(), pathstore.WithLog(second))
	_, err = restored.Set("$.nodes.n1.fieldValue", "z")
	require.NoError(t, err)

	events, err := second.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[1].Remote)
	assert.Equal(t, int64(3), events[2].Seq)

	replayed := pathstore.New(setupTestLogger())
	require.NoError(t, replayed.Replay(events))
	assert.Equal(t, "z", replayed.GetString("$.nodes.n1.fieldValue"))
}

func TestInteractions_Closed(t *testing.T) {
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Append(context.Background(), models.InteractionEvent{}), storage.ErrStorageClosed)
	_, err = store.Events(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
