package replica

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/pkg/api"
)

// fakeDocumentServer документ сервера в памяти с правилом LWW и нумерацией Seq
type fakeDocumentServer struct {
	entries map[string]api.DocumentEntry
	err     error
	seq     int64
	resetAt int64
	syncs   int
	mu      sync.Mutex
}

func newFakeDocumentServer() *fakeDocumentServer {
	return &fakeDocumentServer{entries: make(map[string]api.DocumentEntry)}
}

func (f *fakeDocumentServer) PullDocument(_ context.Context, _, _ string, since int64) (*api.DocumentSyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return f.pullLocked(since), nil
}

func (f *fakeDocumentServer) SyncDocument(_ context.Context, _, _ string, req api.DocumentSyncRequest) (*api.DocumentSyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.syncs++
	for _, e := range req.Entries {
		existing, ok := f.entries[e.Key]
		if ok && (existing.Timestamp > e.Timestamp || (existing.Timestamp == e.Timestamp && existing.NodeID >= e.NodeID)) {
			continue
		}
		f.seq++
		e.Seq = f.seq
		f.entries[e.Key] = e
	}
	return f.pullLocked(req.Since), nil
}

func (f *fakeDocumentServer) pullLocked(since int64) *api.DocumentSyncResponse {
	out := make([]api.DocumentEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return &api.DocumentSyncResponse{Entries: out, CurrentSeq: f.seq, ResetAt: f.resetAt}
}

func (f *fakeDocumentServer) reset(at int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = make(map[string]api.DocumentEntry)
	f.seq = 0
	f.resetAt = at
}

func (f *fakeDocumentServer) value(key string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.entries[key].Value
}

func newTestRemote(server *fakeDocumentServer, nodeID string) *RemoteMap {
	return NewRemoteMap(server, setupTestLogger(), "http://collab.local/api/v1/documents/d1", "tok", nodeID, time.Hour)
}

func TestRemoteMap_PutAndSync(t *testing.T) {
	server := newFakeDocumentServer()
	a := newTestRemote(server, "a")
	b := newTestRemote(server, "b")
	ctx := context.Background()

	var notified []map[string]json.RawMessage
	b.OnChange(func(snapshot map[string]json.RawMessage) {
		notified = append(notified, snapshot)
	})

	require.NoError(t, a.Put(ctx, "$.nodes.0.fieldValue", json.RawMessage(`"x"`)))
	assert.Equal(t, 1, a.Pending())
	assert.JSONEq(t, `"x"`, string(a.Snapshot()["$.nodes.0.fieldValue"]))

	require.NoError(t, a.Sync(ctx))
	assert.Equal(t, 0, a.Pending())
	assert.JSONEq(t, `"x"`, string(server.value("$.nodes.0.fieldValue")))

	require.NoError(t, b.Sync(ctx))
	require.Len(t, notified, 1)
	assert.JSONEq(t, `"x"`, string(notified[0]["$.nodes.0.fieldValue"]))

	// Повторный опрос без изменений не уведомляет
	require.NoError(t, b.Sync(ctx))
	assert.Len(t, notified, 1)
}

func TestRemoteMap_ConcurrentWritesConverge(t *testing.T) {
	server := newFakeDocumentServer()
	a := newTestRemote(server, "a")
	b := newTestRemote(server, "b")
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k", json.RawMessage(`1`)))
	require.NoError(t, b.Put(ctx, "k", json.RawMessage(`2`)))

	require.NoError(t, a.Sync(ctx))
	require.NoError(t, b.Sync(ctx))
	require.NoError(t, a.Sync(ctx))

	// Равные Timestamp: выигрывает больший NodeID
	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.JSONEq(t, `2`, string(a.Snapshot()["k"]))

	// Следующая запись a новее всех увиденных
	require.NoError(t, a.Put(ctx, "k", json.RawMessage(`3`)))
	require.NoError(t, a.Sync(ctx))
	require.NoError(t, b.Sync(ctx))
	assert.JSONEq(t, `3`, string(b.Snapshot()["k"]))
}

func TestRemoteMap_ResetClearsReplica(t *testing.T) {
	server := newFakeDocumentServer()
	a := newTestRemote(server, "a")
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k", json.RawMessage(`1`)))
	require.NoError(t, a.Sync(ctx))

	var notified []map[string]json.RawMessage
	a.OnChange(func(snapshot map[string]json.RawMessage) {
		notified = append(notified, snapshot)
	})

	server.reset(time.Now().UnixMilli())
	require.NoError(t, a.Sync(ctx))

	assert.Empty(t, a.Snapshot())
	require.Len(t, notified, 1)
	assert.Empty(t, notified[0])

	// После сброса новые записи видны с начала нумерации
	b := newTestRemote(server, "b")
	require.NoError(t, b.Put(ctx, "k", json.RawMessage(`5`)))
	require.NoError(t, b.Sync(ctx))
	require.NoError(t, a.Sync(ctx))
	assert.JSONEq(t, `5`, string(a.Snapshot()["k"]))
}

func TestRemoteMap_SyncErrorKeepsPending(t *testing.T) {
	server := newFakeDocumentServer()
	server.err = errors.New("unavailable")
	a := newTestRemote(server, "a")

	require.NoError(t, a.Put(context.Background(), "k", json.RawMessage(`1`)))
	require.Error(t, a.Sync(context.Background()))
	assert.Equal(t, 1, a.Pending())

	server.mu.Lock()
	server.err = nil
	server.mu.Unlock()

	require.NoError(t, a.Sync(context.Background()))
	assert.Equal(t, 0, a.Pending())
}

func TestRemoteMap_StartPushesInBackground(t *testing.T) {
	server := newFakeDocumentServer()
	a := newTestRemote(server, "a")

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Put(context.Background(), "k", json.RawMessage(`"v"`)))

	require.Eventually(t, func() bool {
		return server.value("k") != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Put(context.Background(), "k", json.RawMessage(`1`)), ErrClosed)
}

func TestRemoteFactory(t *testing.T) {
	server := newFakeDocumentServer()
	factory := RemoteFactory(server, setupTestLogger(), "u1", time.Hour)

	_, err := factory(context.Background(), &api.JoinSessionResponse{DocumentURL: "http://collab.local/d"})
	require.ErrorIs(t, err, ErrNoDocument)

	m, err := factory(context.Background(), &api.JoinSessionResponse{DocumentURL: "http://collab.local/d", Token: "tok"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	server.mu.Lock()
	server.err = errors.New("forbidden")
	server.mu.Unlock()
	_, err = factory(context.Background(), &api.JoinSessionResponse{DocumentURL: "http://collab.local/d", Token: "tok"})
	require.Error(t, err)
}

func TestRemoteMap_DocumentOverServer(t *testing.T) {
	server := newFakeDocumentServer()
	ctx := context.Background()

	storeA := newStore(t, taskTree())
	storeB := newStore(t, taskTree())
	docA := NewDocument(setupTestLogger(), storeA, staticCoordinator("http://collab.local/d"), RemoteFactory(server, setupTestLogger(), "a", time.Hour), "a")
	docB := NewDocument(setupTestLogger(), storeB, staticCoordinator("http://collab.local/d"), RemoteFactory(server, setupTestLogger(), "b", time.Hour), "b")

	scA, err := docA.Join(ctx, "s1")
	require.NoError(t, err)
	require.False(t, scA.LocalOnly())

	remoteA := scA.handle.(*RemoteMap)
	require.NoError(t, remoteA.Sync(ctx))

	_, err = storeA.Set("$.nodes.1.fieldValue", "y")
	require.NoError(t, err)
	require.NoError(t, remoteA.Sync(ctx))

	scB, err := docB.Join(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "y", storeB.GetString("$.nodes.1.fieldValue"))

	docA.Leave()
	docB.Leave()
	assert.False(t, scB.Ready())
	assert.NotNil(t, server.value("$.nodes.1.fieldValue"))
}
