package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/storage"
)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// Используем in-memory database для тестов
	s, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
	}

	return s, cleanup
}

func TestSessionStorage_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	data := &models.SessionData{
		SessionID: "s1",
		TaskID:    "t1",
		GroupID:   "g1",
		Data:      json.RawMessage(`{"nodes":[{"id":1}]}`),
		Members: []models.SessionMember{
			{UserID: "u2", RoleID: 1},
			{UserID: "u1", RoleID: 0},
		},
		CreatedAt: time.UnixMilli(1_700_000_000_000),
	}
	require.NoError(t, s.SaveSessionData(ctx, data))

	got, err := s.GetSessionData(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, "g1", got.GroupID)
	assert.JSONEq(t, `{"nodes":[{"id":1}]}`, string(got.Data))
	assert.Equal(t, data.Members, got.Members)
	assert.True(t, data.CreatedAt.Equal(got.CreatedAt))

	err = s.SaveSessionData(ctx, data)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = s.GetSessionData(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStorage_GetUserSessions(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for i, members := range [][]string{{"a", "b"}, {"b", "c"}, {"c"}} {
		data := &models.SessionData{
			SessionID: "s" + string(rune('1'+i)),
			TaskID:    "t1",
			Data:      json.RawMessage(`{}`),
			CreatedAt: time.UnixMilli(int64(1000 + i)),
		}
		for role, id := range members {
			data.Members = append(data.Members, models.SessionMember{UserID: id, RoleID: role})
		}
		require.NoError(t, s.SaveSessionData(ctx, data))
	}

	tests := []struct {
		name string
		user string
		want []string
	}{
		{name: "one session", user: "a", want: []string{"s1"}},
		{name: "two sessions", user: "b", want: []string{"s1", "s2"}},
		{name: "no sessions", user: "z", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, err := s.GetUserSessions(ctx, tt.user)
			require.NoError(t, err)

			ids := make([]string, 0, len(sessions))
			for _, sd := range sessions {
				ids = append(ids, sd.SessionID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestCommentStorage(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	comments := []*models.Comment{
		{ID: "c2", SessionID: "s1", FieldID: "f1", UserID: "u1", Text: "second", CreatedAt: time.UnixMilli(2000)},
		{ID: "c1", SessionID: "s1", FieldID: "f1", UserID: "u2", Text: "first", Nickname: "bob", CreatedAt: time.UnixMilli(1000)},
		{ID: "c3", SessionID: "s2", FieldID: "f2", UserID: "u1", Text: "other", CreatedAt: time.UnixMilli(1500)},
	}
	for _, c := range comments {
		require.NoError(t, s.SaveComment(ctx, c))
	}

	got, err := s.GetComments(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "bob", got[0].Nickname)
	assert.Equal(t, "second", got[1].Text)

	got, err = s.GetComments(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, s.SaveComment(ctx, comments[0]), storage.ErrAlreadyExists)
}

func TestCollabStorage(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetCollabSession(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.ResetCollabSession(ctx, "s1", time.Now()), storage.ErrNotFound)

	cs, err := s.GetOrCreateCollabSession(ctx, "s1", "http://host/doc1")
	require.NoError(t, err)
	assert.Equal(t, "http://host/doc1", cs.DocumentURL)
	assert.True(t, cs.ResetAt.IsZero())

	// Повторное обращение не меняет URL
	cs, err = s.GetOrCreateCollabSession(ctx, "s1", "http://host/other")
	require.NoError(t, err)
	assert.Equal(t, "http://host/doc1", cs.DocumentURL)

	at := time.UnixMilli(1_700_000_123_456)
	require.NoError(t, s.ResetCollabSession(ctx, "s1", at))
	cs, err = s.GetCollabSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, at.Equal(cs.ResetAt))
}

func entry(key, value string, ts int64, node string) *models.ReplicatedEntry {
	return &models.ReplicatedEntry{
		Key:       key,
		Value:     json.RawMessage(value),
		Timestamp: ts,
		NodeID:    node,
	}
}

func TestDocumentStorage_SaveEntry(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	tests := []struct {
		entry     *models.ReplicatedEntry
		name      string
		wantSaved bool
		wantSeq   int64
	}{
		{name: "new entry", entry: entry("$.a.fieldValue", `"x"`, 1, "n1"), wantSaved: true, wantSeq: 1},
		{name: "newer timestamp", entry: entry("$.a.fieldValue", `"y"`, 2, "n1"), wantSaved: true, wantSeq: 2},
		{name: "older timestamp", entry: entry("$.a.fieldValue", `"old"`, 1, "n2"), wantSaved: false},
		{name: "same version", entry: entry("$.a.fieldValue", `"y"`, 2, "n1"), wantSaved: false},
		{name: "tie broken by node id", entry: entry("$.a.fieldValue", `"z"`, 2, "n2"), wantSaved: true, wantSeq: 3},
		{name: "other key", entry: entry("$.b.fieldValue", `1`, 1, "n1"), wantSaved: true, wantSeq: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := s.SaveEntry(ctx, "doc1", tt.entry)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSaved, saved)
			if tt.wantSaved {
				assert.Equal(t, tt.wantSeq, tt.entry.Seq)
			}
		})
	}

	_, err := s.SaveEntry(ctx, "doc1", entry("", `1`, 1, "n1"))
	assert.ErrorIs(t, err, storage.ErrInvalidEntry)
}

func TestDocumentStorage_EntriesSince(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	entries, current, err := s.EntriesSince(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, current)

	for i, key := range []string{"$.a", "$.b", "$.c"} {
		_, err := s.SaveEntry(ctx, "doc1", entry(key, `1`, int64(i+1), "n1"))
		require.NoError(t, err)
	}
	_, err = s.SaveEntry(ctx, "doc2", entry("$.z", `1`, 1, "n1"))
	require.NoError(t, err)

	entries, current, err = s.EntriesSince(ctx, "doc1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)
	require.Len(t, entries, 2)
	assert.Equal(t, "$.b", entries[0].Key)
	assert.Equal(t, "$.c", entries[1].Key)

	// Обновление ключа переносит его в конец
	_, err = s.SaveEntry(ctx, "doc1", entry("$.a", `2`, 10, "n1"))
	require.NoError(t, err)
	entries, _, err = s.EntriesSince(ctx, "doc1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "$.a", entries[0].Key)
	assert.JSONEq(t, `2`, string(entries[0].Value))
}

func TestDocumentStorage_ClearKeepsSeq(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.SaveEntry(ctx, "doc1", entry("$.a", `1`, 5, "n1"))
	require.NoError(t, err)
	require.NoError(t, s.ClearDocument(ctx, "doc1"))

	entries, current, err := s.EntriesSince(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(1), current)

	// После сброса запись с меньшим timestamp снова принимается
	e := entry("$.a", `2`, 1, "n1")
	saved, err := s.SaveEntry(ctx, "doc1", e)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, int64(2), e.Seq)
}
