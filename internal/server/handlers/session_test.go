package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/storage"
	"github.com/iudanet/gophcollab/internal/server/storage/sqlite"
	"github.com/iudanet/gophcollab/pkg/api"
)

type staticNicknames map[string]string

func (n staticNicknames) Nickname(userID string) (string, bool) {
	nick, ok := n[userID]
	return nick, ok
}

// mockSessionStorage мок хранилища сессий для проверки ошибок
type mockSessionStorage struct {
	saveErr error
	getErr  error
}

func (m *mockSessionStorage) SaveSessionData(_ context.Context, _ *models.SessionData) error {
	return m.saveErr
}

func (m *mockSessionStorage) GetSessionData(_ context.Context, _ string) (*models.SessionData, error) {
	return nil, m.getErr
}

func (m *mockSessionStorage) GetUserSessions(_ context.Context, _ string) ([]*models.SessionData, error) {
	return nil, m.getErr
}

func setupSessionHandler(t *testing.T) *SessionHandler {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := NewSessionHandler(setupTestLogger(), store, store, staticNicknames{"u2": "bob"})
	h.now = func() time.Time { return time.UnixMilli(5000) }
	return h
}

// withPathValue эмулирует разбор пути ServeMux
func withPathValue(r *http.Request, name, value string) *http.Request {
	r.SetPathValue(name, value)
	return r
}

func TestSessionHandler_SaveAndGet(t *testing.T) {
	h := setupSessionHandler(t)

	w := postJSON(t, h.SaveSessionData, "/api/v1/sessionData", api.SessionDataRequest{
		TaskID:      "t1",
		GroupID:     "g1",
		SessionData: json.RawMessage(`{"nodes":[1,2]}`),
		MemberIDs: []models.SessionMember{
			{RoleID: 0, UserID: "u1"},
			{RoleID: 1, UserID: "u2"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var saved api.SessionDataResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&saved))
	require.NotEmpty(t, saved.SessionID)

	req := withPathValue(httptest.NewRequest(http.MethodGet, "/api/v1/sessionData/"+saved.SessionID, nil), "id", saved.SessionID)
	w = httptest.NewRecorder()
	h.GetSessionData(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var data models.SessionData
	require.NoError(t, json.NewDecoder(w.Body).Decode(&data))
	assert.Equal(t, "t1", data.TaskID)
	assert.JSONEq(t, `{"nodes":[1,2]}`, string(data.Data))
	require.Len(t, data.Members, 2)
	assert.Equal(t, "u2", data.Members[1].UserID)

	req = withPathValue(httptest.NewRequest(http.MethodGet, "/api/v1/userSessionsData/u2", nil), "userId", "u2")
	w = httptest.NewRecorder()
	h.GetUserSessions(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var sessions api.UserSessionsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, saved.SessionID, sessions.Sessions[0].SessionID)
}

func TestSessionHandler_GetSessionData_NotFound(t *testing.T) {
	h := setupSessionHandler(t)

	req := withPathValue(httptest.NewRequest(http.MethodGet, "/api/v1/sessionData/missing", nil), "id", "missing")
	w := httptest.NewRecorder()
	h.GetSessionData(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_SaveSessionData_Errors(t *testing.T) {
	valid := api.SessionDataRequest{
		TaskID:      "t1",
		SessionData: json.RawMessage(`{}`),
		MemberIDs:   []models.SessionMember{{RoleID: 0, UserID: "u1"}},
	}

	tests := []struct {
		storage    *mockSessionStorage
		body       any
		name       string
		wantStatus int
	}{
		{
			name:       "missing members",
			storage:    &mockSessionStorage{},
			body:       api.SessionDataRequest{TaskID: "t1", SessionData: json.RawMessage(`{}`)},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate",
			storage:    &mockSessionStorage{saveErr: storage.ErrAlreadyExists},
			body:       valid,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "storage failure",
			storage:    &mockSessionStorage{saveErr: errors.New("disk full")},
			body:       valid,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionHandler(setupTestLogger(), tt.storage, nil, nil)
			w := postJSON(t, h.SaveSessionData, "/api/v1/sessionData", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSessionHandler_Comments(t *testing.T) {
	h := setupSessionHandler(t)

	w := postJSON(t, h.AddComment, "/api/v1/comments/", api.CommentRequest{
		SessionID: "s1",
		FieldID:   "f1",
		UserID:    "u2",
		Text:      "looks right",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Comment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "bob", created.Nickname)
	assert.Equal(t, time.UnixMilli(5000).UTC(), created.CreatedAt.UTC())

	w = postJSON(t, h.AddComment, "/api/v1/comments/", api.CommentRequest{
		SessionID: "s1",
		FieldID:   "f2",
		UserID:    "u9",
		Text:      "second",
		TimeStamp: time.UnixMilli(9000),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(t, h.AddComment, "/api/v1/comments/", api.CommentRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := withPathValue(httptest.NewRequest(http.MethodGet, "/api/v1/comments/s1", nil), "sessionId", "s1")
	w = httptest.NewRecorder()
	h.GetComments(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.CommentsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Comments, 2)
	assert.Equal(t, "looks right", resp.Comments[0].Text)
	assert.Equal(t, "bob", resp.Comments[0].Nickname)
	assert.Equal(t, "second", resp.Comments[1].Text)
	assert.Empty(t, resp.Comments[1].Nickname)
}
