package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/grouping"
	"github.com/iudanet/gophcollab/pkg/api"
)

func setupGroupingHandler(t *testing.T) (*GroupingHandler, *grouping.Service) {
	t.Helper()
	svc := grouping.NewService(setupTestLogger(), nil, 3)
	return NewGroupingHandler(setupTestLogger(), svc), svc
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestGroupingHandler_ProficiencyFormsGroup(t *testing.T) {
	h, svc := setupGroupingHandler(t)

	for _, p := range []api.ProficiencyRequest{
		{UserID: "1", TaskID: "t1", Score: 7, Nickname: "ann"},
		{UserID: "2", TaskID: "t1", Score: 5},
		{UserID: "3", TaskID: "t1", Score: 6},
	} {
		w := postJSON(t, h.Proficiency, "/api/v1/grouping/proficiency", p)
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	group, ok := svc.GroupOf("2")
	require.True(t, ok)
	assert.Equal(t, 3, group.Size)
	speaker, ok := group.Speaker()
	require.True(t, ok)
	assert.Equal(t, "1", speaker.UserID)

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/api/v1/grouping/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status api.StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Empty(t, status.Pending)
	require.Len(t, status.Groups, 1)
	assert.Equal(t, 1, status.Formed.Groups3)
}

func TestGroupingHandler_ProficiencyValidation(t *testing.T) {
	h, _ := setupGroupingHandler(t)

	tests := []struct {
		body any
		name string
	}{
		{name: "missing user", body: api.ProficiencyRequest{TaskID: "t1", Score: 5}},
		{name: "missing task", body: api.ProficiencyRequest{UserID: "u1", Score: 5}},
		{name: "score too high", body: api.ProficiencyRequest{UserID: "u1", TaskID: "t1", Score: 101}},
		{name: "negative score", body: api.ProficiencyRequest{UserID: "u1", TaskID: "t1", Score: -1}},
		{name: "bad nickname", body: api.ProficiencyRequest{UserID: "u1", TaskID: "t1", Score: 5, Nickname: "<script>"}},
		{name: "not json", body: "plain string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.Proficiency, "/api/v1/grouping/proficiency", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "Bad Request", resp.Error)
		})
	}
}

func TestGroupingHandler_Manual(t *testing.T) {
	h, svc := setupGroupingHandler(t)

	w := postJSON(t, h.Manual, "/api/v1/grouping/manual", api.ManualGroupRequest{
		GroupID: "g-manual",
		UserIDs: []string{"a", "b"},
		RoleIDs: []int{1, 0},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var group models.GroupInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&group))
	assert.Equal(t, "g-manual", group.GroupID)

	role, ok := group.RoleOf("b")
	require.True(t, ok)
	assert.Equal(t, models.SpeakerRoleID, role)

	_, ok = svc.GroupOf("a")
	assert.True(t, ok)

	// роли не соответствуют участникам
	w = postJSON(t, h.Manual, "/api/v1/grouping/manual", api.ManualGroupRequest{
		GroupID: "g2",
		UserIDs: []string{"a", "b"},
		RoleIDs: []int{0},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGroupingHandler_Leave(t *testing.T) {
	h, svc := setupGroupingHandler(t)

	w := postJSON(t, h.Proficiency, "/api/v1/grouping/proficiency", api.ProficiencyRequest{UserID: "u1", TaskID: "t1", Score: 3})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = postJSON(t, h.Leave, "/api/v1/grouping/leave", api.LeaveRequest{UserID: "u1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, svc.Status().Pending)

	w = postJSON(t, h.Leave, "/api/v1/grouping/leave", api.LeaveRequest{UserID: "u1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGroupingHandler_TotalAndForm(t *testing.T) {
	h, _ := setupGroupingHandler(t)

	w := postJSON(t, h.Total, "/api/v1/grouping/total", api.TotalRequest{Total: 10})
	require.Equal(t, http.StatusOK, w.Code)

	var total api.TotalResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&total))
	assert.Equal(t, 10, total.Total)
	assert.Equal(t, 10, 3*total.Distribution.Groups3+4*total.Distribution.Groups4)

	for _, id := range []string{"a", "b"} {
		w = postJSON(t, h.Proficiency, "/api/v1/grouping/proficiency", api.ProficiencyRequest{UserID: id, TaskID: "t1", Score: 1})
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	w = httptest.NewRecorder()
	h.Form(w, httptest.NewRequest(http.MethodPost, "/api/v1/grouping/form", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var formed api.FormResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&formed))
	assert.NotNil(t, formed.Groups)
}
