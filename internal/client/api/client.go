package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/pkg/api"
)

// StatusError ответ сервера с кодом ошибки
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// IsStatus проверяет, что ошибка - ответ сервера с указанным кодом
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// BaseURL адрес сервера
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitProficiency отправляет результат входного теста
func (c *Client) SubmitProficiency(ctx context.Context, req api.ProficiencyRequest) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/grouping/proficiency", "", req, nil); err != nil {
		return fmt.Errorf("submit proficiency failed: %w", err)
	}
	return nil
}

// GroupingStatus получает состояние формирования групп
func (c *Client) GroupingStatus(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/grouping/status", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("grouping status request failed: %w", err)
	}
	return &resp, nil
}

// LeaveGrouping удаляет участника из пула и группы
func (c *Client) LeaveGrouping(ctx context.Context, userID string) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/grouping/leave", "", api.LeaveRequest{UserID: userID}, nil); err != nil {
		return fmt.Errorf("leave grouping failed: %w", err)
	}
	return nil
}

// ManualGroup назначает группу вручную
func (c *Client) ManualGroup(ctx context.Context, req api.ManualGroupRequest) (*models.GroupInfo, error) {
	var resp models.GroupInfo
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/grouping/manual", "", req, &resp); err != nil {
		return nil, fmt.Errorf("manual group request failed: %w", err)
	}
	return &resp, nil
}

// SetTotal задает ожидаемое количество участников
func (c *Client) SetTotal(ctx context.Context, total int) (*api.TotalResponse, error) {
	var resp api.TotalResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/grouping/total", "", api.TotalRequest{Total: total}, &resp); err != nil {
		return nil, fmt.Errorf("set total request failed: %w", err)
	}
	return &resp, nil
}

// FormGroups формирует группы из всего пула
func (c *Client) FormGroups(ctx context.Context) (*api.FormResponse, error) {
	var resp api.FormResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/grouping/form", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("form groups request failed: %w", err)
	}
	return &resp, nil
}

// SaveSessionData сохраняет результат групповой сессии
func (c *Client) SaveSessionData(ctx context.Context, req api.SessionDataRequest) (*api.SessionDataResponse, error) {
	var resp api.SessionDataResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sessionData", "", req, &resp); err != nil {
		return nil, fmt.Errorf("save session data failed: %w", err)
	}
	return &resp, nil
}

// GetSessionData получает сохраненный результат сессии
func (c *Client) GetSessionData(ctx context.Context, sessionID string) (*models.SessionData, error) {
	var resp models.SessionData
	path := "/api/v1/sessionData/" + url.PathEscape(sessionID)
	if err := c.doRequest(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("get session data failed: %w", err)
	}
	return &resp, nil
}

// GetUserSessions получает сессии, в которых участвовал пользователь
func (c *Client) GetUserSessions(ctx context.Context, userID string) (*api.UserSessionsResponse, error) {
	var resp api.UserSessionsResponse
	path := "/api/v1/userSessionsData/" + url.PathEscape(userID)
	if err := c.doRequest(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("get user sessions failed: %w", err)
	}
	return &resp, nil
}

// GetComments получает комментарии сессии
func (c *Client) GetComments(ctx context.Context, sessionID string) (*api.CommentsResponse, error) {
	var resp api.CommentsResponse
	path := "/api/v1/comments/" + url.PathEscape(sessionID)
	if err := c.doRequest(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("get comments failed: %w", err)
	}
	return &resp, nil
}

// AddComment добавляет комментарий к полю сессии
func (c *Client) AddComment(ctx context.Context, req api.CommentRequest) (*models.Comment, error) {
	var resp models.Comment
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/comments/", "", req, &resp); err != nil {
		return nil, fmt.Errorf("add comment failed: %w", err)
	}
	return &resp, nil
}

// JoinSession получает адрес документа сессии и токен доступа
func (c *Client) JoinSession(ctx context.Context, sessionID, userID string) (*api.JoinSessionResponse, error) {
	var resp api.JoinSessionResponse
	req := api.JoinSessionRequest{SessionID: sessionID, UserID: userID}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/joinSession", "", req, &resp); err != nil {
		return nil, fmt.Errorf("join session failed: %w", err)
	}
	return &resp, nil
}

// SoftResetSession очищает документ сессии
func (c *Client) SoftResetSession(ctx context.Context, sessionID string) error {
	var resp api.SoftResetResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/softResetSession", "", api.SoftResetRequest{SessionID: sessionID}, &resp); err != nil {
		return fmt.Errorf("soft reset failed: %w", err)
	}
	return nil
}

// PullDocument получает записи документа новее since.
// documentURL - адрес из JoinSession.
func (c *Client) PullDocument(ctx context.Context, documentURL, token string, since int64) (*api.DocumentSyncResponse, error) {
	var resp api.DocumentSyncResponse
	target := documentURL + "?since=" + strconv.FormatInt(since, 10)
	if err := c.doRequest(ctx, http.MethodGet, target, token, nil, &resp); err != nil {
		return nil, fmt.Errorf("pull document failed: %w", err)
	}
	return &resp, nil
}

// SyncDocument отправляет локальные записи и получает записи сервера
func (c *Client) SyncDocument(ctx context.Context, documentURL, token string, req api.DocumentSyncRequest) (*api.DocumentSyncResponse, error) {
	var resp api.DocumentSyncResponse
	if err := c.doRequest(ctx, http.MethodPost, documentURL+"/sync", token, req, &resp); err != nil {
		return nil, fmt.Errorf("sync document failed: %w", err)
	}
	return &resp, nil
}

// resolve строит адрес запроса; абсолютные адреса используются как есть
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, token string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	// Декодируем успешный ответ
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
