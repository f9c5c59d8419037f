// Package events читает поток назначений групп (Server-Sent Events).
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/iudanet/gophcollab/pkg/api"
)

// EventGroupAssigned имя события назначения группы
const EventGroupAssigned = "groupAssigned"

// Listener подписчик на события назначения групп
type Listener struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewListener создает подписчика. Таймаут у клиента не задается: поток бесконечный.
func NewListener(baseURL string, logger *slog.Logger) *Listener {
	return &Listener{
		httpClient: &http.Client{},
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Listen открывает поток для userID и вызывает fn для каждого назначения.
// Блокируется до отмены ctx или закрытия потока сервером.
func (l *Listener) Listen(ctx context.Context, userID string, fn func(api.GroupAssignmentEvent)) error {
	target := l.baseURL + "/api/v1/events?userId=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	err = l.read(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// read разбирает поток: строки event/data, событие завершается пустой строкой.
// Строки-комментарии (": ping") пропускаются.
func (l *Listener) read(r io.Reader, fn func(api.GroupAssignmentEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				l.dispatch(name, data.String(), fn)
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("event stream read failed: %w", err)
	}
	return io.EOF
}

func (l *Listener) dispatch(name, data string, fn func(api.GroupAssignmentEvent)) {
	if name != EventGroupAssigned {
		l.logger.Debug("skipping unknown event", slog.String("event", name))
		return
	}

	var event api.GroupAssignmentEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		l.logger.Warn("malformed group assignment event", slog.Any("error", err))
		return
	}
	fn(event)
}
