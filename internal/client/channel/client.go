// Package channel клиент канала сессии /ui-events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/pathstore"
	"github.com/iudanet/gophcollab/pkg/api"
)

const (
	writeTimeout = 10 * time.Second
	dialTimeout  = 10 * time.Second
)

// Адреса указателей узлов в состоянии задачи
const (
	CurrentNodePath  = "$.currentNode"
	PreviousNodePath = "$.previousNode"
)

// ErrNotConnected канал не подключен
var ErrNotConnected = errors.New("channel is not connected")

// Handler обработчик входящих сообщений
type Handler func(msg api.SocketMessage)

// Client соединение участника с каналом группы.
// Ошибка подключения не фатальна: клиент продолжает работать локально.
type Client struct {
	dialer    *websocket.Dialer
	store     *pathstore.Store
	logger    *slog.Logger
	conn      *websocket.Conn
	handlers  map[string][]Handler
	done      chan struct{}
	endpoint  string
	groupID   string
	userID    string
	mu        sync.Mutex
	writeMu   sync.Mutex
	connectMu sync.Mutex // один Connect одновременно
}

// NewClient создает клиента. serverURL - адрес HTTP сервера, схема меняется на ws/wss.
// store получает указатели узлов из сообщений showSolution и может быть nil.
func NewClient(serverURL string, logger *slog.Logger, store *pathstore.Store) (*Client, error) {
	endpoint, err := socketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		store:    store,
		logger:   logger,
		handlers: make(map[string][]Handler),
		endpoint: endpoint,
	}, nil
}

func socketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ui-events"
	return u.String(), nil
}

// On регистрирует обработчик сообщений типа msgType
func (c *Client) On(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// Connect подключается к каналу группы и отправляет join.
// Повторный вызов для той же пары группа/участник ничего не делает,
// для другой пары старое соединение закрывается.
// Ошибка подключения логируется, клиент остается без соединения.
func (c *Client) Connect(ctx context.Context, groupID, userID string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.conn != nil && c.groupID == groupID && c.userID == userID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.Disconnect()

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		c.logger.Warn("session channel unavailable, working locally",
			slog.String("group_id", groupID), slog.Any("error", err))
		return nil
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.groupID = groupID
	c.userID = userID
	c.done = done
	c.mu.Unlock()

	go c.read(conn, done)

	if !c.Send(api.SocketMessage{Type: api.MessageJoin}) {
		c.Disconnect()
		c.logger.Warn("failed to join session channel", slog.String("group_id", groupID))
		return nil
	}

	c.logger.Info("connected to session channel",
		slog.String("group_id", groupID), slog.String("user_id", userID))
	return nil
}

// Connected есть ли соединение
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

// Send отправляет сообщение в канал группы. Группа и участник подставляются из соединения.
func (c *Client) Send(msg api.SocketMessage) bool {
	c.mu.Lock()
	conn := c.conn
	msg.GroupID = c.groupID
	msg.UserID = c.userID
	c.mu.Unlock()

	if conn == nil {
		c.logger.Debug("channel message dropped, not connected", slog.String("type", msg.Type))
		return false
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("failed to send channel message", slog.String("type", msg.Type), slog.Any("error", err))
		c.drop(conn)
		return false
	}
	return true
}

// NotifyShowSolution сообщает группе о переходе к решению
func (c *Client) NotifyShowSolution(currentNode, targetNode string) bool {
	return c.Send(api.SocketMessage{
		Type:        api.MessageShowSolution,
		CurrentNode: currentNode,
		TargetNode:  targetNode,
	})
}

// NotifySubmitProposal сообщает об открытии раунда голосования
func (c *Client) NotifySubmitProposal(round int) bool {
	return c.Send(api.SocketMessage{Type: api.MessageSubmitProposal, VotingRound: round})
}

// SendVote сообщает о голосе участника
func (c *Client) SendVote(round int, vote models.Vote) bool {
	return c.Send(api.SocketMessage{Type: api.MessageVote, VotingRound: round, Vote: vote.String()})
}

// SendVoteResult сообщает итог раунда
func (c *Client) SendVoteResult(round int, approved bool) bool {
	return c.Send(api.SocketMessage{
		Type:        api.MessageVoteResult,
		VotingRound: round,
		AllApproved: api.BoolPtr(approved),
	})
}

// Disconnect закрывает соединение
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.drop(conn)
}

// drop закрывает соединение и сбрасывает состояние, если оно еще текущее
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.groupID = ""
		c.userID = ""
	}
	c.mu.Unlock()

	_ = conn.Close()
}

func (c *Client) read(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var msg api.SocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("session channel closed", slog.Any("error", err))
			}
			c.drop(conn)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg api.SocketMessage) {
	switch msg.Type {
	case api.MessageShowSolution:
		c.applySolution(msg)
	case api.MessageError:
		c.logger.Warn("session channel rejected message", slog.String("error", msg.Error))
	}

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// applySolution переводит указатели узлов на решение. Переход применяется
// только с того узла, на котором участник сейчас находится.
func (c *Client) applySolution(msg api.SocketMessage) {
	if c.store == nil || msg.TargetNode == "" {
		return
	}
	if current := c.store.GetString(CurrentNodePath); msg.CurrentNode != "" && current != msg.CurrentNode {
		c.logger.Debug("ignoring stale showSolution",
			slog.String("from", msg.CurrentNode), slog.String("current", current))
		return
	}
	if msg.CurrentNode != "" {
		if _, err := c.store.Set(PreviousNodePath, msg.CurrentNode); err != nil {
			c.logger.Warn("failed to set previous node", slog.Any("error", err))
		}
	}
	if _, err := c.store.Set(CurrentNodePath, msg.TargetNode); err != nil {
		c.logger.Warn("failed to set current node", slog.Any("error", err))
	}
}

// Wait ждет завершения цикла чтения текущего соединения
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return ErrNotConnected
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
