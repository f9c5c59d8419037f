// Package channel реализует серверную сторону канала сессии /ui-events:
// комнаты по группам и пересылку сообщений голосования участникам группы.
package channel

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/server/metrics"
	"github.com/iudanet/gophcollab/pkg/api"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Membership источник состава групп
type Membership interface {
	GroupOf(userID string) (*models.GroupInfo, bool)
}

type conn struct {
	ws      *websocket.Conn
	id      string
	groupID string
	userID  string
	roleID  int
	writeMu sync.Mutex
	joined  bool
}

func (c *conn) send(msg api.SocketMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

// Hub комнаты групп. Участник группы представлен одним соединением;
// повторный join того же участника заменяет старое соединение.
type Hub struct {
	members Membership
	logger  *slog.Logger
	rooms   map[string]map[string]*conn // rooms groupId -> userId -> соединение
	mu      sync.Mutex
}

// NewHub создает hub. members может быть nil - тогда роль берется из join.
func NewHub(logger *slog.Logger, members Membership) *Hub {
	return &Hub{
		members: members,
		logger:  logger,
		rooms:   make(map[string]map[string]*conn),
	}
}

// ServeHTTP обрабатывает GET /ui-events
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to upgrade the websocket", slog.Any("error", err))
		return
	}

	c := &conn{ws: ws, id: uuid.NewString()}
	metrics.ChannelConnections.Inc()
	defer func() {
		h.unregister(c)
		_ = ws.Close()
		metrics.ChannelConnections.Dec()
	}()

	h.serve(r.Context(), c)
}

func (h *Hub) serve(ctx context.Context, c *conn) {
	for {
		var msg api.SocketMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WarnContext(ctx, "channel connection lost",
					slog.String("user_id", c.userID), slog.Any("error", err))
			}
			return
		}

		if msg.Type == api.MessageJoin {
			h.join(ctx, c, msg)
			continue
		}
		h.relay(ctx, c, msg)
	}
}

func (h *Hub) join(ctx context.Context, c *conn, msg api.SocketMessage) {
	if msg.GroupID == "" || msg.UserID == "" {
		h.reject(ctx, c, msg, "join requires groupId and userId")
		return
	}

	role := -1
	if msg.SenderRoleID != nil {
		role = *msg.SenderRoleID
	}
	if h.members != nil {
		group, ok := h.members.GroupOf(msg.UserID)
		if !ok || group.GroupID != msg.GroupID {
			h.reject(ctx, c, msg, "user is not a member of the group")
			return
		}
		role, _ = group.RoleOf(msg.UserID)
	}

	h.mu.Lock()
	// Соединение переходит в другую комнату
	if c.joined && (c.groupID != msg.GroupID || c.userID != msg.UserID) {
		h.removeLocked(c)
	}
	room, ok := h.rooms[msg.GroupID]
	if !ok {
		room = make(map[string]*conn)
		h.rooms[msg.GroupID] = room
	}
	stale := room[msg.UserID]
	c.groupID, c.userID, c.roleID, c.joined = msg.GroupID, msg.UserID, role, true
	room[msg.UserID] = c
	others := h.othersLocked(c)
	h.mu.Unlock()

	if stale != nil && stale != c {
		// Старое соединение закрывается; его цикл чтения завершится сам
		_ = stale.ws.Close()
		h.logger.InfoContext(ctx, "replaced stale channel connection",
			slog.String("group_id", msg.GroupID), slog.String("user_id", msg.UserID))
	}

	ack := api.SocketMessage{
		Type:         api.MessageJoin,
		GroupID:      msg.GroupID,
		UserID:       msg.UserID,
		SenderRoleID: api.IntPtr(role),
	}
	if err := c.send(ack); err != nil {
		h.logger.WarnContext(ctx, "failed to acknowledge join", slog.Any("error", err))
	}
	h.broadcast(ctx, others, ack)

	metrics.ChannelMessages.WithLabelValues(api.MessageJoin, "accepted").Inc()
	h.logger.InfoContext(ctx, "joined group channel",
		slog.String("group_id", msg.GroupID),
		slog.String("user_id", msg.UserID),
		slog.Int("role_id", role))
}

func (h *Hub) relay(ctx context.Context, c *conn, msg api.SocketMessage) {
	switch msg.Type {
	case api.MessageSubmitProposal, api.MessageVote, api.MessageVoteResult, api.MessageShowSolution:
	default:
		h.ignore(ctx, c, msg, "unknown message type")
		return
	}

	h.mu.Lock()
	registered := c.joined && h.rooms[c.groupID][c.userID] == c
	if !registered || msg.GroupID != c.groupID {
		h.mu.Unlock()
		h.ignore(ctx, c, msg, "sender is not joined to the group")
		return
	}
	if msg.Type == api.MessageShowSolution && c.roleID != models.SpeakerRoleID {
		h.mu.Unlock()
		h.ignore(ctx, c, msg, "showSolution from non-speaker")
		return
	}
	others := h.othersLocked(c)
	h.mu.Unlock()

	// Отправитель определяется соединением, а не содержимым сообщения
	msg.UserID = c.userID
	msg.SenderRoleID = api.IntPtr(c.roleID)

	h.broadcast(ctx, others, msg)
	metrics.ChannelMessages.WithLabelValues(msg.Type, "relayed").Inc()
	h.logger.DebugContext(ctx, "channel message relayed",
		slog.String("type", msg.Type),
		slog.String("group_id", c.groupID),
		slog.Int("recipients", len(others)))
}

func (h *Hub) broadcast(ctx context.Context, targets []*conn, msg api.SocketMessage) {
	for _, t := range targets {
		if err := t.send(msg); err != nil {
			h.logger.WarnContext(ctx, "failed to deliver channel message",
				slog.String("conn_id", t.id), slog.Any("error", err))
		}
	}
}

func (h *Hub) ignore(ctx context.Context, c *conn, msg api.SocketMessage, reason string) {
	metrics.ChannelMessages.WithLabelValues(msg.Type, "ignored").Inc()
	h.logger.WarnContext(ctx, "channel message ignored",
		slog.String("reason", reason),
		slog.String("type", msg.Type),
		slog.String("group_id", msg.GroupID),
		slog.String("user_id", c.userID))
}

func (h *Hub) reject(ctx context.Context, c *conn, msg api.SocketMessage, reason string) {
	h.ignore(ctx, c, msg, reason)
	_ = c.send(api.SocketMessage{
		Type:    api.MessageError,
		GroupID: msg.GroupID,
		UserID:  msg.UserID,
		Error:   reason,
	})
}

func (h *Hub) othersLocked(c *conn) []*conn {
	room := h.rooms[c.groupID]
	out := make([]*conn, 0, len(room))
	for userID, other := range room {
		if userID != c.userID {
			out = append(out, other)
		}
	}
	return out
}

func (h *Hub) removeLocked(c *conn) {
	room := h.rooms[c.groupID]
	if room[c.userID] == c {
		delete(room, c.userID)
	}
	if len(room) == 0 {
		delete(h.rooms, c.groupID)
	}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.joined {
		h.removeLocked(c)
	}
}

// RoomSize количество подключенных участников группы
func (h *Hub) RoomSize(groupID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[groupID])
}
