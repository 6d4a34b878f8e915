package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"Pairline/internal/models"
	"Pairline/internal/projector"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 1024
)

var ErrHubStopped = errors.New("hub is stopped")

// Client представляет одно подключение пользователя к сессии
type Client struct {
	ID        string
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	UserID    string
	SessionID string
	// Session - метаданные сессии на случай, если комната еще не создана
	Session models.Session

	// closeCode выставляет Hub перед закрытием Send
	closeCode   int
	closeReason string
}

// room - одна сессия совместного редактирования
type room struct {
	id      string
	state   *projector.State
	clients map[*Client]bool
	byUser  map[string]*Client
	seq     int64
}

// inboundFrame - кадр клиента либо его уход (leave). Оба идут через одну очередь,
// поэтому уход обрабатывается после всех кадров, прочитанных до него
type inboundFrame struct {
	client *Client
	data   []byte
	leave  bool
}

type snapshotReply struct {
	event models.CollaborationEvent
	ok    bool
}

type snapshotRequest struct {
	sessionID string
	reply     chan snapshotReply
}

// Stats - сводка для health check
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Hub владеет всеми комнатами. Состояние комнат меняет только горутина Run
type Hub struct {
	rooms     map[string]*room
	chatLimit int

	register  chan *Client
	inbound   chan inboundFrame
	snapshots chan snapshotRequest
	stats     chan chan Stats

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Hub)

// WithChatLimit ограничивает историю чата в каждой комнате
func WithChatLimit(n int) Option {
	return func(h *Hub) { h.chatLimit = n }
}

// WithLogger задает логгер. По умолчанию берется slog.Default() на момент NewHub
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l.With("component", "hub") }
}

// NewHub создает новый Hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:     make(map[string]*room),
		chatLimit: projector.DefaultChatLimit,
		register:  make(chan *Client),
		inbound:   make(chan inboundFrame, 256),
		snapshots: make(chan snapshotRequest),
		stats:     make(chan chan Stats),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.Default().With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case frame := <-h.inbound:
			if frame.leave {
				h.handleUnregister(frame.client)
				continue
			}
			h.handleFrame(frame.client, frame.data)

		case req := <-h.snapshots:
			r := h.rooms[req.sessionID]
			if r == nil {
				req.reply <- snapshotReply{}
				continue
			}
			req.reply <- snapshotReply{event: h.snapshotEvent(r), ok: true}

		case reply := <-h.stats:
			stats := Stats{Rooms: len(h.rooms)}
			for _, r := range h.rooms {
				stats.Connections += len(r.clients)
			}
			reply <- stats

		case <-h.stop:
			for _, r := range h.rooms {
				for client := range r.clients {
					h.closeClient(client, websocket.CloseGoingAway, "server shutdown")
				}
			}
			h.rooms = make(map[string]*room)
			h.log.Info("Hub stopped")
			return
		}
	}
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Register подключает клиента к комнате его сессии
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister отключает клиента после всех его уже переданных кадров
func (h *Hub) Unregister(c *Client) {
	select {
	case h.inbound <- inboundFrame{client: c, leave: true}:
	case <-h.done:
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case h.inbound <- inboundFrame{client: c, data: data}:
	case <-h.done:
	}
}

// Snapshot возвращает состояние живой комнаты. ok == false, если комнаты нет
func (h *Hub) Snapshot(ctx context.Context, sessionID string) (models.CollaborationEvent, bool, error) {
	req := snapshotRequest{sessionID: sessionID, reply: make(chan snapshotReply, 1)}
	select {
	case h.snapshots <- req:
	case <-ctx.Done():
		return models.CollaborationEvent{}, false, ctx.Err()
	case <-h.done:
		return models.CollaborationEvent{}, false, ErrHubStopped
	}

	select {
	case reply := <-req.reply:
		return reply.event, reply.ok, nil
	case <-ctx.Done():
		return models.CollaborationEvent{}, false, ctx.Err()
	}
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.done:
		return Stats{}, ErrHubStopped
	}

	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) handleUnregister(c *Client) {
	if r := h.rooms[c.SessionID]; r != nil && r.clients[c] {
		h.remove(r, c, websocket.CloseNormalClosure, "")
	}
}

func (h *Hub) handleRegister(c *Client) {
	r := h.rooms[c.SessionID]
	if r == nil {
		r = &room{
			id: c.SessionID,
			state: projector.New(c.SessionID,
				projector.WithSession(c.Session),
				projector.WithChatLimit(h.chatLimit)),
			clients: make(map[*Client]bool),
			byUser:  make(map[string]*Client),
		}
		h.rooms[c.SessionID] = r
		h.log.Info("Room created", "session_id", c.SessionID)
	}

	// Одно соединение на пользователя: старое закрываем
	if prev := r.byUser[c.UserID]; prev != nil && prev != c {
		delete(r.clients, prev)
		h.closeClient(prev, models.CloseSessionReplaced, "session replaced")
		h.log.Info("Connection replaced", "session_id", c.SessionID, "user_id", c.UserID, "conn_id", prev.ID)
	}

	r.clients[c] = true
	r.byUser[c.UserID] = c
	h.log.Info("Client connected",
		"session_id", c.SessionID,
		"user_id", c.UserID,
		"conn_id", c.ID,
		"connections", len(r.clients))
}

// remove отключает клиента. Если он не попрощался, остальным рассылается user_left
func (h *Hub) remove(r *room, c *Client, code int, reason string) {
	delete(r.clients, c)
	h.closeClient(c, code, reason)

	if r.byUser[c.UserID] == c {
		delete(r.byUser, c.UserID)
		if _, present := r.state.Participant(c.UserID); present {
			left := models.NewEvent(models.EventUserLeft, r.id, c.UserID, models.PresenceData{})
			left.Timestamp = h.now()
			h.publish(r, c, left)
		}
	}
	h.log.Info("Client disconnected", "session_id", r.id, "user_id", c.UserID, "conn_id", c.ID)

	if len(r.clients) == 0 && h.rooms[r.id] == r {
		delete(h.rooms, r.id)
		h.log.Info("Room closed", "session_id", r.id)
	}
}

func (h *Hub) closeClient(c *Client, code int, reason string) {
	c.closeCode = code
	c.closeReason = reason
	close(c.Send)
}

func (h *Hub) handleFrame(c *Client, data []byte) {
	r := h.rooms[c.SessionID]
	if r == nil || !r.clients[c] {
		return
	}

	kind, err := models.PeekType(data)
	if err != nil {
		h.log.Warn("Dropping malformed frame", "session_id", r.id, "user_id", c.UserID, "error", err)
		return
	}

	switch kind {
	case models.FramePing:
		return
	case models.FrameSyncRequest:
		h.sendTo(r, c, h.snapshotEvent(r))
		return
	}

	ev, err := models.DecodeEvent(data)
	if err != nil {
		h.log.Warn("Dropping invalid event", "session_id", r.id, "user_id", c.UserID, "error", err)
		return
	}
	if ev.Type.IsControl() {
		h.log.Warn("Dropping server-only event from client", "session_id", r.id, "user_id", c.UserID, "type", ev.Type)
		return
	}

	// Автор и сессия берутся из соединения, время - серверное
	ev.UserID = c.UserID
	ev.SessionID = r.id
	ev.Timestamp = h.now()

	if change, ok := ev.Data.(models.CodeChangeData); ok && change.BaseVersion != nil {
		if current := r.state.Version(); *change.BaseVersion != current {
			h.log.Info("Rejecting stale edit",
				"session_id", r.id,
				"user_id", c.UserID,
				"base_version", *change.BaseVersion,
				"version", current)
			rejected := models.NewEvent(models.EventEditRejected, r.id, "", models.RejectionData{
				Reason:   "stale base version",
				Snapshot: r.state.Snapshot(),
			})
			rejected.Timestamp = h.now()
			rejected.Seq = r.seq
			h.sendTo(r, c, rejected)
			return
		}
	}

	h.publish(r, c, ev)
}

// publish присваивает событию номер, применяет его к состоянию комнаты
// и рассылает всем, кроме автора
func (h *Hub) publish(r *room, sender *Client, ev models.CollaborationEvent) {
	r.seq++
	ev.Seq = r.seq
	r.state.Apply(ev)

	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to encode event", "session_id", r.id, "type", ev.Type, "error", err)
		return
	}

	// Отстающих отключаем после рассылки: remove публикует user_left,
	// и его seq не должен обогнать текущее событие
	var slow []*Client
	for client := range r.clients {
		if client == sender {
			continue
		}
		if !h.trySend(client, raw) {
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.dropSlow(r, client)
	}
}

func (h *Hub) snapshotEvent(r *room) models.CollaborationEvent {
	ev := models.NewEvent(models.EventSessionSnapshot, r.id, "", r.state.Snapshot())
	ev.Timestamp = h.now()
	ev.Seq = r.seq
	return ev
}

func (h *Hub) sendTo(r *room, c *Client, ev models.CollaborationEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to encode event", "session_id", r.id, "type", ev.Type, "error", err)
		return
	}
	h.sendRaw(r, c, raw)
}

func (h *Hub) sendRaw(r *room, c *Client, raw []byte) {
	if !r.clients[c] {
		return
	}
	if !h.trySend(c, raw) {
		h.dropSlow(r, c)
	}
}

func (h *Hub) trySend(c *Client, raw []byte) bool {
	select {
	case c.Send <- raw:
		return true
	default:
		return false
	}
}

// dropSlow отключает клиента, чья очередь переполнена
func (h *Hub) dropSlow(r *room, c *Client) {
	if !r.clients[c] {
		return
	}
	h.log.Warn("Client send buffer full, dropping connection", "session_id", r.id, "user_id", c.UserID)
	h.remove(r, c, websocket.CloseTryAgainLater, "send buffer full")
}

// ReadPump читает кадры клиента и передает их в Hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("WebSocket read error", "session_id", c.SessionID, "user_id", c.UserID, "error", err)
			}
			return
		}
		// Любой кадр клиента, в том числе ping, продлевает соединение
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Hub.deliver(c, data)
	}
}

// WritePump отправляет кадры из Send в соединение
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, c.closeReason))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.log.Warn("Failed to write frame", "session_id", c.SessionID, "user_id", c.UserID, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewClient создает клиента для только что обновленного соединения
func NewClient(hub *Hub, conn *websocket.Conn, session models.Session, userID string) *Client {
	return &Client{
		ID:        uuid.NewString(),
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		UserID:    userID,
		SessionID: session.ID,
		Session:   session,
	}
}
