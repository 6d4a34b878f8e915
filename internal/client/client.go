// Package client держит одно соединение с сервером совместной работы на пару
// (сессия, пользователь): подключение, heartbeat, переподключение с
// экспоненциальной задержкой и очередь исходящих событий на время разрыва.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"Pairline/internal/dispatcher"
	"Pairline/internal/models"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultQueueLimit           = 1000
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

var (
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrClosed             = errors.New("client is closed")
)

var (
	pingFrame        = []byte(`{"type":"ping"}`)
	syncRequestFrame = []byte(`{"type":"sync_request"}`)
)

type Config struct {
	URL       string
	SessionID string
	UserID    string
	Profile   models.PresenceData

	Tokens TokenSource
	Dialer Dialer

	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	QueueLimit           int

	Scheduler Scheduler
	Logger    *slog.Logger
}

// Client - менеджер соединения
type Client struct {
	cfg    Config
	log    *slog.Logger
	events *dispatcher.Dispatcher

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	retry        backoff.BackOff
	conn         Conn
	attempted    bool
	connecting   bool
	connected    bool
	flushing     bool
	reconnecting bool
	failed       bool
	closed       bool
	err          error
	queue        [][]byte
	timer        Timer
	heartbeat    chan struct{}

	writeMu sync.Mutex
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	if cfg.Tokens == nil {
		cfg.Tokens = StaticToken("")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	} else if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.QueueLimit == 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = afterFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg: cfg,
		log: cfg.Logger.With(
			"component", "collab-client",
			"session_id", cfg.SessionID,
			"user_id", cfg.UserID),
		events: dispatcher.New(),
		retry:  newRetryPolicy(cfg.ReconnectInterval, cfg.MaxReconnectAttempts),
	}, nil
}

// newRetryPolicy дает задержки base, 2*base, 4*base ... и Stop после max попыток
func newRetryPolicy(base time.Duration, max int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = base << uint(max)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(max))
}

// Events - реестр подписчиков на входящие события
func (c *Client) Events() *dispatcher.Dispatcher { return c.events }

func (c *Client) On(kind models.EventKind, h dispatcher.Handler) dispatcher.HandlerID {
	return c.events.On(kind, h)
}

func (c *Client) Off(kind models.EventKind, id dispatcher.HandlerID) {
	c.events.Off(kind, id)
}

func (c *Client) SessionID() string { return c.cfg.SessionID }
func (c *Client) UserID() string    { return c.cfg.UserID }

// Connect открывает соединение. При ошибке переподключение уже запланировано,
// а ошибка возвращается вызывающему для отображения.
// ctx ограничивает время жизни клиента целиком, включая переподключения.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ctx == nil {
		c.ctx, c.cancel = context.WithCancel(ctx)
	}
	if c.failed {
		c.failed = false
		c.retry.Reset()
	}
	c.mu.Unlock()

	return c.dial()
}

func (c *Client) dial() error {
	c.mu.Lock()
	if c.closed || c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.attempted = true
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.open(ctx)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.err = err
		c.mu.Unlock()

		c.log.Error("Failed to connect to collaboration server", "error", err)
		c.scheduleReconnect()
		return err
	}

	c.onOpen(conn)
	return nil
}

func (c *Client) open(ctx context.Context) (Conn, error) {
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve auth token: %w", err)
	}

	endpoint, err := c.endpoint(token)
	if err != nil {
		return nil, err
	}

	conn, err := c.cfg.Dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	return conn, nil
}

func (c *Client) endpoint(token string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("sessionId", c.cfg.SessionID)
	q.Set("userId", c.cfg.UserID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) onOpen(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connecting = false
	c.connected = true
	c.flushing = true
	c.reconnecting = false
	c.err = nil
	c.retry.Reset()
	stop := make(chan struct{})
	c.heartbeat = stop
	c.mu.Unlock()

	c.log.Info("Connected to collaboration server")
	go c.readLoop(conn)

	joined, err := json.Marshal(models.NewEvent(models.EventUserJoined, c.cfg.SessionID, c.cfg.UserID, c.cfg.Profile))
	if err == nil {
		c.write(conn, joined, false)
	}
	c.write(conn, syncRequestFrame, false)

	go c.runHeartbeat(conn, stop)

	c.flush(conn)
}

// flush отправляет накопленную очередь. Пока она не пуста, новые события
// встают в ее конец, так что порядок FIFO сохраняется.
func (c *Client) flush(conn Conn) {
	for {
		c.mu.Lock()
		if c.conn != conn || len(c.queue) == 0 {
			if c.conn == conn {
				c.flushing = false
			}
			c.mu.Unlock()
			return
		}
		raw := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if !c.write(conn, raw, true) {
			return
		}
	}
}

// Send передает событие сразу, если соединение открыто, иначе ставит в очередь
func (c *Client) Send(ev models.CollaborationEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	c.sendRaw(raw)
	return nil
}

func (c *Client) sendRaw(raw []byte) {
	c.mu.Lock()
	if !c.connected || c.flushing {
		c.enqueueLocked(raw, false)
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.mu.Unlock()

	c.write(conn, raw, true)
}

func (c *Client) enqueueLocked(raw []byte, front bool) {
	if c.cfg.QueueLimit > 0 && len(c.queue) >= c.cfg.QueueLimit {
		if front {
			c.log.Warn("Outbound queue is full, dropping unsent event", "limit", c.cfg.QueueLimit)
			return
		}
		c.log.Warn("Outbound queue is full, dropping oldest event", "limit", c.cfg.QueueLimit)
		c.queue = c.queue[1:]
	}
	if front {
		c.queue = append([][]byte{raw}, c.queue...)
		return
	}
	c.queue = append(c.queue, raw)
}

// write пишет кадр. При ошибке соединение закрывается, чтобы сработал путь
// переподключения, а кадр с requeue возвращается в начало очереди.
// Служебные кадры (join, sync_request, ping) не возвращаются: каждое
// открытие соединения отправляет свои.
func (c *Client) write(conn Conn, raw []byte, requeue bool) bool {
	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err == nil {
		return true
	}

	c.log.Warn("Failed to write frame", "error", err)
	if requeue {
		c.mu.Lock()
		c.enqueueLocked(raw, true)
		c.mu.Unlock()
	}
	conn.Close()
	return false
}

func (c *Client) runHeartbeat(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.write(conn, pingFrame, false) {
				return
			}
		}
	}
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClose(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	kind, err := models.PeekType(data)
	if err != nil {
		c.log.Warn("Dropping malformed frame", "error", err)
		return
	}
	if kind == models.FramePing || kind == "pong" {
		return
	}

	ev, err := models.DecodeEvent(data)
	if err != nil {
		c.log.Warn("Dropping invalid event", "error", err)
		return
	}
	c.emit(ev)
}

func (c *Client) emit(ev models.CollaborationEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Event handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	c.events.Emit(ev)
}

func (c *Client) onClose(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.flushing = false
	c.stopHeartbeatLocked()
	closed := c.closed
	c.mu.Unlock()
	conn.Close()

	code := closeCode(err)
	if closed || code == websocket.CloseNormalClosure || code == models.CloseSessionReplaced {
		c.log.Info("Connection closed", "code", code)
		return
	}

	c.log.Warn("Connection lost", "code", code, "error", err)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.scheduleReconnect()
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.connected {
		return
	}

	delay := c.retry.NextBackOff()
	if delay == backoff.Stop {
		c.reconnecting = false
		c.failed = true
		c.err = fmt.Errorf("%w (%d attempts): %v", ErrReconnectExhausted, c.cfg.MaxReconnectAttempts, c.err)
		c.log.Error("Giving up reconnecting", "attempts", c.cfg.MaxReconnectAttempts)
		return
	}

	c.reconnecting = true
	c.log.Info("Scheduling reconnect", "delay", delay)
	c.timer = c.cfg.Scheduler(delay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		_ = c.dial()
	})
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		close(c.heartbeat)
		c.heartbeat = nil
	}
}

// Disconnect отправляет user_left, закрывает соединение с кодом 1000
// и снимает все подписки. Переподключения после этого не будет.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reconnecting = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.stopHeartbeatLocked()
	conn, connected := c.conn, c.connected
	c.conn = nil
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil && connected {
		left, err := json.Marshal(models.NewEvent(models.EventUserLeft, c.cfg.SessionID, c.cfg.UserID, models.PresenceData{}))
		c.writeMu.Lock()
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, left)
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.events.Clear()
	c.log.Info("Disconnected from collaboration server")
}

// Status - грубое состояние соединения для интерфейса
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.connected:
		return StatusConnected
	case c.closed:
		return StatusDisconnected
	case c.failed:
		return StatusFailed
	case c.reconnecting:
		return StatusReconnecting
	case c.connecting:
		return StatusConnecting
	case !c.attempted:
		return StatusIdle
	default:
		return StatusDisconnected
	}
}

// Err возвращает последнюю ошибку соединения. После исчерпания попыток
// errors.Is(err, ErrReconnectExhausted) == true
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// QueueLen - число событий, ожидающих отправки
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
