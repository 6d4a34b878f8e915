// Package collab связывает менеджер соединения и проекцию состояния в один
// объект на пару (сессия, пользователь), с которым работает интерфейс.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"Pairline/internal/client"
	"Pairline/internal/dispatcher"
	"Pairline/internal/models"
	"Pairline/internal/projector"
)

var ErrEmptyMessage = errors.New("message is empty")

// LocalState - собственные флаги пользователя. Своей записи в списке
// участников у пользователя может не быть.
type LocalState struct {
	Cursor        *models.Cursor
	VoiceEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
}

// View - снимок состояния для отрисовки
type View struct {
	ConnectionStatus client.Status
	Participants     []models.Participant
	Code             string
	Language         string
	Version          int64
	ChatMessages     []models.ChatMessage
	Local            LocalState
}

type Session struct {
	client *client.Client

	mu      sync.Mutex
	state   *projector.State
	local   LocalState
	changes chan struct{}
}

// New создает сессию. Соединение открывается в Start
func New(cfg client.Config, opts ...projector.Option) (*Session, error) {
	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		client:  c,
		state:   projector.New(cfg.SessionID, opts...),
		changes: make(chan struct{}, 1),
	}
	c.On(dispatcher.All, s.apply)
	return s, nil
}

func (s *Session) apply(ev models.CollaborationEvent) {
	s.mu.Lock()
	changed := s.state.Apply(ev)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Changes сигнализирует, что View изменился. Сигналы схлопываются
func (s *Session) Changes() <-chan struct{} { return s.changes }

// Client открывает доступ к подпискам на сырые события
func (s *Session) Client() *client.Client { return s.client }

func (s *Session) Start(ctx context.Context) error {
	err := s.client.Connect(ctx)
	s.notify()
	return err
}

func (s *Session) Close() {
	s.client.Disconnect()
	s.notify()
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.local
	if local.Cursor != nil {
		c := *local.Cursor
		local.Cursor = &c
	}

	return View{
		ConnectionStatus: s.client.Status(),
		Participants:     s.state.Participants(),
		Code:             s.state.Code(),
		Language:         s.state.Language(),
		Version:          s.state.Version(),
		ChatMessages:     s.state.Chat(),
		Local:            local,
	}
}

func (s *Session) event(kind models.EventKind, data models.Payload) models.CollaborationEvent {
	return models.NewEvent(kind, s.client.SessionID(), s.client.UserID(), data)
}

// SendCodeChange применяет правку локально и отправляет ее с версией,
// от которой она посчитана
func (s *Session) SendCodeChange(rng models.Range, text, file string) error {
	if err := rng.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}

	s.mu.Lock()
	base := s.state.ApplyLocalEdit(rng, text)
	s.mu.Unlock()
	s.notify()

	return s.client.Send(s.event(models.EventCodeChange, models.CodeChangeData{
		Range:       rng,
		Text:        text,
		File:        file,
		BaseVersion: &base,
	}))
}

func (s *Session) SendCursorMove(line, column int, file string) error {
	s.mu.Lock()
	s.local.Cursor = &models.Cursor{Line: line, Column: column, File: file}
	s.mu.Unlock()

	return s.client.Send(s.event(models.EventCursorMove, models.CursorData{Line: line, Column: column, File: file}))
}

// SendChatMessage добавляет сообщение в свой чат и рассылает остальным
func (s *Session) SendChatMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}

	ev := s.event(models.EventChatMessage, models.ChatData{Message: message})
	s.mu.Lock()
	s.state.AppendChat(models.ChatMessage{UserID: ev.UserID, Message: message, Timestamp: ev.Timestamp})
	s.mu.Unlock()
	s.notify()

	return s.client.Send(ev)
}

func (s *Session) ToggleVoice() (bool, error) {
	return s.toggle(models.EventVoiceToggle, func(l *LocalState) *bool { return &l.VoiceEnabled })
}

func (s *Session) ToggleVideo() (bool, error) {
	return s.toggle(models.EventVideoToggle, func(l *LocalState) *bool { return &l.VideoEnabled })
}

func (s *Session) ToggleScreenShare() (bool, error) {
	return s.toggle(models.EventScreenShare, func(l *LocalState) *bool { return &l.ScreenSharing })
}

func (s *Session) toggle(kind models.EventKind, field func(*LocalState) *bool) (bool, error) {
	s.mu.Lock()
	flag := field(&s.local)
	*flag = !*flag
	enabled := *flag
	s.mu.Unlock()
	s.notify()

	return enabled, s.client.Send(s.event(kind, models.ToggleData{Enabled: enabled}))
}
