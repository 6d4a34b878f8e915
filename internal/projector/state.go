// Package projector сворачивает поток событий в состояние сессии:
// список участников, текст документа и чат.
package projector

import (
	"Pairline/internal/document"
	"Pairline/internal/models"
)

// DefaultChatLimit - сколько последних сообщений чата хранится по умолчанию
const DefaultChatLimit = 500

type Option func(*State)

// WithChatLimit ограничивает историю чата. 0 - без ограничения
func WithChatLimit(n int) Option {
	return func(s *State) {
		if n >= 0 {
			s.chatLimit = n
		}
	}
}

// WithSession задает начальный текст и язык документа
func WithSession(sess models.Session) Option {
	return func(s *State) {
		s.code = sess.Code
		s.language = sess.Language
	}
}

// State - материализованное представление одной сессии.
// Не потокобезопасен, доступ сериализует владелец.
type State struct {
	sessionID string
	language  string
	code      string
	version   int64
	lastSeq   int64

	participants map[string]models.Participant
	order        []string

	chat      []models.ChatMessage
	chatLimit int
}

func New(sessionID string, opts ...Option) *State {
	s := &State{
		sessionID:    sessionID,
		participants: make(map[string]models.Participant),
		chatLimit:    DefaultChatLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply применяет одно событие и сообщает, изменилось ли состояние
func (s *State) Apply(ev models.CollaborationEvent) bool {
	if ev.SessionID != s.sessionID {
		return false
	}

	switch data := ev.Data.(type) {
	case models.SnapshotData:
		if ev.Type != models.EventSessionSnapshot {
			return false
		}
		s.Restore(data, ev.Seq)
		return true
	case models.RejectionData:
		if ev.Type != models.EventEditRejected {
			return false
		}
		s.Restore(data.Snapshot, ev.Seq)
		return true
	}

	if ev.Seq > 0 {
		if ev.Seq <= s.lastSeq {
			return false
		}
		s.lastSeq = ev.Seq
	}

	switch ev.Type {
	case models.EventUserJoined:
		data, _ := ev.Data.(models.PresenceData)
		return s.join(ev.UserID, data)

	case models.EventUserLeft:
		return s.leave(ev.UserID)

	case models.EventCodeChange:
		data, ok := ev.Data.(models.CodeChangeData)
		if !ok {
			return false
		}
		s.code = document.ApplyEdit(s.code, data.Range, data.Text)
		s.version++
		return true

	case models.EventCursorMove:
		data, ok := ev.Data.(models.CursorData)
		if !ok {
			return false
		}
		return s.update(ev.UserID, func(p *models.Participant) {
			p.Cursor = &models.Cursor{Line: data.Line, Column: data.Column, File: data.File}
		})

	case models.EventChatMessage:
		data, ok := ev.Data.(models.ChatData)
		if !ok {
			return false
		}
		s.AppendChat(models.ChatMessage{UserID: ev.UserID, Message: data.Message, Timestamp: ev.Timestamp})
		return true

	case models.EventVoiceToggle, models.EventVideoToggle, models.EventScreenShare:
		data, ok := ev.Data.(models.ToggleData)
		if !ok {
			return false
		}
		kind := ev.Type
		return s.update(ev.UserID, func(p *models.Participant) {
			switch kind {
			case models.EventVoiceToggle:
				p.VoiceEnabled = data.Enabled
			case models.EventVideoToggle:
				p.VideoEnabled = data.Enabled
			case models.EventScreenShare:
				p.ScreenSharing = data.Enabled
			}
		})
	}

	return false
}

func (s *State) join(userID string, data models.PresenceData) bool {
	if userID == "" {
		return false
	}

	p := models.Participant{
		ID:     userID,
		Name:   data.Name,
		Avatar: data.Avatar,
		Role:   data.Role,
		Color:  data.Color,
	}
	if p.Name == "" {
		p.Name = models.DefaultName
	}
	if p.Role == "" {
		p.Role = models.RoleParticipant
	}
	if p.Color == "" {
		p.Color = models.ColorFor(userID)
	}

	if _, ok := s.participants[userID]; !ok {
		s.order = append(s.order, userID)
	}
	s.participants[userID] = p
	return true
}

func (s *State) leave(userID string) bool {
	if _, ok := s.participants[userID]; !ok {
		return false
	}
	delete(s.participants, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *State) update(userID string, fn func(*models.Participant)) bool {
	p, ok := s.participants[userID]
	if !ok {
		return false
	}
	fn(&p)
	s.participants[userID] = p
	return true
}

// ApplyLocalEdit применяет собственную правку пользователя до подтверждения сервером.
// Возвращает версию, от которой посчитана правка.
func (s *State) ApplyLocalEdit(rng models.Range, text string) int64 {
	base := s.version
	s.code = document.ApplyEdit(s.code, rng, text)
	s.version++
	return base
}

// AppendChat добавляет сообщение в конец чата, вытесняя самые старые сверх лимита
func (s *State) AppendChat(msg models.ChatMessage) {
	s.chat = append(s.chat, msg)
	if s.chatLimit > 0 && len(s.chat) > s.chatLimit {
		s.chat = s.chat[len(s.chat)-s.chatLimit:]
	}
}

// Restore заменяет состояние снимком, полученным от сервера
func (s *State) Restore(snap models.SnapshotData, seq int64) {
	s.code = snap.Code
	s.language = snap.Language
	s.version = snap.Version
	s.lastSeq = seq

	s.participants = make(map[string]models.Participant, len(snap.Participants))
	s.order = s.order[:0]
	for _, p := range snap.Participants {
		if _, dup := s.participants[p.ID]; !dup {
			s.order = append(s.order, p.ID)
		}
		s.participants[p.ID] = p.Clone()
	}

	s.chat = nil
	for _, m := range snap.ChatMessages {
		s.AppendChat(m)
	}
}

// Snapshot экспортирует текущее состояние
func (s *State) Snapshot() models.SnapshotData {
	return models.SnapshotData{
		Code:         s.code,
		Language:     s.language,
		Version:      s.version,
		Participants: s.Participants(),
		ChatMessages: s.Chat(),
	}
}

func (s *State) SessionID() string { return s.sessionID }
func (s *State) Code() string      { return s.code }
func (s *State) Language() string  { return s.language }
func (s *State) Version() int64    { return s.version }
func (s *State) LastSeq() int64    { return s.lastSeq }

// Participants возвращает участников в порядке входа
func (s *State) Participants() []models.Participant {
	out := make([]models.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.participants[id].Clone())
	}
	return out
}

func (s *State) Participant(userID string) (models.Participant, bool) {
	p, ok := s.participants[userID]
	if !ok {
		return models.Participant{}, false
	}
	return p.Clone(), true
}

func (s *State) Chat() []models.ChatMessage {
	out := make([]models.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}
