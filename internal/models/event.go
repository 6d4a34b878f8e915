package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind - тег события совместной работы
type EventKind string

const (
	EventUserJoined  EventKind = "user_joined"
	EventUserLeft    EventKind = "user_left"
	EventCodeChange  EventKind = "code_change"
	EventCursorMove  EventKind = "cursor_move"
	EventChatMessage EventKind = "chat_message"
	EventVoiceToggle EventKind = "voice_toggle"
	EventVideoToggle EventKind = "video_toggle"
	EventScreenShare EventKind = "screen_share"

	// Служебные события, которые рассылает только сервер
	EventSessionSnapshot EventKind = "session_snapshot"
	EventEditRejected    EventKind = "edit_rejected"
)

// Управляющие кадры, не являющиеся событиями
const (
	FramePing        = "ping"
	FrameSyncRequest = "sync_request"
)

// CloseSessionReplaced - код закрытия WebSocket: тот же пользователь
// подключился к сессии заново, старое соединение больше не нужно
const CloseSessionReplaced = 4001

// ClientKinds - события, которые может присылать клиент
var ClientKinds = []EventKind{
	EventUserJoined,
	EventUserLeft,
	EventCodeChange,
	EventCursorMove,
	EventChatMessage,
	EventVoiceToggle,
	EventVideoToggle,
	EventScreenShare,
}

// IsControl сообщает, что событие формирует только сервер
func (k EventKind) IsControl() bool {
	return k == EventSessionSnapshot || k == EventEditRejected
}

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrInvalidPayload = errors.New("invalid payload")
)

// DecodeError описывает кадр, который не удалось разобрать
type DecodeError struct {
	Kind EventKind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode event: %v", e.Err)
	}
	return fmt.Sprintf("decode %s event: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Payload - данные конкретного вида события
type Payload interface {
	isPayload()
}

// PresenceData - данные user_joined / user_left
type PresenceData struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role,omitempty"`
	Color  string `json:"color,omitempty"`
}

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range - полуоткрытый диапазон [Start, End)
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Validate проверяет, что позиции неотрицательны и конец не раньше начала
func (r Range) Validate() error {
	if r.Start.Line < 0 || r.Start.Character < 0 || r.End.Line < 0 || r.End.Character < 0 {
		return errors.New("negative position")
	}
	if r.End.Line < r.Start.Line || (r.End.Line == r.Start.Line && r.End.Character < r.Start.Character) {
		return errors.New("range end before start")
	}
	return nil
}

// CodeChangeData - замена текста в диапазоне.
// BaseVersion - версия документа, относительно которой посчитана правка
type CodeChangeData struct {
	Range       Range  `json:"range"`
	Text        string `json:"text"`
	File        string `json:"file,omitempty"`
	BaseVersion *int64 `json:"baseVersion,omitempty"`
}

type CursorData struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	File   string `json:"file,omitempty"`
}

type ChatData struct {
	Message string `json:"message"`
}

// ToggleData - флаг голоса, видео или демонстрации экрана
type ToggleData struct {
	Enabled bool `json:"enabled"`
}

// SnapshotData - полное состояние сессии для пересинхронизации
type SnapshotData struct {
	Code         string        `json:"code"`
	Language     string        `json:"language"`
	Version      int64         `json:"version"`
	Participants []Participant `json:"participants"`
	ChatMessages []ChatMessage `json:"chatMessages"`
}

// RejectionData отправляется автору правки, посчитанной от устаревшей версии
type RejectionData struct {
	Reason   string       `json:"reason"`
	Snapshot SnapshotData `json:"snapshot"`
}

func (PresenceData) isPayload()   {}
func (CodeChangeData) isPayload() {}
func (CursorData) isPayload()     {}
func (ChatData) isPayload()       {}
func (ToggleData) isPayload()     {}
func (SnapshotData) isPayload()   {}
func (RejectionData) isPayload()  {}

// CollaborationEvent - единица протокола
type CollaborationEvent struct {
	Type      EventKind `json:"type"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq,omitempty"`
	Data      Payload   `json:"data"`
}

// NewEvent создает событие с текущим временем
func NewEvent(kind EventKind, sessionID, userID string, data Payload) CollaborationEvent {
	return CollaborationEvent{
		Type:      kind,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type envelope struct {
	Type      EventKind       `json:"type"`
	UserID    string          `json:"userId"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Seq       int64           `json:"seq"`
	Data      json.RawMessage `json:"data"`
}

// DecodeEvent разбирает кадр и проверяет данные по виду события
func DecodeEvent(raw []byte) (CollaborationEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return CollaborationEvent{}, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	ev := CollaborationEvent{
		Type:      env.Type,
		UserID:    env.UserID,
		SessionID: env.SessionID,
		Seq:       env.Seq,
	}
	if env.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
		if err != nil {
			return CollaborationEvent{}, &DecodeError{Kind: env.Type, Err: fmt.Errorf("%w: timestamp: %v", ErrInvalidPayload, err)}
		}
		ev.Timestamp = ts
	}

	data, err := decodePayload(env.Type, env.Data)
	if err != nil {
		return CollaborationEvent{}, &DecodeError{Kind: env.Type, Err: err}
	}
	ev.Data = data
	return ev, nil
}

func (e *CollaborationEvent) UnmarshalJSON(raw []byte) error {
	ev, err := DecodeEvent(raw)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

func decodePayload(kind EventKind, raw json.RawMessage) (Payload, error) {
	empty := len(raw) == 0 || string(raw) == "null"

	switch kind {
	case EventUserJoined, EventUserLeft:
		var p PresenceData
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		if p.Role != "" {
			if _, err := ParseRole(string(p.Role)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return p, nil

	case EventCodeChange:
		var aux struct {
			Range       *Range  `json:"range"`
			Text        *string `json:"text"`
			File        string  `json:"file"`
			BaseVersion *int64  `json:"baseVersion"`
		}
		if err := unmarshalRequired(raw, empty, &aux); err != nil {
			return nil, err
		}
		if aux.Range == nil || aux.Text == nil {
			return nil, fmt.Errorf("%w: range and text are required", ErrInvalidPayload)
		}
		if err := aux.Range.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return CodeChangeData{Range: *aux.Range, Text: *aux.Text, File: aux.File, BaseVersion: aux.BaseVersion}, nil

	case EventCursorMove:
		var aux struct {
			Line   *int   `json:"line"`
			Column *int   `json:"column"`
			File   string `json:"file"`
		}
		if err := unmarshalRequired(raw, empty, &aux); err != nil {
			return nil, err
		}
		if aux.Line == nil || aux.Column == nil {
			return nil, fmt.Errorf("%w: line and column are required", ErrInvalidPayload)
		}
		if *aux.Line < 0 || *aux.Column < 0 {
			return nil, fmt.Errorf("%w: negative position", ErrInvalidPayload)
		}
		return CursorData{Line: *aux.Line, Column: *aux.Column, File: aux.File}, nil

	case EventChatMessage:
		var aux struct {
			Message *string `json:"message"`
		}
		if err := unmarshalRequired(raw, empty, &aux); err != nil {
			return nil, err
		}
		if aux.Message == nil {
			return nil, fmt.Errorf("%w: message is required", ErrInvalidPayload)
		}
		return ChatData{Message: *aux.Message}, nil

	case EventVoiceToggle, EventVideoToggle, EventScreenShare:
		var aux struct {
			Enabled *bool `json:"enabled"`
		}
		if err := unmarshalRequired(raw, empty, &aux); err != nil {
			return nil, err
		}
		if aux.Enabled == nil {
			return nil, fmt.Errorf("%w: enabled is required", ErrInvalidPayload)
		}
		return ToggleData{Enabled: *aux.Enabled}, nil

	case EventSessionSnapshot:
		var p SnapshotData
		if err := unmarshalRequired(raw, empty, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventEditRejected:
		var p RejectionData
		if err := unmarshalRequired(raw, empty, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

func unmarshalRequired(raw json.RawMessage, empty bool, dst any) error {
	if empty {
		return fmt.Errorf("%w: data is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ControlFrame - служебный кадр вне протокола событий
type ControlFrame struct {
	Type string `json:"type"`
}

// PeekType возвращает поле type без разбора остального кадра
func PeekType(raw []byte) (string, error) {
	var f ControlFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	return f.Type, nil
}
