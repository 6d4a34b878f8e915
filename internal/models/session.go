package models

import (
	"fmt"
	"time"
)

// Role - роль участника. Носит рекомендательный характер, ядро её не проверяет
type Role string

const (
	RoleHost        Role = "host"
	RoleMentor      Role = "mentor"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// DefaultName подставляется, если клиент не прислал имя при входе
const DefaultName = "Anonymous"

// ParseRole разбирает роль. Пустая строка означает участника по умолчанию
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleParticipant, nil
	case RoleHost, RoleMentor, RoleParticipant, RoleObserver:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Session - контекст совместного редактирования одного документа
type Session struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Cursor - позиция курсора участника
type Cursor struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	File   string `json:"file,omitempty"`
}

// Participant - присутствие одного пользователя в сессии
type Participant struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Avatar        string  `json:"avatar,omitempty"`
	Cursor        *Cursor `json:"cursor,omitempty"`
	VoiceEnabled  bool    `json:"voiceEnabled"`
	VideoEnabled  bool    `json:"videoEnabled"`
	ScreenSharing bool    `json:"screenSharing"`
	Role          Role    `json:"role"`
	Color         string  `json:"color"`
}

// Clone возвращает копию без общих указателей
func (p Participant) Clone() Participant {
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	return p
}

// ChatMessage - запись чата. Порядок записей совпадает с порядком прихода
type ChatMessage struct {
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var palette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FFEAA7",
	"#DDA0DD",
	"#98D8C8",
	"#F7DC6F",
}

// ColorFor детерминированно выбирает цвет участника по его id
func ColorFor(userID string) string {
	var hash int32
	for _, r := range userID {
		hash = int32(r) + ((hash << 5) - hash)
	}
	idx := int(hash) % len(palette)
	if idx < 0 {
		idx = -idx
	}
	return palette[idx]
}
