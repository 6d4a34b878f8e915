package projector

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pairline/internal/models"
)

const sessionID = "s1"

func ev(kind models.EventKind, userID string, data models.Payload) models.CollaborationEvent {
	return models.CollaborationEvent{Type: kind, UserID: userID, SessionID: sessionID, Timestamp: time.Now().UTC(), Data: data}
}

func joined(userID string, data models.PresenceData) models.CollaborationEvent {
	return ev(models.EventUserJoined, userID, data)
}

func TestUserJoinedAppliesDefaults(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	require.True(t, s.Apply(joined("u1", models.PresenceData{})))

	p, ok := s.Participant("u1")
	require.True(t, ok)
	assert.Equal(t, models.DefaultName, p.Name)
	assert.Equal(t, models.RoleParticipant, p.Role)
	assert.Equal(t, models.ColorFor("u1"), p.Color)
	assert.Nil(t, p.Cursor)
}

func TestUserJoinedTwiceKeepsOneEntry(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	s.Apply(joined("u1", models.PresenceData{Name: "Ada"}))
	s.Apply(joined("u2", models.PresenceData{Name: "Bob"}))
	s.Apply(joined("u1", models.PresenceData{Name: "Ada L.", Role: models.RoleMentor, Color: "#000000"}))

	participants := s.Participants()
	require.Len(t, participants, 2)
	assert.Equal(t, "u1", participants[0].ID)
	assert.Equal(t, "Ada L.", participants[0].Name)
	assert.Equal(t, models.RoleMentor, participants[0].Role)
	assert.Equal(t, "#000000", participants[0].Color)
}

func TestUserLeftUnknownIsNoop(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	s.Apply(joined("u1", models.PresenceData{}))

	assert.False(t, s.Apply(ev(models.EventUserLeft, "ghost", models.PresenceData{})))
	assert.Len(t, s.Participants(), 1)

	assert.True(t, s.Apply(ev(models.EventUserLeft, "u1", models.PresenceData{})))
	assert.Empty(t, s.Participants())
}

func TestCodeChangeMergesAndBumpsVersion(t *testing.T) {
	t.Parallel()

	s := New(sessionID, WithSession(models.Session{ID: sessionID, Code: "abcdef", Language: "go"}))
	change := models.CodeChangeData{
		Range: models.Range{Start: models.Position{Line: 0, Character: 2}, End: models.Position{Line: 0, Character: 4}},
		Text:  "XY",
	}

	require.True(t, s.Apply(ev(models.EventCodeChange, "u2", change)))
	assert.Equal(t, "abXYef", s.Code())
	assert.Equal(t, "go", s.Language())
	assert.Equal(t, int64(1), s.Version())
}

func TestCursorAndTogglesRequireKnownParticipant(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	assert.False(t, s.Apply(ev(models.EventCursorMove, "u1", models.CursorData{Line: 3, Column: 4})))
	assert.False(t, s.Apply(ev(models.EventVoiceToggle, "u1", models.ToggleData{Enabled: true})))

	s.Apply(joined("u1", models.PresenceData{}))
	assert.True(t, s.Apply(ev(models.EventCursorMove, "u1", models.CursorData{Line: 3, Column: 4, File: "main.go"})))
	assert.True(t, s.Apply(ev(models.EventVoiceToggle, "u1", models.ToggleData{Enabled: true})))
	assert.True(t, s.Apply(ev(models.EventVideoToggle, "u1", models.ToggleData{Enabled: true})))
	assert.True(t, s.Apply(ev(models.EventScreenShare, "u1", models.ToggleData{Enabled: true})))
	assert.True(t, s.Apply(ev(models.EventVideoToggle, "u1", models.ToggleData{Enabled: false})))

	p, _ := s.Participant("u1")
	assert.Equal(t, &models.Cursor{Line: 3, Column: 4, File: "main.go"}, p.Cursor)
	assert.True(t, p.VoiceEnabled)
	assert.False(t, p.VideoEnabled)
	assert.True(t, p.ScreenSharing)
}

func TestChatKeepsArrivalOrder(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	later := ev(models.EventChatMessage, "u1", models.ChatData{Message: "m1"})
	later.Timestamp = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := ev(models.EventChatMessage, "u2", models.ChatData{Message: "m2"})
	earlier.Timestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Apply(later)
	s.Apply(earlier)

	chat := s.Chat()
	require.Len(t, chat, 2)
	assert.Equal(t, "m1", chat[0].Message)
	assert.Equal(t, "u1", chat[0].UserID)
	assert.Equal(t, later.Timestamp, chat[0].Timestamp)
	assert.Equal(t, "m2", chat[1].Message)
}

func TestChatLimitEvictsOldest(t *testing.T) {
	t.Parallel()

	s := New(sessionID, WithChatLimit(3))
	for i := 0; i < 5; i++ {
		s.Apply(ev(models.EventChatMessage, "u1", models.ChatData{Message: fmt.Sprintf("m%d", i)}))
	}

	chat := s.Chat()
	require.Len(t, chat, 3)
	assert.Equal(t, "m2", chat[0].Message)
	assert.Equal(t, "m4", chat[2].Message)
}

func TestForeignSessionEventsAreIgnored(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	other := joined("u1", models.PresenceData{})
	other.SessionID = "other"

	assert.False(t, s.Apply(other))
	assert.Empty(t, s.Participants())
}

func TestStaleSequenceNumbersAreDropped(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	first := ev(models.EventChatMessage, "u1", models.ChatData{Message: "first"})
	first.Seq = 2
	dup := ev(models.EventChatMessage, "u1", models.ChatData{Message: "dup"})
	dup.Seq = 2
	older := ev(models.EventChatMessage, "u1", models.ChatData{Message: "older"})
	older.Seq = 1

	assert.True(t, s.Apply(first))
	assert.False(t, s.Apply(dup))
	assert.False(t, s.Apply(older))
	assert.Len(t, s.Chat(), 1)
	assert.Equal(t, int64(2), s.LastSeq())
}

func TestSnapshotReplacesState(t *testing.T) {
	t.Parallel()

	s := New(sessionID)
	s.Apply(joined("stale", models.PresenceData{}))
	s.ApplyLocalEdit(models.Range{}, "local")

	snap := models.SnapshotData{
		Code:         "server",
		Language:     "python",
		Version:      7,
		Participants: []models.Participant{{ID: "u1", Name: "Ada", Role: models.RoleHost}},
		ChatMessages: []models.ChatMessage{{UserID: "u1", Message: "hi"}},
	}
	event := ev(models.EventSessionSnapshot, "", snap)
	event.Seq = 40

	require.True(t, s.Apply(event))
	assert.Equal(t, "server", s.Code())
	assert.Equal(t, "python", s.Language())
	assert.Equal(t, int64(7), s.Version())
	assert.Equal(t, int64(40), s.LastSeq())
	assert.Equal(t, snap.Participants, s.Participants())
	assert.Equal(t, snap.ChatMessages, s.Chat())
	assert.Equal(t, snap, s.Snapshot())
}

func TestEditRejectedRestoresAttachedSnapshot(t *testing.T) {
	t.Parallel()

	s := New(sessionID, WithSession(models.Session{Code: "abc"}))
	s.ApplyLocalEdit(models.Range{Start: models.Position{Character: 3}, End: models.Position{Character: 3}}, "!")
	require.Equal(t, "abc!", s.Code())

	rejected := ev(models.EventEditRejected, "", models.RejectionData{
		Reason:   "stale base version",
		Snapshot: models.SnapshotData{Code: "abcd", Version: 2},
	})
	require.True(t, s.Apply(rejected))
	assert.Equal(t, "abcd", s.Code())
	assert.Equal(t, int64(2), s.Version())
}

func TestApplyLocalEditReturnsBaseVersion(t *testing.T) {
	t.Parallel()

	s := New(sessionID, WithSession(models.Session{Code: "ab"}))
	assert.Equal(t, int64(0), s.ApplyLocalEdit(models.Range{}, "x"))
	assert.Equal(t, int64(1), s.ApplyLocalEdit(models.Range{}, "y"))
	assert.Equal(t, "yxab", s.Code())
	assert.Equal(t, int64(2), s.Version())
}
