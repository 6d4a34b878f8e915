package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventCodeChange(t *testing.T) {
	t.Parallel()

	raw := `{"type":"code_change","userId":"u1","sessionId":"s1","timestamp":"2024-05-01T10:00:00.000Z",
		"data":{"range":{"start":{"line":0,"character":2},"end":{"line":0,"character":4}},"text":"XY","baseVersion":3}}`

	ev, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, EventCodeChange, ev.Type)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ev.Timestamp)

	data, ok := ev.Data.(CodeChangeData)
	require.True(t, ok)
	assert.Equal(t, Range{Start: Position{0, 2}, End: Position{0, 4}}, data.Range)
	assert.Equal(t, "XY", data.Text)
	require.NotNil(t, data.BaseVersion)
	assert.Equal(t, int64(3), *data.BaseVersion)
}

func TestDecodeEventRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "not json", raw: `{"type":`, wantErr: ErrMalformedFrame},
		{name: "unknown kind", raw: `{"type":"dance","data":{}}`, wantErr: ErrUnknownKind},
		{name: "code change without range", raw: `{"type":"code_change","data":{"text":"x"}}`, wantErr: ErrInvalidPayload},
		{name: "code change reversed range", raw: `{"type":"code_change","data":{"range":{"start":{"line":2,"character":0},"end":{"line":1,"character":0}},"text":""}}`, wantErr: ErrInvalidPayload},
		{name: "cursor without column", raw: `{"type":"cursor_move","data":{"line":1}}`, wantErr: ErrInvalidPayload},
		{name: "negative cursor", raw: `{"type":"cursor_move","data":{"line":-1,"column":0}}`, wantErr: ErrInvalidPayload},
		{name: "chat without message", raw: `{"type":"chat_message","data":{}}`, wantErr: ErrInvalidPayload},
		{name: "toggle without enabled", raw: `{"type":"voice_toggle","data":{}}`, wantErr: ErrInvalidPayload},
		{name: "toggle missing data", raw: `{"type":"screen_share"}`, wantErr: ErrInvalidPayload},
		{name: "bad role", raw: `{"type":"user_joined","data":{"role":"admin"}}`, wantErr: ErrInvalidPayload},
		{name: "bad timestamp", raw: `{"type":"user_left","timestamp":"yesterday"}`, wantErr: ErrInvalidPayload},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeEvent([]byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestDecodeEventPresenceIsFreeForm(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent([]byte(`{"type":"user_left","userId":"u2","sessionId":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, PresenceData{}, ev.Data)

	ev, err = DecodeEvent([]byte(`{"type":"user_joined","userId":"u2","sessionId":"s1","data":{"name":"Ada","role":"mentor","extra":true}}`))
	require.NoError(t, err)
	assert.Equal(t, PresenceData{Name: "Ada", Role: RoleMentor}, ev.Data)
}

func TestEventJSONRoundTripKeepsWireShape(t *testing.T) {
	t.Parallel()

	ev := NewEvent(EventVoiceToggle, "s1", "u1", ToggleData{Enabled: true})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "voice_toggle", fields["type"])
	assert.Equal(t, "u1", fields["userId"])
	assert.Equal(t, "s1", fields["sessionId"])
	assert.Equal(t, map[string]any{"enabled": true}, fields["data"])
	assert.NotContains(t, fields, "seq")

	var back CollaborationEvent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ToggleData{Enabled: true}, back.Data)
	assert.True(t, ev.Timestamp.Equal(back.Timestamp))
}

func TestPeekType(t *testing.T) {
	t.Parallel()

	kind, err := PeekType([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, FramePing, kind)

	_, err = PeekType([]byte(`nope`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestColorForIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "u1", "alice@example.com", "пользователь", "a very long user identifier 1234567890"} {
		first := ColorFor(id)
		assert.Equal(t, first, ColorFor(id))
		assert.Contains(t, palette, first)
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	role, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleParticipant, role)

	role, err = ParseRole("observer")
	require.NoError(t, err)
	assert.Equal(t, RoleObserver, role)

	_, err = ParseRole("root")
	assert.ErrorContains(t, err, "unknown role")
}

func TestRangeValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Range{Start: Position{0, 1}, End: Position{0, 1}}.Validate())
	assert.NoError(t, Range{Start: Position{0, 5}, End: Position{1, 0}}.Validate())
	assert.Error(t, Range{Start: Position{3, 0}, End: Position{1, 0}}.Validate())
	assert.Error(t, Range{Start: Position{0, 2}, End: Position{0, 1}}.Validate())
	assert.Error(t, Range{Start: Position{-1, 0}, End: Position{0, 0}}.Validate())
}
