package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_serializeMessage(t *testing.T) {
	expiresAt := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)
	createdAt := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)

	tcases := []struct {
		name     string
		msg      *ServerMessage
		expected string
	}{
		{
			name: "room joined",
			msg: NewRoomJoined(types.Room{
				Id:        3,
				Name:      "standup",
				Code:      "AB12CD",
				ExpiresAt: expiresAt,
			}),
			expected: `{"event":"room-joined","data":{"roomId":3,"roomName":"standup","roomCode":"AB12CD","expiresAt":"2025-03-01T12:15:00Z"}}`,
		},
		{
			name:     "user joined",
			msg:      NewUserJoined("alice"),
			expected: `{"event":"user-joined","data":{"username":"alice","message":"alice joined the room"}}`,
		},
		{
			name:     "user left",
			msg:      NewUserLeft("alice"),
			expected: `{"event":"user-left","data":{"username":"alice","message":"alice left the room"}}`,
		},
		{
			name: "new message",
			msg: NewMessage(types.Message{
				Id:        9,
				Content:   "hello",
				Username:  "bob",
				CreatedAt: createdAt,
			}),
			expected: `{"event":"new-message","data":{"id":9,"content":"hello","username":"bob","createdAt":"2025-03-01T12:01:00Z"}}`,
		},
		{
			name:     "room expired",
			msg:      NewRoomExpired(),
			expected: `{"event":"room-expired","data":{"message":"This room has expired and will be closed."}}`,
		},
		{
			name:     "error",
			msg:      ErrNotInRoom(),
			expected: `{"event":"error","data":"Not in a room"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			bytes, err := serializeMessage(tc.msg)
			require.NoError(t, err, "expected no error during serialization")
			assert.JSONEq(t, tc.expected, string(bytes))
		})
	}
}

func TestClientMessage_Unmarshal(t *testing.T) {
	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"event":"send-message","data":{"message":" hi "}}`), &msg))
	assert.Equal(t, EventSendMessage, msg.Event)

	var payload SendMessage
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, " hi ", payload.Message)

	require.NoError(t, json.Unmarshal([]byte(`{"event":"join-room","data":"ab12cd"}`), &msg))
	var code string
	require.NoError(t, json.Unmarshal(msg.Data, &code))
	assert.Equal(t, "ab12cd", code)
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "expected millisecond precision")
}
