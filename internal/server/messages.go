package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/go-flashroom/internal/types"
)

// Client to server events.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
)

// Server to client events.
const (
	EventRoomJoined  = "room-joined"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventNewMessage  = "new-message"
	EventRoomExpired = "room-expired"
	EventError       = "error"
)

const (
	errMsgRoomNotFound   = "Room not found or has expired"
	errMsgNotInRoom      = "Not in a room"
	errMsgRoomExpired    = "Room has expired"
	errMsgSendFailed     = "Failed to send message"
	errMsgJoinFailed     = "Failed to join room"
	errMsgTooManyMessage = "Too many messages"
	errMsgInvalidMessage = "Invalid message"

	roomExpiredNotice = "This room has expired and will be closed."
)

type ClientMessage struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"-"`
	client    *Client
}

type SendMessage struct {
	Message string `json:"message"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type RoomJoined struct {
	RoomId    int       `json:"roomId"`
	RoomName  string    `json:"roomName"`
	RoomCode  string    `json:"roomCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Presence struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type RoomExpired struct {
	Message string `json:"message"`
}

func NewRoomJoined(room types.Room) *ServerMessage {
	return &ServerMessage{
		Event: EventRoomJoined,
		Data: RoomJoined{
			RoomId:    room.Id,
			RoomName:  room.Name,
			RoomCode:  room.Code,
			ExpiresAt: room.ExpiresAt,
		},
	}
}

func NewUserJoined(username string) *ServerMessage {
	return &ServerMessage{
		Event: EventUserJoined,
		Data: Presence{
			Username: username,
			Message:  fmt.Sprintf("%s joined the room", username),
		},
	}
}

func NewUserLeft(username string) *ServerMessage {
	return &ServerMessage{
		Event: EventUserLeft,
		Data: Presence{
			Username: username,
			Message:  fmt.Sprintf("%s left the room", username),
		},
	}
}

func NewMessage(msg types.Message) *ServerMessage {
	return &ServerMessage{
		Event: EventNewMessage,
		Data:  msg,
	}
}

func NewRoomExpired() *ServerMessage {
	return &ServerMessage{
		Event: EventRoomExpired,
		Data:  RoomExpired{Message: roomExpiredNotice},
	}
}

func newError(msg string) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data:  msg,
	}
}

func ErrRoomNotFound() *ServerMessage {
	return newError(errMsgRoomNotFound)
}

func ErrNotInRoom() *ServerMessage {
	return newError(errMsgNotInRoom)
}

func ErrRoomExpired() *ServerMessage {
	return newError(errMsgRoomExpired)
}

func ErrSendFailed() *ServerMessage {
	return newError(errMsgSendFailed)
}

func ErrJoinFailed() *ServerMessage {
	return newError(errMsgJoinFailed)
}

func ErrTooManyMessages() *ServerMessage {
	return newError(errMsgTooManyMessage)
}

func ErrInvalidMessage() *ServerMessage {
	return newError(errMsgInvalidMessage)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
