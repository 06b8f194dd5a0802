package database

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("record already exists")
)

type Repository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int) (User, error)
	GetAccountByUsername(ctx context.Context, username string) (User, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomByCode(ctx context.Context, code string) (Room, error)
	GetRoomById(ctx context.Context, id int) (Room, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, roomId int) ([]Message, error)
	// ExpireRooms marks every room whose expiry is at or before now and that is
	// not yet expired, returning only the rooms changed by this call.
	ExpireRooms(ctx context.Context, now time.Time) ([]Room, error)
	// DeleteExpiredRooms removes expired rooms whose expiry is at or before
	// cutoff, together with their messages.
	DeleteExpiredRooms(ctx context.Context, cutoff time.Time) (int64, error)
}
