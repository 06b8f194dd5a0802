package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	Id              int
	Code            string
	Name            string
	CreatorId       int
	CreatorUsername string
	ExpiresAt       time.Time
	IsExpired       bool
	CreatedAt       time.Time
}

type Message struct {
	Id        int
	RoomId    int
	UserId    int
	Username  string
	Content   string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Code      string
	Name      string
	CreatorId int
	CreatedAt time.Time
	ExpiresAt time.Time
}

type CreateMessageParams struct {
	RoomId    int
	UserId    int
	Username  string
	Content   string
	CreatedAt time.Time
}
