package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

type Room struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatorId int       `json:"-"`
	Creator   string    `json:"creator"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsExpired bool      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExpiredAt reports whether the room is unusable at now. The stored flag can
// lag behind the wall clock by up to one sweep interval, so both are checked.
func (r Room) ExpiredAt(now time.Time) bool {
	return r.IsExpired || now.After(r.ExpiresAt)
}

type Message struct {
	Id        int       `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}
