package auth

import "context"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated user bound to a request or connection.
type Identity struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
