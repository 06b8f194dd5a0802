package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const sessionKeyPrefix = "session:"

var (
	// ErrAuthenticationRequired is returned by Resolve for any token that does
	// not map to a live session.
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrSessionNotFound        = errors.New("session not found")
)

// Resolver maps an opaque session token to an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

type SessionStore interface {
	Save(ctx context.Context, sessionId string, id Identity, ttl time.Duration) error
	Load(ctx context.Context, sessionId string) (Identity, error)
	Delete(ctx context.Context, sessionId string) error
}

type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(sessionId string) string {
	return sessionKeyPrefix + sessionId
}

func (s *RedisSessionStore) Save(ctx context.Context, sessionId string, id Identity, ttl time.Duration) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(sessionId), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (s *RedisSessionStore) Load(ctx context.Context, sessionId string) (Identity, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrSessionNotFound
	} else if err != nil {
		return Identity{}, fmt.Errorf("load session: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("unmarshal session: %w", err)
	}

	return id, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionId string) error {
	if err := s.client.Del(ctx, sessionKey(sessionId)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// SessionManager issues signed session tokens and resolves them back to the
// identity recorded in the session store.
type SessionManager struct {
	store      SessionStore
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewSessionManager(log logrus.FieldLogger, store SessionStore, signingKey []byte, ttl time.Duration) *SessionManager {
	return &SessionManager{
		store:      store,
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
		log:        log,
	}
}

func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue opens a new session for id and returns its token.
func (m *SessionManager) Issue(ctx context.Context, id Identity) (string, error) {
	sessionId := uuid.NewString()

	if err := m.store.Save(ctx, sessionId, id, m.ttl); err != nil {
		return "", err
	}

	token, err := signToken(m.signingKey, sessionId, m.now().Add(m.ttl))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

func (m *SessionManager) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrAuthenticationRequired
	}

	sessionId, err := parseToken(m.signingKey, token)
	if err != nil {
		m.log.WithError(err).Debug("rejected session token")
		return Identity{}, ErrAuthenticationRequired
	}

	id, err := m.store.Load(ctx, sessionId)
	if errors.Is(err, ErrSessionNotFound) {
		return Identity{}, ErrAuthenticationRequired
	} else if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
	}

	return id, nil
}

// Revoke deletes the session behind token. Unknown or invalid tokens are
// ignored.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	sessionId, err := parseToken(m.signingKey, token)
	if err != nil {
		return nil
	}

	return m.store.Delete(ctx, sessionId)
}
