package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenNotFound   = errors.New("token not found")
)

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "user_sessions:"
	refreshKeyPrefix      = "refresh:"
	resetKeyPrefix        = "password_reset:"
)

// SessionStore keeps login sessions and refresh tokens in Redis. A session
// lives exactly as long as its key; the key TTL is the session lifetime.
type SessionStore struct {
	redis *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{redis: client}
}

func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*models.Session, error) {
	session := &models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID.String(), userID.String(), ttl)
	pipe.SAdd(ctx, userSessionsKeyPrefix+userID.String(), session.ID.String())
	pipe.Expire(ctx, userSessionsKeyPrefix+userID.String(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return session, nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	key := sessionKeyPrefix + sessionID.String()

	pipe := s.redis.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		// expired between the two commands, or stored without TTL
		return nil, ErrSessionNotFound
	}

	return &models.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Extend resets the session lifetime to ttl from now.
func (s *SessionStore) Extend(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) (*models.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pipe := s.redis.TxPipeline()
	expireCmd := pipe.Expire(ctx, sessionKeyPrefix+sessionID.String(), ttl)
	pipe.Expire(ctx, userSessionsKeyPrefix+session.UserID.String(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if !expireCmd.Val() {
		return nil, ErrSessionNotFound
	}

	session.ExpiresAt = time.Now().Add(ttl)
	return session, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	key := sessionKeyPrefix + sessionID.String()
	raw, err := s.redis.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return s.redis.SRem(ctx, userSessionsKeyPrefix+raw, sessionID.String()).Err()
}

// DeleteAllForUser revokes every session the user holds.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	setKey := userSessionsKeyPrefix + userID.String()
	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, setKey)
	return s.redis.Del(ctx, keys...).Err()
}

// SaveRefreshToken binds an opaque refresh token to a user and session.
func (s *SessionStore) SaveRefreshToken(ctx context.Context, token string, userID, sessionID uuid.UUID, ttl time.Duration) error {
	value := userID.String() + "|" + sessionID.String()
	if err := s.redis.Set(ctx, refreshKeyPrefix+token, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken deletes the token and returns what it was bound to.
// Tokens are single use.
func (s *SessionStore) ConsumeRefreshToken(ctx context.Context, token string) (userID, sessionID uuid.UUID, err error) {
	raw, err := s.redis.GetDel(ctx, refreshKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, uuid.Nil, ErrTokenNotFound
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return parseTokenBinding(raw)
}

func (s *SessionStore) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.redis.Del(ctx, refreshKeyPrefix+token).Err()
}

func parseTokenBinding(raw string) (uuid.UUID, uuid.UUID, error) {
	userPart, sessionPart, ok := strings.Cut(raw, "|")
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed token binding %q", raw)
	}
	userID, err := uuid.Parse(userPart)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed token user: %w", err)
	}
	sessionID, err := uuid.Parse(sessionPart)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed token session: %w", err)
	}
	return userID, sessionID, nil
}

// TokenStore holds short-lived password recovery state.
type TokenStore struct {
	redis *redis.Client
}

func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{redis: client}
}

func (s *TokenStore) SaveResetToken(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	return s.redis.Set(ctx, resetKeyPrefix+token, userID.String(), ttl).Err()
}

func (s *TokenStore) ConsumeResetToken(ctx context.Context, token string) (uuid.UUID, error) {
	raw, err := s.redis.GetDel(ctx, resetKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrTokenNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

// IncrementAttempts bumps a counter that expires window after its first hit.
// The expiry is set in the same transaction so a counter never outlives its
// window.
func (s *TokenStore) IncrementAttempts(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *TokenStore) ResetAttempts(ctx context.Context, key string) error {
	return s.redis.Del(ctx, key).Err()
}
