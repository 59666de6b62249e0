package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestParseTokenBinding(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()

	gotUser, gotSession, err := parseTokenBinding(userID.String() + "|" + sessionID.String())
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, sessionID, gotSession)

	for _, raw := range []string{"", "no-separator", "bad|" + sessionID.String(), userID.String() + "|bad"} {
		_, _, err := parseTokenBinding(raw)
		assert.Error(t, err, raw)
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()
	userID := uuid.New()

	created, err := store.Create(ctx, userID, 30*time.Minute)
	require.NoError(t, err)

	key := sessionKeyPrefix + created.ID.String()
	assert.Equal(t, 30*time.Minute, mr.TTL(key))
	member, err := mr.IsMember(userSessionsKeyPrefix+userID.String(), created.ID.String())
	require.NoError(t, err)
	assert.True(t, member)

	mr.FastForward(10 * time.Minute)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.WithinDuration(t, time.Now().Add(20*time.Minute), got.ExpiresAt, 2*time.Second)
}

func TestSessionStore_GetMissingOrExpired(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	_, err := store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	created, err := store.Create(ctx, uuid.New(), time.Minute)
	require.NoError(t, err)
	mr.FastForward(time.Minute + time.Second)
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// a session key without a lifetime is never honoured
	persistent := uuid.New()
	require.NoError(t, mr.Set(sessionKeyPrefix+persistent.String(), uuid.New().String()))
	_, err = store.Get(ctx, persistent)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_ExtendResetsLifetime(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()
	userID := uuid.New()

	created, err := store.Create(ctx, userID, time.Minute)
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)

	extended, err := store.Extend(ctx, created.ID, 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, mr.TTL(sessionKeyPrefix+created.ID.String()))
	assert.Equal(t, 30*time.Minute, mr.TTL(userSessionsKeyPrefix+userID.String()))
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), extended.ExpiresAt, 2*time.Second)

	_, err = store.Extend(ctx, uuid.New(), 30*time.Minute)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_DeleteCleansIndex(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()
	userID := uuid.New()

	first, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)
	second, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, first.ID))
	require.NoError(t, store.Delete(ctx, first.ID))

	assert.False(t, mr.Exists(sessionKeyPrefix+first.ID.String()))
	members, err := mr.Members(userSessionsKeyPrefix + userID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID.String()}, members)
}

func TestSessionStore_DeleteAllForUser(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()
	userID, otherID := uuid.New(), uuid.New()

	a, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)
	b, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)
	other, err := store.Create(ctx, otherID, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.DeleteAllForUser(ctx, userID))

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
	assert.False(t, mr.Exists(userSessionsKeyPrefix+userID.String()))

	_, err = store.Get(ctx, other.ID)
	assert.NoError(t, err)
}

func TestSessionStore_RefreshTokenIsSingleUse(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()
	userID, sessionID := uuid.New(), uuid.New()

	require.NoError(t, store.SaveRefreshToken(ctx, "tok", userID, sessionID, 7*24*time.Hour))
	assert.Equal(t, 7*24*time.Hour, mr.TTL(refreshKeyPrefix+"tok"))

	gotUser, gotSession, err := store.ConsumeRefreshToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, sessionID, gotSession)

	_, _, err = store.ConsumeRefreshToken(ctx, "tok")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.SaveRefreshToken(ctx, "other", userID, sessionID, time.Hour))
	require.NoError(t, store.DeleteRefreshToken(ctx, "other"))
	_, _, err = store.ConsumeRefreshToken(ctx, "other")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStore_ResetTokenIsSingleUse(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewTokenStore(client)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, store.SaveResetToken(ctx, "reset", userID, 15*time.Minute))
	assert.Equal(t, 15*time.Minute, mr.TTL(resetKeyPrefix+"reset"))

	got, err := store.ConsumeResetToken(ctx, "reset")
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = store.ConsumeResetToken(ctx, "reset")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.SaveResetToken(ctx, "late", userID, time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err = store.ConsumeResetToken(ctx, "late")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStore_AttemptsWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewTokenStore(client)
	ctx := context.Background()
	const key = "attempts:test"
	window := 15 * time.Minute

	n, err := store.IncrementAttempts(ctx, key, window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, window, mr.TTL(key))

	// later hits keep the original deadline
	mr.FastForward(5 * time.Minute)
	n, err = store.IncrementAttempts(ctx, key, window)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	mr.FastForward(10 * time.Minute)
	assert.False(t, mr.Exists(key))

	n, err = store.IncrementAttempts(ctx, key, window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.ResetAttempts(ctx, key))
	assert.False(t, mr.Exists(key))
}

func TestTokenStore_AttemptsRepairsCounterWithoutExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewTokenStore(client)
	const key = "attempts:stuck"

	require.NoError(t, mr.Set(key, "3"))

	n, err := store.IncrementAttempts(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, time.Minute, mr.TTL(key))
}
