package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/presence"
)

func newPresenceFixture() (*PresenceService, *stubPresenceStore, *stubPublisher) {
	store := newStubPresenceStore()
	pub := &stubPublisher{}
	svc := NewPresenceService(store, pub)
	svc.now = fixedClock
	return svc, store, pub
}

func TestPresenceSetStatus(t *testing.T) {
	svc, store, pub := newPresenceFixture()
	id := uuid.New()

	got, err := svc.SetStatus(context.Background(), id, "Away")
	require.NoError(t, err)

	assert.Equal(t, presence.StatusAway, got.Status)
	assert.Equal(t, presence.StatusAway, store.records[id].StoredStatus)
	assert.Equal(t, testNow, store.records[id].LastActivityAt)
	assert.Equal(t, 1, store.writes)
	require.Len(t, pub.published(), 1)
	assert.Equal(t, presence.StatusAway, pub.published()[0].Status)
}

func TestPresenceSetStatus_StoreFailureLeavesStateAlone(t *testing.T) {
	svc, store, pub := newPresenceFixture()
	id := uuid.New()
	before := presence.Record{UserID: id, StoredStatus: presence.StatusOnline, LastActivityAt: testNow.Add(-time.Minute)}
	store.records[id] = before
	store.writeErr = errors.New("connection reset")

	_, err := svc.SetStatus(context.Background(), id, "away")
	require.Error(t, err)

	assert.Equal(t, before, store.records[id])
	assert.Equal(t, 1, store.writes)
	assert.Empty(t, pub.published())
}

func TestPresenceSetStatus_InvalidLeavesStateAlone(t *testing.T) {
	svc, store, pub := newPresenceFixture()
	id := uuid.New()

	_, err := svc.SetStatus(context.Background(), id, "busy")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "status")
	assert.Zero(t, store.writes)
	assert.Empty(t, pub.published())
}

func TestPresenceHeartbeat_PublishesOnlyOnChange(t *testing.T) {
	svc, store, pub := newPresenceFixture()
	id := uuid.New()
	store.records[id] = presence.Record{UserID: id, StoredStatus: presence.StatusOnline, LastActivityAt: testNow.Add(-2 * time.Minute)}

	got, err := svc.Heartbeat(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOnline, got.Status)
	require.Len(t, pub.published(), 1, "idle -> online is a visible change")

	_, err = svc.Heartbeat(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, pub.published(), 1, "online -> online publishes nothing")
}

func TestPresenceHeartbeat_StoredOfflineStaysOffline(t *testing.T) {
	svc, _, pub := newPresenceFixture()

	got, err := svc.Heartbeat(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOffline, got.Status)
	assert.Empty(t, pub.published())
}

func TestPresenceGet_ResolvesAtReadTime(t *testing.T) {
	svc, store, _ := newPresenceFixture()
	id := uuid.New()
	store.records[id] = presence.Record{UserID: id, StoredStatus: presence.StatusOnline, LastActivityAt: testNow.Add(-4 * time.Minute)}

	got, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, presence.StatusAway, got.Status)
	assert.Equal(t, presence.StatusOnline, got.StoredStatus)

	unknown, err := svc.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOffline, unknown.Status)
	assert.Nil(t, unknown.LastActivityAt)
}

func TestPresenceList(t *testing.T) {
	svc, store, _ := newPresenceFixture()
	recent := testNow.Add(-10 * time.Second)
	stale := testNow.Add(-10 * time.Minute)
	store.directory = []models.UserPresence{
		{UserID: uuid.New(), Username: "ana", StoredStatus: presence.StatusOnline, LastActivityAt: &recent},
		{UserID: uuid.New(), Username: "ben", StoredStatus: presence.StatusOnline, LastActivityAt: &stale},
		{UserID: uuid.New(), Username: "cy", StoredStatus: presence.StatusOffline},
	}

	items, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, presence.StatusOnline, items[0].Status)
	assert.Equal(t, presence.StatusOffline, items[1].Status)
	assert.Equal(t, presence.StatusOffline, items[2].Status)
}

func TestPresenceMarkOnlineOffline(t *testing.T) {
	svc, store, pub := newPresenceFixture()
	id := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.MarkOnline(ctx, id))
	assert.Equal(t, presence.StatusOnline, store.records[id].StoredStatus)

	require.NoError(t, svc.MarkOffline(ctx, id))
	assert.Equal(t, presence.StatusOffline, store.records[id].StoredStatus)

	updates := pub.published()
	require.Len(t, updates, 2)
	assert.Equal(t, presence.StatusOnline, updates[0].Status)
	assert.Equal(t, presence.StatusOffline, updates[1].Status)
}
