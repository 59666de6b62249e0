package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/presence"
)

// PresenceChannel is the Redis pub/sub channel carrying PresenceUpdate JSON.
const PresenceChannel = "presence:updates"

type presenceStore interface {
	RecordActivity(ctx context.Context, userID uuid.UUID, at time.Time) error
	SetStatusAt(ctx context.Context, userID uuid.UUID, status presence.Status, at time.Time) error
	GetStatus(ctx context.Context, userID uuid.UUID) (presence.Record, error)
	ListDirectory(ctx context.Context) ([]models.UserPresence, error)
	ListActiveSince(ctx context.Context, since time.Time) ([]presence.Record, error)
}

type presencePublisher interface {
	PublishPresence(ctx context.Context, update models.PresenceUpdate) error
}

// PresenceService writes the durable presence fields and answers reads with
// the effective status resolved at read time.
type PresenceService struct {
	store      presenceStore
	publisher  presencePublisher
	thresholds presence.Thresholds
	now        func() time.Time
}

func NewPresenceService(store presenceStore, publisher presencePublisher) *PresenceService {
	return &PresenceService{
		store:      store,
		publisher:  publisher,
		thresholds: presence.DefaultThresholds,
		now:        time.Now,
	}
}

// Heartbeat records activity. An update is published only if the heartbeat
// changed the user's effective status.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error) {
	now := s.now()

	before, err := s.store.GetStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RecordActivity(ctx, userID, now); err != nil {
		return nil, err
	}

	after := before
	if now.After(after.LastActivityAt) {
		after.LastActivityAt = now
	}

	if s.thresholds.Effective(before, now) != s.thresholds.Effective(after, now) {
		s.publish(ctx, after, now)
	}
	return s.toUserPresence(after, now), nil
}

// SetStatus stores an explicit status. Invalid input is rejected without
// touching stored state. Setting a status also counts as activity.
func (s *PresenceService) SetStatus(ctx context.Context, userID uuid.UUID, raw string) (*models.UserPresence, error) {
	status, err := presence.ParseStatus(raw)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{
			"status": "Status must be one of online, idle, away, offline",
		}}
	}
	return s.apply(ctx, userID, status)
}

func (s *PresenceService) MarkOnline(ctx context.Context, userID uuid.UUID) error {
	_, err := s.apply(ctx, userID, presence.StatusOnline)
	return err
}

func (s *PresenceService) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	_, err := s.apply(ctx, userID, presence.StatusOffline)
	return err
}

func (s *PresenceService) Get(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error) {
	rec, err := s.store.GetStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.toUserPresence(rec, s.now()), nil
}

// List returns every active user with their effective status.
func (s *PresenceService) List(ctx context.Context) ([]models.UserPresence, error) {
	items, err := s.store.ListDirectory(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range items {
		rec := presence.Record{UserID: items[i].UserID, StoredStatus: items[i].StoredStatus}
		if items[i].LastActivityAt != nil {
			rec.LastActivityAt = *items[i].LastActivityAt
		}
		items[i].Status = s.thresholds.Effective(rec, now)
	}
	return items, nil
}

func (s *PresenceService) apply(ctx context.Context, userID uuid.UUID, status presence.Status) (*models.UserPresence, error) {
	now := s.now()
	if err := s.store.SetStatusAt(ctx, userID, status, now); err != nil {
		return nil, err
	}

	rec := presence.Record{UserID: userID, StoredStatus: status, LastActivityAt: now}
	s.publish(ctx, rec, now)
	return s.toUserPresence(rec, now), nil
}

func (s *PresenceService) publish(ctx context.Context, rec presence.Record, now time.Time) {
	if s.publisher == nil {
		return
	}
	update := models.PresenceUpdate{
		UserID:         rec.UserID,
		Status:         s.thresholds.Effective(rec, now),
		LastActivityAt: rec.LastActivityAt,
	}
	if err := s.publisher.PublishPresence(ctx, update); err != nil {
		log.Warn().Err(err).Str("user_id", rec.UserID.String()).Msg("failed to publish presence update")
	}
}

func (s *PresenceService) toUserPresence(rec presence.Record, now time.Time) *models.UserPresence {
	out := &models.UserPresence{
		UserID:       rec.UserID,
		Status:       s.thresholds.Effective(rec, now),
		StoredStatus: rec.StoredStatus,
	}
	if !rec.LastActivityAt.IsZero() {
		last := rec.LastActivityAt
		out.LastActivityAt = &last
	}
	return out
}

// RedisPresencePublisher publishes presence updates on PresenceChannel.
type RedisPresencePublisher struct {
	redis *redis.Client
}

func NewRedisPresencePublisher(client *redis.Client) *RedisPresencePublisher {
	return &RedisPresencePublisher{redis: client}
}

func (p *RedisPresencePublisher) PublishPresence(ctx context.Context, update models.PresenceUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode presence update: %w", err)
	}
	return p.redis.Publish(ctx, PresenceChannel, data).Err()
}
