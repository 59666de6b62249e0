package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/presence"
)

type sweepEntry struct {
	status       presence.Status
	lastActivity time.Time
}

// PresenceSweeper publishes effective-status changes that happen only because
// time passed (online to idle to away to offline). Writes publish their own
// updates; the sweeper covers users who simply stopped sending heartbeats.
type PresenceSweeper struct {
	store      presenceStore
	publisher  presencePublisher
	thresholds presence.Thresholds
	interval   time.Duration
	last       map[uuid.UUID]sweepEntry
	stopChan   chan struct{}
}

func NewPresenceSweeper(store presenceStore, publisher presencePublisher, interval time.Duration) *PresenceSweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PresenceSweeper{
		store:      store,
		publisher:  publisher,
		thresholds: presence.DefaultThresholds,
		interval:   interval,
		last:       make(map[uuid.UUID]sweepEntry),
		stopChan:   make(chan struct{}),
	}
}

func (s *PresenceSweeper) Start() {
	if s.store == nil || s.publisher == nil {
		return
	}
	go s.loop()
	log.Info().Dur("interval", s.interval).Msg("presence sweeper started")
}

func (s *PresenceSweeper) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *PresenceSweeper) loop() {
	s.sweep(context.Background(), time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep(context.Background(), time.Now())
		}
	}
}

// sweep compares each recently active user's effective status with what it
// saw last time and publishes the differences. Users seen for the first time
// are recorded silently.
func (s *PresenceSweeper) sweep(ctx context.Context, now time.Time) []models.PresenceUpdate {
	// wide enough that every user is observed at least once as offline before
	// dropping out of the window
	window := s.thresholds.Offline + 2*s.interval

	records, err := s.store.ListActiveSince(ctx, now.Add(-window))
	if err != nil {
		log.Error().Err(err).Msg("presence sweep: failed to list active users")
		return nil
	}

	current := make(map[uuid.UUID]sweepEntry, len(records))
	for _, rec := range records {
		current[rec.UserID] = sweepEntry{
			status:       s.thresholds.Effective(rec, now),
			lastActivity: rec.LastActivityAt,
		}
	}

	var updates []models.PresenceUpdate
	for id, entry := range current {
		prev, seen := s.last[id]
		if seen && prev.status != entry.status {
			updates = append(updates, models.PresenceUpdate{UserID: id, Status: entry.status, LastActivityAt: entry.lastActivity})
		}
	}
	for id, prev := range s.last {
		if _, ok := current[id]; !ok && prev.status != presence.StatusOffline {
			updates = append(updates, models.PresenceUpdate{UserID: id, Status: presence.StatusOffline, LastActivityAt: prev.lastActivity})
		}
	}
	s.last = current

	for _, u := range updates {
		if err := s.publisher.PublishPresence(ctx, u); err != nil {
			log.Warn().Err(err).Str("user_id", u.UserID.String()).Msg("presence sweep: publish failed")
		}
	}
	if len(updates) > 0 {
		log.Debug().Int("changes", len(updates)).Msg("presence sweep published transitions")
	}
	return updates
}
