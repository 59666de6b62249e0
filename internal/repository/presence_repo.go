package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/presence"
)

// PresenceRepo stores stored_status and last_activity_at, the only durable
// presence fields. Rows are created by upsert on first write and never deleted.
type PresenceRepo struct {
	pool *pgxpool.Pool
}

func NewPresenceRepo(pool *pgxpool.Pool) *PresenceRepo {
	return &PresenceRepo{pool: pool}
}

func (r *PresenceRepo) RecordActivity(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_presence (user_id, last_activity_at, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET last_activity_at = GREATEST(user_presence.last_activity_at, EXCLUDED.last_activity_at),
			updated_at = NOW()
	`, userID, at)
	return mapPostgresError(err)
}

// SetStatusAt stores an explicit status and the activity that came with it in
// one statement.
func (r *PresenceRepo) SetStatusAt(ctx context.Context, userID uuid.UUID, status presence.Status, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_presence (user_id, stored_status, last_activity_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET stored_status = EXCLUDED.stored_status,
			last_activity_at = GREATEST(user_presence.last_activity_at, EXCLUDED.last_activity_at),
			updated_at = NOW()
	`, userID, string(status), at)
	return mapPostgresError(err)
}

// GetStatus returns the durable record. A user with no row yet gets an
// offline record with zero activity.
func (r *PresenceRepo) GetStatus(ctx context.Context, userID uuid.UUID) (presence.Record, error) {
	rec := presence.Record{UserID: userID, StoredStatus: presence.StatusOffline}

	var status string
	var last pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `
		SELECT stored_status, last_activity_at FROM user_presence WHERE user_id = $1
	`, userID).Scan(&status, &last)
	if err != nil {
		if isNoRows(err) {
			return rec, nil
		}
		return rec, err
	}

	rec.StoredStatus = presence.Status(status)
	if last.Valid {
		rec.LastActivityAt = last.Time
	}
	return rec, nil
}

// ListDirectory returns every active user with their durable presence fields.
// Status on the returned rows is the stored value; callers resolve it.
func (r *PresenceRepo) ListDirectory(ctx context.Context) ([]models.UserPresence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.username, u.full_name,
			COALESCE(p.stored_status, 'offline'), p.last_activity_at
		FROM users u
		LEFT JOIN user_presence p ON p.user_id = u.id
		WHERE u.is_active = TRUE
		ORDER BY u.username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.UserPresence, 0)
	for rows.Next() {
		var item models.UserPresence
		var stored string
		if err := rows.Scan(&item.UserID, &item.Username, &item.FullName, &stored, &item.LastActivityAt); err != nil {
			return nil, err
		}
		item.StoredStatus = presence.Status(stored)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListActiveSince returns records whose last activity is at or after since.
func (r *PresenceRepo) ListActiveSince(ctx context.Context, since time.Time) ([]presence.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, stored_status, last_activity_at
		FROM user_presence
		WHERE last_activity_at >= $1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]presence.Record, 0)
	for rows.Next() {
		var rec presence.Record
		var stored string
		if err := rows.Scan(&rec.UserID, &stored, &rec.LastActivityAt); err != nil {
			return nil, err
		}
		rec.StoredStatus = presence.Status(stored)
		records = append(records, rec)
	}
	return records, rows.Err()
}
