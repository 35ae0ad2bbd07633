package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-hub/internal/models"
)

// UserRepository covers the presence-related user state the hub reads and writes.
type UserRepository interface {
	PresenceSettings(ctx context.Context, userID int) (models.PresenceSettings, error)
	ContactIDs(ctx context.Context, userID int) ([]int, error)
	SetStatus(ctx context.Context, userID int, status models.Status) error
	SetLastSeen(ctx context.Context, userID int, at time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// PresenceSettings falls back to visible-to-everyone for users without a row.
func (r *UserRepo) PresenceSettings(ctx context.Context, userID int) (models.PresenceSettings, error) {
	var settings models.PresenceSettings
	err := r.db.GetContext(ctx, &settings, `SELECT user_id, status, visibility, last_seen FROM user_presence WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PresenceSettings{UserID: userID, Status: models.StatusOnline, Visibility: models.VisibilityEveryone}, nil
	}
	return settings, err
}

func (r *UserRepo) ContactIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT contact_id FROM user_contacts WHERE user_id=$1`, userID)
	return ids, err
}

func (r *UserRepo) SetStatus(ctx context.Context, userID int, status models.Status) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_presence (user_id, status) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status`, userID, status)
	return err
}

func (r *UserRepo) SetLastSeen(ctx context.Context, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_presence (user_id, last_seen) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`, userID, at)
	return err
}
