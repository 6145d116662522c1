package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// NotificationRepository persists parent notification bookkeeping.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const (
	notificationColumns = `id, student_id, class_id, student_name, parent_name, parent_email, parent_phone, episode_started_on, notification_date, consecutive_days_at_trigger, delivery_status, delivery_attempts, last_error, sent_at, created_at`

	insertNotificationQuery = `INSERT INTO parent_notifications (` + notificationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (student_id, episode_started_on) DO NOTHING RETURNING id`
)

type queryRower interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func insertNotification(ctx context.Context, q queryRower, n *models.NotificationRecord) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = models.DeliveryStatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var insertedID string
	err := q.QueryRowxContext(ctx, insertNotificationQuery,
		n.ID, n.StudentID, n.ClassID, n.StudentName, n.ParentName, n.ParentEmail, n.ParentPhone,
		n.EpisodeStartedOn, n.NotificationDate, n.ConsecutiveDaysAtTrigger,
		n.DeliveryStatus, n.DeliveryAttempts, n.LastError, n.SentAt, n.CreatedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

func insertNotificationTx(ctx context.Context, tx *sqlx.Tx, n *models.NotificationRecord) (bool, error) {
	return insertNotification(ctx, tx, n)
}

// Create inserts a notification. It returns false without error when the
// episode already has one.
func (r *NotificationRepository) Create(ctx context.Context, n *models.NotificationRecord) (bool, error) {
	return insertNotification(ctx, r.db, n)
}

// UpdateDelivery records the outcome of a delivery attempt.
func (r *NotificationRepository) UpdateDelivery(ctx context.Context, update models.DeliveryUpdate) error {
	const query = `UPDATE parent_notifications SET delivery_status = $1, delivery_attempts = $2, last_error = $3, sent_at = COALESCE($4, sent_at)
WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, update.Status, update.Attempts, update.LastError, update.SentAt, update.ID)
	if err != nil {
		return fmt.Errorf("update notification delivery: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update notification delivery: %w", sql.ErrNoRows)
	}
	return nil
}

// Get fetches a notification by id.
func (r *NotificationRepository) Get(ctx context.Context, id string) (*models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM parent_notifications WHERE id = $1`
	var n models.NotificationRecord
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

// ListByDateRange returns notifications whose notification_date falls in
// [from, to], newest first. Nil bounds are open.
func (r *NotificationRepository) ListByDateRange(ctx context.Context, from, to *models.Date) ([]models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM parent_notifications
WHERE ($1::date IS NULL OR notification_date >= $1::date) AND ($2::date IS NULL OR notification_date <= $2::date)
ORDER BY notification_date DESC, created_at DESC`
	var out []models.NotificationRecord
	if err := r.db.SelectContext(ctx, &out, query, from, to); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// ListPending returns undelivered notifications, oldest first.
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]models.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM parent_notifications
WHERE delivery_status = 'PENDING' ORDER BY created_at ASC LIMIT $1`
	var out []models.NotificationRecord
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return out, nil
}

// ListOpenEpisodes returns the episode keys that already carry a notification
// and are still the student's current episode.
func (r *NotificationRepository) ListOpenEpisodes(ctx context.Context) ([]models.EpisodeKey, error) {
	const query = `SELECT n.student_id, to_char(n.episode_started_on, 'YYYY-MM-DD') AS episode_started_on
FROM parent_notifications n
JOIN absence_streaks s ON s.student_id = n.student_id AND s.episode_started_on = n.episode_started_on`
	var keys []models.EpisodeKey
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("list open episodes: %w", err)
	}
	return keys, nil
}
