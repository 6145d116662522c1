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

// AttendanceRepository persists sessions, attendance records and absence streaks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const (
	sessionColumns = `id, class_id, business_date, day_number, start_time, end_time, duration_seconds, late_threshold_seconds, status, trigger_source, completed_at, completion_reason, created_at`
	recordColumns  = `id, session_id, student_id, class_id, business_date, status, tap_time, auto_marked, created_at`
	streakColumns  = `student_id, consecutive_absent_days, last_evaluated_date, episode_started_on, notification_sent_for_current_episode, updated_at`

	insertRecordQuery = `INSERT INTO attendance_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, student_id) DO NOTHING RETURNING id`

	upsertStreakQuery = `INSERT INTO absence_streaks (` + streakColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (student_id) DO UPDATE SET
	consecutive_absent_days = EXCLUDED.consecutive_absent_days,
	last_evaluated_date = EXCLUDED.last_evaluated_date,
	episode_started_on = EXCLUDED.episode_started_on,
	notification_sent_for_current_episode = EXCLUDED.notification_sent_for_current_episode,
	updated_at = EXCLUDED.updated_at`
)

// CreateSession inserts a new ACTIVE session. The partial unique index on
// class_id surfaces as ErrActiveSessionExists.
func (r *AttendanceRepository) CreateSession(ctx context.Context, session *models.ClassSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_sessions (` + sessionColumns + `)
VALUES (:id, :class_id, :business_date, :day_number, :start_time, :end_time, :duration_seconds, :late_threshold_seconds, :status, :trigger_source, :completed_at, :completion_reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if isUniqueViolation(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// CompleteSession marks the session COMPLETED and writes the escalation batch
// in a single transaction. It returns the notifications that were inserted;
// ones already present for the same episode are skipped.
func (r *AttendanceRepository) CompleteSession(ctx context.Context, closure models.SessionClosure) (created []models.NotificationRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE class_sessions SET status = 'COMPLETED', completed_at = $1, completion_reason = $2
WHERE id = $3 AND status = 'ACTIVE'`
	if _, err = tx.ExecContext(ctx, update, closure.CompletedAt, closure.Reason, closure.SessionID); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	if created, err = writeAbsences(ctx, tx, closure.Absences, false); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete session: %w", err)
	}
	return created, nil
}

// CommitTap stores a tap record together with the reset streak.
func (r *AttendanceRepository) CommitTap(ctx context.Context, record *models.AttendanceRecord, streak models.AbsenceStreak) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tap: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertRecordTx(ctx, tx, record); err != nil {
		return err
	}
	if err = upsertStreakTx(ctx, tx, streak); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tap: %w", err)
	}
	return nil
}

// CommitAbsences writes a manually marked absence batch. Unlike session
// completion a duplicate record fails the whole batch.
func (r *AttendanceRepository) CommitAbsences(ctx context.Context, batch models.AbsenceBatch) (created []models.NotificationRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit absences: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if created, err = writeAbsences(ctx, tx, batch, true); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit absences: %w", err)
	}
	return created, nil
}

func writeAbsences(ctx context.Context, tx *sqlx.Tx, batch models.AbsenceBatch, strict bool) ([]models.NotificationRecord, error) {
	for i := range batch.Records {
		if err := insertRecordTx(ctx, tx, &batch.Records[i]); err != nil {
			if errors.Is(err, ErrDuplicateAttendance) && !strict {
				continue
			}
			return nil, err
		}
	}
	for _, streak := range batch.Streaks {
		if err := upsertStreakTx(ctx, tx, streak); err != nil {
			return nil, err
		}
	}
	created := make([]models.NotificationRecord, 0, len(batch.Notifications))
	for i := range batch.Notifications {
		inserted, err := insertNotificationTx(ctx, tx, &batch.Notifications[i])
		if err != nil {
			return nil, err
		}
		if inserted {
			created = append(created, batch.Notifications[i])
		}
	}
	return created, nil
}

func insertRecordTx(ctx context.Context, tx *sqlx.Tx, rec *models.AttendanceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var insertedID string
	err := tx.QueryRowxContext(ctx, insertRecordQuery,
		rec.ID, rec.SessionID, rec.StudentID, rec.ClassID, rec.BusinessDate, rec.Status, rec.TapTime, rec.AutoMarked, rec.CreatedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicateAttendance
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

func upsertStreakTx(ctx context.Context, tx *sqlx.Tx, streak models.AbsenceStreak) error {
	if streak.UpdatedAt.IsZero() {
		streak.UpdatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, upsertStreakQuery,
		streak.StudentID, streak.ConsecutiveAbsentDays, streak.LastEvaluatedDate, streak.EpisodeStartedOn, streak.NotificationSent, streak.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert absence streak: %w", err)
	}
	return nil
}

// SaveStreak upserts a single streak outside any session work.
func (r *AttendanceRepository) SaveStreak(ctx context.Context, streak models.AbsenceStreak) error {
	if streak.UpdatedAt.IsZero() {
		streak.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, upsertStreakQuery,
		streak.StudentID, streak.ConsecutiveAbsentDays, streak.LastEvaluatedDate, streak.EpisodeStartedOn, streak.NotificationSent, streak.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save absence streak: %w", err)
	}
	return nil
}

// ListStreaks returns every stored streak.
func (r *AttendanceRepository) ListStreaks(ctx context.Context) ([]models.AbsenceStreak, error) {
	query := `SELECT ` + streakColumns + ` FROM absence_streaks`
	var streaks []models.AbsenceStreak
	if err := r.db.SelectContext(ctx, &streaks, query); err != nil {
		return nil, fmt.Errorf("list absence streaks: %w", err)
	}
	return streaks, nil
}

// GetSession fetches a session by id. A miss wraps sql.ErrNoRows.
func (r *AttendanceRepository) GetSession(ctx context.Context, id string) (*models.ClassSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("get session: %w", sql.ErrNoRows)
	}
	query := `SELECT ` + sessionColumns + ` FROM class_sessions WHERE id = $1`
	var session models.ClassSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// ListSessionsByDate returns the sessions of a business day in start order.
func (r *AttendanceRepository) ListSessionsByDate(ctx context.Context, date models.Date) ([]models.ClassSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM class_sessions WHERE business_date = $1 ORDER BY start_time, id`
	var sessions []models.ClassSession
	if err := r.db.SelectContext(ctx, &sessions, query, date); err != nil {
		return nil, fmt.Errorf("list sessions by date: %w", err)
	}
	return sessions, nil
}

// ListRecordsByDate returns every record of a business day.
func (r *AttendanceRepository) ListRecordsByDate(ctx context.Context, date models.Date) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE business_date = $1 ORDER BY created_at, id`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, date); err != nil {
		return nil, fmt.Errorf("list records by date: %w", err)
	}
	return records, nil
}

// ListSessionRecords returns the records of one session.
func (r *AttendanceRepository) ListSessionRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE session_id = $1 ORDER BY created_at, id`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return records, nil
}
