package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// DailyReportRepository persists daily reports and the engine's day counter.
type DailyReportRepository struct {
	db *sqlx.DB
}

// NewDailyReportRepository constructs the repository.
func NewDailyReportRepository(db *sqlx.DB) *DailyReportRepository {
	return &DailyReportRepository{db: db}
}

const reportColumns = `id, business_date, day_number, total_sessions, present_count, late_count, absent_count, total_records, attendance_rate, classes, generated_at`

// LoadState returns the current day. A missing row wraps sql.ErrNoRows.
func (r *DailyReportRepository) LoadState(ctx context.Context) (*models.DayState, error) {
	const query = `SELECT day_number, business_date FROM system_state WHERE id = 1`
	var state models.DayState
	if err := r.db.GetContext(ctx, &state, query); err != nil {
		return nil, fmt.Errorf("load day state: %w", err)
	}
	return &state, nil
}

// InitState seeds the day counter when the table is empty.
func (r *DailyReportRepository) InitState(ctx context.Context, state models.DayState) error {
	const query = `INSERT INTO system_state (id, day_number, business_date, updated_at) VALUES (1, $1, $2, $3)
ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, state.DayNumber, state.BusinessDate, time.Now().UTC()); err != nil {
		return fmt.Errorf("init day state: %w", err)
	}
	return nil
}

// CommitRollover writes the closing day's report and advances the day counter
// atomically. The counter only moves if it still holds report.DayNumber.
func (r *DailyReportRepository) CommitRollover(ctx context.Context, report *models.DailyReport, next models.DayState) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollover: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO daily_reports (` + reportColumns + `)
VALUES (:id, :business_date, :day_number, :total_sessions, :present_count, :late_count, :absent_count, :total_records, :attendance_rate, :classes, :generated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, report); err != nil {
		return fmt.Errorf("insert daily report: %w", err)
	}

	const advance = `UPDATE system_state SET day_number = $1, business_date = $2, updated_at = $3 WHERE id = 1 AND day_number = $4`
	res, err := tx.ExecContext(ctx, advance, next.DayNumber, next.BusinessDate, report.GeneratedAt, report.DayNumber)
	if err != nil {
		return fmt.Errorf("advance day state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance day state: %w", err)
	}
	if affected != 1 {
		return ErrStaleDayState
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollover: %w", err)
	}
	committed = true
	return nil
}

// List returns reports newest first with the total count.
func (r *DailyReportRepository) List(ctx context.Context, limit, offset int) ([]models.DailyReport, int, error) {
	if limit <= 0 {
		limit = 30
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM daily_reports`); err != nil {
		return nil, 0, fmt.Errorf("count daily reports: %w", err)
	}
	query := `SELECT ` + reportColumns + ` FROM daily_reports ORDER BY day_number DESC LIMIT $1 OFFSET $2`
	var reports []models.DailyReport
	if err := r.db.SelectContext(ctx, &reports, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list daily reports: %w", err)
	}
	return reports, total, nil
}

// Get fetches a report by id. A miss wraps sql.ErrNoRows.
func (r *DailyReportRepository) Get(ctx context.Context, id string) (*models.DailyReport, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("get daily report: %w", sql.ErrNoRows)
	}
	query := `SELECT ` + reportColumns + ` FROM daily_reports WHERE id = $1`
	var report models.DailyReport
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, fmt.Errorf("get daily report: %w", err)
	}
	return &report, nil
}
