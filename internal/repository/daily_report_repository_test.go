package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

func sampleReport() *models.DailyReport {
	return &models.DailyReport{
		BusinessDate:   models.NewDate(2026, 10, 19),
		DayNumber:      4,
		TotalSessions:  2,
		PresentCount:   5,
		LateCount:      1,
		AbsentCount:    2,
		TotalRecords:   8,
		AttendanceRate: 63,
		Classes:        models.ClassReportList{{ClassID: "7A", Present: 5, Late: 1, Absent: 2, Total: 8}},
	}
}

func TestDailyReportRepositoryCommitRollover(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewDailyReportRepository(db)

	next := models.DayState{DayNumber: 5, BusinessDate: models.NewDate(2026, 10, 20)}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_reports")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE system_state SET day_number = $1")).
		WithArgs(5, "2026-10-20", sqlmock.AnyArg(), 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report := sampleReport()
	require.NoError(t, repo.CommitRollover(context.Background(), report, next))
	assert.NotEmpty(t, report.ID)
	assert.False(t, report.GeneratedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyReportRepositoryCommitRolloverStaleState(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewDailyReportRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO daily_reports").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE system_state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CommitRollover(context.Background(), sampleReport(), models.DayState{DayNumber: 5})
	assert.ErrorIs(t, err, ErrStaleDayState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyReportRepositoryList(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewDailyReportRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM daily_reports")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	rows := sqlmock.NewRows([]string{"id", "business_date", "day_number", "total_sessions", "present_count", "late_count", "absent_count", "total_records", "attendance_rate", "classes", "generated_at"}).
		AddRow("r-7", now, 7, 1, 2, 0, 1, 3, 67, []byte(`[{"class_id":"7A","present":2,"absent":1,"total":3}]`), now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY day_number DESC LIMIT $1 OFFSET $2")).
		WithArgs(10, 0).
		WillReturnRows(rows)

	reports, total, err := repo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, reports, 1)
	assert.Equal(t, 67, reports[0].AttendanceRate)
	require.Len(t, reports[0].Classes, 1)
	assert.Equal(t, "7A", reports[0].Classes[0].ClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyReportRepositoryLoadStateMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewDailyReportRepository(db)

	mock.ExpectQuery("FROM system_state").WillReturnError(sql.ErrNoRows)
	_, err := repo.LoadState(context.Background())
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
