package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

func TestRolloverForceCompletesAndAdvancesDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.start(t, testClassID)
	b := h.start(t, testClassB)
	_, err := h.tap("a")
	require.NoError(t, err)

	report, err := h.engine.Rollover.Rollover(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DayNumber)
	assert.Equal(t, testStart.Format("2006-01-02"), report.BusinessDate.String())
	assert.Equal(t, 2, report.TotalSessions)
	assert.Equal(t, models.AttendanceCounts{Present: 1, Absent: 2}, report.Counts())
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 33, report.AttendanceRate)
	require.Len(t, report.Classes, 2)
	assert.Equal(t, "7A", report.Classes[0].ClassName)
	assert.Equal(t, 3, report.Classes[0].Total)
	assert.Equal(t, 0, report.Classes[1].Total)

	day := h.engine.Registry.Day()
	assert.Equal(t, 2, day.DayNumber)
	assert.Equal(t, testStart.AddDate(0, 0, 1).Format("2006-01-02"), day.BusinessDate.String())
	assert.Nil(t, h.engine.Sessions.CurrentSession(testClassID))
	assert.Nil(t, h.engine.Sessions.CurrentSession(testClassB))
	assert.Equal(t, 0, h.engine.Dashboard.Stats().ActiveSessions)
	assert.Equal(t, 0, h.clock.pending())

	for _, id := range []string{a.ID, b.ID} {
		stored, err := h.att.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusCompleted, stored.Status)
		assert.Equal(t, models.CompletionReasonRollover, *stored.CompletionReason)
	}

	_, err = h.tap("b")
	assert.ErrorIs(t, err, appErrors.ErrNoSession)
	assert.Len(t, h.reports.reports, 1)
}

func TestPreviewIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, testClassID)
	_, err := h.tap("a")
	require.NoError(t, err)

	first, err := h.engine.Rollover.Preview(ctx)
	require.NoError(t, err)
	second, err := h.engine.Rollover.Preview(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, first.PresentCount)
	assert.Equal(t, 1, first.DayNumber)
	assert.Empty(t, h.reports.reports)
	assert.Equal(t, 1, h.engine.Registry.Day().DayNumber)
	assert.NotNil(t, h.engine.Sessions.CurrentSession(testClassID))

	_, err = h.tap("b")
	assert.NoError(t, err)
}

func TestRolloverFailureKeepsDayOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, testClassID)
	_, err := h.tap("a")
	require.NoError(t, err)
	h.reports.commitErr = errors.New("deadlock detected")

	_, err = h.engine.Rollover.Rollover(ctx)
	require.Error(t, err)
	assert.Equal(t, appErrors.KindFatal, appErrors.KindOf(err))
	assert.Equal(t, 1, h.engine.Registry.Day().DayNumber)
	assert.Empty(t, h.reports.reports)

	stats := h.engine.Dashboard.Stats()
	assert.Equal(t, 1, stats.SessionsToday)
	assert.Equal(t, 1, stats.Present)

	h.reports.commitErr = nil
	report, err := h.engine.Rollover.Rollover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DayNumber)
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 2, h.engine.Registry.Day().DayNumber)
}

func TestRolloverEmptyDay(t *testing.T) {
	h := newHarness(t)
	report := h.nextDay(t)

	assert.Equal(t, 0, report.TotalSessions)
	assert.Equal(t, 0, report.AttendanceRate)
	assert.Empty(t, report.Classes)
	assert.Equal(t, 2, h.engine.Registry.Day().DayNumber)
}

func TestStreaksSurviveRollover(t *testing.T) {
	h := newHarness(t)
	h.runDay(t, testClassID, "a")
	h.nextDay(t)
	assert.Equal(t, 1, h.engine.Registry.Streak("b").ConsecutiveAbsentDays)
	assert.Equal(t, 0, h.engine.Registry.Streak("a").ConsecutiveAbsentDays)
}

func TestReportsUseCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	h.engine.Rollover.cache = NewCacheService(repository.NewCacheRepository(client, nil), nil, time.Minute, nil, true)

	h.nextDay(t)
	list, cached, err := h.engine.Rollover.Reports(ctx, 10, 0)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, list.Total)

	list, cached, err = h.engine.Rollover.Reports(ctx, 10, 0)
	require.NoError(t, err)
	assert.True(t, cached)
	require.Len(t, list.Reports, 1)

	report, cached, err := h.engine.Rollover.GetReport(ctx, list.Reports[0].ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, report.DayNumber)

	h.nextDay(t)
	list, cached, err = h.engine.Rollover.Reports(ctx, 10, 0)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Reports[0].DayNumber)

	_, _, err = h.engine.Rollover.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, appErrors.ErrReportNotFound)
}

func TestNextBoundary(t *testing.T) {
	wib := time.FixedZone("WIB", 7*60*60)
	cases := []struct {
		name   string
		now    time.Time
		loc    *time.Location
		offset time.Duration
		want   time.Time
	}{
		{"midday", time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), time.UTC, 0, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)},
		{"exactly at boundary", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), time.UTC, 0, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)},
		{"before offset", time.Date(2024, 1, 8, 1, 0, 0, 0, time.UTC), time.UTC, 2 * time.Hour, time.Date(2024, 1, 8, 2, 0, 0, 0, time.UTC)},
		{"local zone", time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC), wib, 0, time.Date(2024, 1, 10, 0, 0, 0, 0, wib)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextBoundary(tc.now, tc.loc, tc.offset)
			assert.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestRunDailyBoundaryCatchesUp(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.engine.Rollover.missedBoundary(0))

	h.clock.Set(time.Date(2024, 1, 9, 0, 30, 0, 0, time.UTC))
	assert.False(t, h.engine.Rollover.missedBoundary(time.Hour))
	require.True(t, h.engine.Rollover.missedBoundary(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.engine.Rollover.RunDailyBoundary(ctx, 0, time.Millisecond)

	assert.Equal(t, 2, h.engine.Registry.Day().DayNumber)
	assert.Equal(t, "2024-01-09", h.engine.Registry.Day().BusinessDate.String())
}

func TestBoundaryAfterForcedNewDayKeepsCalendar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.classes[0].SessionStart = "08:00"
	require.NoError(t, h.engine.Classes.Load(ctx))

	h.clock.Set(time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC))
	_, err := h.engine.Rollover.Rollover(ctx)
	require.NoError(t, err)
	require.Equal(t, "2024-01-09", h.engine.Registry.Day().BusinessDate.String())

	h.clock.Set(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC))
	report, err := h.engine.Rollover.boundaryRollover(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Len(t, h.reports.reports, 1)
	day := h.engine.Registry.Day()
	assert.Equal(t, 2, day.DayNumber)
	assert.Equal(t, "2024-01-09", day.BusinessDate.String())

	h.clock.Set(time.Date(2024, 1, 9, 8, 0, 30, 0, time.UTC))
	opened := h.engine.Sessions.OpenDue(ctx)
	require.Len(t, opened, 1)
	current := h.engine.Sessions.CurrentSession(testClassID)
	require.NotNil(t, current)
	assert.Equal(t, "2024-01-09", current.BusinessDate.String())

	h.clock.Set(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	report, err = h.engine.Rollover.boundaryRollover(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.DayNumber)
	assert.Equal(t, 1, report.TotalSessions)
	assert.Equal(t, "2024-01-10", h.engine.Registry.Day().BusinessDate.String())
}

func TestRunDailyBoundarySkipsForcedDay(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC))
	_, err := h.engine.Rollover.Rollover(context.Background())
	require.NoError(t, err)

	h.clock.Set(time.Date(2024, 1, 9, 0, 30, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.engine.Rollover.RunDailyBoundary(ctx, 0, time.Millisecond)

	assert.Equal(t, 2, h.engine.Registry.Day().DayNumber)
	assert.Equal(t, "2024-01-09", h.engine.Registry.Day().BusinessDate.String())
}
