package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

// ReportStore persists daily reports and the day counter.
type ReportStore interface {
	LoadState(ctx context.Context) (*models.DayState, error)
	InitState(ctx context.Context, state models.DayState) error
	CommitRollover(ctx context.Context, report *models.DailyReport, next models.DayState) error
	List(ctx context.Context, limit, offset int) ([]models.DailyReport, int, error)
	Get(ctx context.Context, id string) (*models.DailyReport, error)
}

// ReportList is a page of reports.
type ReportList struct {
	Reports []models.DailyReport `json:"reports"`
	Total   int                  `json:"total"`
}

// RolloverService closes business days into immutable reports.
type RolloverService struct {
	registry *SessionRegistry
	sessions *SessionService
	classes  *ClassRegistry
	store    ReportStore
	cache    *CacheService
	clock    Clock
	location *time.Location
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewRolloverService constructs the day rollover coordinator.
func NewRolloverService(registry *SessionRegistry, sessions *SessionService, classes *ClassRegistry, store ReportStore, cache *CacheService, clock Clock, location *time.Location, metrics *MetricsService, logger *zap.Logger) *RolloverService {
	if clock == nil {
		clock = SystemClock()
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RolloverService{
		registry: registry,
		sessions: sessions,
		classes:  classes,
		store:    store,
		cache:    cache,
		clock:    clock,
		location: location,
		metrics:  metrics,
		logger:   logger,
	}
}

// Rollover force-completes open sessions, writes the closing day's report and
// starts the next day. On failure the day stays open and nothing is reset.
func (s *RolloverService) Rollover(ctx context.Context) (*models.DailyReport, error) {
	return s.rolloverIf(ctx, nil)
}

// rolloverIf rolls over only when due, checked under the gate, reports true.
// A skipped rollover returns a nil report and no error.
func (s *RolloverService) rolloverIf(ctx context.Context, due func() bool) (*models.DailyReport, error) {
	s.registry.gate.Lock()
	if due != nil && !due() {
		s.registry.gate.Unlock()
		return nil, nil
	}
	held := time.Now()
	report, err := s.rollover(ctx)
	s.registry.gate.Unlock()

	s.metrics.Rollover(err == nil, time.Since(held))
	if err != nil {
		s.logger.Sugar().Errorw("day rollover failed", "error", err)
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, reportsCachePrefix); err != nil {
		s.logger.Sugar().Warnw("report cache not invalidated", "error", err)
	}
	return report, nil
}

func (s *RolloverService) rollover(ctx context.Context) (*models.DailyReport, error) {
	for _, entry := range s.registry.activeEntries() {
		if _, err := s.sessions.complete(ctx, entry.session.ID, models.CompletionReasonRollover); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	snap := s.registry.snapshot()
	report := s.buildReport(snap, now)
	next := snap.day.Next(now, s.location)
	if err := s.store.CommitRollover(ctx, &report, next); err != nil {
		return nil, appErrors.Fatal(err, "failed to commit daily report")
	}

	s.registry.reset(next)
	s.metrics.SetActiveSessions(0)
	s.logger.Sugar().Infow("day rolled over",
		"closed_day", report.DayNumber,
		"closed_date", report.BusinessDate.String(),
		"next_day", next.DayNumber,
		"next_date", next.BusinessDate.String(),
		"present", report.PresentCount,
		"late", report.LateCount,
		"absent", report.AbsentCount,
	)
	return &report, nil
}

// Preview builds the report of the open day without persisting anything or
// closing sessions.
func (s *RolloverService) Preview(ctx context.Context) (*models.DailyReport, error) {
	s.registry.gate.Lock()
	snap := s.registry.snapshot()
	s.registry.gate.Unlock()

	report := s.buildReport(snap, s.clock.Now())
	return &report, nil
}

func (s *RolloverService) buildReport(snap daySnapshot, at time.Time) models.DailyReport {
	type classAgg struct {
		sessions int
		counts   models.AttendanceCounts
	}
	aggs := map[string]*classAgg{}
	var order []string
	var total models.AttendanceCounts

	for _, session := range snap.sessions {
		agg, ok := aggs[session.ClassID]
		if !ok {
			agg = &classAgg{}
			aggs[session.ClassID] = agg
			order = append(order, session.ClassID)
		}
		agg.sessions++
		for _, rec := range snap.records[session.ID] {
			agg.counts.Add(rec.Status)
			total.Add(rec.Status)
		}
	}

	classes := make(models.ClassReportList, 0, len(order))
	for _, classID := range order {
		agg := aggs[classID]
		classes = append(classes, models.ClassReport{
			ClassID:        classID,
			ClassName:      s.classes.Name(classID),
			Sessions:       agg.sessions,
			Present:        agg.counts.Present,
			Late:           agg.counts.Late,
			Absent:         agg.counts.Absent,
			Total:          agg.counts.Total(),
			AttendanceRate: agg.counts.Rate(),
		})
	}

	return models.DailyReport{
		BusinessDate:   snap.day.BusinessDate,
		DayNumber:      snap.day.DayNumber,
		TotalSessions:  len(snap.sessions),
		PresentCount:   total.Present,
		LateCount:      total.Late,
		AbsentCount:    total.Absent,
		TotalRecords:   total.Total(),
		AttendanceRate: total.Rate(),
		Classes:        classes,
		GeneratedAt:    at,
	}
}

// Reports lists persisted reports newest first.
func (s *RolloverService) Reports(ctx context.Context, limit, offset int) (*ReportList, bool, error) {
	key := cacheKey("reports", "list", strconv.Itoa(limit), strconv.Itoa(offset))
	var cached ReportList
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}
	reports, total, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, false, appErrors.Fatal(err, "failed to list reports")
	}
	if reports == nil {
		reports = []models.DailyReport{}
	}
	out := &ReportList{Reports: reports, Total: total}
	s.cache.Set(ctx, key, out, 0)
	return out, false, nil
}

// GetReport fetches one report.
func (s *RolloverService) GetReport(ctx context.Context, id string) (*models.DailyReport, bool, error) {
	key := cacheKey("reports", "id", id)
	var cached models.DailyReport
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}
	report, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.ErrReportNotFound
		}
		return nil, false, appErrors.Fatal(err, "failed to load report")
	}
	s.cache.Set(ctx, key, report, 0)
	return report, false, nil
}

// nextBoundary returns the first rollover instant after now for a boundary at
// offset past local midnight.
func nextBoundary(now time.Time, loc *time.Location, offset time.Duration) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	boundary := midnight.Add(offset)
	if !boundary.After(local) {
		boundary = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc).Add(offset)
	}
	return boundary
}

// RunDailyBoundary rolls the day over at every boundary until ctx ends.
// A failed rollover is retried after retry.
func (s *RolloverService) RunDailyBoundary(ctx context.Context, offset, retry time.Duration) {
	if retry <= 0 {
		retry = time.Minute
	}
	if s.missedBoundary(offset) {
		s.logger.Sugar().Infow("day boundary passed while offline, rolling over")
		if _, err := s.boundaryRollover(ctx, offset); err != nil {
			s.logger.Sugar().Warnw("catch-up rollover failed", "error", err)
		}
	}
	for {
		wait := nextBoundary(s.clock.Now(), s.location, offset).Sub(s.clock.Now())
		s.logger.Sugar().Infow("next day rollover scheduled", "in", wait)
		if !sleepCtx(ctx, wait) {
			return
		}
		for {
			if _, err := s.boundaryRollover(ctx, offset); err == nil {
				break
			}
			if !sleepCtx(ctx, retry) {
				return
			}
		}
	}
}

// boundaryRollover closes the business day at a boundary. A day that a forced
// rollover already moved to the calendar date or beyond is left open.
func (s *RolloverService) boundaryRollover(ctx context.Context, offset time.Duration) (*models.DailyReport, error) {
	report, err := s.rolloverIf(ctx, func() bool { return s.missedBoundary(offset) })
	if err == nil && report == nil {
		s.logger.Sugar().Infow("business day already advanced, boundary rollover skipped",
			"business_date", s.registry.Day().BusinessDate.String(),
		)
	}
	return report, err
}

// missedBoundary reports whether the open business day ended before now.
func (s *RolloverService) missedBoundary(offset time.Duration) bool {
	current := models.DateOf(s.clock.Now().In(s.location).Add(-offset), s.location)
	return current.After(s.registry.Day().BusinessDate)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
