package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/pkg/config"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
	"github.com/noah-isme/tap-attendance-api/pkg/jobs"
	"github.com/noah-isme/tap-attendance-api/pkg/notify"
)

// EngineStores groups the persistence dependencies of the engine.
type EngineStores struct {
	Classes       ClassStore
	Students      StudentDirectory
	Attendance    AttendanceStore
	Notifications NotificationStore
	Reports       ReportStore
}

// Engine wires the attendance session and escalation components together.
type Engine struct {
	Registry      *SessionRegistry
	Classes       *ClassRegistry
	Sessions      *SessionService
	Taps          *TapService
	Escalator     *EscalationService
	Notifications *NotificationService
	Rollover      *RolloverService
	Dashboard     *DashboardService
	Exports       *ExportService

	cfg    config.AttendanceConfig
	notify config.NotificationConfig
	stores EngineStores
	clock  Clock
	logger *zap.Logger

	queue  *jobs.Queue
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine constructs every component. Restore must run before Start.
func NewEngine(cfg *config.Config, stores EngineStores, sink notify.Sink, cache *CacheService, metrics *MetricsService, clock Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Attendance.Location()

	registry := NewSessionRegistry(models.DayState{}, cfg.Attendance.RecentTapsLimit)
	classes := NewClassRegistry(stores.Classes, cfg.Attendance.SessionDuration, cfg.Attendance.LateThreshold, logger)
	notifications := NewNotificationService(stores.Notifications, registry, stores.Students, sink, clock, metrics, logger)
	escalator := NewEscalationService(registry, stores.Attendance, stores.Students, notifications, cfg.Attendance.AbsenceThreshold, logger)
	sessions := NewSessionService(registry, classes, stores.Students, stores.Attendance, escalator, notifications, clock, loc, metrics, logger)
	taps := NewTapService(registry, stores.Students, stores.Attendance, escalator, notifications, clock, metrics, logger)
	rollover := NewRolloverService(registry, sessions, classes, stores.Reports, cache, clock, loc, metrics, logger)

	e := &Engine{
		Registry:      registry,
		Classes:       classes,
		Sessions:      sessions,
		Taps:          taps,
		Escalator:     escalator,
		Notifications: notifications,
		Rollover:      rollover,
		Dashboard:     NewDashboardService(registry, classes, escalator, notifications, logger),
		Exports:       NewExportService(rollover, logger),
		cfg:           cfg.Attendance,
		notify:        cfg.Notifications,
		stores:        stores,
		clock:         clock,
		logger:        logger,
	}

	e.queue = jobs.NewQueue("notifications", notifications.Deliver, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		MaxDelay:   cfg.Notifications.MaxRetryDelay,
		Retryable:  appErrors.IsRetryable,
		OnGiveUp:   notifications.OnGiveUp,
		Logger:     logger,
	})
	notifications.AttachQueue(e.queue)
	return e
}

// Restore loads classes, the day counter, streaks and today's sessions.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.Classes.Load(ctx); err != nil {
		return err
	}

	day, err := e.stores.Reports.LoadState(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Fatal(err, "failed to load day state")
		}
		initial := models.DayState{DayNumber: 1, BusinessDate: models.DateOf(e.clock.Now(), e.cfg.Location())}
		if err := e.stores.Reports.InitState(ctx, initial); err != nil {
			return appErrors.Fatal(err, "failed to initialise day state")
		}
		day = &initial
	}

	streaks, err := e.stores.Attendance.ListStreaks(ctx)
	if err != nil {
		return appErrors.Fatal(err, "failed to load absence streaks")
	}
	episodes, err := e.Notifications.Restore(ctx)
	if err != nil {
		return err
	}
	e.Registry.restore(*day, streaks, episodes)

	e.logger.Sugar().Infow("engine state restored",
		"day_number", day.DayNumber,
		"business_date", day.BusinessDate.String(),
		"streaks", len(streaks),
		"open_episodes", len(episodes),
	)
	return e.Sessions.Restore(ctx)
}

// Start launches the delivery queue and background loops.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.queue.Start(ctx)

	e.goLoop(func() { e.Notifications.StartRedelivery(ctx, e.notify.RedeliveryPeriod) })
	if e.cfg.AutoSchedule {
		e.goLoop(func() { e.Sessions.RunSchedule(ctx, e.cfg.SchedulerTick) })
	}
	if e.cfg.AutoRollover {
		e.goLoop(func() { e.Rollover.RunDailyBoundary(ctx, e.cfg.RolloverOffset(), time.Minute) })
	}

	if _, err := e.Notifications.RedeliverPending(ctx); err != nil {
		e.logger.Sugar().Warnw("initial notification sweep failed", "error", err)
	}
}

func (e *Engine) goLoop(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Stop halts background work. Pending completion timers are left to fire.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.queue.Stop()
}
