package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tap-attendance-api/api/swagger"
	"github.com/noah-isme/tap-attendance-api/internal/dto"
	"github.com/noah-isme/tap-attendance-api/internal/handler"
	internalmiddleware "github.com/noah-isme/tap-attendance-api/internal/middleware"
	"github.com/noah-isme/tap-attendance-api/internal/repository"
	"github.com/noah-isme/tap-attendance-api/internal/service"
	"github.com/noah-isme/tap-attendance-api/pkg/cache"
	"github.com/noah-isme/tap-attendance-api/pkg/config"
	"github.com/noah-isme/tap-attendance-api/pkg/database"
	"github.com/noah-isme/tap-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tap-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tap-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/tap-attendance-api/pkg/notify"
)

// @title Tap Attendance API
// @version 1.0.0
// @description Card-tap attendance sessions, absence escalation and daily reports
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.Migrate(ctx, db, logr); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, report cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logr, cfg.Reports.CacheEnabled && redisClient != nil)

	var sink notify.Sink = notify.NewLogSink(logr)
	if cfg.Notifications.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.Notifications.WebhookURL, cfg.Notifications.Timeout, logr)
	}

	engine := service.NewEngine(cfg, service.EngineStores{
		Classes:       repository.NewClassRepository(db),
		Students:      repository.NewStudentRepository(db),
		Attendance:    repository.NewAttendanceRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Reports:       repository.NewDailyReportRepository(db),
	}, sink, cacheSvc, metrics, service.SystemClock(), logr)

	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	engine.Start(ctx)
	defer engine.Stop()

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = redisPinger(redisClient)
	}

	validate := dto.NewValidator()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(internalmiddleware.WithResponseMeta())

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Sessions:      handler.NewSessionHandler(engine.Sessions, validate),
		Attendance:    handler.NewAttendanceHandler(engine.Taps, validate),
		Dashboard:     handler.NewDashboardHandler(engine.Dashboard),
		Reports:       handler.NewReportHandler(engine.Rollover, engine.Exports),
		Notifications: handler.NewNotificationHandler(engine.Notifications, engine.Escalator, validate),
		Schedule:      handler.NewScheduleHandler(engine.Classes),
		Metrics:       handler.NewMetricsHandler(metrics, checks),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Sugar().Infow("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func redisPinger(client *redis.Client) handler.Pinger {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
