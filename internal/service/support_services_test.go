package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

type classStoreStub struct {
	classes []models.Class
	err     error
}

func (s classStoreStub) ListActive(context.Context) ([]models.Class, error) {
	return s.classes, s.err
}

func TestClassRegistryLoad(t *testing.T) {
	store := classStoreStub{classes: []models.Class{
		{ID: "c2", Name: "8B", SessionStart: "09:00", DurationSeconds: 300, LateThresholdSeconds: 600},
		{ID: "c1", Name: "7A", SessionStart: "07:30"},
		{ID: "c3", Name: "6C"},
	}}
	reg := NewClassRegistry(store, 2*time.Minute, 10*time.Second, nil)
	require.NoError(t, reg.Load(context.Background()))

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c3", "c1", "c2"}, []string{list[0].ID, list[1].ID, list[2].ID})

	c1, err := reg.Resolve(" c1 ")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, c1.SessionDuration)
	assert.Equal(t, 10*time.Second, c1.LateThreshold)

	c2, ok := reg.Get("c2")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, c2.SessionDuration)
	assert.Equal(t, 5*time.Minute, c2.LateThreshold)

	assert.Equal(t, "7A", reg.Name("c1"))
	assert.Equal(t, "unknown", reg.Name("unknown"))

	_, err = reg.Resolve("")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	_, err = reg.Resolve("c9")
	assert.ErrorIs(t, err, appErrors.ErrClassNotFound)
}

func TestClassRegistryLoadFailure(t *testing.T) {
	reg := NewClassRegistry(classStoreStub{err: errors.New("relation does not exist")}, time.Minute, time.Second, nil)
	err := reg.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.KindFatal, appErrors.KindOf(err))
}

func newCacheService(t *testing.T, metrics *MetricsService) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheService(repository.NewCacheRepository(client, nil), metrics, time.Minute, nil, true), srv
}

func TestCacheServiceRoundTrip(t *testing.T) {
	metrics := NewMetricsService()
	cache, srv := newCacheService(t, metrics)
	ctx := context.Background()

	var out ReportList
	assert.False(t, cache.Get(ctx, "reports:list:10:0", &out))

	cache.Set(ctx, "reports:list:10:0", ReportList{Total: 7}, 0)
	require.True(t, cache.Get(ctx, "reports:list:10:0", &out))
	assert.Equal(t, 7, out.Total)
	assert.Equal(t, time.Minute, srv.TTL("reports:list:10:0"))

	cache.Set(ctx, "sessions:other", ReportList{Total: 1}, time.Hour)
	require.NoError(t, cache.Invalidate(ctx, reportsCachePrefix))
	assert.False(t, srv.Exists("reports:list:10:0"))
	assert.True(t, srv.Exists("sessions:other"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))
}

func TestCacheServiceDisabled(t *testing.T) {
	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	assert.NoError(t, nilCache.Invalidate(context.Background(), reportsCachePrefix))

	cache := NewCacheService(nil, nil, 0, nil, true)
	var out ReportList
	assert.False(t, cache.Get(context.Background(), "reports:list", &out))
	cache.Set(context.Background(), "reports:list", out, 0)
}

func TestCacheServiceBackendDownIsMiss(t *testing.T) {
	cache, srv := newCacheService(t, nil)
	srv.Close()

	var out ReportList
	assert.False(t, cache.Get(context.Background(), "reports:list", &out))
	assert.Error(t, cache.Invalidate(context.Background(), reportsCachePrefix))
}

func TestMetricsServiceEngineCounters(t *testing.T) {
	metrics := NewMetricsService()
	h := newHarness(t)
	h.engine.Taps.metrics = metrics
	h.engine.Sessions.metrics = metrics

	session := h.start(t, testClassID)
	_, err := h.tap("a")
	require.NoError(t, err)
	_, err = h.tap("a")
	require.Error(t, err)
	_, err = h.engine.Sessions.CompleteSession(context.Background(), session.ID, models.CompletionReasonManual)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.taps.WithLabelValues("PRESENT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.taps.WithLabelValues(appErrors.ErrAlreadyMarked.Code)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.sessionsStarted.WithLabelValues("MANUAL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.sessionsCompleted.WithLabelValues("MANUAL")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.absences.WithLabelValues("auto")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.activeSessions))
}

func TestMetricsServiceHandler(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveHTTPRequest(http.MethodPost, "/api/v1/attendance/tap", http.StatusOK, 15*time.Millisecond)
	metrics.Rollover(true, time.Millisecond)
	metrics.NotificationEvent("created")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="POST",path="/api/v1/attendance/tap",status="200"} 1`)
	assert.Contains(t, body, `attendance_rollovers_total{result="success"} 1`)
	assert.Contains(t, body, `attendance_notifications_total{event="created"} 1`)
	assert.Contains(t, body, "goroutines_total")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.RecordTap("PRESENT")
	metrics.SessionStarted(models.SessionTriggerManual)
	metrics.Rollover(false, time.Second)
	assert.Nil(t, metrics.Registry())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
