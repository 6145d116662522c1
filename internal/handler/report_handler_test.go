package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/service"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

type reportServiceStub struct {
	rolloverErr error
	rollovers   int
	previews    int
	listLimit   int
	listOffset  int
	listHit     bool
	reports     map[string]models.DailyReport
}

func (s *reportServiceStub) Rollover(context.Context) (*models.DailyReport, error) {
	if s.rolloverErr != nil {
		return nil, s.rolloverErr
	}
	s.rollovers++
	return &models.DailyReport{ID: "report-1", DayNumber: 1, AttendanceRate: 67}, nil
}

func (s *reportServiceStub) Preview(context.Context) (*models.DailyReport, error) {
	s.previews++
	return &models.DailyReport{DayNumber: 2}, nil
}

func (s *reportServiceStub) Reports(_ context.Context, limit, offset int) (*service.ReportList, bool, error) {
	s.listLimit, s.listOffset = limit, offset
	return &service.ReportList{Reports: []models.DailyReport{{ID: "report-2"}, {ID: "report-1"}}, Total: 42}, s.listHit, nil
}

func (s *reportServiceStub) GetReport(_ context.Context, id string) (*models.DailyReport, bool, error) {
	report, ok := s.reports[id]
	if !ok {
		return nil, false, appErrors.ErrReportNotFound
	}
	return &report, true, nil
}

type exporterStub struct {
	format string
	err    error
}

func (e *exporterStub) ExportReport(_ context.Context, id, format string) (*service.ExportFile, error) {
	e.format = format
	if e.err != nil {
		return nil, e.err
	}
	return &service.ExportFile{Filename: "daily-report-" + id + ".csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")}, nil
}

func TestReportHandlerNewDay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &reportServiceStub{}
	h := NewReportHandler(stub, &exporterStub{})

	c, w := newGinContext(http.MethodPost, "/system/new-day", nil)
	h.NewDay(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, stub.rollovers)

	stub.rolloverErr = appErrors.Fatal(assert.AnError, "failed to persist daily report")
	c, w = newGinContext(http.MethodPost, "/system/new-day", nil)
	h.NewDay(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, stub.rollovers)
}

func TestReportHandlerGenerateIsPreview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &reportServiceStub{}
	h := NewReportHandler(stub, &exporterStub{})

	c, w := newGinContext(http.MethodPost, "/reports/generate", nil)
	h.Generate(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, stub.previews)
	assert.Zero(t, stub.rollovers)
	assert.Equal(t, true, decodeEnvelope(t, w).Meta["preview"])
}

func TestReportHandlerListPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &reportServiceStub{listHit: true}
	h := NewReportHandler(stub, &exporterStub{})

	c, w := newGinContext(http.MethodGet, "/reports?page=3&limit=10", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, stub.listLimit)
	assert.Equal(t, 20, stub.listOffset)
	env := decodeEnvelope(t, w)
	assert.Equal(t, float64(42), env.Pagination["total_count"])
	assert.Equal(t, true, env.Meta["cache_hit"])
	var reports []models.DailyReport
	decodeData(t, env, &reports)
	assert.Equal(t, "report-2", reports[0].ID)
}

func TestReportHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceStub{reports: map[string]models.DailyReport{"report-1": {ID: "report-1"}}}, &exporterStub{})

	c, w := newGinContext(http.MethodGet, "/reports/report-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "report-1"}}
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/reports/nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exporter := &exporterStub{}
	h := NewReportHandler(&reportServiceStub{}, exporter)

	c, w := newGinContext(http.MethodGet, "/reports/report-1/export?format=csv", nil)
	c.Params = gin.Params{{Key: "id", Value: "report-1"}}
	h.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "daily-report-report-1.csv")
	assert.Equal(t, "a,b\n1,2\n", w.Body.String())

	exporter.err = appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	c, w = newGinContext(http.MethodGet, "/reports/report-1/export?format=doc", nil)
	c.Params = gin.Params{{Key: "id", Value: "report-1"}}
	h.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
