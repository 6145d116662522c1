package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tap-attendance-api/internal/middleware"
	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/service"
	"github.com/noah-isme/tap-attendance-api/pkg/response"
)

const (
	defaultReportPageSize = 30
	maxReportPageSize     = 200
)

type reportService interface {
	Rollover(ctx context.Context) (*models.DailyReport, error)
	Preview(ctx context.Context) (*models.DailyReport, error)
	Reports(ctx context.Context, limit, offset int) (*service.ReportList, bool, error)
	GetReport(ctx context.Context, id string) (*models.DailyReport, bool, error)
}

type reportExporter interface {
	ExportReport(ctx context.Context, id, format string) (*service.ExportFile, error)
}

// ReportHandler exposes day rollover and daily report endpoints.
type ReportHandler struct {
	reports reportService
	exports reportExporter
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService, exports reportExporter) *ReportHandler {
	return &ReportHandler{reports: reports, exports: exports}
}

// NewDay godoc
// @Summary Close the business day
// @Description Force-completes open sessions, persists the DailyReport and advances the day counter.
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /system/new-day [post]
func (h *ReportHandler) NewDay(c *gin.Context) {
	report, err := h.reports.Rollover(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Generate godoc
// @Summary Preview the current day's report
// @Description Non-destructive. Nothing is persisted and no session is closed.
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/generate [post]
func (h *ReportHandler) Generate(c *gin.Context) {
	report, err := h.reports.Preview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "preview", true)
	response.JSON(c, http.StatusOK, report, nil, middleware.ExtractMeta(c))
}

// List godoc
// @Summary Historical daily reports, newest first
// @Tags Reports
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := parseQueryInt(c, "limit", defaultReportPageSize)
	if limit <= 0 {
		limit = defaultReportPageSize
	}
	if limit > maxReportPageSize {
		limit = maxReportPageSize
	}

	start := time.Now()
	list, cacheHit, err := h.reports.Reports(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: page, PageSize: limit, TotalCount: list.Total}
	response.JSON(c, http.StatusOK, list.Reports, pagination, responseMeta(c, cacheHit, start))
}

// Get godoc
// @Summary Daily report detail
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	start := time.Now()
	report, cacheHit, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil, responseMeta(c, cacheHit, start))
}

// Export godoc
// @Summary Download a daily report
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Report ID"
// @Param format query string false "csv, pdf or xlsx (default csv)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id}/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	file, err := h.exports.ExportReport(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
