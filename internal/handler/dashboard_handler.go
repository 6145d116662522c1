package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tap-attendance-api/internal/service"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
	"github.com/noah-isme/tap-attendance-api/pkg/response"
)

type dashboardService interface {
	Stats() service.DashboardStats
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Stats godoc
// @Summary Live attendance statistics of the open business day
// @Description pendingAbsenceTimers counts students of classes with an open session that have no record yet.
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	stats := h.service.Stats()
	response.JSON(c, http.StatusOK, stats, nil, responseMeta(c, false, start))
}
