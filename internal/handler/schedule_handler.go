package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tap-attendance-api/internal/service"
	"github.com/noah-isme/tap-attendance-api/pkg/response"
)

type scheduleSource interface {
	List() []service.ClassSchedule
}

type scheduleEntry struct {
	ClassID              string `json:"class_id"`
	Name                 string `json:"name"`
	SessionStart         string `json:"session_start,omitempty"`
	DurationSeconds      int    `json:"duration_seconds"`
	LateThresholdSeconds int    `json:"late_threshold_seconds"`
	AutoStart            bool   `json:"auto_start"`
}

// ScheduleHandler lists the class registry.
type ScheduleHandler struct {
	classes scheduleSource
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(classes scheduleSource) *ScheduleHandler {
	return &ScheduleHandler{classes: classes}
}

// List godoc
// @Summary Classes and their effective session timing
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schedule [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	classes := h.classes.List()
	out := make([]scheduleEntry, 0, len(classes))
	for _, class := range classes {
		out = append(out, scheduleEntry{
			ClassID:              class.ID,
			Name:                 class.Name,
			SessionStart:         class.SessionStart,
			DurationSeconds:      int(class.SessionDuration.Seconds()),
			LateThresholdSeconds: int(class.LateThreshold.Seconds()),
			AutoStart:            class.SessionStart != "",
		})
	}
	response.JSON(c, http.StatusOK, out, nil)
}
