package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tap-attendance-api/internal/dto"
	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/service"
	"github.com/noah-isme/tap-attendance-api/pkg/response"
)

type notificationService interface {
	Notify(ctx context.Context, req service.NotificationRequest) (*models.NotificationRecord, bool, error)
	List(ctx context.Context, from, to *models.Date) ([]models.NotificationRecord, error)
}

type streakService interface {
	ResetStreak(ctx context.Context, studentID string, at time.Time) (*models.AbsenceStreak, error)
}

// NotificationHandler exposes parent notifications and streak maintenance.
type NotificationHandler struct {
	notifications notificationService
	streaks       streakService
	validator     *validator.Validate
	now           func() time.Time
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(notifications notificationService, streaks streakService, v *validator.Validate) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		streaks:       streaks,
		validator:     validatorOrDefault(v),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// List godoc
// @Summary Parent notifications in a date range
// @Tags Notifications
// @Produce json
// @Param start_date query string false "From date (YYYY-MM-DD)"
// @Param end_date query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /parent-notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	from, err := parseDateParam(c.Query("start_date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateParam(c.Query("end_date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.notifications.List(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	response.JSON(c, http.StatusOK, records, nil, map[string]interface{}{"count": len(records)})
}

// Create godoc
// @Summary Raise a parent notification by hand
// @Description Returns 200 with created=false when the student's open absence episode was already notified.
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.NotifyRequest true "Notification"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Router /parent-notifications [post]
func (h *NotificationHandler) Create(c *gin.Context) {
	var req dto.NotifyRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		response.Error(c, err)
		return
	}
	day, err := parseDateParam(req.Date)
	if err != nil {
		response.Error(c, err)
		return
	}
	in := service.NotificationRequest{StudentID: req.StudentID, ConsecutiveDays: req.ConsecutiveDays}
	if day != nil {
		in.Date = *day
	}
	record, created, err := h.notifications.Notify(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := dto.NotifyResponse{Created: created, Notification: record}
	if created {
		response.Created(c, out)
		return
	}
	response.JSON(c, http.StatusOK, out, nil)
}

// ResetStreak godoc
// @Summary Reset a student's absence streak
// @Tags Notifications
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/absence-streak [delete]
func (h *NotificationHandler) ResetStreak(c *gin.Context) {
	streak, err := h.streaks.ResetStreak(c.Request.Context(), c.Param("id"), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, streak, nil)
}
