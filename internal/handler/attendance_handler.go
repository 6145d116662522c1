package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tap-attendance-api/internal/dto"
	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/service"
	"github.com/noah-isme/tap-attendance-api/pkg/response"
)

const (
	defaultRecentLimit = 15
	maxRecentLimit     = 100
)

type tapService interface {
	RecordTap(ctx context.Context, cardID string) (*service.TapResult, error)
	MarkAbsent(ctx context.Context, studentID string) (*models.AttendanceRecord, error)
	Recent(limit int) []models.RecentTap
}

// AttendanceHandler accepts card taps and manual absences.
type AttendanceHandler struct {
	service   tapService
	validator *validator.Validate
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(service tapService, v *validator.Validate) *AttendanceHandler {
	return &AttendanceHandler{service: service, validator: validatorOrDefault(v)}
}

// Tap godoc
// @Summary Record a card tap
// @Description Classifies the tap as PRESENT or LATE against the open session of the student's class.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.TapRequest true "Card tap"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/tap [post]
func (h *AttendanceHandler) Tap(c *gin.Context) {
	var req dto.TapRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.RecordTap(c.Request.Context(), req.CardID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.TapResponse{
		Status:      result.Status,
		TapTime:     result.TapTime,
		SessionID:   result.SessionID,
		StudentID:   result.StudentID,
		StudentName: result.StudentName,
		ClassID:     result.ClassID,
	}, nil)
}

// ManualAbsent godoc
// @Summary Mark a student absent in the open session
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/manual-absent/{studentId} [post]
func (h *AttendanceHandler) ManualAbsent(c *gin.Context) {
	record, err := h.service.MarkAbsent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Recent godoc
// @Summary Latest taps of the day
// @Tags Attendance
// @Produce json
// @Param limit query int false "Number of taps (default 15, max 100)"
// @Success 200 {object} response.Envelope
// @Router /attendance/recent [get]
func (h *AttendanceHandler) Recent(c *gin.Context) {
	limit := parseQueryInt(c, "limit", defaultRecentLimit)
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	response.JSON(c, http.StatusOK, h.service.Recent(limit), nil)
}
