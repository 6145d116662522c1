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

type sessionService interface {
	StartSession(ctx context.Context, classID string, trigger models.SessionTrigger) (*models.ClassSession, error)
	CompleteSession(ctx context.Context, sessionID string, reason models.CompletionReason) (*models.ClassSession, error)
	TodaySessions(classID string) ([]service.SessionSummary, error)
	SessionAttendance(ctx context.Context, sessionID string) (*service.SessionAttendance, error)
}

// SessionHandler exposes class session endpoints.
type SessionHandler struct {
	service   sessionService
	validator *validator.Validate
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(service sessionService, v *validator.Validate) *SessionHandler {
	return &SessionHandler{service: service, validator: validatorOrDefault(v)}
}

// Start godoc
// @Summary Start an attendance session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.StartSessionRequest true "Class to open"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Start(c *gin.Context) {
	var req dto.StartSessionRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.StartSession(c.Request.Context(), req.ClassID, models.SessionTriggerManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewStartSessionResponse(session))
}

// Complete godoc
// @Summary Complete a session
// @Description Idempotent. Students without a record are marked ABSENT.
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/complete [put]
func (h *SessionHandler) Complete(c *gin.Context) {
	session, err := h.service.CompleteSession(c.Request.Context(), c.Param("id"), models.CompletionReasonManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Today godoc
// @Summary Sessions of a class for the open business day
// @Tags Sessions
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /today-sessions/{classId} [get]
func (h *SessionHandler) Today(c *gin.Context) {
	sessions, err := h.service.TodaySessions(c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Attendance godoc
// @Summary Per-student attendance of a session
// @Tags Sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /session-attendance/{sessionId} [get]
func (h *SessionHandler) Attendance(c *gin.Context) {
	view, err := h.service.SessionAttendance(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
