package dto

import (
	"time"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// StartSessionRequest opens a session for a class.
type StartSessionRequest struct {
	ClassID string `json:"class_id" validate:"required,max=64"`
}

// StartSessionResponse is returned once a session is open.
type StartSessionResponse struct {
	SessionID string               `json:"session_id"`
	ClassID   string               `json:"class_id"`
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
	Status    models.SessionStatus `json:"status"`
}

// NewStartSessionResponse maps a session to its start response.
func NewStartSessionResponse(s *models.ClassSession) StartSessionResponse {
	return StartSessionResponse{
		SessionID: s.ID,
		ClassID:   s.ClassID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    s.Status,
	}
}

// TapRequest is one card tap from a reader.
type TapRequest struct {
	CardID string `json:"card_id" validate:"required,max=64"`
}

// TapResponse reports the stored status of a tap.
type TapResponse struct {
	Status      models.AttendanceStatus `json:"status"`
	TapTime     time.Time               `json:"tap_time"`
	SessionID   string                  `json:"session_id"`
	StudentID   string                  `json:"student_id"`
	StudentName string                  `json:"student_name"`
	ClassID     string                  `json:"class_id"`
}
