package dto

import "github.com/noah-isme/tap-attendance-api/internal/models"

// NotifyRequest raises a parent notification by hand. Date defaults to the
// open business day.
type NotifyRequest struct {
	StudentID       string `json:"student_id" validate:"required,max=64"`
	ConsecutiveDays int    `json:"consecutive_days" validate:"required,min=1,max=366"`
	Date            string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// NotifyResponse wraps the outcome of a manual notification. Created is false
// when the student's open episode was already notified.
type NotifyResponse struct {
	Created      bool                       `json:"created"`
	Notification *models.NotificationRecord `json:"notification,omitempty"`
}
