package models

import "time"

// DeliveryStatus tracks the external sink outcome of a notification.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// NotificationRecord is the once-per-episode parent alert. Only the delivery
// columns change after creation.
type NotificationRecord struct {
	ID                       string         `db:"id" json:"id"`
	StudentID                string         `db:"student_id" json:"student_id"`
	ClassID                  string         `db:"class_id" json:"class_id"`
	StudentName              string         `db:"student_name" json:"student_name"`
	ParentName               string         `db:"parent_name" json:"parent_name,omitempty"`
	ParentEmail              string         `db:"parent_email" json:"parent_email,omitempty"`
	ParentPhone              string         `db:"parent_phone" json:"parent_phone,omitempty"`
	EpisodeStartedOn         Date           `db:"episode_started_on" json:"episode_started_on"`
	NotificationDate         Date           `db:"notification_date" json:"date"`
	ConsecutiveDaysAtTrigger int            `db:"consecutive_days_at_trigger" json:"consecutive_days_at_trigger"`
	DeliveryStatus           DeliveryStatus `db:"delivery_status" json:"delivery_status"`
	DeliveryAttempts         int            `db:"delivery_attempts" json:"delivery_attempts"`
	LastError                *string        `db:"last_error" json:"last_error,omitempty"`
	SentAt                   *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt                time.Time      `db:"created_at" json:"created_at"`
}

// Episode returns the de-duplication key of the record.
func (n NotificationRecord) Episode() EpisodeKey {
	return EpisodeKey{StudentID: n.StudentID, StartedOn: n.EpisodeStartedOn.String()}
}

// EpisodeKey identifies one absence episode of one student.
type EpisodeKey struct {
	StudentID string `db:"student_id"`
	StartedOn string `db:"episode_started_on"`
}

// DeliveryUpdate records the result of one delivery attempt.
type DeliveryUpdate struct {
	ID        string
	Status    DeliveryStatus
	Attempts  int
	LastError *string
	SentAt    *time.Time
}
