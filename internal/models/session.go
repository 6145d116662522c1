package models

import "time"

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// SessionTrigger records what opened a session.
type SessionTrigger string

const (
	SessionTriggerScheduled SessionTrigger = "SCHEDULED"
	SessionTriggerManual    SessionTrigger = "MANUAL"
)

// CompletionReason records what closed a session.
type CompletionReason string

const (
	CompletionReasonTimer    CompletionReason = "TIMER"
	CompletionReasonManual   CompletionReason = "MANUAL"
	CompletionReasonRollover CompletionReason = "ROLLOVER"
)

// ClassSession is one time-boxed attendance window for a class.
type ClassSession struct {
	ID                   string            `db:"id" json:"id"`
	ClassID              string            `db:"class_id" json:"class_id"`
	BusinessDate         Date              `db:"business_date" json:"business_date"`
	DayNumber            int               `db:"day_number" json:"day_number"`
	StartTime            time.Time         `db:"start_time" json:"start_time"`
	EndTime              time.Time         `db:"end_time" json:"end_time"`
	DurationSeconds      int               `db:"duration_seconds" json:"duration_seconds"`
	LateThresholdSeconds int               `db:"late_threshold_seconds" json:"late_threshold_seconds"`
	Status               SessionStatus     `db:"status" json:"status"`
	Trigger              SessionTrigger    `db:"trigger_source" json:"trigger"`
	CompletedAt          *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	CompletionReason     *CompletionReason `db:"completion_reason" json:"completion_reason,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
}

// Active reports whether the session still accepts taps.
func (s ClassSession) Active() bool {
	return s.Status == SessionStatusActive
}

// LateWindowStart is the first instant a tap counts as LATE.
func (s ClassSession) LateWindowStart() time.Time {
	return s.EndTime.Add(-time.Duration(s.LateThresholdSeconds) * time.Second)
}

// Classify returns the status for a tap at the given instant. The late window
// boundary itself is LATE.
func (s ClassSession) Classify(at time.Time) AttendanceStatus {
	if at.Before(s.LateWindowStart()) {
		return AttendanceStatusPresent
	}
	return AttendanceStatusLate
}

// AbsenceBatch is everything an escalation run writes.
type AbsenceBatch struct {
	Records       []AttendanceRecord
	Streaks       []AbsenceStreak
	Notifications []NotificationRecord
}

// Empty reports whether the batch writes nothing.
func (b AbsenceBatch) Empty() bool {
	return len(b.Records) == 0 && len(b.Streaks) == 0 && len(b.Notifications) == 0
}

// SessionClosure is persisted in one transaction when a session completes.
type SessionClosure struct {
	SessionID   string
	CompletedAt time.Time
	Reason      CompletionReason
	Absences    AbsenceBatch
}
