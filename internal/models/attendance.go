package models

import "time"

// AttendanceStatus is the outcome recorded for a student in a session.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	// AttendanceStatusPending is never stored. Read models use it for students
	// without a record in a session that is still open.
	AttendanceStatusPending AttendanceStatus = "PENDING"
)

// Valid returns true for statuses that may be persisted.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// AttendanceRecord is the single outcome for one student in one session.
type AttendanceRecord struct {
	ID           string           `db:"id" json:"id"`
	SessionID    string           `db:"session_id" json:"session_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	ClassID      string           `db:"class_id" json:"class_id"`
	BusinessDate Date             `db:"business_date" json:"business_date"`
	Status       AttendanceStatus `db:"status" json:"status"`
	TapTime      *time.Time       `db:"tap_time" json:"tap_time"`
	AutoMarked   bool             `db:"auto_marked" json:"auto_marked"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

// AttendanceCounts aggregates statuses.
type AttendanceCounts struct {
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

// Add counts one status. Pending and unknown statuses are ignored.
func (c *AttendanceCounts) Add(status AttendanceStatus) {
	switch status {
	case AttendanceStatusPresent:
		c.Present++
	case AttendanceStatusLate:
		c.Late++
	case AttendanceStatusAbsent:
		c.Absent++
	}
}

// Merge adds other into c.
func (c *AttendanceCounts) Merge(other AttendanceCounts) {
	c.Present += other.Present
	c.Late += other.Late
	c.Absent += other.Absent
}

// Total is the number of recorded outcomes.
func (c AttendanceCounts) Total() int {
	return c.Present + c.Late + c.Absent
}

// Rate is the whole-percent share of PRESENT records, 0 when nothing was recorded.
func (c AttendanceCounts) Rate() int {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return (200*c.Present + total) / (2 * total)
}

// AbsenceStreak tracks consecutive absent days for one student across days.
type AbsenceStreak struct {
	StudentID             string    `db:"student_id" json:"student_id"`
	ConsecutiveAbsentDays int       `db:"consecutive_absent_days" json:"consecutive_absent_days"`
	LastEvaluatedDate     *Date     `db:"last_evaluated_date" json:"last_evaluated_date"`
	EpisodeStartedOn      *Date     `db:"episode_started_on" json:"episode_started_on"`
	NotificationSent      bool      `db:"notification_sent_for_current_episode" json:"notification_sent_for_current_episode"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// EvaluatedOn reports whether the streak was already counted for day.
func (s AbsenceStreak) EvaluatedOn(day Date) bool {
	return s.LastEvaluatedDate != nil && s.LastEvaluatedDate.Equal(day)
}

// RecentTap is an entry of the live tap feed.
type RecentTap struct {
	StudentID   string           `json:"student_id"`
	StudentName string           `json:"student_name"`
	ClassID     string           `json:"class_id"`
	SessionID   string           `json:"session_id"`
	Status      AttendanceStatus `json:"status"`
	TapTime     time.Time        `json:"tap_time"`
}
