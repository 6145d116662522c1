package models

import "time"

// Class is a ClassRegistry entry: a class and when its daily attendance
// session opens. Zero durations fall back to the configured defaults.
type Class struct {
	ID                   string    `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	SessionStart         string    `db:"session_start" json:"session_start,omitempty"`
	DurationSeconds      int       `db:"duration_seconds" json:"duration_seconds"`
	LateThresholdSeconds int       `db:"late_threshold_seconds" json:"late_threshold_seconds"`
	Active               bool      `db:"active" json:"active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// ScheduledAt resolves SessionStart ("HH:MM") on the given day in loc.
// ok is false when the class has no scheduled start.
func (c Class) ScheduledAt(day Date, loc *time.Location) (time.Time, bool) {
	if c.SessionStart == "" {
		return time.Time{}, false
	}
	clock, err := time.Parse("15:04", c.SessionStart)
	if err != nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), true
}

// Timing returns the session duration and late threshold for the class.
func (c Class) Timing(defaultDuration, defaultLate time.Duration) (time.Duration, time.Duration) {
	duration := defaultDuration
	if c.DurationSeconds > 0 {
		duration = time.Duration(c.DurationSeconds) * time.Second
	}
	late := defaultLate
	if c.LateThresholdSeconds > 0 {
		late = time.Duration(c.LateThresholdSeconds) * time.Second
	}
	if late > duration {
		late = duration
	}
	return duration, late
}
