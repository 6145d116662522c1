package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DailyReport is the immutable snapshot of one business day.
type DailyReport struct {
	ID             string          `db:"id" json:"id"`
	BusinessDate   Date            `db:"business_date" json:"date"`
	DayNumber      int             `db:"day_number" json:"day_number"`
	TotalSessions  int             `db:"total_sessions" json:"total_sessions"`
	PresentCount   int             `db:"present_count" json:"present"`
	LateCount      int             `db:"late_count" json:"late"`
	AbsentCount    int             `db:"absent_count" json:"absent"`
	TotalRecords   int             `db:"total_records" json:"total"`
	AttendanceRate int             `db:"attendance_rate" json:"attendance_rate"`
	Classes        ClassReportList `db:"classes" json:"classes"`
	GeneratedAt    time.Time       `db:"generated_at" json:"generated_at"`
}

// Counts returns the aggregate counts of the report.
func (r DailyReport) Counts() AttendanceCounts {
	return AttendanceCounts{Present: r.PresentCount, Late: r.LateCount, Absent: r.AbsentCount}
}

// ClassReport is the per-class row of a DailyReport.
type ClassReport struct {
	ClassID        string `json:"class_id"`
	ClassName      string `json:"class_name"`
	Sessions       int    `json:"sessions"`
	Present        int    `json:"present"`
	Late           int    `json:"late"`
	Absent         int    `json:"absent"`
	Total          int    `json:"total"`
	AttendanceRate int    `json:"attendance_rate"`
}

// ClassReportList is persisted as JSONB.
type ClassReportList []ClassReport

// Value marshals the list to JSON for persistence.
func (l ClassReportList) Value() (driver.Value, error) {
	if l == nil {
		l = ClassReportList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal class reports: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSONB column.
func (l *ClassReportList) Scan(value interface{}) error {
	if value == nil {
		*l = ClassReportList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported class reports type %T", value)
	}
	var out ClassReportList
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal class reports: %w", err)
	}
	*l = out
	return nil
}

// DayState is the engine's current business day.
type DayState struct {
	DayNumber    int  `db:"day_number" json:"day_number"`
	BusinessDate Date `db:"business_date" json:"business_date"`
}

// Next returns the state after a rollover at now. The business date moves to
// now's date when the calendar has advanced, otherwise to the following day.
func (d DayState) Next(now time.Time, loc *time.Location) DayState {
	date := DateOf(now, loc)
	if !date.After(d.BusinessDate) {
		date = d.BusinessDate.AddDays(1)
	}
	return DayState{DayNumber: d.DayNumber + 1, BusinessDate: date}
}
