package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// DashboardStats is the live view of the open business day.
type DashboardStats struct {
	DayNumber            int                  `json:"day_number"`
	BusinessDate         models.Date          `json:"business_date"`
	TotalClasses         int                  `json:"total_classes"`
	SessionsToday        int                  `json:"sessions_today"`
	ActiveSessions       int                  `json:"active_sessions"`
	Present              int                  `json:"present"`
	Late                 int                  `json:"late"`
	Absent               int                  `json:"absent"`
	Total                int                  `json:"total"`
	AttendanceRate       int                  `json:"attendance_rate"`
	PendingAbsenceTimers int                  `json:"pendingAbsenceTimers"`
	StudentsOnStreak     int                  `json:"students_on_streak"`
	PendingDeliveries    int                  `json:"pending_deliveries"`
	Active               []ActiveSessionStats `json:"active"`
}

// ActiveSessionStats summarises one open session.
type ActiveSessionStats struct {
	SessionID string      `json:"session_id"`
	ClassID   string      `json:"class_id"`
	ClassName string      `json:"class_name"`
	EndTime   time.Time   `json:"end_time"`
	models.AttendanceCounts
	Pending int `json:"pending"`
}

// DashboardService aggregates registry state for polling clients. It does no
// I/O so it is safe to poll every few seconds.
type DashboardService struct {
	registry      *SessionRegistry
	classes       *ClassRegistry
	escalator     *EscalationService
	notifications *NotificationService
	logger        *zap.Logger
}

// NewDashboardService constructs the dashboard read model.
func NewDashboardService(registry *SessionRegistry, classes *ClassRegistry, escalator *EscalationService, notifications *NotificationService, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{registry: registry, classes: classes, escalator: escalator, notifications: notifications, logger: logger}
}

// Stats computes the dashboard figures.
func (s *DashboardService) Stats() DashboardStats {
	day := s.registry.Day()
	stats := DashboardStats{
		DayNumber:    day.DayNumber,
		BusinessDate: day.BusinessDate,
		TotalClasses: len(s.classes.List()),
		Active:       []ActiveSessionStats{},
	}

	var total models.AttendanceCounts
	for _, entry := range s.registry.entries("") {
		slot := s.registry.slot(entry.session.ClassID)
		slot.mu.Lock()
		counts := entry.counts()
		active := entry.session.Active()
		pending := 0
		if active {
			pending = pendingFor(entry)
		}
		sessionID, classID, endTime := entry.session.ID, entry.session.ClassID, entry.session.EndTime
		slot.mu.Unlock()

		stats.SessionsToday++
		total.Merge(counts)
		if active {
			stats.ActiveSessions++
			stats.PendingAbsenceTimers += pending
			stats.Active = append(stats.Active, ActiveSessionStats{
				SessionID:        sessionID,
				ClassID:          classID,
				ClassName:        s.classes.Name(classID),
				EndTime:          endTime,
				AttendanceCounts: counts,
				Pending:          pending,
			})
		}
	}

	stats.Present = total.Present
	stats.Late = total.Late
	stats.Absent = total.Absent
	stats.Total = total.Total()
	stats.AttendanceRate = total.Rate()
	stats.StudentsOnStreak = s.escalator.StudentsOnStreak()
	stats.PendingDeliveries = s.notifications.QueueDepth()
	return stats
}
