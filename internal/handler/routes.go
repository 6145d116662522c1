package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler of the API.
type Handlers struct {
	Sessions      *SessionHandler
	Attendance    *AttendanceHandler
	Dashboard     *DashboardHandler
	Reports       *ReportHandler
	Notifications *NotificationHandler
	Schedule      *ScheduleHandler
	Metrics       *MetricsHandler
}

// RegisterRoutes mounts the API under prefix and the probes at the root.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)

	api.POST("/sessions", h.Sessions.Start)
	api.PUT("/sessions/:id/complete", h.Sessions.Complete)
	api.GET("/today-sessions/:classId", h.Sessions.Today)
	api.GET("/session-attendance/:sessionId", h.Sessions.Attendance)

	attendance := api.Group("/attendance")
	attendance.POST("/tap", h.Attendance.Tap)
	attendance.POST("/manual-absent/:studentId", h.Attendance.ManualAbsent)
	attendance.GET("/recent", h.Attendance.Recent)

	api.GET("/dashboard/stats", h.Dashboard.Stats)
	api.GET("/schedule", h.Schedule.List)

	api.POST("/system/new-day", h.Reports.NewDay)
	reports := api.Group("/reports")
	reports.POST("/generate", h.Reports.Generate)
	reports.GET("", h.Reports.List)
	reports.GET("/:id", h.Reports.Get)
	reports.GET("/:id/export", h.Reports.Export)

	api.GET("/parent-notifications", h.Notifications.List)
	api.POST("/parent-notifications", h.Notifications.Create)
	api.DELETE("/students/:id/absence-streak", h.Notifications.ResetStreak)
}
