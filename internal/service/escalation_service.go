package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

// DefaultAbsenceThreshold is the streak length that triggers a parent alert.
const DefaultAbsenceThreshold = 3

// EscalationService turns missing attendance into ABSENT records, advances
// absence streaks and raises parent notifications.
type EscalationService struct {
	registry  *SessionRegistry
	store     AttendanceStore
	students  StudentDirectory
	notifier  *NotificationService
	threshold int
	logger    *zap.Logger
}

// NewEscalationService constructs the escalator.
func NewEscalationService(registry *SessionRegistry, store AttendanceStore, students StudentDirectory, notifier *NotificationService, threshold int, logger *zap.Logger) *EscalationService {
	if threshold <= 0 {
		threshold = DefaultAbsenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationService{
		registry:  registry,
		store:     store,
		students:  students,
		notifier:  notifier,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold returns the configured streak threshold.
func (e *EscalationService) Threshold() int {
	return e.threshold
}

// Prepare builds the batch for absentees of session without touching any
// state. The caller persists it and then applies it to the registry.
func (e *EscalationService) Prepare(session models.ClassSession, absentees []models.Student, at time.Time, auto bool) models.AbsenceBatch {
	var batch models.AbsenceBatch
	day := session.BusinessDate
	for _, student := range absentees {
		batch.Records = append(batch.Records, models.AttendanceRecord{
			ID:           uuid.NewString(),
			SessionID:    session.ID,
			StudentID:    student.ID,
			ClassID:      session.ClassID,
			BusinessDate: day,
			Status:       models.AttendanceStatusAbsent,
			AutoMarked:   auto,
			CreatedAt:    at,
		})

		streak, changed, reached := advanceStreak(e.registry.Streak(student.ID), day, e.threshold, at)
		if !changed {
			continue
		}
		batch.Streaks = append(batch.Streaks, streak)
		if !reached {
			continue
		}
		if n := e.notifier.Build(student, streak, day, at); n != nil {
			batch.Notifications = append(batch.Notifications, *n)
		}
	}
	return batch
}

// advanceStreak counts one absent day. A streak already evaluated on day is
// left alone, so several sessions on the same day count once. reached is
// true only on the transition into the threshold for the current episode.
func advanceStreak(streak models.AbsenceStreak, day models.Date, threshold int, at time.Time) (next models.AbsenceStreak, changed, reached bool) {
	if streak.EvaluatedOn(day) {
		return streak, false, false
	}
	if streak.ConsecutiveAbsentDays == 0 {
		started := day
		streak.EpisodeStartedOn = &started
		streak.NotificationSent = false
	}
	streak.ConsecutiveAbsentDays++
	evaluated := day
	streak.LastEvaluatedDate = &evaluated
	streak.UpdatedAt = at
	if streak.ConsecutiveAbsentDays >= threshold && !streak.NotificationSent {
		streak.NotificationSent = true
		reached = true
	}
	return streak, true, reached
}

// resetStreak ends the current absence episode after a PRESENT or LATE tap.
func resetStreak(studentID string, day models.Date, at time.Time) models.AbsenceStreak {
	evaluated := day
	return models.AbsenceStreak{
		StudentID:         studentID,
		LastEvaluatedDate: &evaluated,
		UpdatedAt:         at,
	}
}

// ResetStreak zeroes a student's streak and clears the episode flag.
func (e *EscalationService) ResetStreak(ctx context.Context, studentID string, at time.Time) (*models.AbsenceStreak, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	student, err := e.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Fatal(err, "failed to load student")
	}

	e.registry.gate.RLock()
	defer e.registry.gate.RUnlock()
	slot := e.registry.slot(student.ClassID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	current := e.registry.Streak(student.ID)
	reset := models.AbsenceStreak{
		StudentID:         student.ID,
		LastEvaluatedDate: current.LastEvaluatedDate,
		UpdatedAt:         at,
	}
	if err := e.store.SaveStreak(ctx, reset); err != nil {
		return nil, appErrors.Fatal(err, "failed to reset absence streak")
	}
	e.registry.setStreaks(reset)
	e.logger.Sugar().Infow("absence streak reset", "student_id", student.ID, "previous_days", current.ConsecutiveAbsentDays)
	return &reset, nil
}

// StudentsOnStreak counts students with at least one consecutive absent day.
func (e *EscalationService) StudentsOnStreak() int {
	n := 0
	for _, streak := range e.registry.Streaks() {
		if streak.ConsecutiveAbsentDays > 0 {
			n++
		}
	}
	return n
}
