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
	"github.com/noah-isme/tap-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

// TapResult is the outcome of an accepted tap.
type TapResult struct {
	SessionID   string                  `json:"session_id"`
	StudentID   string                  `json:"student_id"`
	StudentName string                  `json:"student_name"`
	ClassID     string                  `json:"class_id"`
	Status      models.AttendanceStatus `json:"status"`
	TapTime     time.Time               `json:"tap_time"`
}

// TapService classifies card taps against the open session of the student's
// class and records manual absences.
type TapService struct {
	registry  *SessionRegistry
	students  StudentDirectory
	store     AttendanceStore
	escalator *EscalationService
	notifier  *NotificationService
	clock     Clock
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewTapService constructs the tap processor.
func NewTapService(registry *SessionRegistry, students StudentDirectory, store AttendanceStore, escalator *EscalationService, notifier *NotificationService, clock Clock, metrics *MetricsService, logger *zap.Logger) *TapService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TapService{
		registry:  registry,
		students:  students,
		store:     store,
		escalator: escalator,
		notifier:  notifier,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// RecordTap records a PRESENT or LATE tap for the card holder and ends any
// absence episode of theirs.
func (s *TapService) RecordTap(ctx context.Context, cardID string) (*TapResult, error) {
	result, err := s.recordTap(ctx, cardID)
	if err != nil {
		s.metrics.RecordTap(appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.RecordTap(string(result.Status))
	return result, nil
}

func (s *TapService) recordTap(ctx context.Context, cardID string) (*TapResult, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "card_id is required")
	}
	now := s.clock.Now()

	student, err := s.students.FindByCardID(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCardNotFound
		}
		return nil, appErrors.Fatal(err, "failed to resolve card")
	}

	s.registry.gate.RLock()
	defer s.registry.gate.RUnlock()
	slot := s.registry.slot(student.ClassID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	entry := slot.active
	if entry == nil || !entry.session.Active() || now.After(entry.session.EndTime) {
		return nil, appErrors.ErrNoSession
	}
	if _, ok := entry.records[student.ID]; ok {
		return nil, appErrors.ErrAlreadyMarked
	}

	tapTime := now
	record := models.AttendanceRecord{
		ID:           uuid.NewString(),
		SessionID:    entry.session.ID,
		StudentID:    student.ID,
		ClassID:      entry.session.ClassID,
		BusinessDate: entry.session.BusinessDate,
		Status:       entry.session.Classify(now),
		TapTime:      &tapTime,
		CreatedAt:    now,
	}
	streak := resetStreak(student.ID, entry.session.BusinessDate, now)

	if err := s.store.CommitTap(ctx, &record, streak); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttendance) {
			return nil, appErrors.ErrAlreadyMarked
		}
		s.logger.Sugar().Errorw("tap not persisted", "student_id", student.ID, "session_id", entry.session.ID, "error", err)
		return nil, appErrors.Fatal(err, "failed to record tap")
	}

	entry.records[student.ID] = record
	s.registry.setStreaks(streak)
	s.registry.pushRecent(models.RecentTap{
		StudentID:   student.ID,
		StudentName: student.Name,
		ClassID:     student.ClassID,
		SessionID:   entry.session.ID,
		Status:      record.Status,
		TapTime:     now,
	})

	s.logger.Sugar().Infow("tap recorded", "student_id", student.ID, "session_id", entry.session.ID, "status", record.Status)
	return &TapResult{
		SessionID:   entry.session.ID,
		StudentID:   student.ID,
		StudentName: student.Name,
		ClassID:     student.ClassID,
		Status:      record.Status,
		TapTime:     now,
	}, nil
}

// MarkAbsent records a teacher-marked ABSENT for the student in the open
// session of their class. The streak advances exactly as for an auto-marked
// absence.
func (s *TapService) MarkAbsent(ctx context.Context, studentID string) (*models.AttendanceRecord, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Fatal(err, "failed to load student")
	}

	s.registry.gate.RLock()
	defer s.registry.gate.RUnlock()
	slot := s.registry.slot(student.ClassID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	now := s.clock.Now()
	entry := slot.active
	if entry == nil || !entry.session.Active() || now.After(entry.session.EndTime) {
		return nil, appErrors.ErrNoSession
	}
	if _, ok := entry.records[student.ID]; ok {
		return nil, appErrors.ErrAlreadyMarked
	}

	batch := s.escalator.Prepare(entry.session, []models.Student{*student}, now, false)
	created, err := s.store.CommitAbsences(ctx, batch)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateAttendance) {
			return nil, appErrors.ErrAlreadyMarked
		}
		return nil, appErrors.Fatal(err, "failed to record absence")
	}
	s.registry.applyBatch(entry, batch)
	s.notifier.Dispatch(created)
	s.metrics.ManualAbsence()

	s.logger.Sugar().Infow("manual absence recorded", "student_id", student.ID, "session_id", entry.session.ID)
	record := batch.Records[0]
	return &record, nil
}

// Recent returns the latest taps of the day, newest first.
func (s *TapService) Recent(limit int) []models.RecentTap {
	if limit <= 0 {
		limit = 15
	}
	return s.registry.Recent(limit)
}
