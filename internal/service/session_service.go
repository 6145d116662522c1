package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

// StudentDirectory is the read side of the student directory.
type StudentDirectory interface {
	FindByCardID(ctx context.Context, cardID string) (*models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListByClass(ctx context.Context, classID string) ([]models.Student, error)
}

// AttendanceStore persists sessions, records and streaks.
type AttendanceStore interface {
	CreateSession(ctx context.Context, session *models.ClassSession) error
	CompleteSession(ctx context.Context, closure models.SessionClosure) ([]models.NotificationRecord, error)
	CommitTap(ctx context.Context, record *models.AttendanceRecord, streak models.AbsenceStreak) error
	CommitAbsences(ctx context.Context, batch models.AbsenceBatch) ([]models.NotificationRecord, error)
	SaveStreak(ctx context.Context, streak models.AbsenceStreak) error
	ListStreaks(ctx context.Context) ([]models.AbsenceStreak, error)
	GetSession(ctx context.Context, id string) (*models.ClassSession, error)
	ListSessionsByDate(ctx context.Context, date models.Date) ([]models.ClassSession, error)
	ListRecordsByDate(ctx context.Context, date models.Date) ([]models.AttendanceRecord, error)
	ListSessionRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

// SessionSummary is a session with its aggregated counts.
type SessionSummary struct {
	models.ClassSession
	models.AttendanceCounts
	ClassName string `json:"class_name"`
	Pending   int    `json:"pending"`
}

// StudentAttendance is one roster row of a session.
type StudentAttendance struct {
	StudentID  string                  `json:"student_id"`
	Name       string                  `json:"name"`
	RollNumber string                  `json:"roll_number,omitempty"`
	Status     models.AttendanceStatus `json:"status"`
	TapTime    *time.Time              `json:"tap_time"`
	AutoMarked bool                    `json:"auto_marked"`
}

// SessionAttendance is the per-student view of a session.
type SessionAttendance struct {
	Session  models.ClassSession     `json:"session"`
	Counts   models.AttendanceCounts `json:"counts"`
	Students []StudentAttendance     `json:"students"`
}

const (
	completionTimeout = 30 * time.Second
	defaultRetryDelay = 5 * time.Second
)

// SessionService opens and closes class sessions and owns their completion
// timers.
type SessionService struct {
	registry  *SessionRegistry
	classes   *ClassRegistry
	students  StudentDirectory
	store     AttendanceStore
	escalator *EscalationService
	notifier  *NotificationService
	clock     Clock
	location  *time.Location
	metrics   *MetricsService
	logger    *zap.Logger

	retryDelay time.Duration
}

// NewSessionService constructs the scheduler.
func NewSessionService(
	registry *SessionRegistry,
	classes *ClassRegistry,
	students StudentDirectory,
	store AttendanceStore,
	escalator *EscalationService,
	notifier *NotificationService,
	clock Clock,
	location *time.Location,
	metrics *MetricsService,
	logger *zap.Logger,
) *SessionService {
	if clock == nil {
		clock = SystemClock()
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		registry:   registry,
		classes:    classes,
		students:   students,
		store:      store,
		escalator:  escalator,
		notifier:   notifier,
		clock:      clock,
		location:   location,
		metrics:    metrics,
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}
}

// StartSession opens a session for the class and arms its completion timer.
func (s *SessionService) StartSession(ctx context.Context, classID string, trigger models.SessionTrigger) (*models.ClassSession, error) {
	class, err := s.classes.Resolve(classID)
	if err != nil {
		return nil, err
	}
	if trigger == "" {
		trigger = models.SessionTriggerManual
	}

	s.registry.gate.RLock()
	defer s.registry.gate.RUnlock()

	slot := s.registry.slot(class.ID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.active != nil {
		return nil, appErrors.ErrSessionActive
	}

	roster, err := s.students.ListByClass(ctx, class.ID)
	if err != nil {
		return nil, appErrors.Fatal(err, "failed to load class roster")
	}

	day := s.registry.Day()
	now := s.clock.Now()
	session := models.ClassSession{
		ID:                   uuid.NewString(),
		ClassID:              class.ID,
		BusinessDate:         day.BusinessDate,
		DayNumber:            day.DayNumber,
		StartTime:            now,
		EndTime:              now.Add(class.SessionDuration),
		DurationSeconds:      int(class.SessionDuration / time.Second),
		LateThresholdSeconds: int(class.LateThreshold / time.Second),
		Status:               models.SessionStatusActive,
		Trigger:              trigger,
		CreatedAt:            now,
	}
	if err := s.store.CreateSession(ctx, &session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, appErrors.ErrSessionActive
		}
		return nil, appErrors.Fatal(err, "failed to create session")
	}

	entry := &sessionEntry{session: session, records: map[string]models.AttendanceRecord{}, rosterSize: len(roster)}
	s.armTimer(entry, class.SessionDuration)
	s.registry.register(entry)
	slot.active = entry

	s.metrics.SessionStarted(trigger)
	s.logger.Sugar().Infow("session started",
		"session_id", session.ID,
		"class_id", session.ClassID,
		"trigger", trigger,
		"end_time", session.EndTime,
	)

	out := session
	return &out, nil
}

func (s *SessionService) armTimer(entry *sessionEntry, after time.Duration) {
	sessionID := entry.session.ID
	if after < 0 {
		after = 0
	}
	entry.timer = s.clock.AfterFunc(after, func() { s.onTimer(sessionID) })
}

func (s *SessionService) onTimer(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()
	if _, err := s.CompleteSession(ctx, sessionID, models.CompletionReasonTimer); err != nil {
		s.logger.Sugar().Errorw("timed session completion failed, retrying", "session_id", sessionID, "retry_in", s.retryDelay, "error", err)
		s.rearm(sessionID)
	}
}

// rearm schedules another completion attempt for a session that is still
// active after a failed timer completion.
func (s *SessionService) rearm(sessionID string) {
	entry := s.registry.lookup(sessionID)
	if entry == nil {
		return
	}
	slot := s.registry.slot(entry.session.ClassID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if entry.session.Active() {
		s.armTimer(entry, s.retryDelay)
	}
}

// CompleteSession closes a session and runs absence escalation for it.
// Completing an already completed session returns it unchanged.
func (s *SessionService) CompleteSession(ctx context.Context, sessionID string, reason models.CompletionReason) (*models.ClassSession, error) {
	s.registry.gate.RLock()
	defer s.registry.gate.RUnlock()
	return s.complete(ctx, sessionID, reason)
}

// complete requires the gate to be held in either mode.
func (s *SessionService) complete(ctx context.Context, sessionID string, reason models.CompletionReason) (*models.ClassSession, error) {
	entry := s.registry.lookup(sessionID)
	if entry == nil {
		return s.storedSession(ctx, sessionID)
	}

	slot := s.registry.slot(entry.session.ClassID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if !entry.session.Active() {
		out := entry.session
		return &out, nil
	}

	completedAt := s.clock.Now()
	if reason == models.CompletionReasonTimer {
		completedAt = entry.session.EndTime
	}

	roster, err := s.students.ListByClass(ctx, entry.session.ClassID)
	if err != nil {
		return nil, appErrors.Fatal(err, "failed to load class roster")
	}
	absentees := make([]models.Student, 0, len(roster))
	for _, student := range roster {
		if _, ok := entry.records[student.ID]; !ok {
			absentees = append(absentees, student)
		}
	}

	batch := s.escalator.Prepare(entry.session, absentees, completedAt, true)
	created, err := s.store.CompleteSession(ctx, models.SessionClosure{
		SessionID:   entry.session.ID,
		CompletedAt: completedAt,
		Reason:      reason,
		Absences:    batch,
	})
	if err != nil {
		s.logger.Sugar().Errorw("session completion not persisted", "session_id", entry.session.ID, "error", err)
		return nil, appErrors.Fatal(err, "failed to complete session")
	}

	entry.stopTimer()
	entry.session.Status = models.SessionStatusCompleted
	entry.session.CompletedAt = &completedAt
	r := reason
	entry.session.CompletionReason = &r
	if len(roster) > entry.rosterSize {
		entry.rosterSize = len(roster)
	}
	s.registry.applyBatch(entry, batch)
	if slot.active == entry {
		slot.active = nil
	}

	s.notifier.Dispatch(created)
	s.metrics.SessionCompleted(reason, len(batch.Records))
	s.logger.Sugar().Infow("session completed",
		"session_id", entry.session.ID,
		"class_id", entry.session.ClassID,
		"reason", reason,
		"absent", len(batch.Records),
		"notifications", len(created),
	)

	out := entry.session
	return &out, nil
}

// storedSession answers completion for sessions that are no longer in memory,
// such as ones closed on a previous day.
func (s *SessionService) storedSession(ctx context.Context, sessionID string) (*models.ClassSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Fatal(err, "failed to load session")
	}
	return session, nil
}

// CurrentSession returns the active session of a class, or nil.
func (s *SessionService) CurrentSession(classID string) *models.ClassSession {
	slot := s.registry.slot(classID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.active == nil {
		return nil
	}
	out := slot.active.session
	return &out
}

// TodaySessions lists the class's sessions of the current day with counts.
func (s *SessionService) TodaySessions(classID string) ([]SessionSummary, error) {
	class, err := s.classes.Resolve(classID)
	if err != nil {
		return nil, err
	}
	slot := s.registry.slot(class.ID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	entries := s.registry.entries(class.ID)
	out := make([]SessionSummary, 0, len(entries))
	for _, entry := range entries {
		summary := SessionSummary{
			ClassSession:     entry.session,
			AttendanceCounts: entry.counts(),
			ClassName:        class.Name,
		}
		if entry.session.Active() {
			summary.Pending = pendingFor(entry)
		}
		out = append(out, summary)
	}
	return out, nil
}

func pendingFor(entry *sessionEntry) int {
	pending := entry.rosterSize - len(entry.records)
	if pending < 0 {
		return 0
	}
	return pending
}

// SessionAttendance returns per-student rows for a session. Students without
// a record in an open session are PENDING.
func (s *SessionService) SessionAttendance(ctx context.Context, sessionID string) (*SessionAttendance, error) {
	var (
		session models.ClassSession
		records map[string]models.AttendanceRecord
	)
	if entry := s.registry.lookup(sessionID); entry != nil {
		slot := s.registry.slot(entry.session.ClassID)
		slot.mu.Lock()
		session = entry.session
		records = make(map[string]models.AttendanceRecord, len(entry.records))
		for id, rec := range entry.records {
			records[id] = rec
		}
		slot.mu.Unlock()
	} else {
		stored, err := s.storedSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		rows, err := s.store.ListSessionRecords(ctx, sessionID)
		if err != nil {
			return nil, appErrors.Fatal(err, "failed to load session records")
		}
		session = *stored
		records = make(map[string]models.AttendanceRecord, len(rows))
		for _, rec := range rows {
			records[rec.StudentID] = rec
		}
	}

	roster, err := s.students.ListByClass(ctx, session.ClassID)
	if err != nil {
		return nil, appErrors.Fatal(err, "failed to load class roster")
	}

	result := &SessionAttendance{Session: session, Students: make([]StudentAttendance, 0, len(roster))}
	seen := make(map[string]struct{}, len(roster))
	for _, student := range roster {
		seen[student.ID] = struct{}{}
		row := StudentAttendance{StudentID: student.ID, Name: student.Name, RollNumber: student.RollNumber, Status: models.AttendanceStatusPending}
		if rec, ok := records[student.ID]; ok {
			row.Status = rec.Status
			row.TapTime = rec.TapTime
			row.AutoMarked = rec.AutoMarked
		} else if !session.Active() {
			continue
		}
		result.Counts.Add(row.Status)
		result.Students = append(result.Students, row)
	}
	// Records of students who left the roster since still count.
	for id, rec := range records {
		if _, ok := seen[id]; ok {
			continue
		}
		result.Counts.Add(rec.Status)
		result.Students = append(result.Students, StudentAttendance{StudentID: id, Status: rec.Status, TapTime: rec.TapTime, AutoMarked: rec.AutoMarked})
	}
	return result, nil
}

// OpenDue starts the scheduled session of every class whose start time has
// passed today and has not fired yet. It returns the opened session ids.
// Start times resolve against the calendar date in the school's zone, which
// may differ from the business date after a forced rollover.
func (s *SessionService) OpenDue(ctx context.Context) []string {
	now := s.clock.Now()
	today := models.DateOf(now, s.location)
	var opened []string
	for _, class := range s.classes.List() {
		start, ok := class.ScheduledAt(today, s.location)
		if !ok || now.Before(start) || !now.Before(start.Add(class.SessionDuration)) {
			continue
		}
		if !s.registry.markScheduled(class.ID) {
			continue
		}
		session, err := s.StartSession(ctx, class.ID, models.SessionTriggerScheduled)
		if err != nil {
			if errors.Is(err, appErrors.ErrSessionActive) {
				continue
			}
			s.registry.unmarkScheduled(class.ID)
			s.logger.Sugar().Warnw("scheduled session start failed", "class_id", class.ID, "error", err)
			continue
		}
		opened = append(opened, session.ID)
	}
	return opened
}

// RunSchedule opens scheduled sessions on every tick until ctx is cancelled.
func (s *SessionService) RunSchedule(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	s.logger.Sugar().Infow("session scheduler started", "tick", tick)
	for {
		s.OpenDue(ctx)
		select {
		case <-ctx.Done():
			s.logger.Sugar().Infow("session scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Restore rebuilds today's sessions and records from storage. Sessions whose
// end time already passed are completed, the rest get their timers re-armed.
func (s *SessionService) Restore(ctx context.Context) error {
	day := s.registry.Day()
	sessions, err := s.store.ListSessionsByDate(ctx, day.BusinessDate)
	if err != nil {
		return appErrors.Fatal(err, "failed to restore sessions")
	}
	records, err := s.store.ListRecordsByDate(ctx, day.BusinessDate)
	if err != nil {
		return appErrors.Fatal(err, "failed to restore attendance records")
	}
	bySession := make(map[string][]models.AttendanceRecord)
	for _, rec := range records {
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec)
	}

	now := s.clock.Now()
	var overdue []string
	active := 0
	for _, session := range sessions {
		entry := &sessionEntry{session: session, records: map[string]models.AttendanceRecord{}}
		for _, rec := range bySession[session.ID] {
			entry.records[rec.StudentID] = rec
		}
		slot := s.registry.slot(session.ClassID)
		slot.mu.Lock()
		if session.Active() {
			roster, err := s.students.ListByClass(ctx, session.ClassID)
			if err != nil {
				slot.mu.Unlock()
				return appErrors.Fatal(err, "failed to load class roster")
			}
			entry.rosterSize = len(roster)
			slot.active = entry
			active++
		}
		if session.Trigger == models.SessionTriggerScheduled {
			s.registry.markScheduled(session.ClassID)
		}
		// Registered before the timer is armed so an immediate firing finds it.
		s.registry.register(entry)
		if session.Active() {
			if now.Before(session.EndTime) {
				s.armTimer(entry, session.EndTime.Sub(now))
			} else {
				overdue = append(overdue, session.ID)
			}
		}
		slot.mu.Unlock()
	}
	s.metrics.SetActiveSessions(active)

	for _, id := range overdue {
		if _, err := s.CompleteSession(ctx, id, models.CompletionReasonTimer); err != nil {
			return err
		}
	}
	s.logger.Sugar().Infow("sessions restored", "sessions", len(sessions), "records", len(records), "overdue", len(overdue))
	return nil
}
