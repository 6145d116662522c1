package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
	"github.com/noah-isme/tap-attendance-api/pkg/jobs"
	"github.com/noah-isme/tap-attendance-api/pkg/notify"
)

// NotificationStore persists parent notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *models.NotificationRecord) (bool, error)
	UpdateDelivery(ctx context.Context, update models.DeliveryUpdate) error
	Get(ctx context.Context, id string) (*models.NotificationRecord, error)
	ListByDateRange(ctx context.Context, from, to *models.Date) ([]models.NotificationRecord, error)
	ListPending(ctx context.Context, limit int) ([]models.NotificationRecord, error)
	ListOpenEpisodes(ctx context.Context) ([]models.EpisodeKey, error)
}

// Enqueuer hands delivery jobs to the background queue.
type Enqueuer interface {
	TryEnqueue(job jobs.Job) error
	Pending() int
}

// NotificationJobType labels delivery jobs on the queue.
const NotificationJobType = "parent_notification"

const redeliveryBatch = 100

// NotificationRequest is the manual notification payload.
type NotificationRequest struct {
	StudentID       string
	ConsecutiveDays int
	Date            models.Date
}

// NotificationService builds parent notifications once per absence episode
// and delivers them asynchronously through a sink.
type NotificationService struct {
	store    NotificationStore
	registry *SessionRegistry
	students StudentDirectory
	sink     notify.Sink
	clock    Clock
	metrics  *MetricsService
	logger   *zap.Logger

	mu       sync.Mutex
	queue    Enqueuer
	inflight map[string]struct{}
}

// NewNotificationService constructs the engine. AttachQueue must be called
// before notifications can be delivered.
func NewNotificationService(store NotificationStore, registry *SessionRegistry, students StudentDirectory, sink notify.Sink, clock Clock, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}
	return &NotificationService{
		store:    store,
		registry: registry,
		students: students,
		sink:     sink,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		inflight: map[string]struct{}{},
	}
}

// AttachQueue sets the delivery queue. The queue's handler is Deliver.
func (s *NotificationService) AttachQueue(queue Enqueuer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = queue
}

// Build returns a new notification for the student's current episode, or nil
// when that episode was already notified.
func (s *NotificationService) Build(student models.Student, streak models.AbsenceStreak, day models.Date, at time.Time) *models.NotificationRecord {
	started := day
	if streak.EpisodeStartedOn != nil {
		started = *streak.EpisodeStartedOn
	}
	if s.registry.episodeNotified(models.EpisodeKey{StudentID: student.ID, StartedOn: started.String()}) {
		return nil
	}
	return &models.NotificationRecord{
		ID:                       uuid.NewString(),
		StudentID:                student.ID,
		ClassID:                  student.ClassID,
		StudentName:              student.Name,
		ParentName:               student.ParentName,
		ParentEmail:              student.ParentEmail,
		ParentPhone:              student.ParentPhone,
		EpisodeStartedOn:         started,
		NotificationDate:         day,
		ConsecutiveDaysAtTrigger: streak.ConsecutiveAbsentDays,
		DeliveryStatus:           models.DeliveryStatusPending,
		CreatedAt:                at,
	}
}

// Notify records and dispatches a notification outside of session escalation.
// A notification already present for the student's open episode makes this a
// no-op that returns created=false.
func (s *NotificationService) Notify(ctx context.Context, req NotificationRequest) (*models.NotificationRecord, bool, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	if req.ConsecutiveDays <= 0 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "consecutive_days must be positive")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.ErrStudentNotFound
		}
		return nil, false, appErrors.Fatal(err, "failed to load student")
	}

	s.registry.gate.RLock()
	defer s.registry.gate.RUnlock()
	slot := s.registry.slot(student.ClassID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	day := req.Date
	if day.IsZero() {
		day = s.registry.Day().BusinessDate
	}
	streak := s.registry.Streak(student.ID)
	streak.ConsecutiveAbsentDays = req.ConsecutiveDays

	record := s.Build(*student, streak, day, s.clock.Now())
	if record == nil {
		return nil, false, nil
	}
	created, err := s.store.Create(ctx, record)
	if err != nil {
		return nil, false, appErrors.Fatal(err, "failed to record notification")
	}
	s.registry.markEpisodes(record.Episode())
	if !created {
		return nil, false, nil
	}
	s.Dispatch([]models.NotificationRecord{*record})
	return record, true, nil
}

// Dispatch queues created notifications for delivery without blocking. Ones
// that do not fit stay PENDING for the redelivery sweep.
func (s *NotificationService) Dispatch(records []models.NotificationRecord) {
	if s == nil {
		return
	}
	for _, n := range records {
		s.metrics.NotificationEvent("created")
		s.logger.Sugar().Infow("parent notification raised",
			"notification_id", n.ID,
			"student_id", n.StudentID,
			"consecutive_days", n.ConsecutiveDaysAtTrigger,
			"episode_started_on", n.EpisodeStartedOn.String(),
		)
		s.enqueue(n)
	}
}

func (s *NotificationService) enqueue(n models.NotificationRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		s.logger.Sugar().Warnw("no delivery queue, notification left pending", "notification_id", n.ID)
		return false
	}
	if _, ok := s.inflight[n.ID]; ok {
		return false
	}
	err := s.queue.TryEnqueue(jobs.Job{ID: n.ID, Type: NotificationJobType, Payload: n})
	if err != nil {
		s.logger.Sugar().Warnw("notification not queued, left pending", "notification_id", n.ID, "error", err)
		return false
	}
	s.inflight[n.ID] = struct{}{}
	return true
}

func (s *NotificationService) settle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// Deliver is the queue handler. Sink failures are transient and leave the
// record PENDING; they never touch escalation state.
func (s *NotificationService) Deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.NotificationRecord)
	if !ok {
		s.settle(job.ID)
		return appErrors.New(appErrors.ErrInternal.Code, appErrors.KindInternal, appErrors.ErrInternal.Status, fmt.Sprintf("unexpected payload %T", job.Payload))
	}
	attempts := n.DeliveryAttempts + job.Attempt + 1

	if err := s.sink.Send(ctx, toMessage(n)); err != nil {
		msg := err.Error()
		if uerr := s.store.UpdateDelivery(ctx, models.DeliveryUpdate{ID: n.ID, Status: models.DeliveryStatusPending, Attempts: attempts, LastError: &msg}); uerr != nil {
			s.logger.Sugar().Warnw("failed to record delivery attempt", "notification_id", n.ID, "error", uerr)
		}
		s.metrics.NotificationEvent("retried")
		return appErrors.Transient(err, "")
	}

	sentAt := s.clock.Now()
	if err := s.store.UpdateDelivery(ctx, models.DeliveryUpdate{ID: n.ID, Status: models.DeliveryStatusDelivered, Attempts: attempts, SentAt: &sentAt}); err != nil {
		s.logger.Sugar().Errorw("notification delivered but not marked", "notification_id", n.ID, "error", err)
	}
	s.settle(n.ID)
	s.metrics.NotificationEvent("delivered")
	s.logger.Sugar().Infow("parent notification delivered", "notification_id", n.ID, "sink", s.sink.Name(), "attempts", attempts)
	return nil
}

// OnGiveUp marks a notification FAILED once the queue stops retrying it.
func (s *NotificationService) OnGiveUp(ctx context.Context, job jobs.Job, cause error) {
	defer s.settle(job.ID)
	n, ok := job.Payload.(models.NotificationRecord)
	if !ok {
		return
	}
	msg := cause.Error()
	update := models.DeliveryUpdate{ID: n.ID, Status: models.DeliveryStatusFailed, Attempts: n.DeliveryAttempts + job.Attempt, LastError: &msg}
	if err := s.store.UpdateDelivery(ctx, update); err != nil {
		s.logger.Sugar().Errorw("failed to mark notification failed", "notification_id", n.ID, "error", err)
	}
	s.metrics.NotificationEvent("failed")
}

// RedeliverPending re-queues PENDING notifications that are not already in
// flight and returns how many were queued.
func (s *NotificationService) RedeliverPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx, redeliveryBatch)
	if err != nil {
		return 0, appErrors.Fatal(err, "failed to list pending notifications")
	}
	queued := 0
	for _, n := range pending {
		if s.enqueue(n) {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Sugar().Infow("pending notifications requeued", "count", queued)
	}
	return queued, nil
}

// StartRedelivery sweeps PENDING notifications every period until ctx ends.
func (s *NotificationService) StartRedelivery(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RedeliverPending(ctx); err != nil {
				s.logger.Sugar().Warnw("notification redelivery sweep failed", "error", err)
			}
		}
	}
}

// List returns notifications whose date falls within [from, to].
func (s *NotificationService) List(ctx context.Context, from, to *models.Date) ([]models.NotificationRecord, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	records, err := s.store.ListByDateRange(ctx, from, to)
	if err != nil {
		return nil, appErrors.Fatal(err, "failed to list notifications")
	}
	return records, nil
}

// QueueDepth reports deliveries waiting in the queue.
func (s *NotificationService) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return 0
	}
	return s.queue.Pending()
}

// Restore loads the episode index from storage.
func (s *NotificationService) Restore(ctx context.Context) ([]models.EpisodeKey, error) {
	keys, err := s.store.ListOpenEpisodes(ctx)
	if err != nil {
		return nil, appErrors.Fatal(err, "failed to restore notification episodes")
	}
	return keys, nil
}

func toMessage(n models.NotificationRecord) notify.Message {
	return notify.Message{
		NotificationID:   n.ID,
		StudentID:        n.StudentID,
		StudentName:      n.StudentName,
		ClassID:          n.ClassID,
		ParentName:       n.ParentName,
		ParentEmail:      n.ParentEmail,
		ParentPhone:      n.ParentPhone,
		ConsecutiveDays:  n.ConsecutiveDaysAtTrigger,
		EpisodeStartedOn: n.EpisodeStartedOn.String(),
		NotificationDate: n.NotificationDate.String(),
		Text: fmt.Sprintf("%s has been absent for %d consecutive days since %s.",
			n.StudentName, n.ConsecutiveDaysAtTrigger, n.EpisodeStartedOn.String()),
		CreatedAt: n.CreatedAt,
	}
}
