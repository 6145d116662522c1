package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/repository"
	"github.com/noah-isme/tap-attendance-api/pkg/config"
	"github.com/noah-isme/tap-attendance-api/pkg/jobs"
	"github.com/noah-isme/tap-attendance-api/pkg/notify"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires due timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fireDue()
}

func (c *fakeClock) fireDue() {
	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(c.now) {
				t.fired = true
				due = append(due, t)
			}
		}
		c.mu.Unlock()
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		for _, t := range due {
			t.fn()
		}
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// eagerClock fires every timer immediately on its own goroutine.
type eagerClock struct {
	*fakeClock
	wg sync.WaitGroup
}

func (c *eagerClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
	return &fakeTimer{clock: c.fakeClock, fired: true}
}

// memDirectory serves classes and students.
type memDirectory struct {
	mu       sync.Mutex
	classes  []models.Class
	students []models.Student
	listErr  error
}

func (d *memDirectory) ListActive(context.Context) ([]models.Class, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Class(nil), d.classes...), nil
}

func (d *memDirectory) FindByCardID(_ context.Context, cardID string) (*models.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.students {
		if s.CardID == cardID {
			out := s
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find student by card: %w", sql.ErrNoRows)
}

func (d *memDirectory) FindByID(_ context.Context, id string) (*models.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.students {
		if s.ID == id {
			out := s
			return &out, nil
		}
	}
	return nil, fmt.Errorf("find student: %w", sql.ErrNoRows)
}

func (d *memDirectory) ListByClass(_ context.Context, classID string) ([]models.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []models.Student
	for _, s := range d.students {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	return out, nil
}

func recordKey(sessionID, studentID string) string {
	return sessionID + "/" + studentID
}

// memAttendance mimics the transactional attendance repository.
type memAttendance struct {
	mu            sync.Mutex
	notifications *memNotifications
	sessions      map[string]models.ClassSession
	records       map[string]models.AttendanceRecord
	streaks       map[string]models.AbsenceStreak
	completions   int
	completeErr   error
	tapErr        error
}

func newMemAttendance(notifications *memNotifications) *memAttendance {
	return &memAttendance{
		notifications: notifications,
		sessions:      map[string]models.ClassSession{},
		records:       map[string]models.AttendanceRecord{},
		streaks:       map[string]models.AbsenceStreak{},
	}
}

func (m *memAttendance) CreateSession(_ context.Context, session *models.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClassID == session.ClassID && s.Active() {
			return repository.ErrActiveSessionExists
		}
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memAttendance) CompleteSession(_ context.Context, closure models.SessionClosure) ([]models.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	m.completions++
	session := m.sessions[closure.SessionID]
	if session.Active() {
		session.Status = models.SessionStatusCompleted
		completedAt := closure.CompletedAt
		reason := closure.Reason
		session.CompletedAt = &completedAt
		session.CompletionReason = &reason
		m.sessions[closure.SessionID] = session
	}
	return m.writeAbsences(closure.Absences, false)
}

func (m *memAttendance) writeAbsences(batch models.AbsenceBatch, strict bool) ([]models.NotificationRecord, error) {
	for _, rec := range batch.Records {
		if _, ok := m.records[recordKey(rec.SessionID, rec.StudentID)]; ok {
			if strict {
				return nil, repository.ErrDuplicateAttendance
			}
			continue
		}
		m.records[recordKey(rec.SessionID, rec.StudentID)] = rec
	}
	for _, streak := range batch.Streaks {
		m.streaks[streak.StudentID] = streak
	}
	var created []models.NotificationRecord
	for _, n := range batch.Notifications {
		n := n
		ok, err := m.notifications.Create(context.Background(), &n)
		if err != nil {
			return nil, err
		}
		if ok {
			created = append(created, n)
		}
	}
	return created, nil
}

func (m *memAttendance) CommitTap(_ context.Context, record *models.AttendanceRecord, streak models.AbsenceStreak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tapErr != nil {
		return m.tapErr
	}
	if _, ok := m.records[recordKey(record.SessionID, record.StudentID)]; ok {
		return repository.ErrDuplicateAttendance
	}
	m.records[recordKey(record.SessionID, record.StudentID)] = *record
	m.streaks[streak.StudentID] = streak
	return nil
}

func (m *memAttendance) CommitAbsences(_ context.Context, batch models.AbsenceBatch) ([]models.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeAbsences(batch, true)
}

func (m *memAttendance) SaveStreak(_ context.Context, streak models.AbsenceStreak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks[streak.StudentID] = streak
	return nil
}

func (m *memAttendance) ListStreaks(context.Context) ([]models.AbsenceStreak, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AbsenceStreak, 0, len(m.streaks))
	for _, s := range m.streaks {
		out = append(out, s)
	}
	return out, nil
}

func (m *memAttendance) GetSession(_ context.Context, id string) (*models.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session: %w", sql.ErrNoRows)
	}
	return &s, nil
}

func (m *memAttendance) ListSessionsByDate(_ context.Context, date models.Date) ([]models.ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ClassSession
	for _, s := range m.sessions {
		if s.BusinessDate.Equal(date) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memAttendance) ListRecordsByDate(_ context.Context, date models.Date) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range m.records {
		if r.BusinessDate.Equal(date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAttendance) ListSessionRecords(_ context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAttendance) sessionRecords(sessionID string) []models.AttendanceRecord {
	out, _ := m.ListSessionRecords(context.Background(), sessionID)
	return out
}

func (m *memAttendance) streak(studentID string) models.AbsenceStreak {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaks[studentID]
}

// memNotifications enforces the one-per-episode unique key.
type memNotifications struct {
	mu      sync.Mutex
	records map[string]models.NotificationRecord
	order   []string
	updates []models.DeliveryUpdate
}

func newMemNotifications() *memNotifications {
	return &memNotifications{records: map[string]models.NotificationRecord{}}
}

func (m *memNotifications) Create(_ context.Context, n *models.NotificationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.Episode() == n.Episode() {
			return false, nil
		}
	}
	m.records[n.ID] = *n
	m.order = append(m.order, n.ID)
	return true, nil
}

func (m *memNotifications) UpdateDelivery(_ context.Context, update models.DeliveryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[update.ID]
	if !ok {
		return fmt.Errorf("update notification delivery: %w", sql.ErrNoRows)
	}
	n.DeliveryStatus = update.Status
	n.DeliveryAttempts = update.Attempts
	n.LastError = update.LastError
	if update.SentAt != nil {
		n.SentAt = update.SentAt
	}
	m.records[update.ID] = n
	m.updates = append(m.updates, update)
	return nil
}

func (m *memNotifications) Get(_ context.Context, id string) (*models.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get notification: %w", sql.ErrNoRows)
	}
	return &n, nil
}

func (m *memNotifications) ListByDateRange(_ context.Context, from, to *models.Date) ([]models.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationRecord
	for _, id := range m.order {
		n := m.records[id]
		if from != nil && n.NotificationDate.Before(*from) {
			continue
		}
		if to != nil && n.NotificationDate.After(*to) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *memNotifications) ListPending(_ context.Context, limit int) ([]models.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationRecord
	for _, id := range m.order {
		if n := m.records[id]; n.DeliveryStatus == models.DeliveryStatusPending && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotifications) ListOpenEpisodes(context.Context) ([]models.EpisodeKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EpisodeKey
	for _, id := range m.order {
		out = append(out, m.records[id].Episode())
	}
	return out, nil
}

func (m *memNotifications) all() []models.NotificationRecord {
	out, _ := m.ListByDateRange(context.Background(), nil, nil)
	return out
}

// memReports holds the day counter and written reports.
type memReports struct {
	mu        sync.Mutex
	state     *models.DayState
	reports   []models.DailyReport
	commitErr error
}

func (m *memReports) LoadState(context.Context) (*models.DayState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, fmt.Errorf("load day state: %w", sql.ErrNoRows)
	}
	s := *m.state
	return &s, nil
}

func (m *memReports) InitState(_ context.Context, state models.DayState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = &state
	}
	return nil
}

func (m *memReports) CommitRollover(_ context.Context, report *models.DailyReport, next models.DayState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	if m.state == nil || m.state.DayNumber != report.DayNumber {
		return repository.ErrStaleDayState
	}
	if report.ID == "" {
		report.ID = fmt.Sprintf("report-%d", report.DayNumber)
	}
	m.reports = append(m.reports, *report)
	m.state = &next
	return nil
}

func (m *memReports) List(_ context.Context, limit, offset int) ([]models.DailyReport, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DailyReport
	for i := len(m.reports) - 1; i >= 0; i-- {
		out = append(out, m.reports[i])
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, len(m.reports), nil
}

func (m *memReports) Get(_ context.Context, id string) (*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("get daily report: %w", sql.ErrNoRows)
}

// fakeQueue captures dispatched jobs.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	full bool
}

func (q *fakeQueue) TryEnqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return jobs.ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *fakeQueue) drain() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}

// fakeSink fails the first failures sends.
type fakeSink struct {
	mu       sync.Mutex
	failures int
	sent     []notify.Message
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("gateway timeout")
	}
	s.sent = append(s.sent, msg)
	return nil
}

const (
	testClassID = "class-7a"
	testClassB  = "class-8b"
)

var testStart = time.Date(2024, time.January, 8, 8, 0, 0, 0, time.UTC)

type harness struct {
	clock   *fakeClock
	dir     *memDirectory
	att     *memAttendance
	notes   *memNotifications
	reports *memReports
	queue   *fakeQueue
	sink    *fakeSink
	engine  *Engine
}

func testConfig() *config.Config {
	return &config.Config{
		Attendance: config.AttendanceConfig{
			SessionDuration:  120 * time.Second,
			LateThreshold:    10 * time.Second,
			AbsenceThreshold: 3,
			Timezone:         "UTC",
			RecentTapsLimit:  50,
		},
		Notifications: config.NotificationConfig{Workers: 1, BufferSize: 8, MaxRetries: 3, RetryDelay: time.Millisecond},
	}
}

func student(id, classID string) models.Student {
	return models.Student{ID: id, Name: "Student " + id, CardID: "card-" + id, ClassID: classID, ParentEmail: id + "@parents.test", Active: true}
}

func newHarness(t *testing.T, students ...models.Student) *harness {
	t.Helper()
	if len(students) == 0 {
		students = []models.Student{student("a", testClassID), student("b", testClassID), student("c", testClassID)}
	}
	notes := newMemNotifications()
	h := &harness{
		clock: newFakeClock(testStart),
		dir: &memDirectory{
			classes: []models.Class{
				{ID: testClassID, Name: "7A", Active: true},
				{ID: testClassB, Name: "8B", Active: true},
			},
			students: students,
		},
		att:     newMemAttendance(notes),
		notes:   notes,
		reports: &memReports{},
		queue:   &fakeQueue{},
		sink:    &fakeSink{},
	}
	h.engine = NewEngine(testConfig(), EngineStores{
		Classes:       h.dir,
		Students:      h.dir,
		Attendance:    h.att,
		Notifications: h.notes,
		Reports:       h.reports,
	}, h.sink, nil, nil, h.clock, nil)
	h.engine.Notifications.AttachQueue(h.queue)
	require.NoError(t, h.engine.Restore(context.Background()))
	return h
}

func (h *harness) start(t *testing.T, classID string) *models.ClassSession {
	t.Helper()
	session, err := h.engine.Sessions.StartSession(context.Background(), classID, models.SessionTriggerManual)
	require.NoError(t, err)
	return session
}

func (h *harness) tap(id string) (*TapResult, error) {
	return h.engine.Taps.RecordTap(context.Background(), "card-"+id)
}

// nextDay rolls over and moves the clock to 08:00 of the following day.
func (h *harness) nextDay(t *testing.T) *models.DailyReport {
	t.Helper()
	day := h.engine.Registry.Day()
	h.clock.Set(day.BusinessDate.Time.AddDate(0, 0, 1).Add(8 * time.Hour))
	report, err := h.engine.Rollover.Rollover(context.Background())
	require.NoError(t, err)
	return report
}

// absentDay runs one session in which only the listed students tap.
func (h *harness) runDay(t *testing.T, classID string, present ...string) {
	t.Helper()
	session := h.start(t, classID)
	for _, id := range present {
		_, err := h.tap(id)
		require.NoError(t, err)
	}
	_, err := h.engine.Sessions.CompleteSession(context.Background(), session.ID, models.CompletionReasonManual)
	require.NoError(t, err)
}
