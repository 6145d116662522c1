package service

import (
	"sort"
	"sync"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// sessionEntry is the in-memory attendance book of one session. records is
// keyed by student id and guarded by the owning class slot.
type sessionEntry struct {
	session    models.ClassSession
	records    map[string]models.AttendanceRecord
	rosterSize int
	timer      Timer
}

func (e *sessionEntry) counts() models.AttendanceCounts {
	var counts models.AttendanceCounts
	for _, rec := range e.records {
		counts.Add(rec.Status)
	}
	return counts
}

func (e *sessionEntry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// classSlot serialises taps, manual absences and completion for one class.
type classSlot struct {
	mu     sync.Mutex
	active *sessionEntry
}

// SessionRegistry is the single source of truth for the current business day:
// sessions keyed by class, their records, absence streaks and the episode
// index of sent notifications.
//
// Lock order is gate, then a class slot, then mu. Taps, session starts and
// completions hold gate for reading; rollover and preview hold it for writing.
// mu only guards the maps and is never held across I/O.
type SessionRegistry struct {
	gate sync.RWMutex

	mu        sync.Mutex
	day       models.DayState
	slots     map[string]*classSlot
	sessions  map[string]*sessionEntry
	order     []string
	scheduled map[string]bool
	streaks   map[string]models.AbsenceStreak
	episodes  map[models.EpisodeKey]struct{}
	recent    []models.RecentTap
	recentCap int
}

// NewSessionRegistry constructs an empty registry for day.
func NewSessionRegistry(day models.DayState, recentCap int) *SessionRegistry {
	if recentCap <= 0 {
		recentCap = 50
	}
	return &SessionRegistry{
		day:       day,
		slots:     map[string]*classSlot{},
		sessions:  map[string]*sessionEntry{},
		scheduled: map[string]bool{},
		streaks:   map[string]models.AbsenceStreak{},
		episodes:  map[models.EpisodeKey]struct{}{},
		recentCap: recentCap,
	}
}

// Day returns the current business day.
func (r *SessionRegistry) Day() models.DayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.day
}

func (r *SessionRegistry) slot(classID string) *classSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[classID]
	if !ok {
		s = &classSlot{}
		r.slots[classID] = s
	}
	return s
}

func (r *SessionRegistry) lookup(sessionID string) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

func (r *SessionRegistry) register(entry *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[entry.session.ID] = entry
	r.order = append(r.order, entry.session.ID)
}

// entries returns today's sessions in start order, optionally for one class.
func (r *SessionRegistry) entries(classID string) []*sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sessionEntry, 0, len(r.order))
	for _, id := range r.order {
		entry := r.sessions[id]
		if classID == "" || entry.session.ClassID == classID {
			out = append(out, entry)
		}
	}
	return out
}

// activeEntries returns the sessions still accepting taps. Callers holding
// the gate exclusively may read the entries without class slots.
func (r *SessionRegistry) activeEntries() []*sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sessionEntry, 0)
	for _, id := range r.order {
		if s, ok := r.slots[r.sessions[id].session.ClassID]; ok && s.active == r.sessions[id] {
			out = append(out, r.sessions[id])
		}
	}
	return out
}

func (r *SessionRegistry) markScheduled(classID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduled[classID] {
		return false
	}
	r.scheduled[classID] = true
	return true
}

func (r *SessionRegistry) unmarkScheduled(classID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scheduled, classID)
}

// Streak returns the stored streak for a student, zero valued when unknown.
func (r *SessionRegistry) Streak(studentID string) models.AbsenceStreak {
	r.mu.Lock()
	defer r.mu.Unlock()
	if streak, ok := r.streaks[studentID]; ok {
		return streak
	}
	return models.AbsenceStreak{StudentID: studentID}
}

func (r *SessionRegistry) setStreaks(streaks ...models.AbsenceStreak) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, streak := range streaks {
		r.streaks[streak.StudentID] = streak
	}
}

// Streaks returns a copy of every known streak.
func (r *SessionRegistry) Streaks() []models.AbsenceStreak {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AbsenceStreak, 0, len(r.streaks))
	for _, streak := range r.streaks {
		out = append(out, streak)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

func (r *SessionRegistry) episodeNotified(key models.EpisodeKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.episodes[key]
	return ok
}

func (r *SessionRegistry) markEpisodes(keys ...models.EpisodeKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.episodes[key] = struct{}{}
	}
}

func (r *SessionRegistry) pushRecent(tap models.RecentTap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, tap)
	if len(r.recent) > r.recentCap {
		r.recent = r.recent[len(r.recent)-r.recentCap:]
	}
}

// Recent returns up to limit taps, newest first.
func (r *SessionRegistry) Recent(limit int) []models.RecentTap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.recent) {
		limit = len(r.recent)
	}
	out := make([]models.RecentTap, 0, limit)
	for i := len(r.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.recent[i])
	}
	return out
}

// applyBatch installs a committed absence batch. The caller holds the slot
// of entry's class.
func (r *SessionRegistry) applyBatch(entry *sessionEntry, batch models.AbsenceBatch) {
	for _, rec := range batch.Records {
		entry.records[rec.StudentID] = rec
	}
	r.setStreaks(batch.Streaks...)
	keys := make([]models.EpisodeKey, 0, len(batch.Notifications))
	for _, n := range batch.Notifications {
		keys = append(keys, n.Episode())
	}
	r.markEpisodes(keys...)
}

// daySnapshot is a consistent copy of the attendance book.
type daySnapshot struct {
	day      models.DayState
	sessions []models.ClassSession
	records  map[string][]models.AttendanceRecord
}

// snapshot copies every session and record. The caller holds gate exclusively.
func (r *SessionRegistry) snapshot() daySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := daySnapshot{
		day:      r.day,
		sessions: make([]models.ClassSession, 0, len(r.order)),
		records:  make(map[string][]models.AttendanceRecord, len(r.order)),
	}
	for _, id := range r.order {
		entry := r.sessions[id]
		snap.sessions = append(snap.sessions, entry.session)
		recs := make([]models.AttendanceRecord, 0, len(entry.records))
		for _, rec := range entry.records {
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].StudentID < recs[j].StudentID })
		snap.records[id] = recs
	}
	return snap
}

// reset drops day-scoped state and moves to next. Streaks and the episode
// index survive. The caller holds gate exclusively.
func (r *SessionRegistry) reset(next models.DayState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.sessions {
		entry.stopTimer()
	}
	r.day = next
	r.slots = map[string]*classSlot{}
	r.sessions = map[string]*sessionEntry{}
	r.order = nil
	r.scheduled = map[string]bool{}
	r.recent = nil
}

// restore seeds the registry from storage on boot.
func (r *SessionRegistry) restore(day models.DayState, streaks []models.AbsenceStreak, episodes []models.EpisodeKey) {
	r.mu.Lock()
	r.day = day
	r.mu.Unlock()
	r.setStreaks(streaks...)
	r.markEpisodes(episodes...)
}
