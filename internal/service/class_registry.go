package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

// ClassStore loads the configured classes.
type ClassStore interface {
	ListActive(ctx context.Context) ([]models.Class, error)
}

// ClassSchedule is a class with its effective session timing.
type ClassSchedule struct {
	models.Class
	SessionDuration time.Duration `json:"-"`
	LateThreshold   time.Duration `json:"-"`
}

// ClassRegistry is the read-only class → schedule mapping used by the engine.
type ClassRegistry struct {
	store           ClassStore
	defaultDuration time.Duration
	defaultLate     time.Duration
	logger          *zap.Logger

	mu      sync.RWMutex
	classes map[string]ClassSchedule
	order   []string
}

// NewClassRegistry constructs an empty registry. Call Load before use.
func NewClassRegistry(store ClassStore, defaultDuration, defaultLate time.Duration, logger *zap.Logger) *ClassRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultDuration <= 0 {
		defaultDuration = 120 * time.Second
	}
	if defaultLate <= 0 || defaultLate > defaultDuration {
		defaultLate = 10 * time.Second
		if defaultLate > defaultDuration {
			defaultLate = defaultDuration
		}
	}
	return &ClassRegistry{
		store:           store,
		defaultDuration: defaultDuration,
		defaultLate:     defaultLate,
		logger:          logger,
		classes:         map[string]ClassSchedule{},
	}
}

// Load replaces the registry contents from the store.
func (r *ClassRegistry) Load(ctx context.Context) error {
	classes, err := r.store.ListActive(ctx)
	if err != nil {
		return appErrors.Fatal(err, "failed to load classes")
	}
	r.Set(classes)
	r.logger.Sugar().Infow("class registry loaded", "classes", len(classes))
	return nil
}

// Set installs classes directly.
func (r *ClassRegistry) Set(classes []models.Class) {
	next := make(map[string]ClassSchedule, len(classes))
	order := make([]string, 0, len(classes))
	for _, class := range classes {
		duration, late := class.Timing(r.defaultDuration, r.defaultLate)
		next[class.ID] = ClassSchedule{Class: class, SessionDuration: duration, LateThreshold: late}
		order = append(order, class.ID)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := next[order[i]], next[order[j]]
		if a.SessionStart != b.SessionStart {
			return a.SessionStart < b.SessionStart
		}
		return a.Name < b.Name
	})

	r.mu.Lock()
	r.classes = next
	r.order = order
	r.mu.Unlock()
}

// Get returns a class by id.
func (r *ClassRegistry) Get(classID string) (ClassSchedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class, ok := r.classes[classID]
	return class, ok
}

// Resolve validates and looks up a class id.
func (r *ClassRegistry) Resolve(classID string) (ClassSchedule, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return ClassSchedule{}, appErrors.Clone(appErrors.ErrValidation, "class_id is required")
	}
	class, ok := r.Get(classID)
	if !ok {
		return ClassSchedule{}, appErrors.ErrClassNotFound
	}
	return class, nil
}

// List returns every class in schedule order.
func (r *ClassRegistry) List() []ClassSchedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClassSchedule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.classes[id])
	}
	return out
}

// Name returns the class name or the id when unknown.
func (r *ClassRegistry) Name(classID string) string {
	if class, ok := r.Get(classID); ok {
		return class.Name
	}
	return classID
}
