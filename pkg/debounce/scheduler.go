// Package debounce runs delayed actions keyed by an identifier, keeping at
// most one pending action per key.
package debounce

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/modoterra/vrcguard/pkg/metrics"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics counts fired and canceled tasks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Task describes a pending action.
type Task struct {
	Key string    `json:"key"`
	Due time.Time `json:"due"`
}

type task struct {
	id    uint64
	due   time.Time
	timer *clock.Timer
}

// Scheduler holds the pending tasks. It is safe for concurrent use.
type Scheduler struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	seq   uint64
	tasks map[string]*task
}

// New creates a scheduler backed by the wall clock unless overridden.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.New(),
		logger: logger,
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule runs action after delay unless key is scheduled again or
// canceled first. Any task already pending for key is discarded.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
		s.metrics.TaskCanceled()
		s.logger.Debug("superseded pending task", "key", key)
	}

	s.seq++
	id := s.seq
	t := &task{id: id, due: s.clock.Now().Add(delay)}
	t.timer = s.clock.AfterFunc(delay, func() { s.fire(key, id, action) })
	s.tasks[key] = t
}

// fire runs action only if the task that armed it is still the current one
// for key. A task that was replaced or canceled after its timer expired
// finds a different id (or none) and does nothing.
func (s *Scheduler) fire(key string, id uint64, action func()) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok || t.id != id {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()

	s.metrics.TaskFired()
	action()
}

// Cancel discards the pending task for key and reports whether one existed.
// An action that has already started is not interrupted.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	s.metrics.TaskCanceled()
	return true
}

// Pending reports whether key has a task waiting to run.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Keys returns the keys with pending tasks, sorted.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Tasks returns the pending tasks ordered by due time.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for k, t := range s.tasks {
		out = append(out, Task{Key: k, Due: t.due})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Due.Equal(out[j].Due) {
			return out[i].Key < out[j].Key
		}
		return out[i].Due.Before(out[j].Due)
	})
	return out
}

// Stop cancels every pending task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, k)
		s.metrics.TaskCanceled()
	}
}
