package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modoterra/vrcguard/pkg/core"
)

// Supervisor runs the daemon's long-lived loops and records how each one
// ended. The first task to fail cancels the others.
type Supervisor struct {
	g      *errgroup.Group
	ctx    context.Context
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	order []string
	tasks map[string]*core.TaskInfo
}

// NewSupervisor creates a supervisor whose tasks run under a context derived
// from ctx. The returned context is canceled when any task fails.
func NewSupervisor(ctx context.Context, logger *slog.Logger) (*Supervisor, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{
		g:      g,
		ctx:    gctx,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*core.TaskInfo),
	}, gctx
}

// Go starts fn as the task name. A nil return, or a context error after the
// group was canceled, marks the task stopped; anything else marks it failed.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if _, ok := s.tasks[name]; !ok {
		s.order = append(s.order, name)
	}
	s.tasks[name] = &core.TaskInfo{Name: name, Status: core.StatusRunning, StartedAt: s.now()}
	s.mu.Unlock()

	s.logger.Debug("task started", "task", name)
	s.g.Go(func() error {
		err := fn(s.ctx)
		if err != nil && s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = nil
		}
		s.finish(name, err)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

func (s *Supervisor) finish(name string, err error) {
	s.mu.Lock()
	info := s.tasks[name]
	if err != nil {
		info.Status = core.StatusFailed
		info.Error = err.Error()
	} else {
		info.Status = core.StatusStopped
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("task failed", "task", name, "err", err)
		return
	}
	s.logger.Debug("task stopped", "task", name)
}

// Tasks returns a snapshot of every task in start order.
func (s *Supervisor) Tasks() []core.TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.TaskInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.tasks[name])
	}
	return out
}

// Status returns the state of one task.
func (s *Supervisor) Status(name string) core.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.tasks[name]; ok {
		return info.Status
	}
	return core.StatusUnknown
}

// Wait blocks until every task has returned and reports the first failure.
func (s *Supervisor) Wait() error {
	return s.g.Wait()
}
