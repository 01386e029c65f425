package scheduler

import (
	"sync"
	"time"

	"github.com/wwhitehead/reddwarf/pkg/log"
	"github.com/rs/zerolog"
)

// Task is a unit of recurring background work. It takes no arguments and
// returns nothing; errors are the task's own responsibility to log.
type Task func()

// Handle controls one scheduled recurring task.
type Handle interface {
	// Cancel stops future invocations. It does not wait for an
	// in-flight invocation to finish; use Scheduler.Shutdown for that.
	Cancel()
}

// Scheduler runs named recurring tasks, each on its own ticker, and
// supports canceling them individually or draining all of them at once.
// It is the implementation of the store's §4.1 scheduler contract.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	handles map[*recurringHandle]struct{}
}

// New creates a Scheduler with no tasks registered.
func New() *Scheduler {
	return &Scheduler{
		logger:  log.WithComponent("scheduler"),
		handles: make(map[*recurringHandle]struct{}),
	}
}

type recurringHandle struct {
	name   string
	stopCh chan struct{}
	once   sync.Once
}

func (h *recurringHandle) Cancel() {
	h.once.Do(func() { close(h.stopCh) })
}

// ScheduleRecurring registers task to run roughly every period, starting
// after the first period elapses. The returned Handle cancels it.
func (s *Scheduler) ScheduleRecurring(name string, task Task, period time.Duration) Handle {
	h := &recurringHandle{name: name, stopCh: make(chan struct{})}

	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.handles, h)
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(h.name, task)
			case <-h.stopCh:
				return
			}
		}
	}()

	return h
}

func (s *Scheduler) runOnce(name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("task", name).Msg("recurring task panicked")
		}
	}()
	task()
}

// Shutdown cancels every outstanding recurring task and blocks until each
// one's goroutine has returned (i.e. no task is mid-invocation).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for h := range s.handles {
		h.Cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Len reports how many recurring tasks are currently scheduled. Intended
// for tests and diagnostics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
