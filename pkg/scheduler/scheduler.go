// Package scheduler provides keyed delayed and periodic tasks with
// reschedule-by-key semantics, so components share one timer registry
// instead of tracking timers ad hoc.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

type Scheduler struct {
	mu      sync.Mutex
	cancels map[string]func()
	logger  *slog.Logger
	closed  bool
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cancels: make(map[string]func()),
		logger:  logger,
	}
}

// Schedule runs fn once after delay. Scheduling an existing key cancels the
// pending run first, so repeated calls act as a debounce.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.cancelLocked(key)

	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.cancels, key)
		s.mu.Unlock()

		s.run(key, fn)
	})
	s.cancels[key] = func() { timer.Stop() }
}

// Every runs fn on every tick of interval until the key is cancelled.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.cancelLocked(key)

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.run(key, fn)
			}
		}
	}()
	s.cancels[key] = func() {
		ticker.Stop()
		close(done)
	}
}

// Cancel stops the pending or periodic task for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(key)
}

// Pending reports whether a task is registered under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.cancels[key]
	return ok
}

// Stop cancels every registered task. The scheduler accepts no new tasks
// afterwards, which keeps torn-down components from mutating state through
// orphaned callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key := range s.cancels {
		s.cancelLocked(key)
	}
}

func (s *Scheduler) cancelLocked(key string) {
	if cancel, ok := s.cancels[key]; ok {
		cancel()
		delete(s.cancels, key)
	}
}

func (s *Scheduler) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "key", key, "panic", r)
		}
	}()

	fn()
}
