// Package task provides the cancel-then-replace primitive used by every
// long-lived background concern in the daemon.
//
// Each concern (a badge cycle, a stat rotation, a pending debounced
// navigation, ...) owns exactly one Slot. Starting a new generation of
// the concern always cancels the previous generation and waits for it to
// return before the new one runs, so two generations can never write to
// the same output resource concurrently.
package task

import (
	"context"
	"log/slog"
	"sync"
)

// Slot owns at most one running generation of a background task.
//
// Thread-safety: all methods are safe for concurrent use. Replace
// serializes callers; the second of two concurrent Replace calls wins.
type Slot struct {
	name string

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64
}

// NewSlot creates a named slot. The name only appears in logs.
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

// Replace cancels the previous generation, waits for it to return, then
// runs fn on a fresh goroutine bound to a context derived from parent.
//
// fn must return promptly once its context is cancelled. A panic inside
// fn is caught at the generation boundary, logged, and terminates only
// that generation.
func (s *Slot) Replace(parent context.Context, fn func(ctx context.Context)) {
	s.mu.Lock()

	if s.cancel != nil {
		prevCancel := s.cancel
		prevDone := s.done
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()

		prevCancel()
		<-prevDone

		s.mu.Lock()
		// Another Replace may have slotted in while we waited; it wins
		if s.cancel != nil {
			s.mu.Unlock()
			return
		}
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task: generation panicked",
					"slot", s.name,
					"generation", gen,
					"panic", r,
				)
			}
		}()
		fn(ctx)
	}()
}

// Stop cancels the current generation, if any, and waits for it to
// return. Idempotent; safe to call with no generation running.
func (s *Slot) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether a generation is currently registered. A
// generation that returned on its own but was never stopped still counts
// as registered; Active is a coarse signal for stats, not a liveness
// check.
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Generation returns the number of generations started so far.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
