package event

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileSource watches the frontend status file and emits one Event per
// observed change.
//
// The frontend rewrites the whole file for every event, so a change is
// detected by modification time plus content comparison. The frontend can
// still be holding the file open mid-write when we get to it; reads that
// fail are retried a bounded number of times with a short delay, then the
// change is abandoned with a warning (never fatal).
type FileSource struct {
	path       string
	interval   time.Duration
	retries    int
	retryDelay time.Duration

	events chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRaw string
	lastMod time.Time

	// Statistics (atomic not needed, only the poll goroutine writes)
	polls      uint64
	reads      uint64
	retriesHit uint64
	abandoned  uint64
}

// FileSourceConfig controls the poll loop.
type FileSourceConfig struct {
	Path       string
	Interval   time.Duration // poll period (default: 50ms)
	Retries    int           // locked-read retry attempts (default: 5)
	RetryDelay time.Duration // delay between retries (default: 20ms)
}

// NewFileSource creates a status file source with fail-fast validation.
func NewFileSource(cfg FileSourceConfig) (*FileSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("event: status file path is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 20 * time.Millisecond
	}

	return &FileSource{
		path:       cfg.Path,
		interval:   cfg.Interval,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		events:     make(chan Event, 16),
	}, nil
}

// Start begins polling and returns the event channel immediately.
func (s *FileSource) Start(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("event: file source already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)

	// Seed the change detector with the current file state so a stale
	// event left over from a previous run is not replayed on startup.
	if data, err := os.ReadFile(s.path); err == nil {
		s.lastRaw = string(data)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.lastMod = info.ModTime()
	}

	s.wg.Add(1)
	go s.poll(ctx)

	slog.Info("event: status file source started",
		"path", s.path,
		"interval", s.interval,
	)

	return s.events, nil
}

// Stop terminates the poll loop and closes the event channel.
// Idempotent.
func (s *FileSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
	close(s.events)

	slog.Info("event: status file source stopped",
		"polls", s.polls,
		"reads", s.reads,
		"abandoned", s.abandoned,
	)
}

func (s *FileSource) poll(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.polls++
			info, err := os.Stat(s.path)
			if err != nil {
				// File absent is normal before the frontend starts
				continue
			}
			if !info.ModTime().After(s.lastMod) {
				continue
			}
			s.lastMod = info.ModTime()

			raw, err := s.readWithRetry(ctx)
			if err != nil {
				s.abandoned++
				slog.Warn("event: status file read abandoned",
					"path", s.path,
					"attempts", s.retries,
					"error", err,
				)
				continue
			}
			s.reads++

			if raw == s.lastRaw {
				continue
			}
			s.lastRaw = raw

			ev, ok := ParseStatusLine(raw)
			if !ok {
				continue
			}

			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// readWithRetry reads the status file, retrying while the frontend holds
// it locked mid-write.
func (s *FileSource) readWithRetry(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		data, err := os.ReadFile(s.path)
		if err == nil {
			return string(data), nil
		}
		lastErr = err
		s.retriesHit++

		slog.Debug("event: status file locked, retrying",
			"attempt", attempt,
			"max_attempts", s.retries,
		)

		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
