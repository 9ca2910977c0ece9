// Package core is the orchestrator: it consumes normalized frontend
// events and achievement-service events, decides what each surface
// should show, and owns every long-lived background loop (badge, stat
// and challenge rotations, pending debounced navigation, one-shot
// notifications).
//
// Concurrency model: the event loop is the single writer of the game
// context; every async lookup snapshots the context generation first
// and re-checks it after each await before touching a surface. Each
// background concern owns exactly one task.Slot, so two generations of
// the same loop can never write to the same slot or plane concurrently.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/config"
	"github.com/e7canasta/lumen-marquee/internal/dmd"
	"github.com/e7canasta/lumen-marquee/internal/event"
	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
	"github.com/e7canasta/lumen-marquee/internal/offsets"
	"github.com/e7canasta/lumen-marquee/internal/retro"
	"github.com/e7canasta/lumen-marquee/internal/task"
)

// MarqueeSurface is the slice of the player client the director drives.
type MarqueeSurface interface {
	Display(ctx context.Context, path string, opts marquee.DisplayOptions) error
	DisplayAsset(ctx context.Context, path string, loop bool) error
	OverlayAsset(ctx context.Context, path string, slot marquee.OverlaySlot, align marquee.Alignment) error
	OverlayAssetTimed(ctx context.Context, path string, slot marquee.OverlaySlot, align marquee.Alignment, clearAfter time.Duration) error
	RemoveOverlay(ctx context.Context, slot marquee.OverlaySlot, cancelTimer bool) error
	ClearAllOverlays(ctx context.Context)
	PlaybackTime(ctx context.Context) (float64, error)
	Suspend(ctx context.Context) error
	Resume()
	Suspended() bool
}

// MatrixSurface is the slice of the matrix daemon client the director
// drives.
type MatrixSurface interface {
	Play(ctx context.Context, path, system, game string) error
	SetOverlay(ctx context.Context, path string, durationMS int) error
	ClearOverlay(ctx context.Context) error
	SetPlane(ctx context.Context, path string) error
	ClearPlane(ctx context.Context) error
	PlayNotificationSequence(ctx context.Context, steps ...dmd.NotifyStep) error
}

// FrameRenderer decodes one media file into raw frames for a
// frame-oriented matrix daemon.
type FrameRenderer interface {
	Start(ctx context.Context) error
	Stop()
}

// RendererFactory builds a FrameRenderer for a media file. Nil disables
// frame mode regardless of configuration.
type RendererFactory func(path string) (FrameRenderer, error)

// GameContext is the mutable session state: which game is selected or
// running. Single writer (the event loop); concurrent lookups read a
// snapshot plus its generation and must re-check the generation after
// every await before displaying anything.
type GameContext struct {
	System            string
	GameName          string
	ROMPath           string
	IsRunning         bool
	IgnoreEventsUntil time.Time
}

// Director wires the event sources to the surfaces.
type Director struct {
	cfg      *config.Config
	marquee  MarqueeSurface
	matrix   MatrixSurface
	finder   media.Finder
	composer media.Composer
	store    offsets.Store // may be nil
	feed     *retro.Feed

	session    *retro.Session
	challenges *retro.ChallengeState
	presence   *presenceTable

	ctxMu      sync.RWMutex
	game       GameContext
	generation uint64

	debouncer *debouncer
	cycles    *cycleManager
	reactor   *reactor
	coalescer *coalescer
	adjust    *adjustSession
	compose   composeState

	notifySlot *task.Slot
	frameSlot  *task.Slot
	renderers  RendererFactory

	unlocks chan UnlockNotice

	resumeMarquee atomic.Bool // marquee was suspended for a takeover

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// pendingRegen maps stale (system/game) pairs to their source video;
	// regeneration happens on the next game start.
	regenMu      sync.Mutex
	pendingRegen map[string]string

	eventsSeen    atomic.Uint64
	eventsUnknown atomic.Uint64
	dispatches    atomic.Uint64
	fallbacks     atomic.Uint64
}

// Options carries the director's collaborators.
type Options struct {
	Config    *config.Config
	Marquee   MarqueeSurface
	Matrix    MatrixSurface
	Finder    media.Finder
	Composer  media.Composer
	Store     offsets.Store
	Feed      *retro.Feed
	Renderers RendererFactory
}

// NewDirector creates a director with fail-fast validation. At least
// one surface must be enabled and present.
func NewDirector(opts Options) (*Director, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("core: config is required")
	}
	if opts.Finder == nil {
		return nil, fmt.Errorf("core: media finder is required")
	}
	if opts.Composer == nil {
		return nil, fmt.Errorf("core: composer is required")
	}
	if opts.Config.Marquee.Enabled && opts.Marquee == nil {
		return nil, fmt.Errorf("core: marquee enabled but no surface provided")
	}
	if opts.Config.DMD.Enabled && opts.Matrix == nil {
		return nil, fmt.Errorf("core: dmd enabled but no surface provided")
	}
	if !opts.Config.Marquee.Enabled && !opts.Config.DMD.Enabled {
		return nil, fmt.Errorf("core: at least one surface must be enabled")
	}
	if err := marquee.ValidateSlotTable(); err != nil {
		return nil, err
	}

	d := &Director{
		cfg:          opts.Config,
		marquee:      opts.Marquee,
		matrix:       opts.Matrix,
		finder:       opts.Finder,
		composer:     opts.Composer,
		store:        opts.Store,
		feed:         opts.Feed,
		session:      retro.NewSession(),
		challenges:   retro.NewChallengeState(),
		presence:     newPresenceTable(),
		notifySlot:   task.NewSlot("notification"),
		frameSlot:    task.NewSlot("dmd-frames"),
		renderers:    opts.Renderers,
		unlocks:      make(chan UnlockNotice, 8),
		pendingRegen: make(map[string]string),
	}
	d.debouncer = newDebouncer(opts.Config.DebounceWindow())
	d.cycles = newCycleManager(d)
	d.reactor = newReactor(d)
	d.coalescer = newCoalescer(d.renderAdjustPass)
	d.adjust = newAdjustSession(d)
	return d, nil
}

// Start launches the event consumer and, when a feed is configured, the
// achievement reactor loop. Events arriving before Start are buffered by
// the sources' channels.
func (d *Director) Start(ctx context.Context, events <-chan event.Event) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return fmt.Errorf("core: director already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop(runCtx, events)
	}()

	if d.feed != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.reactor.run(runCtx, d.feed.Events())
		}()
	}

	slog.Info("core: director started",
		"marquee", d.cfg.Marquee.Enabled,
		"dmd", d.cfg.DMD.Enabled,
		"debounce", d.cfg.DebounceWindow())
	return nil
}

// Stop cancels every loop and waits for them, bounded by the configured
// shutdown timeout. Idempotent.
func (d *Director) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
	d.debouncer.stop()
	d.cycles.stopAll()
	d.notifySlot.Stop()
	d.frameSlot.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownTimeout()):
		slog.Warn("core: shutdown timeout, loops still running")
	}
	d.running = false
	slog.Info("core: director stopped", "events_seen", d.eventsSeen.Load())
}

// eventLoop is the single consumer of frontend events and the single
// writer of the game context.
func (d *Director) eventLoop(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("core: event source closed")
				return
			}
			d.handleEvent(ctx, ev)
		}
	}
}

func (d *Director) handleEvent(ctx context.Context, ev event.Event) {
	d.eventsSeen.Add(1)

	if ev.Kind == event.KindUnknown {
		d.eventsUnknown.Add(1)
		slog.Warn("core: unrecognized event dropped", "raw", ev.Raw, "trace", ev.TraceID)
		return
	}
	// Navigation events coalesce behind the quiet window; everything
	// else is a committed transition and runs immediately, in order.
	// The frontend echoes selection events around a launch, so
	// navigation arriving inside the post-start grace window is
	// swallowed; lifecycle events always pass.
	if ev.Kind.IsNavigation() {
		if until := d.Snapshot().IgnoreEventsUntil; time.Now().Before(until) {
			slog.Debug("core: navigation ignored during grace window", "event", ev.Kind, "trace", ev.TraceID)
			return
		}
		d.debouncer.submit(ctx, ev, d.dispatchNavigation)
		return
	}

	switch ev.Kind {
	case event.KindGameStart:
		d.onGameStart(ctx, ev)
	case event.KindGameEnd:
		d.onGameEnd(ctx, ev)
	case event.KindStopPreview:
		d.onStopPreview(ctx)
	case event.KindPreviewOverlay:
		d.onPreviewOverlay(ctx, ev)
	}
}

// Snapshot returns a copy of the game context.
func (d *Director) Snapshot() GameContext {
	d.ctxMu.RLock()
	defer d.ctxMu.RUnlock()
	return d.game
}

// snapshotGen returns the context copy plus the generation to re-check
// after awaits.
func (d *Director) snapshotGen() (GameContext, uint64) {
	d.ctxMu.RLock()
	defer d.ctxMu.RUnlock()
	return d.game, d.generation
}

// stillCurrent reports whether no context mutation happened since the
// given generation was snapshotted.
func (d *Director) stillCurrent(gen uint64) bool {
	d.ctxMu.RLock()
	defer d.ctxMu.RUnlock()
	return d.generation == gen
}

// mutateContext applies fn under the write lock and bumps the
// generation, invalidating every in-flight lookup.
func (d *Director) mutateContext(fn func(*GameContext)) {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	fn(&d.game)
	d.generation++
}

// Adjust exposes the video adjustment session for the interactive
// front end.
func (d *Director) Adjust() *AdjustSession {
	return &AdjustSession{s: d.adjust}
}

// UnlockNotice is the outward-facing record of an achievement unlock,
// consumed by integrations such as the MQTT emitter.
type UnlockNotice struct {
	ID       int
	Title    string
	Hardcore bool
}

// Unlocks exposes achievement unlocks to outward integrations. Sends
// never block the reactor; a consumer that falls behind misses notices.
func (d *Director) Unlocks() <-chan UnlockNotice {
	return d.unlocks
}

// AccumulateMove feeds the static-composition coalescer.
func (d *Director) AccumulateMove(ctx context.Context, target Layer, dx, dy int) {
	d.coalescer.accumulateDelta(ctx, target, dx, dy)
}

// AccumulateScale feeds the static-composition coalescer.
func (d *Director) AccumulateScale(ctx context.Context, target Layer, delta float64) {
	d.coalescer.accumulateScale(ctx, target, delta)
}

// Stats is a point-in-time counter snapshot for the periodic log line.
type Stats struct {
	EventsSeen      uint64
	EventsUnknown   uint64
	Dispatches      uint64
	Fallbacks       uint64
	DebounceDropped uint64
	RenderPasses    uint64
	CycleGens       uint64
	FeedDropped     uint64
}

// StatsSnapshot collects counters across the director's components.
func (d *Director) StatsSnapshot() Stats {
	s := Stats{
		EventsSeen:      d.eventsSeen.Load(),
		EventsUnknown:   d.eventsUnknown.Load(),
		Dispatches:      d.dispatches.Load(),
		Fallbacks:       d.fallbacks.Load(),
		DebounceDropped: d.debouncer.dropped(),
		RenderPasses:    d.coalescer.passes.Load(),
		CycleGens:       d.cycles.generations(),
	}
	if d.feed != nil {
		s.FeedDropped = d.feed.Dropped()
	}
	return s
}

// StartStatsLogger logs a counter snapshot every interval until ctx is
// cancelled, flagging sustained debounce pressure.
func (d *Director) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := d.StatsSnapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.StatsSnapshot()
			deltaSeen := s.EventsSeen - prev.EventsSeen
			deltaDropped := s.DebounceDropped - prev.DebounceDropped
			if deltaSeen > 0 && float64(deltaDropped)/float64(deltaSeen) > 0.80 {
				slog.Warn("core: heavy navigation coalescing",
					"dropped_last_interval", deltaDropped,
					"events_last_interval", deltaSeen)
			}
			slog.Info("core: stats",
				"events", s.EventsSeen,
				"unknown", s.EventsUnknown,
				"dispatches", s.Dispatches,
				"fallbacks", s.Fallbacks,
				"debounce_dropped", s.DebounceDropped,
				"render_passes", s.RenderPasses,
				"cycle_generations", s.CycleGens,
				"feed_dropped", s.FeedDropped)
			prev = s
		}
	}
}
