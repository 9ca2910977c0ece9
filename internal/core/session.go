package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
	"github.com/e7canasta/lumen-marquee/internal/offsets"
)

// toVideoOffsets maps the persisted record into compositing terms.
func toVideoOffsets(d offsets.Data) media.VideoOffsets {
	return media.VideoOffsets{
		CropX:     d.CropX,
		CropY:     d.CropY,
		Zoom:      d.Zoom,
		LogoX:     d.LogoX,
		LogoY:     d.LogoY,
		LogoScale: d.LogoScale,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
	}
}

// adjustSession is the modal video adjustment state. Only one exists
// per director; it is inert until entered and is force-finished on game
// end.
//
// Two sub-modes:
//   - static preview: every nudge re-captures a frame from the source
//     video at the live offsets and displays the recomposition, which
//     mirrors exactly what a regeneration would produce;
//   - playback/trim: the source video loops with the scrub bar while
//     mark-start/mark-end capture the player's current position.
type adjustSession struct {
	d *Director

	mu          sync.Mutex
	active      bool
	system      string
	game        string
	sourceVideo string
	data        offsets.Data
	baseline    offsets.Data // offsets the current generated video was built from
	trimMode    bool
}

func newAdjustSession(d *Director) *adjustSession {
	return &adjustSession{d: d}
}

// AdjustSession is the public handle the interactive front end drives.
type AdjustSession struct {
	s *adjustSession
}

// Enter starts an adjustment session over the given source video. Fails
// unless a game is running and the marquee currently shows a video.
func (a *AdjustSession) Enter(ctx context.Context, sourceVideo string) error {
	return a.s.enter(ctx, sourceVideo)
}

// Exit leaves the session without side effects; dirty offsets stay in
// the store and trigger a regeneration on the next game start.
func (a *AdjustSession) Exit() { a.s.exit() }

// Active reports whether a session is in progress.
func (a *AdjustSession) Active() bool { return a.s.isActive() }

// Move nudges the crop (fanart) or logo position.
func (a *AdjustSession) Move(ctx context.Context, target Layer, dx, dy int) error {
	return a.s.apply(ctx, func(d *offsets.Data) {
		if target == LayerLogo {
			d.LogoX += dx
			d.LogoY += dy
		} else {
			d.CropX += dx
			d.CropY += dy
		}
	})
}

// Scale adjusts the zoom or logo scale.
func (a *AdjustSession) Scale(ctx context.Context, target Layer, delta float64) error {
	return a.s.apply(ctx, func(d *offsets.Data) {
		if target == LayerLogo {
			d.LogoScale += delta
			if d.LogoScale < 0.05 {
				d.LogoScale = 0.05
			}
		} else {
			d.Zoom += delta
			if d.Zoom < 0.05 {
				d.Zoom = 0.05
			}
		}
	})
}

// ToggleTrimMode switches between static preview and looping playback
// with the scrub bar.
func (a *AdjustSession) ToggleTrimMode(ctx context.Context) error {
	return a.s.toggleTrim(ctx)
}

// MarkStart captures the current playback time as the trim start and
// refreshes the static preview frame at that point.
func (a *AdjustSession) MarkStart(ctx context.Context) error {
	return a.s.mark(ctx, true)
}

// MarkEnd captures the current playback time as the trim end.
func (a *AdjustSession) MarkEnd(ctx context.Context) error {
	return a.s.mark(ctx, false)
}

func (s *adjustSession) enter(ctx context.Context, sourceVideo string) error {
	snap := s.d.Snapshot()
	if !snap.IsRunning {
		return fmt.Errorf("core: adjustment session needs a running game")
	}
	if sourceVideo == "" {
		return fmt.Errorf("core: adjustment session needs a source video")
	}

	data := offsets.Default()
	if s.d.store != nil {
		stored, _, err := s.d.store.IndividualOffsets(ctx, snap.System, snap.GameName)
		if err != nil {
			slog.Warn("core: offsets load failed, starting from defaults", "error", err)
		} else {
			data = stored
		}
	}

	s.mu.Lock()
	s.active = true
	s.system = snap.System
	s.game = snap.GameName
	s.sourceVideo = sourceVideo
	s.data = data
	s.baseline = data
	s.trimMode = false
	s.mu.Unlock()

	slog.Info("core: adjustment session entered",
		"system", snap.System, "game", snap.GameName, "source", sourceVideo)
	return s.refreshPreview(ctx)
}

func (s *adjustSession) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		slog.Info("core: adjustment session exited", "system", s.system, "game", s.game)
	}
}

func (s *adjustSession) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// apply mutates the offsets, persists them, and refreshes the static
// preview when not in trim mode.
func (s *adjustSession) apply(ctx context.Context, mutate func(*offsets.Data)) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("core: no adjustment session in progress")
	}
	mutate(&s.data)
	data := s.data
	system, game := s.system, s.game
	trim := s.trimMode
	s.mu.Unlock()

	s.persist(ctx, system, game, data)
	if trim {
		return nil
	}
	return s.refreshPreview(ctx)
}

func (s *adjustSession) toggleTrim(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("core: no adjustment session in progress")
	}
	s.trimMode = !s.trimMode
	trim := s.trimMode
	source := s.sourceVideo
	start := s.data.StartTime
	s.mu.Unlock()

	if !trim {
		return s.refreshPreview(ctx)
	}
	if s.d.marquee == nil {
		return nil
	}
	return s.d.marquee.Display(ctx, source, marquee.DisplayOptions{
		Loop:         true,
		ShowProgress: true,
		StartAt:      start,
	})
}

func (s *adjustSession) mark(ctx context.Context, start bool) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("core: no adjustment session in progress")
	}
	s.mu.Unlock()

	if s.d.marquee == nil {
		return fmt.Errorf("core: trim marks need the marquee surface")
	}
	pos, err := s.d.marquee.PlaybackTime(ctx)
	if err != nil {
		return fmt.Errorf("core: playback time unavailable: %w", err)
	}

	s.mu.Lock()
	if start {
		s.data.StartTime = pos
	} else {
		s.data.EndTime = pos
	}
	data := s.data
	system, game := s.system, s.game
	s.mu.Unlock()

	s.persist(ctx, system, game, data)
	slog.Info("core: trim mark set", "start", start, "position", pos)

	// A new start point also refreshes the static preview so it
	// reflects the trimmed video's first frame.
	if start {
		return s.refreshPreview(ctx)
	}
	return nil
}

// finishOnGameEnd closes the session on game end. Offsets that differ
// from the generated video's baseline mark the game for regeneration on
// its next start; nothing is regenerated synchronously here.
func (s *adjustSession) finishOnGameEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	if s.data != s.baseline {
		s.d.markPendingRegen(s.system, s.game, s.sourceVideo)
		slog.Info("core: offsets dirty, regeneration deferred to next start",
			"system", s.system, "game", s.game)
	}
}

func (s *adjustSession) persist(ctx context.Context, system, game string, data offsets.Data) {
	if s.d.store == nil {
		return
	}
	if err := s.d.store.SaveIndividualOffsets(ctx, system, game, data); err != nil {
		slog.Error("core: offsets save failed", "system", system, "game", game, "error", err)
	}
}

// refreshPreview recomposes a still frame from the source video at the
// live offsets and displays it.
func (s *adjustSession) refreshPreview(ctx context.Context) error {
	s.mu.Lock()
	source := s.sourceVideo
	data := s.data
	s.mu.Unlock()

	path, err := s.d.composer.CaptureVideoFrame(ctx, source, data.StartTime, toVideoOffsets(data))
	if err != nil {
		return fmt.Errorf("core: preview capture failed: %w", err)
	}
	if path == "" || s.d.marquee == nil {
		return nil
	}
	return s.d.marquee.DisplayAsset(ctx, path, false)
}

// markPendingRegen records that a game's generated video is stale.
func (d *Director) markPendingRegen(system, game, sourceVideo string) {
	d.regenMu.Lock()
	defer d.regenMu.Unlock()
	d.pendingRegen[system+"/"+game] = sourceVideo
}

// regenerateIfPending rebuilds a stale generated video before the game
// start dispatch can show it.
func (d *Director) regenerateIfPending(ctx context.Context, system, game string) {
	key := system + "/" + game
	d.regenMu.Lock()
	source, pending := d.pendingRegen[key]
	if pending {
		delete(d.pendingRegen, key)
	}
	d.regenMu.Unlock()
	if !pending {
		return
	}

	data := offsets.Default()
	if d.store != nil {
		stored, _, err := d.store.IndividualOffsets(ctx, system, game)
		if err == nil {
			data = stored
		}
	}
	path, err := d.composer.GenerateVideo(ctx, source, toVideoOffsets(data))
	if err != nil {
		slog.Error("core: deferred video regeneration failed",
			"system", system, "game", game, "error", err)
		return
	}
	slog.Info("core: generated video rebuilt", "system", system, "game", game, "path", path)
}
