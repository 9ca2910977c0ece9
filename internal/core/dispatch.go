package core

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/event"
	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
)

// Navigation event parameter layout: param1=system, param2=gameName,
// param3=romPath. system-selected carries only param1.

// dispatchNavigation runs after the quiet window on the debouncer's
// goroutine. ctx is cancelled the moment a newer navigation event
// supersedes this one.
func (d *Director) dispatchNavigation(ctx context.Context, ev event.Event) {
	switch ev.Kind {
	case event.KindGameSelected:
		d.mutateContext(func(g *GameContext) {
			g.System = ev.Params[0]
			g.GameName = ev.Params[1]
			g.ROMPath = ev.Params[2]
			g.IsRunning = false
		})
	case event.KindSystemSelected:
		d.mutateContext(func(g *GameContext) {
			g.System = ev.Params[0]
			g.GameName = ""
			g.ROMPath = ""
			g.IsRunning = false
		})
	}
	d.dispatchBoth(ctx, ev.Kind, ev.TraceID)
}

func (d *Director) onGameStart(ctx context.Context, ev event.Event) {
	system, game, rom := ev.Params[0], ev.Params[1], ev.Params[2]
	grace := d.cfg.GameStartGrace()

	d.mutateContext(func(g *GameContext) {
		g.System = system
		g.GameName = game
		g.ROMPath = rom
		g.IsRunning = true
		if grace > 0 {
			g.IgnoreEventsUntil = time.Now().Add(grace)
		}
	})

	// A stale generated video left over from an adjustment session is
	// rebuilt before it can be shown again.
	d.regenerateIfPending(ctx, system, game)

	if d.isPinballSystem(system) && d.marquee != nil {
		if err := d.marquee.Suspend(ctx); err != nil {
			slog.Warn("core: marquee suspend failed", "error", err)
		} else {
			d.resumeMarquee.Store(true)
			slog.Info("core: marquee suspended for external display", "system", system)
		}
	}

	d.dispatchBoth(ctx, ev.Kind, ev.TraceID)
}

func (d *Director) onGameEnd(ctx context.Context, ev event.Event) {
	d.adjust.finishOnGameEnd()
	d.Cleanup(ctx)

	if d.resumeMarquee.CompareAndSwap(true, false) && d.marquee != nil {
		d.marquee.Resume()
	}

	// Back to browsing: show whatever the frontend had selected, or the
	// configured defaults when nothing is known anymore.
	d.dispatchBoth(ctx, event.KindSystemSelected, ev.TraceID)
}

func (d *Director) onStopPreview(ctx context.Context) {
	d.cycles.previewSlot.Stop()
	if d.marquee != nil {
		if err := d.marquee.RemoveOverlay(ctx, marquee.SlotFor(marquee.ConcernPreview), true); err != nil {
			slog.Warn("core: preview overlay clear failed", "error", err)
		}
	}
	if d.matrix != nil {
		if err := d.matrix.ClearOverlay(ctx); err != nil {
			slog.Warn("core: dmd overlay clear failed", "error", err)
		}
	}
}

// onPreviewOverlay shows a one-shot overlay: param1=path, param2=seconds
// (0 keeps it until stop-preview).
func (d *Director) onPreviewOverlay(ctx context.Context, ev event.Event) {
	path := ev.Params[0]
	if path == "" {
		slog.Warn("core: preview overlay without a path", "trace", ev.TraceID)
		return
	}
	seconds, _ := strconv.Atoi(ev.Params[1])

	d.cycles.previewSlot.Replace(ctx, func(ctx context.Context) {
		if d.marquee != nil {
			slot := marquee.SlotFor(marquee.ConcernPreview)
			var err error
			if seconds > 0 {
				err = d.marquee.OverlayAssetTimed(ctx, path, slot, marquee.AlignCenter, time.Duration(seconds)*time.Second)
			} else {
				err = d.marquee.OverlayAsset(ctx, path, slot, marquee.AlignCenter)
			}
			if err != nil {
				slog.Warn("core: preview overlay failed", "path", path, "error", err)
			}
		}
		if d.matrix != nil {
			if err := d.matrix.SetOverlay(ctx, path, seconds*1000); err != nil {
				slog.Warn("core: dmd preview overlay failed", "path", path, "error", err)
			}
		}
	})
}

// dispatchBoth resolves and displays media for both surfaces in
// parallel. The surfaces are independent: a slow or failing lookup on
// one never blocks or corrupts the other, and each re-checks the
// context generation after its lookup before displaying.
func (d *Director) dispatchBoth(ctx context.Context, kind event.Kind, trace string) {
	snap, gen := d.snapshotGen()
	d.dispatches.Add(1)

	var wg sync.WaitGroup
	if d.cfg.Marquee.Enabled && d.marquee != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.dispatchMarquee(ctx, kind, snap, gen, trace)
		}()
	}
	if d.cfg.DMD.Enabled && d.matrix != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.dispatchMatrix(ctx, kind, snap, gen, trace)
		}()
	}
	wg.Wait()
}

func (d *Director) dispatchMarquee(ctx context.Context, kind event.Kind, snap GameContext, gen uint64, trace string) {
	path, err := d.resolveAsset(ctx, media.SurfaceMarquee, kind, snap, d.cfg.Marquee.LoadingImage, d.cfg.Marquee.DefaultImage)
	if err != nil || path == "" {
		return
	}
	if ctx.Err() != nil || !d.stillCurrent(gen) {
		slog.Debug("core: marquee display aborted, context changed", "path", path, "trace", trace)
		return
	}
	if err := d.marquee.DisplayAsset(ctx, path, isAnimated(path)); err != nil {
		slog.Error("core: marquee display failed", "path", path, "trace", trace, "error", err)
	}
}

func (d *Director) dispatchMatrix(ctx context.Context, kind event.Kind, snap GameContext, gen uint64, trace string) {
	path, err := d.resolveAsset(ctx, media.SurfaceDMD, kind, snap, d.cfg.DMD.LoadingImage, d.cfg.DMD.DefaultImage)
	if err != nil || path == "" {
		return
	}
	if ctx.Err() != nil || !d.stillCurrent(gen) {
		slog.Debug("core: dmd display aborted, context changed", "path", path, "trace", trace)
		return
	}
	d.showOnMatrix(ctx, path, snap.System, snap.GameName, trace)
}

// resolveAsset walks the fallback chain for one surface: (loading for
// game start) → game → system → configured default. Each escalation is
// logged once; a fully exhausted chain returns the default path, which
// may be empty.
func (d *Director) resolveAsset(ctx context.Context, surface media.Surface, kind event.Kind, snap GameContext, loading, fallback string) (string, error) {
	if kind == event.KindGameStart && loading != "" {
		if path, err := d.finder.FindLoading(ctx, surface, snap.System, snap.GameName); err == nil && path != "" {
			return path, nil
		} else if err != nil {
			return "", err
		}
	}

	if snap.GameName != "" && kind != event.KindSystemSelected {
		path, err := d.finder.FindGame(ctx, surface, snap.System, snap.GameName, snap.ROMPath)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
		d.fallbacks.Add(1)
		slog.Warn("core: no game asset, falling back to system",
			"surface", surface, "system", snap.System, "game", snap.GameName)
	}

	if snap.System != "" {
		path, err := d.finder.FindSystem(ctx, surface, snap.System)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
		d.fallbacks.Add(1)
		slog.Warn("core: no system asset, falling back to default",
			"surface", surface, "system", snap.System)
	}

	if kind == event.KindGameStart && loading != "" && fallback == "" {
		return loading, nil
	}
	return fallback, nil
}

// showOnMatrix plays a file on the matrix, either by handing the path
// to the daemon or, in frame mode, by decoding locally and streaming
// raw frames.
func (d *Director) showOnMatrix(ctx context.Context, path, system, game, trace string) {
	if d.cfg.DMD.FrameMode && d.renderers != nil {
		d.frameSlot.Replace(ctx, func(ctx context.Context) {
			r, err := d.renderers(path)
			if err != nil {
				slog.Error("core: dmd frame renderer build failed", "path", path, "error", err)
				return
			}
			if err := r.Start(ctx); err != nil {
				slog.Error("core: dmd frame renderer start failed", "path", path, "error", err)
				return
			}
			<-ctx.Done()
			r.Stop()
		})
		return
	}
	if err := d.matrix.Play(ctx, path, system, game); err != nil {
		slog.Error("core: dmd play failed", "path", path, "trace", trace, "error", err)
	}
}

func (d *Director) isPinballSystem(system string) bool {
	for _, s := range d.cfg.Marquee.PinballSystems {
		if strings.EqualFold(s, system) {
			return true
		}
	}
	return false
}

// isAnimated decides whether a marquee asset should loop.
func isAnimated(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mkv", ".avi", ".webm", ".gif":
		return true
	}
	return false
}
