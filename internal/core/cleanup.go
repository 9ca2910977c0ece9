package core

import (
	"context"
	"log/slog"
)

// Cleanup is the unified teardown run on game end (and before
// shutdown's surface release): it cancels every cycle generation,
// clears both surfaces, and resets the session state. Idempotent;
// calling it twice leaves the same end state as calling it once.
//
// Ordering matters: the cycle slots are stopped before the surfaces
// are cleared, so no cancelled loop can repopulate a slot or the plane
// behind the clear.
func (d *Director) Cleanup(ctx context.Context) {
	d.cycles.stopAll()
	d.notifySlot.Stop()
	d.frameSlot.Stop()
	d.reactor.endSuppression()

	if d.marquee != nil {
		d.marquee.ClearAllOverlays(ctx)
	}
	if d.matrix != nil {
		if err := d.matrix.ClearOverlay(ctx); err != nil {
			slog.Debug("core: cleanup dmd overlay clear failed", "error", err)
		}
		if err := d.matrix.ClearPlane(ctx); err != nil {
			slog.Debug("core: cleanup dmd plane clear failed", "error", err)
		}
	}

	d.challenges.Clear()
	d.session.Clear()
	d.presence.clear()

	d.mutateContext(func(g *GameContext) {
		*g = GameContext{}
	})
	slog.Info("core: cleanup complete")
}
