package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/dmd"
	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
	"github.com/e7canasta/lumen-marquee/internal/retro"
)

// Unlock notification pacing.
const (
	notifyCupDuration  = 2 * time.Second
	notifyCardDuration = 4 * time.Second
)

// reactor is the single consumer of achievement-service events. It only
// glues events to actions: session state, the cycle manager, and
// one-shot notifications.
type reactor struct {
	d *Director

	// suppress blocks presence overlays while an unlock notification is
	// on screen; a safety timer clears it even if the notification path
	// never completes.
	suppress      atomic.Bool
	suppressMu    sync.Mutex
	suppressTimer *time.Timer
}

func newReactor(d *Director) *reactor {
	return &reactor{d: d}
}

func (r *reactor) run(ctx context.Context, events <-chan retro.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("core: achievement feed closed")
				return
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *reactor) handle(ctx context.Context, ev retro.Event) {
	switch ev.Type {
	case retro.EventSessionStart:
		r.onSessionStart(ctx, ev)
	case retro.EventUnlock:
		r.onUnlock(ctx, ev)
	case retro.EventHardcoreChanged:
		r.onHardcoreChanged(ctx, ev)
	case retro.EventPresenceUpdated:
		r.onPresence(ctx, ev)
	case retro.EventChallengeUpdated:
		r.onChallenge(ctx, ev)
	}
}

func (r *reactor) onSessionStart(ctx context.Context, ev retro.Event) {
	r.d.session.Begin(ev.Achievements, ev.Hardcore)
	slog.Info("core: achievement session started",
		"achievements", len(ev.Achievements), "hardcore", ev.Hardcore)

	for _, surface := range r.d.surfaces() {
		r.d.cycles.startBadgeCycle(ctx, surface)
	}
	r.updateCountOverlay(ctx)
}

func (r *reactor) onUnlock(ctx context.Context, ev retro.Event) {
	if ev.Achievement == nil {
		return
	}
	a := *ev.Achievement
	r.d.session.MarkUnlocked(a.ID)
	slog.Info("core: achievement unlocked", "id", a.ID, "title", a.Title)

	select {
	case r.d.unlocks <- UnlockNotice{ID: a.ID, Title: a.Title, Hardcore: r.d.session.Hardcore()}:
	default:
	}

	r.beginSuppression()

	// The notification owns its slot: a second unlock replaces the
	// first instead of stacking. The surface badge cycles are cancelled
	// before the sequence and restarted after it, so they never race
	// the notification for the plane or the ribbon slot.
	r.d.notifySlot.Replace(ctx, func(ctx context.Context) {
		defer r.endSuppression()

		if r.d.cfg.DMD.Enabled && r.d.matrix != nil {
			r.d.cycles.dmdBadges.Stop()
			steps := make([]dmd.NotifyStep, 0, 2)
			if cup := r.d.cfg.Media.UnlockCup; cup != "" {
				steps = append(steps, dmd.NotifyStep{ImagePath: cup, DurationMS: int(notifyCupDuration.Milliseconds())})
			}
			steps = append(steps, dmd.NotifyStep{
				ImagePath:  a.BadgePath,
				Text:       a.Title,
				DurationMS: int(notifyCardDuration.Milliseconds()),
			})
			if err := r.d.matrix.PlayNotificationSequence(ctx, steps...); err != nil {
				slog.Warn("core: dmd unlock notification failed", "error", err)
			}
		}

		if r.d.cfg.Marquee.Enabled && r.d.marquee != nil {
			r.d.cycles.marqueeBadges.Stop()
			card, err := r.d.composer.ComposeUnlockCard(ctx, media.SurfaceMarquee, a.Title, a.BadgePath)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("core: unlock card compose failed", "error", err)
				}
			} else if card != "" {
				slot := marquee.SlotFor(marquee.ConcernNotification)
				if err := r.d.marquee.OverlayAssetTimed(ctx, card, slot, marquee.AlignTopCenter, notifyCardDuration); err != nil {
					slog.Warn("core: unlock overlay failed", "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(notifyCupDuration + notifyCardDuration):
		}

		r.updateCountOverlay(ctx)
		for _, surface := range r.d.surfaces() {
			r.d.cycles.startBadgeCycle(ctx, surface)
		}
	})
}

func (r *reactor) onHardcoreChanged(ctx context.Context, ev retro.Event) {
	r.d.session.SetHardcore(ev.Hardcore)
	slog.Info("core: hardcore mode changed", "hardcore", ev.Hardcore)

	// Every composed overlay carries hardcore labeling, so the cheap
	// consistent move is a full overlay rebuild.
	r.d.cycles.stopAll()
	if r.d.marquee != nil {
		r.d.marquee.ClearAllOverlays(ctx)
	}
	if r.d.matrix != nil {
		if err := r.d.matrix.ClearPlane(ctx); err != nil {
			slog.Debug("core: plane clear failed", "error", err)
		}
		if err := r.d.matrix.ClearOverlay(ctx); err != nil {
			slog.Debug("core: overlay clear failed", "error", err)
		}
	}

	for _, surface := range r.d.surfaces() {
		r.d.cycles.startBadgeCycle(ctx, surface)
		if len(r.d.presence.genericSnapshot()) > 0 {
			r.d.cycles.startStatRotation(ctx, surface)
		}
		if r.d.challenges.Len() > 0 {
			r.d.cycles.startChallengeCycle(ctx, surface)
		}
	}
	r.updateCountOverlay(ctx)
}

func (r *reactor) onPresence(ctx context.Context, ev retro.Event) {
	statsGrew := false
	for key, value := range ev.Presence {
		if concern, fixed := classifyPresenceKey(key); fixed {
			r.showFixedStat(ctx, concern, key, value)
			continue
		}
		if r.d.presence.set(key, value) {
			statsGrew = true
		}
	}

	// The rotation picks up changed values live; it only needs a
	// (re)start when it is not running yet.
	if statsGrew {
		for _, surface := range r.d.surfaces() {
			if surface == media.SurfaceMarquee && !r.d.cycles.marqueeStats.Active() {
				r.d.cycles.startStatRotation(ctx, surface)
			}
			if surface == media.SurfaceDMD && !r.d.cycles.dmdStats.Active() &&
				!r.d.cycles.dmdBadges.Active() && !r.d.cycles.dmdChallenges.Active() {
				r.d.cycles.startStatRotation(ctx, surface)
			}
		}
	}

	if ev.Narrative != "" {
		r.showNarrative(ctx, ev.Narrative)
	}
}

func (r *reactor) onChallenge(ctx context.Context, ev retro.Event) {
	if ev.Challenge == nil {
		return
	}
	r.d.challenges.Update(*ev.Challenge)
	slog.Debug("core: challenge updated",
		"id", ev.Challenge.AchievementID,
		"type", ev.Challenge.Type,
		"active", ev.Challenge.IsActive)

	if r.d.challenges.Len() == 0 {
		// A static card's loop already exited and cannot notice the
		// empty table; clear the card explicitly
		for _, surface := range r.d.surfaces() {
			r.d.cycles.clearChallengeCard(ctx, surface)
		}
		return
	}
	for _, surface := range r.d.surfaces() {
		if surface == media.SurfaceMarquee && !r.d.cycles.marqueeChallenges.Active() {
			r.d.cycles.startChallengeCycle(ctx, surface)
		}
		if surface == media.SurfaceDMD && !r.d.cycles.dmdChallenges.Active() {
			r.d.cycles.startChallengeCycle(ctx, surface)
		}
	}
}

// showFixedStat writes a classified presence pair to its owned slot,
// unless an unlock notification is on screen.
func (r *reactor) showFixedStat(ctx context.Context, concern marquee.Concern, key, value string) {
	if r.suppress.Load() {
		return
	}
	if r.d.marquee == nil || !r.d.cfg.Marquee.Enabled {
		return
	}
	path, err := r.d.composer.ComposeStatText(ctx, media.SurfaceMarquee, key, value)
	if err != nil || path == "" {
		if err != nil && ctx.Err() == nil {
			slog.Warn("core: fixed stat compose failed", "key", key, "error", err)
		}
		return
	}
	if err := r.d.marquee.OverlayAsset(ctx, path, marquee.SlotFor(concern), alignmentFor(concern)); err != nil {
		slog.Warn("core: fixed stat overlay failed", "concern", concern, "error", err)
	}
}

// showNarrative displays the free-text presence line with its own
// auto-clear timer.
func (r *reactor) showNarrative(ctx context.Context, text string) {
	if r.suppress.Load() || r.d.marquee == nil || !r.d.cfg.Marquee.Enabled {
		return
	}
	path, err := r.d.composer.ComposeStatText(ctx, media.SurfaceMarquee, "", text)
	if err != nil || path == "" {
		return
	}
	clearAfter := time.Duration(r.d.cfg.Timing.NarrativeClearS) * time.Second
	slot := marquee.SlotFor(marquee.ConcernNarrative)
	if err := r.d.marquee.OverlayAssetTimed(ctx, path, slot, marquee.AlignBottomCenter, clearAfter); err != nil {
		slog.Warn("core: narrative overlay failed", "error", err)
	}
}

func (r *reactor) updateCountOverlay(ctx context.Context) {
	if r.d.marquee == nil || !r.d.cfg.Marquee.Enabled {
		return
	}
	unlocked, total := r.d.session.Counts()
	if total == 0 {
		return
	}
	path, err := r.d.composer.ComposeStatText(ctx, media.SurfaceMarquee, "", fmt.Sprintf("%d/%d", unlocked, total))
	if err != nil || path == "" {
		return
	}
	// Bottom right: the top-right corner belongs to the fixed score stat
	slot := marquee.SlotFor(marquee.ConcernCount)
	if err := r.d.marquee.OverlayAsset(ctx, path, slot, marquee.AlignBottomRight); err != nil {
		slog.Warn("core: count overlay failed", "error", err)
	}
}

func (r *reactor) beginSuppression() {
	r.suppress.Store(true)
	r.suppressMu.Lock()
	defer r.suppressMu.Unlock()
	if r.suppressTimer != nil {
		r.suppressTimer.Stop()
	}
	timeout := time.Duration(r.d.cfg.Timing.NotificationTimeoutS) * time.Second
	r.suppressTimer = time.AfterFunc(timeout, func() {
		if r.suppress.CompareAndSwap(true, false) {
			slog.Warn("core: notification suppression cleared by safety timeout")
		}
	})
}

func (r *reactor) endSuppression() {
	r.suppress.Store(false)
	r.suppressMu.Lock()
	defer r.suppressMu.Unlock()
	if r.suppressTimer != nil {
		r.suppressTimer.Stop()
		r.suppressTimer = nil
	}
}

// alignmentFor places each fixed presence concern in its own corner so
// simultaneous stats never visually overlap.
func alignmentFor(concern marquee.Concern) marquee.Alignment {
	switch concern {
	case marquee.ConcernScore:
		return marquee.AlignTopRight
	case marquee.ConcernLives:
		return marquee.AlignTopLeft
	case marquee.ConcernWeapon:
		return marquee.AlignBottomLeft
	case marquee.ConcernLap:
		return marquee.AlignTopCenter
	case marquee.ConcernRank:
		return marquee.AlignCenterRight
	default:
		return marquee.AlignCenter
	}
}

// surfaces returns the enabled output surfaces.
func (d *Director) surfaces() []media.Surface {
	out := make([]media.Surface, 0, 2)
	if d.cfg.Marquee.Enabled && d.marquee != nil {
		out = append(out, media.SurfaceMarquee)
	}
	if d.cfg.DMD.Enabled && d.matrix != nil {
		out = append(out, media.SurfaceDMD)
	}
	return out
}
