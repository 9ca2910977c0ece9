package core

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
	"github.com/e7canasta/lumen-marquee/internal/retro"
	"github.com/e7canasta/lumen-marquee/internal/task"
)

// Visual capacity of a badge ribbon per surface.
const (
	marqueeBadgeCapacity = 5
	dmdBadgeCapacity     = 3
)

// Refresh behavior of live-valued challenges.
const (
	challengeRefreshTick  = 1 * time.Second
	challengeRefreshTicks = 5
)

// cycleManager owns the rotation loops. One task.Slot per concern per
// surface; replacing a slot always cancels the previous generation
// before the new one writes, which is what keeps the marquee slot table
// and the single DMD plane free of interleaved writers.
type cycleManager struct {
	d     *Director
	dwell time.Duration

	marqueeBadges     *task.Slot
	marqueeStats      *task.Slot
	marqueeChallenges *task.Slot

	// The matrix has one persistent plane; these three compete for it
	// and must go through acquirePlane before writing.
	dmdBadges     *task.Slot
	dmdStats      *task.Slot
	dmdChallenges *task.Slot

	previewSlot *task.Slot

	planeMu    sync.Mutex
	planeOwner *task.Slot
}

func newCycleManager(d *Director) *cycleManager {
	return &cycleManager{
		d:                 d,
		dwell:             d.cfg.CycleDwell(),
		marqueeBadges:     task.NewSlot("marquee-badges"),
		marqueeStats:      task.NewSlot("marquee-stats"),
		marqueeChallenges: task.NewSlot("marquee-challenges"),
		dmdBadges:         task.NewSlot("dmd-badges"),
		dmdStats:          task.NewSlot("dmd-stats"),
		dmdChallenges:     task.NewSlot("dmd-challenges"),
		previewSlot:       task.NewSlot("preview"),
	}
}

func (m *cycleManager) stopAll() {
	m.planeMu.Lock()
	m.planeOwner = nil
	m.planeMu.Unlock()
	m.marqueeBadges.Stop()
	m.marqueeStats.Stop()
	m.marqueeChallenges.Stop()
	m.dmdBadges.Stop()
	m.dmdStats.Stop()
	m.dmdChallenges.Stop()
	m.previewSlot.Stop()
}

func (m *cycleManager) generations() uint64 {
	return m.marqueeBadges.Generation() + m.marqueeStats.Generation() +
		m.marqueeChallenges.Generation() + m.dmdBadges.Generation() +
		m.dmdStats.Generation() + m.dmdChallenges.Generation() +
		m.previewSlot.Generation()
}

// acquirePlane stops the other DMD plane owners so the winner is the
// plane's only writer. Cancel-then-set, never concurrent.
func (m *cycleManager) acquirePlane(winner *task.Slot) {
	m.planeMu.Lock()
	m.planeOwner = winner
	m.planeMu.Unlock()
	for _, s := range []*task.Slot{m.dmdBadges, m.dmdStats, m.dmdChallenges} {
		if s != winner {
			s.Stop()
		}
	}
}

func (m *cycleManager) ownsPlane(s *task.Slot) bool {
	m.planeMu.Lock()
	defer m.planeMu.Unlock()
	return m.planeOwner == s
}

// clearChallengeCard stops the challenge rotation and removes its card.
// On the matrix the plane is cleared only when the challenge concern
// still owns it, so another owner's content is never wiped.
func (m *cycleManager) clearChallengeCard(ctx context.Context, surface media.Surface) {
	if surface == media.SurfaceDMD {
		m.dmdChallenges.Stop()
		if m.ownsPlane(m.dmdChallenges) {
			m.clearConcern(ctx, surface, marquee.ConcernChallenge)
		}
		return
	}
	m.marqueeChallenges.Stop()
	m.clearConcern(ctx, surface, marquee.ConcernChallenge)
}

// groupBadges sorts by display order and partitions into consecutive
// groups of at most capacity.
func groupBadges(badges []media.Badge, capacity int) [][]media.Badge {
	if len(badges) == 0 || capacity <= 0 {
		return nil
	}
	sorted := make([]media.Badge, len(badges))
	copy(sorted, badges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})

	groups := make([][]media.Badge, 0, (len(sorted)+capacity-1)/capacity)
	for start := 0; start < len(sorted); start += capacity {
		end := start + capacity
		if end > len(sorted) {
			end = len(sorted)
		}
		groups = append(groups, sorted[start:end])
	}
	return groups
}

func sessionBadges(s *retro.Session) []media.Badge {
	achievements := s.Achievements()
	badges := make([]media.Badge, 0, len(achievements))
	for _, a := range achievements {
		badges = append(badges, media.Badge{
			ImagePath:    a.BadgePath,
			Title:        a.Title,
			Unlocked:     a.Unlocked,
			DisplayOrder: a.DisplayOrder,
		})
	}
	return badges
}

// startBadgeCycle (re)starts the badge ribbon rotation on one surface.
// Every group is composed once up front; the loop only re-displays
// finished images. Zero groups shows nothing, one group is shown once
// as a static overlay and never cycled.
func (m *cycleManager) startBadgeCycle(ctx context.Context, surface media.Surface) {
	slot := m.marqueeBadges
	if surface == media.SurfaceDMD {
		slot = m.dmdBadges
		m.acquirePlane(slot)
	}

	badges := sessionBadges(m.d.session)
	hardcore := m.d.session.Hardcore()
	capacity := marqueeBadgeCapacity
	if surface == media.SurfaceDMD {
		capacity = dmdBadgeCapacity
	}
	groups := groupBadges(badges, capacity)

	slot.Replace(ctx, func(ctx context.Context) {
		if len(groups) == 0 {
			return
		}

		composed := make([]string, 0, len(groups))
		for _, group := range groups {
			path, err := m.d.composer.ComposeBadgeRibbon(ctx, surface, group, hardcore)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("core: badge ribbon compose failed", "surface", surface, "error", err)
				}
				return
			}
			if path != "" {
				composed = append(composed, path)
			}
		}
		if len(composed) == 0 {
			return
		}

		if len(composed) == 1 {
			m.displayPlaneItem(ctx, surface, marquee.ConcernBadges, composed[0])
			return
		}
		for i := 0; ; i++ {
			m.displayPlaneItem(ctx, surface, marquee.ConcernBadges, composed[i%len(composed)])
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.dwell):
			}
		}
	})
}

// startStatRotation (re)starts the generic-stat rotation on one
// surface. The index advances modulo the live snapshot length, so stats
// appearing or vanishing mid-rotation never restart the generation.
func (m *cycleManager) startStatRotation(ctx context.Context, surface media.Surface) {
	slot := m.marqueeStats
	if surface == media.SurfaceDMD {
		slot = m.dmdStats
		m.acquirePlane(slot)
	}

	slot.Replace(ctx, func(ctx context.Context) {
		for i := 0; ; i++ {
			stats := m.d.presence.genericSnapshot()
			if len(stats) == 0 {
				return
			}
			item := stats[i%len(stats)]
			path, err := m.d.composer.ComposeStatText(ctx, surface, item.Label, item.Value)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("core: stat compose failed", "surface", surface, "error", err)
				}
				return
			}
			if path != "" {
				m.displayPlaneItem(ctx, surface, marquee.ConcernStatItem, path)
			}
			if len(stats) == 1 {
				// Single stat: static display, no rotation flicker
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.dwell):
			}
		}
	})
}

// startChallengeCycle (re)starts the challenge rotation on one surface.
// Timer and Leaderboard challenges re-compose every second for five
// seconds so their value visibly moves; other types dwell untouched.
func (m *cycleManager) startChallengeCycle(ctx context.Context, surface media.Surface) {
	slot := m.marqueeChallenges
	if surface == media.SurfaceDMD {
		slot = m.dmdChallenges
		m.acquirePlane(slot)
	}

	slot.Replace(ctx, func(ctx context.Context) {
		for {
			active := m.d.challenges.SnapshotActive()
			if len(active) == 0 {
				m.clearConcern(ctx, surface, marquee.ConcernChallenge)
				return
			}
			if len(active) == 1 && !refreshesLive(active[0].Type) {
				// A single steady challenge is a static card; the next
				// ChallengeUpdated restarts the cycle when it moves
				m.paintChallenge(ctx, surface, active[0])
				return
			}
			for _, ch := range active {
				if !m.showChallenge(ctx, surface, ch) {
					return
				}
			}
		}
	})
}

// refreshesLive reports whether a challenge's value moves on its own
// and needs per-tick recomposition while displayed.
func refreshesLive(t retro.ChallengeType) bool {
	return t == retro.ChallengeTimer || t == retro.ChallengeLeaderboard
}

// showChallenge displays one challenge for its dwell period, refreshing
// live-valued types each tick. Returns false when cancelled.
func (m *cycleManager) showChallenge(ctx context.Context, surface media.Surface, ch retro.Challenge) bool {
	refreshing := refreshesLive(ch.Type)
	ticks := 1
	wait := m.dwell
	if refreshing {
		ticks = challengeRefreshTicks
		wait = challengeRefreshTick
	}

	for t := 0; t < ticks; t++ {
		current := ch
		if refreshing {
			// Pull the live value; the entry may have gone inactive
			found := false
			for _, c := range m.d.challenges.SnapshotActive() {
				if c.AchievementID == ch.AchievementID {
					current, found = c, true
					break
				}
			}
			if !found {
				return ctx.Err() == nil
			}
		}

		if !m.paintChallenge(ctx, surface, current) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
	return true
}

// paintChallenge composes and displays one challenge card. Returns
// false on a compose failure.
func (m *cycleManager) paintChallenge(ctx context.Context, surface media.Surface, ch retro.Challenge) bool {
	card := media.ChallengeCard{
		Title:       ch.Title,
		Description: ch.Description,
		Value:       ch.CurrentValue,
		BadgePath:   ch.BadgePath,
	}
	path, err := m.d.composer.ComposeChallengeCard(ctx, surface, card)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("core: challenge compose failed", "surface", surface, "error", err)
		}
		return false
	}
	if path != "" {
		m.displayPlaneItem(ctx, surface, marquee.ConcernChallenge, path)
	}
	return true
}

// displayPlaneItem puts a composed image where the concern lives: its
// marquee overlay slot, or the matrix's persistent plane.
func (m *cycleManager) displayPlaneItem(ctx context.Context, surface media.Surface, concern marquee.Concern, path string) {
	switch surface {
	case media.SurfaceMarquee:
		if m.d.marquee == nil {
			return
		}
		if err := m.d.marquee.OverlayAsset(ctx, path, marquee.SlotFor(concern), marquee.AlignBottomCenter); err != nil && ctx.Err() == nil {
			slog.Warn("core: cycle overlay failed", "concern", concern, "path", path, "error", err)
		}
	case media.SurfaceDMD:
		if m.d.matrix == nil {
			return
		}
		if err := m.d.matrix.SetPlane(ctx, path); err != nil && ctx.Err() == nil {
			slog.Warn("core: cycle plane update failed", "concern", concern, "path", path, "error", err)
		}
	}
}

// clearConcern removes a concern's output on exit, for loops that clear
// rather than leave the last frame.
func (m *cycleManager) clearConcern(ctx context.Context, surface media.Surface, concern marquee.Concern) {
	switch surface {
	case media.SurfaceMarquee:
		if m.d.marquee == nil {
			return
		}
		if err := m.d.marquee.RemoveOverlay(ctx, marquee.SlotFor(concern), true); err != nil && ctx.Err() == nil {
			slog.Debug("core: concern clear failed", "concern", concern, "error", err)
		}
	case media.SurfaceDMD:
		if m.d.matrix == nil {
			return
		}
		if err := m.d.matrix.ClearPlane(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("core: plane clear failed", "concern", concern, "error", err)
		}
	}
}
