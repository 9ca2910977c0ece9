package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/config"
	"github.com/e7canasta/lumen-marquee/internal/dmd"
	"github.com/e7canasta/lumen-marquee/internal/event"
	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
	"github.com/e7canasta/lumen-marquee/internal/retro"
)

// fakeFinder resolves assets from in-memory maps, with an optional
// artificial lookup delay for race tests.
type fakeFinder struct {
	mu      sync.Mutex
	games   map[string]string // "system/game" -> path
	systems map[string]string
	loading map[string]string
	delay   time.Duration
}

func newFakeFinder() *fakeFinder {
	return &fakeFinder{
		games:   make(map[string]string),
		systems: make(map[string]string),
		loading: make(map[string]string),
	}
}

func (f *fakeFinder) sleep(ctx context.Context) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay == 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (f *fakeFinder) FindGame(ctx context.Context, _ media.Surface, system, game, _ string) (string, error) {
	if err := f.sleep(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.games[system+"/"+game], nil
}

func (f *fakeFinder) FindSystem(ctx context.Context, _ media.Surface, system string) (string, error) {
	if err := f.sleep(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.systems[system], nil
}

func (f *fakeFinder) FindLoading(ctx context.Context, _ media.Surface, system, game string) (string, error) {
	if err := f.sleep(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading[system+"/"+game], nil
}

// fakeComposer returns deterministic paths describing what was asked.
type fakeComposer struct{}

func (fakeComposer) ComposeMarquee(_ context.Context, req media.ComposeRequest) (string, error) {
	return fmt.Sprintf("compose:%d,%d,%d,%d", req.FanartX, req.FanartY, req.LogoX, req.LogoY), nil
}

func (fakeComposer) ComposeBadgeRibbon(_ context.Context, surface media.Surface, badges []media.Badge, _ bool) (string, error) {
	return fmt.Sprintf("ribbon:%s:%d:%s", surface, len(badges), badges[0].Title), nil
}

func (fakeComposer) ComposeChallengeCard(_ context.Context, surface media.Surface, card media.ChallengeCard) (string, error) {
	return fmt.Sprintf("challenge:%s:%s=%s", surface, card.Title, card.Value), nil
}

func (fakeComposer) ComposeStatText(_ context.Context, surface media.Surface, label, value string) (string, error) {
	return fmt.Sprintf("stat:%s:%s=%s", surface, label, value), nil
}

func (fakeComposer) ComposeUnlockCard(_ context.Context, surface media.Surface, title, _ string) (string, error) {
	return fmt.Sprintf("unlock:%s:%s", surface, title), nil
}

func (fakeComposer) CaptureVideoFrame(_ context.Context, video string, at float64, _ media.VideoOffsets) (string, error) {
	return fmt.Sprintf("frame:%s@%.1f", video, at), nil
}

func (fakeComposer) GenerateVideo(_ context.Context, video string, _ media.VideoOffsets) (string, error) {
	return "generated:" + video, nil
}

// fakeMarquee records display and overlay calls.
type fakeMarquee struct {
	mu        sync.Mutex
	displays  []string
	overlays  map[marquee.OverlaySlot]string
	aligns    map[marquee.OverlaySlot]marquee.Alignment
	playback  float64
	suspended bool
}

func newFakeMarquee() *fakeMarquee {
	return &fakeMarquee{
		overlays: make(map[marquee.OverlaySlot]string),
		aligns:   make(map[marquee.OverlaySlot]marquee.Alignment),
		playback: 7.5,
	}
}

func (m *fakeMarquee) Display(_ context.Context, path string, _ marquee.DisplayOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended {
		return nil
	}
	m.displays = append(m.displays, path)
	return nil
}

func (m *fakeMarquee) DisplayAsset(ctx context.Context, path string, loop bool) error {
	return m.Display(ctx, path, marquee.DisplayOptions{Loop: loop})
}

func (m *fakeMarquee) OverlayAsset(_ context.Context, path string, slot marquee.OverlaySlot, align marquee.Alignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlays[slot] = path
	m.aligns[slot] = align
	return nil
}

func (m *fakeMarquee) OverlayAssetTimed(ctx context.Context, path string, slot marquee.OverlaySlot, align marquee.Alignment, _ time.Duration) error {
	return m.OverlayAsset(ctx, path, slot, align)
}

func (m *fakeMarquee) RemoveOverlay(_ context.Context, slot marquee.OverlaySlot, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overlays, slot)
	return nil
}

func (m *fakeMarquee) ClearAllOverlays(ctx context.Context) {
	for _, slot := range marquee.AllSlots() {
		m.RemoveOverlay(ctx, slot, true)
	}
}

func (m *fakeMarquee) PlaybackTime(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback, nil
}

func (m *fakeMarquee) Suspend(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = true
	return nil
}

func (m *fakeMarquee) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = false
}

func (m *fakeMarquee) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

func (m *fakeMarquee) displayed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.displays))
	copy(out, m.displays)
	return out
}

func (m *fakeMarquee) overlayAt(slot marquee.OverlaySlot) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlays[slot]
}

func (m *fakeMarquee) overlayCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.overlays)
}

func (m *fakeMarquee) alignAt(slot marquee.OverlaySlot) marquee.Alignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aligns[slot]
}

// fakeMatrix records plane/overlay/play calls.
type fakeMatrix struct {
	mu       sync.Mutex
	plays    []string
	plane    string
	planeLog []string
	overlay  string
	notifies int
}

func (m *fakeMatrix) Play(_ context.Context, path, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays = append(m.plays, path)
	return nil
}

func (m *fakeMatrix) SetOverlay(_ context.Context, path string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = path
	return nil
}

func (m *fakeMatrix) ClearOverlay(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = ""
	return nil
}

func (m *fakeMatrix) SetPlane(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plane = path
	m.planeLog = append(m.planeLog, path)
	return nil
}

func (m *fakeMatrix) ClearPlane(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plane = ""
	return nil
}

func (m *fakeMatrix) PlayNotificationSequence(_ context.Context, steps ...dmd.NotifyStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifies++
	return nil
}

func (m *fakeMatrix) currentPlane() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plane
}

func testConfig() *config.Config {
	return &config.Config{
		InstanceID:       "test",
		ShutdownTimeoutS: 5,
		Marquee: config.MarqueeConfig{
			Enabled:      true,
			MPVSocket:    "/tmp/unused.sock",
			DefaultImage: "/media/default.png",
		},
		DMD: config.DMDConfig{
			Enabled:      true,
			Address:      "/tmp/unused-dmd.sock",
			Width:        128,
			Height:       32,
			DefaultImage: "/media/dmd-default.png",
		},
		Timing: config.TimingConfig{
			DebounceMS:           30,
			CycleDwellS:          1,
			NotificationTimeoutS: 2,
			NarrativeClearS:      1,
		},
	}
}

type testRig struct {
	d      *Director
	mq     *fakeMarquee
	mx     *fakeMatrix
	finder *fakeFinder
	feed   *retro.Feed
	events chan event.Event
	cancel context.CancelFunc
}

func newTestRig(t *testing.T, cfg *config.Config) *testRig {
	t.Helper()
	mq := newFakeMarquee()
	mx := &fakeMatrix{}
	finder := newFakeFinder()
	feed := retro.NewFeed(64)

	d, err := NewDirector(Options{
		Config:   cfg,
		Marquee:  mq,
		Matrix:   mx,
		Finder:   finder,
		Composer: fakeComposer{},
		Feed:     feed,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan event.Event, 64)
	if err := d.Start(ctx, events); err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		d.Stop()
		cancel()
	})
	return &testRig{d: d, mq: mq, mx: mx, finder: finder, feed: feed, events: events, cancel: cancel}
}

func navEvent(kind event.Kind, params ...string) event.Event {
	ev := event.Event{Kind: kind, Raw: kind.String(), TraceID: "test"}
	copy(ev.Params[:], params)
	return ev
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDebounceBurstDisplaysOnlyLast(t *testing.T) {
	rig := newTestRig(t, testConfig())
	for i := 1; i <= 5; i++ {
		rig.finder.systems[fmt.Sprintf("sys%d", i)] = fmt.Sprintf("/media/sys%d.png", i)
	}

	// 5 selections inside 100ms with a 30ms quiet window: only the
	// last survives
	for i := 1; i <= 5; i++ {
		rig.events <- navEvent(event.KindSystemSelected, fmt.Sprintf("sys%d", i))
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool { return len(rig.mq.displayed()) > 0 })
	time.Sleep(100 * time.Millisecond) // no trailing displays

	displays := rig.mq.displayed()
	if len(displays) != 1 {
		t.Fatalf("displays = %v, want exactly one", displays)
	}
	if displays[0] != "/media/sys5.png" {
		t.Errorf("displayed %s, want the last system's media", displays[0])
	}
}

func TestGameAssetFallbackChain(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.finder.systems["snes"] = "/media/snes.png"

	// Unknown game falls back to the system asset
	rig.events <- navEvent(event.KindGameSelected, "snes", "obscure", "/roms/obscure.sfc")
	waitFor(t, 2*time.Second, func() bool { return len(rig.mq.displayed()) > 0 })
	if got := rig.mq.displayed()[0]; got != "/media/snes.png" {
		t.Errorf("displayed %s, want system fallback", got)
	}

	// Unknown system falls through to the configured default
	rig.events <- navEvent(event.KindSystemSelected, "nowhere")
	waitFor(t, 2*time.Second, func() bool { return len(rig.mq.displayed()) > 1 })
	if got := rig.mq.displayed()[1]; got != "/media/default.png" {
		t.Errorf("displayed %s, want configured default", got)
	}
}

func TestRaceGuardDropsStaleLookup(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.finder.mu.Lock()
	rig.finder.delay = 150 * time.Millisecond
	rig.finder.systems["snes"] = "/media/snes.png"
	rig.finder.games["snes/slowpoke"] = "/media/slowpoke.png"
	rig.finder.games["snes/axelay"] = "/media/axelay.png"
	rig.finder.mu.Unlock()

	// The selection's slow lookup for one game is still in flight when
	// a different game starts; the stale result must never reach a
	// surface
	rig.events <- navEvent(event.KindGameSelected, "snes", "slowpoke", "/roms/slowpoke.sfc")
	time.Sleep(60 * time.Millisecond) // past the quiet window, inside the lookup
	rig.events <- navEvent(event.KindGameStart, "snes", "axelay", "/roms/axelay.sfc")

	waitFor(t, 2*time.Second, func() bool { return len(rig.mq.displayed()) > 0 })
	time.Sleep(300 * time.Millisecond)

	for _, p := range rig.mq.displayed() {
		if p == "/media/slowpoke.png" {
			t.Fatalf("stale selection lookup displayed after game start: %v", rig.mq.displayed())
		}
	}
	snap := rig.d.Snapshot()
	if !snap.IsRunning || snap.GameName != "axelay" {
		t.Errorf("context = %+v, want running axelay", snap)
	}
}

func TestGameEndScenarioCleansEverything(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.finder.systems["snes"] = "/media/snes.png"

	rig.events <- navEvent(event.KindGameStart, "snes", "axelay", "/roms/axelay.sfc")
	waitFor(t, 2*time.Second, func() bool { return rig.d.Snapshot().IsRunning })

	// Score overlay on its slot and a badge cycle owning the DMD plane
	rig.feed.Publish(retro.Event{Type: retro.EventSessionStart, Achievements: []retro.Achievement{
		{ID: 1, Title: "One", DisplayOrder: 1},
		{ID: 2, Title: "Two", DisplayOrder: 2},
	}})
	rig.feed.Publish(retro.Event{Type: retro.EventPresenceUpdated, Presence: map[string]string{"Score": "12345"}})

	scoreSlot := marquee.SlotFor(marquee.ConcernScore)
	waitFor(t, 2*time.Second, func() bool {
		return rig.mq.overlayAt(scoreSlot) != "" && rig.mx.currentPlane() != ""
	})

	rig.events <- navEvent(event.KindGameEnd)
	waitFor(t, 2*time.Second, func() bool { return !rig.d.Snapshot().IsRunning })
	waitFor(t, 2*time.Second, func() bool { return rig.mx.currentPlane() == "" })

	if rig.mq.overlayAt(scoreSlot) != "" {
		t.Error("score overlay survived cleanup")
	}
	if n := rig.mq.overlayCount(); n != 0 {
		t.Errorf("overlay count after cleanup = %d, want 0", n)
	}
	snap := rig.d.Snapshot()
	if snap.System != "" || snap.GameName != "" || snap.IsRunning {
		t.Errorf("context after cleanup = %+v, want empty", snap)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	rig.mq.OverlayAsset(ctx, "/x.png", marquee.SlotFor(marquee.ConcernScore), marquee.AlignTopRight)
	rig.mx.SetPlane(ctx, "/plane.png")

	rig.d.Cleanup(ctx)
	first := rig.d.Snapshot()
	rig.d.Cleanup(ctx)
	second := rig.d.Snapshot()

	if first != second {
		t.Errorf("cleanup not idempotent: %+v vs %+v", first, second)
	}
	if rig.mq.overlayCount() != 0 || rig.mx.currentPlane() != "" {
		t.Error("surfaces not cleared")
	}
}

func TestPinballSystemSuspendsMarquee(t *testing.T) {
	cfg := testConfig()
	cfg.Marquee.PinballSystems = []string{"vpinball"}
	rig := newTestRig(t, cfg)

	rig.events <- navEvent(event.KindGameStart, "vpinball", "medieval", "/tables/medieval.vpx")
	waitFor(t, 2*time.Second, func() bool { return rig.mq.Suspended() })

	rig.events <- navEvent(event.KindGameEnd)
	waitFor(t, 2*time.Second, func() bool { return !rig.mq.Suspended() })
}

func TestUnlockNotificationSuppressesPresence(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.feed.Publish(retro.Event{Type: retro.EventSessionStart, Achievements: []retro.Achievement{
		{ID: 1, Title: "Ring Collector", BadgePath: "/badges/1.png", DisplayOrder: 1},
	}})
	rig.feed.Publish(retro.Event{Type: retro.EventUnlock, Achievement: &retro.Achievement{
		ID: 1, Title: "Ring Collector", BadgePath: "/badges/1.png",
	}})

	notifSlot := marquee.SlotFor(marquee.ConcernNotification)
	waitFor(t, 2*time.Second, func() bool { return rig.mq.overlayAt(notifSlot) != "" })

	// Presence during the notification must not paint the score slot
	rig.feed.Publish(retro.Event{Type: retro.EventPresenceUpdated, Presence: map[string]string{"Score": "999"}})
	time.Sleep(100 * time.Millisecond)
	if got := rig.mq.overlayAt(marquee.SlotFor(marquee.ConcernScore)); got != "" {
		t.Errorf("suppressed presence still painted score slot: %s", got)
	}

	unlocked, total := rig.d.session.Counts()
	if unlocked != 1 || total != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", unlocked, total)
	}
}

func TestGameStartGraceSwallowsNavigation(t *testing.T) {
	cfg := testConfig()
	cfg.Timing.GameStartGraceMS = 300
	rig := newTestRig(t, cfg)
	rig.finder.games["snes/axelay"] = "/media/axelay.png"
	rig.finder.systems["sys1"] = "/media/sys1.png"

	rig.events <- navEvent(event.KindGameStart, "snes", "axelay", "/roms/axelay.sfc")
	waitFor(t, 2*time.Second, func() bool { return rig.d.Snapshot().IsRunning })

	// The frontend echoes a selection right after the launch; inside the
	// grace window it must not repaint over the starting game
	rig.events <- navEvent(event.KindSystemSelected, "sys1")
	time.Sleep(150 * time.Millisecond)
	for _, p := range rig.mq.displayed() {
		if p == "/media/sys1.png" {
			t.Fatalf("navigation inside grace window was dispatched: %v", rig.mq.displayed())
		}
	}
	if snap := rig.d.Snapshot(); !snap.IsRunning || snap.GameName != "axelay" {
		t.Errorf("context = %+v, want running axelay", snap)
	}

	// Past the window, navigation flows again
	time.Sleep(250 * time.Millisecond)
	rig.events <- navEvent(event.KindSystemSelected, "sys1")
	waitFor(t, 2*time.Second, func() bool {
		for _, p := range rig.mq.displayed() {
			if p == "/media/sys1.png" {
				return true
			}
		}
		return false
	})
}

func TestGameEndPassesDuringGraceWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Timing.GameStartGraceMS = 2000
	rig := newTestRig(t, cfg)

	rig.events <- navEvent(event.KindGameStart, "snes", "axelay", "/roms/axelay.sfc")
	waitFor(t, 2*time.Second, func() bool { return rig.d.Snapshot().IsRunning })

	// A quick quit lands well inside the window and must never be dropped
	rig.events <- navEvent(event.KindGameEnd)
	waitFor(t, 2*time.Second, func() bool { return !rig.d.Snapshot().IsRunning })
}

func TestUnlockNoticeDelivered(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.feed.Publish(retro.Event{Type: retro.EventSessionStart, Hardcore: true, Achievements: []retro.Achievement{
		{ID: 7, Title: "Speedrunner", BadgePath: "/badges/7.png", DisplayOrder: 1},
	}})
	rig.feed.Publish(retro.Event{Type: retro.EventUnlock, Achievement: &retro.Achievement{
		ID: 7, Title: "Speedrunner", BadgePath: "/badges/7.png",
	}})

	select {
	case u := <-rig.d.Unlocks():
		if u.ID != 7 || u.Title != "Speedrunner" || !u.Hardcore {
			t.Errorf("notice = %+v, want id 7 Speedrunner hardcore", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for unlock notice")
	}
}

func TestCountAndScoreUseDifferentCorners(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.feed.Publish(retro.Event{Type: retro.EventSessionStart, Achievements: []retro.Achievement{
		{ID: 1, Title: "One", DisplayOrder: 1, Unlocked: true},
		{ID: 2, Title: "Two", DisplayOrder: 2},
	}})
	rig.feed.Publish(retro.Event{Type: retro.EventPresenceUpdated, Presence: map[string]string{"Score": "12345"}})

	countSlot := marquee.SlotFor(marquee.ConcernCount)
	scoreSlot := marquee.SlotFor(marquee.ConcernScore)
	waitFor(t, 2*time.Second, func() bool {
		return rig.mq.overlayAt(countSlot) != "" && rig.mq.overlayAt(scoreSlot) != ""
	})

	if rig.mq.alignAt(countSlot) == rig.mq.alignAt(scoreSlot) {
		t.Errorf("count and score overlays share alignment %v and would stack",
			rig.mq.alignAt(countSlot))
	}
}
