package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/lumen-marquee/internal/media"
)

// Layer identifies which compositing layer an adjustment targets.
type Layer int

const (
	LayerFanart Layer = iota // background art
	LayerLogo                // foreground logo
)

func (l Layer) String() string {
	if l == LayerLogo {
		return "logo"
	}
	return "fanart"
}

// scaleGrain converts fractional scale deltas to integers so they can
// live in atomic accumulators alongside the pixel offsets.
const scaleGrain = 1000

// adjustDeltas is one drained batch of accumulated input.
type adjustDeltas struct {
	FanartDX, FanartDY int
	LogoDX, LogoDY     int
	FanartScale        float64
	LogoScale          float64
}

func (d adjustDeltas) zero() bool {
	return d.FanartDX == 0 && d.FanartDY == 0 &&
		d.LogoDX == 0 && d.LogoDY == 0 &&
		d.FanartScale == 0 && d.LogoScale == 0
}

// coalescer absorbs continuous move/scale input and guarantees a single
// in-flight composition pass. Deltas that arrive while a pass is
// compositing are drained by the same pass's next loop iteration, so
// nothing is lost and nothing overlaps.
type coalescer struct {
	fanartDX, fanartDY atomic.Int64
	logoDX, logoDY     atomic.Int64
	fanartScale        atomic.Int64 // units of 1/scaleGrain
	logoScale          atomic.Int64

	inFlight atomic.Bool
	passes   atomic.Uint64

	render func(ctx context.Context, d adjustDeltas)
}

func newCoalescer(render func(ctx context.Context, d adjustDeltas)) *coalescer {
	return &coalescer{render: render}
}

func (c *coalescer) accumulateDelta(ctx context.Context, target Layer, dx, dy int) {
	if target == LayerLogo {
		c.logoDX.Add(int64(dx))
		c.logoDY.Add(int64(dy))
	} else {
		c.fanartDX.Add(int64(dx))
		c.fanartDY.Add(int64(dy))
	}
	c.trigger(ctx)
}

func (c *coalescer) accumulateScale(ctx context.Context, target Layer, delta float64) {
	if target == LayerLogo {
		c.logoScale.Add(int64(delta * scaleGrain))
	} else {
		c.fanartScale.Add(int64(delta * scaleGrain))
	}
	c.trigger(ctx)
}

// trigger starts the render loop unless one is already running. After
// the loop exits it re-checks the accumulators: a delta slipped in
// between the final drain and the flag reset must restart the loop.
func (c *coalescer) trigger(ctx context.Context) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			for {
				d := c.drain()
				if d.zero() {
					break
				}
				c.passes.Add(1)
				c.render(ctx, d)
			}
			c.inFlight.Store(false)
			if !c.pending() || !c.inFlight.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

// drain snapshots and zeroes every accumulator atomically per counter.
func (c *coalescer) drain() adjustDeltas {
	return adjustDeltas{
		FanartDX:    int(c.fanartDX.Swap(0)),
		FanartDY:    int(c.fanartDY.Swap(0)),
		LogoDX:      int(c.logoDX.Swap(0)),
		LogoDY:      int(c.logoDY.Swap(0)),
		FanartScale: float64(c.fanartScale.Swap(0)) / scaleGrain,
		LogoScale:   float64(c.logoScale.Swap(0)) / scaleGrain,
	}
}

func (c *coalescer) pending() bool {
	return c.fanartDX.Load() != 0 || c.fanartDY.Load() != 0 ||
		c.logoDX.Load() != 0 || c.logoDY.Load() != 0 ||
		c.fanartScale.Load() != 0 || c.logoScale.Load() != 0
}

// composeState is the live input of the static composition mode: a base
// image plus a logo, nudged around by the coalescer.
type composeState struct {
	mu     sync.Mutex
	active bool
	req    media.ComposeRequest
}

// EnterComposeMode begins static composition adjustment over the given
// base art and logo.
func (d *Director) EnterComposeMode(background, logo string) {
	d.compose.mu.Lock()
	defer d.compose.mu.Unlock()
	d.compose.active = true
	d.compose.req = media.ComposeRequest{
		Background: background,
		Logo:       logo,
		FanartZoom: 1.0,
		LogoScale:  1.0,
	}
	slog.Info("core: compose mode entered", "background", background, "logo", logo)
}

// ExitComposeMode ends static composition adjustment.
func (d *Director) ExitComposeMode() {
	d.compose.mu.Lock()
	defer d.compose.mu.Unlock()
	d.compose.active = false
	slog.Info("core: compose mode exited")
}

// renderAdjustPass applies one drained delta batch to the compose state
// and displays the result. Runs on the coalescer's single render
// goroutine.
func (d *Director) renderAdjustPass(ctx context.Context, delta adjustDeltas) {
	d.compose.mu.Lock()
	if !d.compose.active {
		d.compose.mu.Unlock()
		return
	}
	d.compose.req.FanartX += delta.FanartDX
	d.compose.req.FanartY += delta.FanartDY
	d.compose.req.LogoX += delta.LogoDX
	d.compose.req.LogoY += delta.LogoDY
	d.compose.req.FanartZoom += delta.FanartScale
	d.compose.req.LogoScale += delta.LogoScale
	if d.compose.req.FanartZoom < 0.05 {
		d.compose.req.FanartZoom = 0.05
	}
	if d.compose.req.LogoScale < 0.05 {
		d.compose.req.LogoScale = 0.05
	}
	req := d.compose.req
	d.compose.mu.Unlock()

	path, err := d.composer.ComposeMarquee(ctx, req)
	if err != nil {
		slog.Error("core: compose pass failed", "error", err)
		return
	}
	if path == "" || ctx.Err() != nil {
		return
	}
	if d.marquee != nil {
		if err := d.marquee.DisplayAsset(ctx, path, false); err != nil {
			slog.Error("core: compose display failed", "path", path, "error", err)
		}
	}
}

// SwapLayerOrders exchanges the z-orders of two layered items. When the
// two orders are equal the swap would leave them colliding, so the
// second item is nudged one step below the first. The nudge is a
// tie-break heuristic, not a total order.
func SwapLayerOrders(a, b int) (int, int) {
	if a == b {
		return a, b - 1
	}
	return b, a
}
