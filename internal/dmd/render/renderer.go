// Package render decodes a media file into raw RGB frames sized for the
// matrix display and pushes them to a frame sink. It backs frame-mode
// deployments where the matrix daemon exposes only a dumb framebuffer
// and cannot decode media itself.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// FrameSink receives decoded frames. Implemented by the matrix daemon
// client's PushFrame.
type FrameSink interface {
	PushFrame(ctx context.Context, seq uint64, width, height int, data []byte) error
}

// Config describes one render job.
type Config struct {
	// Path is the media file to decode.
	Path string
	// Width and Height are the matrix dimensions in pixels.
	Width  int
	Height int
	// FPS caps the frame rate pushed to the sink. Defaults to 30.
	FPS float64
	// Loop restarts the file when it ends.
	Loop bool
}

// Renderer decodes one file and streams its frames to a sink.
//
// Behavior:
//  1. Start builds the pipeline and begins pushing frames.
//  2. Frames arrive on the sink paced at the media rate (appsink sync).
//  3. On end-of-stream the renderer seeks back to zero when looping,
//     otherwise it stops itself.
//  4. Stop tears down the pipeline and is idempotent.
type Renderer struct {
	cfg  Config
	sink FrameSink

	mu       sync.Mutex
	elements *pipelineElements
	running  bool
	cancel   context.CancelFunc

	framesPushed  atomic.Uint64
	framesDropped atomic.Uint64
}

// NewRenderer creates a renderer with fail-fast validation.
func NewRenderer(cfg Config, sink FrameSink) (*Renderer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("render: media path is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("render: invalid matrix dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if sink == nil {
		return nil, fmt.Errorf("render: frame sink is required")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Renderer{cfg: cfg, sink: sink}, nil
}

// Start builds and starts the decode pipeline. Returns an error if the
// renderer is already running or the pipeline cannot be constructed.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("render: already running")
	}

	elements, err := createPipeline(pipelineConfig{
		Path:   r.cfg.Path,
		Width:  r.cfg.Width,
		Height: r.cfg.Height,
		FPS:    r.cfg.FPS,
	})
	if err != nil {
		return fmt.Errorf("render: build pipeline for %s: %w", r.cfg.Path, err)
	}

	frameCtx, cancel := context.WithCancel(ctx)

	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return r.onNewSample(frameCtx, sink)
		},
	})

	go r.watchBus(frameCtx, elements.Pipeline)

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		_ = destroyPipeline(elements)
		return fmt.Errorf("render: start pipeline: %w", err)
	}

	r.elements = elements
	r.cancel = cancel
	r.running = true
	slog.Info("render: started",
		"path", r.cfg.Path,
		"size", fmt.Sprintf("%dx%d", r.cfg.Width, r.cfg.Height),
		"fps", r.cfg.FPS,
		"loop", r.cfg.Loop)
	return nil
}

// Stop tears down the pipeline. Idempotent.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.cancel()
	if err := destroyPipeline(r.elements); err != nil {
		slog.Warn("render: pipeline teardown failed", "error", err)
	}
	r.elements = nil
	r.running = false
	slog.Info("render: stopped",
		"path", r.cfg.Path,
		"frames_pushed", r.framesPushed.Load(),
		"frames_dropped", r.framesDropped.Load())
}

// Stats returns cumulative frame counters.
func (r *Renderer) Stats() (pushed, dropped uint64) {
	return r.framesPushed.Load(), r.framesDropped.Load()
}

// onNewSample pulls one decoded frame and forwards it to the sink. The
// buffer is copied because GStreamer reclaims it after unmap.
func (r *Renderer) onNewSample(ctx context.Context, sink *app.Sink) gst.FlowReturn {
	if ctx.Err() != nil {
		return gst.FlowEOS
	}

	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	defer sample.Unref()

	buffer := sample.GetBuffer()
	if buffer == nil {
		r.framesDropped.Add(1)
		return gst.FlowOK
	}
	data := buffer.Map(gst.MapRead).Bytes()
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	seq := r.framesPushed.Load() + 1
	pushCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := r.sink.PushFrame(pushCtx, seq, r.cfg.Width, r.cfg.Height, frame)
	cancel()
	if err != nil {
		r.framesDropped.Add(1)
		return gst.FlowOK
	}
	r.framesPushed.Add(1)
	return gst.FlowOK
}

// watchBus handles end-of-stream and errors from the pipeline bus.
func (r *Renderer) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	bus := pipeline.GetPipelineBus()
	for {
		if ctx.Err() != nil {
			return
		}
		msg := bus.TimedPop(500 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			msg.Unref()
			if r.cfg.Loop {
				if err := pipeline.SeekSimple(0, gst.FormatTime, gst.SeekFlagFlush); err != nil {
					slog.Warn("render: loop seek failed", "path", r.cfg.Path, "error", err)
					r.Stop()
					return
				}
				continue
			}
			r.Stop()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("render: pipeline error", "path", r.cfg.Path, "error", gerr.Error())
			msg.Unref()
			r.Stop()
			return
		default:
			msg.Unref()
		}
	}
}
