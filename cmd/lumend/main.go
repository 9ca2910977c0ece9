package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/config"
	"github.com/e7canasta/lumen-marquee/internal/core"
	"github.com/e7canasta/lumen-marquee/internal/dmd"
	"github.com/e7canasta/lumen-marquee/internal/dmd/render"
	"github.com/e7canasta/lumen-marquee/internal/emitter"
	"github.com/e7canasta/lumen-marquee/internal/event"
	"github.com/e7canasta/lumen-marquee/internal/marquee"
	"github.com/e7canasta/lumen-marquee/internal/media"
	"github.com/e7canasta/lumen-marquee/internal/offsets"
	"github.com/e7canasta/lumen-marquee/internal/retro"
)

const (
	defaultConfigPath = "config/lumend.yaml"
	statsInterval     = 60 * time.Second
	healthInterval    = 30 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting lumend",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Surfaces
	var marqueeClient *marquee.Client
	var marqueeSurface core.MarqueeSurface
	if cfg.Marquee.Enabled {
		marqueeClient, err = marquee.NewClient(marquee.Config{
			SocketPath: cfg.Marquee.MPVSocket,
			Binary:     cfg.Marquee.MPVBinary,
			ExtraArgs:  cfg.Marquee.MPVArgs,
		})
		if err != nil {
			slog.Error("failed to create marquee client", "error", err)
			os.Exit(1)
		}
		defer marqueeClient.Close()
		marqueeSurface = marqueeClient
	}

	var matrixClient *dmd.Client
	var matrixSurface core.MatrixSurface
	var renderers core.RendererFactory
	if cfg.DMD.Enabled {
		matrixClient, err = dmd.NewClient(cfg.DMD.Address)
		if err != nil {
			slog.Error("failed to create dmd client", "error", err)
			os.Exit(1)
		}
		defer matrixClient.Close()
		matrixSurface = matrixClient

		if cfg.DMD.FrameMode {
			renderers = func(path string) (core.FrameRenderer, error) {
				return render.NewRenderer(render.Config{
					Path:   path,
					Width:  cfg.DMD.Width,
					Height: cfg.DMD.Height,
					Loop:   true,
				}, matrixClient)
			}
		}
	}

	// Collaborators
	finder, err := media.NewDirFinder(cfg.Media.MarqueeDir, cfg.Media.DMDDir)
	if err != nil {
		slog.Error("failed to create media finder", "error", err)
		os.Exit(1)
	}

	var composer media.Composer = media.NoopComposer{}
	if cfg.Media.ComposerBin != "" {
		composer, err = media.NewCommandComposer(cfg.Media.ComposerBin, cfg.Media.ComposerDir)
		if err != nil {
			slog.Error("failed to create composer", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no composer configured, overlay composition disabled")
	}

	store, err := offsets.OpenSQLite(cfg.Offsets.DBPath)
	if err != nil {
		slog.Error("failed to open offsets store", "error", err, "path", cfg.Offsets.DBPath)
		os.Exit(1)
	}
	defer store.Close()

	feed := retro.NewFeed(64)

	director, err := core.NewDirector(core.Options{
		Config:    cfg,
		Marquee:   marqueeSurface,
		Matrix:    matrixSurface,
		Finder:    finder,
		Composer:  composer,
		Store:     store,
		Feed:      feed,
		Renderers: renderers,
	})
	if err != nil {
		slog.Error("failed to create director", "error", err)
		os.Exit(1)
	}

	// Event sources
	events := make(chan event.Event, 64)
	if cfg.Events.StatusFile != "" {
		source, err := event.NewFileSource(event.FileSourceConfig{
			Path:       cfg.Events.StatusFile,
			Interval:   time.Duration(cfg.Events.PollIntervalMS) * time.Millisecond,
			Retries:    cfg.Timing.LockedFileRetries,
			RetryDelay: time.Duration(cfg.Timing.LockedFileRetryDelayM) * time.Millisecond,
		})
		if err != nil {
			slog.Error("failed to create status file source", "error", err)
			os.Exit(1)
		}
		ch, err := source.Start(ctx)
		if err != nil {
			slog.Error("failed to start status file source", "error", err)
			os.Exit(1)
		}
		defer source.Stop()
		go forward(ctx, ch, events)
	}
	if cfg.Events.IPCSocket != "" {
		source, err := event.NewIPCSource(cfg.Events.IPCSocket)
		if err != nil {
			slog.Error("failed to create ipc source", "error", err)
			os.Exit(1)
		}
		ch, err := source.Start(ctx)
		if err != nil {
			slog.Error("failed to start ipc source", "error", err)
			os.Exit(1)
		}
		defer source.Stop()
		go forward(ctx, ch, events)
	}

	if err := director.Start(ctx, events); err != nil {
		slog.Error("failed to start director", "error", err)
		os.Exit(1)
	}
	go director.StartStatsLogger(ctx, statsInterval)

	// Optional MQTT state emitter
	em := emitter.NewMQTTEmitter(cfg)
	if em.Enabled() {
		if err := em.Connect(ctx); err != nil {
			slog.Warn("mqtt emitter unavailable, continuing without it", "error", err)
		} else {
			defer em.Disconnect()
			go emitState(ctx, director, em)
		}
	}

	sig := <-sigChan
	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	director.Stop()
	slog.Info("lumend stopped")
}

// forward funnels one source's events into the shared channel.
func forward(ctx context.Context, in <-chan event.Event, out chan<- event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// emitState publishes game context transitions, achievement unlocks and
// periodic health.
func emitState(ctx context.Context, d *core.Director, em *emitter.MQTTEmitter) {
	started := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	health := time.NewTicker(healthInterval)
	defer health.Stop()

	var last core.GameContext
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := d.Snapshot()
			if snap.System == last.System && snap.GameName == last.GameName && snap.IsRunning == last.IsRunning {
				continue
			}
			last = snap
			if err := em.PublishGameState(emitter.GameState{
				System:  snap.System,
				Game:    snap.GameName,
				Running: snap.IsRunning,
			}); err != nil {
				slog.Debug("game state publish failed", "error", err)
			}
		case u := <-d.Unlocks():
			if err := em.PublishUnlock(emitter.Unlock{
				ID:       u.ID,
				Title:    u.Title,
				Hardcore: u.Hardcore,
			}); err != nil {
				slog.Debug("unlock publish failed", "error", err)
			}
		case <-health.C:
			stats := d.StatsSnapshot()
			if err := em.PublishHealth(emitter.Health{
				Uptime: time.Since(started).Round(time.Second).String(),
				Events: stats.EventsSeen,
			}); err != nil {
				slog.Debug("health publish failed", "error", err)
			}
		}
	}
}
