// Package marquee drives the primary full-screen surface through the
// embedded media player's JSON IPC socket.
//
// The daemon owns one long-lived connection. Every operation is a
// request/response pair correlated by request id; player events arriving
// on the same connection are consumed and discarded by the reader loop.
// Connect attempts use short timeouts with bounded retries, and a dead
// player process is restarted at most once per operation before the
// operation gives up.
package marquee

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dialTimeout    = 800 * time.Millisecond
	dialAttempts   = 3
	dialRetryDelay = 200 * time.Millisecond
	restartGrace   = 700 * time.Millisecond
)

// Client is the mpv JSON IPC client for the marquee surface.
//
// Thread-safety: all methods are safe for concurrent use. Writes are
// serialized; responses are routed to waiters by request id.
type Client struct {
	socketPath string
	binary     string
	extraArgs  []string

	connMu sync.Mutex // guards conn and writes
	conn   net.Conn

	pendingMu sync.Mutex
	pending   map[int64]chan response

	timersMu sync.Mutex
	timers   map[OverlaySlot]*time.Timer

	nextID    atomic.Int64
	suspended atomic.Bool
	restarts  atomic.Uint32

	// Cached surface dimensions for overlay placement
	dimsMu sync.Mutex
	width  int
	height int
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type response struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
	Event     string          `json:"event"`
}

// Config configures the marquee client.
type Config struct {
	SocketPath string
	Binary     string   // player binary, used for the one-shot auto restart
	ExtraArgs  []string // appended when restarting the player
}

// NewClient creates a client with fail-fast validation. The player is not
// contacted until the first operation.
func NewClient(cfg Config) (*Client, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("marquee: player socket path is required")
	}
	if err := ValidateSlotTable(); err != nil {
		return nil, err
	}
	return &Client{
		socketPath: cfg.SocketPath,
		binary:     cfg.Binary,
		extraArgs:  cfg.ExtraArgs,
		pending:    make(map[int64]chan response),
		timers:     make(map[OverlaySlot]*time.Timer),
	}, nil
}

// DisplayOptions tunes a Display call.
type DisplayOptions struct {
	Loop         bool
	ShowProgress bool    // enable the on-screen scrub bar (trim mode)
	StartAt      float64 // seconds; 0 starts from the beginning
}

// DisplayAsset loads a media file as the surface's main content,
// replacing whatever is playing.
func (c *Client) DisplayAsset(ctx context.Context, path string, loop bool) error {
	return c.Display(ctx, path, DisplayOptions{Loop: loop})
}

// Display loads a media file with explicit options.
func (c *Client) Display(ctx context.Context, path string, opts DisplayOptions) error {
	if c.suspended.Load() {
		slog.Debug("marquee: surface suspended, display skipped", "path", path)
		return nil
	}

	options := "loop-file=" + boolOpt(opts.Loop, "inf", "no")
	if opts.StartAt > 0 {
		options += fmt.Sprintf(",start=%.3f", opts.StartAt)
	}
	if _, err := c.command(ctx, "loadfile", path, "replace", options); err != nil {
		return fmt.Errorf("marquee: display %q: %w", path, err)
	}

	level := 1
	if opts.ShowProgress {
		level = 3
	}
	if _, err := c.command(ctx, "set_property", "osd-level", level); err != nil {
		// Cosmetic; the asset is already up
		slog.Debug("marquee: osd-level set failed", "error", err)
	}
	return nil
}

// OverlayAsset shows an overlay image in the given slot. An overlay
// already present in the slot is replaced; its auto-clear timer, if any,
// is cancelled first so the old timer cannot clear the new overlay.
func (c *Client) OverlayAsset(ctx context.Context, path string, slot OverlaySlot, align Alignment) error {
	c.cancelTimer(slot)

	w, h, ok := overlayDims(path)
	dw, dh := c.surfaceDims(ctx)
	if !ok {
		w, h = dw, dh
	}
	x, y := alignOffsets(align, dw, dh, w, h)

	if _, err := c.command(ctx, "overlay-add", int(slot), x, y, path, 0, "bgra", w, h, w*4); err != nil {
		return fmt.Errorf("marquee: overlay slot %d: %w", slot, err)
	}
	return nil
}

// OverlayAssetTimed shows an overlay and schedules its removal after the
// given duration.
func (c *Client) OverlayAssetTimed(ctx context.Context, path string, slot OverlaySlot, align Alignment, clearAfter time.Duration) error {
	if err := c.OverlayAsset(ctx, path, slot, align); err != nil {
		return err
	}
	c.timersMu.Lock()
	c.timers[slot] = time.AfterFunc(clearAfter, func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.RemoveOverlay(clearCtx, slot, false); err != nil {
			slog.Warn("marquee: timed overlay clear failed", "slot", int(slot), "error", err)
		}
	})
	c.timersMu.Unlock()
	return nil
}

// RemoveOverlay clears a slot. With cancelTimer set, any pending
// auto-clear timer for the slot is cancelled as well, so nothing can
// race the explicit clear.
func (c *Client) RemoveOverlay(ctx context.Context, slot OverlaySlot, cancelTimer bool) error {
	if cancelTimer {
		c.cancelTimer(slot)
	}
	if _, err := c.command(ctx, "overlay-remove", int(slot)); err != nil {
		return fmt.Errorf("marquee: remove overlay slot %d: %w", slot, err)
	}
	return nil
}

// ClearAllOverlays removes every assigned slot, cancelling all timers.
// Used by the unified cleanup; individual failures are logged, not
// propagated, so one dead slot cannot leave the rest populated.
func (c *Client) ClearAllOverlays(ctx context.Context) {
	for _, slot := range AllSlots() {
		if err := c.RemoveOverlay(ctx, slot, true); err != nil {
			slog.Debug("marquee: clear overlay failed", "slot", int(slot), "error", err)
		}
	}
}

// GetProperty reads a player property as a string. Returns empty string
// for properties the player reports as unavailable.
func (c *Client) GetProperty(ctx context.Context, name string) (string, error) {
	data, err := c.command(ctx, "get_property", name)
	if err != nil {
		return "", fmt.Errorf("marquee: get property %q: %w", name, err)
	}
	if data == nil {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("marquee: decode property %q: %w", name, err)
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// PlaybackTime reads the current playback position in seconds.
func (c *Client) PlaybackTime(ctx context.Context) (float64, error) {
	raw, err := c.GetProperty(ctx, "time-pos")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("marquee: bad time-pos %q: %w", raw, err)
	}
	return t, nil
}

// Suspend stops playback and drops subsequent Display calls, for events
// where an external system takes over the physical screen. The director
// flags the surface for resume.
func (c *Client) Suspend(ctx context.Context) error {
	if !c.suspended.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := c.command(ctx, "stop"); err != nil {
		return fmt.Errorf("marquee: suspend: %w", err)
	}
	slog.Info("marquee: surface suspended")
	return nil
}

// Resume lifts a suspension. The caller is responsible for re-displaying
// content.
func (c *Client) Resume() {
	if c.suspended.CompareAndSwap(true, false) {
		slog.Info("marquee: surface resumed")
	}
}

// Suspended reports whether the surface is currently suspended.
func (c *Client) Suspended() bool {
	return c.suspended.Load()
}

// Close tears down the connection and all pending timers.
func (c *Client) Close() {
	c.timersMu.Lock()
	for slot, t := range c.timers {
		t.Stop()
		delete(c.timers, slot)
	}
	c.timersMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// Restarts returns how many times the player was auto-restarted.
func (c *Client) Restarts() uint32 {
	return c.restarts.Load()
}

func (c *Client) cancelTimer(slot OverlaySlot) {
	c.timersMu.Lock()
	if t, ok := c.timers[slot]; ok {
		t.Stop()
		delete(c.timers, slot)
	}
	c.timersMu.Unlock()
}

// command sends one request and waits for its response. On a connection
// failure it reconnects and retries once; if the player is gone it is
// restarted once before giving up.
func (c *Client) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	data, err := c.attempt(ctx, args)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// First escalation: reconnect and retry
	c.dropConnection()
	if connErr := c.ensureConnected(ctx); connErr == nil {
		if data, err = c.attempt(ctx, args); err == nil {
			return data, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Second escalation: restart the player once, then one final retry
	if restartErr := c.restartPlayer(ctx); restartErr != nil {
		slog.Error("marquee: player restart failed", "error", restartErr)
		return nil, err
	}
	c.dropConnection()
	if connErr := c.ensureConnected(ctx); connErr != nil {
		return nil, fmt.Errorf("player unreachable after restart: %w", connErr)
	}
	if data, err = c.attempt(ctx, args); err != nil {
		slog.Error("marquee: operation failed after player restart", "error", err)
		return nil, err
	}
	return data, nil
}

func (c *Client) attempt(ctx context.Context, args []any) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	_, err = conn.Write(payload)
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection lost")
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("player error: %s", resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
		if err == nil {
			c.conn = conn
			go c.readLoop(conn)
			slog.Debug("marquee: connected", "socket", c.socketPath)
			return nil
		}
		lastErr = err
		select {
		case <-time.After(dialRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect %s: %w", c.socketPath, lastErr)
}

func (c *Client) dropConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// readLoop routes responses to waiters and discards player events. It
// exits when the connection dies, failing all pending waiters.
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Event != "" {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RequestID]
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// restartPlayer spawns a fresh player process bound to our socket. Called
// at most once per failed operation.
func (c *Client) restartPlayer(ctx context.Context) error {
	if c.binary == "" {
		return fmt.Errorf("no player binary configured")
	}

	args := append([]string{
		"--idle=yes",
		"--input-ipc-server=" + c.socketPath,
	}, c.extraArgs...)

	cmd := exec.Command(c.binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", c.binary, err)
	}
	// The daemon does not own the player lifecycle beyond spawning it
	go func() { _ = cmd.Wait() }()

	c.restarts.Add(1)
	slog.Warn("marquee: player restarted", "binary", c.binary, "restarts", c.restarts.Load())

	select {
	case <-time.After(restartGrace):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Client) surfaceDims(ctx context.Context) (int, int) {
	c.dimsMu.Lock()
	if c.width > 0 && c.height > 0 {
		w, h := c.width, c.height
		c.dimsMu.Unlock()
		return w, h
	}
	c.dimsMu.Unlock()

	w := c.intProperty(ctx, "osd-width")
	h := c.intProperty(ctx, "osd-height")
	if w <= 0 || h <= 0 {
		// Typical ultrawide marquee panel; only used until the player
		// reports real dimensions
		return 1920, 360
	}
	c.dimsMu.Lock()
	c.width, c.height = w, h
	c.dimsMu.Unlock()
	return w, h
}

func (c *Client) intProperty(ctx context.Context, name string) int {
	raw, err := c.GetProperty(ctx, name)
	if err != nil || raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// overlayDimsPattern matches the "name.320x64.bgra" convention the
// compositing engine uses for raw overlay images.
var overlayDimsPattern = regexp.MustCompile(`\.(\d+)x(\d+)\.[a-z]+$`)

func overlayDims(path string) (w, h int, ok bool) {
	m := overlayDimsPattern.FindStringSubmatch(path)
	if m == nil {
		return 0, 0, false
	}
	w, _ = strconv.Atoi(m[1])
	h, _ = strconv.Atoi(m[2])
	return w, h, w > 0 && h > 0
}

// alignOffsets places a w x h overlay on a dw x dh surface.
func alignOffsets(align Alignment, dw, dh, w, h int) (x, y int) {
	const margin = 16

	switch align {
	case AlignTopLeft, AlignCenterLeft, AlignBottomLeft:
		x = margin
	case AlignTopCenter, AlignCenter, AlignBottomCenter:
		x = (dw - w) / 2
	case AlignTopRight, AlignCenterRight, AlignBottomRight:
		x = dw - w - margin
	}
	switch align {
	case AlignTopLeft, AlignTopCenter, AlignTopRight:
		y = margin
	case AlignCenterLeft, AlignCenter, AlignCenterRight:
		y = (dh - h) / 2
	case AlignBottomLeft, AlignBottomCenter, AlignBottomRight:
		y = dh - h - margin
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return x, y
}

func boolOpt(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
