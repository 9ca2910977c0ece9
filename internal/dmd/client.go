// Package dmd drives the auxiliary matrix display through its local
// daemon socket.
//
// The surface holds one active overlay image and one persistent layout
// plane; which orchestrator concern owns the plane at a time is enforced
// upstream by the cancel-then-set discipline, the client just ships
// commands. The daemon is an external process: on connection failure the
// client retries with short timeouts, then the operation is logged and
// abandoned (the marquee surface is never affected).
package dmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dialTimeout    = 500 * time.Millisecond
	dialAttempts   = 3
	dialRetryDelay = 150 * time.Millisecond
)

// Client talks to the matrix display daemon.
//
// Thread-safety: all methods are safe for concurrent use; message writes
// are serialized on the single connection.
type Client struct {
	address string
	network string

	mu   sync.Mutex // guards conn and writes
	conn net.Conn

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewClient creates a client with fail-fast validation. The daemon is not
// contacted until the first operation. An address containing a path
// separator is treated as a unix socket, otherwise as host:port.
func NewClient(address string) (*Client, error) {
	if address == "" {
		return nil, fmt.Errorf("dmd: daemon address is required")
	}
	network := "tcp"
	if strings.ContainsRune(address, '/') {
		network = "unix"
	}
	return &Client{address: address, network: network}, nil
}

// Play displays a media file as the matrix's main content. System and
// game give the daemon context for its own per-game color profiles.
func (c *Client) Play(ctx context.Context, path, system, game string) error {
	return c.send(ctx, Message{Type: TypePlay, Path: path, System: system, Game: game})
}

// SetOverlay shows a transient overlay image for durationMS milliseconds
// (0 keeps it until cleared).
func (c *Client) SetOverlay(ctx context.Context, path string, durationMS int) error {
	return c.send(ctx, Message{Type: TypeOverlay, Path: path, DurationMS: durationMS})
}

// ClearOverlay removes the active overlay image.
func (c *Client) ClearOverlay(ctx context.Context) error {
	return c.send(ctx, Message{Type: TypeClearOverlay})
}

// SetPlane replaces the persistent layout plane.
func (c *Client) SetPlane(ctx context.Context, path string) error {
	return c.send(ctx, Message{Type: TypePlane, Path: path})
}

// ClearPlane removes the persistent layout plane.
func (c *Client) ClearPlane(ctx context.Context) error {
	return c.send(ctx, Message{Type: TypeClearPlane})
}

// PlayNotificationSequence shows the given steps in order. The daemon
// owns the timing; the call returns once the sequence is queued.
func (c *Client) PlayNotificationSequence(ctx context.Context, steps ...NotifyStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("dmd: notification sequence needs at least one step")
	}
	return c.send(ctx, Message{Type: TypeNotify, Steps: steps})
}

// PushFrame ships one raw RGB frame, for frame-mode deployments where the
// daemon exposes a dumb framebuffer.
func (c *Client) PushFrame(ctx context.Context, seq uint64, width, height int, data []byte) error {
	return c.send(ctx, Message{Type: TypeFrame, Seq: seq, Width: width, Height: height, Data: data})
}

// Stats returns cumulative send counters.
func (c *Client) Stats() (sent, failed uint64) {
	return c.sent.Load(), c.failed.Load()
}

// Close drops the connection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// send writes one message, reconnecting once on a stale connection.
func (c *Client) send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.writeLocked(ctx, msg)
	if err == nil {
		c.sent.Add(1)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// The daemon may have restarted since the last message; reconnect
	// and retry once before giving up
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if err = c.writeLocked(ctx, msg); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("dmd: %s failed: %w", msg.Type, err)
	}
	c.sent.Add(1)
	return nil
}

func (c *Client) writeLocked(ctx context.Context, msg Message) error {
	if c.conn == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.conn = conn
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	}
	return WriteMessage(c.conn, msg)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := net.DialTimeout(c.network, c.address, dialTimeout)
		if err == nil {
			slog.Debug("dmd: connected", "address", c.address)
			return conn, nil
		}
		lastErr = err
		select {
		case <-time.After(dialRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("connect %s: %w", c.address, lastErr)
}
