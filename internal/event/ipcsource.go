package event

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// IPCSource accepts pipe-delimited commands on a local unix socket.
//
// Each connection may carry any number of newline-delimited messages; the
// frontend typically opens, writes one command, and closes. Messages feed
// the same channel shape as FileSource so the director consumes one
// uniform stream.
type IPCSource struct {
	socketPath string
	events     chan Event

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewIPCSource creates an IPC source with fail-fast validation.
func NewIPCSource(socketPath string) (*IPCSource, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("event: IPC socket path is required")
	}
	return &IPCSource{
		socketPath: socketPath,
		events:     make(chan Event, 16),
	}, nil
}

// Start binds the socket and begins accepting connections.
func (s *IPCSource) Start(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, fmt.Errorf("event: IPC source already started")
	}

	// A previous unclean shutdown can leave the socket file behind
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("event: failed to bind IPC socket: %w", err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.accept(ctx, listener)

	slog.Info("event: IPC source started", "socket", s.socketPath)

	return s.events, nil
}

// Stop closes the listener and the event channel. Idempotent.
func (s *IPCSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return
	}
	s.cancel()
	_ = s.listener.Close()
	s.listener = nil
	s.wg.Wait()
	close(s.events)
	_ = os.Remove(s.socketPath)

	slog.Info("event: IPC source stopped")
}

// accept holds its own listener reference; Stop nils the shared field
// under the lock while this loop is still running.
func (s *IPCSource) accept(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("event: IPC accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serve(ctx, conn)
		}()
	}
}

func (s *IPCSource) serve(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		ev, ok := ParseIPCMessage(scanner.Text())
		if !ok {
			continue
		}
		if ev.Kind == KindUnknown {
			slog.Warn("event: unrecognized IPC command", "command", ev.Raw)
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
