package marquee

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateSlotTable(t *testing.T) {
	if err := ValidateSlotTable(); err != nil {
		t.Fatalf("shipped slot table invalid: %v", err)
	}

	seen := map[OverlaySlot]bool{}
	for concern := range concernNames {
		slot := SlotFor(concern)
		if slot < minSlot || slot > maxSlot {
			t.Errorf("%s slot %d out of range", concern, slot)
		}
		if seen[slot] {
			t.Errorf("slot %d assigned twice", slot)
		}
		seen[slot] = true
	}
	if len(AllSlots()) != len(concernNames) {
		t.Errorf("AllSlots returned %d slots, want %d", len(AllSlots()), len(concernNames))
	}
}

func TestOverlayDims(t *testing.T) {
	tests := []struct {
		path string
		w, h int
		ok   bool
	}{
		{"badges.320x64.bgra", 320, 64, true},
		{"/tmp/x/score.96x32.bgra", 96, 32, true},
		{"plain.png", 0, 0, false},
		{"weird.0x64.bgra", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, ok := overlayDims(tt.path)
		if ok != tt.ok || w != tt.w || h != tt.h {
			t.Errorf("overlayDims(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.path, w, h, ok, tt.w, tt.h, tt.ok)
		}
	}
}

func TestAlignOffsets(t *testing.T) {
	tests := []struct {
		align Alignment
		x, y  int
	}{
		{AlignTopLeft, 16, 16},
		{AlignCenter, (1920 - 320) / 2, (360 - 64) / 2},
		{AlignBottomRight, 1920 - 320 - 16, 360 - 64 - 16},
		{AlignTopCenter, (1920 - 320) / 2, 16},
	}
	for _, tt := range tests {
		x, y := alignOffsets(tt.align, 1920, 360, 320, 64)
		if x != tt.x || y != tt.y {
			t.Errorf("alignOffsets(%v) = (%d, %d), want (%d, %d)", tt.align, x, y, tt.x, tt.y)
		}
	}
}

// fakePlayer emulates the player's JSON IPC endpoint on a unix socket.
type fakePlayer struct {
	listener net.Listener
	commands chan []any
}

func newFakePlayer(t *testing.T) *fakePlayer {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "mpv.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	p := &fakePlayer{listener: listener, commands: make(chan []any, 32)}
	go p.serve()
	t.Cleanup(func() { listener.Close() })
	return p
}

func (p *fakePlayer) socket() string {
	return p.listener.Addr().String()
}

func (p *fakePlayer) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				var req struct {
					Command   []any `json:"command"`
					RequestID int64 `json:"request_id"`
				}
				if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
					continue
				}
				p.commands <- req.Command

				resp := map[string]any{"error": "success", "request_id": req.RequestID}
				if len(req.Command) == 2 && req.Command[0] == "get_property" && req.Command[1] == "time-pos" {
					resp["data"] = 12.5
				}
				out, _ := json.Marshal(resp)
				conn.Write(append(out, '\n'))
			}
		}()
	}
}

func (p *fakePlayer) next(t *testing.T) []any {
	t.Helper()
	select {
	case cmd := <-p.commands:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for player command")
		return nil
	}
}

func TestClientDisplayAndProperty(t *testing.T) {
	player := newFakePlayer(t)
	client, err := NewClient(Config{SocketPath: player.socket()})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.DisplayAsset(ctx, "/media/snes/axelay.mp4", true); err != nil {
		t.Fatalf("DisplayAsset failed: %v", err)
	}

	cmd := player.next(t)
	if cmd[0] != "loadfile" || cmd[1] != "/media/snes/axelay.mp4" {
		t.Errorf("unexpected command: %v", cmd)
	}
	if cmd[3] != "loop-file=inf" {
		t.Errorf("loop option = %v, want loop-file=inf", cmd[3])
	}
	player.next(t) // osd-level set

	secs, err := client.PlaybackTime(ctx)
	if err != nil {
		t.Fatalf("PlaybackTime failed: %v", err)
	}
	if secs != 12.5 {
		t.Errorf("time-pos = %v, want 12.5", secs)
	}
}

func TestClientSuspendSkipsDisplay(t *testing.T) {
	player := newFakePlayer(t)
	client, err := NewClient(Config{SocketPath: player.socket()})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Suspend(ctx); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if cmd := player.next(t); cmd[0] != "stop" {
		t.Errorf("suspend sent %v, want stop", cmd)
	}

	if err := client.DisplayAsset(ctx, "/media/ignored.png", false); err != nil {
		t.Fatalf("suspended DisplayAsset errored: %v", err)
	}
	select {
	case cmd := <-player.commands:
		t.Fatalf("suspended surface still received %v", cmd)
	case <-time.After(100 * time.Millisecond):
	}

	client.Resume()
	if client.Suspended() {
		t.Error("surface still suspended after Resume")
	}
}

func TestClientGivesUpWhenPlayerUnreachable(t *testing.T) {
	client, err := NewClient(Config{SocketPath: filepath.Join(t.TempDir(), "absent.sock")})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.DisplayAsset(ctx, "/media/x.png", false); err == nil {
		t.Fatal("expected error when player is unreachable")
	}
}
