package dmd

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire protocol for the matrix display daemon: a 4-byte big-endian length
// prefix followed by one msgpack-encoded Message. The prefix lets the
// daemon find message boundaries in the stream without a delimiter.

// Message type tags.
const (
	TypePlay         = "play"
	TypeOverlay      = "overlay"
	TypeClearOverlay = "clear-overlay"
	TypePlane        = "plane"
	TypeClearPlane   = "clear-plane"
	TypeNotify       = "notify"
	TypeFrame        = "frame"
)

// Message is the envelope for every daemon-bound command. Only the fields
// relevant to Type are populated.
type Message struct {
	Type string `msgpack:"type"`

	// play / overlay / plane
	Path   string `msgpack:"path,omitempty"`
	System string `msgpack:"system,omitempty"`
	Game   string `msgpack:"game,omitempty"`

	// overlay
	DurationMS int `msgpack:"duration_ms,omitempty"`

	// notify
	Steps []NotifyStep `msgpack:"steps,omitempty"`

	// frame
	Seq    uint64 `msgpack:"seq,omitempty"`
	Width  int    `msgpack:"width,omitempty"`
	Height int    `msgpack:"height,omitempty"`
	Data   []byte `msgpack:"data,omitempty"`
}

// NotifyStep is one stage of a notification sequence (e.g. the cup image,
// then badge plus title).
type NotifyStep struct {
	ImagePath  string `msgpack:"image_path,omitempty"`
	Text       string `msgpack:"text,omitempty"`
	DurationMS int    `msgpack:"duration_ms"`
}

// maxMessageSize bounds a single message; a full RGB frame for a large
// virtual matrix is well under this.
const maxMessageSize = 8 << 20

// WriteMessage frames and writes one message.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dmd: marshal message: %w", err)
	}
	if len(payload) > maxMessageSize {
		return fmt.Errorf("dmd: message too large: %d bytes", len(payload))
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))

	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("dmd: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("dmd: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message. Used by tests and by any embedded
// matrix daemon built on the same protocol.
func ReadMessage(r io.Reader) (Message, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return Message{}, err
	}
	size := binary.BigEndian.Uint32(prefix)
	if size > maxMessageSize {
		return Message{}, fmt.Errorf("dmd: declared message size %d exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("dmd: read payload: %w", err)
	}

	var msg Message
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("dmd: unmarshal message: %w", err)
	}
	return msg, nil
}
