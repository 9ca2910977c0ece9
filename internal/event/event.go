// Package event normalizes the two frontend event sources (a watched
// status file and a local IPC socket) into a single uniform event shape.
//
// Both sources funnel into the same channel of Event values. Event kinds
// are decoded once at this boundary; the rest of the daemon never touches
// event-name strings.
package event

import (
	"github.com/google/uuid"
)

// Kind is the closed set of frontend events the daemon understands.
type Kind int

const (
	// KindUnknown is the explicit variant for unrecognized event names.
	// Unknown events are logged and dropped, never silently re-routed.
	KindUnknown Kind = iota
	KindGameSelected
	KindSystemSelected
	KindGameStart
	KindGameEnd
	KindStopPreview
	KindPreviewOverlay
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindGameSelected:
		return "game-selected"
	case KindSystemSelected:
		return "system-selected"
	case KindGameStart:
		return "game-start"
	case KindGameEnd:
		return "game-end"
	case KindStopPreview:
		return "stop-preview"
	case KindPreviewOverlay:
		return "preview-overlay"
	default:
		return "unknown"
	}
}

// ParseKind decodes a wire event name into a Kind.
func ParseKind(name string) Kind {
	switch name {
	case "game-selected":
		return KindGameSelected
	case "system-selected":
		return KindSystemSelected
	case "game-start":
		return KindGameStart
	case "game-end":
		return KindGameEnd
	case "stop-preview":
		return KindStopPreview
	case "preview-overlay":
		return KindPreviewOverlay
	default:
		return KindUnknown
	}
}

// IsNavigation reports whether the kind is a debounced selection event.
// Everything else is a committed state transition and must never be
// dropped or coalesced.
func (k Kind) IsNavigation() bool {
	return k == KindGameSelected || k == KindSystemSelected
}

// Event is the uniform shape both sources produce.
//
// Params carry up to four positional values; missing parameters are empty
// strings. TraceID correlates an event through the debounce and dispatch
// pipeline in logs.
type Event struct {
	Kind    Kind
	Raw     string // original event name as received, kept for logging
	Params  [4]string
	TraceID string
}

// newTraceID returns a short trace identifier for pipeline correlation.
func newTraceID() string {
	return uuid.NewString()[:8]
}
