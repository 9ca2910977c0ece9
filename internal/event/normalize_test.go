package event

import (
	"testing"
)

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		ok     bool
		kind   Kind
		params [4]string
	}{
		{
			name: "game selected with all params",
			line: "event=game-selected&param1=snes&param2=Super Metroid&param3=/roms/snes/sm.sfc&param4=1",
			ok:   true,
			kind: KindGameSelected,
			params: [4]string{
				"snes", "Super Metroid", "/roms/snes/sm.sfc", "1",
			},
		},
		{
			name:   "missing params default empty",
			line:   "event=system-selected&param1=megadrive",
			ok:     true,
			kind:   KindSystemSelected,
			params: [4]string{"megadrive", "", "", ""},
		},
		{
			name:   "escaped comma colon quote",
			line:   "event=game-selected&param1=arcade&param2=Dance%2C Dance%3A %22Revolution%22",
			ok:     true,
			kind:   KindGameSelected,
			params: [4]string{"arcade", `Dance, Dance: "Revolution"`, "", ""},
		},
		{
			name:   "malformed pairs tolerated",
			line:   "garbage&event=game-end&alsogarbage",
			ok:     true,
			kind:   KindGameEnd,
			params: [4]string{"", "", "", ""},
		},
		{
			name: "no event key",
			line: "param1=snes&param2=foo",
			ok:   false,
		},
		{
			name: "empty line",
			line: "   ",
			ok:   false,
		},
		{
			name:   "unknown event maps to explicit variant",
			line:   "event=reboot-requested",
			ok:     true,
			kind:   KindUnknown,
			params: [4]string{"", "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ParseStatusLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", ev.Kind, tt.kind)
			}
			if ev.Params != tt.params {
				t.Errorf("params = %q, want %q", ev.Params, tt.params)
			}
			if ev.TraceID == "" {
				t.Error("expected non-empty trace id")
			}
		})
	}
}

func TestParseIPCMessage(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		ok     bool
		kind   Kind
		params [4]string
	}{
		{
			name:   "full command",
			msg:    "game-start|snes|Super Metroid|/roms/snes/sm.sfc|normal",
			ok:     true,
			kind:   KindGameStart,
			params: [4]string{"snes", "Super Metroid", "/roms/snes/sm.sfc", "normal"},
		},
		{
			name:   "trailing params optional",
			msg:    "stop-preview",
			ok:     true,
			kind:   KindStopPreview,
			params: [4]string{"", "", "", ""},
		},
		{
			name: "zero length ignored",
			msg:  "",
			ok:   false,
		},
		{
			name:   "extra fields beyond four dropped",
			msg:    "preview-overlay|a|b|c|d|e|f",
			ok:     true,
			kind:   KindPreviewOverlay,
			params: [4]string{"a", "b", "c", "d"},
		},
		{
			name:   "crlf stripped",
			msg:    "game-end\r\n",
			ok:     true,
			kind:   KindGameEnd,
			params: [4]string{"", "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ParseIPCMessage(tt.msg)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", ev.Kind, tt.kind)
			}
			if ev.Params != tt.params {
				t.Errorf("params = %q, want %q", ev.Params, tt.params)
			}
		})
	}
}

func TestKindClassification(t *testing.T) {
	navigation := []Kind{KindGameSelected, KindSystemSelected}
	lifecycle := []Kind{KindGameStart, KindGameEnd, KindStopPreview, KindPreviewOverlay, KindUnknown}

	for _, k := range navigation {
		if !k.IsNavigation() {
			t.Errorf("%v should be navigation", k)
		}
	}
	for _, k := range lifecycle {
		if k.IsNavigation() {
			t.Errorf("%v should not be navigation", k)
		}
	}
}

func TestKindRoundTrip(t *testing.T) {
	kinds := []Kind{
		KindGameSelected, KindSystemSelected, KindGameStart,
		KindGameEnd, KindStopPreview, KindPreviewOverlay,
	}
	for _, k := range kinds {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if ParseKind("unknown") != KindUnknown {
		t.Error("the unknown wire name must not map to a concrete kind")
	}
}
