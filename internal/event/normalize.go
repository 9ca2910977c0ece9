package event

import (
	"strings"
)

// Status file format: "&"-joined key=value pairs, e.g.
//
//	event=game-selected&param1=snes&param2=Super%20Metroid&param3=%2Froms%2Fsm.sfc
//
// Values use a small fixed escape table for characters that would collide
// with the pair syntax or downstream path handling. The table is decoded
// here and nowhere else.
var statusEscapes = strings.NewReplacer(
	"%2C", ",",
	"%3A", ":",
	"%22", `"`,
	"%20", " ",
	"%26", "&",
	"%25", "%",
)

// decodeValue applies the status-file escape table.
func decodeValue(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	return statusEscapes.Replace(v)
}

// ParseStatusLine parses one line of the watched status file.
//
// Missing keys default to empty strings and malformed pairs (no "=") are
// tolerated and skipped; a frontend mid-write must never wedge the
// pipeline. The second return is false when the line carries no event key
// at all.
func ParseStatusLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	var name string
	var params [4]string

	for _, pair := range strings.Split(line, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		value = decodeValue(value)
		switch key {
		case "event":
			name = value
		case "param1":
			params[0] = value
		case "param2":
			params[1] = value
		case "param3":
			params[2] = value
		case "param4":
			params[3] = value
		}
	}

	if name == "" {
		return Event{}, false
	}

	return Event{
		Kind:    ParseKind(name),
		Raw:     name,
		Params:  params,
		TraceID: newTraceID(),
	}, true
}

// ParseIPCMessage parses one pipe-delimited IPC message:
//
//	command|p1|p2|p3|p4
//
// Trailing parameters are optional. A zero-length message is ignored.
func ParseIPCMessage(msg string) (Event, bool) {
	msg = strings.TrimRight(msg, "\r\n")
	if len(msg) == 0 {
		return Event{}, false
	}

	fields := strings.Split(msg, "|")
	name := fields[0]

	var params [4]string
	for i := 0; i < 4 && i+1 < len(fields); i++ {
		params[i] = fields[i+1]
	}

	return Event{
		Kind:    ParseKind(name),
		Raw:     name,
		Params:  params,
		TraceID: newTraceID(),
	}, true
}
