package core

import (
	"strings"
	"sync"

	"github.com/e7canasta/lumen-marquee/internal/marquee"
)

// statItem is one generic rich-presence stat fed to the rotation.
type statItem struct {
	Label string
	Value string
}

// presenceTable keeps the generic stats in first-seen order so the
// rotation is stable while values update in place.
type presenceTable struct {
	mu     sync.Mutex
	order  []string
	values map[string]string
}

func newPresenceTable() *presenceTable {
	return &presenceTable{values: make(map[string]string)}
}

// set stores a stat and reports whether the key was new.
func (t *presenceTable) set(key, value string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.values[key]
	if !known {
		t.order = append(t.order, key)
	}
	t.values[key] = value
	return !known
}

func (t *presenceTable) genericSnapshot() []statItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]statItem, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, statItem{Label: key, Value: t.values[key]})
	}
	return out
}

func (t *presenceTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.values = make(map[string]string)
}

// classifyPresenceKey maps a rich-presence key to its fixed overlay
// concern. Keys with no fixed slot go to the generic stat rotation.
func classifyPresenceKey(key string) (marquee.Concern, bool) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "score", "points":
		return marquee.ConcernScore, true
	case "lives", "life":
		return marquee.ConcernLives, true
	case "weapon", "item":
		return marquee.ConcernWeapon, true
	case "lap":
		return marquee.ConcernLap, true
	case "rank", "position", "place":
		return marquee.ConcernRank, true
	}
	return 0, false
}
