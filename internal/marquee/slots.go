package marquee

import "fmt"

// OverlaySlot is a numbered compositing layer on the marquee surface.
// Each concern owns a fixed slot so concurrent writers can never collide;
// the mapping below is the single source of truth, replacing the magic
// slot integers convention the player protocol itself uses.
type OverlaySlot int

// Concern identifies who owns an overlay slot.
type Concern int

const (
	ConcernNotification Concern = iota // one-shot unlock notification
	ConcernPreview                     // one-shot preview overlay
	ConcernChallenge                   // challenge rotation
	ConcernStatItem                    // generic stat rotation
	ConcernRank
	ConcernLap
	ConcernWeapon
	ConcernLives
	ConcernNarrative // scrolling rich-presence text
	ConcernBadges    // badge ribbon
	ConcernCount     // unlocked/total counter
	ConcernScore
)

var concernNames = map[Concern]string{
	ConcernNotification: "notification",
	ConcernPreview:      "preview",
	ConcernChallenge:    "challenge",
	ConcernStatItem:     "stat-item",
	ConcernRank:         "rank",
	ConcernLap:          "lap",
	ConcernWeapon:       "weapon",
	ConcernLives:        "lives",
	ConcernNarrative:    "narrative",
	ConcernBadges:       "badges",
	ConcernCount:        "count",
	ConcernScore:        "score",
}

func (c Concern) String() string {
	if n, ok := concernNames[c]; ok {
		return n
	}
	return fmt.Sprintf("concern(%d)", int(c))
}

// slotTable maps each concern to its overlay slot. The player supports
// slots 1-12.
var slotTable = map[Concern]OverlaySlot{
	ConcernNotification: 1,
	ConcernPreview:      2,
	ConcernChallenge:    3,
	ConcernStatItem:     4,
	ConcernRank:         5,
	ConcernLap:          6,
	ConcernWeapon:       7,
	ConcernLives:        8,
	ConcernNarrative:    9,
	ConcernBadges:       10,
	ConcernCount:        11,
	ConcernScore:        12,
}

const (
	minSlot OverlaySlot = 1
	maxSlot OverlaySlot = 12
)

// SlotFor returns the overlay slot a concern owns.
func SlotFor(c Concern) OverlaySlot {
	return slotTable[c]
}

// AllSlots returns every assigned slot, for bulk clears.
func AllSlots() []OverlaySlot {
	slots := make([]OverlaySlot, 0, len(slotTable))
	for _, s := range slotTable {
		slots = append(slots, s)
	}
	return slots
}

// ValidateSlotTable checks the concern-to-slot mapping for range and
// uniqueness. Called once at startup; a bad table is a programming error
// worth refusing to boot over.
func ValidateSlotTable() error {
	seen := make(map[OverlaySlot]Concern, len(slotTable))
	for concern, slot := range slotTable {
		if slot < minSlot || slot > maxSlot {
			return fmt.Errorf("marquee: slot %d for %s out of range %d-%d", slot, concern, minSlot, maxSlot)
		}
		if prev, dup := seen[slot]; dup {
			return fmt.Errorf("marquee: slot %d assigned to both %s and %s", slot, prev, concern)
		}
		seen[slot] = concern
	}
	return nil
}

// Alignment positions an overlay on the surface.
type Alignment int

const (
	AlignTopLeft Alignment = iota
	AlignTopCenter
	AlignTopRight
	AlignCenterLeft
	AlignCenter
	AlignCenterRight
	AlignBottomLeft
	AlignBottomCenter
	AlignBottomRight
)

func (a Alignment) String() string {
	switch a {
	case AlignTopLeft:
		return "top-left"
	case AlignTopCenter:
		return "top-center"
	case AlignTopRight:
		return "top-right"
	case AlignCenterLeft:
		return "center-left"
	case AlignCenter:
		return "center"
	case AlignCenterRight:
		return "center-right"
	case AlignBottomLeft:
		return "bottom-left"
	case AlignBottomCenter:
		return "bottom-center"
	case AlignBottomRight:
		return "bottom-right"
	default:
		return "center"
	}
}
