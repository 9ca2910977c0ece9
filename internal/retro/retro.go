// Package retro is the achievement-service collaborator surface: the
// event shapes the reactor consumes, the live challenge table, and the
// per-session achievement state. The service itself (network client,
// hashing, auth) lives outside the daemon; this package only defines
// what crosses the boundary.
package retro

import (
	"fmt"
	"sort"
	"sync"
)

// EventType tags one achievement-service event.
type EventType int

const (
	EventUnlock EventType = iota
	EventSessionStart
	EventHardcoreChanged
	EventPresenceUpdated
	EventChallengeUpdated
)

func (t EventType) String() string {
	switch t {
	case EventUnlock:
		return "unlock"
	case EventSessionStart:
		return "session-start"
	case EventHardcoreChanged:
		return "hardcore-changed"
	case EventPresenceUpdated:
		return "presence-updated"
	case EventChallengeUpdated:
		return "challenge-updated"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Achievement is one achievement definition plus its unlock state.
type Achievement struct {
	ID           int
	Title        string
	Description  string
	BadgePath    string
	Points       int
	DisplayOrder int
	Unlocked     bool
}

// ChallengeType classifies how a challenge's value evolves, which decides
// its rotation refresh behavior.
type ChallengeType int

const (
	ChallengeProgress ChallengeType = iota
	ChallengeTimer
	ChallengeLeaderboard
	ChallengeOther
)

func (t ChallengeType) String() string {
	switch t {
	case ChallengeProgress:
		return "progress"
	case ChallengeTimer:
		return "timer"
	case ChallengeLeaderboard:
		return "leaderboard"
	default:
		return "other"
	}
}

// Challenge is a live time-boxed or progress-boxed goal.
type Challenge struct {
	AchievementID int
	IsActive      bool
	Type          ChallengeType
	Title         string
	Description   string
	CurrentValue  string
	TargetValue   string
	BadgePath     string
}

// Event is one achievement-service notification. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	// EventUnlock
	Achievement *Achievement

	// EventSessionStart
	Achievements []Achievement

	// EventSessionStart / EventHardcoreChanged
	Hardcore bool

	// EventPresenceUpdated: key/value pairs plus the free-text line
	Presence  map[string]string
	Narrative string

	// EventChallengeUpdated
	Challenge *Challenge
}

// Feed is the bounded channel between the achievement service's
// callbacks and the reactor's single consumer loop. Publishing never
// blocks the service: when the reactor falls behind, events are dropped
// and counted instead of queuing without bound.
type Feed struct {
	events  chan Event
	mu      sync.Mutex
	dropped uint64
}

// NewFeed creates a feed with the given buffer capacity.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 64
	}
	return &Feed{events: make(chan Event, capacity)}
}

// Events returns the consumer side of the feed.
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Publish enqueues an event, reporting false if the feed was full.
func (f *Feed) Publish(ev Event) bool {
	select {
	case f.events <- ev:
		return true
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		return false
	}
}

// Dropped returns how many events were discarded on a full feed.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// ChallengeState is the live table of active challenges, keyed by
// achievement id. Updated by the reactor, read by the challenge
// rotation loop on both surfaces.
type ChallengeState struct {
	mu     sync.RWMutex
	active map[int]Challenge
}

// NewChallengeState creates an empty table.
func NewChallengeState() *ChallengeState {
	return &ChallengeState{active: make(map[int]Challenge)}
}

// Update stores ch, or removes its entry when ch.IsActive is false.
func (s *ChallengeState) Update(ch Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ch.IsActive {
		delete(s.active, ch.AchievementID)
		return
	}
	s.active[ch.AchievementID] = ch
}

// SnapshotActive returns the active challenges in stable id order. The
// slice is a copy; rotation loops iterate it without holding the lock.
func (s *ChallengeState) SnapshotActive() []Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Challenge, 0, len(s.active))
	for _, ch := range s.active {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out
}

// Len returns the number of active challenges.
func (s *ChallengeState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Clear drops every entry. Called on game end.
func (s *ChallengeState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[int]Challenge)
}

// Session holds the achievement set for the running game. Single writer
// (the reactor), read by the badge cycle when composing ribbons.
type Session struct {
	mu           sync.RWMutex
	achievements []Achievement
	hardcore     bool
	unlocked     int
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// Begin installs the game's achievement set, replacing any prior state.
func (s *Session) Begin(achievements []Achievement, hardcore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.achievements = make([]Achievement, len(achievements))
	copy(s.achievements, achievements)
	s.hardcore = hardcore
	s.unlocked = 0
	for _, a := range s.achievements {
		if a.Unlocked {
			s.unlocked++
		}
	}
}

// MarkUnlocked flags one achievement as unlocked. Unknown ids are
// ignored; the service may report unlocks for sets it never announced.
func (s *Session) MarkUnlocked(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.achievements {
		if s.achievements[i].ID == id && !s.achievements[i].Unlocked {
			s.achievements[i].Unlocked = true
			s.unlocked++
			return
		}
	}
}

// SetHardcore flips the hardcore flag.
func (s *Session) SetHardcore(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardcore = on
}

// Hardcore reports the current hardcore flag.
func (s *Session) Hardcore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardcore
}

// Counts returns (unlocked, total) for the count overlay.
func (s *Session) Counts() (unlocked, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked, len(s.achievements)
}

// Achievements returns a copy of the set sorted by display order.
func (s *Session) Achievements() []Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Achievement, len(s.achievements))
	copy(out, s.achievements)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// Clear drops the session state. Called on game end.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.achievements = nil
	s.hardcore = false
	s.unlocked = 0
}
