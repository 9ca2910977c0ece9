package retro

import "testing"

func TestFeedDropsWhenFull(t *testing.T) {
	feed := NewFeed(2)
	if !feed.Publish(Event{Type: EventUnlock}) {
		t.Fatal("publish into empty feed failed")
	}
	if !feed.Publish(Event{Type: EventPresenceUpdated}) {
		t.Fatal("publish into non-full feed failed")
	}
	if feed.Publish(Event{Type: EventChallengeUpdated}) {
		t.Fatal("publish into full feed should report drop")
	}
	if feed.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", feed.Dropped())
	}

	ev := <-feed.Events()
	if ev.Type != EventUnlock {
		t.Errorf("first event = %s, want unlock", ev.Type)
	}
}

func TestChallengeStateLifecycle(t *testing.T) {
	state := NewChallengeState()

	state.Update(Challenge{AchievementID: 7, IsActive: true, Type: ChallengeTimer, Title: "Speedrun"})
	state.Update(Challenge{AchievementID: 3, IsActive: true, Type: ChallengeProgress, Title: "Rings"})
	if state.Len() != 2 {
		t.Fatalf("len = %d, want 2", state.Len())
	}

	active := state.SnapshotActive()
	if active[0].AchievementID != 3 || active[1].AchievementID != 7 {
		t.Errorf("snapshot not in id order: %+v", active)
	}

	// An inactive update removes the entry
	state.Update(Challenge{AchievementID: 7, IsActive: false})
	if state.Len() != 1 {
		t.Errorf("len after deactivation = %d, want 1", state.Len())
	}

	state.Clear()
	if state.Len() != 0 {
		t.Errorf("len after clear = %d, want 0", state.Len())
	}
}

func TestSessionCounts(t *testing.T) {
	session := NewSession()
	session.Begin([]Achievement{
		{ID: 1, DisplayOrder: 2, Unlocked: true},
		{ID: 2, DisplayOrder: 1},
		{ID: 3, DisplayOrder: 3},
	}, true)

	unlocked, total := session.Counts()
	if unlocked != 1 || total != 3 {
		t.Errorf("counts = (%d, %d), want (1, 3)", unlocked, total)
	}
	if !session.Hardcore() {
		t.Error("hardcore flag lost")
	}

	session.MarkUnlocked(2)
	session.MarkUnlocked(2) // double unlock must not double count
	session.MarkUnlocked(99)
	unlocked, _ = session.Counts()
	if unlocked != 2 {
		t.Errorf("unlocked = %d, want 2", unlocked)
	}

	ordered := session.Achievements()
	if ordered[0].ID != 2 || ordered[1].ID != 1 || ordered[2].ID != 3 {
		t.Errorf("achievements not in display order: %+v", ordered)
	}

	session.Clear()
	if _, total := session.Counts(); total != 0 {
		t.Errorf("total after clear = %d, want 0", total)
	}
}
