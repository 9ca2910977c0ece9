package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/e7canasta/lumen-marquee/internal/event"
	"github.com/e7canasta/lumen-marquee/internal/task"
)

// debouncer coalesces rapid navigation events. Each submission replaces
// the pending one, so after a burst only the last event survives the
// quiet window and reaches the dispatcher. Lifecycle events never pass
// through here.
type debouncer struct {
	window time.Duration
	slot   *task.Slot
	fired  atomic.Uint64
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		slot:   task.NewSlot("navigation"),
	}
}

// submit schedules ev to fire after the quiet window unless a newer
// navigation event supersedes it first. fire runs on the slot's
// goroutine with the slot's context, which the next submission cancels.
func (b *debouncer) submit(parent context.Context, ev event.Event, fire func(ctx context.Context, ev event.Event)) {
	b.slot.Replace(parent, func(ctx context.Context) {
		timer := time.NewTimer(b.window)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		b.fired.Add(1)
		fire(ctx, ev)
	})
}

func (b *debouncer) stop() {
	b.slot.Stop()
}

// dropped counts submissions that were superseded before firing.
func (b *debouncer) dropped() uint64 {
	gens := b.slot.Generation()
	fired := b.fired.Load()
	if gens < fired {
		return 0
	}
	return gens - fired
}
