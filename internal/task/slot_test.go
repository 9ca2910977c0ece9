package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReplaceCancelsPreviousGeneration(t *testing.T) {
	slot := NewSlot("test")
	defer slot.Stop()

	firstCancelled := make(chan struct{})
	firstRunning := make(chan struct{})

	slot.Replace(context.Background(), func(ctx context.Context) {
		close(firstRunning)
		<-ctx.Done()
		close(firstCancelled)
	})

	<-firstRunning

	secondRunning := make(chan struct{})
	slot.Replace(context.Background(), func(ctx context.Context) {
		close(secondRunning)
		<-ctx.Done()
	})

	// By the time Replace returns, the first generation must be gone
	select {
	case <-firstCancelled:
	default:
		t.Fatal("previous generation still running after Replace returned")
	}

	select {
	case <-secondRunning:
	case <-time.After(1 * time.Second):
		t.Fatal("second generation never started")
	}
}

func TestNoInterleavedWritesAcrossGenerations(t *testing.T) {
	slot := NewSlot("writer")
	defer slot.Stop()

	var active atomic.Int32
	var maxActive atomic.Int32

	for i := 0; i < 20; i++ {
		slot.Replace(context.Background(), func(ctx context.Context) {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			defer active.Add(-1)
			<-ctx.Done()
		})
	}

	if got := maxActive.Load(); got > 1 {
		t.Fatalf("observed %d concurrent generations, want at most 1", got)
	}
}

func TestConcurrentReplace(t *testing.T) {
	slot := NewSlot("racer")
	defer slot.Stop()

	var active atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot.Replace(context.Background(), func(ctx context.Context) {
				if active.Add(1) > 1 {
					t.Error("two generations running concurrently")
				}
				defer active.Add(-1)
				<-ctx.Done()
			})
		}()
	}
	wg.Wait()
	slot.Stop()

	if n := active.Load(); n != 0 {
		t.Fatalf("%d generations still active after Stop", n)
	}
}

func TestStopIdempotent(t *testing.T) {
	slot := NewSlot("idempotent")

	ran := make(chan struct{})
	slot.Replace(context.Background(), func(ctx context.Context) {
		close(ran)
		<-ctx.Done()
	})
	<-ran

	slot.Stop()
	slot.Stop() // must not panic or block

	if slot.Active() {
		t.Fatal("slot still active after Stop")
	}
}

func TestPanicContainedAtGenerationBoundary(t *testing.T) {
	slot := NewSlot("panicky")

	slot.Replace(context.Background(), func(ctx context.Context) {
		panic("boom")
	})

	// Stop must not hang on the panicked generation
	done := make(chan struct{})
	go func() {
		slot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop blocked on a panicked generation")
	}
}
