package obsbus

import (
	"testing"
	"time"
)

func TestPublishSubscribeFilter(t *testing.T) {
	b := New(10)
	sub := b.Subscribe(Filter{Kinds: []Kind{KindToolExecution}}, 4)
	defer sub.Unsubscribe()

	b.Publish(Event{Kind: KindLog, SessionID: "s1"})
	b.Publish(Event{Kind: KindToolExecution, SessionID: "s1", Payload: "echo"})

	select {
	case e := <-sub.Events():
		if e.Kind != KindToolExecution {
			t.Fatalf("expected tool_execution, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDropsMonotonicUnderOverload(t *testing.T) {
	b := New(2)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Kind: KindLog})
	}
	if b.Drops() <= 0 {
		t.Fatalf("expected drops > 0, got %d", b.Drops())
	}
	prev := b.Drops()
	b.Publish(Event{Kind: KindLog})
	if b.Drops() <= prev {
		t.Fatalf("expected drops to strictly increase, prev=%d now=%d", prev, b.Drops())
	}
}

func TestBackfillReturnsRecentMatching(t *testing.T) {
	b := New(5)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindLog, SessionID: "s1"})
	}
	b.Publish(Event{Kind: KindError, SessionID: "s1"})

	got := b.Backfill(Filter{Kinds: []Kind{KindError}}, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 backfilled error event, got %d", len(got))
	}
}

func TestPublishNeverBlocksFullSubscriber(t *testing.T) {
	b := New(5)
	sub := b.Subscribe(Filter{}, 1)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			b.Publish(Event{Kind: KindLog})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}
