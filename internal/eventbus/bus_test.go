package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeTaskStarted, Data: "eod"})
	b.Publish(Event{Type: TypeTaskFinished, Data: "eod"})

	if ev := <-a; ev.Type != TypeTaskStarted || ev.Time.IsZero() {
		t.Fatalf("a got %+v", ev)
	}
	select {
	case ev := <-a:
		t.Fatalf("full subscriber should have dropped, got %+v", ev)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events, want 2", len(c))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeSchedulerStopped})
}
