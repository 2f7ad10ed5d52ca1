package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New()
	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(Event{Kind: KindChat, Message: "hi"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != KindChat || ev.Message != "hi" {
				t.Fatalf("subscriber %d got %+v", i, ev)
			}
			if ev.Time.IsZero() {
				t.Fatal("event time not stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := New()
	_, cancel := bus.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuf*3; i++ {
			bus.Publish(Event{Kind: KindStatsTick})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuf+10; i++ {
		bus.Publish(Event{Kind: KindStatsTick, RTT: float64(i)})
	}

	// The queue holds the newest subscriberBuf events; the first one out
	// must not be event 0.
	ev := <-ch
	if ev.RTT == 0 {
		t.Fatal("oldest event survived a full queue")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after cancel")
	}
	// Publishing after cancel must not panic.
	bus.Publish(Event{Kind: KindError})
	cancel() // idempotent
}
