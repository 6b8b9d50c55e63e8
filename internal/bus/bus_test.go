package bus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var got []int

	done := make(chan struct{})
	count := 0
	b.Subscribe(SessionStarted, func(e Event) {
		mu.Lock()
		got = append(got, e.Payload["n"].(int))
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		b.Publish(SessionStarted, map[string]any{"n": i}, "")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		if n != i {
			t.Fatalf("out of order delivery: got %v", got)
		}
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(nil)

	failureSeen := make(chan struct{})
	b.Subscribe(SchedulerHandlerFailure, func(e Event) {
		close(failureSeen)
	})

	otherSeen := make(chan struct{})
	b.Subscribe(SessionFailed, func(e Event) {
		panic("boom")
	})
	b.Subscribe(SessionCompleted, func(e Event) {
		close(otherSeen)
	})

	b.Publish(SessionFailed, nil, "")
	b.Publish(SessionCompleted, nil, "")

	select {
	case <-otherSeen:
	case <-time.After(time.Second):
		t.Fatal("second subscriber never ran after first panicked")
	}
	select {
	case <-failureSeen:
	case <-time.After(time.Second):
		t.Fatal("expected SchedulerHandlerFailure to be published")
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(SessionStarted, nil, "") // must not panic
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	calls := 0
	sub := b.Subscribe(IssueCreated, func(e Event) { calls++ })
	b.Unsubscribe(sub)

	if n := b.SubscriberCount(IssueCreated); n != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", n)
	}
}

func TestBackpressureDropsAndPublishesOverload(t *testing.T) {
	b := New(nil, WithSubscriberBuffer(1), WithBackpressureWait(time.Millisecond))

	block := make(chan struct{})
	b.Subscribe(IssueCreated, func(e Event) {
		<-block // never returns until test releases it
	})

	overload := make(chan struct{}, 1)
	b.Subscribe(SchedulerOverload, func(e Event) {
		select {
		case overload <- struct{}{}:
		default:
		}
	})

	// First event occupies the handler (blocked). Second fills the
	// buffer. Third has nowhere to go and should be dropped, emitting
	// SchedulerOverload.
	b.Publish(IssueCreated, nil, "")
	b.Publish(IssueCreated, nil, "")
	b.Publish(IssueCreated, nil, "")

	select {
	case <-overload:
	case <-time.After(time.Second):
		t.Fatal("expected SchedulerOverload to be published under back-pressure")
	}
	close(block)
}
