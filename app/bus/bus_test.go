package bus

import (
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	b := New()

	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	if b.SubscriberCount() != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", b.SubscriberCount())
	}

	b.Publish(EventTaskUpdate, map[string]int{"task_id": 1})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Type != EventTaskUpdate {
				t.Errorf("Subscriber %d: expected type %q, got %q", i, EventTaskUpdate, event.Type)
			}
			if event.Timestamp.IsZero() {
				t.Errorf("Subscriber %d: expected timestamp to be set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d: timed out waiting for event", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()

	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel to be closed, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for channel close")
	}

	if b.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}

	// A second unsubscribe for the same id must be a no-op.
	b.Unsubscribe(id)
}

func TestPublishAfterUnsubscribeDoesNotPanic(t *testing.T) {
	b := New()

	id, _ := b.Subscribe()
	b.Unsubscribe(id)

	b.Publish(EventTicketUpdate, nil)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	b.bufferSize = 2

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	// Nobody reads; the buffer holds two events and the rest are dropped.
	for i := 0; i < 10; i++ {
		b.Publish(EventTicketUpdate, i)
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != 2 {
				t.Errorf("Expected 2 buffered events, got %d", received)
			}
			return
		}
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := New()
	b.Publish(EventTaskUpdate, "no listeners")
}
