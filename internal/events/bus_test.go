package events

import (
	"testing"
	"time"
)

func TestPublishByTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 4)
	runCh := bus.Subscribe(TopicRun, 4)

	bus.Publish(TopicTask, TaskStartedEvent{ID: "a", Attempt: 1, Timestamp: time.Now()})

	select {
	case ev := <-taskCh:
		if ev.TaskID() != "a" || ev.EventType() != EventTypeTaskStarted {
			t.Errorf("got %s for %s", ev.EventType(), ev.TaskID())
		}
	case <-time.After(time.Second):
		t.Fatal("task subscriber did not receive event")
	}

	select {
	case ev := <-runCh:
		t.Fatalf("run subscriber received task event %s", ev.EventType())
	default:
	}
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(4)
	bus.Publish(TopicTask, TaskFailedEvent{ID: "a", Attempt: 2, Reason: "boom"})
	bus.Publish(TopicRun, BatchPlannedEvent{Phase: "p1", Tasks: []string{"a"}})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			got[ev.EventType()] = true
		case <-time.After(time.Second):
			t.Fatal("missing event on all-subscriber")
		}
	}
	if !got[EventTypeTaskFailed] || !got[EventTypeBatchPlanned] {
		t.Errorf("received = %v", got)
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	bus.Publish(TopicTask, TaskProgressEvent{ID: "a", Line: "1"})

	done := make(chan struct{})
	go func() {
		// Buffer is full; this publish must drop, not block.
		bus.Publish(TopicTask, TaskProgressEvent{ID: "a", Line: "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	ev := <-ch
	if ev.(TaskProgressEvent).Line != "1" {
		t.Errorf("kept event = %v, want the first", ev)
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 1)

	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel not closed")
	}
	// Publishing after close is a no-op.
	bus.Publish(TopicTask, TaskStartedEvent{ID: "a"})
}
