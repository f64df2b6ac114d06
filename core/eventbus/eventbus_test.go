package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"visitly-go/core/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockEvent is a simple event for testing.
type mockEvent struct {
	name string
}

func (e *mockEvent) EventName() string {
	return e.name
}

// mockRunEvent is a run event for testing.
type mockRunEvent struct {
	name  string
	runID string
}

func (e *mockRunEvent) EventName() string {
	return e.name
}

func (e *mockRunEvent) RunID() string {
	return e.runID
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	bus.Subscribe(func(e event.Event) {
		received.Add(1)
		wg.Done()
	})

	bus.Publish(&mockEvent{name: "test"})

	// Wait for event to be delivered
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != 1 {
			t.Errorf("Expected 1 event, got %d", received.Load())
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3) // 3 subscribers

	for i := 0; i < 3; i++ {
		bus.Subscribe(func(e event.Event) {
			received.Add(1)
			wg.Done()
		})
	}

	bus.Publish(&mockEvent{name: "test"})

	// Wait for all events to be delivered
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != 3 {
			t.Errorf("Expected 3 events, got %d", received.Load())
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for events")
	}
}

func TestEventBus_RunFilter(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	var run1Received atomic.Int32
	var run2Received atomic.Int32
	var allReceived atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2) // run1 subscriber + all subscriber

	// Subscribe to run1 only
	bus.SubscribeRun("run1", func(e event.Event) {
		run1Received.Add(1)
		wg.Done()
	})

	// Subscribe to run2 only (should not receive)
	bus.SubscribeRun("run2", func(e event.Event) {
		run2Received.Add(1)
	})

	// Subscribe to all events
	bus.Subscribe(func(e event.Event) {
		allReceived.Add(1)
		wg.Done()
	})

	// Publish event for run1
	bus.Publish(&mockRunEvent{name: "test", runID: "run1"})

	// Wait for events to be delivered
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if run1Received.Load() != 1 {
			t.Errorf("run1 subscriber: expected 1, got %d", run1Received.Load())
		}
		if run2Received.Load() != 0 {
			t.Errorf("run2 subscriber: expected 0, got %d", run2Received.Load())
		}
		if allReceived.Load() != 1 {
			t.Errorf("all subscriber: expected 1, got %d", allReceived.Load())
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for events")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	var received atomic.Int32

	subID := bus.Subscribe(func(e event.Event) {
		received.Add(1)
	})

	// Unsubscribe
	bus.Unsubscribe(subID)

	// Publish event
	bus.Publish(&mockEvent{name: "test"})

	// Give some time for potential delivery
	time.Sleep(100 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 events after unsubscribe, got %d", received.Load())
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := New(10, nil)

	var received atomic.Int32
	bus.Subscribe(func(e event.Event) {
		received.Add(1)
	})

	// Close the bus
	bus.Close()

	// Publish should be no-op after close
	bus.Publish(&mockEvent{name: "test"})

	// Give some time
	time.Sleep(100 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 events after close, got %d", received.Load())
	}

	// Close again should not panic
	bus.Close()
}

func TestEventBus_HandlerPanic(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	// First handler panics
	bus.Subscribe(func(e event.Event) {
		panic("test panic")
	})

	// Second handler should still receive the event
	bus.Subscribe(func(e event.Event) {
		received.Add(1)
		wg.Done()
	})

	bus.Publish(&mockEvent{name: "test"})

	// Wait for event to be delivered
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != 1 {
			t.Errorf("Expected 1 event despite panic, got %d", received.Load())
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for event")
	}
}

func TestEventBus_NonRunEventToRunSubscriber(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	var received atomic.Int32

	// Subscribe to run1 only
	bus.SubscribeRun("run1", func(e event.Event) {
		received.Add(1)
	})

	// Publish non-run event (should not be delivered to run subscriber)
	bus.Publish(&mockEvent{name: "test"})

	// Give some time
	time.Sleep(100 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Run subscriber should not receive non-run events, got %d", received.Load())
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(100, nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	const numEvents = 100
	wg.Add(numEvents)

	bus.Subscribe(func(e event.Event) {
		received.Add(1)
		wg.Done()
	})

	// Publish concurrently
	for i := 0; i < numEvents; i++ {
		go func(i int) {
			bus.Publish(&mockEvent{name: "test"})
		}(i)
	}

	// Wait for all events
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != numEvents {
			t.Errorf("Expected %d events, got %d", numEvents, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Errorf("Timeout: received %d of %d events", received.Load(), numEvents)
	}
}

func TestEventBus_CloseDrainsQueue(t *testing.T) {
	bus := New(100, nil)

	var received atomic.Int32
	bus.Subscribe(func(e event.Event) {
		time.Sleep(time.Millisecond)
		received.Add(1)
	})

	for i := 0; i < 20; i++ {
		bus.Publish(&mockEvent{name: "test"})
	}

	// Close waits for queued events to be delivered
	bus.Close()

	if received.Load() != 20 {
		t.Errorf("Expected 20 events after close, got %d", received.Load())
	}
}

func TestEventBus_PublishDuringClose(t *testing.T) {
	bus := New(1, nil)
	bus.Subscribe(func(e event.Event) {})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(&mockEvent{name: "test"})
			}
		}()
	}

	bus.Close()
	wg.Wait()
}
