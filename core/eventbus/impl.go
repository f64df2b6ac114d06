package eventbus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"visitly-go/core/event"
)

// subscription represents a single event subscription.
type subscription struct {
	id      string
	handler EventHandler
	runID   string // Empty string means subscribe to all events
}

// channelEventBus is a channel-based implementation of EventBus.
type channelEventBus struct {
	eventChan     chan event.Event
	subscriptions map[string]*subscription
	mu            sync.RWMutex

	// closeMu guards eventChan against a send racing Close.
	closeMu sync.RWMutex
	closed  bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a new EventBus with the specified buffer size.
func New(bufferSize int, logger *slog.Logger) EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	bus := &channelEventBus{
		eventChan:     make(chan event.Event, bufferSize),
		subscriptions: make(map[string]*subscription),
		logger:        logger.With("component", "eventbus"),
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish publishes an event to all subscribers.
func (b *channelEventBus) Publish(e event.Event) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return
	}

	// Non-blocking send so a slow subscriber never stalls the scheduler
	select {
	case b.eventChan <- e:
	default:
		b.logger.Warn("Event buffer full, dropping event", "event", e.EventName())
	}
}

// Subscribe subscribes to all events.
func (b *channelEventBus) Subscribe(handler EventHandler) string {
	return b.subscribe("", handler)
}

// SubscribeRun subscribes to events from a specific run.
func (b *channelEventBus) SubscribeRun(runID string, handler EventHandler) string {
	return b.subscribe(runID, handler)
}

func (b *channelEventBus) subscribe(runID string, handler EventHandler) string {
	id := uuid.NewString()

	b.mu.Lock()
	b.subscriptions[id] = &subscription{
		id:      id,
		handler: handler,
		runID:   runID,
	}
	b.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription by its ID.
func (b *channelEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	delete(b.subscriptions, subscriptionID)
	b.mu.Unlock()
}

// Close shuts down the event bus.
func (b *channelEventBus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.closeMu.Unlock()

	b.wg.Wait()
}

// dispatch is the main event dispatch loop.
func (b *channelEventBus) dispatch() {
	defer b.wg.Done()

	for e := range b.eventChan {
		b.deliverEvent(e)
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (b *channelEventBus) deliverEvent(e event.Event) {
	b.mu.RLock()
	// Copy subscriptions to avoid holding lock during handler execution
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var eventRunID string
	if re, ok := e.(event.RunEvent); ok {
		eventRunID = re.RunID()
	}

	for _, sub := range subs {
		if sub.runID != "" {
			if eventRunID == "" || sub.runID != eventRunID {
				continue
			}
		}

		// Catch panics so one bad handler cannot affect the others
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked", "event", e.EventName(), "panic", r)
				}
			}()
			sub.handler(e)
		}()
	}
}
