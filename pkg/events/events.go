package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of lifecycle event published.
type EventType string

const (
	// EventTransactionStarted fires when the coordinator joins a new
	// transaction to a fresh context.
	EventTransactionStarted EventType = "transaction.started"
	// EventTransactionCommitted fires after every participant's commit
	// call returns.
	EventTransactionCommitted EventType = "transaction.committed"
	// EventTransactionAborted fires when an attempt fails: the task
	// returns an error, or a participant's prepare or commit fails.
	EventTransactionAborted EventType = "transaction.aborted"
	// EventTransactionRetried fires each time the coordinator re-runs a
	// task after a retryable abort.
	EventTransactionRetried EventType = "transaction.retried"
	// EventSilentMutation fires when modification detection finds an
	// object dirtied without mark_for_update (spec §4.3, invariant 8).
	EventSilentMutation EventType = "object.silent_mutation"
	// EventServiceStateChanged fires on every coordinator lifecycle
	// transition (§4.6).
	EventServiceStateChanged EventType = "service.state_changed"
)

// Event is one published occurrence. Metadata carries event-specific
// context (e.g. "txn_id", "error_kind") as plain strings so subscribers
// never need to know concrete coordinator/store types.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes events to subscribers without blocking the
// publisher. It is used by the coordinator so a concurrent Shutdown()
// caller can block on EventServiceStateChanged until draining completes,
// and so tests can observe retries/aborts/silent mutations.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker's distribution loop. Publish after Stop is a
// silent no-op.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish delivers event to every current subscriber. It never blocks the
// caller on a slow subscriber: a full subscriber buffer drops the event.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
