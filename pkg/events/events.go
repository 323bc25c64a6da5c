/*
Package events is an in-process pub/sub broker for engine lifecycle
notifications — commits, aborts, and run-status transitions — for callers
that want to react to database activity (a CLI follower, an in-process
cache invalidator, a test assertion) without polling. It does not touch
durability: by the time a notification is published, the commit it
describes is already in the WAL and visible in the store.
*/
package events

import (
	"sync"
	"time"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

// EventType identifies what happened.
type EventType string

const (
	EventTxnCommitted EventType = "txn.committed"
	EventTxnAborted   EventType = "txn.aborted"
	EventRunBegan     EventType = "run.began"
	EventRunEnded     EventType = "run.ended"
	EventRunPaused    EventType = "run.paused"
	EventRunResumed   EventType = "run.resumed"
	EventRunArchived  EventType = "run.archived"
)

// Event is one notification published by an Engine.
type Event struct {
	Type      EventType
	RunID     keyspace.RunId
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes Events to every current Subscriber. Publish never
// blocks the caller beyond handing the event to the broker's internal
// queue; a slow or absent subscriber only drops events for itself.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker. Call Start to begin distributing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Publish after Stop is a no-op.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel. Callers must
// Unsubscribe when done to free the broker's internal bookkeeping.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish hands event to every current subscriber. It sets Timestamp if
// the caller left it zero.
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
			// subscriber buffer full, drop for this one
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
