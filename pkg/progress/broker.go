// Package progress adapts the teacher's cluster event broker into a
// lightweight SCHEDULING/EXECUTING progress feed for spawn executions.
package progress

import (
	"sync"
	"time"

	"github.com/cuemby/kiln/pkg/types"
)

// Event is one progress report emitted by the orchestrator.
type Event struct {
	RunID     string
	Mnemonic  string
	State     types.ProgressState
	Component string
	Timestamp time.Time
}

// Subscriber is a channel that receives progress events.
type Subscriber chan *Event

// Broker fans out progress events to subscribers (e.g. an HTTP status
// endpoint), grounded on the teacher's pkg/events.Broker.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker constructs a Broker. Start must be called before Publish.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the distribution loop. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe opens a new subscription.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 32)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for distribution. Publish never blocks past
// Stop: it is dropped if the broker has already been stopped.
func (b *Broker) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Policy wraps an ExecutionPolicy, publishing every ReportProgress call onto
// a Broker in addition to forwarding it, so progress is observable from both
// the caller and any subscriber.
type Policy struct {
	types.ExecutionPolicy
	Broker   *Broker
	RunID    string
	Mnemonic string
}

// ReportProgress forwards to the wrapped policy and publishes onto Broker.
func (p *Policy) ReportProgress(state types.ProgressState, component string) {
	p.ExecutionPolicy.ReportProgress(state, component)
	if p.Broker != nil {
		p.Broker.Publish(&Event{
			RunID:     p.RunID,
			Mnemonic:  p.Mnemonic,
			State:     state,
			Component: component,
		})
	}
}
