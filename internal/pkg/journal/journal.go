// Package journal is the State Journal's in-process event bus: once a
// service-layer operation has committed its mutation and audit entry
// (internal/service does both in one transaction), it publishes one
// event here so that alerting, webhooks, and metrics collection are
// subscribers rather than inline calls baked into each mutation. The
// bus itself is a small synchronous fan-out over a list of registered
// subscribers, deliberately not a message broker client: this is
// single-process pub/sub and stays in-process.
package journal

import (
	"sync"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// Event is one published state change.
type Event struct {
	Type       model.AuditEventType
	EntityType model.EntityKind
	EntityID   string
	Operator   string
	Details    map[string]string
	Timestamp  time.Time
}

// Subscriber receives every published Event. Implementations must not
// block for long: the bus calls Notify synchronously on the publishing
// goroutine and neither buffers nor drops events, so a slow subscriber
// holds up the operation that published.
type Subscriber interface {
	Notify(Event)
}

// Bus is the in-process event bus. Zero value is usable.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers s to receive all future events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish fans e out to every subscriber synchronously and in
// registration order. Subscribers are expected to hand off to their
// own worker pool (e.g. internal/pkg/alert) rather than do I/O here.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.Notify(e)
	}
}

// FuncSubscriber adapts a plain function to the Subscriber interface,
// for simple in-process listeners (e.g. metrics gauges) that don't
// warrant their own named type.
type FuncSubscriber func(Event)

func (f FuncSubscriber) Notify(e Event) { f(e) }
