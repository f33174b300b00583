package journal

import (
	"testing"
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

func TestBusFanOutInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []string
	b.Subscribe(FuncSubscriber(func(e Event) { order = append(order, "first") }))
	b.Subscribe(FuncSubscriber(func(e Event) { order = append(order, "second") }))

	b.Publish(Event{Type: model.EventDeploy, Timestamp: time.Now()})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("fan-out order = %v", order)
	}
}

func TestBusDeliversEventContent(t *testing.T) {
	b := NewBus()
	var got Event
	b.Subscribe(FuncSubscriber(func(e Event) { got = e }))

	sent := Event{
		Type:      model.EventRotateKeys,
		EntityID:  "r1",
		Operator:  "ops",
		Details:   map[string]string{"reason": "scheduled"},
		Timestamp: time.Now(),
	}
	b.Publish(sent)

	if got.Type != sent.Type || got.EntityID != sent.EntityID || got.Details["reason"] != "scheduled" {
		t.Fatalf("event content lost in delivery: %+v", got)
	}
}

func TestBusNoSubscribers(t *testing.T) {
	b := NewBus()
	b.Publish(Event{Type: model.EventDeploy}) // must not panic
}
