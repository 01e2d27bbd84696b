package chat

import (
	"testing"
)

func TestBusPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	var first, second []Notification
	bus.Subscribe(func(n Notification) { first = append(first, n) })
	bus.Subscribe(func(n Notification) { second = append(second, n) })

	bus.Publish(Notification{Kind: NotifyUpdate, ConversationID: "p1"})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both subscribers notified, got %d and %d", len(first), len(second))
	}
	if first[0].ConversationID != "p1" {
		t.Fatalf("unexpected notification: %+v", first[0])
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	var got int
	cancel := bus.Subscribe(func(Notification) { got++ })

	bus.Publish(Notification{Kind: NotifyUpdate})
	cancel()
	cancel()
	bus.Publish(Notification{Kind: NotifyUpdate})

	if got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}
