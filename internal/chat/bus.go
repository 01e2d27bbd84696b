package chat

import (
	"sync"
)

type NotificationKind string

const (
	NotifyUpdate NotificationKind = "update"
	NotifyRevert NotificationKind = "revert"
)

// Notification is the cross-view broadcast for one mutation transition.
// An update with an empty CorrelationID carries confirmed data; a
// non-empty CorrelationID marks optimistic data that a later revert with
// the same id may undo. A nil Labels field means the notification has no
// label payload; a non-nil empty slice is a confirmed empty set.
// Delivery is at-least-once; consumers must apply notifications
// idempotently.
type Notification struct {
	Kind           NotificationKind
	ConversationID string
	CorrelationID  string
	Message        *Message
	Labels         []Label
}

// Bus fans notifications out to every subscribed view. Publish runs
// handlers synchronously on the caller's goroutine.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Notification)
}

func NewBus() *Bus {
	return &Bus{subs: map[int]func(Notification){}}
}

// Subscribe registers a handler and returns its cancel func. Cancel is
// idempotent.
func (b *Bus) Subscribe(handler func(Notification)) func() {
	if b == nil || handler == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(n Notification) {
	if b == nil {
		return
	}
	b.mu.Lock()
	handlers := make([]func(Notification), 0, len(b.subs))
	for _, handler := range b.subs {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()
	for _, handler := range handlers {
		handler(n)
	}
}
