package chat

import (
	"sort"
	"sync"
)

// ThreadProjector derives the merged message view of one conversation:
// confirmed messages plus pending ones, ordered by creation time. It is
// a pure projection; all writes to it come from the controller or the
// change-event handlers, never from consumers.
type ThreadProjector struct {
	mu        sync.Mutex
	confirmed []Message
	pending   []Message
	byID      map[string]struct{}
}

func NewThreadProjector() *ThreadProjector {
	return &ThreadProjector{byID: map[string]struct{}{}}
}

// Reset replaces the whole projection, deduplicating confirmed rows by id.
func (p *ThreadProjector) Reset(confirmed, pending []Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = p.confirmed[:0]
	p.byID = map[string]struct{}{}
	for _, msg := range confirmed {
		if _, dup := p.byID[msg.ID]; dup {
			continue
		}
		msg.Pending = false
		p.confirmed = append(p.confirmed, msg)
		p.byID[msg.ID] = struct{}{}
	}
	p.pending = p.pending[:0]
	for _, msg := range pending {
		msg.Pending = true
		p.pending = append(p.pending, msg)
	}
}

// AddPending appends one optimistic message.
func (p *ThreadProjector) AddPending(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg.Pending = true
	p.pending = append(p.pending, msg)
}

// RemovePending drops the pending message with the given temporary id,
// reporting whether it was present.
func (p *ThreadProjector) RemovePending(tempID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removePendingLocked(tempID)
}

func (p *ThreadProjector) removePendingLocked(tempID string) bool {
	for i, msg := range p.pending {
		if msg.ID == tempID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return true
		}
	}
	return false
}

// ConfirmPending replaces a pending message with its confirmed form. The
// pending entry is removed unconditionally; the confirmed row is added
// only if its server id is not already present, so a push-channel echo
// that arrived first never produces a duplicate.
func (p *ThreadProjector) ConfirmPending(tempID string, confirmed Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removePendingLocked(tempID)
	if _, dup := p.byID[confirmed.ID]; dup {
		return
	}
	confirmed.Pending = false
	p.confirmed = append(p.confirmed, confirmed)
	p.byID[confirmed.ID] = struct{}{}
}

// ApplyConfirmed merges one confirmed message from the change stream,
// reporting whether it was new. Reapplying the same id is a no-op.
func (p *ThreadProjector) ApplyConfirmed(msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.byID[msg.ID]; dup {
		return false
	}
	msg.Pending = false
	p.confirmed = append(p.confirmed, msg)
	p.byID[msg.ID] = struct{}{}
	return true
}

// Messages returns the merged view, confirmed and pending together,
// sorted by creation time. Ties keep insertion order.
func (p *ThreadProjector) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, 0, len(p.confirmed)+len(p.pending))
	out = append(out, p.confirmed...)
	out = append(out, p.pending...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Find returns the message with the given id from the merged view.
func (p *ThreadProjector) Find(id string) (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range p.confirmed {
		if msg.ID == id {
			return msg, true
		}
	}
	for _, msg := range p.pending {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}
