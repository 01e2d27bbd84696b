package chat

import (
	"sort"
	"sync"
	"time"
)

// ListProjector derives the conversation list: the confirmed summaries
// plus a per-conversation optimistic label overlay. Updates and reverts
// are keyed by correlation id and applied idempotently, so at-least-once
// notification delivery cannot corrupt the view. Mutations for one
// conversation are serialized upstream, so each conversation carries at
// most one overlay and one last-resolved correlation.
type ListProjector struct {
	mu        sync.Mutex
	summaries []ConversationSummary
	overlays  map[string]labelOverlay
	resolved  map[string]string
}

type labelOverlay struct {
	correlationID string
	labels        []Label
}

func NewListProjector() *ListProjector {
	return &ListProjector{
		overlays: map[string]labelOverlay{},
		resolved: map[string]string{},
	}
}

// Reset replaces the confirmed summaries. Overlays survive a reset: a
// refetch must not hide a still-pending label mutation.
func (p *ListProjector) Reset(summaries []ConversationSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries[:0], summaries...)
}

// ApplyUpdate applies a label update for one conversation. An empty
// correlation id means confirmed data: the base summary is rewritten and
// the conversation's overlay cleared unconditionally. A non-empty
// correlation id installs an optimistic overlay; a replay of an id that
// is still pending or already resolved is a no-op.
func (p *ListProjector) ApplyUpdate(partnerID, correlationID string, labels []Label) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if correlationID == "" {
		for i := range p.summaries {
			if p.summaries[i].PartnerID == partnerID {
				p.summaries[i].Labels = append([]Label(nil), labels...)
			}
		}
		if overlay, ok := p.overlays[partnerID]; ok {
			p.resolved[partnerID] = overlay.correlationID
			delete(p.overlays, partnerID)
		}
		return
	}
	if overlay, ok := p.overlays[partnerID]; ok && overlay.correlationID == correlationID {
		return
	}
	if p.resolved[partnerID] == correlationID {
		return
	}
	p.overlays[partnerID] = labelOverlay{
		correlationID: correlationID,
		labels:        append([]Label(nil), labels...),
	}
}

// ApplyLatestMessage bumps one conversation's latest-message fields when
// a newer message arrives. Older messages are ignored, so replayed
// notifications cannot move a conversation backwards.
func (p *ListProjector) ApplyLatestMessage(partnerID, content string, at time.Time, unreadDelta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.summaries {
		if p.summaries[i].PartnerID != partnerID {
			continue
		}
		if at.After(p.summaries[i].LatestMessageAt) {
			p.summaries[i].LatestMessage = content
			p.summaries[i].LatestMessageAt = at
			p.summaries[i].UnreadCount += unreadDelta
		}
		return
	}
	p.summaries = append(p.summaries, ConversationSummary{
		PartnerID:       partnerID,
		Name:            UnknownUserName,
		Phone:           UnknownUserPhone,
		LatestMessage:   content,
		LatestMessageAt: at,
		UnreadCount:     unreadDelta,
	})
}

// ApplyRevert removes the optimistic overlay installed under the given
// correlation id, but only while that id still owns the overlay. A
// revert for an unknown, already-resolved, or superseded id is a no-op,
// so a replayed revert cannot delete a newer mutation's overlay.
func (p *ListProjector) ApplyRevert(partnerID, correlationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	overlay, ok := p.overlays[partnerID]
	if !ok || overlay.correlationID != correlationID {
		return
	}
	p.resolved[partnerID] = correlationID
	delete(p.overlays, partnerID)
}

// Summaries returns the overlay-applied list, most recent conversation
// first.
func (p *ListProjector) Summaries() []ConversationSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConversationSummary, len(p.summaries))
	copy(out, p.summaries)
	for i := range out {
		if overlay, ok := p.overlays[out[i].PartnerID]; ok {
			out[i].Labels = append([]Label(nil), overlay.labels...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LatestMessageAt.After(out[j].LatestMessageAt)
	})
	return out
}

// SummaryCache is the process-wide session cache of conversation
// summaries. It feeds name search without a refetch and is dropped on
// process exit.
type SummaryCache struct {
	mu        sync.RWMutex
	summaries []ConversationSummary
	updatedAt time.Time
}

func NewSummaryCache() *SummaryCache {
	return &SummaryCache{}
}

func (c *SummaryCache) Put(summaries []ConversationSummary) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries[:0], summaries...)
	c.updatedAt = time.Now()
}

// Snapshot returns the cached summaries and when they were stored.
func (c *SummaryCache) Snapshot() ([]ConversationSummary, time.Time) {
	if c == nil {
		return nil, time.Time{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConversationSummary, len(c.summaries))
	copy(out, c.summaries)
	return out, c.updatedAt
}
