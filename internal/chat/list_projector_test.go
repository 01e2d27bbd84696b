package chat

import (
	"testing"
	"time"
)

func summaries() []ConversationSummary {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []ConversationSummary{
		{PartnerID: "p1", Name: "Asha", LatestMessageAt: base.Add(time.Hour), Labels: []Label{{ID: "l1", Name: "Work", Color: "#f00"}}},
		{PartnerID: "p2", Name: "Ravi", LatestMessageAt: base},
	}
}

func TestListProjectorOverlayAppliesAndReverts(t *testing.T) {
	p := NewListProjector()
	p.Reset(summaries())

	optimistic := []Label{{ID: "l2", Name: "Personal", Color: "#0f0"}}
	p.ApplyUpdate("p1", "corr-1", optimistic)

	got := p.Summaries()
	if got[0].PartnerID != "p1" || len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l2" {
		t.Fatalf("expected overlay labels on p1, got %+v", got[0])
	}

	p.ApplyRevert("p1", "corr-1")
	got = p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l1" {
		t.Fatalf("expected confirmed labels restored, got %+v", got[0])
	}
}

func TestListProjectorUpdateIdempotent(t *testing.T) {
	p := NewListProjector()
	p.Reset(summaries())

	labels := []Label{{ID: "l2", Name: "Personal", Color: "#0f0"}}
	p.ApplyUpdate("p1", "corr-1", labels)
	p.ApplyUpdate("p1", "corr-1", labels)
	p.ApplyRevert("p1", "corr-1")

	got := p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l1" {
		t.Fatalf("double update then revert should restore confirmed labels, got %+v", got[0])
	}
}

func TestListProjectorRevertUnknownCorrelationIsNoop(t *testing.T) {
	p := NewListProjector()
	p.Reset(summaries())
	p.ApplyRevert("p1", "never-applied")

	got := p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l1" {
		t.Fatalf("unexpected mutation from unknown revert: %+v", got[0])
	}
}

func TestListProjectorConfirmedUpdateClearsOverlay(t *testing.T) {
	p := NewListProjector()
	p.Reset(summaries())

	p.ApplyUpdate("p1", "corr-1", []Label{{ID: "l2", Name: "Personal", Color: "#0f0"}})
	confirmed := []Label{{ID: "l3", Name: "VIP", Color: "#00f"}}
	p.ApplyUpdate("p1", "", confirmed)

	got := p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l3" {
		t.Fatalf("expected confirmed labels to win, got %+v", got[0])
	}

	// A stale revert for the overlaid mutation must not undo confirmed data.
	p.ApplyRevert("p1", "corr-1")
	got = p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l3" {
		t.Fatalf("stale revert corrupted confirmed labels: %+v", got[0])
	}
}

func TestListProjectorStaleRevertKeepsNewerOverlay(t *testing.T) {
	p := NewListProjector()
	p.Reset(summaries())

	p.ApplyUpdate("p1", "corr-1", []Label{{ID: "l2", Name: "Personal", Color: "#0f0"}})
	p.ApplyUpdate("p1", "", []Label{{ID: "l3", Name: "VIP", Color: "#00f"}})
	p.ApplyUpdate("p1", "corr-2", []Label{{ID: "l4", Name: "Urgent", Color: "#ff0"}})

	// A replayed revert of the already-resolved mutation must not touch
	// the newer overlay.
	p.ApplyRevert("p1", "corr-1")
	got := p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l4" {
		t.Fatalf("stale revert removed newer overlay: %+v", got[0])
	}

	// Neither may a replayed update of the resolved mutation.
	p.ApplyUpdate("p1", "corr-1", []Label{{ID: "l2", Name: "Personal", Color: "#0f0"}})
	got = p.Summaries()
	if len(got[0].Labels) != 1 || got[0].Labels[0].ID != "l4" {
		t.Fatalf("replayed update resurrected resolved overlay: %+v", got[0])
	}
}

func TestListProjectorConfirmedEmptySetClearsLabels(t *testing.T) {
	p := NewListProjector()
	p.Reset(summaries())

	p.ApplyUpdate("p1", "corr-1", []Label{})
	got := p.Summaries()
	if len(got[0].Labels) != 0 {
		t.Fatalf("optimistic empty set not applied: %+v", got[0])
	}

	p.ApplyUpdate("p1", "", []Label{})
	p.ApplyRevert("p1", "corr-1")
	got = p.Summaries()
	if len(got[0].Labels) != 0 {
		t.Fatalf("stale revert resurrected labels after confirmed clear: %+v", got[0])
	}
}

func TestListProjectorLatestMessageOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewListProjector()
	p.Reset(summaries())

	p.ApplyLatestMessage("p2", "newest", base.Add(2*time.Hour), 1)
	got := p.Summaries()
	if got[0].PartnerID != "p2" || got[0].LatestMessage != "newest" || got[0].UnreadCount != 1 {
		t.Fatalf("expected p2 bumped to top, got %+v", got[0])
	}

	// An older replayed message must not move the conversation back.
	p.ApplyLatestMessage("p2", "stale", base.Add(time.Minute), 1)
	got = p.Summaries()
	if got[0].LatestMessage != "newest" || got[0].UnreadCount != 1 {
		t.Fatalf("stale message moved conversation: %+v", got[0])
	}
}

func TestListProjectorLatestMessageNewConversation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewListProjector()
	p.Reset(nil)

	p.ApplyLatestMessage("p9", "hello", base, 1)
	got := p.Summaries()
	if len(got) != 1 || got[0].PartnerID != "p9" || got[0].Name != UnknownUserName {
		t.Fatalf("expected placeholder conversation, got %+v", got)
	}
}
