package chat

import (
	"errors"
	"testing"
	"time"
)

func testNormalizer() *Normalizer {
	self := Profile{ID: "u1", Name: "Me", Phone: "+111"}
	partner := Profile{ID: "u2", Name: "Asha", Phone: "+222"}
	return NewNormalizer(self, func(id string) (Profile, bool) {
		if id == partner.ID {
			return partner, true
		}
		return Profile{}, false
	})
}

func TestMessageFromRowResolvesSender(t *testing.T) {
	n := testNormalizer()

	msg, err := n.MessageFromRow(Row{
		"id": "10", "sender_id": "u2", "receiver_id": "u1",
		"content": "hi", "is_read": false,
		"created_at": "2025-06-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Name != "Asha" || msg.Phone != "+222" {
		t.Fatalf("expected partner profile on message, got %q %q", msg.Name, msg.Phone)
	}
	if msg.CreatedAt != time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected timestamp: %v", msg.CreatedAt)
	}

	msg, err = n.MessageFromRow(Row{
		"id": "11", "sender_id": "u1", "receiver_id": "u2", "content": "yo",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Name != "Me" {
		t.Fatalf("expected own profile on outgoing message, got %q", msg.Name)
	}

	msg, err = n.MessageFromRow(Row{
		"id": "12", "sender_id": "stranger", "receiver_id": "u1", "content": "?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Name != UnknownUserName || msg.Phone != UnknownUserPhone {
		t.Fatalf("expected placeholder profile, got %q %q", msg.Name, msg.Phone)
	}
}

func TestMessageFromRowRejectsIncompleteRow(t *testing.T) {
	n := testNormalizer()
	_, err := n.MessageFromRow(Row{"sender_id": "u1", "receiver_id": "u2"})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

func TestParseLabelListDecodesEncodedStrings(t *testing.T) {
	labels := ParseLabelList([]any{
		map[string]any{"id": "l1", "label_name": "Work", "color": "#f00"},
		`{"id":"l2","label_name":"Personal","color":"#0f0"}`,
	})
	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(labels))
	}
	if labels[1].ID != "l2" || labels[1].Name != "Personal" {
		t.Fatalf("encoded label not decoded: %+v", labels[1])
	}
}

func TestParseLabelListDropsInvalidElements(t *testing.T) {
	labels := ParseLabelList([]any{
		`{"bad json`,
		map[string]any{"id": "", "label_name": "NoID", "color": "#f00"},
		map[string]any{"id": "l1", "label_name": "Work", "color": "#f00"},
		map[string]any{"label_name": "missing id and color"},
	})
	if len(labels) != 1 || labels[0].ID != "l1" {
		t.Fatalf("expected only the valid label to survive, got %+v", labels)
	}
}

func TestParseLabelListNonArray(t *testing.T) {
	if labels := ParseLabelList("not a list"); labels != nil {
		t.Fatalf("expected nil for non-array input, got %+v", labels)
	}
	if labels := ParseLabelList([]any{`{"bad json`}); len(labels) != 0 {
		t.Fatalf("expected empty set, got %+v", labels)
	}
}

func TestNormalizeLabelEvent(t *testing.T) {
	n := testNormalizer()
	assignment, err := n.NormalizeLabelEvent(ChangeEvent{
		Kind:  EventUpdate,
		Table: "chat_labels",
		Row: Row{
			"user_id":         "u1",
			"chat_partner_id": "u2",
			"label_name": []any{
				map[string]any{"id": "l1", "label_name": "Work", "color": "#f00"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assignment.UserID != "u1" || assignment.PartnerID != "u2" || len(assignment.Labels) != 1 {
		t.Fatalf("unexpected assignment: %+v", assignment)
	}
	if !assignment.Has("l1") || assignment.Has("l2") {
		t.Fatalf("Has misreported membership")
	}
}

func TestNormalizeLabelEventMissingIdentity(t *testing.T) {
	n := testNormalizer()
	_, err := n.NormalizeLabelEvent(ChangeEvent{
		Kind:  EventUpdate,
		Table: "chat_labels",
		Row:   Row{"label_name": []any{}},
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}
