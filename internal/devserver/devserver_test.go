package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/piyusht2411/chatting-app/internal/chat"
)

func postJSON(t *testing.T, url string, payload any) map[string]any {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return out
}

func TestInsertAssignsIDAndTimestamp(t *testing.T) {
	server := New()
	server.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	out := postJSON(t, ts.URL+"/v1/insert", map[string]any{
		"table": "messages",
		"row":   map[string]any{"sender_id": "u1", "receiver_id": "p1", "content": "hi"},
	})
	row, ok := out["row"].(map[string]any)
	if !ok {
		t.Fatalf("missing row in response: %+v", out)
	}
	if row["id"] != "1" {
		t.Fatalf("expected assigned id, got %v", row["id"])
	}
	if row["created_at"] != "2025-06-01T12:00:00Z" {
		t.Fatalf("expected assigned timestamp, got %v", row["created_at"])
	}
}

func TestQueryFilters(t *testing.T) {
	server := New()
	server.Seed("messages",
		chat.Row{"id": "1", "sender_id": "u1", "receiver_id": "p1", "content": "a"},
		chat.Row{"id": "2", "sender_id": "p1", "receiver_id": "u1", "content": "b"},
	)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	out := postJSON(t, ts.URL+"/v1/query", map[string]any{
		"table":  "messages",
		"filter": map[string]any{"sender_id": "u1"},
	})
	rows, ok := out["rows"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one filtered row, got %+v", out)
	}
}

func TestUpsertReplacesOnConflictKey(t *testing.T) {
	server := New()
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	first := map[string]any{
		"table":       "chat_labels",
		"row":         map[string]any{"user_id": "u1", "chat_partner_id": "p1", "label_name": []any{"a"}},
		"conflictKey": "user_id,chat_partner_id",
	}
	second := map[string]any{
		"table":       "chat_labels",
		"row":         map[string]any{"user_id": "u1", "chat_partner_id": "p1", "label_name": []any{"a", "b"}},
		"conflictKey": "user_id,chat_partner_id",
	}
	if out := postJSON(t, ts.URL+"/v1/upsert", first); out["status"] != "ok" {
		t.Fatalf("unexpected upsert response: %+v", out)
	}
	if out := postJSON(t, ts.URL+"/v1/upsert", second); out["status"] != "ok" {
		t.Fatalf("unexpected upsert response: %+v", out)
	}

	rows := server.Rows("chat_labels")
	if len(rows) != 1 {
		t.Fatalf("expected single row after upsert, got %d", len(rows))
	}
	labels, ok := rows[0]["label_name"].([]any)
	if !ok || len(labels) != 2 {
		t.Fatalf("expected replaced label set, got %+v", rows[0])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := httptest.NewServer(New().Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
