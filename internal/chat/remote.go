package chat

import (
	"context"
	"encoding/json"
	"time"
)

// Row is one wire record of the remote data service.
type Row map[string]any

// Filter matches rows by field equality. A slice value matches when the
// row's field equals any element (an IN filter).
type Filter map[string]any

type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
)

// ChangeEvent is one raw push-channel payload, before normalization.
type ChangeEvent struct {
	Kind  EventKind `json:"kind"`
	Table string    `json:"table"`
	Row   Row       `json:"row"`
}

type Subscription interface {
	Unsubscribe() error
}

// Remote is the authoritative data service: queries, writes, and a
// subscribe-to-change-stream primitive. Events for a table are delivered
// to onEvent in arrival order; a subscription established before a query
// closes the gap in which a concurrent write could be missed.
type Remote interface {
	Query(ctx context.Context, table string, filter Filter) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Upsert(ctx context.Context, table string, row Row, conflictKey string) error
	Subscribe(ctx context.Context, table string, filter Filter, onEvent func(ChangeEvent)) (Subscription, error)
}

// Matches reports whether the row satisfies every filter entry.
func (f Filter) Matches(row Row) bool {
	for field, want := range f {
		got, ok := row[field]
		if !ok {
			return false
		}
		if list, isList := want.([]any); isList {
			found := false
			for _, candidate := range list {
				if scalarEqual(got, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	return toString(a) == toString(b)
}

func toString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func toBool(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		return value == "true"
	default:
		return false
	}
}

func toTime(v any) time.Time {
	raw, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
