package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PendingStore is the durability backstop for not-yet-confirmed mutations.
// It survives a process restart (memory backend excepted) and is never the
// source of truth: callers tolerate a failed write and degrade to
// session-only pending state.
type PendingStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// PendingMessagesKey namespaces the pending-message list of one conversation.
func PendingMessagesKey(partnerID string) string {
	return "pendingMessages:" + partnerID
}

// PendingLabelsKey namespaces the pending label set of one (user, partner) pair.
func PendingLabelsKey(userID, partnerID string) string {
	return "pendingLabels:" + userID + ":" + partnerID
}

type MemoryPendingStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{values: map[string][]byte{}}
}

func (s *MemoryPendingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || key == "" {
		return nil, false, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *MemoryPendingStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}

func (s *MemoryPendingStore) Delete(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryPendingStore) Close() error {
	return nil
}

// JSONFilePendingStore keeps one JSON file per key under a directory,
// written via temp-file rename so a crash never leaves a torn value.
type JSONFilePendingStore struct {
	dir string
	mu  sync.Mutex
}

func NewJSONFilePendingStore(dir string) (*JSONFilePendingStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONFilePendingStore{dir: dir}, nil
}

func (s *JSONFilePendingStore) path(key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(s.dir, safe+".json")
}

func (s *JSONFilePendingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || key == "" {
		return nil, false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *JSONFilePendingStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *JSONFilePendingStore) Delete(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *JSONFilePendingStore) Close() error {
	return nil
}

// BuildPendingStoreFromDSN selects a pending-store backend by DSN scheme:
// memory:// for session-only state, file://<dir> for JSON files,
// pebble://<dir> for the durable key-value backend. An empty DSN yields
// the memory backend.
func BuildPendingStoreFromDSN(dsn string) (PendingStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryPendingStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryPendingStore(), nil
	case "", "file":
		return NewJSONFilePendingStore(dsnPath(parsed, dsn))
	case "pebble":
		return NewPebblePendingStore(dsnPath(parsed, dsn))
	default:
		return nil, fmt.Errorf("unsupported pending store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Opaque != "" {
		return parsed.Opaque
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = filepath.Join(parsed.Host, path)
	}
	if path == "" {
		path = strings.TrimPrefix(raw, parsed.Scheme+"://")
	}
	return path
}

// LoadPendingMessages returns the persisted pending messages for a
// conversation, oldest first. A missing key yields an empty slice.
func LoadPendingMessages(ctx context.Context, store PendingStore, partnerID string) ([]Message, error) {
	if store == nil || partnerID == "" {
		return nil, ErrInvalidInput
	}
	data, ok, err := store.Get(ctx, PendingMessagesKey(partnerID))
	if err != nil || !ok {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendPendingMessage adds one message to the persisted pending list.
func AppendPendingMessage(ctx context.Context, store PendingStore, partnerID string, msg Message) error {
	existing, err := LoadPendingMessages(ctx, store, partnerID)
	if err != nil {
		return err
	}
	updated := append(existing, msg)
	data, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	return store.Set(ctx, PendingMessagesKey(partnerID), data)
}

// RemovePendingMessage drops the message with the given temporary id from
// the persisted pending list, deleting the key once the list is empty.
func RemovePendingMessage(ctx context.Context, store PendingStore, partnerID, tempID string) error {
	existing, err := LoadPendingMessages(ctx, store, partnerID)
	if err != nil {
		return err
	}
	updated := existing[:0]
	for _, msg := range existing {
		if msg.ID != tempID {
			updated = append(updated, msg)
		}
	}
	if len(updated) == 0 {
		return store.Delete(ctx, PendingMessagesKey(partnerID))
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	return store.Set(ctx, PendingMessagesKey(partnerID), data)
}

// LoadPendingLabels returns the persisted pending label set for a
// (user, partner) pair, reporting whether one exists.
func LoadPendingLabels(ctx context.Context, store PendingStore, userID, partnerID string) ([]Label, bool, error) {
	if store == nil || userID == "" || partnerID == "" {
		return nil, false, ErrInvalidInput
	}
	data, ok, err := store.Get(ctx, PendingLabelsKey(userID, partnerID))
	if err != nil || !ok {
		return nil, false, err
	}
	var labels []Label
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, false, err
	}
	return labels, true, nil
}

// SavePendingLabels persists the pending label set for a (user, partner) pair.
func SavePendingLabels(ctx context.Context, store PendingStore, userID, partnerID string, labels []Label) error {
	if store == nil || userID == "" || partnerID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	return store.Set(ctx, PendingLabelsKey(userID, partnerID), data)
}

// DeletePendingLabels removes the pending label set for a (user, partner) pair.
func DeletePendingLabels(ctx context.Context, store PendingStore, userID, partnerID string) error {
	if store == nil || userID == "" || partnerID == "" {
		return ErrInvalidInput
	}
	return store.Delete(ctx, PendingLabelsKey(userID, partnerID))
}
