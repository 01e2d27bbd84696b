package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebblePendingStore is the durable pending-store backend. It keeps the
// engine's pending mutations across process restarts.
type PebblePendingStore struct {
	mu sync.Mutex // guards db against a concurrent Close
	db *pebble.DB
}

func NewPebblePendingStore(path string) (*PebblePendingStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebblePendingStore{db: db}, nil
}

func (s *PebblePendingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || key == "" {
		return nil, false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, false, ErrInvalidInput
	}
	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *PebblePendingStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrInvalidInput
	}
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *PebblePendingStore) Delete(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrInvalidInput
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebblePendingStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}
