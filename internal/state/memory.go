package state

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// MemoryStore keeps state in process memory
type MemoryStore struct {
	traces map[string]map[string]json.RawMessage
	mu     sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traces: map[string]map[string]json.RawMessage{},
	}
}

func (s *MemoryStore) Get(
	_ context.Context, traceID, key string,
) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.traces[traceID][key]; ok {
		return clone(v), nil
	}
	return nil, nil
}

func (s *MemoryStore) Set(
	_ context.Context, traceID, key string, value json.RawMessage,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[traceID]
	if !ok {
		tr = map[string]json.RawMessage{}
		s.traces[traceID] = tr
	}
	tr[key] = clone(value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, traceID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.traces[traceID]; ok {
		delete(tr, key)
		if len(tr) == 0 {
			delete(s.traces, traceID)
		}
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.traces, traceID)
	return nil
}

// Snapshot returns a copy of the values held for a trace
func (s *MemoryStore) Snapshot(traceID string) map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.traces[traceID])
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(v json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), v...)
}
