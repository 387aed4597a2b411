package memory

import (
	"context"
	"sync"

	alarms "alarm-engine/internal/alarms/domain"
)

// AttributeStore keeps the latest attribute and time-series values in memory.
type AttributeStore struct {
	mu     sync.RWMutex
	values map[alarms.EntityID]map[alarms.Key]alarms.Entry
}

// NewAttributeStore constructs an empty store.
func NewAttributeStore() *AttributeStore {
	return &AttributeStore{values: make(map[alarms.EntityID]map[alarms.Key]alarms.Entry)}
}

// Put stores a value.
func (s *AttributeStore) Put(entity alarms.EntityID, keyType alarms.KeyType, name string, entry alarms.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.values[entity]
	if byKey == nil {
		byKey = make(map[alarms.Key]alarms.Entry)
		s.values[entity] = byKey
	}
	byKey[alarms.Key{Type: keyType, Name: name}] = entry
}

// Delete removes a value.
func (s *AttributeStore) Delete(entity alarms.EntityID, keyType alarms.KeyType, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[entity], alarms.Key{Type: keyType, Name: name})
}

// Record stores the values and deletions carried by a snapshot. Older values
// never overwrite newer ones.
func (s *AttributeStore) Record(ctx context.Context, entity alarms.EntityID, snap alarms.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.values[entity]
	if byKey == nil {
		byKey = make(map[alarms.Key]alarms.Entry)
		s.values[entity] = byKey
	}
	for key, entry := range snap.Entries() {
		if prev, ok := byKey[key]; ok && prev.TS.After(entry.TS) {
			continue
		}
		byKey[key] = entry
	}
	for _, key := range snap.DeletedKeys() {
		delete(byKey, key)
	}
	return nil
}

// GetLatest returns the stored values of the requested keys.
func (s *AttributeStore) GetLatest(ctx context.Context, entity alarms.EntityID, keyType alarms.KeyType, keys []string) (map[string]alarms.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]alarms.Entry, len(keys))
	byKey := s.values[entity]
	for _, name := range keys {
		if entry, ok := byKey[alarms.Key{Type: keyType, Name: name}]; ok {
			out[name] = entry
		}
	}
	return out, nil
}
