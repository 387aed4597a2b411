package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	alarms "alarm-engine/internal/alarms/domain"
)

// Cache stores attribute entries by key.
type Cache interface {
	Get(ctx context.Context, key string) (alarms.Entry, bool, error)
	Set(ctx context.Context, key string, entry alarms.Entry) error
	Delete(ctx context.Context, key string) error
}

// Backend reads attribute values on a cache miss.
type Backend interface {
	GetLatest(ctx context.Context, entity alarms.EntityID, keyType alarms.KeyType, keys []string) (map[string]alarms.Entry, error)
}

// AttributeStore is a read-through cache in front of a backend. Values carried
// by inbound events are written into the cache as they are observed.
type AttributeStore struct {
	backend Backend
	cache   Cache
	logger  *zap.Logger
}

// NewAttributeStore constructs a caching attribute store.
func NewAttributeStore(backend Backend, cache Cache, logger *zap.Logger) (*AttributeStore, error) {
	if backend == nil {
		return nil, errors.New("cache: nil backend")
	}
	if cache == nil {
		return nil, errors.New("cache: nil cache")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttributeStore{backend: backend, cache: cache, logger: logger}, nil
}

// GetLatest serves cached keys and reads the rest from the backend.
func (s *AttributeStore) GetLatest(ctx context.Context, entity alarms.EntityID, keyType alarms.KeyType, keys []string) (map[string]alarms.Entry, error) {
	out := make(map[string]alarms.Entry, len(keys))
	var missing []string
	for _, name := range keys {
		entry, ok, err := s.cache.Get(ctx, cacheKey(entity, keyType, name))
		if err != nil {
			s.logger.Debug("attribute cache read failed", zap.String("key", name), zap.Error(err))
		}
		if ok {
			out[name] = entry
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return out, nil
	}
	sort.Strings(missing)
	fetched, err := s.backend.GetLatest(ctx, entity, keyType, missing)
	if err != nil {
		return nil, err
	}
	for name, entry := range fetched {
		out[name] = entry
		if err := s.cache.Set(ctx, cacheKey(entity, keyType, name), entry); err != nil {
			s.logger.Debug("attribute cache write failed", zap.String("key", name), zap.Error(err))
		}
	}
	return out, nil
}

// Observe refreshes cached values from an inbound event.
func (s *AttributeStore) Observe(ctx context.Context, entity alarms.EntityID, snap alarms.Snapshot) {
	for key, entry := range snap.Entries() {
		if err := s.cache.Set(ctx, cacheKey(entity, key.Type, key.Name), entry); err != nil {
			s.logger.Debug("attribute cache write failed", zap.String("key", key.Name), zap.Error(err))
		}
	}
	for _, key := range snap.DeletedKeys() {
		if err := s.cache.Delete(ctx, cacheKey(entity, key.Type, key.Name)); err != nil {
			s.logger.Debug("attribute cache delete failed", zap.String("key", key.Name), zap.Error(err))
		}
	}
}

func cacheKey(entity alarms.EntityID, keyType alarms.KeyType, name string) string {
	return fmt.Sprintf("attr:%s:%s:%s:%s", entity.Type, entity.ID, keyType, name)
}
