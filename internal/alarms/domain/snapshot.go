package alarms

import (
	"sort"
	"time"
)

// KeyType distinguishes attribute keys from time-series keys.
type KeyType string

const (
	KeyAttribute  KeyType = "ATTRIBUTE"
	KeyTimeSeries KeyType = "TIME_SERIES"
)

// Key identifies a value carried by an entity.
type Key struct {
	Type KeyType
	Name string
}

// Entry is a value with the timestamp it was reported at.
type Entry struct {
	Value Value     `json:"value"`
	TS    time.Time `json:"ts"`
}

// Snapshot is the immutable set of values carried by one inbound event.
type Snapshot struct {
	ts      time.Time
	entries map[Key]Entry
	deleted map[Key]struct{}
}

// NewSnapshot copies entries and deleted keys into a snapshot taken at ts.
func NewSnapshot(ts time.Time, entries map[Key]Entry, deleted []Key) Snapshot {
	s := Snapshot{
		ts:      ts.UTC(),
		entries: make(map[Key]Entry, len(entries)),
		deleted: make(map[Key]struct{}, len(deleted)),
	}
	for k, v := range entries {
		if v.TS.IsZero() {
			v.TS = s.ts
		}
		s.entries[k] = v
	}
	for _, k := range deleted {
		s.deleted[k] = struct{}{}
	}
	return s
}

// TS returns the event time.
func (s Snapshot) TS() time.Time { return s.ts }

// Get returns the entry for a typed key.
func (s Snapshot) Get(key Key) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Lookup returns the entry for a key name regardless of key type.
// Time-series values win over attributes when both are present.
func (s Snapshot) Lookup(name string) (Entry, bool) {
	if e, ok := s.entries[Key{Type: KeyTimeSeries, Name: name}]; ok {
		return e, true
	}
	e, ok := s.entries[Key{Type: KeyAttribute, Name: name}]
	return e, ok
}

// Has reports whether the event carried the key name.
func (s Snapshot) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Deleted reports whether the event removed the typed key.
func (s Snapshot) Deleted(key Key) bool {
	_, ok := s.deleted[key]
	return ok
}

// Changed returns every key updated or deleted by the event, sorted.
func (s Snapshot) Changed() []Key {
	keys := make([]Key, 0, len(s.entries)+len(s.deleted))
	for k := range s.entries {
		keys = append(keys, k)
	}
	for k := range s.deleted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Entries returns a copy of the updated values.
func (s Snapshot) Entries() map[Key]Entry {
	out := make(map[Key]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// DeletedKeys returns the deleted keys.
func (s Snapshot) DeletedKeys() []Key {
	out := make([]Key, 0, len(s.deleted))
	for k := range s.deleted {
		out = append(out, k)
	}
	return out
}
