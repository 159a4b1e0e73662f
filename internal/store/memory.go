// Package store holds the cache and tracking-event backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/geo"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/weather"
)

// ErrDuplicateEvent is returned when an event id is inserted twice.
var ErrDuplicateEvent = errors.New("tracking event already exists")

// MemoryStore keeps weather cache records and tracking events in process.
// It is the default backend and the one used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]weather.CacheRecord
	events  []geo.TrackingEvent
	ids     map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]weather.CacheRecord),
		ids:     make(map[string]struct{}),
	}
}

// Get returns the record for key unless it is missing or expired at now.
func (s *MemoryStore) Get(ctx context.Context, key weather.CacheKey, now time.Time) (weather.CacheRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key.String()]
	if !ok || rec.Expired(now) {
		return weather.CacheRecord{}, false, nil
	}
	return rec, true, nil
}

// Upsert stores record, replacing any record with the same key.
func (s *MemoryStore) Upsert(ctx context.Context, record weather.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key.String()] = record
	return nil
}

// DeleteExpired removes records expired at now and reports how many.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of cache records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// InsertEvent appends an event. Events are never updated.
func (s *MemoryStore) InsertEvent(ctx context.Context, event geo.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[event.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, event.ID)
	}
	s.ids[event.ID] = struct{}{}
	s.events = append(s.events, event)
	return nil
}

// FindEvents returns the events matching filter in insertion order.
func (s *MemoryStore) FindEvents(ctx context.Context, filter geo.EventFilter) ([]geo.TrackingEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []geo.TrackingEvent
	for _, e := range s.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
