package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/pkg/platform/sentinel"
)

// InMemoryStore keeps manifests and events in process memory. Used by unit
// tests and single-node development; the compare-and-swap semantics match the
// Postgres implementation.
type InMemoryStore struct {
	mu        sync.RWMutex
	manifests map[accesskey.Key]*manifest.Manifest
	events    map[accesskey.Key][]*manifest.LifecycleEvent
	numbers   map[int]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		manifests: make(map[accesskey.Key]*manifest.Manifest),
		events:    make(map[accesskey.Key][]*manifest.LifecycleEvent),
		numbers:   make(map[int]int),
	}
}

func (s *InMemoryStore) Create(_ context.Context, m *manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.manifests[m.AccessKey]; exists {
		return sentinel.ErrConflict
	}
	clone := cloneManifest(m)
	s.manifests[m.AccessKey] = clone
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneManifest(m), nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status manifest.Status) ([]*manifest.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*manifest.Manifest
	for _, m := range s.manifests {
		if m.Status == status {
			out = append(out, cloneManifest(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessKey < out[j].AccessKey })
	return out, nil
}

func (s *InMemoryStore) Transition(_ context.Context, key accesskey.Key, from, to manifest.Status, update func(*manifest.Manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if m.Status != from {
		return sentinel.ErrConflict
	}
	clone := cloneManifest(m)
	if update != nil {
		update(clone)
	}
	clone.Status = to // update must not override the transition target
	clone.UpdatedAt = time.Now()
	s.manifests[key] = clone
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, key accesskey.Key, update func(*manifest.Manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	clone := cloneManifest(m)
	status := clone.Status
	update(clone)
	clone.Status = status
	clone.UpdatedAt = time.Now()
	s.manifests[key] = clone
	return nil
}

func (s *InMemoryStore) NextNumber(_ context.Context, series int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[series]++
	return s.numbers[series], nil
}

func (s *InMemoryStore) SaveEvent(_ context.Context, ev *manifest.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events[ev.AccessKey] {
		if existing.Sequence == ev.Sequence {
			return sentinel.ErrConflict
		}
	}
	s.events[ev.AccessKey] = append(s.events[ev.AccessKey], cloneEvent(ev))
	sort.Slice(s.events[ev.AccessKey], func(i, j int) bool {
		return s.events[ev.AccessKey][i].Sequence < s.events[ev.AccessKey][j].Sequence
	})
	return nil
}

func (s *InMemoryStore) UpdateEvent(_ context.Context, ev *manifest.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[ev.AccessKey]
	for i, existing := range events {
		if existing.Sequence == ev.Sequence {
			events[i] = cloneEvent(ev)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) ListEvents(_ context.Context, key accesskey.Key) ([]*manifest.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[key]
	out := make([]*manifest.LifecycleEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

func cloneManifest(m *manifest.Manifest) *manifest.Manifest {
	clone := *m
	clone.CanonicalForm = append([]byte(nil), m.CanonicalForm...)
	clone.Attempts = append([]manifest.TransmissionAttempt(nil), m.Attempts...)
	if m.Envelope != nil {
		env := *m.Envelope
		env.CanonicalForm = append([]byte(nil), m.Envelope.CanonicalForm...)
		env.Signature = append([]byte(nil), m.Envelope.Signature...)
		clone.Envelope = &env
	}
	return &clone
}

func cloneEvent(ev *manifest.LifecycleEvent) *manifest.LifecycleEvent {
	clone := *ev
	clone.Attempts = append([]manifest.TransmissionAttempt(nil), ev.Attempts...)
	if ev.Envelope != nil {
		env := *ev.Envelope
		env.CanonicalForm = append([]byte(nil), ev.Envelope.CanonicalForm...)
		env.Signature = append([]byte(nil), ev.Envelope.Signature...)
		clone.Envelope = &env
	}
	return &clone
}
