package poller

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/lifecycle/store"
	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

type fakeResolver struct {
	mu       sync.Mutex
	resolved []accesskey.Key
	inflight int
	peak     int
	outcome  func(key accesskey.Key) (*manifest.Manifest, error)
}

func (f *fakeResolver) Resolve(_ context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.resolved = append(f.resolved, key)
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if f.outcome != nil {
		return f.outcome(key)
	}
	return &manifest.Manifest{AccessKey: key, Status: manifest.StatusAuthorized}, nil
}

func seed(t *testing.T, st *store.InMemoryStore, key string, status manifest.Status, unresolved bool) {
	t.Helper()
	err := st.Create(context.Background(), &manifest.Manifest{
		AccessKey:  accesskey.Key(key),
		Status:     status,
		Unresolved: unresolved,
	})
	require.NoError(t, err)
}

func TestSweepResolvesSubmittingManifests(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "key-a", manifest.StatusSubmitting, false)
	seed(t, st, "key-b", manifest.StatusSubmitting, false)
	seed(t, st, "key-c", manifest.StatusAuthorized, false)

	resolver := &fakeResolver{}
	p := New(resolver, st, slog.New(slog.DiscardHandler), Config{})

	require.NoError(t, p.Sweep(context.Background()))
	assert.Len(t, resolver.resolved, 2)
	assert.NotContains(t, resolver.resolved, accesskey.Key("key-c"))
}

func TestSweepSkipsUnresolvedManifests(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "key-a", manifest.StatusSubmitting, true)
	seed(t, st, "key-b", manifest.StatusSubmitting, false)

	resolver := &fakeResolver{}
	p := New(resolver, st, slog.New(slog.DiscardHandler), Config{})

	require.NoError(t, p.Sweep(context.Background()))
	require.Len(t, resolver.resolved, 1)
	assert.Equal(t, accesskey.Key("key-b"), resolver.resolved[0])
}

func TestSweepBoundsParallelism(t *testing.T) {
	st := store.NewInMemoryStore()
	for _, key := range []string{"k1", "k2", "k3", "k4", "k5", "k6"} {
		seed(t, st, key, manifest.StatusSubmitting, false)
	}

	resolver := &fakeResolver{}
	p := New(resolver, st, slog.New(slog.DiscardHandler), Config{Parallelism: 2})

	require.NoError(t, p.Sweep(context.Background()))
	assert.Len(t, resolver.resolved, 6)
	assert.LessOrEqual(t, resolver.peak, 2)
}

func TestSweepToleratesResolutionErrors(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "key-a", manifest.StatusSubmitting, false)
	seed(t, st, "key-b", manifest.StatusSubmitting, false)

	resolver := &fakeResolver{outcome: func(key accesskey.Key) (*manifest.Manifest, error) {
		if key == "key-a" {
			return nil, dErrors.New(dErrors.CodeStatusUnresolved, "poll budget exceeded")
		}
		return &manifest.Manifest{AccessKey: key, Status: manifest.StatusSubmitting}, nil
	}}
	p := New(resolver, st, slog.New(slog.DiscardHandler), Config{})

	require.NoError(t, p.Sweep(context.Background()))
	assert.Len(t, resolver.resolved, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	st := store.NewInMemoryStore()
	p := New(&fakeResolver{}, st, slog.New(slog.DiscardHandler), Config{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
}
