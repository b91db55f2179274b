package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "manifest-gateway/pkg/domain-errors"
)

const testKey = "35250312345678000190580010000000071908172634"

func TestPublisherAssignsIDAndTimestamp(t *testing.T) {
	publisher := NewPublisher(NewInMemoryStore())

	err := publisher.Emit(context.Background(), Event{
		AccessKey: testKey,
		Action:    "manifest.created",
	})
	require.NoError(t, err)

	events, err := publisher.List(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisherPreservesTrailOrder(t *testing.T) {
	publisher := NewPublisher(NewInMemoryStore())
	ctx := context.Background()

	for _, action := range []string{"manifest.created", "manifest.signed", "manifest.authorized"} {
		require.NoError(t, publisher.Emit(ctx, Event{AccessKey: testKey, Action: action}))
	}

	events, err := publisher.List(ctx, testKey)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "manifest.created", events[0].Action)
	assert.Equal(t, "manifest.authorized", events[2].Action)
}

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error {
	return dErrors.New(dErrors.CodeUnavailable, "broker down")
}

func TestFanoutTriesEverySink(t *testing.T) {
	store := NewInMemoryStore()
	fanout := Fanout{failingSink{}, NewPublisher(store)}

	err := fanout.Emit(context.Background(), Event{AccessKey: testKey, Action: "manifest.created"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))

	// The primary store still received the event.
	events, listErr := store.ListByAccessKey(context.Background(), testKey)
	require.NoError(t, listErr)
	assert.Len(t, events, 1)
}

func TestChannelSinkFeedsWorker(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 1)
	worker := NewWorker(store, inbox)
	sink := ChannelSink(inbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	require.NoError(t, sink.Emit(ctx, Event{AccessKey: testKey, Action: "manifest.created"}))

	require.Eventually(t, func() bool {
		events, err := store.ListByAccessKey(context.Background(), testKey)
		return err == nil && len(events) == 1
	}, time.Second, 5*time.Millisecond)

	// The sink stamps identity and timestamp before queueing.
	events, err := store.ListByAccessKey(context.Background(), testKey)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestChannelSinkHonorsContextWhenFull(t *testing.T) {
	inbox := make(chan Event) // unbuffered, no worker draining
	sink := ChannelSink(inbox)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Emit(ctx, Event{AccessKey: testKey, Action: "manifest.created"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerPersistsFromChannel(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 2)
	worker := NewWorker(store, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	inbox <- Event{ID: uuid.New(), AccessKey: testKey, Action: "manifest.created", Timestamp: time.Now()}
	inbox <- Event{ID: uuid.New(), AccessKey: testKey, Action: "manifest.signed", Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		events, err := store.ListByAccessKey(context.Background(), testKey)
		return err == nil && len(events) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
