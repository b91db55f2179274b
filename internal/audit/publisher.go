package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	return p.store.Append(ctx, stamp(event))
}

// stamp fills the identity and timestamp at emission time so every sink sees
// the same values regardless of when persistence happens.
func stamp(event Event) Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

func (p *Publisher) List(ctx context.Context, accessKey string) ([]Event, error) {
	return p.store.ListByAccessKey(ctx, accessKey)
}

// Fanout emits to every sink and returns the first error after trying all of
// them, so a broker outage never hides the primary store write.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range f {
		if err := sink.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
