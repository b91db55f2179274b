// Package audit records an append-only trail of lifecycle activity: every
// transition and every transmission outcome, keyed by access key, for
// operator review and dispute handling.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one audit trail entry. Keep it transport-agnostic so stores and
// sinks can fan out.
type Event struct {
	ID        uuid.UUID `json:"id"`
	AccessKey string    `json:"access_key"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is append-only persistence for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByAccessKey(ctx context.Context, accessKey string) ([]Event, error)
}

// Sink receives audit events. The publisher, the fanout and the Kafka
// producer all implement it so callers do not care where events land.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}
