package handler

import (
	"time"

	"manifest-gateway/internal/manifest"
)

// ManifestResponse is the API view of a manifest record. The canonical form
// and envelope stay internal; callers see status, protocol and history.
type ManifestResponse struct {
	AccessKey  string            `json:"access_key"`
	Version    string            `json:"version"`
	Status     manifest.Status   `json:"status"`
	Protocol   string            `json:"protocol,omitempty"`
	PollCount  int               `json:"poll_count"`
	Unresolved bool              `json:"unresolved"`
	Attempts   []AttemptResponse `json:"attempts,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// AttemptResponse is one transmission exchange.
type AttemptResponse struct {
	Operation string    `json:"operation"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	At        time.Time `json:"at"`
}

// EventResponse is the API view of a lifecycle event.
type EventResponse struct {
	AccessKey string    `json:"access_key"`
	Sequence  int       `json:"sequence"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Protocol  string    `json:"protocol,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toManifestResponse(m *manifest.Manifest) ManifestResponse {
	attempts := make([]AttemptResponse, 0, len(m.Attempts))
	for _, a := range m.Attempts {
		attempts = append(attempts, AttemptResponse{
			Operation: string(a.Operation),
			Outcome:   string(a.Outcome),
			Code:      a.StatusCode,
			Reason:    a.Reason,
			Protocol:  a.Protocol,
			At:        a.At,
		})
	}
	return ManifestResponse{
		AccessKey:  string(m.AccessKey),
		Version:    m.Version,
		Status:     m.Status,
		Protocol:   m.Protocol,
		PollCount:  m.PollCount,
		Unresolved: m.Unresolved,
		Attempts:   attempts,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toEventResponse(ev *manifest.LifecycleEvent) EventResponse {
	return EventResponse{
		AccessKey: string(ev.AccessKey),
		Sequence:  ev.Sequence,
		Type:      string(ev.Type),
		Status:    string(ev.Status),
		Protocol:  ev.Protocol,
		CreatedAt: ev.CreatedAt,
	}
}
