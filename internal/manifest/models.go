// Package manifest holds the domain model for transport manifests: the
// manifest record itself, its lifecycle status, the signed envelope, the
// transmission attempt history and post-authorization lifecycle events.
package manifest

import (
	"time"

	"manifest-gateway/internal/accesskey"
)

// Status is the lifecycle state of a manifest. Created and Signed are entered
// synchronously; Submitting may survive process restarts and is resolved by
// querying the authority, never by blind resubmission.
type Status string

const (
	StatusCreated    Status = "created"
	StatusSigned     Status = "signed"
	StatusSubmitting Status = "submitting"
	StatusAuthorized Status = "authorized"
	StatusRejected   Status = "rejected"
	StatusClosed     Status = "closed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition can leave the status.
// Authorized is not terminal: closure and cancellation still branch off it.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the allowed state machine edges.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusSigned
	case StatusSigned:
		return next == StatusSubmitting
	case StatusSubmitting:
		return next == StatusAuthorized || next == StatusRejected
	case StatusAuthorized:
		return next == StatusClosed || next == StatusCancelled
	}
	return false
}

// Driver identifies a conveyance driver on the manifest.
type Driver struct {
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

// Draft is the caller-supplied domain model a manifest is created from. The
// emission timestamp is part of the draft so assembly stays deterministic.
type Draft struct {
	IssuerTaxID        string    `json:"issuer_tax_id"`
	IssuerName         string    `json:"issuer_name"`
	OriginUF           string    `json:"origin_uf"`
	DestinationUF      string    `json:"destination_uf"`
	EmittedAt          time.Time `json:"emitted_at"`
	CargoValue         string    `json:"cargo_value"`
	CargoQuantity      string    `json:"cargo_quantity"`
	CargoUnit          string    `json:"cargo_unit"`
	FiscalDocumentKeys []string  `json:"fiscal_document_keys"`
	VehiclePlate       string    `json:"vehicle_plate"`
	Drivers            []Driver  `json:"drivers"`
}

// SignedEnvelope wraps a manifest's canonical form with its signature
// metadata. The canonical form inside an envelope is frozen: any mutation
// after signing invalidates it.
type SignedEnvelope struct {
	CanonicalForm   []byte    `json:"canonical_form"`
	Signature       []byte    `json:"signature"`
	Algorithm       string    `json:"algorithm"`
	CertFingerprint string    `json:"cert_fingerprint"`
	SignedAt        time.Time `json:"signed_at"`
}

// Operation names the authority call an attempt belongs to.
type Operation string

const (
	OperationSubmit        Operation = "submit"
	OperationQuery         Operation = "query"
	OperationEvent         Operation = "event"
	OperationServiceStatus Operation = "service_status"
)

// Outcome is the three-way classification of an authority response.
type Outcome string

const (
	// OutcomeAuthorized is terminal success: a protocol number is present.
	OutcomeAuthorized Outcome = "authorized"
	// OutcomeRejected is terminal failure: the payload must be corrected and
	// resubmitted as a new document, never retried as-is.
	OutcomeRejected Outcome = "rejected"
	// OutcomeIndeterminate reveals nothing about the authority-side result
	// (timeout, network failure, queued). Always retryable.
	OutcomeIndeterminate Outcome = "indeterminate"
)

// TransmissionAttempt records one request/response exchange with the
// authority. At most one attempt per manifest carries the authoritative
// protocol number.
type TransmissionAttempt struct {
	Operation  Operation `json:"operation"`
	Outcome    Outcome   `json:"outcome"`
	StatusCode string    `json:"status_code,omitempty"` // authority reason code
	Reason     string    `json:"reason,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
	At         time.Time `json:"at"`
}

// EventType distinguishes post-authorization amendments.
type EventType string

const (
	EventClosure      EventType = "closure"
	EventCancellation EventType = "cancellation"
)

// WireCode is the authority event type code for the event.
func (t EventType) WireCode() string {
	switch t {
	case EventClosure:
		return "110112"
	case EventCancellation:
		return "110111"
	}
	return ""
}

// EventStatus tracks whether an event took effect at the authority.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventRegistered EventStatus = "registered"
	EventRejected   EventStatus = "rejected"
)

// LifecycleEvent is a post-authorization amendment (closure or cancellation).
// Events for a given access key are strictly ordered by sequence number,
// starting at 1.
type LifecycleEvent struct {
	AccessKey       accesskey.Key         `json:"access_key"`
	Sequence        int                   `json:"sequence"`
	Type            EventType             `json:"type"`
	Justification   string                `json:"justification,omitempty"`
	ClosureUF       string                `json:"closure_uf,omitempty"`
	ClosureCityCode string                `json:"closure_city_code,omitempty"`
	Status          EventStatus           `json:"status"`
	Protocol        string                `json:"protocol,omitempty"`
	Envelope        *SignedEnvelope       `json:"envelope,omitempty"`
	Attempts        []TransmissionAttempt `json:"attempts,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Manifest is the persisted document record. It is owned by the lifecycle
// service: nothing else mutates it after creation, and the access key is never
// reassigned.
type Manifest struct {
	AccessKey     accesskey.Key         `json:"access_key"`
	Version       string                `json:"version"`
	Status        Status                `json:"status"`
	CanonicalForm []byte                `json:"canonical_form"`
	Envelope      *SignedEnvelope       `json:"envelope,omitempty"`
	Protocol      string                `json:"protocol,omitempty"`
	Attempts      []TransmissionAttempt `json:"attempts,omitempty"`
	PollCount     int                   `json:"poll_count"`
	Unresolved    bool                  `json:"unresolved"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Summary is the lazily parsed display/audit view of a canonical form.
type Summary struct {
	AccessKey     string `json:"access_key"`
	IssuerTaxID   string `json:"issuer_tax_id"`
	IssuerName    string `json:"issuer_name"`
	OriginUF      string `json:"origin_uf"`
	DestinationUF string `json:"destination_uf"`
	CargoValue    string `json:"cargo_value"`
	DocumentCount int    `json:"document_count"`
}
