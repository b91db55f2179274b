// Package authority is the adapter boundary toward the remote tax authority.
// It sends signed payloads and classifies every response into one of three
// outcomes: authorized, rejected, or indeterminate. The classification rule
// that matters most: an error that reveals nothing about the authority-side
// result (timeout, connection failure, queued response) is always
// indeterminate, never a rejection.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

var tracer = otel.Tracer("manifest-gateway/authority")

//go:generate mockgen -source=client.go -destination=mocks/mock_client.go -package=mocks

// Client is the transmission boundary the lifecycle engine depends on. All
// methods classify their result into the returned attempt; a non-nil error is
// reserved for caller-side faults (bad configuration, unmarshalable payload),
// never for authority-side outcomes.
type Client interface {
	Submit(ctx context.Context, envelope *manifest.SignedEnvelope) (manifest.TransmissionAttempt, error)
	Query(ctx context.Context, key accesskey.Key) (manifest.TransmissionAttempt, error)
	SendEvent(ctx context.Context, envelope *manifest.SignedEnvelope) (manifest.TransmissionAttempt, error)
	ServiceStatus(ctx context.Context) (manifest.TransmissionAttempt, error)
}

// Config carries the endpoint and timeout policy for the HTTP adapter. It is
// constructed once and passed in; there is no process-wide mutable instance.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Environment int
}

// HTTPClient talks to the authority over HTTP. The wire format is
// authority-specific; this adapter posts the signed XML and reads a JSON
// status envelope back.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	clock  func() time.Time
}

// NewHTTPClient builds the adapter. The transport timeout doubles as the
// per-call ceiling; callers may tighten it further through ctx.
func NewHTTPClient(cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "authority base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		clock:  time.Now,
	}, nil
}

// wireResponse is the JSON status envelope the authority returns.
type wireResponse struct {
	Status   string `json:"status"` // authorized | rejected | queued
	Protocol string `json:"protocol,omitempty"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Submit sends a signed manifest envelope for authorization.
func (c *HTTPClient) Submit(ctx context.Context, envelope *manifest.SignedEnvelope) (manifest.TransmissionAttempt, error) {
	if envelope == nil || len(envelope.CanonicalForm) == 0 {
		return manifest.TransmissionAttempt{}, dErrors.New(dErrors.CodeBadRequest, "submit requires a signed envelope")
	}
	return c.post(ctx, manifest.OperationSubmit, c.cfg.BaseURL+"/manifests", envelope)
}

// SendEvent sends a signed lifecycle event envelope. Outcome classification is
// identical to Submit.
func (c *HTTPClient) SendEvent(ctx context.Context, envelope *manifest.SignedEnvelope) (manifest.TransmissionAttempt, error) {
	if envelope == nil || len(envelope.CanonicalForm) == 0 {
		return manifest.TransmissionAttempt{}, dErrors.New(dErrors.CodeBadRequest, "send event requires a signed envelope")
	}
	return c.post(ctx, manifest.OperationEvent, c.cfg.BaseURL+"/events", envelope)
}

// Query asks for the current authority-side situation of a key. Idempotent and
// side-effect-free on the authority.
func (c *HTTPClient) Query(ctx context.Context, key accesskey.Key) (manifest.TransmissionAttempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/manifests/%s", c.cfg.BaseURL, key), nil)
	if err != nil {
		return manifest.TransmissionAttempt{}, dErrors.Wrap(err, dErrors.CodeInternal, "build query request")
	}
	return c.roundTrip(ctx, manifest.OperationQuery, req)
}

// ServiceStatus probes whether the authority service is answering at all.
func (c *HTTPClient) ServiceStatus(ctx context.Context) (manifest.TransmissionAttempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/status", nil)
	if err != nil {
		return manifest.TransmissionAttempt{}, dErrors.Wrap(err, dErrors.CodeInternal, "build status request")
	}
	return c.roundTrip(ctx, manifest.OperationServiceStatus, req)
}

func (c *HTTPClient) post(ctx context.Context, op manifest.Operation, url string, envelope *manifest.SignedEnvelope) (manifest.TransmissionAttempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope.CanonicalForm))
	if err != nil {
		return manifest.TransmissionAttempt{}, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Signature", fmt.Sprintf("%x", envelope.Signature))
	req.Header.Set("X-Signature-Algorithm", envelope.Algorithm)
	req.Header.Set("X-Certificate-Fingerprint", envelope.CertFingerprint)
	return c.roundTrip(ctx, op, req)
}

func (c *HTTPClient) roundTrip(ctx context.Context, op manifest.Operation, req *http.Request) (manifest.TransmissionAttempt, error) {
	ctx, span := tracer.Start(ctx, "authority."+string(op))
	defer span.End()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		// Transport failure or timeout: nothing is known about the
		// authority-side result.
		attempt := c.attempt(op, manifest.OutcomeIndeterminate, "", "", err.Error())
		span.SetAttributes(attribute.String("outcome", string(attempt.Outcome)))
		c.logger.WarnContext(ctx, "authority call failed in transport",
			"operation", op,
			"error", err.Error(),
		)
		return attempt, nil
	}
	defer resp.Body.Close()

	attempt := c.classify(op, resp)
	span.SetAttributes(
		attribute.String("outcome", string(attempt.Outcome)),
		attribute.String("authority_code", attempt.StatusCode),
	)
	return attempt, nil
}

// classify maps an HTTP exchange onto the three-way outcome model.
func (c *HTTPClient) classify(op manifest.Operation, resp *http.Response) manifest.TransmissionAttempt {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.attempt(op, manifest.OutcomeIndeterminate, "", "", "read response: "+err.Error())
	}

	switch {
	case resp.StatusCode >= 500:
		return c.attempt(op, manifest.OutcomeIndeterminate, "", "", fmt.Sprintf("authority unavailable (http %d)", resp.StatusCode))
	case resp.StatusCode >= 400:
		// The authority understood and refused the payload.
		return c.attempt(op, manifest.OutcomeRejected, fmt.Sprintf("%d", resp.StatusCode), "", string(body))
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return c.attempt(op, manifest.OutcomeIndeterminate, "", "", "undecodable authority response")
	}

	switch wire.Status {
	case "authorized":
		if wire.Protocol == "" {
			// An authorization without a protocol number cannot be trusted.
			return c.attempt(op, manifest.OutcomeIndeterminate, wire.Code, "", "authorized response missing protocol number")
		}
		return c.attempt(op, manifest.OutcomeAuthorized, wire.Code, wire.Protocol, wire.Reason)
	case "rejected":
		return c.attempt(op, manifest.OutcomeRejected, wire.Code, "", wire.Reason)
	case "queued", "processing":
		return c.attempt(op, manifest.OutcomeIndeterminate, wire.Code, "", "queued for processing")
	default:
		return c.attempt(op, manifest.OutcomeIndeterminate, wire.Code, "", fmt.Sprintf("unknown authority status %q", wire.Status))
	}
}

func (c *HTTPClient) attempt(op manifest.Operation, outcome manifest.Outcome, code, protocol, reason string) manifest.TransmissionAttempt {
	return manifest.TransmissionAttempt{
		Operation:  op,
		Outcome:    outcome,
		StatusCode: code,
		Protocol:   protocol,
		Reason:     reason,
		At:         c.clock(),
	}
}
