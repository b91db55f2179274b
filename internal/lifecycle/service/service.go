// Package service drives a manifest through its lifecycle: creation,
// signing, submission, authority resolution and post-authorization events.
// Every status change goes through the store's compare-and-swap so two
// writers can never both believe they won a transition, and a per-key lock is
// never held across an authority round-trip.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/audit"
	"manifest-gateway/internal/authority"
	"manifest-gateway/internal/lifecycle/metrics"
	"manifest-gateway/internal/lifecycle/store"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/internal/manifest/assembler"
	dErrors "manifest-gateway/pkg/domain-errors"
	"manifest-gateway/pkg/platform/sentinel"
)

var tracer = otel.Tracer("manifest-gateway/lifecycle")

// minJustificationLen is the authority's minimum for a cancellation
// justification.
const minJustificationLen = 15

// Signer produces and verifies signed envelopes. Satisfied by
// signature.Engine.
type Signer interface {
	Sign(form []byte) (*manifest.SignedEnvelope, error)
	Verify(envelope *manifest.SignedEnvelope) error
}

// ConsultationCache short-circuits repeated authority queries for the same
// key. Satisfied by the Redis-backed authority cache.
type ConsultationCache interface {
	Get(ctx context.Context, key accesskey.Key) (manifest.TransmissionAttempt, error)
	Save(ctx context.Context, key accesskey.Key, attempt manifest.TransmissionAttempt) error
}

// Config carries the issuing parameters every manifest shares.
type Config struct {
	Series       int // document series numbers are allocated in
	Model        int // fiscal document model, 58 for transport manifests
	EmissionType int
	MaxPolls     int // query attempts before a manifest is flagged unresolved
}

func (c Config) withDefaults() Config {
	if c.Series == 0 {
		c.Series = 1
	}
	if c.Model == 0 {
		c.Model = 58
	}
	if c.EmissionType == 0 {
		c.EmissionType = 1
	}
	if c.MaxPolls == 0 {
		c.MaxPolls = 10
	}
	return c
}

// Service is the lifecycle state machine.
type Service struct {
	store     store.Store
	assembler *assembler.Assembler
	signer    Signer
	client    authority.Client
	retrier   *authority.Retrier
	cache     ConsultationCache
	audit     audit.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	locks     *keyLocks
	cfg       Config
	clock     func() time.Time
	keyCode   func() int
}

// Option configures a Service.
type Option func(*Service)

// WithCache installs a consultation cache consulted before querying the
// authority.
func WithCache(cache ConsultationCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithAudit installs an audit sink. Audit failures are logged, never
// propagated: the trail is best-effort relative to the lifecycle itself.
func WithAudit(sink audit.Sink) Option {
	return func(s *Service) { s.audit = sink }
}

// WithMetrics installs lifecycle counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithKeyCode sets the generator for the 8-digit key code, for deterministic
// tests.
func WithKeyCode(fn func() int) Option {
	return func(s *Service) {
		if fn != nil {
			s.keyCode = fn
		}
	}
}

func New(st store.Store, asm *assembler.Assembler, signer Signer, client authority.Client, retrier *authority.Retrier, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     st,
		assembler: asm,
		signer:    signer,
		client:    client,
		retrier:   retrier,
		logger:    logger,
		locks:     newKeyLocks(),
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
		keyCode:   func() int { return rand.IntN(100_000_000) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a document number, derives the access key, renders the
// canonical form and persists the manifest in Created. The access key is
// assigned exactly once and never changes afterwards.
func (s *Service) Create(ctx context.Context, draft manifest.Draft) (*manifest.Manifest, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.create")
	defer span.End()

	if draft.EmittedAt.IsZero() {
		draft.EmittedAt = s.clock().UTC()
	}
	regionCode, ok := manifest.RegionCode(draft.OriginUF)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidField, "unknown origin UF %q", draft.OriginUF)
	}

	number, err := s.store.NextNumber(ctx, s.cfg.Series)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "allocate document number")
	}
	key, err := accesskey.Build(accesskey.Fields{
		RegionCode:   regionCode,
		EmittedAt:    draft.EmittedAt,
		IssuerTaxID:  draft.IssuerTaxID,
		Model:        s.cfg.Model,
		Series:       s.cfg.Series,
		Number:       number,
		EmissionType: s.cfg.EmissionType,
		Code:         s.keyCode(),
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("access_key", string(key)))

	form, err := s.assembler.Assemble(draft, key)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	m := &manifest.Manifest{
		AccessKey:     key,
		Version:       s.assembler.Version(),
		Status:        manifest.StatusCreated,
		CanonicalForm: form,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, m); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "access key %s already exists", key)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist manifest")
	}

	s.metrics.Transition(string(manifest.StatusCreated))
	s.emitAudit(ctx, key, "manifest.created", "", "")
	s.logger.InfoContext(ctx, "manifest created", "access_key", key, "number", number)
	return m, nil
}

// Sign computes the signature over the stored canonical form and moves the
// manifest to Signed. Signing failures leave the manifest untouched in
// Created.
func (s *Service) Sign(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.sign")
	defer span.End()

	release := s.locks.acquire(key)
	defer release()

	m, err := s.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if m.Status != manifest.StatusCreated {
		return nil, dErrors.Newf(dErrors.CodeConflict, "cannot sign a manifest in status %q", m.Status)
	}

	envelope, err := s.signer.Sign(m.CanonicalForm)
	if err != nil {
		return nil, err
	}

	err = s.store.Transition(ctx, key, manifest.StatusCreated, manifest.StatusSigned, func(m *manifest.Manifest) {
		m.Envelope = envelope
	})
	if err != nil {
		return nil, s.mapTransitionErr(err, key)
	}

	s.metrics.Transition(string(manifest.StatusSigned))
	s.emitAudit(ctx, key, "manifest.signed", "", envelope.CertFingerprint)
	return s.find(ctx, key)
}

// Submit transmits the signed envelope to the authority and commits the
// classified outcome. The manifest enters Submitting before any network I/O,
// so a crash mid-flight leaves a record that is resolved by querying, never
// by blind resubmission. Submitting a manifest already in Submitting resumes
// exactly that query path; submitting a terminal one is a duplicate
// submission error.
func (s *Service) Submit(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.submit")
	defer span.End()

	release := s.locks.acquire(key)
	m, err := s.find(ctx, key)
	if err != nil {
		release()
		return nil, err
	}

	switch m.Status {
	case manifest.StatusSigned:
		// proceed below
	case manifest.StatusSubmitting:
		release()
		return s.Resolve(ctx, key)
	case manifest.StatusCreated:
		release()
		return nil, dErrors.New(dErrors.CodeConflict, "manifest must be signed before submission")
	default:
		release()
		return nil, dErrors.Newf(dErrors.CodeDuplicateSubmission, "manifest already %s", m.Status)
	}

	if m.Envelope == nil {
		release()
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "signed manifest has no envelope")
	}
	// The envelope is re-verified before every transmission: a canonical form
	// that drifted from its signature must never reach the authority.
	if err := s.signer.Verify(m.Envelope); err != nil {
		release()
		return nil, err
	}

	if err := s.store.Transition(ctx, key, manifest.StatusSigned, manifest.StatusSubmitting, nil); err != nil {
		release()
		return nil, s.mapTransitionErr(err, key)
	}
	s.metrics.Transition(string(manifest.StatusSubmitting))

	// The lock is dropped for the round-trip; the store CAS arbitrates
	// whatever happened in the meantime.
	envelope := m.Envelope
	release()

	attempt, sendErr := s.retrier.Do(ctx, func(ctx context.Context) (manifest.TransmissionAttempt, error) {
		return s.client.Submit(ctx, envelope)
	})

	release = s.locks.acquire(key)
	defer release()

	if attempt.Operation != "" {
		s.metrics.Outcome(string(attempt.Operation), string(attempt.Outcome))
		if err := s.commitOutcome(ctx, key, attempt); err != nil {
			return nil, err
		}
	}
	if sendErr != nil {
		m, _ := s.find(ctx, key)
		return m, sendErr
	}
	return s.find(ctx, key)
}

// Resolve consults the authority for a manifest stuck in Submitting and
// commits whatever terminal outcome it learns. Each indeterminate answer
// consumes one unit of the poll budget; when the budget runs out the manifest
// is flagged unresolved for operator attention.
func (s *Service) Resolve(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.resolve")
	defer span.End()

	release := s.locks.acquire(key)
	m, err := s.find(ctx, key)
	if err != nil {
		release()
		return nil, err
	}
	if m.Status != manifest.StatusSubmitting {
		release()
		return m, nil
	}
	if m.Unresolved {
		release()
		return m, dErrors.Newf(dErrors.CodeStatusUnresolved, "manifest %s exceeded the poll budget", key)
	}
	release()

	attempt, err := s.consult(ctx, key)
	if err != nil {
		return nil, err
	}
	s.metrics.Outcome(string(manifest.OperationQuery), string(attempt.Outcome))

	release = s.locks.acquire(key)
	defer release()

	if attempt.Outcome == manifest.OutcomeIndeterminate {
		return s.recordIndeterminateQuery(ctx, key, attempt)
	}
	if err := s.commitOutcome(ctx, key, attempt); err != nil {
		return nil, err
	}
	return s.find(ctx, key)
}

// consult checks the consultation cache before hitting the authority, and
// feeds terminal answers back into it.
func (s *Service) consult(ctx context.Context, key accesskey.Key) (manifest.TransmissionAttempt, error) {
	if s.cache != nil {
		if attempt, err := s.cache.Get(ctx, key); err == nil && attempt.Outcome != manifest.OutcomeIndeterminate {
			return attempt, nil
		}
	}
	attempt, err := s.client.Query(ctx, key)
	if err != nil {
		return manifest.TransmissionAttempt{}, err
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, key, attempt); err != nil {
			s.logger.WarnContext(ctx, "consultation cache write failed", "access_key", key, "error", err.Error())
		}
	}
	return attempt, nil
}

func (s *Service) recordIndeterminateQuery(ctx context.Context, key accesskey.Key, attempt manifest.TransmissionAttempt) (*manifest.Manifest, error) {
	var exhausted bool
	err := s.store.Update(ctx, key, func(m *manifest.Manifest) {
		m.PollCount++
		m.Attempts = append(m.Attempts, attempt)
		if m.PollCount >= s.cfg.MaxPolls {
			m.Unresolved = true
			exhausted = true
		}
	})
	if err != nil {
		return nil, s.mapStoreErr(err, key)
	}
	m, findErr := s.find(ctx, key)
	if findErr != nil {
		return nil, findErr
	}
	if exhausted {
		s.metrics.Unresolved()
		s.emitAudit(ctx, key, "manifest.unresolved", string(manifest.OutcomeIndeterminate), attempt.Reason)
		s.logger.ErrorContext(ctx, "manifest poll budget exhausted", "access_key", key, "poll_count", m.PollCount)
		return m, dErrors.Newf(dErrors.CodeStatusUnresolved, "manifest %s exceeded the poll budget", key)
	}
	return m, nil
}

// commitOutcome applies a classified terminal attempt to a manifest in
// Submitting. The caller holds the per-key lock; the store CAS guards against
// other processes.
func (s *Service) commitOutcome(ctx context.Context, key accesskey.Key, attempt manifest.TransmissionAttempt) error {
	switch attempt.Outcome {
	case manifest.OutcomeAuthorized:
		err := s.store.Transition(ctx, key, manifest.StatusSubmitting, manifest.StatusAuthorized, func(m *manifest.Manifest) {
			m.Protocol = attempt.Protocol
			m.Attempts = append(m.Attempts, attempt)
		})
		if err != nil {
			return s.mapTransitionErr(err, key)
		}
		s.metrics.Transition(string(manifest.StatusAuthorized))
		s.emitAudit(ctx, key, "manifest.authorized", string(attempt.Outcome), attempt.Protocol)
		s.logger.InfoContext(ctx, "manifest authorized", "access_key", key, "protocol", attempt.Protocol)

	case manifest.OutcomeRejected:
		err := s.store.Transition(ctx, key, manifest.StatusSubmitting, manifest.StatusRejected, func(m *manifest.Manifest) {
			m.Attempts = append(m.Attempts, attempt)
		})
		if err != nil {
			return s.mapTransitionErr(err, key)
		}
		s.metrics.Transition(string(manifest.StatusRejected))
		s.emitAudit(ctx, key, "manifest.rejected", string(attempt.Outcome), attempt.Reason)
		s.logger.WarnContext(ctx, "manifest rejected", "access_key", key, "code", attempt.StatusCode, "reason", attempt.Reason)

	default:
		err := s.store.Update(ctx, key, func(m *manifest.Manifest) {
			m.Attempts = append(m.Attempts, attempt)
		})
		if err != nil {
			return s.mapStoreErr(err, key)
		}
	}
	return nil
}

// Get returns the current persisted manifest without touching the authority.
func (s *Service) Get(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	return s.find(ctx, key)
}

// Events returns a manifest's lifecycle events ordered by sequence.
func (s *Service) Events(ctx context.Context, key accesskey.Key) ([]*manifest.LifecycleEvent, error) {
	if _, err := s.find(ctx, key); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list events")
	}
	return events, nil
}

// Summary parses the display view out of the stored canonical form.
func (s *Service) Summary(ctx context.Context, key accesskey.Key) (manifest.Summary, error) {
	m, err := s.find(ctx, key)
	if err != nil {
		return manifest.Summary{}, err
	}
	return assembler.ExtractSummary(m.CanonicalForm)
}

// ServiceStatus probes the authority.
func (s *Service) ServiceStatus(ctx context.Context) (manifest.TransmissionAttempt, error) {
	return s.client.ServiceStatus(ctx)
}

// CloseInput carries the closure location: where the transport operation
// actually ended.
type CloseInput struct {
	UF       string
	CityCode string
}

// Close registers a closure event for an authorized manifest.
func (s *Service) Close(ctx context.Context, key accesskey.Key, input CloseInput) (*manifest.LifecycleEvent, error) {
	if _, ok := manifest.RegionCode(input.UF); !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "closure requires a valid UF, got %q", input.UF)
	}
	if !isDigits(input.CityCode) {
		return nil, dErrors.New(dErrors.CodeValidation, "closure requires a numeric municipality code")
	}
	return s.applyEvent(ctx, key, manifest.LifecycleEvent{
		Type:            manifest.EventClosure,
		ClosureUF:       input.UF,
		ClosureCityCode: input.CityCode,
	}, manifest.StatusClosed, "manifest.closed")
}

// Cancel registers a cancellation event for an authorized manifest. The
// justification is mandatory and must carry at least 15 characters.
func (s *Service) Cancel(ctx context.Context, key accesskey.Key, justification string) (*manifest.LifecycleEvent, error) {
	if len(strings.TrimSpace(justification)) < minJustificationLen {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"cancellation justification must be at least %d characters", minJustificationLen)
	}
	return s.applyEvent(ctx, key, manifest.LifecycleEvent{
		Type:          manifest.EventCancellation,
		Justification: justification,
	}, manifest.StatusCancelled, "manifest.cancelled")
}

// applyEvent signs and transmits a lifecycle event and, when the authority
// registers it, commits the corresponding manifest transition. A pending
// event of the same type is retransmitted with its original envelope instead
// of creating a new sequence; a pending event of another type blocks until
// resolved.
func (s *Service) applyEvent(ctx context.Context, key accesskey.Key, template manifest.LifecycleEvent, target manifest.Status, auditAction string) (*manifest.LifecycleEvent, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.event")
	span.SetAttributes(attribute.String("event_type", string(template.Type)))
	defer span.End()

	release := s.locks.acquire(key)
	m, err := s.find(ctx, key)
	if err != nil {
		release()
		return nil, err
	}
	if m.Status != manifest.StatusAuthorized {
		release()
		if m.Status.Terminal() {
			return nil, dErrors.Newf(dErrors.CodeConflict, "manifest already %s", m.Status)
		}
		return nil, dErrors.Newf(dErrors.CodeConflict, "events require an authorized manifest, status is %q", m.Status)
	}

	events, err := s.store.ListEvents(ctx, key)
	if err != nil {
		release()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list events")
	}

	ev := template
	ev.AccessKey = key
	ev.Status = manifest.EventPending
	ev.Sequence = 1
	if len(events) > 0 {
		last := events[len(events)-1]
		if last.Status == manifest.EventPending {
			if last.Type != ev.Type {
				release()
				return nil, dErrors.Newf(dErrors.CodeConflict,
					"event %d (%s) is still pending", last.Sequence, last.Type)
			}
			// Retransmit the original signed payload; a fresh envelope would
			// present the authority with a second document for one sequence.
			ev = *last
		} else {
			ev.Sequence = last.Sequence + 1
		}
	}

	if ev.Envelope == nil {
		ev.CreatedAt = s.clock()
		form, err := s.assembler.AssembleEvent(ev, m.Protocol)
		if err != nil {
			release()
			return nil, err
		}
		envelope, err := s.signer.Sign(form)
		if err != nil {
			release()
			return nil, err
		}
		ev.Envelope = envelope
		if err := s.store.SaveEvent(ctx, &ev); err != nil {
			release()
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, dErrors.Newf(dErrors.CodeConcurrentTransition,
					"event sequence %d for %s was taken by a concurrent writer", ev.Sequence, key)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist event")
		}
	}
	envelope := ev.Envelope
	release()

	attempt, sendErr := s.retrier.Do(ctx, func(ctx context.Context) (manifest.TransmissionAttempt, error) {
		return s.client.SendEvent(ctx, envelope)
	})

	release = s.locks.acquire(key)
	defer release()

	if attempt.Operation != "" {
		s.metrics.Outcome(string(attempt.Operation), string(attempt.Outcome))
		ev.Attempts = append(ev.Attempts, attempt)
	}

	switch {
	case sendErr != nil || attempt.Outcome == manifest.OutcomeIndeterminate:
		// Still pending; a later call with the same type retransmits the
		// stored envelope.
		if err := s.store.UpdateEvent(ctx, &ev); err != nil {
			return nil, s.mapStoreErr(err, key)
		}
		if sendErr != nil {
			return &ev, sendErr
		}
		return &ev, dErrors.Newf(dErrors.CodeStatusUnresolved, "event %d for %s is still pending", ev.Sequence, key)

	case attempt.Outcome == manifest.OutcomeRejected:
		ev.Status = manifest.EventRejected
		if err := s.store.UpdateEvent(ctx, &ev); err != nil {
			return nil, s.mapStoreErr(err, key)
		}
		s.emitAudit(ctx, key, auditAction, string(attempt.Outcome), attempt.Reason)
		return &ev, dErrors.Newf(dErrors.CodeRejected, "event rejected by authority: %s", attempt.Reason)
	}

	ev.Status = manifest.EventRegistered
	ev.Protocol = attempt.Protocol
	if err := s.store.UpdateEvent(ctx, &ev); err != nil {
		return nil, s.mapStoreErr(err, key)
	}
	err = s.store.Transition(ctx, key, manifest.StatusAuthorized, target, func(m *manifest.Manifest) {
		m.Attempts = append(m.Attempts, attempt)
	})
	if err != nil {
		return nil, s.mapTransitionErr(err, key)
	}
	s.metrics.Transition(string(target))
	s.emitAudit(ctx, key, auditAction, string(attempt.Outcome), attempt.Protocol)
	s.logger.InfoContext(ctx, "event registered",
		"access_key", key, "event_type", ev.Type, "sequence", ev.Sequence, "protocol", ev.Protocol)
	return &ev, nil
}

func (s *Service) find(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error) {
	m, err := s.store.Find(ctx, key)
	if err != nil {
		return nil, s.mapStoreErr(err, key)
	}
	return m, nil
}

func (s *Service) mapStoreErr(err error, key accesskey.Key) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "manifest %s not found", key)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "manifest store")
}

func (s *Service) mapTransitionErr(err error, key accesskey.Key) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Newf(dErrors.CodeConcurrentTransition,
			"manifest %s changed status under a concurrent writer", key)
	}
	return s.mapStoreErr(err, key)
}

func (s *Service) emitAudit(ctx context.Context, key accesskey.Key, action, outcome, detail string) {
	if s.audit == nil {
		return
	}
	event := audit.Event{
		AccessKey: string(key),
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: s.clock(),
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "access_key", key, "action", action, "error", err.Error())
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
