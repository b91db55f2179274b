// Package handler exposes the manifest lifecycle over HTTP. It is a thin
// delivery layer: decode, delegate, encode; all rules live in the lifecycle
// service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/lifecycle/service"
	"manifest-gateway/internal/manifest"
	"manifest-gateway/internal/platform/metrics"
	"manifest-gateway/internal/platform/middleware"
	"manifest-gateway/internal/transport/http/shared"
	dErrors "manifest-gateway/pkg/domain-errors"
)

// Service defines the lifecycle operations the handler delegates to.
type Service interface {
	Create(ctx context.Context, draft manifest.Draft) (*manifest.Manifest, error)
	Sign(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error)
	Submit(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error)
	Resolve(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error)
	Get(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error)
	Events(ctx context.Context, key accesskey.Key) ([]*manifest.LifecycleEvent, error)
	Summary(ctx context.Context, key accesskey.Key) (manifest.Summary, error)
	Close(ctx context.Context, key accesskey.Key, input service.CloseInput) (*manifest.LifecycleEvent, error)
	Cancel(ctx context.Context, key accesskey.Key, justification string) (*manifest.LifecycleEvent, error)
	ServiceStatus(ctx context.Context) (manifest.TransmissionAttempt, error)
}

// Handler handles manifest lifecycle endpoints.
type Handler struct {
	logger       *slog.Logger
	lifecycle    Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new lifecycle Handler.
func New(
	lifecycle Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		lifecycle:    lifecycle,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the manifest routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	manifestRouter := chi.NewRouter()
	manifestRouter.Use(middleware.Recovery(h.logger))
	manifestRouter.Use(middleware.RequestID)
	manifestRouter.Use(middleware.Logger(h.logger))
	manifestRouter.Use(middleware.Timeout(60 * time.Second))
	manifestRouter.Use(middleware.ContentTypeJSON)
	manifestRouter.Use(middleware.LatencyMiddleware(h.metrics))
	manifestRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	manifestRouter.Post("/manifests", h.handleCreate)
	manifestRouter.Get("/manifests/{key}", h.handleGet)
	manifestRouter.Get("/manifests/{key}/summary", h.handleSummary)
	manifestRouter.Get("/manifests/{key}/events", h.handleEvents)
	manifestRouter.Post("/manifests/{key}/sign", h.handleSign)
	manifestRouter.Post("/manifests/{key}/submit", h.handleSubmit)
	manifestRouter.Post("/manifests/{key}/resolve", h.handleResolve)
	manifestRouter.Post("/manifests/{key}/close", h.handleClose)
	manifestRouter.Post("/manifests/{key}/cancel", h.handleCancel)
	manifestRouter.Get("/authority/status", h.handleServiceStatus)

	r.Mount("/", manifestRouter)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warn(ctx, "invalid create manifest request", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	m, err := h.lifecycle.Create(ctx, req.draft())
	if err != nil {
		h.warn(ctx, "create manifest failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toManifestResponse(m))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	m, err := h.lifecycle.Get(r.Context(), key)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toManifestResponse(m))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	summary, err := h.lifecycle.Summary(r.Context(), key)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	events, err := h.lifecycle.Events(r.Context(), key)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	m, err := h.lifecycle.Sign(r.Context(), key)
	if err != nil {
		h.warn(r.Context(), "sign manifest failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toManifestResponse(m))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	m, err := h.lifecycle.Submit(ctx, key)
	if err != nil {
		// An exhausted submission still moved the manifest into Submitting;
		// report the persisted state alongside the condition.
		if m != nil && dErrors.HasCode(err, dErrors.CodeTransmissionExhausted) {
			shared.WriteJSON(w, http.StatusAccepted, toManifestResponse(m))
			return
		}
		h.warn(ctx, "submit manifest failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toManifestResponse(m))
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	m, err := h.lifecycle.Resolve(r.Context(), key)
	if err != nil {
		if m != nil && dErrors.HasCode(err, dErrors.CodeStatusUnresolved) {
			shared.WriteJSON(w, http.StatusAccepted, toManifestResponse(m))
			return
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toManifestResponse(m))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	var req CloseManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	ev, err := h.lifecycle.Close(ctx, key, service.CloseInput{UF: req.UF, CityCode: req.CityCode})
	if err != nil {
		h.warn(ctx, "close manifest failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	var req CancelManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	ev, err := h.lifecycle.Cancel(ctx, key, req.Justification)
	if err != nil {
		h.warn(ctx, "cancel manifest failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *Handler) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.lifecycle.ServiceStatus(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{
		"outcome": string(attempt.Outcome),
		"reason":  attempt.Reason,
	})
}

// pathKey extracts and checksum-validates the access key path parameter.
func (h *Handler) pathKey(w http.ResponseWriter, r *http.Request) (accesskey.Key, bool) {
	raw := chi.URLParam(r, "key")
	if !accesskey.Validate(raw) {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidField, "malformed access key"))
		return "", false
	}
	return accesskey.Key(raw), true
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}
