package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	licenseErrors "licmgr/internal/errors"
	"licmgr/internal/infrastructure"
	"licmgr/internal/services"
)

var validate = validator.New()

// LicenseHandler handles license lifecycle HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the activation request payload.
type ActivationRequest struct {
	SKU        string `json:"sku" validate:"required,min=2,max=128"`
	LicenseKey string `json:"license_key" validate:"required,min=8"`
}

// Bind implements render.Binder.
func (a *ActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(a)
}

// DeactivationRequest is the deactivation request payload.
type DeactivationRequest struct {
	SKU string `json:"sku" validate:"required,min=2,max=128"`
}

// Bind implements render.Binder.
func (d *DeactivationRequest) Bind(r *http.Request) error {
	return validate.Struct(d)
}

// VerifyRequest is the verification request payload forwarded by the host
// application.
type VerifyRequest struct {
	SKU   string `json:"sku" validate:"required,min=2,max=128"`
	Force bool   `json:"force,omitempty"`
}

// Bind implements render.Binder.
func (v *VerifyRequest) Bind(r *http.Request) error {
	return validate.Struct(v)
}

// CacheInvalidationRequest is the cache invalidation payload.
type CacheInvalidationRequest struct {
	SKU    string `json:"sku" validate:"required,min=2,max=128"`
	Reason string `json:"reason,omitempty"`
}

// Bind implements render.Binder.
func (c *CacheInvalidationRequest) Bind(r *http.Request) error {
	return validate.Struct(c)
}

// VerifyResponse serializes the boolean verification result.
type VerifyResponse struct {
	SKU       string    `json:"sku"`
	Licensed  bool      `json:"licensed"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// GetStatus handles GET /status/{sku}.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sku := chi.URLParam(r, "sku")
	start := time.Now()

	response, err := h.service.GetStatus(ctx, sku)
	if err != nil {
		h.renderError(w, r, err, "get_status")
		return
	}

	h.logger.InfoContext(ctx, "license status request completed",
		slog.String("sku", sku),
		slog.String("state", response.State),
		slog.Duration("latency", time.Since(start)),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Activate handles POST /activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderValidation(w, r, err)
		return
	}

	response, err := h.service.Activate(ctx, req.SKU, req.LicenseKey)
	if err != nil {
		h.renderError(w, r, err, "activate")
		return
	}

	h.logger.InfoContext(ctx, "activation request completed",
		slog.String("sku", req.SKU),
		slog.String("state", response.State),
		slog.Int("code", response.Code),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Deactivate handles POST /deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &DeactivationRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderValidation(w, r, err)
		return
	}

	response, err := h.service.Deactivate(ctx, req.SKU)
	if err != nil {
		h.renderError(w, r, err, "deactivate")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Verify handles POST /verify: the thin adapter that forwards a
// verification request into the engine and serializes the boolean back.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &VerifyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderValidation(w, r, err)
		return
	}

	licensed, err := h.service.Verify(ctx, req.SKU, req.Force)
	if err != nil {
		h.renderError(w, r, err, "verify")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &VerifyResponse{
		SKU:       req.SKU,
		Licensed:  licensed,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now(),
	})
}

// GetRenewalStatus handles GET /renewal/{sku}.
func (h *LicenseHandler) GetRenewalStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sku := chi.URLParam(r, "sku")

	response, err := h.service.RenewalStatus(ctx, sku)
	if err != nil {
		h.renderError(w, r, err, "renewal_status")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// InvalidateCache handles POST /invalidate-cache.
func (h *LicenseHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &CacheInvalidationRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderValidation(w, r, err)
		return
	}

	if err := h.service.InvalidateCache(ctx, req.SKU); err != nil {
		h.renderError(w, r, err, "invalidate_cache")
		return
	}

	h.logger.InfoContext(ctx, "cache invalidation requested",
		slog.String("sku", req.SKU),
		slog.String("reason", req.Reason),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"invalidated": true,
		"sku":         req.SKU,
		"trace_id":    infrastructure.GetTraceID(ctx),
	})
}

// GetCacheStats handles GET /cache-stats.
func (h *LicenseHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.service.CacheStats(r.Context()))
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	infrastructure.WithError(h.logger, err).ErrorContext(ctx, "license request failed",
		slog.String("operation", operation),
	)
	render.Render(w, r, licenseErrors.MapLicenseError(err, traceID))
}

func (h *LicenseHandler) renderValidation(w http.ResponseWriter, r *http.Request, err error) {
	traceID := infrastructure.GetTraceID(r.Context())
	problem := licenseErrors.NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		err.Error(),
		r.URL.Path,
	).WithExtension("trace_id", traceID)
	if fields := fieldErrors(err); len(fields) > 0 {
		problem = problem.WithExtension("errors", fields)
	}
	render.Render(w, r, problem)
}

// fieldErrors flattens validator failures into per-field messages.
func fieldErrors(err error) []licenseErrors.ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]licenseErrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, licenseErrors.ValidationError{
			Field:   fe.Field(),
			Message: "failed validation on the '" + fe.Tag() + "' rule",
		})
	}
	return fields
}
