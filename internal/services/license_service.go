package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licmgr/internal/config"
	"licmgr/internal/infrastructure"
	"licmgr/internal/license"
	"licmgr/internal/licenseserver"
	"licmgr/internal/settings"
)

// LicenseService provides business logic for license operations.
type LicenseService interface {
	GetStatus(ctx context.Context, sku string) (*StatusResponse, error)
	Activate(ctx context.Context, sku, key string) (*ActivationResponse, error)
	Deactivate(ctx context.Context, sku string) (*DeactivationResponse, error)
	Verify(ctx context.Context, sku string, force bool) (bool, error)
	RenewalStatus(ctx context.Context, sku string) (*RenewalStatusResponse, error)
	InvalidateCache(ctx context.Context, sku string) error
	CacheStats(ctx context.Context) map[string]interface{}
}

// StatusResponse is the standardized license status payload.
type StatusResponse struct {
	SKU           string                 `json:"sku"`
	State         string                 `json:"state"`
	Licensed      bool                   `json:"licensed"`
	ExpiryWarning string                 `json:"expiry_warning,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
	TraceID       string                 `json:"trace_id"`
	Timestamp     time.Time              `json:"timestamp"`
}

// ActivationResponse reports the outcome of an activation attempt.
type ActivationResponse struct {
	SKU       string                 `json:"sku"`
	State     string                 `json:"state"`
	Code      int                    `json:"code"`
	Messages  []string               `json:"messages,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	TraceID   string                 `json:"trace_id"`
	Timestamp time.Time              `json:"timestamp"`
}

// DeactivationResponse reports the outcome of a deactivation attempt.
type DeactivationResponse struct {
	SKU         string    `json:"sku"`
	Deactivated bool      `json:"deactivated"`
	TraceID     string    `json:"trace_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// RenewalStatusResponse classifies a license against the renewal window.
type RenewalStatusResponse struct {
	SKU             string     `json:"sku"`
	NeedsRenewal    bool       `json:"needs_renewal"`
	IsExpired       bool       `json:"is_expired"`
	DaysUntilExpiry int        `json:"days_until_expiry,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	Urgency         string     `json:"renewal_urgency"`
	Message         string     `json:"renewal_message"`
	TraceID         string     `json:"trace_id"`
}

type licenseService struct {
	manager  *license.Manager
	settings *settings.LicenseSettings
	server   *licenseserver.Server
	metrics  *infrastructure.LicenseMetrics
	logger   *slog.Logger
}

// NewLicenseService wires the service. metrics may be nil when telemetry is
// disabled.
func NewLicenseService(
	manager *license.Manager,
	ls *settings.LicenseSettings,
	srv *licenseserver.Server,
	metrics *infrastructure.LicenseMetrics,
	logger *slog.Logger,
) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager:  manager,
		settings: ls,
		server:   srv,
		metrics:  metrics,
		logger:   infrastructure.WithComponent(logger, "license_service"),
	}
}

func (s *licenseService) GetStatus(ctx context.Context, sku string) (*StatusResponse, error) {
	start := time.Now()
	ctx = infrastructure.EnsureTraceID(ctx)
	sku = settings.NormalizeSKU(sku)

	rec, err := s.settings.LoadSettings(sku)
	if err != nil {
		return nil, err
	}

	licensed := s.manager.IsLicensed(ctx, sku, false)
	state := s.manager.State(ctx, sku)

	resp := &StatusResponse{
		SKU:       sku,
		State:     string(state),
		Licensed:  licensed,
		Fields:    rec.Map(),
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now(),
	}

	switch s.manager.IsExpiring(sku) {
	case license.Expired:
		resp.ExpiryWarning = "license has expired"
	case license.ExpiringSoon:
		resp.ExpiryWarning = "license expires soon"
	}

	s.recordValidation(ctx, sku, time.Since(start))
	return resp, nil
}

func (s *licenseService) Activate(ctx context.Context, sku, key string) (*ActivationResponse, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	sku = settings.NormalizeSKU(sku)

	if s.metrics != nil {
		s.metrics.ActivationAttempts.Add(ctx, 1,
			metric.WithAttributes(attribute.String("sku", sku)))
	}

	result, err := s.manager.Activate(ctx, sku, key)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ActivationFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("sku", sku)))
		}
		return nil, err
	}
	if result.State != license.StateActive && s.metrics != nil {
		s.metrics.ActivationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("sku", sku)))
	}

	return &ActivationResponse{
		SKU:       sku,
		State:     string(result.State),
		Code:      result.Code,
		Messages:  result.Messages,
		Fields:    result.Fields,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now(),
	}, nil
}

func (s *licenseService) Deactivate(ctx context.Context, sku string) (*DeactivationResponse, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	sku = settings.NormalizeSKU(sku)

	ok, err := s.manager.Deactivate(ctx, sku)
	if err != nil {
		return nil, err
	}
	return &DeactivationResponse{
		SKU:         sku,
		Deactivated: ok,
		TraceID:     infrastructure.GetTraceID(ctx),
		Timestamp:   time.Now(),
	}, nil
}

func (s *licenseService) Verify(ctx context.Context, sku string, force bool) (bool, error) {
	start := time.Now()
	sku = settings.NormalizeSKU(sku)
	licensed := s.manager.IsLicensed(ctx, sku, force)
	s.recordValidation(ctx, sku, time.Since(start))
	return licensed, nil
}

func (s *licenseService) RenewalStatus(ctx context.Context, sku string) (*RenewalStatusResponse, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	sku = settings.NormalizeSKU(sku)

	rec, err := s.settings.LoadSettings(sku)
	if err != nil {
		return nil, err
	}

	resp := &RenewalStatusResponse{
		SKU:     sku,
		Urgency: "low",
		Message: "License does not need renewal.",
		TraceID: infrastructure.GetTraceID(ctx),
	}

	exp := rec.ExpireEpoch()
	if exp > 0 {
		t := time.Unix(exp, 0)
		resp.ExpiryDate = &t
		resp.DaysUntilExpiry = int(time.Until(t).Hours() / 24)
	}

	switch s.manager.IsExpiring(sku) {
	case license.Expired:
		resp.NeedsRenewal = true
		resp.IsExpired = true
		resp.Urgency = "critical"
		resp.Message = "The license has expired. Renew it to restore updates and support."
	case license.ExpiringSoon:
		resp.NeedsRenewal = true
		resp.Urgency = "high"
		resp.Message = "The license expires within the renewal window. Renew it soon."
	}
	return resp, nil
}

func (s *licenseService) InvalidateCache(ctx context.Context, sku string) error {
	ctx = infrastructure.EnsureTraceID(ctx)
	sku = settings.NormalizeSKU(sku)
	s.server.Cache().Invalidate(licenseserver.Key(sku))
	s.logger.InfoContext(ctx, "license status cache invalidated",
		slog.String("sku", sku),
	)
	return nil
}

func (s *licenseService) CacheStats(ctx context.Context) map[string]interface{} {
	stats := s.server.Cache().Stats()
	stats["ttl"] = config.StatusCacheTTL.String()
	return stats
}

func (s *licenseService) recordValidation(ctx context.Context, sku string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("sku", sku))
	s.metrics.ValidationAttempts.Add(ctx, 1, attrs)
	s.metrics.ValidationDuration.Record(ctx, elapsed.Seconds(), attrs)
}
