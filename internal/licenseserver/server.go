package licenseserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licmgr/internal/config"
	"licmgr/internal/infrastructure"
	"licmgr/internal/settings"
)

// HostResolver reports the host/domain the engine is currently serving.
type HostResolver interface {
	CurrentHost() string
}

// OSHostResolver resolves the current host from the operating system.
type OSHostResolver struct{}

// CurrentHost implements HostResolver.
func (OSHostResolver) CurrentHost() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

// StaticHost is a fixed-host resolver for servers that know their public
// domain from configuration.
type StaticHost string

// CurrentHost implements HostResolver.
func (s StaticHost) CurrentHost() string { return string(s) }

// Options configures a Server. Zero values fall back to working defaults.
type Options struct {
	HTTPClient *http.Client
	Cache      *StatusCache
	Notices    Notices
	Host       HostResolver
	Validator  Validator
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *infrastructure.LicenseMetrics
}

// Server is the remote protocol client. It builds request payloads
// appropriate to the active schema version, performs the HTTP exchange,
// parses the response, and owns the read-through status cache.
type Server struct {
	settings  *settings.LicenseSettings
	defaults  *config.Defaults
	client    *http.Client
	cache     *StatusCache
	notices   Notices
	host      HostResolver
	validator Validator
	metrics   *infrastructure.LicenseMetrics
	logger    *slog.Logger
}

// New creates a Server around a settings façade.
func New(ls *settings.LicenseSettings, opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultHTTPTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Cache == nil {
		opts.Cache = NewStatusCache(config.StatusCacheTTL)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notices == nil {
		opts.Notices = NewSlogNotices(opts.Logger)
	}
	if opts.Host == nil {
		opts.Host = OSHostResolver{}
	}

	s := &Server{
		settings: ls,
		defaults: ls.Defaults(),
		client:   opts.HTTPClient,
		cache:    opts.Cache,
		notices:  opts.Notices,
		host:     opts.Host,
		metrics:  opts.Metrics,
		logger:   infrastructure.WithComponent(opts.Logger, "license_server"),
	}
	if opts.Validator == nil {
		opts.Validator = &restValidator{server: s}
	}
	s.validator = opts.Validator
	return s
}

// Cache exposes the status cache for invalidation and stats.
func (s *Server) Cache() *StatusCache { return s.cache }

// Host exposes the current-host resolver.
func (s *Server) Host() HostResolver { return s.host }

// Send performs the legacy-schema network exchange: a form-encoded POST to
// the configured connection URI, decoded as JSON. Transport and decode
// failures come back as a RemoteError; the decode failure kind (syntax,
// type, depth) is preserved for diagnostics only.
func (s *Server) Send(ctx context.Context, params url.Values) (map[string]interface{}, *RemoteError) {
	endpoint := s.defaults.ConnectionURI()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &RemoteError{Kind: RemoteTransport, Message: "failed to build license server request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &RemoteError{Kind: RemoteTransport, Message: "license server request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &RemoteError{Kind: RemoteTransport, Message: "failed to read license server response", Err: err}
	}

	decoded := map[string]interface{}{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &RemoteError{Kind: RemoteMalformed, Message: decodeFailureKind(err), Err: err}
	}
	return decoded, nil
}

// SendRequest performs the current-schema network exchange for a license
// request object.
func (s *Server) SendRequest(ctx context.Context, req *LicenseRequest) (map[string]interface{}, *RemoteError) {
	params := url.Values{}
	params.Set("action", req.Action)
	params.Set("store_code", req.StoreCode)
	params.Set("sku", req.SKU)
	params.Set("license_key", req.LicenseKey)
	params.Set("domain", req.Domain)
	if req.ActivationID != "" {
		params.Set("activation_id", req.ActivationID)
	}
	return s.Send(ctx, params)
}

// LegacyParams builds the legacy-schema form parameters for an action.
func (s *Server) LegacyParams(action string, rec *settings.Record) url.Values {
	secret := ""
	if v, err := config.Constant(config.ConstSecretKey, config.ConstantRead, nil); err == nil {
		secret, _ = v.(string)
	}

	params := url.Values{}
	params.Set("slm_action", action)
	params.Set("license_key", rec.Key())
	params.Set("secret_key", secret)
	params.Set("registered_domain", s.host.CurrentHost())

	if action == LegacyActivate {
		params.Set("item_reference", rec.SKU())
		if v, err := rec.Get(settings.FieldFirstName); err == nil {
			params.Set("first_name", fmt.Sprintf("%v", v))
		}
		if v, err := rec.Get(settings.FieldLastName); err == nil {
			params.Set("last_name", fmt.Sprintf("%v", v))
		}
		if v, err := rec.Get(settings.FieldEmail); err == nil {
			params.Set("email", fmt.Sprintf("%v", v))
		}
	}
	return params
}

// Status is the read-through cache entry point answering "is this SKU
// currently licensed?". With force false a fresh cached value short-circuits
// the remote call entirely; the recomputed boolean is always written back
// with the cache TTL before returning.
func (s *Server) Status(ctx context.Context, sku string, force bool) bool {
	return s.CheckStatus(ctx, sku, force).Licensed
}

// CheckStatus is Status with an inspectable outcome.
func (s *Server) CheckStatus(ctx context.Context, sku string, force bool) StatusOutcome {
	rec, err := s.settings.LoadSettings(sku)
	if err != nil {
		s.logger.WarnContext(ctx, "status check for unloadable record",
			slog.String("sku", sku),
			slog.String("error", err.Error()),
		)
		return StatusOutcome{Licensed: false, Reason: RemoteServer, Message: "no license record"}
	}

	// No key stored means there is nothing to validate remotely.
	if rec.Key() == "" {
		return StatusOutcome{Licensed: false, Reason: RemoteServer, Message: "no license key on record"}
	}

	cacheKey := Key(sku)
	if !force {
		if cached, ok := s.cache.Get(cacheKey); ok {
			s.recordCache(ctx, sku, true)
			s.logger.DebugContext(ctx, "license status served from cache",
				slog.String("sku", sku),
				slog.Bool("licensed", cached),
			)
			return StatusOutcome{Licensed: cached}
		}
	}
	s.recordCache(ctx, sku, false)

	var outcome StatusOutcome
	if rec.Version() == settings.SchemaNew {
		outcome = s.checkNew(ctx, sku, rec)
	} else {
		outcome = s.checkOld(ctx, sku, rec)
	}

	s.cache.Set(cacheKey, outcome.Licensed)
	s.logger.InfoContext(ctx, "license status recomputed",
		slog.String("sku", sku),
		slog.Bool("licensed", outcome.Licensed),
		slog.Bool("forced", force),
		slog.String("reason", string(outcome.Reason)),
	)
	return outcome
}

func (s *Server) recordCache(ctx context.Context, sku string, hit bool) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("sku", sku))
	if hit {
		s.metrics.CacheHits.Add(ctx, 1, attrs)
	} else {
		s.metrics.CacheMisses.Add(ctx, 1, attrs)
	}
}

// checkNew validates a current-schema record through the validation helper.
// Helper errors are absorbed: they become a false status plus a logged
// message, never a raised error.
func (s *Server) checkNew(ctx context.Context, sku string, rec *settings.Record) StatusOutcome {
	req := NewLicenseRequest(ActionVerify, rec, s.defaults, s.host.CurrentHost())

	var payload map[string]interface{}
	ok, err := s.validator.Validate(ctx, req, func(fields map[string]interface{}) error {
		payload = fields
		s.settings.Merge(fields)
		return s.settings.Save()
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "license validation helper failed",
			slog.String("sku", sku),
			slog.String("error", err.Error()),
		)
		s.notices.Add(ctx, NoticeError, fmt.Sprintf("Unable to verify the license for %s: the license server could not be reached.", sku))
		ok = false
	}

	return s.processNewLicenseInfo(ctx, sku, payload, rec, ok)
}

// checkOld validates a legacy-schema record with a direct slm_check exchange.
func (s *Server) checkOld(ctx context.Context, sku string, rec *settings.Record) StatusOutcome {
	decoded, rerr := s.Send(ctx, s.LegacyParams(LegacyCheck, rec))
	return s.processOldLicenseInfo(ctx, sku, decoded, rerr, rec)
}

// processNewLicenseInfo interprets a current-backend response. When the
// payload carries registered domain records the current host must appear
// among them; on a match the status, expiry and expire date are persisted.
// The authority's renewal, domain and owner columns only exist in the legacy
// schema and are dropped here. Independently, a past expiry forces the
// status false and queues an expiration notice regardless of what the server
// reported: expiry is authoritative over server-reported status.
func (s *Server) processNewLicenseInfo(ctx context.Context, sku string, decoded map[string]interface{}, rec *settings.Record, ok bool) StatusOutcome {
	if domains, present := registeredDomains(decoded); present {
		ok = false
		host := s.host.CurrentHost()
		for _, d := range domains {
			if domainOf(d) != host {
				continue
			}
			updates := map[string]interface{}{
				settings.FieldStatus: settings.StatusActive,
			}
			if v, found := d[settings.FieldExpires]; found {
				updates[settings.FieldExpire] = v
			}
			if v, found := decoded["expire_date"]; found {
				updates[settings.FieldExpireDate] = v
			}
			s.settings.Merge(updates)
			if err := s.settings.Save(); err != nil {
				s.logger.ErrorContext(ctx, "failed to persist license info",
					slog.String("sku", sku),
					slog.String("error", err.Error()),
				)
			}
			ok = true
			break
		}
		if !ok {
			s.notices.Add(ctx, NoticeWarning,
				fmt.Sprintf("The license for %s is not registered for this domain (%s).", sku, host))
			return StatusOutcome{Licensed: false, Reason: RemoteDomainMismatch, Message: "domain not registered"}
		}
	}

	if exp := rec.ExpireEpoch(); exp > 0 && exp <= time.Now().Unix() {
		s.notices.Add(ctx, NoticeWarning,
			fmt.Sprintf("The license for %s expired on %s. Please renew it to continue receiving updates and support.",
				sku, time.Unix(exp, 0).Format("2006-01-02")))
		return StatusOutcome{Licensed: false, Reason: RemoteExpired, Message: "license expired"}
	}

	if !ok {
		return StatusOutcome{Licensed: false, Reason: RemoteServer, Message: "license not valid"}
	}
	return StatusOutcome{Licensed: true}
}

// processOldLicenseInfo interprets a legacy-backend response. Empty or
// error-flagged payloads force false; a 200 with a nested active status is
// true; anything else preserves the previously cached value rather than
// guessing.
func (s *Server) processOldLicenseInfo(ctx context.Context, sku string, decoded map[string]interface{}, rerr *RemoteError, rec *settings.Record) StatusOutcome {
	if rerr != nil {
		s.logger.ErrorContext(ctx, "legacy license check failed",
			slog.String("sku", sku),
			slog.String("kind", string(rerr.Kind)),
			slog.String("error", rerr.Error()),
		)
		s.notices.Add(ctx, NoticeError,
			fmt.Sprintf("Unable to verify the license for %s: the license server could not be reached.", sku))
		return StatusOutcome{Licensed: false, Reason: rerr.Kind, Message: rerr.Message}
	}
	if len(decoded) == 0 {
		return StatusOutcome{Licensed: false, Reason: RemoteMalformed, Message: "empty response"}
	}

	status := toEpochInt(decoded["status"])
	if isTrue(decoded["error"]) || status == http.StatusInternalServerError {
		for _, msg := range errorMessages(decoded["errors"]) {
			s.notices.Add(ctx, NoticeError, msg)
		}
		return StatusOutcome{Licensed: false, Reason: RemoteServer, Message: "license server reported an error"}
	}

	if status == http.StatusOK {
		if data, ok := decoded["data"].(map[string]interface{}); ok {
			if st, _ := data["status"].(string); st == settings.StatusActive {
				s.settings.Merge(map[string]interface{}{
					settings.FieldStatus:    settings.StatusActive,
					settings.FieldTimestamp: time.Now().Unix(),
				})
				if err := s.settings.Save(); err != nil {
					s.logger.ErrorContext(ctx, "failed to persist license info",
						slog.String("sku", sku),
						slog.String("error", err.Error()),
					)
				}
				return StatusOutcome{Licensed: true}
			}
		}
	}

	// Ambiguous payload: keep the last authoritative value.
	if prev, ok := s.cache.GetStale(Key(sku)); ok {
		return StatusOutcome{Licensed: prev}
	}
	return StatusOutcome{Licensed: false, Reason: RemoteMalformed, Message: "unrecognized response"}
}

// restValidator is the default validation helper: a verify exchange against
// the configured REST endpoint, interpreted with current-schema semantics.
type restValidator struct {
	server *Server
}

// Validate implements Validator.
func (v *restValidator) Validate(ctx context.Context, req *LicenseRequest, save func(fields map[string]interface{}) error) (bool, error) {
	decoded, rerr := v.server.SendRequest(ctx, req)
	if rerr != nil {
		return false, rerr
	}

	if isTrue(decoded["error"]) {
		return false, nil
	}
	if toEpochInt(decoded["status"]) != http.StatusOK {
		return false, nil
	}

	data, _ := decoded["data"].(map[string]interface{})
	if data != nil {
		if err := save(data); err != nil {
			return false, fmt.Errorf("failed to save returned license fields: %w", err)
		}
	}
	st, _ := data["status"].(string)
	return st == settings.StatusActive, nil
}

// decodeFailureKind distinguishes JSON decode failures for diagnostics.
// Externally every decode failure is the same boolean failure signal.
func decodeFailureKind(err error) string {
	switch err.(type) {
	case *json.SyntaxError:
		return "response is not valid JSON (syntax error)"
	case *json.UnmarshalTypeError:
		return "response has an unexpected shape (encoding error)"
	default:
		if strings.Contains(err.Error(), "exceeded max depth") {
			return "response nesting exceeds the maximum depth"
		}
		return "response could not be decoded"
	}
}

func registeredDomains(decoded map[string]interface{}) ([]map[string]interface{}, bool) {
	if decoded == nil {
		return nil, false
	}
	raw, present := decoded["registered_domains"]
	if !present {
		return nil, false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, true
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func domainOf(d map[string]interface{}) string {
	s, _ := d["registered_domain"].(string)
	return s
}

func errorMessages(raw interface{}) []string {
	out := []string{}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return out
	}
	for _, v := range m {
		switch msgs := v.(type) {
		case []interface{}:
			for _, msg := range msgs {
				out = append(out, fmt.Sprintf("%v", msg))
			}
		default:
			out = append(out, fmt.Sprintf("%v", msgs))
		}
	}
	return out
}

func isTrue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}

func toEpochInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		var n int
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}
