package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Configuration-level errors. These indicate a programming or deployment
// defect and are raised at construction/mutation time; remote-call failures
// never surface through this set.
var (
	// Defaults field gates
	ErrInvalidKey   = errors.New("unknown configuration field")
	ErrLockedField  = errors.New("configuration field is locked")
	ErrBadOperation = errors.New("unsupported constant operation")

	// Settings schema
	ErrInvalidSettingsVersion = errors.New("field data belongs to the other schema version")
	ErrInvalidSettingsKey     = errors.New("unsupported key for this schema version")

	// LicenseSettings construction
	ErrConfigDataNotFound = errors.New("no configuration data available")
	ErrMissingServerURL   = errors.New("license server URL is missing or malformed")
	ErrNoLicenseKeyFound  = errors.New("no license key found for SKU")

	// Persistence
	ErrRevisionConflict = errors.New("license settings were modified concurrently")

	// Orchestrator
	ErrServerConnection = errors.New("license server connection failed")
	ErrLicenseExpired   = errors.New("license expired")
	ErrNotActivated     = errors.New("license not activated")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NewProblemDetails(
			apiErr.StatusCode,
			"/errors/"+apiErr.ErrorCode,
			http.StatusText(apiErr.StatusCode),
			apiErr.Message,
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", apiErr.ErrorCode)
	}

	switch {
	case errors.Is(err, ErrLicenseExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-expired",
			"License Expired",
			"Your license has expired. Please renew to continue.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_EXPIRED")

	case errors.Is(err, ErrNotActivated):
		return NewProblemDetails(
			http.StatusPreconditionRequired,
			"/errors/license-not-activated",
			"License Not Activated",
			"No license has been activated for this SKU.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_ACTIVATED")

	case errors.Is(err, ErrServerConnection):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			"/errors/server-connection",
			"License Server Unreachable",
			"Unable to connect to the license server. The legacy licensing backend cannot activate keys; upgrade the store to the current backend.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "SERVER_CONNECTION")

	case errors.Is(err, ErrNoLicenseKeyFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/no-license-key",
			"No License Key",
			"No license key is stored for that SKU.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "NO_LICENSE_KEY")

	case errors.Is(err, ErrRevisionConflict):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/revision-conflict",
			"Concurrent Modification",
			"The license settings were modified by another writer. Retry the operation.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "REVISION_CONFLICT")

	case errors.Is(err, ErrInvalidSettingsKey),
		errors.Is(err, ErrInvalidSettingsVersion),
		errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrBadOperation):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-settings",
			"Invalid Settings Request",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_SETTINGS")

	case errors.Is(err, ErrLockedField):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/locked-field",
			"Locked Configuration Field",
			"The configuration field is locked and cannot be changed.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LOCKED_FIELD")

	case errors.Is(err, ErrMissingServerURL), errors.Is(err, ErrConfigDataNotFound):
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/misconfigured",
			"Licensing Misconfigured",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "MISCONFIGURED")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
