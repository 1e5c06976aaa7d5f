package licenseserver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"licmgr/internal/config"
	"licmgr/internal/settings"
)

// Legacy protocol actions (form field slm_action)
const (
	LegacyActivate   = "slm_activate"
	LegacyDeactivate = "slm_deactivate"
	LegacyCheck      = "slm_check"
)

// Current protocol actions (form field action)
const (
	ActionActivate   = "license_key_activate"
	ActionDeactivate = "license_key_deactivate"
	ActionVerify     = "license_key_verify"
)

// RemoteErrorKind classifies a failed remote exchange. Callers receive these
// as a false status plus a queued notice, never as a raised error.
type RemoteErrorKind string

const (
	RemoteTransport      RemoteErrorKind = "transport"
	RemoteMalformed      RemoteErrorKind = "malformed"
	RemoteDomainMismatch RemoteErrorKind = "domain_mismatch"
	RemoteExpired        RemoteErrorKind = "expired"
	RemoteServer         RemoteErrorKind = "server_error"
)

// RemoteError describes why a remote exchange failed. It keeps the failure
// reason inspectable without depending on log scraping.
type RemoteError struct {
	Kind    RemoteErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to reach the cause.
func (e *RemoteError) Unwrap() error { return e.Err }

// StatusOutcome is the result of a status check: the authoritative boolean
// plus the failure classification when the boolean is false for a remote
// reason.
type StatusOutcome struct {
	Licensed bool
	Reason   RemoteErrorKind
	Message  string
}

// LicenseRequest is the current-schema request object handed to the
// validation helper.
type LicenseRequest struct {
	RequestID    string `json:"request_id"`
	Action       string `json:"action"`
	StoreCode    string `json:"store_code"`
	SKU          string `json:"sku"`
	LicenseKey   string `json:"license_key"`
	Domain       string `json:"domain"`
	ActivationID string `json:"activation_id,omitempty"`
}

// NewLicenseRequest builds a current-schema request for a record.
func NewLicenseRequest(action string, rec *settings.Record, defaults *config.Defaults, domain string) *LicenseRequest {
	req := &LicenseRequest{
		RequestID:  uuid.NewString(),
		Action:     action,
		StoreCode:  defaults.StoreCode(),
		SKU:        rec.SKU(),
		LicenseKey: rec.Key(),
		Domain:     domain,
	}
	if action == ActionDeactivate {
		req.ActivationID = rec.ActivationID()
	}
	return req
}

// Validator is the external validation helper consumed for current-schema
// license checks. It accepts a license request and a save callback invoked
// with any settings fields the authority hands back; implementations report
// the boolean validation result. Any error it returns is absorbed by the
// server and converted into a false status plus a logged message.
type Validator interface {
	Validate(ctx context.Context, req *LicenseRequest, save func(fields map[string]interface{}) error) (bool, error)
}
