package config

import (
	"sync"
	"time"

	licenseErrors "licmgr/internal/errors"
)

// Application constants for the license engine
const (
	AppName    = "licmgr"
	AppVersion = "3.2.0"

	// Default SKU used when a caller supplies an empty product identifier
	DefaultSKU = "e20r_default_license"

	// Remote endpoints
	DefaultServerURL          = "https://license.example.net"
	DefaultRESTEndpointPath   = "/api/license/v2"
	DefaultLegacyEndpointPath = "/license-server"

	// Network timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	StatusCheckTimeout  = 10 * time.Second
	ActivationRateLimit = 10 // activation attempts per minute

	// Cache settings
	StatusCacheTTL   = 24 * time.Hour
	StatusCacheGroup = "license"

	// Expiration warning window
	ExpirationWarningDays = 30
)

// Well-known constant names accepted by Constant()
const (
	ConstServerURL    = "LICENSE_SERVER_URL"
	ConstSecretKey    = "LICENSE_SECRET_KEY"
	ConstStoreCode    = "LICENSE_STORE_CODE"
	ConstMaxDomains   = "LICENSE_MAX_DOMAINS"
	ConstRegistered   = "LICENSE_STATUS_REGISTERED"
	ConstDomainActive = "LICENSE_STATUS_DOMAIN_ACTIVE"
	ConstError        = "LICENSE_STATUS_ERROR"
	ConstBlocked      = "LICENSE_STATUS_BLOCKED"
)

// Numeric status codes shared across components. Activation results carry one
// of these so callers can distinguish outcomes without string comparison.
const (
	StatusRegistered   = 1024
	StatusDomainActive = 512
	StatusError        = 256
	StatusBlocked      = 128
	MaxDomainsDefault  = 2048
)

// ConstantOp selects the operation performed by Constant()
type ConstantOp string

const (
	ConstantRead   ConstantOp = "READ"
	ConstantUpdate ConstantOp = "UPDATE"
)

var (
	constantsMu sync.RWMutex
	constants   = defaultConstants()
)

func defaultConstants() map[string]interface{} {
	return map[string]interface{}{
		ConstServerURL:    DefaultServerURL,
		ConstSecretKey:    "",
		ConstStoreCode:    "",
		ConstMaxDomains:   MaxDomainsDefault,
		ConstRegistered:   StatusRegistered,
		ConstDomainActive: StatusDomainActive,
		ConstError:        StatusError,
		ConstBlocked:      StatusBlocked,
	}
}

// Constant reads or updates one of the well-known named values. The op must
// be ConstantRead or ConstantUpdate; anything else fails with ErrBadOperation.
// Reading or updating an unknown name fails with ErrInvalidKey.
func Constant(name string, op ConstantOp, value interface{}) (interface{}, error) {
	switch op {
	case ConstantRead:
		constantsMu.RLock()
		defer constantsMu.RUnlock()
		v, ok := constants[name]
		if !ok {
			return nil, licenseErrors.ErrInvalidKey
		}
		return v, nil
	case ConstantUpdate:
		constantsMu.Lock()
		defer constantsMu.Unlock()
		if _, ok := constants[name]; !ok {
			return nil, licenseErrors.ErrInvalidKey
		}
		constants[name] = value
		return value, nil
	default:
		return nil, licenseErrors.ErrBadOperation
	}
}

// ResetConstants restores the registry to its built-in values. Test helper.
func ResetConstants() {
	constantsMu.Lock()
	defer constantsMu.Unlock()
	constants = defaultConstants()
}
