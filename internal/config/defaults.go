package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	licenseErrors "licmgr/internal/errors"
)

// Defaults field names
const (
	FieldVersion            = "version"
	FieldServerURL          = "server_url"
	FieldRESTEndpointPath   = "rest_endpoint_path"
	FieldLegacyEndpointPath = "legacy_endpoint_path"
	FieldUseREST            = "use_rest"
	FieldDebugLogging       = "debug_logging"
	FieldStoreCode          = "store_code"
	FieldConnectionURI      = "connection_uri"
)

type defaultsField struct {
	value  interface{}
	locked bool
}

// Defaults holds the process-wide licensing defaults. Every field carries a
// lock gate that defaults to locked; Set on a locked field fails with
// ErrLockedField. The connection_uri field is derived from server_url and
// use_rest and is recomputed after every successful mutation of either.
type Defaults struct {
	mu     sync.RWMutex
	fields map[string]*defaultsField
}

// NewDefaults returns a Defaults instance carrying the built-in values with
// every field locked.
func NewDefaults() *Defaults {
	d := &Defaults{
		fields: map[string]*defaultsField{
			FieldVersion:            {value: AppVersion, locked: true},
			FieldServerURL:          {value: DefaultServerURL, locked: true},
			FieldRESTEndpointPath:   {value: DefaultRESTEndpointPath, locked: true},
			FieldLegacyEndpointPath: {value: DefaultLegacyEndpointPath, locked: true},
			FieldUseREST:            {value: true, locked: true},
			FieldDebugLogging:       {value: false, locked: true},
			FieldStoreCode:          {value: "", locked: true},
			FieldConnectionURI:      {value: "", locked: true},
		},
	}
	d.recomputeConnectionURI()
	return d
}

// NewDefaultsFromConfig builds Defaults from a loaded bootstrap Config.
// Fields are unlocked only for the duration of seeding.
func NewDefaultsFromConfig(cfg *Config) *Defaults {
	d := NewDefaults()
	seed := map[string]interface{}{
		FieldServerURL:          cfg.Licensing.ServerURL,
		FieldRESTEndpointPath:   cfg.Licensing.RESTEndpointPath,
		FieldLegacyEndpointPath: cfg.Licensing.LegacyEndpointPath,
		FieldUseREST:            cfg.Licensing.UseREST,
		FieldDebugLogging:       cfg.Logging.Level == "debug",
		FieldStoreCode:          cfg.Licensing.StoreCode,
	}
	d.mu.Lock()
	for name, v := range seed {
		d.fields[name].value = v
	}
	d.mu.Unlock()
	d.recomputeConnectionURI()
	return d
}

// Get returns the named field's value, or ErrInvalidKey for unknown names.
func (d *Defaults) Get(name string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", licenseErrors.ErrInvalidKey, name)
	}
	return f.value, nil
}

// Set updates the named field. Unknown names fail with ErrInvalidKey; locked
// fields fail with ErrLockedField without changing the stored value. A
// successful mutation of server_url or use_rest recomputes connection_uri.
func (d *Defaults) Set(name string, value interface{}) error {
	d.mu.Lock()
	f, ok := d.fields[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", licenseErrors.ErrInvalidKey, name)
	}
	if f.locked {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", licenseErrors.ErrLockedField, name)
	}
	f.value = value
	d.mu.Unlock()

	if name == FieldServerURL || name == FieldUseREST {
		d.recomputeConnectionURI()
	}
	return nil
}

// Lock closes the named field's mutation gate.
func (d *Defaults) Lock(name string) error {
	return d.setLocked(name, true)
}

// Unlock opens the named field's mutation gate. Intended for bootstrap and
// test contexts only.
func (d *Defaults) Unlock(name string) error {
	return d.setLocked(name, false)
}

func (d *Defaults) setLocked(name string, locked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", licenseErrors.ErrInvalidKey, name)
	}
	f.locked = locked
	return nil
}

// connection_uri = server_url + (rest path when use_rest, legacy path otherwise)
func (d *Defaults) recomputeConnectionURI() {
	d.mu.Lock()
	defer d.mu.Unlock()

	serverURL, _ := d.fields[FieldServerURL].value.(string)
	useREST, _ := d.fields[FieldUseREST].value.(bool)

	path, _ := d.fields[FieldLegacyEndpointPath].value.(string)
	if useREST {
		path, _ = d.fields[FieldRESTEndpointPath].value.(string)
	}

	d.fields[FieldConnectionURI].value = strings.TrimRight(serverURL, "/") + path
}

// ServerURL returns the configured license authority base URL.
func (d *Defaults) ServerURL() string {
	v, _ := d.Get(FieldServerURL)
	s, _ := v.(string)
	return s
}

// ConnectionURI returns the derived endpoint URI.
func (d *Defaults) ConnectionURI() string {
	v, _ := d.Get(FieldConnectionURI)
	s, _ := v.(string)
	return s
}

// UseREST reports whether the current (REST) transport mode is selected.
func (d *Defaults) UseREST() bool {
	v, _ := d.Get(FieldUseREST)
	b, _ := v.(bool)
	return b
}

// StoreCode returns the configured store code.
func (d *Defaults) StoreCode() string {
	v, _ := d.Get(FieldStoreCode)
	s, _ := v.(string)
	return s
}

// DebugLogging reports whether debug logging is enabled.
func (d *Defaults) DebugLogging() bool {
	v, _ := d.Get(FieldDebugLogging)
	b, _ := v.(bool)
	return b
}

// Version returns the engine version string.
func (d *Defaults) Version() string {
	v, _ := d.Get(FieldVersion)
	s, _ := v.(string)
	return s
}

// ValidServerURL reports whether the configured server URL parses as an
// absolute http(s) URL with a host.
func (d *Defaults) ValidServerURL() bool {
	u, err := url.Parse(d.ServerURL())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
