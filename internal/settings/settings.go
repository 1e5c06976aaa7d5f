package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"licmgr/internal/config"
	licenseErrors "licmgr/internal/errors"
	"licmgr/internal/infrastructure"
	"licmgr/internal/store"
)

// SettingsStoreKey is the well-known document key holding the whole
// SKU→record map.
const SettingsStoreKey = "licmgr_license_settings"

// skus excluded from the delete-on-empty policy in Update
var protectedSKUs = map[string]struct{}{
	config.DefaultSKU: {},
}

// LicenseSettings is the per-SKU façade over the persisted license records.
// It unifies the bound schema's fields and the Defaults configuration fields
// under one Get/Set namespace and owns persistence of the SKU→record map.
type LicenseSettings struct {
	mu       sync.Mutex
	sku      string
	defaults *config.Defaults
	store    store.Store
	record   *Record
	revision int64
	logger   *slog.Logger
}

// New constructs the façade for one SKU. An empty SKU resolves to the
// default SKU. When defaults is nil the bootstrap configuration is loaded;
// failure to produce one is ErrConfigDataNotFound. A missing or malformed
// server URL is ErrMissingServerURL: no settings object exists without a
// usable server URL.
func New(sku string, defaults *config.Defaults, st store.Store, logger *slog.Logger) (*LicenseSettings, error) {
	if sku == "" {
		sku = config.DefaultSKU
	}
	if logger == nil {
		logger = slog.Default()
	}

	if defaults == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", licenseErrors.ErrConfigDataNotFound, err)
		}
		defaults = config.NewDefaultsFromConfig(cfg)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: no settings store injected", licenseErrors.ErrConfigDataNotFound)
	}
	if !defaults.ValidServerURL() {
		return nil, fmt.Errorf("%w: %q", licenseErrors.ErrMissingServerURL, defaults.ServerURL())
	}

	ls := &LicenseSettings{
		sku:      NormalizeSKU(sku),
		defaults: defaults,
		store:    st,
		logger:   infrastructure.WithComponent(logger, "license_settings"),
	}

	if _, err := ls.LoadSettings(ls.sku); err != nil {
		return nil, err
	}
	return ls, nil
}

// SchemaVersion reports the schema the façade binds records to: the current
// schema under the REST transport, the legacy one otherwise.
func (ls *LicenseSettings) SchemaVersion() SchemaVersion {
	if ls.defaults.UseREST() {
		return SchemaNew
	}
	return SchemaOld
}

// SKU returns the façade's current SKU.
func (ls *LicenseSettings) SKU() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.sku
}

// SetSKU repoints the façade at another SKU and reloads its record. The old
// record is not renamed; the identity change is a reload.
func (ls *LicenseSettings) SetSKU(sku string) error {
	if sku == "" {
		return fmt.Errorf("%w: empty SKU", licenseErrors.ErrNoLicenseKeyFound)
	}
	ls.mu.Lock()
	ls.sku = NormalizeSKU(sku)
	ls.mu.Unlock()
	_, err := ls.LoadSettings(sku)
	return err
}

// Defaults exposes the process Defaults the façade was wired with.
func (ls *LicenseSettings) Defaults() *config.Defaults {
	return ls.defaults
}

// Record returns the currently loaded record.
func (ls *LicenseSettings) Record() *Record {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.record
}

// Get reads a field by name from the unified namespace: schema fields come
// from the bound record, configuration fields from Defaults. Unknown names
// fail with ErrInvalidSettingsKey.
func (ls *LicenseSettings) Get(field string) (interface{}, error) {
	ls.mu.Lock()
	record := ls.record
	ls.mu.Unlock()

	if record != nil && record.declared(aliasFor(record, field)) {
		return record.Get(field)
	}
	if v, err := ls.defaults.Get(field); err == nil {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", licenseErrors.ErrInvalidSettingsKey, field)
}

// Set writes a field by name through the unified namespace. Defaults fields
// keep their lock semantics; schema fields go to the bound record. Unknown
// names fail with ErrInvalidSettingsKey.
func (ls *LicenseSettings) Set(field string, value interface{}) error {
	ls.mu.Lock()
	record := ls.record
	ls.mu.Unlock()

	if record != nil && record.declared(aliasFor(record, field)) {
		return record.Set(field, value)
	}
	if _, err := ls.defaults.Get(field); err == nil {
		return ls.defaults.Set(field, value)
	}
	return fmt.Errorf("%w: %q", licenseErrors.ErrInvalidSettingsKey, field)
}

func aliasFor(r *Record, field string) string {
	if field == FieldProductSKU && r.version == SchemaOld {
		return FieldProduct
	}
	return field
}

// GetSettings returns the persisted field map for a SKU, defaulting and
// persisting a fresh record when none exists yet.
func (ls *LicenseSettings) GetSettings(sku string) (map[string]interface{}, error) {
	rec, err := ls.LoadSettings(sku)
	if err != nil {
		return nil, err
	}
	return rec.Map(), nil
}

// LoadSettings loads (or creates and persists) the record for a SKU and
// makes it the façade's current record. An unresolvable identifier fails
// with ErrNoLicenseKeyFound.
func (ls *LicenseSettings) LoadSettings(sku string) (*Record, error) {
	if sku == "" {
		ls.mu.Lock()
		sku = ls.sku
		ls.mu.Unlock()
	}
	if sku == "" {
		return nil, fmt.Errorf("%w: no SKU to load", licenseErrors.ErrNoLicenseKeyFound)
	}
	sku = NormalizeSKU(sku)

	all, err := ls.readAll()
	if err != nil {
		return nil, err
	}

	raw, ok := all[sku]
	record, err := NewRecord(ls.SchemaVersion(), sku, raw)
	if err != nil {
		return nil, err
	}

	if !ok {
		// First access to this SKU: persist the defaulted record.
		all[sku] = record.Map()
		if err := ls.writeAll(all); err != nil {
			return nil, err
		}
		ls.logger.Debug("created defaulted license record",
			slog.String("sku", sku),
			slog.String("schema", ls.SchemaVersion().String()),
		)
	}

	ls.mu.Lock()
	ls.sku = sku
	ls.record = record
	ls.mu.Unlock()
	return record, nil
}

// Merge shallow-merges a field map onto the current record (new values win)
// and returns the merged map. Merge does not persist; callers follow up with
// Update or Save. Keys the bound schema does not declare are skipped.
func (ls *LicenseSettings) Merge(newFields map[string]interface{}) map[string]interface{} {
	ls.mu.Lock()
	record := ls.record
	ls.mu.Unlock()

	for key, value := range newFields {
		if err := record.Set(key, value); err != nil {
			ls.logger.Debug("skipping undeclared field during merge",
				slog.String("field", key),
				slog.String("schema", record.Version().String()),
			)
		}
	}
	return record.Map()
}

// Update persists the given field map as the record for a SKU. Passing an
// empty map for a non-protected SKU removes that SKU's entry instead of
// storing an empty record.
func (ls *LicenseSettings) Update(sku string, newFields map[string]interface{}) error {
	if sku == "" {
		ls.mu.Lock()
		sku = ls.sku
		ls.mu.Unlock()
	}
	if sku == "" {
		return fmt.Errorf("%w: no SKU to update", licenseErrors.ErrNoLicenseKeyFound)
	}
	sku = NormalizeSKU(sku)

	// One retry on a revision conflict: re-read the document and re-apply.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = ls.updateOnce(sku, newFields)
		if !errors.Is(err, licenseErrors.ErrRevisionConflict) {
			return err
		}
		ls.logger.Warn("license settings revision conflict, retrying",
			slog.String("sku", sku),
		)
	}
	return err
}

func (ls *LicenseSettings) updateOnce(sku string, newFields map[string]interface{}) error {
	all, err := ls.readAll()
	if err != nil {
		return err
	}

	if len(newFields) == 0 {
		if _, protected := protectedSKUs[sku]; !protected {
			delete(all, sku)
			ls.logger.Info("removed license record", slog.String("sku", sku))
			return ls.writeAll(all)
		}
	}

	all[sku] = newFields
	return ls.writeAll(all)
}

// Save persists the façade's current record under its SKU.
func (ls *LicenseSettings) Save() error {
	ls.mu.Lock()
	sku := ls.sku
	record := ls.record
	ls.mu.Unlock()

	if record == nil {
		return fmt.Errorf("%w: nothing loaded", licenseErrors.ErrNoLicenseKeyFound)
	}
	return ls.Update(sku, record.Map())
}

// AllSettings returns the full SKU→record map as currently persisted.
func (ls *LicenseSettings) AllSettings() (map[string]map[string]interface{}, error) {
	return ls.readAll()
}

// settingsDocument is the persisted envelope: the SKU→record map plus a
// monotonic revision used for optimistic concurrency. Two writers racing on
// the same document produce a detectable ErrRevisionConflict instead of a
// silent last-write-wins.
type settingsDocument struct {
	Revision int64                             `json:"revision"`
	Records  map[string]map[string]interface{} `json:"records"`
}

func (ls *LicenseSettings) readDocument() (*settingsDocument, error) {
	data, err := ls.store.Get(SettingsStoreKey, []byte(`{"revision":0,"records":{}}`))
	if err != nil {
		return nil, fmt.Errorf("failed to read license settings: %w", err)
	}
	doc := &settingsDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("license settings document is corrupt: %w", err)
	}
	if doc.Records == nil {
		doc.Records = map[string]map[string]interface{}{}
	}
	return doc, nil
}

func (ls *LicenseSettings) readAll() (map[string]map[string]interface{}, error) {
	doc, err := ls.readDocument()
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	ls.revision = doc.Revision
	ls.mu.Unlock()
	return doc.Records, nil
}

func (ls *LicenseSettings) writeAll(all map[string]map[string]interface{}) error {
	ls.mu.Lock()
	expected := ls.revision
	ls.mu.Unlock()

	current, err := ls.readDocument()
	if err != nil {
		return err
	}
	if current.Revision != expected {
		return fmt.Errorf("%w: expected revision %d, found %d",
			licenseErrors.ErrRevisionConflict, expected, current.Revision)
	}

	doc := settingsDocument{Revision: expected + 1, Records: all}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal license settings: %w", err)
	}
	if err := ls.store.Put(SettingsStoreKey, data); err != nil {
		return err
	}
	ls.mu.Lock()
	ls.revision = doc.Revision
	ls.mu.Unlock()
	return nil
}
