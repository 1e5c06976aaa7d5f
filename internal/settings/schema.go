package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	licenseErrors "licmgr/internal/errors"
)

// SchemaVersion identifies which of the two incompatible field sets a
// license record uses.
type SchemaVersion int

const (
	// SchemaNew is the current licensing backend schema
	SchemaNew SchemaVersion = iota + 1
	// SchemaOld is the legacy licensing backend schema
	SchemaOld
)

// String implements fmt.Stringer
func (v SchemaVersion) String() string {
	switch v {
	case SchemaNew:
		return "new"
	case SchemaOld:
		return "old"
	default:
		return fmt.Sprintf("SchemaVersion(%d)", int(v))
	}
}

// Universal alias accepted by both schemas. For the old schema it maps onto
// the product field.
const FieldProductSKU = "product_sku"

// New schema field names
const (
	FieldExpire          = "expire"
	FieldActivationID    = "activation_id"
	FieldExpireDate      = "expire_date"
	FieldTimezone        = "timezone"
	FieldTheKey          = "the_key"
	FieldURL             = "url"
	FieldHasExpired      = "has_expired"
	FieldStatus          = "status"
	FieldAllowOffline    = "allow_offline"
	FieldOfflineInterval = "offline_interval"
	FieldOfflineValue    = "offline_value"
)

// Old schema field names
const (
	FieldProduct   = "product"
	FieldKey       = "key"
	FieldRenewed   = "renewed"
	FieldDomain    = "domain"
	FieldExpires   = "expires"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldEmail     = "email"
	FieldTimestamp = "timestamp"
)

// License status values carried by the status field
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusCancelled = "cancelled"
	StatusBlocked   = "blocked"
)

var newFields = []string{
	FieldExpire, FieldActivationID, FieldExpireDate, FieldTimezone,
	FieldTheKey, FieldURL, FieldHasExpired, FieldStatus, FieldAllowOffline,
	FieldOfflineInterval, FieldOfflineValue, FieldProductSKU,
}

var oldFields = []string{
	FieldProduct, FieldKey, FieldRenewed, FieldDomain, FieldExpires,
	FieldStatus, FieldFirstName, FieldLastName, FieldEmail, FieldTimestamp,
}

// Fields exclusive to one schema, used to detect wrong-version raw data.
var newOnlyFields = exclusiveSet(newFields, oldFields)
var oldOnlyFields = exclusiveSet(oldFields, newFields)

func exclusiveSet(mine, theirs []string) map[string]struct{} {
	other := make(map[string]struct{}, len(theirs))
	for _, f := range theirs {
		other[f] = struct{}{}
	}
	out := make(map[string]struct{}, len(mine))
	for _, f := range mine {
		if _, shared := other[f]; !shared && f != FieldProductSKU {
			out[f] = struct{}{}
		}
	}
	return out
}

// Record is a license record permanently bound to one schema version. Field
// values are untyped pass-through except product_sku, which is
// string-normalized on write.
type Record struct {
	version SchemaVersion
	fields  map[string]interface{}
}

// NewRecord constructs a record bound to the given schema version from an
// optional raw field map. Raw keys that belong exclusively to the other
// schema fail with ErrInvalidSettingsVersion; keys unknown to either schema
// fail with ErrInvalidSettingsKey. A nil or empty raw map always succeeds.
func NewRecord(version SchemaVersion, sku string, raw map[string]interface{}) (*Record, error) {
	if version != SchemaNew && version != SchemaOld {
		return nil, fmt.Errorf("%w: %d", licenseErrors.ErrInvalidSettingsVersion, int(version))
	}

	r := &Record{
		version: version,
		fields:  make(map[string]interface{}),
	}

	foreign := oldOnlyFields
	if version == SchemaOld {
		foreign = newOnlyFields
	}

	for key := range raw {
		if _, wrongVersion := foreign[key]; wrongVersion {
			return nil, fmt.Errorf("%w: field %q is a %s-schema field",
				licenseErrors.ErrInvalidSettingsVersion, key, otherVersion(version))
		}
	}

	for key, value := range raw {
		if err := r.Set(key, value); err != nil {
			return nil, err
		}
	}

	if sku != "" {
		if err := r.Set(FieldProductSKU, sku); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func otherVersion(v SchemaVersion) SchemaVersion {
	if v == SchemaNew {
		return SchemaOld
	}
	return SchemaNew
}

// Version returns the schema version the record is bound to.
func (r *Record) Version() SchemaVersion {
	return r.version
}

// Properties returns the declared field names for the bound schema.
func (r *Record) Properties() []string {
	var src []string
	if r.version == SchemaNew {
		src = newFields
	} else {
		src = oldFields
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func (r *Record) declared(field string) bool {
	for _, f := range r.Properties() {
		if f == field {
			return true
		}
	}
	return false
}

// Get returns the value of a bound-schema field, or nil when unset. Unknown
// fields fail with ErrInvalidSettingsKey.
func (r *Record) Get(field string) (interface{}, error) {
	if field == FieldProductSKU && r.version == SchemaOld {
		field = FieldProduct
	}
	if !r.declared(field) {
		return nil, fmt.Errorf("%w: %q (%s schema)", licenseErrors.ErrInvalidSettingsKey, field, r.version)
	}
	return r.fields[field], nil
}

// Set stores the value of a bound-schema field. Unknown fields fail with
// ErrInvalidSettingsKey. product_sku is string-normalized; everything else
// passes through untyped.
func (r *Record) Set(field string, value interface{}) error {
	if field == FieldProductSKU {
		if r.version == SchemaOld {
			field = FieldProduct
		}
		r.fields[field] = NormalizeSKU(value)
		return nil
	}
	if !r.declared(field) {
		return fmt.Errorf("%w: %q (%s schema)", licenseErrors.ErrInvalidSettingsKey, field, r.version)
	}
	r.fields[field] = value
	return nil
}

// Map returns a copy of the record's populated fields.
func (r *Record) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// SKU returns the record's external identity: product_sku under the new
// schema, product under the old one.
func (r *Record) SKU() string {
	key := FieldProductSKU
	if r.version == SchemaOld {
		key = FieldProduct
	}
	s, _ := r.fields[key].(string)
	return s
}

// Key returns the license key appropriate to the bound schema (the_key for
// the new schema, key for the old one).
func (r *Record) Key() string {
	field := FieldTheKey
	if r.version == SchemaOld {
		field = FieldKey
	}
	s, _ := r.fields[field].(string)
	return s
}

// Status returns the record's status string.
func (r *Record) Status() string {
	s, _ := r.fields[FieldStatus].(string)
	return s
}

// Domain returns the registered domain. Only meaningful under the old schema.
func (r *Record) Domain() string {
	s, _ := r.fields[FieldDomain].(string)
	return s
}

// ActivationID returns the activation identifier. Only meaningful under the
// new schema.
func (r *Record) ActivationID() string {
	s, _ := r.fields[FieldActivationID].(string)
	return s
}

// ExpireEpoch returns the expiry as a Unix timestamp, or zero when unset.
// The old schema's expires field may carry either an epoch or a date string.
func (r *Record) ExpireEpoch() int64 {
	field := FieldExpire
	if r.version == SchemaOld {
		field = FieldExpires
	}
	return toEpoch(r.fields[field])
}

// SetExpireEpoch stores the expiry for the bound schema.
func (r *Record) SetExpireEpoch(epoch int64) {
	field := FieldExpire
	if r.version == SchemaOld {
		field = FieldExpires
	}
	r.fields[field] = epoch
}

// ClearActivation removes the key and activation fields while preserving the
// record shape. Used by deactivation.
func (r *Record) ClearActivation() {
	if r.version == SchemaNew {
		r.fields[FieldTheKey] = ""
		r.fields[FieldActivationID] = ""
		r.fields[FieldStatus] = StatusInactive
		return
	}
	r.fields[FieldKey] = ""
	r.fields[FieldDomain] = ""
	r.fields[FieldStatus] = StatusInactive
}

// NormalizeSKU canonicalizes a SKU identifier: lowercased, surrounding
// whitespace trimmed.
func NormalizeSKU(value interface{}) string {
	s := fmt.Sprintf("%v", value)
	return strings.ToLower(strings.TrimSpace(s))
}

// toEpoch coerces the mixed representations the authority hands back:
// integer epochs (possibly as float64 from JSON), numeric strings, and
// date strings.
func toEpoch(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if v == "" {
			return 0
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.Unix()
			}
		}
		return 0
	default:
		return 0
	}
}
