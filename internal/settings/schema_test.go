package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "licmgr/internal/errors"
)

func TestNewRecordSchemaBinding(t *testing.T) {
	tests := []struct {
		name    string
		version SchemaVersion
		raw     map[string]interface{}
		wantErr error
	}{
		{
			name:    "new schema empty map",
			version: SchemaNew,
		},
		{
			name:    "old schema empty map",
			version: SchemaOld,
		},
		{
			name:    "new schema matching map",
			version: SchemaNew,
			raw: map[string]interface{}{
				FieldTheKey:       "K-123",
				FieldActivationID: "act-1",
				FieldStatus:       StatusActive,
			},
		},
		{
			name:    "old schema matching map",
			version: SchemaOld,
			raw: map[string]interface{}{
				FieldKey:    "K-123",
				FieldDomain: "shop.example.com",
				FieldStatus: StatusActive,
			},
		},
		{
			name:    "new schema fed old fields",
			version: SchemaNew,
			raw: map[string]interface{}{
				FieldKey:    "K-123",
				FieldDomain: "shop.example.com",
			},
			wantErr: licenseErrors.ErrInvalidSettingsVersion,
		},
		{
			name:    "old schema fed new fields",
			version: SchemaOld,
			raw: map[string]interface{}{
				FieldTheKey:       "K-123",
				FieldActivationID: "act-1",
			},
			wantErr: licenseErrors.ErrInvalidSettingsVersion,
		},
		{
			name:    "unknown field",
			version: SchemaNew,
			raw: map[string]interface{}{
				"no_such_field": 1,
			},
			wantErr: licenseErrors.ErrInvalidSettingsKey,
		},
		{
			name:    "invalid version",
			version: SchemaVersion(9),
			wantErr: licenseErrors.ErrInvalidSettingsVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewRecord(tt.version, "sku_1", tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.version, rec.Version())
			assert.Equal(t, "sku_1", rec.SKU())
		})
	}
}

func TestRecordSharedStatusFieldAllowedInBothSchemas(t *testing.T) {
	// status exists in both field sets and must not trip the wrong-version
	// detection.
	for _, version := range []SchemaVersion{SchemaNew, SchemaOld} {
		rec, err := NewRecord(version, "sku_1", map[string]interface{}{
			FieldStatus: StatusActive,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusActive, rec.Status())
	}
}

func TestRecordGetSetUnknownField(t *testing.T) {
	rec, err := NewRecord(SchemaNew, "sku_1", nil)
	require.NoError(t, err)

	_, err = rec.Get(FieldDomain)
	assert.ErrorIs(t, err, licenseErrors.ErrInvalidSettingsKey)
	assert.ErrorIs(t, rec.Set(FieldDomain, "x"), licenseErrors.ErrInvalidSettingsKey)

	old, err := NewRecord(SchemaOld, "sku_1", nil)
	require.NoError(t, err)

	_, err = old.Get(FieldActivationID)
	assert.ErrorIs(t, err, licenseErrors.ErrInvalidSettingsKey)
	assert.ErrorIs(t, old.Set(FieldActivationID, "x"), licenseErrors.ErrInvalidSettingsKey)
}

func TestRecordProductSKUAlias(t *testing.T) {
	old, err := NewRecord(SchemaOld, "", nil)
	require.NoError(t, err)

	require.NoError(t, old.Set(FieldProductSKU, "  MiXeD-Case "))
	got, err := old.Get(FieldProductSKU)
	require.NoError(t, err)
	assert.Equal(t, "mixed-case", got)

	// The alias maps onto product under the old schema.
	direct, err := old.Get(FieldProduct)
	require.NoError(t, err)
	assert.Equal(t, "mixed-case", direct)
	assert.Equal(t, "mixed-case", old.SKU())
}

func TestRecordKeyPerSchema(t *testing.T) {
	newRec, err := NewRecord(SchemaNew, "sku_1", map[string]interface{}{FieldTheKey: "NK"})
	require.NoError(t, err)
	assert.Equal(t, "NK", newRec.Key())

	oldRec, err := NewRecord(SchemaOld, "sku_1", map[string]interface{}{FieldKey: "OK"})
	require.NoError(t, err)
	assert.Equal(t, "OK", oldRec.Key())
}

func TestRecordProperties(t *testing.T) {
	newRec, err := NewRecord(SchemaNew, "sku_1", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, newFields, newRec.Properties())

	oldRec, err := NewRecord(SchemaOld, "sku_1", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, oldFields, oldRec.Properties())
}

func TestExpireEpochCoercion(t *testing.T) {
	ref := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value interface{}
		want  int64
	}{
		{"unset", nil, 0},
		{"int64", ref.Unix(), ref.Unix()},
		{"float64 from json", float64(ref.Unix()), ref.Unix()},
		{"numeric string", "1700000000", 1700000000},
		{"date string", "2026-03-15", ref.Unix()},
		{"datetime string", "2026-03-15 00:00:00", ref.Unix()},
		{"rfc3339", ref.Format(time.RFC3339), ref.Unix()},
		{"garbage", "someday", 0},
		{"empty string", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewRecord(SchemaOld, "sku_1", nil)
			require.NoError(t, err)
			if tt.value != nil {
				require.NoError(t, rec.Set(FieldExpires, tt.value))
			}
			assert.Equal(t, tt.want, rec.ExpireEpoch())
		})
	}
}

func TestClearActivationPreservesShape(t *testing.T) {
	newRec, err := NewRecord(SchemaNew, "sku_1", map[string]interface{}{
		FieldTheKey:       "K",
		FieldActivationID: "act-9",
		FieldStatus:       StatusActive,
		FieldExpire:       int64(1700000000),
	})
	require.NoError(t, err)

	newRec.ClearActivation()
	assert.Empty(t, newRec.Key())
	assert.Empty(t, newRec.ActivationID())
	assert.Equal(t, StatusInactive, newRec.Status())
	// Expiry survives: the record is cleared, not deleted.
	assert.Equal(t, int64(1700000000), newRec.ExpireEpoch())

	oldRec, err := NewRecord(SchemaOld, "sku_1", map[string]interface{}{
		FieldKey:    "K",
		FieldDomain: "shop.example.com",
		FieldStatus: StatusActive,
	})
	require.NoError(t, err)

	oldRec.ClearActivation()
	assert.Empty(t, oldRec.Key())
	assert.Empty(t, oldRec.Domain())
	assert.Equal(t, StatusInactive, oldRec.Status())
}
