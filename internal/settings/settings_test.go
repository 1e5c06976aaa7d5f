package settings

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licmgr/internal/config"
	licenseErrors "licmgr/internal/errors"
)

// memStore is a minimal in-memory Store for façade tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Get(key string, def []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return def, nil
}

func (m *memStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func testDefaults(t *testing.T, useREST bool) *config.Defaults {
	t.Helper()
	cfg := config.Default()
	cfg.Licensing.UseREST = useREST
	return config.NewDefaultsFromConfig(cfg)
}

func newTestSettings(t *testing.T, sku string, useREST bool) (*LicenseSettings, *memStore) {
	t.Helper()
	st := newMemStore()
	ls, err := New(sku, testDefaults(t, useREST), st, nil)
	require.NoError(t, err)
	return ls, st
}

func TestNewResolvesDefaultSKU(t *testing.T) {
	ls, _ := newTestSettings(t, "", true)
	assert.Equal(t, config.DefaultSKU, ls.SKU())
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New("sku_1", testDefaults(t, true), nil, nil)
	assert.ErrorIs(t, err, licenseErrors.ErrConfigDataNotFound)
}

func TestNewRequiresUsableServerURL(t *testing.T) {
	cfg := config.Default()
	cfg.Licensing.ServerURL = "not a url"
	_, err := New("sku_1", config.NewDefaultsFromConfig(cfg), newMemStore(), nil)
	assert.ErrorIs(t, err, licenseErrors.ErrMissingServerURL)
}

func TestSchemaVersionFollowsTransportMode(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)
	assert.Equal(t, SchemaNew, ls.SchemaVersion())

	ls, _ = newTestSettings(t, "sku_1", false)
	assert.Equal(t, SchemaOld, ls.SchemaVersion())
}

func TestLoadSettingsPersistsDefaultedRecord(t *testing.T) {
	ls, st := newTestSettings(t, "sku_1", true)

	rec, err := ls.LoadSettings("sku_2")
	require.NoError(t, err)
	assert.Equal(t, "sku_2", rec.SKU())

	// The fresh record is persisted on first access.
	raw, err := st.Get(SettingsStoreKey, nil)
	require.NoError(t, err)
	var doc struct {
		Records map[string]map[string]interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc.Records, "sku_2")
}

func TestLoadSettingsNormalizesSKU(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)

	rec, err := ls.LoadSettings("  SKU_Upper ")
	require.NoError(t, err)
	assert.Equal(t, "sku_upper", rec.SKU())
}

func TestSetSKUReloads(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)
	require.NoError(t, ls.Record().Set(FieldTheKey, "K-1"))
	require.NoError(t, ls.Save())

	require.NoError(t, ls.SetSKU("sku_2"))
	assert.Equal(t, "sku_2", ls.SKU())
	// The new identity starts from its own record, not a rename.
	assert.Empty(t, ls.Record().Key())

	require.NoError(t, ls.SetSKU("sku_1"))
	assert.Equal(t, "K-1", ls.Record().Key())
}

func TestUnifiedGetSet(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)

	// Schema field
	require.NoError(t, ls.Set(FieldTheKey, "K-1"))
	v, err := ls.Get(FieldTheKey)
	require.NoError(t, err)
	assert.Equal(t, "K-1", v)

	// Defaults field through the same namespace
	v, err = ls.Get(config.FieldServerURL)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServerURL, v)

	// Defaults lock semantics are preserved
	assert.ErrorIs(t, ls.Set(config.FieldServerURL, "https://other"), licenseErrors.ErrLockedField)

	// Unknown name
	_, err = ls.Get("nonsense")
	assert.ErrorIs(t, err, licenseErrors.ErrInvalidSettingsKey)
	assert.ErrorIs(t, ls.Set("nonsense", 1), licenseErrors.ErrInvalidSettingsKey)
}

func TestMergeSkipsUndeclaredAndDoesNotPersist(t *testing.T) {
	ls, st := newTestSettings(t, "sku_1", true)

	merged := ls.Merge(map[string]interface{}{
		FieldTheKey:  "K-1",
		FieldDomain:  "shop.example.com", // old-schema field, skipped
		"irrelevant": true,
	})
	assert.Equal(t, "K-1", merged[FieldTheKey])
	assert.NotContains(t, merged, FieldDomain)
	assert.NotContains(t, merged, "irrelevant")

	// Not persisted until Save.
	raw, err := st.Get(SettingsStoreKey, nil)
	require.NoError(t, err)
	var doc struct {
		Records map[string]map[string]interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.NotContains(t, doc.Records["sku_1"], FieldTheKey)
}

func TestMergeUpdateGetRoundTrip(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)
	require.NoError(t, ls.Set(FieldTheKey, "K-1"))
	require.NoError(t, ls.Save())

	merged := ls.Merge(map[string]interface{}{FieldActivationID: "act-7"})
	require.NoError(t, ls.Update("sku_1", merged))

	got, err := ls.GetSettings("sku_1")
	require.NoError(t, err)
	assert.Equal(t, "act-7", got[FieldActivationID])
	assert.Equal(t, "K-1", got[FieldTheKey])
	assert.Equal(t, "sku_1", got[FieldProductSKU])
}

func TestUpdateDeleteOnEmpty(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)
	_, err := ls.LoadSettings("sku_gone")
	require.NoError(t, err)

	require.NoError(t, ls.Update("sku_gone", map[string]interface{}{}))

	all, err := ls.AllSettings()
	require.NoError(t, err)
	assert.NotContains(t, all, "sku_gone")
}

func TestUpdateEmptyKeepsProtectedSKU(t *testing.T) {
	ls, _ := newTestSettings(t, "", true)

	require.NoError(t, ls.Update(config.DefaultSKU, map[string]interface{}{}))

	all, err := ls.AllSettings()
	require.NoError(t, err)
	assert.Contains(t, all, config.DefaultSKU)
}

// racingStore interposes on Get so a concurrent writer can be simulated
// between the read and the write of one update.
type racingStore struct {
	*memStore
	interloper func(*memStore)
	armed      bool
	gets       int
}

func (r *racingStore) Get(key string, def []byte) ([]byte, error) {
	r.gets++
	// The second Get of an update is the pre-write revision check; slip the
	// interloper's write in just before it.
	if r.armed && r.gets == 2 && r.interloper != nil {
		r.interloper(r.memStore)
	}
	return r.memStore.Get(key, def)
}

func TestUpdateRetriesRevisionConflict(t *testing.T) {
	inner := newMemStore()
	st := &racingStore{memStore: inner}
	ls, err := New("sku_1", testDefaults(t, true), st, nil)
	require.NoError(t, err)

	other, err := New("sku_1", testDefaults(t, true), inner, nil)
	require.NoError(t, err)

	st.gets = 0
	st.armed = true
	st.interloper = func(*memStore) {
		require.NoError(t, other.Update("sku_1", map[string]interface{}{FieldTheKey: "from-other"}))
		st.interloper = nil
	}

	// The first attempt collides with the interloper's write; the retry
	// re-reads the bumped revision and wins.
	require.NoError(t, ls.Update("sku_1", map[string]interface{}{FieldTheKey: "from-ls"}))

	got, err := ls.GetSettings("sku_1")
	require.NoError(t, err)
	assert.Equal(t, "from-ls", got[FieldTheKey])
}

func TestAllSettings(t *testing.T) {
	ls, _ := newTestSettings(t, "sku_1", true)
	_, err := ls.LoadSettings("sku_2")
	require.NoError(t, err)

	all, err := ls.AllSettings()
	require.NoError(t, err)
	assert.Contains(t, all, "sku_1")
	assert.Contains(t, all, "sku_2")
}
