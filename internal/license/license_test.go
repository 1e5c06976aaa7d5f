package license

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licmgr/internal/config"
	licenseErrors "licmgr/internal/errors"
	"licmgr/internal/licenseserver"
	"licmgr/internal/settings"
	"licmgr/internal/shared/testutil"
)

const testSKU = "engine_pro"

type fixture struct {
	manager   *Manager
	server    *licenseserver.Server
	settings  *settings.LicenseSettings
	notices   *licenseserver.MemoryNotices
	authority *testutil.Authority
}

func newFixture(t *testing.T, useREST bool, host string) *fixture {
	t.Helper()

	authority := testutil.NewAuthority(t)
	ls, _ := testutil.NewTestSettings(t, testSKU, authority.URL(), useREST)
	_, err := ls.LoadSettings(testSKU)
	require.NoError(t, err)

	notices := licenseserver.NewMemoryNotices()
	srv := licenseserver.New(ls, licenseserver.Options{
		Notices: notices,
		Logger:  testutil.DiscardLogger(),
		Host:    licenseserver.StaticHost(host),
		Cache:   licenseserver.NewStatusCache(time.Minute),
	})
	t.Cleanup(srv.Cache().Stop)

	return &fixture{
		manager:   NewManager(ls, srv, notices, testutil.DiscardLogger()),
		server:    srv,
		settings:  ls,
		notices:   notices,
		authority: authority,
	}
}

func (f *fixture) storeKey(t *testing.T, useREST bool, key string) {
	t.Helper()
	field := settings.FieldTheKey
	if !useREST {
		field = settings.FieldKey
	}
	f.settings.Merge(map[string]interface{}{field: key})
	require.NoError(t, f.settings.Save())
}

func TestActivateSuccess(t *testing.T) {
	expire := time.Now().Add(365 * 24 * time.Hour).Unix()
	f := newFixture(t, true, "client.example.com")
	f.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-42", expire),
	})

	result, err := f.manager.Activate(context.Background(), testSKU, "key-12345678")
	require.NoError(t, err)
	assert.Equal(t, StateActive, result.State)
	assert.Equal(t, config.StatusRegistered, result.Code)

	rec, err := f.settings.LoadSettings(testSKU)
	require.NoError(t, err)
	assert.Equal(t, settings.StatusActive, rec.Status())
	assert.Equal(t, "act-42", rec.ActivationID())
	assert.Equal(t, "key-12345678", rec.Key())

	// Activation seeds the status cache so the next check stays local.
	f.authority.ResetCalls()
	assert.True(t, f.server.Status(context.Background(), testSKU, false))
	assert.EqualValues(t, 0, f.authority.Calls())
}

func TestActivateErrorPayloadLeavesSettingsUntouched(t *testing.T) {
	f := newFixture(t, true, "client.example.com")
	f.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		StatusCode: http.StatusInternalServerError,
		Body: testutil.ErrorBody(map[string]interface{}{
			"license_key": []interface{}{"The license key has reached its activation limit."},
		}),
	})

	result, err := f.manager.Activate(context.Background(), testSKU, "key-12345678")
	require.NoError(t, err, "server rejections are results, not errors")
	assert.Equal(t, StateBlocked, result.State)
	assert.Equal(t, config.StatusError, result.Code)
	require.Len(t, result.Messages, 1)
	assert.Contains(t, result.Messages[0], "activation limit")

	rec, err := f.settings.LoadSettings(testSKU)
	require.NoError(t, err)
	assert.NotEqual(t, settings.StatusActive, rec.Status())
	assert.Empty(t, rec.ActivationID())
}

func TestActivateTransportFailure(t *testing.T) {
	f := newFixture(t, true, "client.example.com")
	f.authority.Server.Close()

	result, err := f.manager.Activate(context.Background(), testSKU, "key-12345678")
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, result.State)
	assert.Equal(t, config.StatusBlocked, result.Code)

	drained := f.notices.Drain()
	require.Len(t, drained, 1)
	assert.Contains(t, drained[0].Message, "could not be reached")
}

func TestActivateLegacySchemaUnsupported(t *testing.T) {
	f := newFixture(t, false, "client.example.com")

	_, err := f.manager.Activate(context.Background(), testSKU, "key-12345678")
	require.Error(t, err)
	assert.True(t, errors.Is(err, licenseErrors.ErrServerConnection))
	assert.Contains(t, err.Error(), "upgrade")
	assert.EqualValues(t, 0, f.authority.Calls())
}

func TestActivateWithoutKey(t *testing.T) {
	f := newFixture(t, true, "client.example.com")

	_, err := f.manager.Activate(context.Background(), testSKU, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, licenseErrors.ErrNoLicenseKeyFound))
	assert.EqualValues(t, 0, f.authority.Calls())
}

func TestDeactivateWithoutKeySkipsRemote(t *testing.T) {
	f := newFixture(t, true, "client.example.com")

	done, err := f.manager.Deactivate(context.Background(), testSKU)
	require.NoError(t, err)
	assert.False(t, done)
	assert.EqualValues(t, 0, f.authority.Calls())
}

func TestDeactivateClearsRecordAndCache(t *testing.T) {
	expire := time.Now().Add(365 * 24 * time.Hour).Unix()
	f := newFixture(t, true, "client.example.com")
	f.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-42", expire),
	})
	f.authority.Respond(licenseserver.ActionDeactivate, testutil.Response{
		Body: map[string]interface{}{"status": 200, "error": false},
	})

	_, err := f.manager.Activate(context.Background(), testSKU, "key-12345678")
	require.NoError(t, err)

	done, err := f.manager.Deactivate(context.Background(), testSKU)
	require.NoError(t, err)
	assert.True(t, done)

	rec, err := f.settings.LoadSettings(testSKU)
	require.NoError(t, err)
	assert.Empty(t, rec.Key())
	assert.Empty(t, rec.ActivationID())
	assert.Equal(t, settings.StatusInactive, rec.Status())

	_, cached := f.server.Cache().Get(licenseserver.Key(testSKU))
	assert.False(t, cached, "deactivation invalidates the cached status")
}

func TestDeactivateAlreadyInactiveCountsAsSuccess(t *testing.T) {
	f := newFixture(t, false, "client.example.com")
	f.storeKey(t, false, "legacy-key-1")
	f.authority.Respond(licenseserver.LegacyDeactivate, testutil.Response{
		StatusCode: http.StatusInternalServerError,
		Body: map[string]interface{}{
			"status":  500,
			"error":   true,
			"message": "The license key is already inactive.",
		},
	})

	done, err := f.manager.Deactivate(context.Background(), testSKU)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, f.notices.Drain())
}

func TestDeactivateWithoutActivationIDClearsLocally(t *testing.T) {
	f := newFixture(t, true, "client.example.com")
	f.storeKey(t, true, "key-12345678")

	done, err := f.manager.Deactivate(context.Background(), testSKU)
	require.NoError(t, err)
	assert.True(t, done)
	assert.EqualValues(t, 0, f.authority.Calls())

	rec, err := f.settings.LoadSettings(testSKU)
	require.NoError(t, err)
	assert.Empty(t, rec.Key())
}

func TestDeactivateTransportFailure(t *testing.T) {
	f := newFixture(t, false, "client.example.com")
	f.storeKey(t, false, "legacy-key-1")
	f.authority.Server.Close()

	done, err := f.manager.Deactivate(context.Background(), testSKU)
	require.Error(t, err)
	assert.False(t, done)
	assert.True(t, errors.Is(err, licenseErrors.ErrServerConnection))
}

func TestIsLicensedSelfExempt(t *testing.T) {
	authority := testutil.NewAuthority(t)
	ls, _ := testutil.NewTestSettings(t, testSKU, authority.URL(), true)
	_, err := ls.LoadSettings(testSKU)
	require.NoError(t, err)

	srv := licenseserver.New(ls, licenseserver.Options{
		Logger: testutil.DiscardLogger(),
		Host:   licenseserver.StaticHost(authority.Host()),
		Cache:  licenseserver.NewStatusCache(time.Minute),
	})
	t.Cleanup(srv.Cache().Stop)
	m := NewManager(ls, srv, nil, testutil.DiscardLogger())

	// Running on the authority's own host needs no key and no remote call.
	assert.True(t, m.IsLicensed(context.Background(), testSKU, true))
	assert.EqualValues(t, 0, authority.Calls())
}

func TestIsActive(t *testing.T) {
	expire := time.Now().Add(365 * 24 * time.Hour).Unix()
	f := newFixture(t, true, "client.example.com")
	f.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-42", expire),
	})

	assert.False(t, f.manager.IsActive(testSKU, true), "no key yet")
	assert.False(t, f.manager.IsActive("", true))
	assert.False(t, f.manager.IsActive(config.DefaultSKU, true), "default SKU is never active")

	_, err := f.manager.Activate(context.Background(), testSKU, "key-12345678")
	require.NoError(t, err)

	assert.True(t, f.manager.IsActive(testSKU, true))
	assert.False(t, f.manager.IsActive(testSKU, false), "remote verdict gates activity")

	f.settings.Merge(map[string]interface{}{settings.FieldStatus: settings.StatusInactive})
	require.NoError(t, f.settings.Save())
	assert.False(t, f.manager.IsActive(testSKU, true), "stored status gates activity")
}

func TestIsActiveLegacyDomainBinding(t *testing.T) {
	f := newFixture(t, false, "client.example.com")
	f.storeKey(t, false, "legacy-key-1")
	f.settings.Merge(map[string]interface{}{
		settings.FieldStatus: settings.StatusActive,
		settings.FieldDomain: "other.example.com",
	})
	require.NoError(t, f.settings.Save())

	assert.False(t, f.manager.IsActive(testSKU, true), "legacy records are bound to their domain")

	f.settings.Merge(map[string]interface{}{settings.FieldDomain: "client.example.com"})
	require.NoError(t, f.settings.Save())
	assert.True(t, f.manager.IsActive(testSKU, true))
}

func TestIsExpiring(t *testing.T) {
	now := time.Now().Unix()
	tests := []struct {
		name   string
		expire interface{}
		want   int
	}{
		{"unset", nil, NotExpiring},
		{"already passed", now - 1, Expired},
		{"inside warning window", now + 10*24*60*60, ExpiringSoon},
		{"beyond warning window", now + 90*24*60*60, NotExpiring},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true, "client.example.com")
			if tt.expire != nil {
				f.settings.Merge(map[string]interface{}{settings.FieldExpire: tt.expire})
				require.NoError(t, f.settings.Save())
			}
			assert.Equal(t, tt.want, f.manager.IsExpiring(testSKU))
		})
	}
}

func TestIsExpiringWindowOverride(t *testing.T) {
	f := newFixture(t, true, "client.example.com")
	f.settings.Merge(map[string]interface{}{
		settings.FieldExpire: time.Now().Unix() + 10*24*60*60,
	})
	require.NoError(t, f.settings.Save())

	f.manager.SetWarningWindow(5)
	assert.Equal(t, NotExpiring, f.manager.IsExpiring(testSKU))

	f.manager.SetWarningWindow(14)
	assert.Equal(t, ExpiringSoon, f.manager.IsExpiring(testSKU))
}

func TestStateLifecycle(t *testing.T) {
	expire := time.Now().Add(365 * 24 * time.Hour).Unix()
	f := newFixture(t, true, "client.example.com")
	f.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-42", expire),
	})
	f.authority.Respond(licenseserver.ActionVerify, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-42", expire),
	})
	f.authority.Respond(licenseserver.ActionDeactivate, testutil.Response{
		Body: map[string]interface{}{"status": 200, "error": false},
	})

	ctx := context.Background()
	assert.Equal(t, StateInactive, f.manager.State(ctx, testSKU))

	_, err := f.manager.Activate(ctx, testSKU, "key-12345678")
	require.NoError(t, err)
	assert.Equal(t, StateActive, f.manager.State(ctx, testSKU))

	done, err := f.manager.Deactivate(ctx, testSKU)
	require.NoError(t, err)
	require.True(t, done)
	// Deactivation clears the key, so the record reads as inactive again.
	assert.Equal(t, StateInactive, f.manager.State(ctx, testSKU))
}
