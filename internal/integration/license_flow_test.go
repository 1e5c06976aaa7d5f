package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licmgr/internal/license"
	"licmgr/internal/licenseserver"
	"licmgr/internal/services"
	"licmgr/internal/shared/testutil"
	transporthttp "licmgr/internal/transport/http"
)

const testSKU = "engine_pro"

// stack wires the full engine the way cmd/licmgr-server does, minus the
// telemetry provider, against a fake authority.
type stack struct {
	router    http.Handler
	authority *testutil.Authority
}

func newStack(t *testing.T) *stack {
	t.Helper()

	authority := testutil.NewAuthority(t)
	ls, _ := testutil.NewTestSettings(t, testSKU, authority.URL(), true)
	logger := testutil.DiscardLogger()

	srv := licenseserver.New(ls, licenseserver.Options{
		Logger: logger,
		Host:   licenseserver.StaticHost("client.example.com"),
		Cache:  licenseserver.NewStatusCache(time.Minute),
	})
	t.Cleanup(srv.Cache().Stop)

	manager := license.NewManager(ls, srv, nil, logger)
	service := services.NewLicenseService(manager, ls, srv, nil, logger)

	return &stack{
		router: transporthttp.NewRouter(transporthttp.RouterOptions{
			LicenseService: service,
			Logger:         logger,
		}),
		authority: authority,
	}
}

func (s *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestActivationFlow(t *testing.T) {
	expire := time.Now().Add(365 * 24 * time.Hour).Unix()
	s := newStack(t)
	s.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-9", expire),
	})
	s.authority.Respond(licenseserver.ActionVerify, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-9", expire),
	})
	s.authority.Respond(licenseserver.ActionDeactivate, testutil.Response{
		Body: map[string]interface{}{"status": 200, "error": false},
	})

	// Fresh install: nothing activated yet.
	rr := s.do(t, http.MethodGet, "/api/license/status/"+testSKU, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status services.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Licensed)
	assert.Equal(t, "inactive", status.State)

	// Activate.
	rr = s.do(t, http.MethodPost, "/api/license/activate",
		`{"sku":"`+testSKU+`","license_key":"key-12345678"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var activation services.ActivationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &activation))
	assert.Equal(t, "active", activation.State)

	// Verification now passes and is served from the seeded cache.
	s.authority.ResetCalls()
	rr = s.do(t, http.MethodPost, "/api/license/verify", `{"sku":"`+testSKU+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var verify transporthttp.VerifyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verify))
	assert.True(t, verify.Licensed)
	assert.EqualValues(t, 0, s.authority.Calls())

	// Deactivate and confirm the verdict flips.
	rr = s.do(t, http.MethodPost, "/api/license/deactivate", `{"sku":"`+testSKU+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var deactivation services.DeactivationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deactivation))
	assert.True(t, deactivation.Deactivated)

	rr = s.do(t, http.MethodGet, "/api/license/status/"+testSKU, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Licensed)
	assert.Equal(t, "inactive", status.State, "the cleared key reads as never configured")
}

func TestActivationRejectionFlow(t *testing.T) {
	s := newStack(t)
	s.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		StatusCode: http.StatusInternalServerError,
		Body: testutil.ErrorBody(map[string]interface{}{
			"license_key": []interface{}{"The license key is not valid."},
		}),
	})

	rr := s.do(t, http.MethodPost, "/api/license/activate",
		`{"sku":"`+testSKU+`","license_key":"key-12345678"}`)
	require.Equal(t, http.StatusOK, rr.Code, "server rejections are payloads, not HTTP errors")

	var activation services.ActivationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &activation))
	assert.Equal(t, "blocked", activation.State)
	require.NotEmpty(t, activation.Messages)
	assert.Contains(t, activation.Messages[0], "not valid")

	// The rejected SKU stays unlicensed.
	rr = s.do(t, http.MethodPost, "/api/license/verify", `{"sku":"`+testSKU+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var verify transporthttp.VerifyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verify))
	assert.False(t, verify.Licensed)
}

func TestRenewalFlow(t *testing.T) {
	soon := time.Now().Add(10 * 24 * time.Hour).Unix()
	s := newStack(t)
	s.authority.Respond(licenseserver.ActionActivate, testutil.Response{
		Body: testutil.ActiveLicenseBody("act-9", soon),
	})

	rr := s.do(t, http.MethodPost, "/api/license/activate",
		`{"sku":"`+testSKU+`","license_key":"key-12345678"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/license/renewal/"+testSKU, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var renewal services.RenewalStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &renewal))
	assert.True(t, renewal.NeedsRenewal)
	assert.False(t, renewal.IsExpired)
	assert.Equal(t, "high", renewal.Urgency)
	require.NotNil(t, renewal.ExpiryDate)
	assert.InDelta(t, 9, renewal.DaysUntilExpiry, 1)
}
