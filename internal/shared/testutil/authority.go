package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

// Authority is a fake remote license authority backed by httptest. Each
// incoming form-encoded POST is counted and answered with the configured
// response for its action.
type Authority struct {
	Server *httptest.Server

	calls     atomic.Int64
	responses map[string]Response
	fallback  Response
}

// Response describes one canned authority answer.
type Response struct {
	StatusCode int
	Body       map[string]interface{}
	// RawBody overrides Body with literal bytes when non-nil, for malformed
	// payload tests.
	RawBody []byte
}

// NewAuthority starts a fake authority. Responses are keyed by the action
// form field (slm_action for the legacy protocol, action for the current
// one); unmatched actions get the fallback.
func NewAuthority(t *testing.T) *Authority {
	t.Helper()

	a := &Authority{
		responses: map[string]Response{},
		fallback: Response{
			StatusCode: http.StatusOK,
			Body:       map[string]interface{}{"status": 200, "error": false},
		},
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.Server.Close)
	return a
}

// URL returns the authority's base URL.
func (a *Authority) URL() string { return a.Server.URL }

// Host returns the authority's host:port, the domain clients appear to run
// on when self-exemption should trigger.
func (a *Authority) Host() string {
	u, _ := url.Parse(a.Server.URL)
	return u.Hostname()
}

// Calls reports how many requests the authority has served.
func (a *Authority) Calls() int64 { return a.calls.Load() }

// ResetCalls zeroes the request counter.
func (a *Authority) ResetCalls() { a.calls.Store(0) }

// Respond sets the canned response for one action.
func (a *Authority) Respond(action string, resp Response) {
	a.responses[action] = resp
}

// RespondAll sets the fallback response for unmatched actions.
func (a *Authority) RespondAll(resp Response) {
	a.fallback = resp
}

func (a *Authority) handle(w http.ResponseWriter, r *http.Request) {
	a.calls.Add(1)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	action := r.PostFormValue("action")
	if action == "" {
		action = r.PostFormValue("slm_action")
	}

	resp, ok := a.responses[action]
	if !ok {
		resp = a.fallback
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if resp.RawBody != nil {
		w.Write(resp.RawBody)
		return
	}
	json.NewEncoder(w).Encode(resp.Body)
}

// ActiveLicenseBody is a current-protocol success payload whose data block
// reports an active license.
func ActiveLicenseBody(activationID string, expire int64) map[string]interface{} {
	return map[string]interface{}{
		"status": 200,
		"error":  false,
		"data": map[string]interface{}{
			"status":        "active",
			"activation_id": activationID,
			"expire":        expire,
		},
	}
}

// ErrorBody is an authority error payload with per-field messages.
func ErrorBody(messages map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"status": 500,
		"error":  true,
		"errors": messages,
	}
}
