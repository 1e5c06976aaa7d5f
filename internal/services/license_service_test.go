package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licmgr/internal/infrastructure"
	"licmgr/internal/license"
	"licmgr/internal/licenseserver"
	"licmgr/internal/shared/testutil"
)

const testSKU = "engine_pro"

func newService(t *testing.T) LicenseService {
	t.Helper()

	authority := testutil.NewAuthority(t)
	ls, _ := testutil.NewTestSettings(t, testSKU, authority.URL(), true)
	_, err := ls.LoadSettings(testSKU)
	require.NoError(t, err)

	notices := licenseserver.NewMemoryNotices()
	srv := licenseserver.New(ls, licenseserver.Options{
		Notices: notices,
		Logger:  testutil.DiscardLogger(),
		Host:    licenseserver.StaticHost("client.example.com"),
		Cache:   licenseserver.NewStatusCache(time.Minute),
	})
	t.Cleanup(srv.Cache().Stop)

	manager := license.NewManager(ls, srv, notices, testutil.DiscardLogger())
	return NewLicenseService(manager, ls, srv, nil, testutil.DiscardLogger())
}

func TestGetStatusGeneratesTraceID(t *testing.T) {
	svc := newService(t)

	resp, err := svc.GetStatus(context.Background(), testSKU)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.TraceID)
	assert.Equal(t, string(license.StateInactive), resp.State)
}

func TestGetStatusKeepsCallerTraceID(t *testing.T) {
	svc := newService(t)
	ctx := infrastructure.WithTraceID(context.Background(), "trace-123")

	resp, err := svc.GetStatus(ctx, testSKU)
	require.NoError(t, err)

	assert.Equal(t, "trace-123", resp.TraceID)
}

func TestDeactivateGeneratesTraceID(t *testing.T) {
	svc := newService(t)

	resp, err := svc.Deactivate(context.Background(), testSKU)
	require.NoError(t, err)

	assert.False(t, resp.Deactivated)
	assert.NotEmpty(t, resp.TraceID)
}
