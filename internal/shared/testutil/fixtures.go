package testutil

import (
	"log/slog"
	"testing"
	"time"

	"licmgr/internal/config"
	"licmgr/internal/settings"
)

// NewTestConfig returns a default engine configuration pointed at the given
// authority URL.
func NewTestConfig(serverURL string, useREST bool) *config.Config {
	cfg := config.Default()
	cfg.Licensing.ServerURL = serverURL
	cfg.Licensing.UseREST = useREST
	cfg.Licensing.StoreCode = "test_store"
	cfg.Licensing.RequestTimeout = 5 * time.Second
	return cfg
}

// NewTestDefaults builds an unlocked-free Defaults instance for the given
// authority URL and transport mode.
func NewTestDefaults(t *testing.T, serverURL string, useREST bool) *config.Defaults {
	t.Helper()
	return config.NewDefaultsFromConfig(NewTestConfig(serverURL, useREST))
}

// NewTestSettings builds a settings façade over an in-memory store.
func NewTestSettings(t *testing.T, sku, serverURL string, useREST bool) (*settings.LicenseSettings, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	ls, err := settings.New(sku, NewTestDefaults(t, serverURL, useREST), st, DiscardLogger())
	if err != nil {
		t.Fatalf("failed to build test settings: %v", err)
	}
	return ls, st
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
