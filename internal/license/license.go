package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"licmgr/internal/config"
	licenseErrors "licmgr/internal/errors"
	"licmgr/internal/infrastructure"
	"licmgr/internal/licenseserver"
	"licmgr/internal/settings"
)

// State is the lifecycle state of one SKU's license.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateInactive     State = "inactive"
	StateActive       State = "active"
	StateExpiring     State = "expiring"
	StateBlocked      State = "blocked"
	StateDeactivated  State = "deactivated"
)

// Expiry classification returned by IsExpiring.
const (
	Expired      = -1
	NotExpiring  = 0
	ExpiringSoon = 1
)

// ActivationResult describes the outcome of an activation attempt.
type ActivationResult struct {
	State    State
	Code     int
	Messages []string
	Fields   map[string]interface{}
}

// Manager is the license lifecycle orchestrator for a settings façade and
// its remote protocol client.
type Manager struct {
	settings    *settings.LicenseSettings
	server      *licenseserver.Server
	defaults    *config.Defaults
	notices     licenseserver.Notices
	warningDays int
	logger      *slog.Logger
}

// NewManager wires the orchestrator. A nil notices sink falls back to the
// server's sink behavior through slog.
func NewManager(ls *settings.LicenseSettings, srv *licenseserver.Server, notices licenseserver.Notices, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notices == nil {
		notices = licenseserver.NewSlogNotices(logger)
	}
	return &Manager{
		settings:    ls,
		server:      srv,
		defaults:    ls.Defaults(),
		notices:     notices,
		warningDays: config.ExpirationWarningDays,
		logger:      infrastructure.WithComponent(logger, "license_manager"),
	}
}

// SetWarningWindow overrides the expiry warning window in days.
func (m *Manager) SetWarningWindow(days int) {
	if days > 0 {
		m.warningDays = days
	}
}

// Activate registers the stored license key for a SKU against the remote
// authority. Activation is only supported under the current schema; on the
// legacy schema it fails with ErrServerConnection so the operator upgrades
// the backend. Remote error payloads transition to Blocked with the server's
// per-field messages and leave the stored settings untouched.
func (m *Manager) Activate(ctx context.Context, sku, key string) (*ActivationResult, error) {
	rec, err := m.settings.LoadSettings(sku)
	if err != nil {
		return nil, err
	}

	if rec.Version() != settings.SchemaNew {
		return nil, fmt.Errorf("%w: the legacy license backend does not support activation, please upgrade",
			licenseErrors.ErrServerConnection)
	}

	if key != "" {
		if err := rec.Set(settings.FieldTheKey, key); err != nil {
			return nil, err
		}
	}
	if rec.Key() == "" {
		return nil, fmt.Errorf("%w: %q", licenseErrors.ErrNoLicenseKeyFound, sku)
	}

	req := licenseserver.NewLicenseRequest(
		licenseserver.ActionActivate, rec, m.defaults, m.server.Host().CurrentHost())

	decoded, rerr := m.server.SendRequest(ctx, req)
	if rerr != nil {
		m.logger.ErrorContext(ctx, "activation exchange failed",
			slog.String("sku", sku),
			slog.String("kind", string(rerr.Kind)),
			slog.String("error", rerr.Error()),
		)
		m.notices.Add(ctx, licenseserver.NoticeError,
			fmt.Sprintf("Unable to activate the license for %s: the license server could not be reached.", sku))
		return &ActivationResult{
			State:    StateBlocked,
			Code:     config.StatusBlocked,
			Messages: []string{rerr.Message},
			Fields:   rec.Map(),
		}, nil
	}

	if licenseserver.PayloadError(decoded) {
		messages := licenseserver.PayloadMessages(decoded)
		if msg := licenseserver.PayloadMessage(decoded); msg != "" {
			messages = append(messages, msg)
		}
		for _, msg := range messages {
			m.notices.Add(ctx, licenseserver.NoticeError, msg)
		}
		m.logger.WarnContext(ctx, "activation rejected by license server",
			slog.String("sku", sku),
			slog.Int("message_count", len(messages)),
		)
		return &ActivationResult{
			State:    StateBlocked,
			Code:     config.StatusError,
			Messages: messages,
			Fields:   rec.Map(),
		}, nil
	}

	if !licenseserver.PayloadOK(decoded) {
		return &ActivationResult{
			State:    StateBlocked,
			Code:     config.StatusBlocked,
			Messages: []string{"unrecognized activation response"},
			Fields:   rec.Map(),
		}, nil
	}

	merged := m.settings.Merge(licenseserver.PayloadData(decoded))
	m.settings.Merge(map[string]interface{}{
		settings.FieldStatus: settings.StatusActive,
	})
	if err := m.settings.Save(); err != nil {
		return nil, err
	}
	m.server.Cache().Set(licenseserver.Key(rec.SKU()), true)

	m.logger.InfoContext(ctx, "license activated",
		slog.String("sku", sku),
		slog.String("activation_id", rec.ActivationID()),
	)
	return &ActivationResult{
		State:  StateActive,
		Code:   config.StatusRegistered,
		Fields: merged,
	}, nil
}

// Deactivate releases the activation for a SKU. A record without a key is
// nothing to deactivate and returns false without a remote call. Legacy
// "already inactive" responses count as success. Under the current schema a
// record without an activation id can only be cleared locally.
func (m *Manager) Deactivate(ctx context.Context, sku string) (bool, error) {
	rec, err := m.settings.LoadSettings(sku)
	if err != nil {
		return false, err
	}
	if rec.Key() == "" {
		m.logger.DebugContext(ctx, "deactivation skipped, no key on record",
			slog.String("sku", sku),
		)
		return false, nil
	}

	switch rec.Version() {
	case settings.SchemaOld:
		decoded, rerr := m.server.Send(ctx, m.server.LegacyParams(licenseserver.LegacyDeactivate, rec))
		if rerr != nil {
			return false, fmt.Errorf("%w: %v", licenseErrors.ErrServerConnection, rerr)
		}
		if licenseserver.PayloadError(decoded) && !alreadyInactive(decoded) {
			for _, msg := range licenseserver.PayloadMessages(decoded) {
				m.notices.Add(ctx, licenseserver.NoticeError, msg)
			}
			return false, nil
		}

	case settings.SchemaNew:
		if rec.ActivationID() == "" {
			// Cannot tell the server which activation to release.
			m.logger.WarnContext(ctx, "no activation id, clearing license locally",
				slog.String("sku", sku),
			)
			break
		}
		req := licenseserver.NewLicenseRequest(
			licenseserver.ActionDeactivate, rec, m.defaults, m.server.Host().CurrentHost())
		decoded, rerr := m.server.SendRequest(ctx, req)
		if rerr != nil {
			return false, fmt.Errorf("%w: %v", licenseErrors.ErrServerConnection, rerr)
		}
		if licenseserver.PayloadError(decoded) && !alreadyInactive(decoded) {
			for _, msg := range licenseserver.PayloadMessages(decoded) {
				m.notices.Add(ctx, licenseserver.NoticeError, msg)
			}
			return false, nil
		}
	}

	rec.ClearActivation()
	m.settings.Merge(map[string]interface{}{
		settings.FieldStatus: settings.StatusInactive,
	})
	if err := m.settings.Save(); err != nil {
		return false, err
	}
	m.server.Cache().Invalidate(licenseserver.Key(rec.SKU()))

	m.logger.InfoContext(ctx, "license deactivated", slog.String("sku", sku))
	return true, nil
}

// IsLicensed answers "is this SKU currently licensed?". Running on the
// issuing authority's own host is always licensed. Otherwise both the remote
// status and local activity must pass.
func (m *Manager) IsLicensed(ctx context.Context, sku string, force bool) bool {
	if m.onAuthorityHost() {
		return true
	}
	licensed := m.server.Status(ctx, sku, force)
	return licensed && m.IsActive(sku, licensed)
}

// IsActive reports whether a SKU's local record is in an active state. The
// default SKU is never active. Domain binding is enforced only under the
// legacy schema.
func (m *Manager) IsActive(sku string, isLicensed bool) bool {
	if sku == "" || settings.NormalizeSKU(sku) == config.DefaultSKU {
		return false
	}
	rec, err := m.settings.LoadSettings(sku)
	if err != nil {
		return false
	}
	if rec.Key() == "" || rec.Status() != settings.StatusActive || !isLicensed {
		return false
	}
	if rec.Version() == settings.SchemaOld {
		return rec.Domain() == m.server.Host().CurrentHost()
	}
	return true
}

// IsExpiring classifies a SKU's expiry against the warning window: Expired
// when the expiry has passed, ExpiringSoon when it falls inside the window,
// NotExpiring when unset or beyond it. An unresolvable record counts as
// expiring so the caller prompts for renewal instead of blocking.
func (m *Manager) IsExpiring(sku string) int {
	rec, err := m.settings.LoadSettings(sku)
	if err != nil {
		return ExpiringSoon
	}

	exp := rec.ExpireEpoch()
	if exp <= 0 {
		return NotExpiring
	}

	now := time.Now().Unix()
	window := int64(m.warningDays) * 24 * 60 * 60
	switch {
	case exp <= now:
		return Expired
	case exp <= now+window:
		return ExpiringSoon
	default:
		return NotExpiring
	}
}

// State reports the lifecycle state of a SKU for inspection surfaces.
func (m *Manager) State(ctx context.Context, sku string) State {
	rec, err := m.settings.LoadSettings(sku)
	if err != nil {
		return StateUnconfigured
	}
	if rec.Key() == "" {
		return StateInactive
	}
	switch rec.Status() {
	case settings.StatusBlocked:
		return StateBlocked
	case settings.StatusInactive, settings.StatusCancelled:
		return StateDeactivated
	}
	if m.IsExpiring(sku) == Expired {
		return StateExpiring
	}
	if m.IsLicensed(ctx, sku, false) {
		if m.IsExpiring(sku) == ExpiringSoon {
			return StateExpiring
		}
		return StateActive
	}
	return StateInactive
}

// onAuthorityHost reports whether the current host is the license authority
// itself.
func (m *Manager) onAuthorityHost() bool {
	u, err := url.Parse(m.defaults.ServerURL())
	if err != nil {
		return false
	}
	host := m.server.Host().CurrentHost()
	return host != "" && strings.EqualFold(u.Hostname(), host)
}

// alreadyInactive recognizes the idempotent-deactivation server response.
func alreadyInactive(decoded map[string]interface{}) bool {
	if msg := licenseserver.PayloadMessage(decoded); strings.Contains(strings.ToLower(msg), "already inactive") {
		return true
	}
	for _, msg := range licenseserver.PayloadMessages(decoded) {
		if strings.Contains(strings.ToLower(msg), "already inactive") {
			return true
		}
	}
	return false
}
