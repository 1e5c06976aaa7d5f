package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"licmgr/internal/config"
	"licmgr/internal/infrastructure"
	"licmgr/internal/license"
	"licmgr/internal/licenseserver"
	"licmgr/internal/services"
	"licmgr/internal/settings"
	"licmgr/internal/store"
	httptransport "licmgr/internal/transport/http"
)

// Application holds the assembled engine and its HTTP server.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.Telemetry

	Store    store.Store
	Defaults *config.Defaults
	Settings *settings.LicenseSettings
	Server   *licenseserver.Server
	Manager  *license.Manager
	Notices  *licenseserver.MemoryNotices

	HTTPServer *http.Server
}

// NewApplication loads configuration and wires every component.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetry, err := infrastructure.InitializeTelemetry(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := infrastructure.NewLicenseMetrics(telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	// Shared constants consumed across components.
	if _, err := config.Constant(config.ConstSecretKey, config.ConstantUpdate, cfg.Licensing.SecretKey); err != nil {
		return nil, err
	}
	if _, err := config.Constant(config.ConstServerURL, config.ConstantUpdate, cfg.Licensing.ServerURL); err != nil {
		return nil, err
	}
	if _, err := config.Constant(config.ConstStoreCode, config.ConstantUpdate, cfg.Licensing.StoreCode); err != nil {
		return nil, err
	}

	defaults := config.NewDefaultsFromConfig(cfg)

	licenseSettings, err := settings.New("", defaults, st, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build license settings: %w", err)
	}

	notices := licenseserver.NewMemoryNotices()
	remote := licenseserver.New(licenseSettings, licenseserver.Options{
		Timeout: cfg.Licensing.RequestTimeout,
		Notices: notices,
		Logger:  logger,
		Metrics: metrics,
	})
	manager := license.NewManager(licenseSettings, remote, notices, logger)

	licenseService := services.NewLicenseService(manager, licenseSettings, remote, metrics, logger)

	router := httptransport.NewRouter(httptransport.RouterOptions{
		LicenseService:  licenseService,
		Logger:          logger,
		MetricsHandler:  telemetry.Handler,
		ActivationRPS:   float64(config.ActivationRateLimit) / 60.0,
		ActivationBurst: 5,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:     cfg,
		Logger:     logger,
		Telemetry:  telemetry,
		Store:      st,
		Defaults:   defaults,
		Settings:   licenseSettings,
		Server:     remote,
		Manager:    manager,
		Notices:    notices,
		HTTPServer: httpServer,
	}, nil
}

// Run serves until interrupted, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("license engine listening",
			slog.String("addr", a.HTTPServer.Addr),
			slog.String("version", config.AppVersion),
		)
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop()
	})

	return g.Wait()
}

// Stop shuts the engine down in dependency order.
func (a *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	a.Logger.Info("shutting down license engine")

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.Server.Cache().Stop()

	if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("store close error", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return err
	}

	a.Logger.Info("license engine shutdown complete")
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "bolt":
		return store.OpenBolt(cfg.BoltPath)
	default:
		return store.OpenFile(cfg.FilePath)
	}
}
