package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/api"
	"github.com/ibero-data/modgate/internal/audit"
	"github.com/ibero-data/modgate/internal/auth"
	"github.com/ibero-data/modgate/internal/enrichment"
	"github.com/ibero-data/modgate/internal/geoip"
	"github.com/ibero-data/modgate/internal/licensing"
	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the modgate server",
		Long:  `Starts the admin API and the license refresh loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := opts.openApp(cmd, "")
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	secret, err := a.jwtSecret(ctx)
	if err != nil {
		return fmt.Errorf("load jwt secret: %w", err)
	}

	// Fall back to a database installed by 'modgate geoip download'.
	geoipPath := cfg.GeoIPPath
	if geoipPath == "" {
		if st := geoip.NewDownloader("", "", cfg.DataDir).GetStatus(); st.Exists {
			geoipPath = st.Path
		}
	}
	enricher, err := enrichment.New(geoipPath)
	if err != nil {
		logger.Warn("geoip lookup disabled", zap.String("path", geoipPath), zap.Error(err))
	}
	defer enricher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := licensing.NewManager(a.licenses, a.modules,
		licensing.WithLogger(logger),
		licensing.WithMetrics(metrics.New(reg)),
		licensing.WithRefreshInterval(cfg.Access.RefreshInterval),
		licensing.WithGracePeriod(cfg.Access.GracePeriod),
	)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	authSvc := auth.New(secret,
		auth.WithTokenTTL(cfg.TokenTTL),
		auth.WithSecureCookie(cfg.Env == string(logging.EnvironmentProduction)),
	)

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Licenses: a.licenses,
		Modules:  a.modules,
		Manager:  manager,
		Users:    a.users,
		Auth:     authSvc,
		Audit:    audit.New(a.store, enricher, nil, logger),
		Settings: a.settings,
		Gatherer: reg,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	info := manager.LicenseInfo()
	logger.Info("modgate starting",
		zap.String("version", Version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("store", cfg.Store.Driver),
		zap.String("data_dir", cfg.DataDir),
		zap.String("license_state", string(manager.State())),
		zap.Int("license_days_remaining", info.DaysRemaining))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
