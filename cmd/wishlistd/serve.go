package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kerhoff/wishlist/internal/api"
	"github.com/Kerhoff/wishlist/internal/auth"
	"github.com/Kerhoff/wishlist/internal/config"
	"github.com/Kerhoff/wishlist/internal/metrics"
	"github.com/Kerhoff/wishlist/internal/preview"
	"github.com/Kerhoff/wishlist/internal/realtime"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/Kerhoff/wishlist/internal/repository/memory"
	"github.com/Kerhoff/wishlist/internal/repository/postgres"
	"github.com/Kerhoff/wishlist/internal/service"
	"github.com/Kerhoff/wishlist/internal/telemetry"
	"github.com/Kerhoff/wishlist/pkg/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP API, realtime hub and background workers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// stores bundles the repository implementations chosen by STORE.
type stores struct {
	wishlists repository.WishlistRepository
	ledger    repository.Ledger
	events    repository.EventLog
	sessions  repository.SessionRepository
	close     func() error
}

func openStores(cfg *config.Config, l *logrus.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		l.Warn("Using in-memory store; data is lost on restart")
		st := memory.New(memory.WithLockTimeout(cfg.LockTimeout))
		return &stores{st, st, st, st, func() error { return nil }}, nil
	}

	db, err := config.NewDatabase(cfg.DatabaseURL, l)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	st := postgres.NewStore(db.DB, cfg.LockTimeout)
	return &stores{st, st, st, st, db.Close}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	l := logger.New(cfg.LogLevel, cfg.LogFormat)
	l.Infof("Starting wishlistd %s...", version)

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.TracingEndpoint, version, l)
	if err != nil {
		return err
	}

	st, err := openStores(cfg, l)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := realtime.NewHub(st.events, l, realtime.WithMetrics(m))
	fetcher := preview.NewFetcher(
		preview.WithCacheTTL(cfg.LinkPreviewCacheTTL),
		preview.WithRateLimit(cfg.LinkPreviewRPS),
	)

	// Service layer
	svc := service.New(l, st.wishlists, st.ledger, st.events, st.sessions,
		service.WithPublisher(hub),
		service.WithPreviewer(fetcher),
		service.WithMetrics(m),
		service.WithGuestTTL(cfg.GuestTokenTTL),
		service.WithLockRetries(cfg.LockRetries),
	)
	tokens := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.GuestTokenTTL)

	apiServer := api.NewServer(svc, tokens, hub, l)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.PrometheusPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Infof("HTTP server listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		l.Infof("Metrics server listening on :%s", cfg.PrometheusPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc.StartSessionSweeper(gctx, cfg.SessionSweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info("Received shutdown signal...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var result *multierror.Error
		// Hijacked WebSocket connections are not tracked by Shutdown, so the
		// hub is closed first.
		if err := hub.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close realtime hub: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to shut down HTTP server: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to shut down metrics server: %w", err))
		}
		return result.ErrorOrNil()
	})

	l.Info("wishlistd started successfully")

	err = g.Wait()
	if closeErr := st.close(); closeErr != nil {
		err = multierror.Append(err, fmt.Errorf("failed to close store: %w", closeErr))
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if traceErr := shutdownTracing(flushCtx); traceErr != nil {
		err = multierror.Append(err, fmt.Errorf("failed to flush traces: %w", traceErr))
	}
	if err != nil {
		return err
	}

	l.Info("wishlistd stopped")
	return nil
}
