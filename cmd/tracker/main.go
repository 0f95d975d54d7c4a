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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"transit-tracker/internal/api"
	"transit-tracker/internal/config"
	"transit-tracker/internal/db"
	"transit-tracker/internal/feed"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/planner"
	"transit-tracker/internal/publisher"
	"transit-tracker/internal/routes"
	"transit-tracker/internal/snap"
	"transit-tracker/internal/store"
	"transit-tracker/internal/tracker"
)

func main() {
	os.Exit(realMain())
}

// realMain runs the service and returns the process exit code.
func realMain() int {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log, err := logging.Named(cfg.AppEnv, "transit-tracker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("tracker stopped with error", zap.Error(err))
		return 1
	}
	log.Info("shutdown complete")
	return 0
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval)
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	log.Info("trace store ready", zap.String("backend", cfg.StoreBackend))

	catalog, err := planner.LoadCatalog(cfg.StopsPath)
	if err != nil {
		return err
	}
	log.Info("stop catalog loaded", zap.Int("stops", catalog.Len()), zap.String("path", cfg.StopsPath))

	var snapper routes.Snapper
	if snap.ProviderType(cfg.SnapProvider) != snap.ProviderNone {
		s, err := snap.New(snap.Config{
			Type:       snap.ProviderType(cfg.SnapProvider),
			BaseURL:    cfg.OSRMURL,
			APIKey:     cfg.GoogleAPIKey,
			Radius:     cfg.SnapRadius,
			RatePerSec: cfg.SnapRatePerSec,
			BatchSize:  cfg.SnapBatchSize,
			Timeout:    cfg.SnapTimeout,
			CacheSize:  cfg.SnapCacheSize,
			CacheTTL:   cfg.SnapCacheTTL,
			Logger:     log.Named("snap"),
		})
		if err != nil {
			return fmt.Errorf("snap provider: %w", err)
		}
		snapper = s
	}
	routeSvc := routes.NewService(st, snapper, routes.DefaultCleanerOptions(), log.Named("routes"), routeMetrics(mcol))

	ingestOpts := ingest.DefaultOptions()
	ingestOpts.MaxPoints = cfg.MaxTracePoints
	ing := ingest.New(st, ingestOpts, log.Named("ingest"))

	src, err := feed.New(feed.Config{
		Format:  feed.Format(cfg.FeedFormat),
		URL:     cfg.FeedURL,
		Timeout: cfg.FeedTimeout,
		NATSURL: cfg.NATSURL,
		Subject: cfg.NATSSubject,
		Logger:  log.Named("feed"),
	})
	if err != nil {
		return fmt.Errorf("feed source: %w", err)
	}
	if closer, ok := src.(interface{ Close() }); ok {
		defer closer.Close()
	}

	// Initialize NATS publisher
	var pub tracker.Publisher
	if cfg.NATSPublish {
		p, err := publisher.NewNATSPublisher(cfg.NATSURL, log.Named("nats"), publisherMetrics(mcol))
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p
	}

	mgr := tracker.NewManager(src, ing, pub, trackerMetrics(mcol), cfg.PollInterval, log.Named("tracker"))
	mgr.Start(ctx)
	defer mgr.Stop()

	server := api.NewServer(api.Deps{
		Store:   st,
		Routes:  routeSvc,
		Live:    mgr,
		Planner: planner.New(catalog, planner.DefaultOptions()),
		Metrics: planMetrics(mcol),
		Logger:  log.Named("http"),
	})
	if cfg.AppEnv != logging.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until context cancelled or the server fails
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced shutdown", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	dsn := cfg.DatabaseURL
	if cfg.StoreBackend == string(store.BackendPostgres) && cfg.StoreDBName != "" {
		var err error
		dsn, err = db.WithDBName(dsn, cfg.StoreDBName)
		if err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
	}
	st, err := store.Open(ctx, store.Config{
		Backend: store.Backend(cfg.StoreBackend),
		Path:    cfg.StorePath,
		DSN:     dsn,
	})
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	return st, nil
}

// The helpers below keep a nil collector from turning into a non-nil interface.

func routeMetrics(c *metrics.Collector) routes.ServiceMetrics {
	if c == nil {
		return nil
	}
	return c
}

func publisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

func trackerMetrics(c *metrics.Collector) tracker.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func planMetrics(c *metrics.Collector) api.PlanMetrics {
	if c == nil {
		return nil
	}
	return c
}
