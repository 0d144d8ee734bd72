package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdko-org/dashboard-proxy/internal/cache"
	"github.com/sdko-org/dashboard-proxy/internal/config"
	"github.com/sdko-org/dashboard-proxy/internal/database"
	"github.com/sdko-org/dashboard-proxy/internal/grafana"
	"github.com/sdko-org/dashboard-proxy/internal/handlers"
	httpserver "github.com/sdko-org/dashboard-proxy/internal/http"
	"github.com/sdko-org/dashboard-proxy/internal/promapi"
	"github.com/sdko-org/dashboard-proxy/internal/ratelimit"
	"github.com/sdko-org/dashboard-proxy/internal/resolver"
	"github.com/sdko-org/dashboard-proxy/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	janitorInterval = time.Minute
	purgeInterval   = 5 * time.Minute
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg := config.Load()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.GrafanaToken == "" {
		logger.Warn("GRAFANA_TOKEN not set; snapshot creation is disabled and dashboard calls are anonymous")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.DatabaseEnabled() {
		db, err = database.NewPostgresDB(ctx, logger, database.NewPostgresConfig(cfg))
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize database")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var backend storage.Backend
	switch cfg.CacheBackend {
	case "redis":
		rb, err := storage.NewRedisBackend(logger, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to configure redis cache")
		}
		backend = rb
	case "s3":
		sb := storage.NewS3Backend(logger, cfg, db)
		purger := cache.NewCachePurger(logger, sb, purgeInterval)
		g.Go(func() error {
			purger.Start(gctx)
			return nil
		})
		backend = sb
	case "none", "":
		logger.Warn("Render cache disabled")
	default:
		logger.WithField("backend", cfg.CacheBackend).Fatal("Unknown CACHE_BACKEND")
	}

	gc := grafana.NewClient(logger, cfg)
	pc, err := promapi.NewClient(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure prometheus client")
	}

	rc := cache.New(logger, backend, cfg.CacheTTL)
	limiter := ratelimit.New(logger, map[ratelimit.Class]ratelimit.Policy{
		ratelimit.Render:   {Limit: cfg.RenderRateLimit, Window: cfg.RenderRateWindow},
		ratelimit.Snapshot: {Limit: cfg.SnapshotRateLimit, Window: cfg.SnapshotRateWindow},
	})
	g.Go(func() error {
		limiter.Start(gctx, janitorInterval)
		return nil
	})

	proxies, err := handlers.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.WithError(err).Fatal("Invalid TRUSTED_PROXIES")
	}

	h := handlers.NewHandler(logger, gc, pc, resolver.New(logger, gc, cfg.UpstreamTimeout), rc, limiter, db, proxies)
	srv, err := httpserver.New(logger, cfg.Port, cfg.TLSPort, handlers.NewRouter(logger, h, db, cfg.WebRoot))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	logger.WithFields(logrus.Fields{
		"grafana":     cfg.GrafanaURL,
		"prometheus":  cfg.PrometheusURL,
		"cache":       cfg.CacheBackend,
		"cache_ttl_s": int(rc.TTL().Seconds()),
	}).Info("Dashboard proxy configured")

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}

	shutdown(logger, rc, backend, db)
}

func shutdown(logger *logrus.Logger, rc *cache.RenderCache, backend storage.Backend, db *gorm.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rc.Wait(ctx); err != nil {
		logger.WithError(err).Warn("Pending cache writes abandoned")
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close cache backend")
		}
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logger.Info("Shutdown complete")
}
