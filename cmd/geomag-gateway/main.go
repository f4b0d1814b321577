package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/geomag-gateway/internal/api/http"
	"github.com/i474232898/geomag-gateway/internal/config"
	"github.com/i474232898/geomag-gateway/internal/geomag"
	"github.com/i474232898/geomag-gateway/internal/geomag/tilde"
	"github.com/i474232898/geomag-gateway/internal/metrics"
	"github.com/i474232898/geomag-gateway/internal/scheduler"
	"github.com/i474232898/geomag-gateway/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Shared HTTP client for outbound upstream calls; timeouts live in the client config.
	httpClient := &http.Client{}

	upstream := tilde.NewClient(httpClient, tilde.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		Timeout:        cfg.Upstream.Timeout,
		AttemptTimeout: cfg.Upstream.AttemptTimeout,
		MaxRetries:     cfg.Upstream.MaxRetries,
		InitialBackoff: cfg.Upstream.InitialBackoff,
		MaxBackoff:     cfg.Upstream.MaxBackoff,
	}, zlog, m)

	ttl := geomag.TTLPolicy{
		Latest:     cfg.Cache.TTLLatest,
		Historical: cfg.Cache.TTLHistorical,
		Negative:   cfg.Cache.NegativeTTL,
	}
	fetcher := geomag.NewFetcher(store.New[geomag.CachedSeries](cfg.Cache.MaxEntries, nil), upstream, ttl, zlog, m)
	batcher := geomag.NewBatcher(fetcher, geomag.BatchConfig{
		MaxItems:    cfg.Batch.MaxItems,
		Timeout:     cfg.Batch.Timeout,
		Concurrency: cfg.Batch.Concurrency,
	}, zlog, m)
	catalog := geomag.NewCatalog(store.New[geomag.DataSummary](0, nil), upstream, cfg.Cache.TTLHistorical, zlog, m)

	// Core service composing cache, upstream and batch orchestration.
	service := geomag.NewService(fetcher, batcher, catalog, zlog)

	// Scheduler that sweeps expired entries and keeps configured series warm.
	sched := scheduler.New(scheduler.Config{
		SweepInterval: cfg.Cache.SweepInterval,
		WarmInterval:  cfg.Warm.Interval,
		WarmKeys:      cfg.WarmKeys,
		WarmTimeout:   cfg.Batch.Timeout,
	}, service, zlog)
	if err := sched.Start(); err != nil {
		zlog.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "geomag-gateway",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.Batch.Timeout + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler(zlog),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.Server.WebOrigin}))
	app.Use(compress.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		st := fetcher.CacheStats()
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "geomag-gateway",
			"cache": fiber.Map{
				"size":           st.Size,
				"maxSize":        st.MaxSize,
				"hits":           st.Hits,
				"misses":         st.Misses,
				"evictions":      st.Evictions,
				"ttlLatest":      ttl.Latest.String(),
				"ttlHistorical":  ttl.Historical.String(),
				"negativeTTL":    ttl.Negative.String(),
				"upstreamTarget": cfg.Upstream.BaseURL,
			},
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API routes.
	httpapi.RegisterRoutes(app, service)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	go func() {
		zlog.Info("listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			zlog.Error("fiber server stopped", zap.Error(err))
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zlog.Error("error during shutdown", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
