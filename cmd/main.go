package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"modelgate/internal/catalog"
	"modelgate/internal/config"
	"modelgate/internal/engine"
	"modelgate/internal/handlers"
	"modelgate/internal/logging"
	"modelgate/internal/metrics"
	"modelgate/internal/middleware"
	"modelgate/internal/spend"
	"modelgate/internal/usage"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			// No .env is fine; environment variables still apply.
		}
	}

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	log.Info("starting modelgate", zap.String("version", version))

	configPath := envOr("GATEWAY_CONFIG", "providers.json")
	source, err := config.NewFileStore(configPath)
	if err != nil {
		log.Fatal("failed to load provider configuration",
			zap.String("path", configPath),
			zap.Error(err))
	}

	// Pricing fetch fails open: an unreachable feed leaves the catalog empty
	// and calls are billed at zero (flagged in logs and metrics).
	cat := catalog.New()
	if pricingURL := os.Getenv("PRICING_URL"); pricingURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), catalog.FetchTimeout)
		if err := cat.LoadFromURL(ctx, pricingURL); err != nil {
			log.Warn("price catalog fetch failed, running with empty catalog", zap.Error(err))
		}
		cancel()
	}

	var engineOpts []engine.Option
	var ledger *spend.Ledger
	if ledgerPath := os.Getenv("LEDGER_PATH"); ledgerPath != "" {
		l, err := spend.Open(ledgerPath)
		if err != nil {
			log.Warn("spend ledger unavailable", zap.Error(err))
		} else {
			ledger = l
			engineOpts = append(engineOpts, engine.WithLedger(ledger))
			log.Info("spend ledger enabled", zap.String("path", ledgerPath))
		}
	}

	eng := engine.New(source, cat, engineOpts...)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Limiter counters survive restarts via Redis when configured.
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		store, err := usage.NewRedisStore(redisAddr)
		if err != nil {
			log.Warn("redis unavailable, limiter counters will not persist", zap.Error(err))
		} else {
			if snaps, err := store.Load(rootCtx); err != nil {
				log.Warn("failed to load persisted usage counters", zap.Error(err))
			} else if len(snaps) > 0 {
				eng.Usage().Restore(snaps)
				log.Info("restored usage counters", zap.Int("counters", len(snaps)))
			}
			go store.Run(rootCtx, eng.Usage(), 30*time.Second)
			defer store.Close()
		}
	}

	// SIGHUP re-reads the provider file; the engine reconciles on the
	// source's update signal.
	go eng.Run(rootCtx)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := source.Reload(); err != nil {
				log.Error("configuration reload failed, keeping previous config", zap.Error(err))
				metrics.Get().RecordConfigReload(false, 0)
				continue
			}
			metrics.Get().RecordConfigReload(true, len(source.Providers()))
		}
	}()

	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())
	router.Use(metrics.PrometheusMiddleware())

	rpm := envInt("IP_RATE_LIMIT_PER_MINUTE", 1000)
	burst := envInt("IP_RATE_LIMIT_BURST", 50)
	router.Use(middleware.NewIPRateLimiter(rpm, burst).Middleware())

	handlers.NewGateway(eng, version).Register(router)
	if ledger != nil {
		handlers.NewSpendHandler(ledger).RegisterRoutes(router.Group("/v1"))
	}
	router.GET("/metrics", metrics.PrometheusHandler())

	port := envOr("PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		log.Fatal("http server failed", zap.Error(err))
	case <-rootCtx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
