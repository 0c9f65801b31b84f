package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/auth"
	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	httphandler "github.com/kjstillabower/weather-dashboard/internal/http"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/scheduler"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/store"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		weatherClient.SetCircuitBreaker(client.NewCircuitBreaker("weather_api", cfg.CircuitBreakerFailures, cfg.CircuitBreakerTimeout))
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailures), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var (
		currentCache  cache.Cache[models.CurrentSnapshot]
		forecastCache cache.Cache[models.ForecastBundle]
		mc            *memcache.Client
	)
	switch cfg.CacheBackend {
	case "memcached":
		mc = cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		currentCache = cache.NewMemcachedCache[models.CurrentSnapshot](mc, cfg.CacheTTL)
		forecastCache = cache.NewMemcachedCache[models.ForecastBundle](mc, cfg.CacheTTL)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		currentCache = cache.NewInMemoryCache[models.CurrentSnapshot](cfg.CacheTTL)
		forecastCache = cache.NewInMemoryCache[models.ForecastBundle](cfg.CacheTTL)
		logger.Info("cache backend: in_memory", zap.Duration("ttl", cfg.CacheTTL))
	}
	weatherService := service.NewWeatherService(weatherClient, currentCache, forecastCache, service.Options{
		Location: cfg.ForecastLocation,
		Coalesce: cfg.CoalesceEnabled,
	})

	kv, err := store.NewFileKV(cfg.DataDir)
	if err != nil {
		logger.Fatal("state directory", zap.Error(err), zap.String("dir", cfg.DataDir))
	}
	state := store.NewState(kv, logger)
	logger.Info("state loaded", zap.String("dir", cfg.DataDir), zap.Int("favorites", len(state.Favorites())), zap.String("unit", string(state.Unit())))

	dashboardCities := func() []models.City {
		if favs := state.Favorites(); len(favs) > 0 {
			return favs
		}
		return store.DefaultCities()
	}
	warmer := cache.NewCacheWarmer(service.NewCityRefresher(weatherService, state), logger)
	if cfg.WarmOnStartup {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.RefreshTimeout)
		if err := warmer.Warm(warmCtx, dashboardCities()); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}
	refresh := scheduler.New(cfg.RefreshInterval, cfg.RefreshTimeout, warmer, dashboardCities, logger)
	if err := refresh.Start(); err != nil {
		logger.Fatal("refresh scheduler", zap.Error(err))
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()
	tracker := traffic.NewTracker()
	recovery := traffic.NewRecovery(tracker, weatherClient.ValidateAPIKey, cfg.DegradedRetryInitial, cfg.DegradedRetryMax, logger)
	recovery.Start(appCtx)

	opts := httphandler.Options{
		IconHost: cfg.IconHost,
		Health: &httphandler.HealthConfig{
			DegradedWindow:       cfg.DegradedWindow,
			DegradedErrorPct:     cfg.DegradedErrorPct,
			OverloadWindow:       cfg.OverloadWindow,
			OverloadThresholdPct: cfg.OverloadThresholdPct,
			RateLimitRPS:         cfg.RateLimitRPS,
			OnDegraded:           recovery.Notify,
		},
		Sessions:      auth.NewSessions(auth.DefaultSessionTTL),
		SecureCookies: strings.HasPrefix(cfg.Auth.RedirectURL, "https://"),
	}
	if mc != nil {
		opts.Health.CachePing = mc.Ping
	}
	if cfg.Auth.Enabled {
		discoverCtx, discoverCancel := context.WithTimeout(context.Background(), cfg.WeatherAPITimeout)
		authenticator, err := auth.New(discoverCtx, cfg.Auth)
		discoverCancel()
		if err != nil {
			logger.Fatal("identity provider", zap.Error(err))
		}
		opts.Auth = authenticator
		logger.Info("sign-in enabled", zap.String("issuer", cfg.Auth.IssuerURL))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, state, weatherClient, tracker, logger, opts)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	refresh.Stop()
	appCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if mc != nil {
		if err := mc.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
