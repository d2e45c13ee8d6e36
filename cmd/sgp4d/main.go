package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/star/sgp4d/internal/api"
	"github.com/star/sgp4d/internal/auth"
	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/metrics"
	"github.com/star/sgp4d/internal/pool"
	"github.com/star/sgp4d/internal/propagation"
	"github.com/star/sgp4d/internal/stream"
	"github.com/star/sgp4d/internal/tle"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	addr := os.Getenv("SGP4D_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	registry := geophys.DefaultRegistry()
	if err := loadModels(registry, logger); err != nil {
		logger.Error("invalid models file", "error", err)
		os.Exit(1)
	}

	if v := os.Getenv("SGP4D_BACKEND"); v != "" {
		if err := propagation.ForceBackend(v); err != nil {
			logger.Warn("invalid SGP4D_BACKEND value, using detected backend", "value", v, "error", err)
		}
	}
	backend := propagation.ActiveBackend()
	logger.Info("propagation backend", "name", backend.Name, "width", backend.Width)

	poolCfg := loadPoolConfig(logger)
	p := pool.New(poolCfg, nil, logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), poolCfg.InitTimeout+time.Second)
	err = p.Initialize(initCtx)
	cancelInit()
	if err != nil {
		logger.Error("execution pool failed to start", "error", err)
		os.Exit(1)
	}

	apiCfg := loadAPIConfig(logger)

	tleCfg := loadTLEConfig(logger)
	store := tle.NewStore()
	tleCache := tle.NewCache(tleCfg.CacheDir, tleCfg.MaxFiles)

	// Attempt to load cached TLE data on startup.
	if ds, err := tle.LoadCached(store, tleCache, logger); err != nil {
		logger.Info("no usable TLE cache, starting without catalog", "error", err)
	} else {
		logger.Info("loaded TLE data from cache", "count", len(ds.Satellites), "cached_at", ds.FetchedAt.Format(time.RFC3339))
	}

	streamCfg := loadStreamConfig(logger, apiCfg)
	streamHandler := stream.NewHandler(p, store, registry, streamCfg, logger)

	srv := api.NewServer(addr, logger, authCfg, apiCfg, p, registry, store, tleCfg, streamHandler)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if tleCfg.EnableFetch && store.Get() == nil {
		go func() {
			fetcher := tle.NewFetcher(tleCfg.SourceURL, logger, tleCfg.ExtraSourceURLs...)
			if _, err := tle.Refresh(ctx, fetcher, store, tleCache, logger); err != nil {
				logger.Warn("initial TLE fetch failed", "source", fetcher.SourceURL(), "error", err)
			}
		}()
	}

	// Background goroutine to update TLE dataset age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				age := store.AgeSeconds()
				if age >= 0 {
					metrics.SetCatalogAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"tle_fetch_enabled", tleCfg.EnableFetch,
			"pool_size", poolCfg.Size,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	p.Shutdown()

	logger.Info("server stopped")
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("SGP4D_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("SGP4D_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("SGP4D_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("SGP4D_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("SGP4D_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadModels(registry *geophys.Registry, logger *slog.Logger) error {
	path := os.Getenv("SGP4D_MODELS_FILE")
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := registry.LoadJSON(f)
	if err != nil {
		return err
	}
	logger.Info("loaded gravity models", "file", path, "count", n, "models", registry.Names())
	return nil
}

func loadPoolConfig(logger *slog.Logger) pool.Config {
	cfg := pool.Config{
		Size:        runtime.NumCPU(),
		InitTimeout: 10 * time.Second,
	}

	if v := os.Getenv("SGP4D_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_POOL_SIZE value, using default", "value", v, "default", cfg.Size)
		} else {
			cfg.Size = n
		}
	}

	if v := os.Getenv("SGP4D_POOL_INIT_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_POOL_INIT_TIMEOUT value, using default", "value", v, "default", 10)
		} else {
			cfg.InitTimeout = time.Duration(n) * time.Second
		}
	}

	logger.Info("pool config",
		"size", cfg.Size,
		"init_timeout_seconds", cfg.InitTimeout.Seconds(),
	)

	return cfg
}

func loadAPIConfig(logger *slog.Logger) api.Config {
	cfg := api.Config{
		MaxPoints:   100000,
		TaskTimeout: 30 * time.Second,
	}

	if v := os.Getenv("SGP4D_MAX_POINTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_MAX_POINTS value, using default", "value", v, "default", cfg.MaxPoints)
		} else {
			cfg.MaxPoints = n
		}
	}

	if v := os.Getenv("SGP4D_TASK_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_TASK_TIMEOUT value, using default", "value", v, "default", 30)
		} else {
			cfg.TaskTimeout = time.Duration(n) * time.Second
		}
	}

	logger.Info("api config",
		"max_points", cfg.MaxPoints,
		"task_timeout_seconds", cfg.TaskTimeout.Seconds(),
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger, apiCfg api.Config) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxTotal:           1000,
		KeepaliveInterval:  30 * time.Second,
		TaskTimeout:        apiCfg.TaskTimeout,
		MaxPoints:          apiCfg.MaxPoints,
	}

	if v := os.Getenv("SGP4D_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("SGP4D_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("SGP4D_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid SGP4D_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_total", cfg.MaxTotal,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

func loadTLEConfig(logger *slog.Logger) api.TLEConfig {
	cfg := api.TLEConfig{
		EnableFetch: true,
		CacheDir:    "/tmp/sgp4d/tle",
		MaxFiles:    5,
	}

	if v := os.Getenv("SGP4D_ENABLE_TLE_FETCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid SGP4D_ENABLE_TLE_FETCH value, defaulting to false", "value", v)
			cfg.EnableFetch = false
		} else {
			cfg.EnableFetch = enabled
		}
	}

	if v := os.Getenv("SGP4D_TLE_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}

	if v := os.Getenv("SGP4D_TLE_EXTRA_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
		cfg.ExtraSourceURLs = urls
	}

	if v := os.Getenv("SGP4D_TLE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}

	if v := os.Getenv("SGP4D_TLE_CACHE_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SGP4D_TLE_CACHE_FILES value, using default", "value", v, "default", cfg.MaxFiles)
		} else {
			cfg.MaxFiles = n
		}
	}

	logger.Info("TLE config",
		"source_url", cfg.SourceURL,
		"extra_urls", cfg.ExtraSourceURLs,
		"cache_dir", cfg.CacheDir,
	)

	return cfg
}
