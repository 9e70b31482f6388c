// fraudsvc - real-time transactional fraud scoring service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/api"
	"github.com/fraudsvc/fraudsvc/internal/assembler"
	"github.com/fraudsvc/fraudsvc/internal/bus"
	"github.com/fraudsvc/fraudsvc/internal/cache"
	"github.com/fraudsvc/fraudsvc/internal/consortium"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/hasher"
	"github.com/fraudsvc/fraudsvc/internal/learning"
	"github.com/fraudsvc/fraudsvc/internal/ml"
	"github.com/fraudsvc/fraudsvc/internal/policy"
	"github.com/fraudsvc/fraudsvc/internal/ratelimit"
	"github.com/fraudsvc/fraudsvc/internal/repository"
	"github.com/fraudsvc/fraudsvc/internal/rules"
	"github.com/fraudsvc/fraudsvc/internal/velocity"
	"github.com/fraudsvc/fraudsvc/internal/webhook"
	"github.com/fraudsvc/fraudsvc/internal/worker"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("FRAUDSVC_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting fraudsvc", "version", Version, "commit", Commit, "build_date", BuildDate)

	cfg := domain.DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("FRAUDSVC_TIER"))) {
	case "", "community":
	case "pro":
		cfg = domain.ProConfig()
		slog.Info("running in pro tier mode")
	default:
		slog.Warn("unsupported FRAUDSVC_TIER value; falling back to community tier", "value", os.Getenv("FRAUDSVC_TIER"))
	}
	applyEnvOverrides(cfg)

	if cfg.SecretKey == "" {
		slog.Error("SECRET_KEY is required")
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ml_enabled", cfg.MLEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	h, err := hasher.New(cfg.SecretKey)
	if err != nil {
		slog.Error("failed to initialize hasher", "error", err)
		os.Exit(1)
	}

	velocitySvc := velocity.New(cacheImpl, func() float64 { return float64(time.Now().UnixNano()) / 1e9 })
	consortiumSvc := consortium.New(repo, time.Now)
	go consortiumSvc.RunAgeOut(ctx, time.Hour, time.Duration(cfg.ConsortiumRetentionDays)*24*time.Hour)
	asmCfg := assembler.DefaultConfig()
	asmCfg.ImpossibleTravelSpeedKMH = cfg.ImpossibleTravelKMH
	asm := assembler.New(h, velocitySvc, consortiumSvc, cacheImpl, asmCfg)

	registry, err := rules.NewRegistry(0)
	if err != nil {
		slog.Error("failed to build rule registry", "error", err)
		os.Exit(1)
	}
	slog.Info("rule registry initialized", "rules_count", registry.Count())

	customEngine, err := rules.NewCustomRuleEngine()
	if err != nil {
		slog.Error("failed to build custom rule engine", "error", err)
		os.Exit(1)
	}
	if defs, err := repo.ListCustomRules(ctx); err != nil {
		slog.Warn("failed to load custom rules; continuing with the built-in catalogue only", "error", err)
	} else if err := customEngine.ReloadRules(defs); err != nil {
		slog.Warn("failed to compile stored custom rules; continuing with the built-in catalogue only", "error", err)
	} else if len(defs) > 0 {
		slog.Info("custom rules loaded", "count", len(defs))
	}

	policyStore := policy.NewStore(cfg.VerticalThresholds)
	if err := loadLearnedWeights(ctx, repo, policyStore); err != nil {
		slog.Warn("failed to preload learned rule weights; starting with defaults", "error", err)
	}

	var mlAdapter ml.Adapter = ml.NullAdapter{}
	if cfg.MLEnabled && cfg.MLEndpoint != "" {
		mlAdapter = ml.NewHTTPAdapter(cfg.MLEndpoint, time.Duration(cfg.MLTimeoutMS)*time.Millisecond)
		slog.Info("ml adapter enabled", "endpoint", cfg.MLEndpoint)
	}

	learningProcessor := learning.New(repo, registry, policyStore)
	limiter := ratelimit.New(cacheImpl, cfg.RateLimitTiers)

	handlerCfg := api.DefaultConfig()
	handlerCfg.MLTimeout = time.Duration(cfg.MLTimeoutMS) * time.Millisecond
	handlerCfg.ResultTTL = time.Duration(cfg.CacheTTLSeconds) * time.Second

	handler := api.NewHandler(repo, cacheImpl, busImpl, h, asm, registry, customEngine, policyStore, mlAdapter, learningProcessor, limiter, handlerCfg)

	dispatcher := webhook.NewDispatcher(5 * time.Second)
	asyncWorker := worker.New(busImpl, repo, consortiumSvc, dispatcher)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudsvc is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudsvc shutdown complete")
}

// loadLearnedWeights seeds the policy store's weight overrides from every
// vertical's persisted rule-accuracy table, so a restart doesn't reset
// every learned multiplier back to 1.0.
func loadLearnedWeights(ctx context.Context, repo domain.Repository, store *policy.Store) error {
	for _, v := range domain.AllVerticals {
		accs, err := repo.ListRuleAccuracy(ctx, v)
		if err != nil {
			return err
		}
		for _, acc := range accs {
			store.SetRuleWeight(v, acc.RuleName, acc.WeightMultiplier)
		}
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  fraudsvc - real-time transactional fraud scoring")
	fmt.Printf("  version: %s   tier: %s\n", version, cfg.Tier)
	fmt.Printf("  listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  endpoints:")
	fmt.Println("    POST /api/v1/fraud/check")
	fmt.Println("    POST /api/v1/fraud/check/batch")
	fmt.Println("    POST /api/v1/feedback")
	fmt.Println("    GET  /api/v1/verticals")
	fmt.Println("    GET  /api/v1/verticals/{vertical}/config")
	fmt.Println("    GET  /health")
	fmt.Println()
}

func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}

	if driver := os.Getenv("FRAUDSVC_DB_DRIVER"); driver != "" {
		cfg.Repository.Driver = driver
	}
	if url := os.Getenv("DB_URL"); url != "" {
		applyDBURL(cfg, url)
	}
	if host := os.Getenv("FRAUDSVC_POSTGRES_HOST"); host != "" {
		cfg.Repository.PostgresHost = host
	}
	if port := os.Getenv("FRAUDSVC_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Repository.PostgresPort = p
		}
	}
	if user := os.Getenv("FRAUDSVC_POSTGRES_USER"); user != "" {
		cfg.Repository.PostgresUser = user
	}
	if password := os.Getenv("FRAUDSVC_POSTGRES_PASSWORD"); password != "" {
		cfg.Repository.PostgresPassword = password
	}
	if db := os.Getenv("FRAUDSVC_POSTGRES_DB"); db != "" {
		cfg.Repository.PostgresDB = db
	}
	if sslMode := os.Getenv("FRAUDSVC_POSTGRES_SSLMODE"); sslMode != "" {
		cfg.Repository.PostgresSSLMode = sslMode
	}

	if cacheType := os.Getenv("FRAUDSVC_CACHE_TYPE"); cacheType != "" {
		cfg.Cache.Type = cacheType
	}
	if url := os.Getenv("CACHE_URL"); url != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = url
	}
	if addr := os.Getenv("FRAUDSVC_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("FRAUDSVC_REDIS_PASSWORD"); password != "" {
		cfg.Cache.RedisPassword = password
	}
	if db := os.Getenv("FRAUDSVC_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = d
		}
	}

	if busType := os.Getenv("FRAUDSVC_BUS_TYPE"); busType != "" {
		cfg.EventBus.Type = busType
	}
	if url := os.Getenv("FRAUDSVC_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
	}

	if port := os.Getenv("FRAUDSVC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("FRAUDSVC_HOST"); host != "" {
		cfg.Server.Host = host
	}

	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("ML_ENABLED"); v != "" {
		cfg.MLEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ML_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MLTimeoutMS = n
		}
	}
	if v := os.Getenv("ML_ENDPOINT"); v != "" {
		cfg.MLEndpoint = v
	}
	if v := os.Getenv("IMPOSSIBLE_TRAVEL_SPEED_KMH"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ImpossibleTravelKMH = n
		}
	}
	if v := os.Getenv("CONSORTIUM_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConsortiumRetentionDays = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_TIERS"); v != "" {
		applyRateLimitTiers(cfg, v)
	}
	if v := os.Getenv("VERTICAL_THRESHOLDS"); v != "" {
		applyVerticalThresholds(cfg, v)
	}
}

// applyDBURL interprets DB_URL's scheme to pick the driver; detailed
// connection parameters still come from the driver-specific
// FRAUDSVC_POSTGRES_* variables or the sqlite file path convention.
func applyDBURL(cfg *domain.Config, url string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		cfg.Repository.Driver = "postgres"
	case strings.HasPrefix(url, "sqlite://"):
		cfg.Repository.Driver = "sqlite"
		cfg.Repository.SQLitePath = strings.TrimPrefix(url, "sqlite://")
	}
}

// applyRateLimitTiers parses a "bronze=100,silver=1000,gold=10000" style
// value into the per-tier budget map.
func applyRateLimitTiers(cfg *domain.Config, raw string) {
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		limit, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		cfg.RateLimitTiers[domain.ClientTier(strings.TrimSpace(kv[0]))] = limit
	}
}

// applyVerticalThresholds parses a "lending=65,fintech=60,..." style
// value into the per-vertical threshold map.
func applyVerticalThresholds(cfg *domain.Config, raw string) {
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		cfg.VerticalThresholds[domain.Vertical(strings.TrimSpace(kv[0]))] = threshold
	}
}
