package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .env é conveniência de desenvolvimento; em produção as variáveis vêm
	// do ambiente e a ausência do arquivo não é erro
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store domain.CounterStore
	var rdb *redis.Client
	switch cfg.storeKind {
	case "memory":
		ms, err := infra.NewMemoryStore(cfg.rateStrategy, cfg.rateMax, cfg.rateWindow)
		if err != nil {
			log.Fatalf("memory store error: %v", err)
		}
		ms.StartJanitor(ctx)
		store = ms
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}

		store, err = infra.NewRedisStore(rdb, cfg.rateStrategy, cfg.rateMax, cfg.rateWindow)
		if err != nil {
			log.Fatalf("redis store error: %v", err)
		}
	default:
		log.Fatalf("unknown STORE %q (use memory or redis)", cfg.storeKind)
	}

	debugMux := http.NewServeMux()
	var statsStore domain.StatsStore
	switch cfg.statsKind {
	case "off":
	case "memory":
		mem := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
		statsStore = mem
		debugMux.HandleFunc("/debug/admission/stats", func(w http.ResponseWriter, r *http.Request) {
			out := map[string]any{
				"total":   mem.Total(),
				"byRoute": mem.ByRoute(),
			}
			if cfg.statsTrackKeys {
				out["byKey"] = mem.ByKey()
			}
			body, err := sonic.Marshal(out)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
		})
	case "redis":
		if rdb == nil {
			log.Fatalf("STATS=redis requires STORE=redis (shared client)")
		}
		statsStore = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		)
	case "prometheus":
		reg := prometheus.NewRegistry()
		statsStore = infra.NewPromStatsStore(reg)
		debugMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	default:
		log.Fatalf("unknown STATS %q (use off, memory, redis or prometheus)", cfg.statsKind)
	}

	lim, err := admission.New(admission.Options{
		Max:                cfg.rateMax,
		Window:             cfg.rateWindow,
		Strategy:           cfg.rateStrategy,
		Message:            cfg.rateMessage,
		Store:              store,
		Stats:              statsStore,
		KeyHeader:          cfg.rateKeyHeader,
		TrustXForwardedFor: cfg.trustXFF,
		DisableHeaders:     cfg.disableHeaders,
		LegacyHeaders:      cfg.legacyHeaders,
		SkipSuccessful:     cfg.skipSuccessful,
		SkipFailed:         cfg.skipFailed,
		StoreTimeout:       cfg.storeTimeout,
		Logger:             logger,
	})
	if err != nil {
		log.Fatalf("admission config error: %v", err)
	}

	h := http.Handler(proxy)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:                cfg.concurrencyMax,
		MaxPerKey:          cfg.concurrencyMaxPerKey,
		TrustXForwardedFor: cfg.trustXFF,
		AcquireTimeout:     cfg.concurrencyTimeout,
	})(h)
	if cfg.rateEnabled {
		h = lim.Middleware()(h)
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	var debugSrv *http.Server
	if cfg.debugAddr != "" {
		debugSrv = &http.Server{
			Addr:              cfg.debugAddr,
			Handler:           debugMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("debug server error: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if debugSrv != nil {
			_ = debugSrv.Shutdown(shutdownCtx)
		}
	}()

	log.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("rate: enabled=%v strategy=%s max=%d window=%s store=%s keyHeader=%q trustXFF=%v", cfg.rateEnabled, cfg.rateStrategy, cfg.rateMax, cfg.rateWindow, cfg.storeKind, cfg.rateKeyHeader, cfg.trustXFF)
	log.Printf("stats: kind=%s trackKeys=%v debugAddr=%q", cfg.statsKind, cfg.statsTrackKeys, cfg.debugAddr)
	log.Printf("concurrency: max=%d maxPerKey=%d acquireTimeout=%s", cfg.concurrencyMax, cfg.concurrencyMaxPerKey, cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr  string
	debugAddr   string
	upstreamURL string

	rateEnabled   bool
	rateStrategy  domain.Strategy
	rateMax       int
	rateWindow    time.Duration
	rateMessage   string
	rateKeyHeader string
	trustXFF      bool

	disableHeaders bool
	legacyHeaders  bool
	skipSuccessful bool
	skipFailed     bool

	storeKind     string
	storeTimeout  time.Duration
	redisAddr     string
	redisPassword string
	redisDB       int

	concurrencyMax       int
	concurrencyMaxPerKey int
	concurrencyTimeout   time.Duration

	statsKind      string
	statsPrefix    string
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.debugAddr = os.Getenv("DEBUG_ADDR")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateStrategy = domain.Strategy(getenvDefault("RATE_STRATEGY", string(domain.SlidingWindow)))
	cfg.rateMax = getenvIntDefault("RATE_MAX", 100)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", 15*time.Minute)
	cfg.rateMessage = os.Getenv("RATE_MESSAGE")
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.disableHeaders = getenvBoolDefault("DISABLE_RATELIMIT_HEADERS", false)
	cfg.legacyHeaders = getenvBoolDefault("LEGACY_RATELIMIT_HEADERS", false)
	cfg.skipSuccessful = getenvBoolDefault("SKIP_SUCCESSFUL", false)
	cfg.skipFailed = getenvBoolDefault("SKIP_FAILED", false)

	cfg.storeKind = getenvDefault("STORE", "memory")
	cfg.storeTimeout = getenvDurationDefault("STORE_TIMEOUT", 0)
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyMaxPerKey = getenvIntDefault("CONCURRENCY_MAX_PER_KEY", 0)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.statsKind = getenvDefault("STATS", "off")
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "admission:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if !cfg.rateStrategy.Valid() {
		return config{}, errors.New("unknown RATE_STRATEGY " + string(cfg.rateStrategy))
	}
	if cfg.rateMax <= 0 {
		return config{}, errors.New("RATE_MAX must be > 0")
	}
	if cfg.rateWindow <= 0 {
		return config{}, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.storeKind == "redis" && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when STORE=redis")
	}
	if cfg.concurrencyMax < 0 || cfg.concurrencyMaxPerKey < 0 {
		return config{}, errors.New("CONCURRENCY_MAX and CONCURRENCY_MAX_PER_KEY must be >= 0")
	}
	if cfg.statsKind != "off" && cfg.debugAddr == "" && cfg.statsKind != "redis" {
		return config{}, errors.New("DEBUG_ADDR is required when STATS=" + cfg.statsKind)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
