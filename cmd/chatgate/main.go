package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mittyparmar/chatgate/internal/analytics"
	"github.com/mittyparmar/chatgate/internal/api"
	"github.com/mittyparmar/chatgate/internal/config"
	"github.com/mittyparmar/chatgate/internal/proxy"
	"github.com/mittyparmar/chatgate/internal/ratelimit"
	"github.com/mittyparmar/chatgate/internal/store"
)

func main() {
	fmt.Println("chatgate - Starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.SetLogLoggerLevel(logLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, err := store.NewMemoryStore(cfg.RateLimitWindow, cfg.RateLimitRequests)
	if err != nil {
		log.Fatalf("failed to initialize local store: %v", err)
	}

	opts := []store.SelectorOption{store.WithCallTimeout(cfg.StoreTimeout)}
	if cfg.RedisAddr != "" {
		redisCfg := store.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		opts = append(opts, store.WithDialer(func(ctx context.Context) (*store.RedisStore, error) {
			return store.NewRedisStore(ctx, redisCfg, cfg.RateLimitWindow, cfg.RateLimitRequests)
		}))
	}

	selector := store.NewSelector(local, opts...)
	defer func() {
		if closeErr := selector.Close(); closeErr != nil {
			log.Printf("failed to close counter store: %v", closeErr)
		}
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := selector.Connect(connectCtx); err != nil {
		slog.Warn("distributed store unavailable, continuing on local store", "error", err)
	}
	connectCancel()

	broker := api.NewStatsStreamBroker(64)

	var eventLogger *analytics.Logger
	var statsProvider api.StatsProvider
	if cfg.DatabaseURL != "" {
		db, dbErr := sql.Open("postgres", cfg.DatabaseURL)
		if dbErr != nil {
			log.Fatalf("failed to open analytics database: %v", dbErr)
		}
		defer db.Close()

		eventLogger, err = analytics.New(analytics.Config{DB: db})
		if err != nil {
			log.Fatalf("failed to initialize analytics logger: %v", err)
		}

		queries, queryErr := analytics.NewQueryService(db)
		if queryErr != nil {
			log.Fatalf("failed to initialize analytics queries: %v", queryErr)
		}
		statsProvider = queries
	} else {
		slog.Warn("DATABASE_URL not set, analytics persistence disabled")
	}

	sink := func(event ratelimit.Event) {
		broker.Publish(api.StatsStreamEvent{
			Timestamp: event.Timestamp,
			ClientID:  event.ClientID,
			Method:    event.Method,
			Path:      event.Path,
			Allowed:   event.Allowed,
			Limit:     event.Limit,
			Remaining: event.Remaining,
			Status:    event.Status,
		})

		if eventLogger != nil {
			eventLogger.Log(analytics.Event{
				Timestamp: event.Timestamp,
				ClientID:  event.ClientID,
				Method:    event.Method,
				Path:      event.Path,
				Allowed:   event.Allowed,
				Limit:     event.Limit,
				Remaining: event.Remaining,
				Status:    event.Status,
				Backend:   selector.Backend(),
			})
		}
	}

	keyFunc := ratelimit.ClientIPKey(cfg.TrustProxy)
	if cfg.RateLimitKeyStrategy == config.KeyStrategyIPPath {
		keyFunc = ratelimit.IPPathKey(cfg.TrustProxy)
	}

	limiter, err := ratelimit.New(selector, ratelimit.Config{
		Window:          cfg.RateLimitWindow,
		MaxRequests:     cfg.RateLimitRequests,
		KeyFunc:         keyFunc,
		SkipSuccessful:  cfg.RateLimitSkipSuccessful,
		SkipFailed:      cfg.RateLimitSkipFailed,
		StrictAdmission: cfg.RateLimitStrict,
	}, ratelimit.WithEventSink(sink))
	if err != nil {
		log.Fatalf("failed to initialize rate limiter: %v", err)
	}

	gatewayProxy, err := proxy.New([]proxy.Route{
		{Prefix: "/api/chat", Target: cfg.ChatServiceURL},
		{Prefix: "/api/auth", Target: cfg.AuthServiceURL},
	})
	if err != nil {
		log.Fatalf("failed to initialize gateway proxy: %v", err)
	}

	guard := api.NewAdminGuard(10, 20)
	guard.StartJanitor(ctx)

	statsHandler := api.RequireAdminToken(cfg.AdminAPIToken,
		guard.Middleware(api.NewStatsHandler(statsProvider)))
	streamHandler := api.RequireAdminToken(cfg.AdminAPIToken,
		api.NewStatsStreamHandler(broker))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(selector))
	mux.Handle("/api/stats/stream", streamHandler)
	mux.Handle("/api/stats", statsHandler)
	mux.Handle("/api/stats/", statsHandler)
	mux.Handle("/", limiter.Middleware(gatewayProxy))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("chatgate listening", "addr", server.Addr, "backend", selector.Backend())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down chatgate")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if eventLogger != nil {
		if err := eventLogger.Close(shutdownCtx); err != nil {
			log.Printf("analytics logger shutdown error: %v", err)
		}
	}
}

func healthHandler(selector *store.Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		payload := fmt.Sprintf(`{"status":"ok","service":"chatgate","backend":%q}`, selector.Backend())
		if _, err := w.Write([]byte(payload + "\n")); err != nil {
			log.Printf("failed to write response: %v", err)
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
