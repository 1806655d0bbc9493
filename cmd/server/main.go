package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"board-relay/internal/auth"
	"board-relay/internal/board"
	"board-relay/internal/config"
	"board-relay/internal/redis"
	"board-relay/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := newResolver(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize auth", "mode", cfg.AuthMode, "error", err)
		os.Exit(1)
	}

	// Activity feed is optional
	var publisher board.Publisher = redis.NopPublisher{}
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to initialize Redis", "error", err)
			os.Exit(1)
		}
		publisher = redisClient
	}

	hub := ws.NewHub(ws.HubOptions{
		HistoryLimit:    cfg.HistoryLimit,
		Publisher:       publisher,
		BoardIdleTTL:    cfg.BoardIdleTTL,
		JanitorInterval: cfg.JanitorInterval,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.ServeWS(hub, resolver, ws.ServeOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
	}))
	mux.HandleFunc("/health", ws.HealthHandler)
	mux.HandleFunc("/stats", ws.StatsHandler(hub))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Board relay starting", "port", cfg.Port, "auth", cfg.AuthMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
			"hub": func(ctx context.Context) error {
				cancel()
				select {
				case <-hubDone:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			"redis": func(ctx context.Context) error {
				if redisClient == nil {
					return nil
				}
				return redisClient.Close()
			},
		},
	)

	exitCode := <-wait
	slog.Info("Board relay exited", "code", exitCode)
	os.Exit(exitCode)
}

func newResolver(ctx context.Context, cfg *config.Config) (auth.Resolver, error) {
	switch cfg.AuthMode {
	case config.AuthSecret:
		return auth.NewSecretResolver(cfg.JWTSecret, cfg.JWTIssuer)
	case config.AuthJWKS:
		resolver, err := auth.NewJWKSResolver(ctx, cfg.JWKSIssuerURL, nil)
		if err != nil {
			return nil, err
		}
		go resolver.Run(ctx)
		return resolver, nil
	default:
		return auth.QueryResolver{}, nil
	}
}
