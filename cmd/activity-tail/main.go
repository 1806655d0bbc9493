// Command activity-tail prints board activity published by the relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"board-relay/internal/models"
	"board-relay/internal/redis"
)

func main() {
	os.Exit(run())
}

func run() int {
	redisURL := flag.String("redis", envOr("REDIS_URL", "redis://localhost:6379"), "redis url")
	boardId := flag.String("board", "*", "board id to follow, * for all")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := redis.NewClient(ctx, *redisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		return 1
	}
	defer client.Close()

	err = redis.SubscribeActivity(ctx, client, redis.ActivityChannel(*boardId), func(e models.ActivityEvent) {
		fmt.Printf("%d %s %s %v\n", e.Timestamp, e.BoardId, e.Type, e.Data)
	})
	if err != nil {
		slog.Error("Subscription failed", "error", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
