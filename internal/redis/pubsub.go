package redis

import (
	"context"
	"log/slog"

	"board-relay/internal/models"

	"github.com/goccy/go-json"
)

// SubscribeActivity streams activity events from every channel matching
// pattern (for example "board:*:activity") to handle until ctx is done.
func SubscribeActivity(ctx context.Context, client *Client, pattern string, handle func(models.ActivityEvent)) error {
	slog.Info("[REDIS] Starting activity subscription", "pattern", pattern)

	pubsub := client.rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Error("[REDIS] Failed to receive subscription confirmation", "error", err)
		return err
	}

	slog.Info("[REDIS] Subscription confirmed, listening for activity...")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				slog.Info("[REDIS] Redis pub/sub channel closed")
				return nil
			}

			var event models.ActivityEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Error("[REDIS] Error unmarshaling event", "channel", msg.Channel, "error", err, "payload", msg.Payload)
				continue
			}
			handle(event)
		}
	}
}
