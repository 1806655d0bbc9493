package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"board-relay/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

// ChannelPrefix namespaces every activity channel.
const ChannelPrefix = "board:"

// ActivityChannel is the pub/sub channel carrying a board's activity feed.
func ActivityChannel(boardId string) string {
	return ChannelPrefix + boardId + ":activity"
}

type Client struct {
	rdb *redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	slog.Info("[REDIS] Connected to Redis", "addr", opt.Addr)

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) PublishMessageCreated(ctx context.Context, boardId string, msg models.ChatMessage) error {
	return c.publishEvent(ctx, models.ActivityEvent{
		Type:      models.ActivityMessageCreated,
		BoardId:   boardId,
		Timestamp: time.Now().Unix(),
		Data:      msg,
	})
}

func (c *Client) PublishPresenceJoin(ctx context.Context, boardId string, p models.Participant) error {
	return c.publishEvent(ctx, models.ActivityEvent{
		Type:      models.ActivityPresenceJoin,
		BoardId:   boardId,
		Timestamp: time.Now().Unix(),
		Data:      p.Entry(),
	})
}

func (c *Client) PublishPresenceLeave(ctx context.Context, boardId string, p models.Participant) error {
	return c.publishEvent(ctx, models.ActivityEvent{
		Type:      models.ActivityPresenceLeave,
		BoardId:   boardId,
		Timestamp: time.Now().Unix(),
		Data:      p.Entry(),
	})
}

func (c *Client) publishEvent(ctx context.Context, event models.ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("[REDIS] Failed to marshal event", "type", event.Type, "board", event.BoardId, "error", err)
		return err
	}

	channel := ActivityChannel(event.BoardId)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Error("[REDIS] Failed to publish event", "type", event.Type, "channel", channel, "error", err)
		return err
	}

	return nil
}

// NopPublisher discards activity when no Redis is configured.
type NopPublisher struct{}

func (NopPublisher) PublishMessageCreated(context.Context, string, models.ChatMessage) error {
	return nil
}

func (NopPublisher) PublishPresenceJoin(context.Context, string, models.Participant) error {
	return nil
}

func (NopPublisher) PublishPresenceLeave(context.Context, string, models.Participant) error {
	return nil
}
