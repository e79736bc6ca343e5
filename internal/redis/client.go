package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// UnreadKey holds a hash of orderId to unread count for one principal.
func UnreadKey(principalID string) string {
	return fmt.Sprintf("unread:%s", principalID)
}

// LocationKey holds the JSON-encoded last known sample of an order.
func LocationKey(orderID string) string {
	return fmt.Sprintf("location:%s", orderID)
}

func UnreadChannel(principalID string) string {
	return fmt.Sprintf("notify:unread:%s", principalID)
}

func ConnectRateLimitKey(principalID string) string {
	return fmt.Sprintf("ratelimit:connect:%s", principalID)
}
