package repository

import (
	"context"
	"fmt"
	"strconv"

	redisclient "github.com/orderlink/realtime-server-go/internal/redis"
)

type redisUnreadCounter struct {
	redis *redisclient.Client
}

func NewRedisUnreadCounter(client *redisclient.Client) UnreadCounter {
	return &redisUnreadCounter{redis: client}
}

func (c *redisUnreadCounter) Increment(ctx context.Context, principalID, orderID string) (int64, error) {
	n, err := c.redis.HIncrBy(ctx, redisclient.UnreadKey(principalID), orderID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment unread: %w", err)
	}
	return n, nil
}

func (c *redisUnreadCounter) Set(ctx context.Context, principalID, orderID string, count int64) error {
	if err := c.redis.HSet(ctx, redisclient.UnreadKey(principalID), orderID, count).Err(); err != nil {
		return fmt.Errorf("set unread: %w", err)
	}
	return nil
}

func (c *redisUnreadCounter) All(ctx context.Context, principalID string) (map[string]int64, error) {
	raw, err := c.redis.HGetAll(ctx, redisclient.UnreadKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for orderID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[orderID] = n
	}
	return counts, nil
}
