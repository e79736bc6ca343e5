package notify

import (
	"context"
	"encoding/json"
	"fmt"

	redisclient "github.com/orderlink/realtime-server-go/internal/redis"
)

// RedisSink publishes changes on notify:unread:<principalId>.
type RedisSink struct {
	redis *redisclient.Client
}

func NewRedisSink(client *redisclient.Client) *RedisSink {
	return &RedisSink{redis: client}
}

func (s *RedisSink) UnreadChanged(ctx context.Context, change UnreadChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := s.redis.Publish(ctx, redisclient.UnreadChannel(change.PrincipalID), data).Err(); err != nil {
		return fmt.Errorf("publish unread change: %w", err)
	}
	return nil
}
