package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderlink/realtime-server-go/internal/model"
	redisclient "github.com/orderlink/realtime-server-go/internal/redis"
)

type redisLocationStore struct {
	redis *redisclient.Client
	ttl   time.Duration
}

func NewRedisLocationStore(client *redisclient.Client, ttl time.Duration) LocationStore {
	return &redisLocationStore{redis: client, ttl: ttl}
}

func (s *redisLocationStore) Save(ctx context.Context, sample model.LocationSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, redisclient.LocationKey(sample.OrderID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	return nil
}

func (s *redisLocationStore) Find(ctx context.Context, orderID string) (*model.LocationSample, error) {
	data, err := s.redis.Get(ctx, redisclient.LocationKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find location: %w", err)
	}

	var sample model.LocationSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	return &sample, nil
}
