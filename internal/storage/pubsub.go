package storage

import (
	"context"
	"encoding/json"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// PublishEvent broadcasts a review event on the Redis events channel.
func (s *Service) PublishEvent(ctx context.Context, event models.ReviewEvent) error {
	if s.Redis == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, config.EventsChannel, string(payload)).Err()
}

// SubscribeEvents subscribes to the review events channel.
func (s *Service) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return s.Redis.Subscribe(ctx, config.EventsChannel)
}
