package reviewhub

import (
	"context"
	"encoding/json"

	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
)

// StartPubSubListener starts a goroutine that forwards events from Redis
// into BroadcastCh until ctx is cancelled.
func (m *ManagerService) StartPubSubListener(ctx context.Context) {
	go func() {
		pubsub := m.source.SubscribeEvents(ctx)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Payload)
				if err != nil {
					logger.Warn("failed to decode review event", "error", err)
					continue
				}
				select {
				case m.BroadcastCh <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func decodeEvent(payload string) (models.ReviewEvent, error) {
	var event models.ReviewEvent
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
