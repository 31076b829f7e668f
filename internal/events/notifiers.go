package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cartino/internal/obs"
)

// LogNotifier writes every event to a structured logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	n.Logger.Info().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", event.Payload).
		Msg("domain event")
	return nil
}

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	R       *redis.Client
	Channel string
}

// Notify implements Notifier.
func (p RedisPublisher) Notify(ctx context.Context, event Event) error {
	if p.R == nil {
		return errors.New("events: redis client not configured")
	}
	channel := p.Channel
	if channel == "" {
		channel = "cartino:events"
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.R.Publish(ctx, channel, body).Err()
}

// MetricsNotifier counts events per topic.
type MetricsNotifier struct{}

// Notify implements Notifier.
func (MetricsNotifier) Notify(_ context.Context, event Event) error {
	if obs.CartEventsTotal != nil {
		obs.CartEventsTotal.WithLabelValues(event.Topic).Inc()
	}
	return nil
}
