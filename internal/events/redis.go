package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPublisher appends events to a Redis stream so other services can
// consume fill and review notifications without polling our API.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisPublisher connects to Redis and returns a publisher for stream.
func NewRedisPublisher(addr, stream string, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("redis-publisher-connected",
		zap.String("addr", addr),
		zap.String("stream", stream))

	return &RedisPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}, nil
}

// Publish appends the event to the stream. Failures are logged, never
// propagated; event delivery is best-effort.
func (r *RedisPublisher) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		r.logger.Error("event-marshal-failed",
			zap.String("type", event.Type),
			zap.Error(err))
		return
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"id":        event.ID,
			"type":      event.Type,
			"timestamp": event.Timestamp.Format(time.RFC3339),
			"data":      string(data),
		},
	}).Err()
	if err != nil {
		PublishErrorsTotal.Inc()
		r.logger.Error("event-publish-failed",
			zap.String("type", event.Type),
			zap.Error(err))
		return
	}

	PublishedTotal.Inc()
	r.logger.Debug("event-published",
		zap.String("stream", r.stream),
		zap.String("type", event.Type))
}

// Close closes the Redis connection.
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
