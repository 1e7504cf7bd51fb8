package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// defaultRedisPrefix namespaces Pub/Sub channels.
const defaultRedisPrefix = "authsession"

// RedisBus carries signals over a Redis Pub/Sub channel named after the
// origin, reaching every process and host connected to the same Redis.
type RedisBus struct {
	redis   redis.UniversalClient
	channel string
	origin  string
	sender  string
	logger  *slog.Logger
}

// NewRedisBus returns a RedisBus for origin. An empty prefix uses
// "authsession".
func NewRedisBus(redisClient redis.UniversalClient, prefix, origin string, logger *slog.Logger) *RedisBus {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RedisBus{
		redis:   redisClient,
		channel: prefix + ":broadcast:" + origin,
		origin:  origin,
		sender:  newSenderID(),
		logger:  logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	data, err := encodeEnvelope(newEnvelope(b.origin, b.sender, msg))
	if err != nil {
		return err
	}

	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("broadcast: redis publish: %w", err)
	}

	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	sub := b.redis.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no publish after Subscribe
	// returns can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("broadcast: redis subscribe: %w", err)
	}

	out := make(chan Message, subscriberBuffer)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}

				env, err := decodeEnvelope([]byte(m.Payload))
				if err != nil {
					b.logger.Warn("dropping malformed signal", slog.String("error", err.Error()))
					continue
				}

				if env.Sender == b.sender {
					continue
				}

				select {
				case out <- env.Message:
				default:
				}
			}
		}
	}()

	return out, nil
}
