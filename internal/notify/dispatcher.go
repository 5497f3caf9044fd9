// Package notify provides dispatcher implementations for the scheduling
// core's notification intents. Real provider integrations (SMTP, SMS
// gateways, push services) live outside this repo; these implementations
// hand intents off or log them.
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medisched/clinic-scheduling/internal/scheduling"
)

// RedisDispatcher publishes notification intents to a per-channel Redis
// topic for downstream delivery workers.
type RedisDispatcher struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisDispatcher(client *redis.Client, log zerolog.Logger) *RedisDispatcher {
	return &RedisDispatcher{client: client, log: log}
}

func (d *RedisDispatcher) Send(ctx context.Context, channel scheduling.ReminderChannel, recipient string, payload []byte) error {
	topic := fmt.Sprintf("notifications:%s", channel)

	if len(payload) == 0 {
		payload = []byte("null")
	}
	msg := fmt.Sprintf(`{"recipient":%q,"payload":%s}`, recipient, payload)
	if err := d.client.Publish(ctx, topic, msg).Err(); err != nil {
		return fmt.Errorf("publish notification to %s: %w", topic, err)
	}

	d.log.Debug().
		Str("topic", topic).
		Str("recipient", recipient).
		Msg("notification intent published")
	return nil
}

// LogDispatcher writes intents to the log only. Used in dev and as a
// fallback when Redis is not configured.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(_ context.Context, channel scheduling.ReminderChannel, recipient string, payload []byte) error {
	d.log.Info().
		Str("channel", string(channel)).
		Str("recipient", recipient).
		RawJSON("payload", payload).
		Msg("notification intent")
	return nil
}
