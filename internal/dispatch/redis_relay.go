package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/airbear/internal/models"
)

// RedisRelay carries changes between processes over a Redis pub/sub
// channel. Publish only writes to Redis; Run delivers what arrives on the
// channel to a local publisher, usually the Hub. A process that both
// publishes and runs the relay therefore sees its own changes exactly once.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	log     *slog.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, c models.Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Run subscribes and forwards until ctx is cancelled. ready, when non-nil,
// is closed once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, to Publisher, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.Info("change relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c models.Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				r.log.Warn("invalid relayed change", "error", err)
				continue
			}
			if err := to.Publish(ctx, c); err != nil {
				r.log.Warn("deliver relayed change failed", "table", c.Table, "error", err)
			}
		}
	}
}
