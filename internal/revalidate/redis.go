package revalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel the front end subscribes to.
const DefaultChannel = "welth:revalidate"

// RedisNotifier publishes invalidations on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redis.Cmdable
	channel string
	now     func() time.Time
}

// NewRedisNotifier creates a notifier publishing on channel, or on
// DefaultChannel when channel is empty.
func NewRedisNotifier(client redis.Cmdable, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel, now: time.Now}
}

// Invalidate implements Notifier.
func (n *RedisNotifier) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	body, err := json.Marshal(Invalidation{Paths: paths, IssuedAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("RedisNotifier.Invalidate: encoding message: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("RedisNotifier.Invalidate: publishing to %s: %w", n.channel, err)
	}
	return nil
}
