// Package notify tells downstream consumers which cached query keys changed
// after a sync. Delivery is best effort.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"example.com/webinar-sync/internal/logging"
)

const DefaultTopic = "webinar-sync.invalidate"

type Invalidation struct {
	UserID string    `json:"user_id"`
	Keys   []string  `json:"keys"`
	At     time.Time `json:"at"`
}

type Notifier interface {
	Invalidate(ctx context.Context, inv Invalidation) error
}

func KeyWebinars(userID string) string { return "webinars:" + userID }

func KeyWebinar(userID, webinarID string) string {
	return fmt.Sprintf("webinar:%s:%s", userID, webinarID)
}

func KeyParticipants(userID, webinarID string) string {
	return fmt.Sprintf("participants:%s:%s", userID, webinarID)
}

func KeyInstances(userID, webinarID string) string {
	return fmt.Sprintf("instances:%s:%s", userID, webinarID)
}

func KeySyncHistory(userID string) string { return "sync-history:" + userID }

// WatermillNotifier publishes invalidations as watermill messages.
type WatermillNotifier struct {
	pub   message.Publisher
	topic string
}

func NewWatermillNotifier(pub message.Publisher, topic string) *WatermillNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillNotifier{pub: pub, topic: topic}
}

func (n *WatermillNotifier) Invalidate(ctx context.Context, inv Invalidation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("user_id", inv.UserID)
	msg.SetContext(ctx)
	return n.pub.Publish(n.topic, msg)
}

// RedisNotifier publishes invalidations on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Invalidate(ctx context.Context, inv Invalidation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Multi fans an invalidation out to several notifiers.
type Multi []Notifier

func (m Multi) Invalidate(ctx context.Context, inv Invalidation) error {
	var firstErr error
	for _, n := range m {
		if err := n.Invalidate(ctx, inv); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type Nop struct{}

func (Nop) Invalidate(context.Context, Invalidation) error { return nil }

// Fire sends inv in the background. It never blocks the caller and only logs
// failures.
func Fire(ctx context.Context, n Notifier, inv Invalidation) {
	if n == nil || len(inv.Keys) == 0 {
		return
	}
	if inv.At.IsZero() {
		inv.At = time.Now().UTC()
	}
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := n.Invalidate(bctx, inv); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", inv.UserID).Msg("cache invalidation failed")
		}
	}()
}
