package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/lemonslots/internal/model"
)

const bridgePublishTimeout = 2 * time.Second

// RedisBridge publishes events over Redis pub/sub so every server instance
// sharing the store feeds its local hub. Local delivery happens on receipt.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
	ready   chan struct{}
}

// Ensure RedisBridge implements Publisher
var _ Publisher = (*RedisBridge)(nil)

// NewRedisBridge creates a bridge between channel and hub
func NewRedisBridge(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger.With(slog.String("component", "notify_bridge")),
		ready:   make(chan struct{}),
	}
}

// Publish sends the event to every instance. If Redis is unreachable the
// event is still delivered to this instance's subscribers.
func (b *RedisBridge) Publish(ctx context.Context, event model.BalanceEvent) {
	data, err := EncodeEvent(event)
	if err != nil {
		b.logger.Error("failed to encode balance event", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bridgePublishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("redis publish failed, delivering locally",
			slog.String("player_id", string(event.PlayerID())),
			slog.String("error", err.Error()))
		b.hub.Publish(ctx, event)
	}
}

// Ready is closed once the bridge is subscribed
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run forwards events from Redis into the hub until ctx is cancelled
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	close(b.ready)
	b.logger.Info("notify bridge subscribed", slog.String("channel", b.channel))

	messages := sub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("ignoring malformed balance event", slog.String("error", err.Error()))
				continue
			}
			b.hub.Publish(ctx, event)
		case <-ctx.Done():
			return nil
		}
	}
}
