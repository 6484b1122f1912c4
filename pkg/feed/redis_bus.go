package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

const channelPrefix = "livefeed:match:"

// ChannelName returns the pub/sub channel carrying one match's updates.
func ChannelName(matchID string) string {
	return channelPrefix + matchID
}

// RedisBus is an EventBus over Redis pub/sub, so every service instance sees
// updates committed by any other. Redis pub/sub is fire-and-forget: a
// subscriber that drops misses what was published meanwhile and has to
// resubscribe, which reloads the snapshot.
type RedisBus struct {
	client *redis.Client
	logger common.Logger
	buffer int

	mu     sync.Mutex
	subs   map[*processing.BusSubscription]context.CancelFunc
	closed bool
}

// NewRedisBus 创建 Redis 事件总线
func NewRedisBus(client *redis.Client, logger common.Logger, buffer int) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger,
		buffer: buffer,
		subs:   make(map[*processing.BusSubscription]context.CancelFunc),
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg *models.FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal feed message: %w", err)
	}

	receivers, err := b.client.Publish(ctx, ChannelName(msg.MatchID), data).Result()
	if err != nil {
		return common.NewConnectionError("redis publish failed", err)
	}

	b.logger.Debug("Event %s published to %d receivers", msg.Event.ID, receivers)
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published after it returns can be missed.
func (b *RedisBus) Subscribe(ctx context.Context, matchID string) (*processing.BusSubscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, common.NewConnectionError("redis bus closed", nil)
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, ChannelName(matchID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, common.NewConnectionError("redis subscribe failed", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	var sub *processing.BusSubscription
	sub = processing.NewBusSubscription(matchID, b.buffer, func() {
		cancel()
		pubsub.Close()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.Close()
		return nil, common.NewConnectionError("redis bus closed", nil)
	}
	b.subs[sub] = cancel
	b.mu.Unlock()

	go b.receive(loopCtx, pubsub, sub)

	b.logger.Debug("Subscribed to %s", ChannelName(matchID))
	return sub, nil
}

func (b *RedisBus) receive(ctx context.Context, pubsub *redis.PubSub, sub *processing.BusSubscription) {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Warn("Redis subscription for match %s lost: %v", sub.MatchID, err)
			}
			sub.Fail(common.NewConnectionError("redis subscription lost", err))
			return
		}

		var feedMsg models.FeedMessage
		if err := json.Unmarshal([]byte(msg.Payload), &feedMsg); err != nil {
			b.logger.Error("Dropping malformed feed message on %s: %v", msg.Channel, err)
			continue
		}
		if feedMsg.Event == nil {
			continue
		}
		if !sub.Deliver(&feedMsg) {
			return
		}
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close fails every open subscription. The redis client itself is owned by
// the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*processing.BusSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Fail(common.NewConnectionError("redis bus closed", nil))
	}
	return nil
}
