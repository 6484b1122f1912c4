package processing

import (
	"context"
	"sync"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

// DefaultEventDispatcher 进程内事件分发器. It implements EventBus for a
// single process; use the Redis bus when several instances serve viewers.
type DefaultEventDispatcher struct {
	logger      common.Logger
	buffer      int
	subscribers map[string]map[*BusSubscription]struct{}
	mu          sync.RWMutex
	closed      bool
}

// NewEventDispatcher 创建事件分发器
func NewEventDispatcher(logger common.Logger, buffer int) *DefaultEventDispatcher {
	return &DefaultEventDispatcher{
		logger:      logger,
		buffer:      buffer,
		subscribers: make(map[string]map[*BusSubscription]struct{}),
	}
}

// Publish 分发事件
func (d *DefaultEventDispatcher) Publish(ctx context.Context, msg *models.FeedMessage) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return common.NewConnectionError("dispatcher closed", nil)
	}
	subs := make([]*BusSubscription, 0, len(d.subscribers[msg.MatchID]))
	for sub := range d.subscribers[msg.MatchID] {
		subs = append(subs, sub)
	}
	d.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(msg) {
			delivered++
		} else {
			d.logger.Warn("Subscriber for match %s dropped (slow consumer)", msg.MatchID)
		}
	}

	d.logger.Debug("Event %s dispatched to %d subscribers", msg.Event.ID, delivered)
	return nil
}

// Subscribe 订阅事件
func (d *DefaultEventDispatcher) Subscribe(ctx context.Context, matchID string) (*BusSubscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, common.NewConnectionError("dispatcher closed", nil)
	}

	var sub *BusSubscription
	sub = NewBusSubscription(matchID, d.buffer, func() { d.remove(sub) })

	if d.subscribers[matchID] == nil {
		d.subscribers[matchID] = make(map[*BusSubscription]struct{})
	}
	d.subscribers[matchID][sub] = struct{}{}

	d.logger.Debug("Subscriber added for match %s (total: %d)", matchID, d.getTotalSubscribers())
	return sub, nil
}

func (d *DefaultEventDispatcher) remove(sub *BusSubscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subscribers[sub.MatchID]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(d.subscribers, sub.MatchID)
	}
}

func (d *DefaultEventDispatcher) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return common.NewConnectionError("dispatcher closed", nil)
	}
	return nil
}

// Close fails every open subscription with a ConnectionError.
func (d *DefaultEventDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	all := make([]*BusSubscription, 0)
	for _, subs := range d.subscribers {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	d.mu.Unlock()

	for _, sub := range all {
		sub.Fail(common.NewConnectionError("dispatcher closed", nil))
	}
	return nil
}

// GetSubscriberCount 获取订阅者数量
func (d *DefaultEventDispatcher) GetSubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getTotalSubscribers()
}

func (d *DefaultEventDispatcher) getTotalSubscribers() int {
	total := 0
	for _, subs := range d.subscribers {
		total += len(subs)
	}
	return total
}
