package services

import (
	"context"
	"sync"

	"livefeed-service/pkg/common"
)

// InMemoryBroker 是 MessageBroker 接口的内存实现, used in development and
// tests in place of a real broker.
type InMemoryBroker struct {
	logger common.Logger
	// 存储每个 Topic 对应的消费者通道列表
	consumers map[string][]chan BrokerMessage
	mu        sync.RWMutex
}

// NewInMemoryBroker 创建 InMemoryBroker 实例
func NewInMemoryBroker(logger common.Logger) *InMemoryBroker {
	return &InMemoryBroker{
		logger:    logger,
		consumers: make(map[string][]chan BrokerMessage),
	}
}

// Produce 实现 MessageBroker 接口. Every consumer of the topic gets a copy; a
// full consumer channel drops the message.
func (b *InMemoryBroker) Produce(ctx context.Context, msg BrokerMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	consumerChans := b.consumers[msg.Topic]
	if len(consumerChans) == 0 {
		b.logger.Debug("Topic %s has no active consumers, event %s logged only", msg.Topic, msg.Headers["event_id"])
		return nil
	}

	for _, ch := range consumerChans {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("Topic %s consumer channel full, message dropped", msg.Topic)
		}
	}
	return nil
}

// Consume 订阅指定的 Topic，返回一个消息通道
func (b *InMemoryBroker) Consume(topic string) (<-chan BrokerMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	consumerChan := make(chan BrokerMessage, 1000)
	b.consumers[topic] = append(b.consumers[topic], consumerChan)

	b.logger.Debug("Consumer subscribed to topic %s (total: %d)", topic, len(b.consumers[topic]))
	return consumerChan, nil
}

// Close 实现 MessageBroker 接口
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 关闭所有消费者通道
	for _, chans := range b.consumers {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.consumers = make(map[string][]chan BrokerMessage)
	return nil
}
