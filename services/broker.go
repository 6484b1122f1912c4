package services

import (
	"context"
	"strconv"
	"strings"

	"livefeed-service/pkg/models"
)

// BrokerMessage 定义了在 Broker 中传输的消息结构
type BrokerMessage struct {
	Topic   string
	Key     string // match id; keeps one match's events on one partition
	Value   []byte // persisted event shape, JSON
	Headers map[string]string
}

// MessageBroker 定义了消息队列的抽象接口
type MessageBroker interface {
	// Produce 发送消息到指定的 Topic
	Produce(ctx context.Context, msg BrokerMessage) error
	// Close 关闭 Broker 连接
	Close() error
}

// RoutingKey builds the topic-exchange routing key for an event,
// e.g. "match.<id>.match_start".
func RoutingKey(matchID string, kind models.EventKind) string {
	k := strings.ToLower(strings.ReplaceAll(string(kind), " ", "_"))
	if k == "" {
		k = "unknown"
	}
	return "match." + matchID + "." + k
}

// BrokerNotifier publishes every notification to one broker topic.
type BrokerNotifier struct {
	name   string
	topic  string
	broker MessageBroker
}

// NewBrokerNotifier 创建消息队列通知器
func NewBrokerNotifier(name, topic string, broker MessageBroker) *BrokerNotifier {
	return &BrokerNotifier{name: name, topic: topic, broker: broker}
}

func (n *BrokerNotifier) Name() string { return n.name }

func (n *BrokerNotifier) Notify(ctx context.Context, notification *models.Notification) error {
	return n.broker.Produce(ctx, BrokerMessage{
		Topic: n.topic,
		Key:   notification.MatchID,
		Value: notification.Data,
		Headers: map[string]string{
			"event_id":  notification.EventID,
			"kind":      string(notification.Kind),
			"title":     notification.Title,
			"important": strconv.FormatBool(notification.Important),
		},
	})
}

func eventKindHeader(msg BrokerMessage) models.EventKind {
	return models.EventKind(msg.Headers["kind"])
}
