package services

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"livefeed-service/pkg/common"
)

// KafkaPublisher writes notifications to a Kafka topic keyed by match id, so
// a match's events stay ordered within its partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger common.Logger
}

// NewKafkaPublisher 创建 Kafka 发布器
func NewKafkaPublisher(brokers []string, logger common.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Produce(ctx context.Context, msg BrokerMessage) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", msg.Topic, err)
	}

	p.logger.Debug("Wrote event %s to kafka topic %s", msg.Headers["event_id"], msg.Topic)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
