package services

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"livefeed-service/pkg/common"
)

// AMQPPublisher publishes notifications to a durable topic exchange. The
// connection is opened lazily and re-established on the next publish after
// the broker drops it.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   common.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan *amqp.Error
}

// NewAMQPPublisher 创建 AMQP 发布器
func NewAMQPPublisher(url, exchange string, logger common.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
	}
}

// DefaultDialTimeout bounds Connect and any reconnect whose context has no
// earlier deadline.
const DefaultDialTimeout = 10 * time.Second

// Connect dials the broker and declares the exchange.
func (p *AMQPPublisher) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	_, err := p.channelFor(ctx)
	return err
}

// channelFor returns the live channel, dialing a new connection when there is
// none. The dial runs without p.mu held, so a hung broker only stalls the
// callers that are waiting on it, each up to its own deadline.
func (p *AMQPPublisher) channelFor(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.healthyLocked() {
		ch := p.channel
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	conn, channel, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthyLocked() {
		// lost the race to a concurrent reconnect
		channel.Close()
		conn.Close()
		return p.channel, nil
	}
	p.conn = conn
	p.channel = channel
	p.closed = conn.NotifyClose(make(chan *amqp.Error, 1))

	p.logger.Info("Connected to AMQP, exchange %s declared", p.exchange)
	return channel, nil
}

func (p *AMQPPublisher) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultDialTimeout)
	}

	config := amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := net.Dialer{Deadline: deadline}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// cleared by the client once the handshake completes
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
	}

	conn, err := amqp.DialConfig(p.url, config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return conn, channel, nil
}

func (p *AMQPPublisher) healthyLocked() bool {
	if p.conn == nil {
		return false
	}
	select {
	case err := <-p.closed:
		p.logger.Warn("AMQP connection closed: %v", err)
		p.conn, p.channel = nil, nil
		return false
	default:
		return true
	}
}

// Produce 实现 MessageBroker 接口. msg.Topic is ignored; the routing key is
// derived from the match id and event kind.
func (p *AMQPPublisher) Produce(ctx context.Context, msg BrokerMessage) error {
	channel, err := p.channelFor(ctx)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	routingKey := RoutingKey(msg.Key, eventKindHeader(msg))
	err = channel.Publish(
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.Headers["event_id"],
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         msg.Value,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}

	p.logger.Debug("Published %s", routingKey)
	return nil
}

// Close 关闭 AMQP 连接
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	p.conn, p.channel = nil, nil
	return nil
}
