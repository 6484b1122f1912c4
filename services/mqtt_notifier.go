package services

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

const (
	// QoSAtLeastOnce MQTT Quality of Service level used for event pushes
	QoSAtLeastOnce = 1

	mqttPublishTimeout = 10 * time.Second
)

// MQTTTopic returns the topic mobile apps subscribe to for one match.
func MQTTTopic(matchID string) string {
	return fmt.Sprintf("livefeed/matches/%s/events", matchID)
}

// MQTTNotifier pushes every event to the match's MQTT topic.
type MQTTNotifier struct {
	client mqtt.Client
	logger common.Logger
}

// NewMQTTNotifier builds a client for broker; call Connect before use.
func NewMQTTNotifier(broker, username, password string, logger common.Logger) *MQTTNotifier {
	n := &MQTTNotifier{logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetClientID(fmt.Sprintf("livefeed_%d", time.Now().UnixNano()))

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to MQTT broker %s", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost: %v", err)
	})

	// Auto reconnect
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	// Keep alive
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	n.client = mqtt.NewClient(opts)
	return n
}

// NewMQTTNotifierWithClient wraps an existing client.
func NewMQTTNotifierWithClient(client mqtt.Client, logger common.Logger) *MQTTNotifier {
	return &MQTTNotifier{client: client, logger: logger}
}

// Connect establishes connection to MQTT broker
func (n *MQTTNotifier) Connect() error {
	token := n.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection to MQTT broker
func (n *MQTTNotifier) Disconnect() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

func (n *MQTTNotifier) Notify(ctx context.Context, notification *models.Notification) error {
	if !n.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	topic := MQTTTopic(notification.MatchID)
	token := n.client.Publish(topic, QoSAtLeastOnce, false, notification.Data)

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s failed: %w", topic, err)
	}

	n.logger.Debug("Published event %s to %s", notification.EventID, topic)
	return nil
}
