package respond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// publisher is the part of mqtt.Client the responder uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTResponder publishes every result as JSON to a broker topic.
type MQTTResponder struct {
	client publisher
	conn   mqtt.Client
	topic  string
	qos    byte
	logger *slog.Logger

	published uint64
	failures  uint64
}

// MQTTOptions configures NewMQTTResponder.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string
	QoS      byte
	Logger   *slog.Logger
}

// NewMQTTResponder connects to the broker and waits up to five seconds for
// the connection. The client reconnects on its own after a lost connection.
func NewMQTTResponder(o MQTTOptions) (*MQTTResponder, error) {
	if o.Broker == "" || o.Topic == "" {
		return nil, errors.New("respond: mqtt broker and topic are required")
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", o.Broker, "client_id", o.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", o.Broker)
	}

	client := mqtt.NewClient(opts)
	logger.Info("connecting to mqtt broker", "broker", o.Broker)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("respond: mqtt connection to %s timed out", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("respond: mqtt connection failed: %w", err)
	}

	r := newMQTTResponder(client, o.Topic, o.QoS, logger)
	r.conn = client
	return r, nil
}

func newMQTTResponder(p publisher, topic string, qos byte, logger *slog.Logger) *MQTTResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTResponder{client: p, topic: topic, qos: qos, logger: logger}
}

func (m *MQTTResponder) Respond(_ context.Context, scores []float32, labels []string) error {
	payload, err := json.Marshal(NewResult(scores, labels))
	if err != nil {
		m.failures++
		return fmt.Errorf("respond: marshal result: %w", err)
	}
	token := m.client.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.failures++
		return fmt.Errorf("respond: publish to %s timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		m.failures++
		return fmt.Errorf("respond: publish failed: %w", err)
	}
	m.published++
	m.logger.Debug("scores published", "topic", m.topic, "qos", m.qos, "size", len(payload))
	return nil
}

// Stats returns the number of published and failed results.
func (m *MQTTResponder) Stats() (published, failures uint64) {
	return m.published, m.failures
}

// Close disconnects from the broker with a 250ms grace period.
func (m *MQTTResponder) Close() error {
	if m.conn != nil && m.conn.IsConnected() {
		m.conn.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}
