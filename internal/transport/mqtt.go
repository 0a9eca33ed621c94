package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sirenlink/internal/config"
	"sirenlink/internal/logger"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	connectWait     = 5 * time.Second
	subscribeWait   = 10 * time.Second
	disconnectQuiet = 250 // ms
)

var (
	ErrNotConnected   = errors.New("mqtt client not connected")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)

// Message is the part of an inbound MQTT message the bridge reads.
type Message interface {
	Topic() string
	Payload() []byte
}

// Handler processes one inbound message. Paho calls handlers sequentially
// in delivery order.
type Handler func(Message)

// Client is the publish/subscribe surface used by the command and telemetry paths.
type Client interface {
	IsConnected() bool
	ClientID() string
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, h Handler) error
	Close()
}

type subscription struct {
	qos     byte
	handler Handler
}

// MQTT is a paho-backed Client. Subscriptions are remembered and replayed on
// every (re)connect, since the session is clean.
type MQTT struct {
	cli            pahomqtt.Client
	clientID       string
	publishTimeout time.Duration
	log            *logger.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

var _ Client = (*MQTT)(nil)

// NewMQTT builds the client and starts connecting. It does not fail when the
// broker is down; paho keeps retrying in the background.
func NewMQTT(cfg config.MQTTConfig, log *logger.Logger) (*MQTT, error) {
	log = logger.OrNop(log)
	m := &MQTT{
		clientID:       cfg.ClientIDPrefix + "_" + uuid.NewString()[:8],
		publishTimeout: cfg.PublishTimeout,
		log:            log,
		subs:           make(map[string]subscription),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(m.clientID).
		SetCleanSession(true).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ReconnectInterval).
		SetMaxReconnectInterval(cfg.ReconnectInterval).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warnw("mqtt_connection_lost", "err", err)
		}).
		SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
			log.Warnw("mqtt_reconnecting", "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.cli = pahomqtt.NewClient(opts)
	log.Infow("mqtt_connecting", "broker", cfg.Broker, "client_id", m.clientID)

	token := m.cli.Connect()
	if token.WaitTimeout(connectWait) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return m, nil
}

// newWithClient is used by tests to inject a fake paho client.
func newWithClient(cli pahomqtt.Client, clientID string, publishTimeout time.Duration, log *logger.Logger) *MQTT {
	return &MQTT{
		cli:            cli,
		clientID:       clientID,
		publishTimeout: publishTimeout,
		log:            logger.OrNop(log),
		subs:           make(map[string]subscription),
	}
}

func (m *MQTT) IsConnected() bool { return m.cli != nil && m.cli.IsConnected() }

func (m *MQTT) ClientID() string { return m.clientID }

// Publish hands payload to the broker and waits for the QoS handshake, bounded
// by ctx and the configured publish timeout.
func (m *MQTT) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	token := m.cli.Publish(topic, qos, retained, payload)

	timer := time.NewTimer(m.publishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
}

// Subscribe registers h for topic. When connected the subscription is made
// immediately; otherwise it is deferred to the next connect.
func (m *MQTT) Subscribe(topic string, qos byte, h Handler) error {
	m.mu.Lock()
	m.subs[topic] = subscription{qos: qos, handler: h}
	m.mu.Unlock()

	if !m.IsConnected() {
		return nil
	}
	return m.subscribe(topic, qos, h)
}

func (m *MQTT) subscribe(topic string, qos byte, h Handler) error {
	token := m.cli.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		h(msg)
	})
	if !token.WaitTimeout(subscribeWait) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	m.log.Infow("mqtt_subscribed", "topic", topic, "qos", qos)
	return nil
}

func (m *MQTT) onConnect(_ pahomqtt.Client) {
	m.log.Infow("mqtt_connected", "client_id", m.clientID)

	m.mu.Lock()
	topics := make([]string, 0, len(m.subs))
	for t := range m.subs {
		topics = append(topics, t)
	}
	subs := make(map[string]subscription, len(m.subs))
	for t, s := range m.subs {
		subs[t] = s
	}
	m.mu.Unlock()

	sort.Strings(topics)
	for _, t := range topics {
		s := subs[t]
		if err := m.subscribe(t, s.qos, s.handler); err != nil {
			m.log.Errorw("mqtt_resubscribe_failed", "topic", t, "err", err)
		}
	}
}

func (m *MQTT) Close() {
	if m.cli == nil {
		return
	}
	m.cli.Disconnect(disconnectQuiet)
	m.log.Infow("mqtt_disconnected", "client_id", m.clientID)
}
