// Package busclient wraps the MQTT session the ingestion pipelines read
// from. The broker is the system boundary: everything behind it is
// device firmware we do not control, so the client is deliberately dumb.
// It subscribes, hands raw payloads to the pipelines and lets the paho
// session layer handle reconnection.
package busclient

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	keepAlive            = 60 * time.Second
	connectTimeout       = 10 * time.Second
	connectRetryInterval = time.Second
	maxReconnectInterval = 30 * time.Second
	disconnectQuiesce    = 250 // milliseconds, handed to paho verbatim
)

// WatchWildcard subscribes the watch pipeline to the whole vendor
// namespace. Subtopics outside the known grammar are rejected by the
// decoder, not by the subscription.
const WatchWildcard = "iMEDE_watch/#"

// Message is one raw bus delivery. ReceivedAt is stamped on arrival and
// becomes the timestamp of last resort for payloads that carry none.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Config carries the broker session settings.
type Config struct {
	Endpoint string
	Username string
	Password string
	ClientID string
	QoS      byte
}

// Client owns one MQTT session shared by all pipelines. Sessions are
// persistent (CleanSession false) so the broker holds QoS 1 deliveries
// across restarts instead of dropping them.
type Client struct {
	conn   mqtt.Client
	qos    byte
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// New connects to the broker and blocks until the first connect attempt
// resolves. Later disconnects are handled by the session layer; the
// OnConnect hook replays every registered subscription.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	c := &Client{
		qos:    cfg.QoS,
		logger: logger,
		subs:   make(map[string]mqtt.MessageHandler),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "stardust-ingest-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Endpoint).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(false).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetOnConnectHandler(func(conn mqtt.Client) {
			logger.Info("bus connected", zap.String("endpoint", cfg.Endpoint))
			c.resubscribe(conn)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("bus connection lost", zap.Error(err))
		})

	c.conn = mqtt.NewClient(opts)
	if token := c.conn.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint, token.Error())
	}
	return c, nil
}

// Subscribe registers the topic filters and returns the channel their
// deliveries arrive on. Delivery order within one filter follows broker
// order; a full channel blocks the session reader, which pushes the
// backpressure to the broker's QoS 1 in-flight window rather than
// dropping messages here.
func (c *Client) Subscribe(filters []string, buffer int) (<-chan Message, error) {
	ch := make(chan Message, buffer)
	handler := func(_ mqtt.Client, m mqtt.Message) {
		ch <- Message{Topic: m.Topic(), Payload: m.Payload(), ReceivedAt: time.Now().UTC()}
	}

	byFilter := make(map[string]byte, len(filters))
	c.mu.Lock()
	for _, f := range filters {
		c.subs[f] = handler
		byFilter[f] = c.qos
	}
	c.mu.Unlock()

	if token := c.conn.SubscribeMultiple(byFilter, handler); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("subscribe %v: %w", filters, token.Error())
	}
	c.logger.Info("bus subscribed", zap.Strings("filters", filters), zap.Uint8("qos", uint8(c.qos)))
	return ch, nil
}

// resubscribe replays registered filters after a reconnect. The broker
// keeps persistent-session subscriptions itself, but replaying them is
// what makes a broker-side session loss survivable.
func (c *Client) resubscribe(conn mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for filter, handler := range c.subs {
		if token := conn.Subscribe(filter, c.qos, handler); token.Wait() && token.Error() != nil {
			c.logger.Error("bus resubscribe failed",
				zap.String("filter", filter), zap.Error(token.Error()))
		}
	}
}

// Connected reports whether the session currently has a live broker
// connection. Used by the health endpoint.
func (c *Client) Connected() bool {
	return c.conn.IsConnectionOpen()
}

// Close stops new deliveries and waits briefly for in-flight QoS 1 acks.
func (c *Client) Close() {
	c.conn.Disconnect(disconnectQuiesce)
	c.logger.Info("bus disconnected")
}
