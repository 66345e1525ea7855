package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// ErrNotStarted is returned by operations issued before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// MessageHandler processes one message received on a subscribed filter.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the slice of an MQTT session a station needs: publish events,
// receive commands and report whether the broker is reachable.
type Client interface {
	// Start dials the broker in the background. Use AwaitConnection to block.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for filter. Registrations survive reconnects.
	Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error

	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}

type subscription struct {
	qos     int
	handler MessageHandler
}

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	mu   sync.RWMutex
	subs map[string]subscription

	connected atomic.Bool

	// handlerCtx ends with the context passed to Start.
	handlerCtx context.Context
}

// NewClient validates cfg and returns an autopaho backed Client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}

	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:        cfg,
		subs:       make(map[string]subscription),
		handlerCtx: context.Background(),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	cfg, err := c.connectionConfig()
	if err != nil {
		return err
	}

	log.Info("Connecting to broker", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	c.handlerCtx = ctx
	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) connectionConfig() (autopaho.ClientConfig, error) {
	broker, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return autopaho.ClientConfig{}, err
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			c.connected.Store(false)
			log.Warn("Broker connection failed, retrying", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnClientError: func(err error) {
				log.Error(err, "MQTT client error")
			},
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
		},
	}
	if broker.Scheme == "ssl" || broker.Scheme == "tls" || broker.Scheme == "mqtts" {
		cfg.TlsCfg = &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}
	}
	if c.cfg.WillTopic != "" {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   c.cfg.WillTopic,
			Payload: c.cfg.WillPayload,
			QoS:     c.cfg.WillQoS,
			Retain:  c.cfg.WillRetain,
		}
	}
	return cfg, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	if err := c.cm.Disconnect(ctx); err != nil {
		log.Debug("Disconnect did not complete cleanly", "error", err)
	}
	c.connected.Store(false)
	log.Info("Disconnected from broker")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, subscribePacket(filter, qos)); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	log.Info("Subscribed", "filter", filter)
	return nil
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	log.Info("Broker connection established")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for filter, sub := range c.subs {
		if _, err := cm.Subscribe(context.Background(), subscribePacket(filter, sub.qos)); err != nil {
			log.Error(err, "Re-subscribe failed", "filter", filter)
		}
	}
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	var reason string
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("Broker closed the session", "reason", reason)
}

// dispatch hands a received message to every matching handler on its own
// goroutine so the paho reader is never blocked.
func (c *pahoClient) dispatch(p paho.PublishReceived) (bool, error) {
	topic := p.Packet.Topic

	c.mu.RLock()
	defer c.mu.RUnlock()

	var handled bool
	for filter, sub := range c.subs {
		if !topicsMatch(topicFilter(filter), topic) {
			continue
		}
		handled = true
		go sub.handler(c.handlerCtx, topic, p.Packet.Payload)
	}
	if !handled {
		log.Debug("No handler for topic", "topic", topic)
	}
	return true, nil
}

func subscribePacket(filter string, qos int) *paho.Subscribe {
	return &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	}
}

// topicsMatch reports whether topic matches filter, honouring + and #.
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		switch {
		case part == "#":
			return true
		case i >= len(tp):
			return false
		case part != "+" && part != tp[i]:
			return false
		}
	}
	return len(fp) == len(tp)
}

// topicFilter strips a "$share/<group>/" prefix.
func topicFilter(filter string) string {
	rest, ok := strings.CutPrefix(filter, "$share/")
	if !ok {
		return filter
	}
	if _, f, ok := strings.Cut(rest, "/"); ok {
		return f
	}
	return filter
}
