// Package mqtt implements an MQTT-bridged instant-messaging provider
// for the mailbox subsystem: inbound chat messages published on the
// configured topic become inbound mailbox envelopes, and outbound
// envelopes are published to that same topic (there is no separate
// reply topic); the subscription uses NoLocal, so the bridge does not
// receive its own publishes. It demonstrates that a
// mailbox provider need not be email-shaped — ingress is push
// (subscription callback) rather than poll, unlike the IMAP provider.
//
// Connection management uses Eclipse Paho v2's autopaho package, which
// handles reconnection transparently; Bridge re-subscribes on every
// (re-)connect because autopaho does not do this automatically.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/indenscale/monoco/internal/config"
	"github.com/indenscale/monoco/internal/mailbox"
)

// chatMessage is the JSON payload shape both read from and published
// to the configured topic.
type chatMessage struct {
	SessionID string `json:"session_id,omitempty"`
	ThreadKey string `json:"thread_key,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Body      string `json:"body"`
}

// Bridge maintains one MQTT connection used both to ingest inbound chat
// messages into a mailbox.Store and, as a mailbox.ProviderSender, to
// publish outbound replies.
type Bridge struct {
	cfg    config.MQTTProviderConfig
	store  *mailbox.Store
	logger *slog.Logger

	cm *autopaho.ConnectionManager
}

// NewBridge constructs a Bridge that will write inbound messages into
// store under the "mqtt" provider. Call Start to connect.
func NewBridge(cfg config.MQTTProviderConfig, store *mailbox.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, store: store, logger: logger}
}

// Start connects to the broker and subscribes to the configured topic.
// It blocks until the initial connection succeeds, ctx ends, or 30s
// pass; autopaho continues retrying in the background afterward.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtt: parse broker url: %w", err)
	}

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = "monocod"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.BrokerURL)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.subscribe(subCtx, cm)
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	b.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		b.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	return b.cm.Disconnect(ctx)
}

func (b *Bridge) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: b.cfg.Topic, QoS: 1, NoLocal: true}},
	}); err != nil {
		b.logger.Error("mqtt subscribe failed", "topic", b.cfg.Topic, "error", err)
		return
	}
	b.logger.Info("mqtt subscribed", "topic", b.cfg.Topic)
}

// handleMessage parses an inbound MQTT publish and writes it as an
// inbound mailbox envelope. Malformed payloads are logged and dropped
// rather than rejected into the mailbox store's _rejected directory —
// there is no on-disk file to move for a live MQTT message.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	var msg chatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Warn("mqtt: dropping malformed message", "topic", topic, "error", err)
		return
	}
	if msg.Body == "" {
		return
	}

	env := mailbox.Envelope{
		Session:      mailbox.SessionRef{ID: msg.SessionID, Type: "mqtt"},
		ThreadKey:    msg.ThreadKey,
		Type:         "text",
		Participants: mailbox.Participants{Sender: mailbox.Person{ID: msg.From}},
		ReplyTo:      msg.From,
		Body:         msg.Body,
	}
	if msg.To != "" {
		env.To = []string{msg.To}
	}

	if _, err := b.store.CreateInbound("mqtt", env); err != nil {
		b.logger.Error("mqtt: write inbound envelope failed", "topic", topic, "error", err)
	}
}

// Send implements mailbox.ProviderSender: it publishes env to the
// configured topic as a JSON chat message.
func (b *Bridge) Send(ctx context.Context, env mailbox.Envelope) error {
	if b.cm == nil {
		return fmt.Errorf("mqtt: bridge not started")
	}

	to := ""
	if len(env.To) > 0 {
		to = env.To[0]
	}
	payload, err := json.Marshal(chatMessage{
		SessionID: env.Session.ID,
		ThreadKey: env.ThreadKey,
		To:        to,
		Body:      env.Body,
	})
	if err != nil {
		return fmt.Errorf("mqtt: marshal outbound message: %w", err)
	}

	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   b.cfg.Topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt: publish failed: %w", err)
	}
	return nil
}
