// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package amqp adapts RabbitMQ to transport.Transport. Topics are routing
// keys on a topic exchange (amq.topic by default), the same mapping the
// RabbitMQ MQTT plugin uses, so AMQP and MQTT carts can share a broker.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/transport"
)

// DefaultExchange is the exchange the RabbitMQ MQTT plugin publishes to.
const DefaultExchange = "amq.topic"

// ErrConnectionLost ends subscriptions whose connection or channel closed.
var ErrConnectionLost = errors.New("amqp connection lost")

// Config holds the broker settings.
type Config struct {
	URL            string
	Exchange       string
	CAFile         string
	CertFile       string
	KeyFile        string
	Prefetch       int
	ConnectTimeout time.Duration
	Logger         *clog.Logger
}

// Transport is a RabbitMQ-backed transport.Transport.
type Transport struct {
	cfg Config
	log *clog.Logger

	mu   sync.Mutex
	sess *session
}

// session is one broker connection and the subscriptions consuming on it.
// A closed connection only ends its own subscriptions.
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu     sync.Mutex
	subs   []*transport.Subscription
	failed bool
}

// add registers sub with s. It reports false once s has failed.
func (s *session) add(sub *transport.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return false
	}
	s.subs = append(s.subs, sub)
	return true
}

func (s *session) fail(err error) {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.failed = true
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Fail(err)
	}
}

func (s *session) close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}

var _ transport.Transport = (*Transport)(nil)

// New validates cfg and returns an unconnected Transport.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp: broker url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	l := cfg.Logger
	if l == nil {
		l = logging.L
	}
	return &Transport{cfg: cfg, log: l.With("transport", "amqp")}, nil
}

// RoutingKey converts an MQTT-style topic into an AMQP routing key.
func RoutingKey(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p == "+" {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, ".")
}

// Topic converts a routing key back into an MQTT-style topic.
func Topic(routingKey string) string {
	return strings.ReplaceAll(routingKey, ".", "/")
}

// Connect dials the broker and opens a channel.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tlsCfg, err := transport.LoadTLS(t.cfg.CAFile, t.cfg.CertFile, t.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("amqp: %w", err)
	}
	conn, err := amqp.DialConfig(t.cfg.URL, amqp.Config{
		Heartbeat:       10 * time.Second,
		Locale:          "en_US",
		TLSClientConfig: tlsCfg,
		Dial:            amqp.DefaultDial(t.cfg.ConnectTimeout),
		Properties: amqp.Table{
			"connection_name": "cartbridge",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(t.cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	sess := &session{conn: conn, ch: ch}
	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	t.install(sess)
	go t.monitor(sess, connClose, chanClose)

	t.log.Info("connected", "exchange", t.cfg.Exchange)
	return nil
}

// install makes sess current and retires the previous session.
func (t *Transport) install(sess *session) {
	t.mu.Lock()
	prev := t.sess
	t.sess = sess
	t.mu.Unlock()
	if prev != nil {
		prev.fail(ErrConnectionLost)
		_ = prev.close()
	}
}

// monitor ends the subscriptions of sess once its connection or channel
// closes.
func (t *Transport) monitor(sess *session, connClose, chanClose <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClose:
	case reason = <-chanClose:
	}
	err := ErrConnectionLost
	if reason != nil {
		t.log.Warn("connection closed", "code", reason.Code, "reason", reason.Reason)
		err = fmt.Errorf("%w: %s", ErrConnectionLost, reason.Reason)
	}
	sess.fail(err)
}

func (t *Transport) current() (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil || t.sess.ch == nil || t.sess.ch.IsClosed() {
		return nil, transport.ErrNotConnected
	}
	return t.sess, nil
}

// Subscribe binds an exclusive, auto-deleted queue to topic and consumes it
// with manual acknowledgement.
func (t *Transport) Subscribe(ctx context.Context, topic string) (*transport.Subscription, error) {
	sess, err := t.current()
	if err != nil {
		return nil, err
	}
	ch := sess.ch
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoutingKey(topic), t.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "cartbridge-"+uuid.NewString()[:8], false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	sub := transport.NewSubscription(t.cfg.Prefetch)
	if !sess.add(sub) {
		sub.Fail(ErrConnectionLost)
	}

	go func() {
		for d := range deliveries {
			msg := transport.NewMessage(d.MessageId, Topic(d.RoutingKey), d.Body, func() {
				if err := d.Ack(false); err != nil {
					t.log.Debug("ack failed", "err", err)
				}
			})
			if !sub.Deliver(context.Background(), msg) {
				_ = d.Nack(false, true)
				return
			}
		}
		sub.Fail(ErrConnectionLost)
	}()
	return sub, nil
}

// Publish sends payload to the exchange under topic's routing key.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	sess, err := t.current()
	if err != nil {
		return err
	}
	err = sess.ch.PublishWithContext(ctx, t.cfg.Exchange, RoutingKey(topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the channel and connection and ends all subscriptions.
func (t *Transport) Close() error {
	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.fail(transport.ErrClosed)
	if err := sess.close(); err != nil {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	if sess.conn != nil {
		t.log.Info("connection closed")
	}
	return nil
}
