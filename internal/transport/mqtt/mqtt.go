// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package mqtt adapts an MQTT broker (eclipse paho) to transport.Transport.
// Reconnection is left to the caller: paho's auto-reconnect is disabled and a
// lost connection ends every live Subscription.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/transport"
)

// Config holds the broker settings.
type Config struct {
	URL            string
	ClientID       string
	Username       string
	Password       string
	CAFile         string
	CertFile       string
	KeyFile        string
	QoS            byte
	ConnectTimeout time.Duration
	Logger         *clog.Logger
}

// Transport is an MQTT-backed transport.Transport.
type Transport struct {
	cfg Config
	log *clog.Logger

	// newClient is swapped in tests.
	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
	subs   []*transport.Subscription
}

var _ transport.Transport = (*Transport)(nil)

var pahoLogOnce sync.Once

// New validates cfg and returns an unconnected Transport.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("mqtt: broker url is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	l := cfg.Logger
	if l == nil {
		l = logging.L
	}
	pahoLogOnce.Do(func() {
		paho.ERROR = l.StandardLog(clog.StandardLogOptions{ForceLevel: clog.ErrorLevel})
		paho.CRITICAL = l.StandardLog(clog.StandardLogOptions{ForceLevel: clog.ErrorLevel})
	})
	return &Transport{cfg: cfg, log: l.With("transport", "mqtt"), newClient: paho.NewClient}, nil
}

// clientID returns the configured prefix with a random suffix so two bridges
// sharing a config do not kick each other off the broker.
func (t *Transport) clientID() string {
	prefix := t.cfg.ClientID
	if prefix == "" {
		prefix = "cartbridge"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

func (t *Transport) options() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.URL).
		SetClientID(t.clientID()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetAutoAckDisabled(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.log.Warn("connection lost", "err", err)
			t.failAll(fmt.Errorf("mqtt connection lost: %w", err))
		})
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	tlsCfg, err := transport.LoadTLS(t.cfg.CAFile, t.cfg.CertFile, t.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// wait blocks until tok completes, ctx is done or the connect timeout elapses.
func (t *Transport) wait(ctx context.Context, tok paho.Token, op string) error {
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt %s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt %s: %w", op, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("mqtt %s: timed out after %s", op, t.cfg.ConnectTimeout)
	}
}

// Connect dials the broker with a fresh client.
func (t *Transport) Connect(ctx context.Context) error {
	opts, err := t.options()
	if err != nil {
		return err
	}
	c := t.newClient(opts)
	if err := t.wait(ctx, c.Connect(), "connect"); err != nil {
		c.Disconnect(0)
		return err
	}

	t.mu.Lock()
	prev := t.client
	t.client = c
	t.mu.Unlock()
	if prev != nil {
		prev.Disconnect(0)
	}
	t.log.Info("connected", "broker", t.cfg.URL, "client_id", opts.ClientID)
	return nil
}

func (t *Transport) current() (paho.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil, transport.ErrNotConnected
	}
	return t.client, nil
}

// Subscribe subscribes to topic at the configured QoS.
func (t *Transport) Subscribe(ctx context.Context, topic string) (*transport.Subscription, error) {
	c, err := t.current()
	if err != nil {
		return nil, err
	}
	sub := transport.NewSubscription(64)
	handler := func(_ paho.Client, m paho.Message) {
		msg := transport.NewMessage(strconv.Itoa(int(m.MessageID())), m.Topic(), m.Payload(), m.Ack)
		if !sub.Deliver(context.Background(), msg) {
			t.log.Debug("message arrived after subscription ended", "topic", m.Topic())
		}
	}
	if err := t.wait(ctx, c.Subscribe(topic, t.cfg.QoS, handler), "subscribe"); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub, nil
}

// Publish hands payload to the broker. At QoS 0 it does not wait for the
// write to complete.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	c, err := t.current()
	if err != nil {
		return err
	}
	tok := c.Publish(topic, t.cfg.QoS, false, payload)
	if t.cfg.QoS == 0 {
		return nil
	}
	return t.wait(ctx, tok, "publish")
}

func (t *Transport) failAll(err error) {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		s.Fail(err)
	}
}

// Close disconnects from the broker and ends all subscriptions.
func (t *Transport) Close() error {
	t.mu.Lock()
	c := t.client
	t.client = nil
	t.mu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
	t.failAll(transport.ErrClosed)
	return nil
}
