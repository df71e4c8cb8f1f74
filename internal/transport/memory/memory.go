// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package memory is an in-process transport. Every Client attached to the
// same Bus sees the messages published by the others. It backs the test
// suites and `cartbridge serve --transport memory`.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/toeirei/cartbridge/internal/transport"
)

// ErrConnectionLost is reported to subscriptions ended by Bus.Drop.
var ErrConnectionLost = errors.New("memory bus: connection lost")

const subscriptionBuffer = 256

// Bus is the shared broker.
type Bus struct {
	mu         sync.Mutex
	subs       map[string][]*subscriber
	clients    map[*Client]struct{}
	connectErr error
}

type subscriber struct {
	owner *Client
	sub   *transport.Subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]*subscriber),
		clients: make(map[*Client]struct{}),
	}
}

// Client returns a new, unconnected client of the bus.
func (b *Bus) Client() *Client {
	return &Client{bus: b}
}

// SetConnectError makes every following Connect fail with err until it is
// reset with nil.
func (b *Bus) SetConnectError(err error) {
	b.mu.Lock()
	b.connectErr = err
	b.mu.Unlock()
}

// Drop simulates a broker outage: every subscription ends with
// ErrConnectionLost and every client must Connect again.
func (b *Bus) Drop() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string][]*subscriber)
	for c := range b.clients {
		c.connected = false
	}
	b.clients = make(map[*Client]struct{})
	b.mu.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.sub.Fail(ErrConnectionLost)
		}
	}
}

// Subscribers reports how many live subscriptions topic has.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Client is one connection to a Bus. It implements transport.Transport.
type Client struct {
	bus       *Bus
	connected bool
	closed    bool
}

var _ transport.Transport = (*Client)(nil)

// Connect attaches the client to the bus.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if b.connectErr != nil {
		return b.connectErr
	}
	c.connected = true
	b.clients[c] = struct{}{}
	return nil
}

// Subscribe registers a subscription for exactly topic.
func (c *Client) Subscribe(ctx context.Context, topic string) (*transport.Subscription, error) {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.connected {
		return nil, transport.ErrNotConnected
	}
	sub := transport.NewSubscription(subscriptionBuffer)
	b.subs[topic] = append(b.subs[topic], &subscriber{owner: c, sub: sub})
	return sub, nil
}

// Publish fans payload out to every subscription on topic. The payload is
// copied per receiver.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	b := c.bus
	b.mu.Lock()
	if !c.connected {
		b.mu.Unlock()
		return transport.ErrNotConnected
	}
	targets := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, t := range targets {
		body := append([]byte(nil), payload...)
		t.sub.Deliver(ctx, transport.NewMessage(uuid.NewString(), topic, body, nil))
	}
	return ctx.Err()
}

// Close detaches the client and ends its subscriptions.
func (c *Client) Close() error {
	b := c.bus
	b.mu.Lock()
	var ended []*transport.Subscription
	for topic, list := range b.subs {
		kept := list[:0]
		for _, s := range list {
			if s.owner == c {
				ended = append(ended, s.sub)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = kept
		}
	}
	delete(b.clients, c)
	c.connected = false
	c.closed = true
	b.mu.Unlock()

	for _, s := range ended {
		s.Fail(transport.ErrClosed)
	}
	return nil
}
