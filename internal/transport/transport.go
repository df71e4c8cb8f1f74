// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package transport defines the publish/subscribe boundary the bridge runs
// on. Adapters live in the mqtt, amqp and memory subpackages.
package transport // import "github.com/toeirei/cartbridge/internal/transport"

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is reported by a Subscription whose transport was closed.
var ErrClosed = errors.New("transport closed")

// ErrNotConnected is returned by operations attempted before Connect.
var ErrNotConnected = errors.New("transport not connected")

// Message is a single inbound payload.
type Message struct {
	ID         string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time

	ack func()
}

// NewMessage builds a Message. ack may be nil for transports without
// delivery acknowledgement.
func NewMessage(id, topic string, payload []byte, ack func()) Message {
	return Message{ID: id, Topic: topic, Payload: payload, ReceivedAt: time.Now(), ack: ack}
}

// Ack confirms the message has been handled.
func (m Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Transport is implemented by every broker adapter. Publish is fire and
// forget: it returns once the adapter has handed the payload to the broker.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscription delivers messages for one topic until the underlying
// connection fails or is closed. C is never closed; select on Done.
type Subscription struct {
	C <-chan Message

	c    chan Message
	done chan struct{}
	once sync.Once
	err  error
}

// NewSubscription returns a Subscription with a buffered delivery channel.
// Adapters feed it with Deliver and end it with Fail.
func NewSubscription(buffer int) *Subscription {
	c := make(chan Message, buffer)
	return &Subscription{C: c, c: c, done: make(chan struct{})}
}

// Deliver hands msg to the consumer. It reports false when the subscription
// has ended or ctx is done before the consumer accepted it.
func (s *Subscription) Deliver(ctx context.Context, msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.c <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Fail ends the subscription with err. Only the first call has effect.
func (s *Subscription) Fail(err error) {
	s.once.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		s.err = err
		close(s.done)
	})
}

// Done is closed when the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
