// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toeirei/cartbridge/internal/transport"
)

func connected(t *testing.T, b *Bus) *Client {
	t.Helper()
	c := b.Client()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func receive(t *testing.T, sub *transport.Subscription) transport.Message {
	t.Helper()
	select {
	case m := <-sub.C:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return transport.Message{}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	pub, sub := connected(t, b), connected(t, b)

	s, err := sub.Subscribe(context.Background(), "smartcart/payment")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := pub.Publish(context.Background(), "smartcart/payment", []byte(`{"tag":"TAG-001"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Publish(context.Background(), "other/topic", []byte(`ignored`)); err != nil {
		t.Fatalf("Publish other: %v", err)
	}
	m := receive(t, s)
	if m.Topic != "smartcart/payment" || string(m.Payload) != `{"tag":"TAG-001"}` || m.ID == "" {
		t.Fatalf("unexpected message %+v", m)
	}
	select {
	case extra := <-s.C:
		t.Fatalf("unexpected extra message %+v", extra)
	default:
	}
}

func TestNotConnected(t *testing.T) {
	c := NewBus().Client()
	if _, err := c.Subscribe(context.Background(), "a"); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Publish(context.Background(), "a", nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDropEndsSubscriptions(t *testing.T) {
	b := NewBus()
	c := connected(t, b)
	s, err := c.Subscribe(context.Background(), "a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Drop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("subscription did not end")
	}
	if !errors.Is(s.Err(), ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", s.Err())
	}
	if err := c.Publish(context.Background(), "a", nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected client to need a reconnect, got %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if _, err := c.Subscribe(context.Background(), "a"); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if b.Subscribers("a") != 1 {
		t.Fatalf("expected one live subscriber, got %d", b.Subscribers("a"))
	}
}

func TestConnectError(t *testing.T) {
	b := NewBus()
	boom := errors.New("refused")
	b.SetConnectError(boom)
	if err := b.Client().Connect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected connect error, got %v", err)
	}
	b.SetConnectError(nil)
	connected(t, b)
}

func TestCloseEndsOwnSubscriptionsOnly(t *testing.T) {
	b := NewBus()
	a, other := b.Client(), connected(t, b)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sa, _ := a.Subscribe(context.Background(), "t")
	so, _ := other.Subscribe(context.Background(), "t")

	_ = a.Close()
	if !errors.Is(sa.Err(), transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", sa.Err())
	}
	if so.Err() != nil {
		t.Fatalf("other client's subscription must stay live")
	}
	if err := a.Connect(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("closed client must not reconnect, got %v", err)
	}
}
