// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toeirei/cartbridge/internal/core"
	"github.com/toeirei/cartbridge/internal/db"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/testutil"
	"github.com/toeirei/cartbridge/internal/transport"
	"github.com/toeirei/cartbridge/internal/transport/memory"
)

const waitTimeout = 3 * time.Second

// harness runs a Bridge on a memory bus and plays the cart on a second client.
type harness struct {
	t      *testing.T
	bus    *memory.Bus
	bridge *Bridge
	cart   *memory.Client
	resp   *transport.Subscription
	cancel context.CancelFunc
	done   chan error
}

func startBridge(t *testing.T, resolver core.StatusResolver, cfg Config) *harness {
	t.Helper()
	bus := memory.NewBus()
	cfg.Logger = logging.Discard()
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 5 * time.Millisecond
		cfg.MaxBackoff = 20 * time.Millisecond
	}
	b, err := New(bus.Client(), resolver, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &harness{t: t, bus: bus, bridge: b, cart: bus.Client(), done: make(chan error, 1)}
	h.connectCart()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
		_ = h.cart.Close()
	})
	h.waitSubscribed()
	return h
}

func (h *harness) connectCart() {
	h.t.Helper()
	if err := h.cart.Connect(context.Background()); err != nil {
		h.t.Fatalf("cart connect: %v", err)
	}
	sub, err := h.cart.Subscribe(context.Background(), DefaultResponseTopic)
	if err != nil {
		h.t.Fatalf("cart subscribe: %v", err)
	}
	h.resp = sub
}

func (h *harness) waitSubscribed() {
	h.t.Helper()
	ok := testutil.WaitFor(waitTimeout, func() bool {
		return h.bridge.State() == Connected && h.bus.Subscribers(DefaultRequestTopic) == 1
	})
	if !ok {
		h.t.Fatalf("bridge did not subscribe (state %s)", h.bridge.State())
	}
}

func (h *harness) scan(payload string) {
	h.t.Helper()
	if err := h.cart.Publish(context.Background(), DefaultRequestTopic, []byte(payload)); err != nil {
		h.t.Fatalf("cart publish: %v", err)
	}
}

func (h *harness) expect(want string) {
	h.t.Helper()
	select {
	case m := <-h.resp.C:
		if string(m.Payload) != want {
			h.t.Fatalf("got %s, want %s", m.Payload, want)
		}
	case <-time.After(waitTimeout):
		h.t.Fatalf("no response, wanted %s", want)
	}
}

func (h *harness) expectNothing() {
	h.t.Helper()
	select {
	case m := <-h.resp.C:
		h.t.Fatalf("unexpected response %s", m.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func newSQLiteStore(t *testing.T) *db.Store {
	t.Helper()
	s, err := db.Open("sqlite", "file:bridge_"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	if err := s.SetStatus(ctx, "TAG-001", 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.SetStatus(ctx, "TAG-002", 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestBridge_EndToEndWithStore(t *testing.T) {
	h := startBridge(t, newSQLiteStore(t), Config{})

	h.scan(`{"tag":"TAG-001"}`)
	h.expect(`{"buzz":true}`)
	h.scan(`{"tag":"TAG-002"}`)
	h.expect(`{"buzz":false}`)
	h.scan(`{"tag":"TAG-999"}`)
	h.expect(`{"buzz":true}`)
	h.scan(`not json`)
	h.expectNothing()

	s := h.bridge.Stats()
	if s.Received != 4 || s.Published != 3 || s.DecodeErrors != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestBridge_ProcessesDuplicatesIndependently(t *testing.T) {
	h := startBridge(t, knownTags(), Config{Workers: 1})
	for i := 0; i < 3; i++ {
		h.scan(`{"tag":"TAG-002"}`)
	}
	for i := 0; i < 3; i++ {
		h.expect(`{"buzz":false}`)
	}
}

func TestBridge_StoreErrorPolicies(t *testing.T) {
	down := knownTags()
	down.SetErr(core.ErrStoreUnavailable)

	t.Run("buzz", func(t *testing.T) {
		h := startBridge(t, down, Config{OnStoreError: PolicyBuzz})
		h.scan(`{"tag":"TAG-002"}`)
		h.expect(`{"buzz":true}`)
	})
	t.Run("drop", func(t *testing.T) {
		h := startBridge(t, down, Config{OnStoreError: PolicyDrop})
		h.scan(`{"tag":"TAG-002"}`)
		h.expectNothing()
		if h.bridge.State() != Connected {
			t.Fatalf("store failure must not disturb the connection, state %s", h.bridge.State())
		}
	})
}

func TestBridge_ReconnectsAfterConnectionLoss(t *testing.T) {
	h := startBridge(t, knownTags(), Config{})
	h.scan(`{"tag":"TAG-001"}`)
	h.expect(`{"buzz":true}`)

	h.bus.Drop()
	h.connectCart()
	h.waitSubscribed()
	if got := h.bridge.Stats().Reconnects; got != 1 {
		t.Fatalf("expected one reconnect, got %d", got)
	}

	h.scan(`{"tag":"TAG-002"}`)
	h.expect(`{"buzz":false}`)
}

func TestBridge_RetriesFailedConnects(t *testing.T) {
	bus := memory.NewBus()
	bus.SetConnectError(errors.New("broker down"))
	b, err := New(bus.Client(), knownTags(), Config{
		Logger:         logging.Discard(),
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if s := b.State(); s == Connected {
		t.Fatalf("must not be connected while the broker refuses")
	}
	bus.SetConnectError(nil)
	if !testutil.WaitFor(waitTimeout, func() bool { return b.State() == Connected }) {
		t.Fatalf("bridge never connected, state %s", b.State())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if b.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", b.State())
	}
}

func TestBridge_ShutdownIsTerminal(t *testing.T) {
	bus := memory.NewBus()
	b, err := New(bus.Client(), knownTags(), Config{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	if !testutil.WaitFor(waitTimeout, func() bool { return b.State() == Connected }) {
		t.Fatalf("bridge never connected")
	}
	if err := b.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("Run did not return after cancel")
	}
	if bus.Subscribers(DefaultRequestTopic) != 0 {
		t.Fatalf("transport not closed on shutdown")
	}
	if err := b.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestBridge_ShutdownWaitsForInFlight(t *testing.T) {
	slow := knownTags()
	slow.SetDelay(100 * time.Millisecond)
	h := startBridge(t, slow, Config{})

	h.scan(`{"tag":"TAG-002"}`)
	if !testutil.WaitFor(waitTimeout, func() bool { return slow.Calls() == 1 }) {
		t.Fatalf("request never reached the resolver")
	}
	h.cancel()
	if err := <-h.done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	h.done <- nil
	if got := h.bridge.Stats().Published; got != 1 {
		t.Fatalf("in-flight request was not completed, published=%d", got)
	}
}

func TestNew_Validation(t *testing.T) {
	bus := memory.NewBus()
	if _, err := New(nil, knownTags(), Config{}); err == nil {
		t.Fatalf("expected error without transport")
	}
	if _, err := New(bus.Client(), nil, Config{}); err == nil {
		t.Fatalf("expected error without resolver")
	}
	if _, err := New(bus.Client(), knownTags(), Config{RequestTopic: "a", ResponseTopic: "a"}); err == nil {
		t.Fatalf("expected error for identical topics")
	}
	if _, err := New(bus.Client(), knownTags(), Config{OnStoreError: "retry"}); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
	b, err := New(bus.Client(), knownTags(), Config{PublishTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.handler.publishTimeout != time.Second {
		t.Fatalf("publish timeout = %s, want 1s", b.handler.publishTimeout)
	}
	b, _ = New(bus.Client(), knownTags(), Config{})
	if b.handler.publishTimeout != DefaultPublishTimeout {
		t.Fatalf("publish timeout default = %s", b.handler.publishTimeout)
	}
}
