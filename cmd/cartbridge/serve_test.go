// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/cartbridge/internal/bridge"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/model"
	"github.com/toeirei/cartbridge/internal/testutil"
)

func TestServe_AnswersScansOverMemoryTransport(t *testing.T) {
	dir := isolate(t)
	db := dbArgs(dir)
	mustExecute(t, append([]string{"status", "set", "TAG-001", "unpaid"}, db...)...)
	mustExecute(t, append([]string{"status", "set", "TAG-002", "paid"}, db...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, "", append([]string{"serve", "--broker.transport", "memory"}, db...)...)
		done <- err
	}()
	if !testutil.WaitFor(5*time.Second, func() bool { return memoryBus.Subscribers(bridge.DefaultRequestTopic) == 1 }) {
		cancel()
		t.Fatalf("serve never subscribed: %v", <-done)
	}

	cart := memoryBus.Client()
	if err := cart.Connect(context.Background()); err != nil {
		t.Fatalf("cart connect: %v", err)
	}
	defer func() { _ = cart.Close() }()
	resp, err := cart.Subscribe(context.Background(), bridge.DefaultResponseTopic)
	if err != nil {
		t.Fatalf("cart subscribe: %v", err)
	}

	for tag, want := range map[string]string{"TAG-001": `{"buzz":true}`, "TAG-002": `{"buzz":false}`, "TAG-404": `{"buzz":true}`} {
		if err := cart.Publish(context.Background(), bridge.DefaultRequestTopic, []byte(`{"tag":"`+tag+`"}`)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case m := <-resp.C:
			if string(m.Payload) != want {
				t.Fatalf("%s: got %s want %s", tag, m.Payload, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s: no answer", tag)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestScan_PrintsDecision(t *testing.T) {
	isolate(t)
	b, err := bridge.New(memoryBus.Client(), testutil.NewFakeResolver(map[model.Tag]model.PaymentStatus{
		"TAG-002": model.Paid,
	}), bridge.Config{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	if !testutil.WaitFor(5*time.Second, func() bool { return b.State() == bridge.Connected }) {
		t.Fatalf("bridge never connected")
	}

	out := mustExecute(t, "scan", "TAG-002", "--broker.transport", "memory", "--timeout", "5s")
	if !strings.Contains(out, "TAG-002: buzz=false") {
		t.Fatalf("unexpected scan output: %q", out)
	}
	out = mustExecute(t, "scan", "TAG-001", "--broker.transport", "memory", "--timeout", "5s")
	if !strings.Contains(out, "TAG-001: buzz=true") {
		t.Fatalf("unexpected scan output: %q", out)
	}
}

func TestScan_TimesOutWithoutBridge(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "", "scan", "TAG-001", "--broker.transport", "memory", "--timeout", "50ms"); err == nil {
		t.Fatalf("expected timeout without a running bridge")
	}
}
