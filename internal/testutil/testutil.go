// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds in-memory doubles shared by the test suites so they
// can exercise the bridge without a database or a broker.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/toeirei/cartbridge/internal/core"
	"github.com/toeirei/cartbridge/internal/model"
)

// FakeResolver is a map-backed core.StatusResolver.
type FakeResolver struct {
	mu       sync.Mutex
	statuses map[model.Tag]model.PaymentStatus
	err      error
	delay    time.Duration
	calls    int
}

var _ core.StatusResolver = (*FakeResolver)(nil)

// NewFakeResolver returns a resolver that knows the given tags.
func NewFakeResolver(statuses map[model.Tag]model.PaymentStatus) *FakeResolver {
	m := make(map[model.Tag]model.PaymentStatus, len(statuses))
	for k, v := range statuses {
		m[k] = v
	}
	return &FakeResolver{statuses: m}
}

// Resolve implements core.StatusResolver.
func (f *FakeResolver) Resolve(ctx context.Context, tag model.Tag) (core.Resolution, error) {
	f.mu.Lock()
	f.calls++
	err, delay := f.err, f.delay
	status, ok := f.statuses[tag]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return core.Resolution{}, ctx.Err()
		}
	}
	if err != nil {
		return core.Resolution{}, err
	}
	if !ok {
		return core.NotFound, nil
	}
	return core.Found(status), nil
}

// SetErr makes every following Resolve fail with err until reset with nil.
func (f *FakeResolver) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// SetDelay makes every Resolve wait d first.
func (f *FakeResolver) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// Calls reports how many times Resolve ran.
func (f *FakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Published is one recorded publish.
type Published struct {
	Topic   string
	Payload []byte
}

// RecordingPublisher records every publish instead of sending it.
type RecordingPublisher struct {
	mu   sync.Mutex
	msgs []Published
	err  error
}

// Publish records topic and a copy of payload.
func (p *RecordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// SetErr makes every following Publish fail with err.
func (p *RecordingPublisher) SetErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Messages returns a copy of everything published so far.
func (p *RecordingPublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.msgs...)
}

// WaitFor polls cond until it holds or timeout elapses and reports whether
// it held.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
