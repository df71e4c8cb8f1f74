// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bridge runs the payment status pipeline: it subscribes to tag
// scans, resolves each tag against the status store and publishes the buzz
// decision back to the cart.
package bridge // import "github.com/toeirei/cartbridge/internal/bridge"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	clog "github.com/charmbracelet/log"
	"github.com/toeirei/cartbridge/internal/core"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/transport"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("bridge already running")

// ErrStopped is returned by Run on a bridge that already shut down.
var ErrStopped = errors.New("bridge stopped")

// State is the connection state of a Bridge.
type State int32

// Stopped is terminal; the others cycle while the bridge runs.
const (
	Disconnected State = iota
	Connecting
	Connected
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config tunes a Bridge. Zero values fall back to the defaults below.
type Config struct {
	RequestTopic   string
	ResponseTopic  string
	Workers        int
	OnStoreError   StoreErrorPolicy
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
	Logger         *clog.Logger
}

// Defaults applied by New for zero Config fields.
const (
	DefaultRequestTopic   = "smartcart/payment"
	DefaultResponseTopic  = "smartcart/response"
	DefaultWorkers        = 4
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultPublishTimeout = 10 * time.Second
)

// Bridge owns the receive loop.
type Bridge struct {
	t       transport.Transport
	handler *Handler
	cfg     Config
	log     *clog.Logger
	stats   *Stats

	state   atomic.Int32
	running atomic.Bool
}

// New builds a Bridge on top of an unconnected transport.
func New(t transport.Transport, resolver core.StatusResolver, cfg Config) (*Bridge, error) {
	if t == nil {
		return nil, errors.New("bridge: transport is required")
	}
	if resolver == nil {
		return nil, errors.New("bridge: resolver is required")
	}
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = DefaultRequestTopic
	}
	if cfg.ResponseTopic == "" {
		cfg.ResponseTopic = DefaultResponseTopic
	}
	if cfg.RequestTopic == cfg.ResponseTopic {
		return nil, fmt.Errorf("bridge: request and response topic must differ (%s)", cfg.RequestTopic)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.InitialBackoff)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	policy, err := ParsePolicy(string(cfg.OnStoreError))
	if err != nil {
		return nil, err
	}
	cfg.OnStoreError = policy

	l := cfg.Logger
	if l == nil {
		l = logging.L
	}
	l = l.With("component", "bridge")
	stats := &Stats{}
	h := NewHandler(resolver, t, cfg.ResponseTopic, policy, l, stats)
	h.publishTimeout = cfg.PublishTimeout
	return &Bridge{
		t:       t,
		handler: h,
		cfg:     cfg,
		log:     l,
		stats:   stats,
	}, nil
}

// State reports the current connection state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	if prev := State(b.state.Swap(int32(s))); prev != s {
		b.log.Debug("state change", "from", prev, "to", s)
	}
}

// Stats returns a snapshot of the pipeline counters.
func (b *Bridge) Stats() StatsSnapshot {
	return b.stats.Snapshot()
}

func (b *Bridge) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.InitialBackoff
	bo.MaxInterval = b.cfg.MaxBackoff
	bo.Reset()
	return bo
}

// Run connects, subscribes and processes requests until ctx is cancelled.
// Transport failures move the bridge back to Disconnected and it reconnects
// with exponential backoff. Run returns nil after a clean shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)
	if b.State() == Stopped {
		return ErrStopped
	}

	bo := b.newBackOff()
	for {
		b.setState(Connecting)
		sub, err := b.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return b.stop()
			}
			b.setState(Disconnected)
			wait := bo.NextBackOff()
			b.log.Warn("connect failed, retrying", "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return b.stop()
			}
			continue
		}

		bo.Reset()
		b.setState(Connected)
		b.log.Info("listening", "topic", b.cfg.RequestTopic, "workers", b.cfg.Workers, "on_store_error", b.cfg.OnStoreError)

		lost := b.consume(ctx, sub)
		if ctx.Err() != nil {
			return b.stop()
		}
		b.setState(Disconnected)
		b.stats.reconnects.Add(1)
		b.log.Warn("subscription lost, reconnecting", "err", lost)
	}
}

func (b *Bridge) connect(ctx context.Context) (*transport.Subscription, error) {
	if err := b.t.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	sub, err := b.t.Subscribe(ctx, b.cfg.RequestTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.cfg.RequestTopic, err)
	}
	return sub, nil
}

// consume dispatches messages until the subscription ends or ctx is done.
// It always waits for in-flight handlers before returning.
func (b *Bridge) consume(ctx context.Context, sub *transport.Subscription) error {
	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	// In-flight handlers finish their publish even while shutting down.
	hctx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-sub.Done():
			_ = g.Wait()
			return sub.Err()
		case msg := <-sub.C:
			b.stats.received.Add(1)
			g.Go(func() error {
				defer msg.Ack()
				_ = b.handler.Handle(hctx, msg)
				return nil
			})
		}
	}
}

func (b *Bridge) stop() error {
	if err := b.t.Close(); err != nil {
		b.log.Warn("closing transport", "err", err)
	}
	b.setState(Stopped)
	s := b.stats.Snapshot()
	b.log.Info("stopped",
		"received", s.Received,
		"published", s.Published,
		"decode_errors", s.DecodeErrors,
		"store_errors", s.StoreErrors,
		"dropped", s.Dropped,
		"reconnects", s.Reconnects)
	return nil
}

// sleep waits d or until ctx is done and reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
