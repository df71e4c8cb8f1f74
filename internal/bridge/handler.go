// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/cartbridge/internal/core"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/model"
	"github.com/toeirei/cartbridge/internal/transport"
)

// ErrDecode marks an inbound payload that is not a usable payment request.
var ErrDecode = errors.New("malformed payment request")

// StoreErrorPolicy decides what a cart hears when the store cannot answer.
type StoreErrorPolicy string

const (
	// PolicyBuzz publishes buzz=true, treating the item as unpaid.
	PolicyBuzz StoreErrorPolicy = "buzz"
	// PolicyDrop publishes nothing.
	PolicyDrop StoreErrorPolicy = "drop"
)

// ParsePolicy validates a configured policy name. Empty means PolicyBuzz.
func ParsePolicy(s string) (StoreErrorPolicy, error) {
	switch StoreErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyBuzz:
		return PolicyBuzz, nil
	case PolicyDrop:
		return PolicyDrop, nil
	default:
		return "", fmt.Errorf("invalid store error policy %q (want buzz or drop)", s)
	}
}

// Publisher is the outbound half of a transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Decode parses an inbound payload and returns its tag.
func Decode(payload []byte) (model.Tag, error) {
	var ev model.InboundEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if ev.Tag == "" {
		return "", fmt.Errorf("%w: missing tag", ErrDecode)
	}
	return ev.Tag, nil
}

// Decide maps a resolution onto the actuation decision. Only a tag known to
// be paid stays silent.
func Decide(res core.Resolution) bool {
	return !(res.Found && res.Status == model.Paid)
}

// Encode renders the outbound event.
func Encode(buzz bool) []byte {
	// Marshalling a struct with a single bool cannot fail.
	b, _ := json.Marshal(model.OutboundEvent{Buzz: buzz})
	return b
}

// Handler turns one inbound message into at most one outbound decision. It
// is safe for concurrent use.
type Handler struct {
	resolver core.StatusResolver
	pub      Publisher
	topic    string
	policy   StoreErrorPolicy
	log      *clog.Logger
	stats    *Stats

	publishTimeout time.Duration
}

// NewHandler wires a Handler. A nil logger uses logging.L and nil stats
// allocates a private counter set.
func NewHandler(resolver core.StatusResolver, pub Publisher, responseTopic string, policy StoreErrorPolicy, l *clog.Logger, stats *Stats) *Handler {
	if l == nil {
		l = logging.L
	}
	if stats == nil {
		stats = &Stats{}
	}
	if policy == "" {
		policy = PolicyBuzz
	}
	return &Handler{
		resolver:       resolver,
		pub:            pub,
		topic:          responseTopic,
		policy:         policy,
		log:            l,
		stats:          stats,
		publishTimeout: DefaultPublishTimeout,
	}
}

// Handle processes msg. Malformed payloads return an ErrDecode error and
// publish nothing. A failed lookup is logged and handled per policy.
func (h *Handler) Handle(ctx context.Context, msg transport.Message) error {
	tag, err := Decode(msg.Payload)
	if err != nil {
		h.stats.decodeErrors.Add(1)
		h.stats.dropped.Add(1)
		h.log.Warn("dropping request", "id", msg.ID, "err", err)
		return err
	}

	var buzz bool
	res, err := h.resolver.Resolve(ctx, tag)
	switch {
	case err != nil:
		h.stats.storeErrors.Add(1)
		h.log.Error("status lookup failed", "tag", tag, "policy", h.policy, "err", err)
		if h.policy == PolicyDrop {
			h.stats.dropped.Add(1)
			return fmt.Errorf("resolve %s: %w", tag, err)
		}
		buzz = true
	default:
		buzz = Decide(res)
	}

	pubCtx, cancel := context.WithTimeout(ctx, h.publishTimeout)
	defer cancel()
	if err := h.pub.Publish(pubCtx, h.topic, Encode(buzz)); err != nil {
		h.stats.publishErrors.Add(1)
		h.log.Error("publish failed", "tag", tag, "topic", h.topic, "err", err)
		return fmt.Errorf("publish decision for %s: %w", tag, err)
	}
	h.stats.published.Add(1)
	h.log.Debug("decision published", "tag", tag, "found", res.Found, "status", res.Status, "buzz", buzz)
	return nil
}
