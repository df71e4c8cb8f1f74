// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import "sync/atomic"

// Stats counts pipeline events. The zero value is ready to use.
type Stats struct {
	received      atomic.Uint64
	published     atomic.Uint64
	decodeErrors  atomic.Uint64
	storeErrors   atomic.Uint64
	publishErrors atomic.Uint64
	dropped       atomic.Uint64
	reconnects    atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received      uint64 `json:"received"`
	Published     uint64 `json:"published"`
	DecodeErrors  uint64 `json:"decode_errors"`
	StoreErrors   uint64 `json:"store_errors"`
	PublishErrors uint64 `json:"publish_errors"`
	Dropped       uint64 `json:"dropped"`
	Reconnects    uint64 `json:"reconnects"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:      s.received.Load(),
		Published:     s.published.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		StoreErrors:   s.storeErrors.Load(),
		PublishErrors: s.publishErrors.Load(),
		Dropped:       s.dropped.Load(),
		Reconnects:    s.reconnects.Load(),
	}
}
