// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core contains the small interface definitions that sit between the
// bridge and its collaborators. Keep these interfaces minimal; they describe
// side-effect boundaries implemented by the db and transport layers.
package core

import (
	"context"
	"errors"

	"github.com/toeirei/cartbridge/internal/model"
)

// ErrStoreUnavailable is returned by a StatusResolver when the backing store
// cannot be reached, a query fails or the bounded wait elapses. It is distinct
// from a tag that is simply absent.
var ErrStoreUnavailable = errors.New("status store unavailable")

// Resolution is the outcome of a successful lookup. Found is false when the
// store holds no row for the tag.
type Resolution struct {
	Found  bool
	Status model.PaymentStatus
}

// Found builds a Resolution for an existing row.
func Found(status model.PaymentStatus) Resolution {
	return Resolution{Found: true, Status: status}
}

// NotFound is the Resolution for a tag absent from the store.
var NotFound = Resolution{}

// StatusResolver resolves a tag to its current payment status. Implementations
// must be safe for concurrent use and must bound every call in time.
type StatusResolver interface {
	Resolve(ctx context.Context, tag model.Tag) (Resolution, error)
}

// StatusWriter is the write side used by operators and the payment
// confirmation process. The bridge itself never writes.
type StatusWriter interface {
	SetStatus(ctx context.Context, tag model.Tag, code int) error
	DeleteStatus(ctx context.Context, tag model.Tag) (bool, error)
	ListStatuses(ctx context.Context) ([]model.PaymentRecord, error)
}

// StatusStore combines both sides.
type StatusStore interface {
	StatusResolver
	StatusWriter
	Close() error
}
