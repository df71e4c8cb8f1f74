// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the plain data types shared by the store, the
// transports and the bridge.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tag identifies a physical item scanned by a cart reader. It is opaque;
// only its presence is checked.
type Tag string

// PaymentStatus is the resolved payment state of a tag.
type PaymentStatus int

const (
	// NotPaid is stored as code 0.
	NotPaid PaymentStatus = iota
	// Paid is any non-zero code.
	Paid
)

// String returns a human readable representation of the status.
func (s PaymentStatus) String() string {
	switch s {
	case Paid:
		return "paid"
	case NotPaid:
		return "not_paid"
	default:
		return fmt.Sprintf("PaymentStatus(%d)", int(s))
	}
}

// Code returns the canonical store code for the status.
func (s PaymentStatus) Code() int {
	if s == Paid {
		return 1
	}
	return 0
}

// StatusFromCode maps a raw store code onto a PaymentStatus. Only 0 means
// not paid; every other value counts as paid.
func StatusFromCode(code int) PaymentStatus {
	if code == 0 {
		return NotPaid
	}
	return Paid
}

// ParseStatus accepts the operator spellings used by the CLI ("paid",
// "unpaid", "not_paid") as well as raw integer codes.
func ParseStatus(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "yes", "true":
		return Paid.Code(), nil
	case "unpaid", "not_paid", "notpaid", "no", "false":
		return NotPaid.Code(), nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid payment status %q: expected paid, unpaid or an integer code", s)
	}
	return code, nil
}

// InboundEvent is the payload published by a cart when it reads a tag.
type InboundEvent struct {
	Tag Tag `json:"tag"`
}

// OutboundEvent is the actuation decision sent back to the cart.
type OutboundEvent struct {
	Buzz bool `json:"buzz"`
}

// PaymentRecord is one row of the payment_confirmation table.
type PaymentRecord struct {
	Tag       Tag       `json:"tag"`
	Code      int       `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status returns the PaymentStatus derived from the stored code.
func (r PaymentRecord) Status() PaymentStatus {
	return StatusFromCode(r.Code)
}
