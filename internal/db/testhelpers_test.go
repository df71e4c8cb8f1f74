// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"strings"
	"testing"
)

// newTestStore opens an in-memory sqlite Store private to the calling test.
func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open("sqlite", "file:"+name+"?mode=memory&cache=shared", opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedRaw inserts rows the way the external payment-confirmation process
// does, bypassing SetStatus.
func seedRaw(t *testing.T, s *Store, rows map[string]int) {
	t.Helper()
	for tag, code := range rows {
		if _, err := s.bun.ExecContext(context.Background(),
			"INSERT INTO payment_confirmation (id, status) VALUES (?, ?)", tag, code); err != nil {
			t.Fatalf("seed %s: %v", tag, err)
		}
	}
}
