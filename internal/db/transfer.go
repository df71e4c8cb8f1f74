// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/cartbridge/internal/model"
)

// snapshotVersion is bumped whenever the Snapshot layout changes.
const snapshotVersion = 1

// Snapshot is the export format of the payment_confirmation table.
type Snapshot struct {
	Version    int                   `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Records    []model.PaymentRecord `json:"records"`
}

// Export writes a zstd-compressed JSON snapshot of all rows to w and returns
// the number of records written.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	records, err := s.ListStatuses(ctx)
	if err != nil {
		return 0, err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	snap := Snapshot{Version: snapshotVersion, ExportedAt: time.Now().UTC(), Records: records}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("flush zstd writer: %w", err)
	}
	return len(records), nil
}

// Import reads a snapshot written by Export and upserts its records. With
// replace, rows not present in the snapshot are removed.
func (s *Store) Import(ctx context.Context, r io.Reader, replace bool) (int, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if err := s.ImportStatuses(ctx, snap.Records, replace); err != nil {
		return 0, err
	}
	return len(snap.Records), nil
}
