// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/toeirei/cartbridge/internal/core"
	"github.com/toeirei/cartbridge/internal/model"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// PaymentModel maps the payment_confirmation table for Bun queries.
type PaymentModel struct {
	bun.BaseModel `bun:"table:payment_confirmation"`
	ID            string    `bun:"id,pk"`
	Status        int       `bun:"status,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (m PaymentModel) toRecord() model.PaymentRecord {
	return model.PaymentRecord{Tag: model.Tag(m.ID), Code: m.Status, UpdatedAt: m.UpdatedAt}
}

// Resolve looks up the payment status of tag. An absent row yields
// core.NotFound with a nil error; any failure to reach or query the store,
// including the bounded wait elapsing, yields core.ErrStoreUnavailable.
func (s *Store) Resolve(ctx context.Context, tag model.Tag) (core.Resolution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row PaymentModel
	err := s.bun.NewSelect().
		Model(&row).
		Column("status").
		Where("id = ?", string(tag)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound, nil
		}
		return core.Resolution{}, unavailable("resolve", err)
	}
	return core.Found(model.StatusFromCode(row.Status)), nil
}

// SetStatus inserts or updates the status code for tag.
func (s *Store) SetStatus(ctx context.Context, tag model.Tag, code int) error {
	if tag == "" {
		return ErrEmptyTag
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := PaymentModel{ID: string(tag), Status: code, UpdatedAt: time.Now().UTC()}
	if _, err := upsert(s.bun, &row).Exec(ctx); err != nil {
		return fmt.Errorf("set status for %s: %w", tag, MapDBError(err))
	}
	dbLogf("status for %s set to %d", tag, code)
	return nil
}

// upsert builds an insert that overwrites status and updated_at on conflict.
// MySQL has its own spelling for the conflict clause.
func upsert(idb bun.IDB, row *PaymentModel) *bun.InsertQuery {
	q := idb.NewInsert().Model(row)
	if idb.Dialect().Name() == dialect.MySQL {
		q = q.On("DUPLICATE KEY UPDATE")
	} else {
		q = q.On("CONFLICT (id) DO UPDATE")
	}
	return q.Set("status = ?", row.Status).Set("updated_at = ?", row.UpdatedAt)
}

// DeleteStatus removes the row for tag. It reports whether a row existed.
func (s *Store) DeleteStatus(ctx context.Context, tag model.Tag) (bool, error) {
	if tag == "" {
		return false, ErrEmptyTag
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.bun.NewDelete().
		Model((*PaymentModel)(nil)).
		Where("id = ?", string(tag)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete status for %s: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListStatuses returns every row ordered by tag.
func (s *Store) ListStatuses(ctx context.Context) ([]model.PaymentRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []PaymentModel
	if err := s.bun.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, unavailable("list", err)
	}
	out := make([]model.PaymentRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// ImportStatuses upserts records in a single transaction. Records keep their
// UpdatedAt when set. With replace, existing rows are deleted first.
func (s *Store) ImportStatuses(ctx context.Context, records []model.PaymentRecord, replace bool) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if replace {
			// Bun requires a WHERE clause on deletes; match every row.
			if _, err := tx.NewDelete().Model((*PaymentModel)(nil)).Where("1 = 1").Exec(ctx); err != nil {
				return fmt.Errorf("clear payment_confirmation: %w", err)
			}
		}
		now := time.Now().UTC()
		for _, r := range records {
			if r.Tag == "" {
				return ErrEmptyTag
			}
			row := PaymentModel{ID: string(r.Tag), Status: r.Code, UpdatedAt: r.UpdatedAt.UTC()}
			if r.UpdatedAt.IsZero() {
				row.UpdatedAt = now
			}
			if _, err := upsert(tx, &row).Exec(ctx); err != nil {
				return fmt.Errorf("import %s: %w", r.Tag, MapDBError(err))
			}
		}
		return nil
	})
}
