// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Long: `Apply pending schema migrations and exit.

An existing payment_confirmation table is kept. If it lacks the updated_at
column, the column is added. The id column must be unique for status set
and import to work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Open runs the embedded migrations.
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to %s database\n", store.Type())
			return nil
		},
	}
}

func newMaintainCmd(a *app) *cobra.Command {
	var timeout int
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run engine-specific database maintenance (VACUUM, OPTIMIZE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
				defer cancel()
			}
			if err := store.Maintain(ctx); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Maintenance completed successfully")
			return nil
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Timeout in seconds for maintenance (0 means no timeout)")
	return cmd
}
