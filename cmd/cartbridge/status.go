// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/cartbridge/internal/bridge"
	"github.com/toeirei/cartbridge/internal/model"
)

// newStatusCmd is the root of the operator commands that read and write the
// payment_confirmation table directly.
func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect and edit payment statuses",
		Long: `The 'status' command group reads and writes the payment_confirmation table
the bridge resolves tags against:
  - get, set and delete single tags
  - list every known tag
  - export and import zstd-compressed snapshots`,
	}
	cmd.AddCommand(
		newStatusGetCmd(a),
		newStatusSetCmd(a),
		newStatusDeleteCmd(a),
		newStatusListCmd(a),
		newStatusExportCmd(a),
		newStatusImportCmd(a),
	)
	return cmd
}

func newStatusGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tag>",
		Short: "Show the payment status of a tag and the decision the bridge would publish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tag := model.Tag(args[0])
			res, err := store.Resolve(cmd.Context(), tag)
			if err != nil {
				return err
			}
			status := "not found"
			if res.Found {
				status = res.Status.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (buzz=%t)\n", tag, status, bridge.Decide(res))
			return nil
		},
	}
}

func newStatusSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <tag> <paid|unpaid|code>",
		Short: "Insert or update the payment status of a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := model.ParseStatus(args[1])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tag := model.Tag(args[0])
			if err := store.SetStatus(cmd.Context(), tag, code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s (code %d)\n", tag, model.StatusFromCode(code), code)
			return nil
		},
	}
}

func newStatusDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tag>",
		Short: "Remove a tag from the payment table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			existed, err := store.DeleteStatus(cmd.Context(), model.Tag(args[0]))
			if err != nil {
				return err
			}
			if !existed {
				return fmt.Errorf("tag %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}
}

func newStatusListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tag with its payment status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.ListStatuses(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No payment records found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tSTATUS\tCODE\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Tag, r.Status(), r.Code, r.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newStatusExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a compressed snapshot of the payment table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return err
			}
			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			n, err := store.Export(cmd.Context(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Snapshot file to write (0600)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newStatusImportCmd(a *app) *cobra.Command {
	var replace, yes bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a snapshot written by 'status export'",
		Long: `Upserts every record of the snapshot. With --replace the table is emptied
first, which removes tags missing from the snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if replace && !yes {
				answer := promptForConfirmation(cmd.OutOrStdout(), cmd.InOrStdin(),
					"This deletes every payment record not in the snapshot. Continue? (yes/no): ")
				if answer != "yes" && answer != "y" {
					return errors.New("import aborted")
				}
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Import(cmd.Context(), f, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete existing records first")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
