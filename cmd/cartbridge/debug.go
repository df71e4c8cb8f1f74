// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newDebugCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Dump debug information about config, env and flags",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "--- CARTBRIDGE DEBUG ---")
			fmt.Fprintf(out, "Config file flag: %q\n", a.cfgFile)

			fmt.Fprintln(out, "-- effective config --")
			if b, err := yaml.Marshal(redacted(a.cfg)); err != nil {
				fmt.Fprintf(out, "could not marshal config: %v\n", err)
			} else {
				fmt.Fprint(out, string(b))
			}

			fmt.Fprintln(out, "-- flags --")
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				val := f.Value.String()
				if f.Name == "broker.password" && val != "" {
					val = "********"
				}
				fmt.Fprintf(out, "%s = %s (changed=%t)\n", f.Name, val, f.Changed)
			})

			fmt.Fprintln(out, "-- environment (CARTBRIDGE_*) --")
			for _, e := range os.Environ() {
				if !strings.HasPrefix(e, "CARTBRIDGE_") {
					continue
				}
				if strings.HasPrefix(e, "CARTBRIDGE_BROKER_PASSWORD=") {
					e = "CARTBRIDGE_BROKER_PASSWORD=********"
				}
				fmt.Fprintln(out, e)
			}
			fmt.Fprintf(out, "PWD=%s\n", os.Getenv("PWD"))
			fmt.Fprintln(out, "--- END DEBUG ---")
		},
	}
}
