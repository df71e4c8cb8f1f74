// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for cartbridge using Cobra. It
// defines the root command, the persistent configuration flags and the
// subcommands (serve, status, scan, migrate, maintain, config, debug).

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/cartbridge/buildvars"
	"github.com/toeirei/cartbridge/internal/config"
	"github.com/toeirei/cartbridge/internal/db"
	"github.com/toeirei/cartbridge/internal/logging"
)

var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}

// app carries the state shared by one command tree. Tests build a fresh tree
// per case through newRootCmd.
type app struct {
	cfgFile string
	verbose bool
	cfg     config.Config
}

// newRootCmd creates the root command with all subcommands attached.
func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "cartbridge",
		Short: "Cartbridge answers smart cart tag scans with a payment buzz.",
		Long: `Cartbridge listens for tag scans published by smart carts, looks up the
payment status of each tag in the payment_confirmation table and publishes
{"buzz": true} for anything not yet paid.

Run 'cartbridge serve' to start the bridge.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	cmd.Version = composeVersion(resolveBuildVersion(nil))

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: search user config dir, /etc/cartbridge and .)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose database logging")
	pf.String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	pf.String("database.dsn", "./cartbridge.db", "Database connection string (DSN)")
	pf.Duration("database.query_timeout", 0, "Bound on every status lookup (default 3s)")
	pf.String("broker.transport", "mqtt", "Transport (mqtt, amqp, memory)")
	pf.String("broker.url", "tcp://localhost:1883", "Broker URL")
	pf.String("broker.client_id", "cartbridge", "MQTT client id prefix")
	pf.String("broker.username", "", "Broker username")
	pf.String("broker.password", "", "Broker password")
	pf.String("broker.ca_file", "", "CA certificate (PEM) used to verify the broker")
	pf.String("broker.cert_file", "", "Client certificate (PEM)")
	pf.String("broker.key_file", "", "Client private key (PEM)")
	pf.Int("broker.qos", 1, "MQTT quality of service (0, 1, 2)")
	pf.String("bridge.request_topic", "smartcart/payment", "Topic carts publish tag scans to")
	pf.String("bridge.response_topic", "smartcart/response", "Topic decisions are published to")
	pf.Int("bridge.workers", 4, "Maximum concurrently handled requests")
	pf.String("bridge.on_store_error", "buzz", "Reply when the store is unreachable (buzz, drop)")
	pf.String("log.level", "info", "Log level (debug, info, warn, error)")
	pf.String("log.format", "auto", "Log format (auto, text, json, logfmt)")

	cmd.AddCommand(
		newServeCmd(a),
		newStatusCmd(a),
		newScanCmd(a),
		newMigrateCmd(a),
		newMaintainCmd(a),
		newConfigCmd(a),
		newDebugCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setup loads and validates configuration and initializes logging before
// any subcommand runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	a.cfg, err = config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Init(a.cfg.Log.Level, a.cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return err
	}
	db.SetDebug(a.verbose)
	return nil
}

// openStore opens the configured status store and applies pending migrations.
func (a *app) openStore() (*db.Store, error) {
	s, err := db.Open(a.cfg.Database.Type, a.cfg.Database.Dsn, db.WithQueryTimeout(a.cfg.Database.QueryTimeout))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Database.Type, err)
	}
	return s, nil
}

// getConfigPathFromCli returns the --config path when the flag was set. The
// file must exist.
func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// promptForConfirmation displays a prompt and reads one line from in.
func promptForConfirmation(out io.Writer, in io.Reader, prompt string) string {
	fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

// resolveBuildVersion computes the best-available version, commit and build
// date. If info is nil it reads build info from the runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault("dev")
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}
	if info != nil {
		if resolvedVersion == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" && resolvedCommit == "dev" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" && resolvedDate == "" {
					resolvedDate = s.Value
				}
			}
		}
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}

func composeVersion(v, c, d string) string {
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// Printing the version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}
