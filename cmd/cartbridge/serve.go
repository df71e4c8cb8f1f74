// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toeirei/cartbridge/internal/bridge"
	"github.com/toeirei/cartbridge/internal/logging"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Long: `Connects to the broker, subscribes to the request topic and answers every
tag scan on the response topic. Lost connections are re-established with
exponential backoff. SIGINT or SIGTERM drains in-flight requests and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	l := logging.L
	t, err := newTransport(a.cfg.Broker, l)
	if err != nil {
		return err
	}
	b, err := bridge.New(t, store, bridge.Config{
		RequestTopic:   a.cfg.Bridge.RequestTopic,
		ResponseTopic:  a.cfg.Bridge.ResponseTopic,
		Workers:        a.cfg.Bridge.Workers,
		OnStoreError:   bridge.StoreErrorPolicy(a.cfg.Bridge.OnStoreError),
		PublishTimeout: a.cfg.Broker.ConnectTimeout,
		Logger:         l,
	})
	if err != nil {
		return err
	}
	l.Info("starting cartbridge",
		"store", a.cfg.Database.Type,
		"transport", a.cfg.Broker.Transport,
		"request_topic", a.cfg.Bridge.RequestTopic,
		"response_topic", a.cfg.Bridge.ResponseTopic)
	return b.Run(ctx)
}
