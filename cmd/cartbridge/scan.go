// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/cartbridge/internal/logging"
	"github.com/toeirei/cartbridge/internal/model"
)

// newScanCmd plays a cart: it publishes one tag scan and prints the first
// decision seen on the response topic.
func newScanCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan <tag>",
		Short: "Publish a tag scan and wait for the bridge's answer",
		Long: `Simulates a smart cart reading a tag. The response topic is shared, so
with several carts active the first decision seen is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			buzz, err := a.scan(ctx, model.Tag(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: buzz=%t\n", args[0], buzz)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the answer")
	return cmd
}

func (a *app) scan(ctx context.Context, tag model.Tag) (bool, error) {
	t, err := newTransport(a.cfg.Broker, logging.L)
	if err != nil {
		return false, err
	}
	defer func() { _ = t.Close() }()

	if err := t.Connect(ctx); err != nil {
		return false, err
	}
	sub, err := t.Subscribe(ctx, a.cfg.Bridge.ResponseTopic)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(model.InboundEvent{Tag: tag})
	if err != nil {
		return false, err
	}
	if err := t.Publish(ctx, a.cfg.Bridge.RequestTopic, payload); err != nil {
		return false, err
	}

	for {
		select {
		case msg := <-sub.C:
			msg.Ack()
			var ev model.OutboundEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.L.Warn("ignoring malformed response", "payload", string(msg.Payload))
				continue
			}
			return ev.Buzz, nil
		case <-sub.Done():
			return false, fmt.Errorf("subscription ended: %w", sub.Err())
		case <-ctx.Done():
			return false, fmt.Errorf("no answer on %s: %w", a.cfg.Bridge.ResponseTopic, ctx.Err())
		}
	}
}
