// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/cartbridge/internal/config"
	"github.com/toeirei/cartbridge/internal/transport"
	"github.com/toeirei/cartbridge/internal/transport/amqp"
	"github.com/toeirei/cartbridge/internal/transport/memory"
	"github.com/toeirei/cartbridge/internal/transport/mqtt"
)

// memoryBus backs the memory transport. Every command in this process shares
// it, so `serve` and `scan` can talk to each other in tests.
var memoryBus = memory.NewBus()

// newTransport builds the adapter selected by broker.transport.
func newTransport(cfg config.BrokerConfig, l *clog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "mqtt":
		return mqtt.New(mqtt.Config{
			URL:            cfg.URL,
			ClientID:       cfg.ClientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			CAFile:         cfg.CAFile,
			CertFile:       cfg.CertFile,
			KeyFile:        cfg.KeyFile,
			QoS:            byte(cfg.QoS),
			ConnectTimeout: cfg.ConnectTimeout,
			Logger:         l,
		})
	case "amqp":
		return amqp.New(amqp.Config{
			URL:            cfg.URL,
			CAFile:         cfg.CAFile,
			CertFile:       cfg.CertFile,
			KeyFile:        cfg.KeyFile,
			ConnectTimeout: cfg.ConnectTimeout,
			Logger:         l,
		})
	case "memory":
		return memoryBus.Client(), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
