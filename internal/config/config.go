// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config provides configuration loading, merging and persistence for
// cartbridge. It uses Viper for file/env/flag parsing and goccy/go-yaml to
// write configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Broker   BrokerConfig   `mapstructure:"broker" yaml:"broker"`
	Bridge   BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DatabaseConfig selects the payment status store.
type DatabaseConfig struct {
	Type         string        `mapstructure:"type" yaml:"type"`
	Dsn          string        `mapstructure:"dsn" yaml:"dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// BrokerConfig describes the already-provisioned pub/sub channel.
type BrokerConfig struct {
	Transport      string        `mapstructure:"transport" yaml:"transport"`
	URL            string        `mapstructure:"url" yaml:"url"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	CAFile         string        `mapstructure:"ca_file" yaml:"ca_file"`
	CertFile       string        `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile        string        `mapstructure:"key_file" yaml:"key_file"`
	QoS            int           `mapstructure:"qos" yaml:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// BridgeConfig controls the message pipeline.
type BridgeConfig struct {
	RequestTopic  string `mapstructure:"request_topic" yaml:"request_topic"`
	ResponseTopic string `mapstructure:"response_topic" yaml:"response_topic"`
	Workers       int    `mapstructure:"workers" yaml:"workers"`
	OnStoreError  string `mapstructure:"on_store_error" yaml:"on_store_error"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults returns the built-in defaults keyed by their viper path.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":          "sqlite",
		"database.dsn":           "./cartbridge.db",
		"database.query_timeout": "3s",
		"broker.transport":       "mqtt",
		"broker.url":             "tcp://localhost:1883",
		"broker.client_id":       "cartbridge",
		"broker.qos":             1,
		"broker.connect_timeout": "10s",
		"bridge.request_topic":   "smartcart/payment",
		"bridge.response_topic":  "smartcart/response",
		"bridge.workers":         4,
		"bridge.on_store_error":  "buzz",
		"log.level":              "info",
		"log.format":             "auto",
	}
}

// Validate checks the values that cannot be defaulted sensibly.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.type: unsupported value %q", c.Database.Type))
	}
	if c.Database.Dsn == "" {
		errs = append(errs, errors.New("database.dsn: must not be empty"))
	}
	switch c.Broker.Transport {
	case "mqtt", "amqp", "memory":
	default:
		errs = append(errs, fmt.Errorf("broker.transport: unsupported value %q", c.Broker.Transport))
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker.qos: must be 0, 1 or 2, got %d", c.Broker.QoS))
	}
	if c.Bridge.RequestTopic == "" || c.Bridge.ResponseTopic == "" {
		errs = append(errs, errors.New("bridge: request_topic and response_topic are required"))
	}
	if c.Bridge.Workers < 1 {
		errs = append(errs, fmt.Errorf("bridge.workers: must be at least 1, got %d", c.Bridge.Workers))
	}
	switch c.Bridge.OnStoreError {
	case "buzz", "drop":
	default:
		errs = append(errs, fmt.Errorf("bridge.on_store_error: expected buzz or drop, got %q", c.Bridge.OnStoreError))
	}
	return errors.Join(errs...)
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Cartbridge")
		default:
			configDir = "/etc/cartbridge"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "cartbridge")
	}

	return filepath.Join(configDir, "cartbridge.yaml"), nil
}

// LoadConfig resolves configuration from defaults, config files, the
// environment and the command's flags, in increasing order of precedence.
// A missing config file is not an error.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("cartbridge")
	v.SetConfigType("yaml")

	// An explicit --config path takes precedence over the search paths.
	if additionalConfigFilePath != nil && *additionalConfigFilePath != "" {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("cartbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}

	return c, nil
}

// WriteConfigFile persists c as YAML to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo persists c as YAML at path, creating parent directories.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may contain broker credentials.
	return os.WriteFile(path, data, 0600)
}
