// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/blinklabs-io/prism/ledgersync"
	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "prism.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultBlobPlugin      = "badger"
	DefaultMetadataPlugin  = "sqlite"
	DefaultShutdownTimeout = "30s"
	DefaultPollInterval    = "20s"
	DefaultForkPolicy      = "mark"
	DefaultConfirmations   = 0
)

// ProviderType selects the source of ledger data for a ledger
type ProviderType string

const (
	ProviderDbsync     ProviderType = "dbsync"
	ProviderBlockfrost ProviderType = "blockfrost"
	ProviderMemory     ProviderType = "memory"
)

func (p ProviderType) Valid() bool {
	switch p {
	case ProviderDbsync, ProviderBlockfrost, ProviderMemory:
		return true
	default:
		return false
	}
}

// LedgerConfig describes one indexed ledger. DSN is used by the dbsync
// provider, URL and ProjectID by the blockfrost provider. A memory ledger
// serves a Blockfrost compatible API on ListenAddress when it is set.
type LedgerConfig struct {
	Network       string       `yaml:"network"`
	Provider      ProviderType `yaml:"provider"`
	DSN           string       `yaml:"dsn"`
	URL           string       `yaml:"url"`
	ProjectID     string       `yaml:"projectId"     split_words:"true"`
	ListenAddress string       `yaml:"listenAddress" split_words:"true"`
	StartEpoch    uint64       `yaml:"startEpoch"    split_words:"true"`
}

type tempConfig struct {
	Config   yaml.Node       `yaml:"config,omitempty"`
	Database *databaseConfig `yaml:"database,omitempty"`
}

type databaseConfig struct {
	Blob     *blobConfig     `yaml:"blob,omitempty"`
	Metadata *metadataConfig `yaml:"metadata,omitempty"`
}

type blobConfig struct {
	Plugin   string `yaml:"plugin"`
	Location string `yaml:"location"`
}

type metadataConfig struct {
	Plugin string `yaml:"plugin"`
	DSN    string `yaml:"dsn"`
}

type Config struct {
	DatabasePath    string         `yaml:"databasePath"    split_words:"true"`
	BlobPlugin      string         `yaml:"blobPlugin"      envconfig:"DATABASE_BLOB_PLUGIN"`
	BlobLocation    string         `yaml:"blobLocation"    envconfig:"DATABASE_BLOB_LOCATION"`
	MetadataPlugin  string         `yaml:"metadataPlugin"  envconfig:"DATABASE_METADATA_PLUGIN"`
	MetadataDsn     string         `yaml:"metadataDsn"     envconfig:"DATABASE_METADATA_DSN"`
	Ledgers         []LedgerConfig `yaml:"ledgers"         ignored:"true"`
	PollInterval    string         `yaml:"pollInterval"    split_words:"true"`
	ForkPolicy      string         `yaml:"forkPolicy"      split_words:"true"`
	ShutdownTimeout string         `yaml:"shutdownTimeout" split_words:"true"`
	BindAddr        string         `yaml:"bindAddr"        split_words:"true"`
	LogLevel        string         `yaml:"logLevel"        split_words:"true"`
	LogFormat       string         `yaml:"logFormat"       split_words:"true"`
	// Single ledger set from the environment, added to Ledgers
	Ledger        LedgerConfig `yaml:"-"             envconfig:"LEDGER"`
	Confirmations uint64       `yaml:"confirmations"`
	MetricsPort   uint         `yaml:"metricsPort"   split_words:"true"`
	Tracing       bool         `yaml:"tracing"`
	TracingStdout bool         `yaml:"tracingStdout" split_words:"true"`
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath:    ".prism",
		BlobPlugin:      DefaultBlobPlugin,
		MetadataPlugin:  DefaultMetadataPlugin,
		PollInterval:    DefaultPollInterval,
		ForkPolicy:      DefaultForkPolicy,
		ShutdownTimeout: DefaultShutdownTimeout,
		BindAddr:        "0.0.0.0",
		MetricsPort:     12798,
		LogLevel:        "info",
		LogFormat:       "json",
		Confirmations:   DefaultConfirmations,
	}
}

var globalConfig = defaultConfig()

// LoadConfig builds the configuration from the defaults, the YAML config
// file and the environment, in that order. Without an explicit file,
// ~/.prism/prism.yaml and then /etc/prism/prism.yaml are tried.
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".prism", "prism.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/prism/prism.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := cfg.parseYAML(buf); err != nil {
			return nil, err
		}
	}
	// Process environment variables
	if err := envconfig.Process("prism", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if cfg.Ledger.Network != "" {
		cfg.Ledgers = append(cfg.Ledgers, cfg.Ledger)
		cfg.Ledger = LedgerConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func (c *Config) parseYAML(buf []byte) error {
	// First unmarshal into temp config to handle the database section
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if !tempCfg.Config.IsZero() {
		// Overlay the config section onto existing defaults
		if err := tempCfg.Config.Decode(c); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else {
		// Otherwise unmarshal the whole file as main config
		if err := yaml.Unmarshal(buf, c); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if db := tempCfg.Database; db != nil {
		if db.Blob != nil {
			if db.Blob.Plugin != "" {
				c.BlobPlugin = db.Blob.Plugin
			}
			if db.Blob.Location != "" {
				c.BlobLocation = db.Blob.Location
			}
		}
		if db.Metadata != nil {
			if db.Metadata.Plugin != "" {
				c.MetadataPlugin = db.Metadata.Plugin
			}
			if db.Metadata.DSN != "" {
				c.MetadataDsn = db.Metadata.DSN
			}
		}
	}
	return nil
}

// Validate checks the ledger list and the duration and enum fields
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Ledgers))
	for i, ledger := range c.Ledgers {
		if _, ok := ouroboros.NetworkByName(ledger.Network); !ok {
			errs = append(errs, fmt.Errorf("ledgers[%d]: unknown network %q", i, ledger.Network))
		}
		if seen[ledger.Network] {
			errs = append(errs, fmt.Errorf("ledgers[%d]: duplicate network %q", i, ledger.Network))
		}
		seen[ledger.Network] = true
		if !ledger.Provider.Valid() {
			errs = append(
				errs,
				fmt.Errorf(
					"ledgers[%d]: invalid provider %q (must be 'dbsync', 'blockfrost', or 'memory')",
					i,
					ledger.Provider,
				),
			)
		}
		if ledger.Provider == ProviderDbsync && ledger.DSN == "" {
			errs = append(errs, fmt.Errorf("ledgers[%d]: dbsync provider requires a dsn", i))
		}
	}
	for name, val := range map[string]string{
		"pollInterval":    c.PollInterval,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid logFormat: %q (must be 'json' or 'text')", c.LogFormat))
	}
	if _, err := ledgersync.ParseForkPolicy(c.ForkPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PollIntervalDuration returns the parsed poll interval
func (c *Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultShutdownTimeout)
	}
	return d
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid logLevel: %w", err)
	}
	return level, nil
}

func GetConfig() *Config {
	return globalConfig
}
