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

package prism

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/signing"
)

const (
	DefaultRetryInitialInterval = 5 * time.Second
	DefaultRetryMaxInterval     = 5 * time.Minute
	DefaultShutdownTimeout      = 30 * time.Second
)

// LedgerConfig is a network to index and the source of its ledger data
type LedgerConfig struct {
	Provider   provider.Provider
	StartEpoch *uint64
	Network    string
}

type Config struct {
	promRegistry         prometheus.Registerer
	logger               *slog.Logger
	db                   *database.Database
	eventBus             *event.EventBus
	verifier             signing.Verifier
	ledgers              []LedgerConfig
	forkPolicy           ledgersync.ForkPolicy
	confirmations        uint64
	pollInterval         time.Duration
	retryInitialInterval time.Duration
	retryMaxInterval     time.Duration
	shutdownTimeout      time.Duration
	tracing              bool
	tracingStdout        bool
}

func (c *Config) validate() error {
	if c.db == nil {
		return errors.New("no database configured")
	}
	if len(c.ledgers) == 0 {
		return errors.New("no ledgers configured")
	}
	seen := make(map[string]bool, len(c.ledgers))
	for _, ledger := range c.ledgers {
		network, ok := ouroboros.NetworkByName(ledger.Network)
		if !ok {
			return fmt.Errorf("unknown network name: %s", ledger.Network)
		}
		if seen[network.Name] {
			return fmt.Errorf("network configured more than once: %s", network.Name)
		}
		seen[network.Name] = true
		if ledger.Provider == nil {
			return fmt.Errorf("no provider for network %s", ledger.Network)
		}
	}
	if _, err := ledgersync.ParseForkPolicy(string(c.forkPolicy)); err != nil {
		return err
	}
	if c.retryInitialInterval <= 0 {
		c.retryInitialInterval = DefaultRetryInitialInterval
	}
	if c.retryMaxInterval < c.retryInitialInterval {
		c.retryMaxInterval = max(DefaultRetryMaxInterval, c.retryInitialInterval)
	}
	if c.shutdownTimeout <= 0 {
		c.shutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the indexer config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new indexer config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabase specifies the state store shared by all ledgers
func WithDatabase(db *database.Database) ConfigOptionFunc {
	return func(c *Config) {
		c.db = db
	}
}

// WithLedger adds a named network to index with the provider of its ledger data
func WithLedger(network string, prov provider.Provider) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgers = append(c.ledgers, LedgerConfig{
			Network:  network,
			Provider: prov,
		})
	}
}

// WithStartEpoch makes a ledger without a checkpoint start indexing at the
// first block of the given epoch. It applies to a ledger added before it.
func WithStartEpoch(network string, epoch uint64) ConfigOptionFunc {
	return func(c *Config) {
		for i := range c.ledgers {
			if c.ledgers[i].Network == network {
				c.ledgers[i].StartEpoch = &epoch
			}
		}
	}
}

// WithPollInterval specifies how long a caught up ledger waits before
// polling its provider again
func WithPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pollInterval = interval
	}
}

// WithConfirmations specifies how many blocks must follow a block before it
// is indexed. The default is 0
func WithConfirmations(confirmations uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.confirmations = confirmations
	}
}

// WithForkPolicy specifies what happens to indexed blocks that left the chain
func WithForkPolicy(policy ledgersync.ForkPolicy) ConfigOptionFunc {
	return func(c *Config) {
		c.forkPolicy = policy
	}
}

// WithEventBus specifies the event bus to publish sync events on. A private
// bus is created by default
func WithEventBus(eventBus *event.EventBus) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBus = eventBus
	}
}

// WithVerifier specifies the hashing and signature collaborator
func WithVerifier(verifier signing.Verifier) ConfigOptionFunc {
	return func(c *Config) {
		c.verifier = verifier
	}
}

// WithRetryInterval specifies the initial and maximum wait before a ledger
// loop is restarted after an infrastructure failure
func WithRetryInterval(initial, maximum time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.retryInitialInterval = initial
		c.retryMaxInterval = maximum
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
