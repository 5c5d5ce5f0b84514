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

// Package prism indexes PRISM DID operations published on Cardano ledgers
package prism

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/ledgersync"
	"github.com/blinklabs-io/prism/resolver"
)

type Indexer struct {
	eventBus      *event.EventBus
	processor     *did.Processor
	orchestrators []*ledgersync.Orchestrator
	retries       *prometheus.CounterVec
	shutdownFuncs []func(context.Context) error
	config        Config
	ownEventBus   bool
	running       bool
	mu            sync.Mutex
}

func New(cfg Config) (*Indexer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	i := &Indexer{
		config:    cfg,
		eventBus:  cfg.eventBus,
		processor: did.NewProcessor(cfg.verifier),
	}
	if i.eventBus == nil {
		i.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
		i.ownEventBus = true
	}
	registry := cfg.promRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	i.retries = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_indexer_ledger_restarts_total",
			Help: "Ledger loops restarted after an infrastructure failure",
		},
		[]string{"network"},
	)
	for _, ledger := range cfg.ledgers {
		o, err := ledgersync.New(ledgersync.Config{
			Logger:        cfg.logger,
			Database:      cfg.db,
			Provider:      ledger.Provider,
			EventBus:      i.eventBus,
			PromRegistry:  cfg.promRegistry,
			Processor:     i.processor,
			Network:       ledger.Network,
			ForkPolicy:    cfg.forkPolicy,
			StartEpoch:    ledger.StartEpoch,
			Confirmations: cfg.confirmations,
			PollInterval:  cfg.pollInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("configure ledger %s: %w", ledger.Network, err)
		}
		i.orchestrators = append(i.orchestrators, o)
	}
	return i, nil
}

// EventBus returns the bus that sync events are published on
func (i *Indexer) EventBus() *event.EventBus {
	return i.eventBus
}

// Resolver returns a DID resolver over the indexed state
func (i *Indexer) Resolver() *resolver.Resolver {
	return resolver.New(
		i.config.db,
		resolver.WithLogger(i.config.logger),
		resolver.WithVerifier(i.config.verifier),
	)
}

// Run indexes every configured ledger until ctx is cancelled. Each ledger
// has its own loop, which is restarted with exponential backoff after an
// infrastructure failure.
func (i *Indexer) Run(ctx context.Context) (err error) {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return errors.New("indexer is already running")
	}
	i.running = true
	i.mu.Unlock()
	defer func() {
		err = errors.Join(err, i.shutdown())
	}()
	if i.config.tracing {
		if err := i.setupTracing(ctx); err != nil {
			return err
		}
	}
	i.config.logger.Info(
		"starting indexer",
		"component", "indexer",
		"ledgers", len(i.orchestrators),
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range i.orchestrators {
		g.Go(func() error {
			return i.runLedger(gctx, o)
		})
	}
	return g.Wait()
}

func (i *Indexer) runLedger(ctx context.Context, o *ledgersync.Orchestrator) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.config.retryInitialInterval
	b.MaxInterval = i.config.retryMaxInterval
	// Retry until cancelled
	b.MaxElapsedTime = 0
	err := backoff.RetryNotify(
		func() error {
			start := time.Now()
			err := o.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			// A loop that ran for a while was healthy before failing
			if time.Since(start) > b.MaxInterval {
				b.Reset()
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, wait time.Duration) {
			i.retries.WithLabelValues(o.Network()).Inc()
			i.config.logger.Error(
				"ledger sync failed, restarting",
				"component", "indexer",
				"network", o.Network(),
				"error", err,
				"retry_in", wait.String(),
			)
		},
	)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (i *Indexer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), i.config.shutdownTimeout)
	defer cancel()
	var err error
	for _, fn := range i.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	i.shutdownFuncs = nil
	if i.ownEventBus {
		i.eventBus.Stop()
	}
	i.mu.Lock()
	i.running = false
	i.mu.Unlock()
	i.config.logger.Debug("indexer stopped", "component", "indexer")
	return err
}
