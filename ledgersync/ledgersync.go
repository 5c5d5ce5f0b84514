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

// Package ledgersync follows a ledger through a provider and applies the
// protocol operations found on it to the state store
package ledgersync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/provider"
	"github.com/prometheus/client_golang/prometheus"
)

// Progress describes the outcome of one sync step
type Progress struct {
	// Applied is the block applied by the step
	Applied *models.Block
	// RolledBack is the number of stored blocks removed from the chain
	RolledBack int
	Rejected   int
	// Idle is set when the step found nothing to do
	Idle bool
}

// Orchestrator runs the sync loop of one ledger. Its methods must not be
// called concurrently.
type Orchestrator struct {
	config  Config
	logger  *slog.Logger
	db      *database.Database
	ledger  *models.Ledger
	metrics syncMetrics
}

// New returns the sync loop for cfg.Network
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	promRegistry := cfg.PromRegistry
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	o := &Orchestrator{
		config: cfg,
		logger: cfg.Logger.With(
			"component", "ledgersync",
			"network", cfg.Network,
		),
		db: cfg.Database,
	}
	o.metrics.init(promRegistry, cfg.Network)
	return o, nil
}

// Network returns the network the loop follows
func (o *Orchestrator) Network() string {
	return o.config.Network
}

// Run repeats sync steps until ctx is done. Steps follow each other
// immediately while there is work and are PollInterval apart otherwise.
// Infrastructure failures end the loop and are returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info(
		"starting sync loop",
		"poll_interval", o.config.PollInterval.String(),
		"confirmations", o.config.Confirmations,
		"fork_policy", string(o.config.ForkPolicy),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stopping sync loop")
			return nil
		case <-timer.C:
		}
		progress, err := o.SyncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if progress.Idle {
			timer.Reset(o.config.PollInterval)
		} else {
			timer.Reset(0)
		}
	}
}

// SyncOnce runs a single sync step: verify the checkpoint, then roll back
// or apply the next block with protocol metadata
func (o *Orchestrator) SyncOnce(ctx context.Context) (*Progress, error) {
	if err := o.loadLedger(); err != nil {
		return nil, err
	}
	checkpoint, err := o.checkpoint()
	if err != nil {
		return nil, err
	}
	if checkpoint != nil {
		rolledBack, err := o.checkFork(ctx, checkpoint)
		if err != nil {
			return nil, err
		}
		if rolledBack > 0 {
			return &Progress{RolledBack: rolledBack}, nil
		}
	}
	tip, err := o.config.Provider.GetTip(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return &Progress{Idle: true}, nil
		}
		return nil, fmt.Errorf("get tip: %w", err)
	}
	o.metrics.tipHeight.Set(float64(tip.Height))
	var confirmedHeight uint64
	if tip.Height > o.config.Confirmations {
		confirmedHeight = tip.Height - o.config.Confirmations
	}
	afterHeight, ok, err := o.startHeight(ctx, checkpoint)
	if err != nil {
		return nil, err
	}
	if !ok || afterHeight >= confirmedHeight {
		return o.idle()
	}
	candidate, err := o.config.Provider.GetNextBlockWithProtocolMetadata(ctx, afterHeight)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return o.idle()
		}
		return nil, fmt.Errorf("get next block after height %d: %w", afterHeight, err)
	}
	if candidate.Height <= afterHeight {
		return nil, fmt.Errorf(
			"provider returned block at height %d after height %d",
			candidate.Height,
			afterHeight,
		)
	}
	if candidate.Height > confirmedHeight {
		return o.idle()
	}
	// The candidate directly follows the checkpoint but does not link to it
	if checkpoint != nil &&
		candidate.PrevHeight() == checkpoint.Height &&
		!bytes.Equal(candidate.PrevHash, checkpoint.Hash) {
		o.logger.Warn(
			"next block does not link to the checkpoint",
			"height", candidate.Height,
			"prev_hash", fmt.Sprintf("%x", candidate.PrevHash),
			"checkpoint_hash", fmt.Sprintf("%x", checkpoint.Hash),
		)
		rolledBack, err := o.rollbackFrom(ctx, checkpoint)
		if err != nil {
			return nil, err
		}
		return &Progress{RolledBack: rolledBack}, nil
	}
	return o.applyBlock(ctx, candidate)
}

func (o *Orchestrator) loadLedger() error {
	if o.ledger != nil {
		return nil
	}
	ledger, err := o.db.LedgerCreate(o.config.Network, nil)
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", o.config.Network, err)
	}
	o.ledger = ledger
	return nil
}

// checkpoint returns the most recent stored block, or nil for an empty ledger
func (o *Orchestrator) checkpoint() (*models.Block, error) {
	block, err := o.db.BlockLatest(o.ledger.ID, nil)
	if err != nil {
		if errors.Is(err, models.ErrBlockNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	o.metrics.checkpointHeight.Set(float64(block.Height))
	return block, nil
}

// startHeight returns the height to search for the next block after. It
// reports false while a configured start epoch has not begun yet.
func (o *Orchestrator) startHeight(
	ctx context.Context,
	checkpoint *models.Block,
) (uint64, bool, error) {
	if checkpoint != nil {
		return checkpoint.Height, true, nil
	}
	if o.config.StartEpoch == nil {
		return 0, true, nil
	}
	first, err := o.config.Provider.GetFirstBlockOfEpoch(ctx, *o.config.StartEpoch)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf(
			"get first block of epoch %d: %w",
			*o.config.StartEpoch,
			err,
		)
	}
	return first.PrevHeight(), true, nil
}

func (o *Orchestrator) idle() (*Progress, error) {
	if err := o.db.LedgerSetLastSynced(o.ledger.ID, time.Now(), nil); err != nil {
		return nil, fmt.Errorf("update last synced time: %w", err)
	}
	return &Progress{Idle: true}, nil
}

func (o *Orchestrator) publish(eventType event.EventType, data any) {
	if o.config.EventBus == nil {
		return
	}
	o.config.EventBus.Publish(eventType, event.NewEvent(eventType, data))
}
