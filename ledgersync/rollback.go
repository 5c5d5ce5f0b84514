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

package ledgersync

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/prism/database"
	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/event"
	"github.com/blinklabs-io/prism/provider"
)

// checkFork compares the checkpoint with the block the provider has at the
// same height and rolls back when they differ. It returns the number of
// stored blocks removed from the chain.
func (o *Orchestrator) checkFork(
	ctx context.Context,
	checkpoint *models.Block,
) (int, error) {
	canonical, err := o.config.Provider.GetBlockByHeight(ctx, checkpoint.Height)
	if err != nil {
		if !errors.Is(err, provider.ErrNotFound) {
			return 0, fmt.Errorf("get block at height %d: %w", checkpoint.Height, err)
		}
		canonical = nil
	}
	if canonical != nil && bytes.Equal(canonical.Hash, checkpoint.Hash) {
		return 0, nil
	}
	o.logger.Warn(
		"checkpoint is no longer on the chain",
		"height", checkpoint.Height,
		"hash", fmt.Sprintf("%x", checkpoint.Hash),
	)
	return o.rollbackFrom(ctx, checkpoint)
}

// rollbackFrom removes the stored blocks above the common ancestor of the
// stored chain ending at checkpoint and the provider's chain
func (o *Orchestrator) rollbackFrom(
	ctx context.Context,
	checkpoint *models.Block,
) (int, error) {
	ancestor, err := o.commonAncestor(ctx, checkpoint)
	if err != nil {
		return 0, err
	}
	return o.rollback(ancestor, checkpoint.Height)
}

// commonAncestor walks the stored blocks down from below checkpoint in
// batches and returns the height of the highest one still on the
// provider's chain, or zero when none is
func (o *Orchestrator) commonAncestor(
	ctx context.Context,
	checkpoint *models.Block,
) (uint64, error) {
	below := checkpoint.Height
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		stored, err := o.db.BlocksBelow(o.ledger.ID, below, o.config.RollbackBatch, nil)
		if err != nil {
			return 0, fmt.Errorf("load blocks below height %d: %w", below, err)
		}
		if len(stored) == 0 {
			return 0, nil
		}
		heights := make([]uint64, 0, len(stored))
		for _, block := range stored {
			heights = append(heights, block.Height)
		}
		canonical, err := o.config.Provider.GetBlocksByHeights(ctx, heights)
		if err != nil {
			return 0, fmt.Errorf("get blocks by heights: %w", err)
		}
		canonicalHashes := make(map[uint64][]byte, len(canonical))
		for _, block := range canonical {
			canonicalHashes[block.Height] = block.Hash
		}
		// Stored blocks are highest first
		for _, block := range stored {
			if bytes.Equal(canonicalHashes[block.Height], block.Hash) {
				return block.Height, nil
			}
		}
		below = stored[len(stored)-1].Height
	}
}

// rollback removes every stored block above ancestor according to the
// fork policy, in a single transaction
func (o *Orchestrator) rollback(ancestor uint64, tipHeight uint64) (int, error) {
	var count int
	err := o.db.Update(func(txn *database.Txn) error {
		blocks, err := o.db.BlocksAbove(o.ledger.ID, ancestor, txn)
		if err != nil {
			return err
		}
		for i := range blocks {
			switch o.config.ForkPolicy {
			case ForkPolicyDelete:
				err = o.db.BlockDelete(&blocks[i], txn)
			default:
				err = o.db.BlockMarkFork(&blocks[i], txn)
			}
			if err != nil {
				return fmt.Errorf("roll back block at height %d: %w", blocks[i].Height, err)
			}
		}
		count = len(blocks)
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.metrics.rollbacks.Inc()
	o.metrics.rolledBackBlocks.Add(float64(count))
	o.metrics.checkpointHeight.Set(float64(ancestor))
	o.logger.Info(
		"rolled back to common ancestor",
		"ancestor_height", ancestor,
		"blocks", count,
		"policy", string(o.config.ForkPolicy),
	)
	o.publish(event.RollbackEventType, event.RollbackEvent{
		Network:        o.ledger.Network,
		Policy:         string(o.config.ForkPolicy),
		AncestorHeight: ancestor,
		TipHeight:      tipHeight,
		Blocks:         count,
	})
	return count, nil
}
