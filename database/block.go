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

package database

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/prism/database/models"
	"gorm.io/gorm"
)

// BlockCreate stores a canonical block. Storing a block that is already
// present returns the existing row, while a different block at the same
// height fails with ErrBlockHeightConflict.
func (d *Database) BlockCreate(block *models.Block, txn *Txn) (*models.Block, error) {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Release()
		ret, err := d.BlockCreate(block, txn)
		if err != nil {
			return nil, err
		}
		return ret, txn.Commit()
	}
	existing, err := d.BlockByHeight(block.LedgerID, block.Height, txn)
	if err != nil && !errors.Is(err, models.ErrBlockNotFound) {
		return nil, err
	}
	if existing != nil {
		if !bytes.Equal(existing.Hash, block.Hash) {
			return nil, fmt.Errorf(
				"%w: height %d has %x",
				ErrBlockHeightConflict,
				block.Height,
				existing.Hash,
			)
		}
		return existing, nil
	}
	tmpBlock := *block
	tmpBlock.ID = 0
	tmpBlock.IsFork = false
	tmpBlock.Time = block.Time.UTC()
	tmpBlock.HashPrefix = models.HashPrefix(block.Hash)
	if len(block.PrevHash) > 0 {
		tmpBlock.PrevHashPrefix = models.HashPrefix(block.PrevHash)
	}
	if tmpBlock.LastParsedAt == nil {
		now := time.Now()
		tmpBlock.LastParsedAt = &now
	}
	if result := txn.Metadata().Create(&tmpBlock); result.Error != nil {
		return nil, result.Error
	}
	return &tmpBlock, nil
}

// BlockByHeight returns the canonical block at a height
func (d *Database) BlockByHeight(
	ledgerId uint,
	height uint64,
	txn *Txn,
) (*models.Block, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Block
	result := txn.Metadata().
		Where("ledger_id = ? AND height = ? AND is_fork = ?", ledgerId, height, false).
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrBlockNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}

// BlockByHash returns the canonical block with a hash
func (d *Database) BlockByHash(
	ledgerId uint,
	hash []byte,
	txn *Txn,
) (*models.Block, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Block
	result := txn.Metadata().
		Where(
			"ledger_id = ? AND hash_prefix = ? AND hash = ? AND is_fork = ?",
			ledgerId,
			models.HashPrefix(hash),
			hash,
			false,
		).
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrBlockNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}

// BlockLatest returns the highest canonical block of a ledger
func (d *Database) BlockLatest(ledgerId uint, txn *Txn) (*models.Block, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Block
	result := txn.Metadata().
		Where("ledger_id = ? AND is_fork = ?", ledgerId, false).
		Order("height DESC").
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrBlockNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}

// BlockMaxHeightBefore returns the height of the highest canonical block
// created at or before a time
func (d *Database) BlockMaxHeightBefore(
	ledgerId uint,
	before time.Time,
	txn *Txn,
) (uint64, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Block
	result := txn.Metadata().
		Where("ledger_id = ? AND is_fork = ? AND time <= ?", ledgerId, false, before.UTC()).
		Order("height DESC").
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, models.ErrBlockNotFound
		}
		return 0, result.Error
	}
	return ret.Height, nil
}

// BlocksRecent returns up to count canonical blocks, highest first
func (d *Database) BlocksRecent(
	ledgerId uint,
	count int,
	txn *Txn,
) ([]models.Block, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []models.Block
	result := txn.Metadata().
		Where("ledger_id = ? AND is_fork = ?", ledgerId, false).
		Order("height DESC").
		Limit(count).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// BlocksBelow returns up to count canonical blocks under a height, highest first
func (d *Database) BlocksBelow(
	ledgerId uint,
	height uint64,
	count int,
	txn *Txn,
) ([]models.Block, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []models.Block
	result := txn.Metadata().
		Where("ledger_id = ? AND is_fork = ? AND height < ?", ledgerId, false, height).
		Order("height DESC").
		Limit(count).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// BlocksAbove returns the canonical blocks over a height, lowest first
func (d *Database) BlocksAbove(
	ledgerId uint,
	height uint64,
	txn *Txn,
) ([]models.Block, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []models.Block
	result := txn.Metadata().
		Where("ledger_id = ? AND is_fork = ? AND height > ?", ledgerId, false, height).
		Order("height ASC").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// BlockMarkFork removes everything indexed from a block and flags it as a
// fork, so it is kept for inspection but never seen as part of the chain
func (d *Database) BlockMarkFork(block *models.Block, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.BlockMarkFork(block, txn)
		})
	}
	if err := d.deleteBlockTransactions([]uint{block.ID}, txn); err != nil {
		return err
	}
	result := txn.Metadata().
		Model(&models.Block{}).
		Where("id = ?", block.ID).
		Updates(map[string]any{"is_fork": true, "tx_count": 0})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrBlockNotFound
	}
	block.IsFork = true
	block.TxCount = 0
	return nil
}

// BlockDelete removes a block with everything indexed from it, and its
// epoch when it was the last block of the epoch
func (d *Database) BlockDelete(block *models.Block, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.BlockDelete(block, txn)
		})
	}
	if err := d.deleteBlocks([]uint{block.ID}, txn); err != nil {
		return err
	}
	return d.deleteEmptyEpochs([]uint{block.EpochID}, txn)
}

// deleteBlocks removes blocks and everything indexed from them
func (d *Database) deleteBlocks(blockIds []uint, txn *Txn) error {
	if len(blockIds) == 0 {
		return nil
	}
	if err := d.deleteBlockTransactions(blockIds, txn); err != nil {
		return err
	}
	result := txn.Metadata().Where("id IN ?", blockIds).Delete(&models.Block{})
	return result.Error
}
