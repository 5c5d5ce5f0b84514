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
	"errors"

	"github.com/blinklabs-io/prism/database/models"
	"gorm.io/gorm"
)

// EpochCreate returns the epoch of a ledger, creating it if needed
func (d *Database) EpochCreate(
	ledgerId uint,
	epoch uint64,
	txn *Txn,
) (*models.Epoch, error) {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Release()
		ret, err := d.EpochCreate(ledgerId, epoch, txn)
		if err != nil {
			return nil, err
		}
		return ret, txn.Commit()
	}
	tmpEpoch := models.Epoch{
		LedgerID: ledgerId,
		Number:   epoch,
	}
	result := txn.Metadata().
		Where("ledger_id = ? AND number = ?", ledgerId, epoch).
		FirstOrCreate(&tmpEpoch)
	if result.Error != nil {
		return nil, result.Error
	}
	return &tmpEpoch, nil
}

// Epoch returns an epoch of a ledger
func (d *Database) Epoch(
	ledgerId uint,
	epoch uint64,
	txn *Txn,
) (*models.Epoch, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var tmpEpoch models.Epoch
	result := txn.Metadata().
		Where("ledger_id = ? AND number = ?", ledgerId, epoch).
		First(&tmpEpoch)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrEpochNotFound
		}
		return nil, result.Error
	}
	return &tmpEpoch, nil
}

// EpochDelete removes an epoch along with its blocks and everything indexed
// from them
func (d *Database) EpochDelete(ledgerId uint, epoch uint64, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.EpochDelete(ledgerId, epoch, txn)
		})
	}
	tmpEpoch, err := d.Epoch(ledgerId, epoch, txn)
	if err != nil {
		return err
	}
	var blockIds []uint
	result := txn.Metadata().
		Model(&models.Block{}).
		Where("epoch_id = ?", tmpEpoch.ID).
		Pluck("id", &blockIds)
	if result.Error != nil {
		return result.Error
	}
	if err := d.deleteBlocks(blockIds, txn); err != nil {
		return err
	}
	return txn.Metadata().Delete(tmpEpoch).Error
}

// EpochDeleteEmpty removes an epoch that no longer has any blocks
func (d *Database) EpochDeleteEmpty(ledgerId uint, epoch uint64, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.EpochDeleteEmpty(ledgerId, epoch, txn)
		})
	}
	tmpEpoch, err := d.Epoch(ledgerId, epoch, txn)
	if err != nil {
		return err
	}
	empty, err := d.epochEmpty(tmpEpoch.ID, txn)
	if err != nil {
		return err
	}
	if !empty {
		return ErrEpochNotEmpty
	}
	return txn.Metadata().Delete(tmpEpoch).Error
}

func (d *Database) epochEmpty(epochId uint, txn *Txn) (bool, error) {
	var count int64
	result := txn.Metadata().
		Model(&models.Block{}).
		Where("epoch_id = ?", epochId).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count == 0, nil
}

// deleteEmptyEpochs removes the given epochs when no block references them
func (d *Database) deleteEmptyEpochs(epochIds []uint, txn *Txn) error {
	for _, epochId := range epochIds {
		empty, err := d.epochEmpty(epochId, txn)
		if err != nil {
			return err
		}
		if !empty {
			continue
		}
		result := txn.Metadata().Delete(&models.Epoch{}, epochId)
		if result.Error != nil {
			return result.Error
		}
	}
	return nil
}
