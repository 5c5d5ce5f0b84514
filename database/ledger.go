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
	"fmt"
	"strings"
	"time"

	"github.com/blinklabs-io/prism/database/models"
	ouroboros "github.com/blinklabs-io/gouroboros"
	"gorm.io/gorm"
)

// LedgerCreate returns the ledger for a network, creating it if needed.
// Network names are case-insensitive.
func (d *Database) LedgerCreate(network string, txn *Txn) (*models.Ledger, error) {
	network = strings.ToLower(network)
	if _, ok := ouroboros.NetworkByName(network); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Release()
		ret, err := d.LedgerCreate(network, txn)
		if err != nil {
			return nil, err
		}
		return ret, txn.Commit()
	}
	tmpLedger := models.Ledger{Network: network}
	result := txn.Metadata().
		Where(models.Ledger{Network: network}).
		FirstOrCreate(&tmpLedger)
	if result.Error != nil {
		return nil, result.Error
	}
	return &tmpLedger, nil
}

// Ledger returns the ledger of a network
func (d *Database) Ledger(network string, txn *Txn) (*models.Ledger, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var tmpLedger models.Ledger
	result := txn.Metadata().
		Where("network = ?", strings.ToLower(network)).First(&tmpLedger)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrLedgerNotFound
		}
		return nil, result.Error
	}
	return &tmpLedger, nil
}

// Ledgers returns all known ledgers
func (d *Database) Ledgers(txn *Txn) ([]models.Ledger, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []models.Ledger
	result := txn.Metadata().Order("id").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// LedgerSetLastSynced records the time of the last completed sync step
func (d *Database) LedgerSetLastSynced(
	ledgerId uint,
	syncedAt time.Time,
	txn *Txn,
) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.LedgerSetLastSynced(ledgerId, syncedAt, txn)
		})
	}
	result := txn.Metadata().
		Model(&models.Ledger{}).
		Where("id = ?", ledgerId).
		Update("last_synced_at", syncedAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrLedgerNotFound
	}
	return nil
}

// LedgerDelete removes a ledger and everything indexed for it
func (d *Database) LedgerDelete(network string, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.LedgerDelete(network, txn)
		})
	}
	tmpLedger, err := d.Ledger(network, txn)
	if err != nil {
		return err
	}
	var blockIds []uint
	result := txn.Metadata().
		Model(&models.Block{}).
		Where("ledger_id = ?", tmpLedger.ID).
		Pluck("id", &blockIds)
	if result.Error != nil {
		return result.Error
	}
	if err := d.deleteBlocks(blockIds, txn); err != nil {
		return err
	}
	result = txn.Metadata().
		Where("ledger_id = ?", tmpLedger.ID).
		Delete(&models.Epoch{})
	if result.Error != nil {
		return result.Error
	}
	result = txn.Metadata().Delete(tmpLedger)
	if result.Error != nil {
		return result.Error
	}
	d.logger.Info(
		"deleted ledger",
		"component", "database",
		"network", network,
		"blocks", len(blockIds),
	)
	return nil
}
