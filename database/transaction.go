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

	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionCreate stores a transaction. Operations and outputs are stored
// separately.
func (d *Database) TransactionCreate(tx *models.Transaction, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.TransactionCreate(tx, txn)
		})
	}
	tx.HashPrefix = models.HashPrefix(tx.Hash)
	result := txn.Metadata().Omit(clause.Associations).Create(tx)
	return result.Error
}

// TransactionByHash returns a stored transaction
func (d *Database) TransactionByHash(hash []byte, txn *Txn) (*models.Transaction, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Transaction
	result := txn.Metadata().
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("op_index")
		}).
		Preload("Outputs", func(db *gorm.DB) *gorm.DB {
			return db.Order("output_index")
		}).
		Where("hash = ?", hash).
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}

// TransactionsForBlock returns the transactions of a block in block order
func (d *Database) TransactionsForBlock(
	blockId uint,
	txn *Txn,
) ([]models.Transaction, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []models.Transaction
	result := txn.Metadata().
		Where("block_id = ?", blockId).
		Order("block_index").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// TransactionDelete removes a transaction of a canonical block, identified by
// block height and hash prefix, along with its operations and outputs. It
// fails with ErrOperationHasDependents when another transaction holds an
// operation chained onto one of its operations.
func (d *Database) TransactionDelete(
	ledgerId uint,
	height uint64,
	hashPrefix string,
	txn *Txn,
) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.TransactionDelete(ledgerId, height, hashPrefix, txn)
		})
	}
	block, err := d.BlockByHeight(ledgerId, height, txn)
	if err != nil && !errors.Is(err, models.ErrBlockNotFound) {
		return err
	}
	var tmpTx models.Transaction
	if block != nil {
		result := txn.Metadata().
			Where("block_id = ? AND hash_prefix = ?", block.ID, hashPrefix).
			First(&tmpTx)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
	}
	if tmpTx.ID == 0 {
		return fmt.Errorf(
			"%w: height %d, hash prefix %s",
			models.ErrTransactionNotFound,
			height,
			hashPrefix,
		)
	}
	var opHashes [][]byte
	result := txn.Metadata().
		Model(&models.Operation{}).
		Where("transaction_id = ?", tmpTx.ID).
		Pluck("hash", &opHashes)
	if result.Error != nil {
		return result.Error
	}
	if len(opHashes) > 0 {
		var dependents int64
		result = txn.Metadata().
			Model(&models.Operation{}).
			Where("previous_hash IN ? AND transaction_id <> ?", opHashes, tmpTx.ID).
			Count(&dependents)
		if result.Error != nil {
			return result.Error
		}
		if dependents > 0 {
			return ErrOperationHasDependents
		}
	}
	if err := d.deleteTransactions([]models.Transaction{tmpTx}, txn); err != nil {
		return err
	}
	result = txn.Metadata().
		Model(&models.Block{}).
		Where("id = ? AND tx_count > 0", tmpTx.BlockID).
		UpdateColumn("tx_count", gorm.Expr("tx_count - 1"))
	return result.Error
}

// deleteBlockTransactions removes the transactions of blocks with their
// operations, outputs and archived payloads
func (d *Database) deleteBlockTransactions(blockIds []uint, txn *Txn) error {
	var txs []models.Transaction
	result := txn.Metadata().
		Select("id", "hash").
		Where("block_id IN ?", blockIds).
		Find(&txs)
	if result.Error != nil {
		return result.Error
	}
	return d.deleteTransactions(txs, txn)
}

func (d *Database) deleteTransactions(txs []models.Transaction, txn *Txn) error {
	if len(txs) == 0 {
		return nil
	}
	txIds := make([]uint, 0, len(txs))
	for _, tx := range txs {
		txIds = append(txIds, tx.ID)
		if err := d.blob.Delete(txn.Blob(), types.PayloadBlobKey(tx.Hash)); err != nil {
			return fmt.Errorf("delete payload of transaction %x: %w", tx.Hash, err)
		}
	}
	result := txn.Metadata().
		Where("transaction_id IN ?", txIds).
		Delete(&models.Operation{})
	if result.Error != nil {
		return result.Error
	}
	result = txn.Metadata().
		Where("transaction_id IN ?", txIds).
		Delete(&models.Utxo{})
	if result.Error != nil {
		return result.Error
	}
	result = txn.Metadata().
		Where("id IN ?", txIds).
		Delete(&models.Transaction{})
	return result.Error
}
