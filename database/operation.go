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

// OperationCreate stores an applied operation
func (d *Database) OperationCreate(op *models.Operation, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.OperationCreate(op, txn)
		})
	}
	return txn.Metadata().Create(op).Error
}

// OperationByHash returns the applied operation with a hash
func (d *Database) OperationByHash(hash []byte, txn *Txn) (*models.Operation, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Operation
	result := txn.Metadata().Where("hash = ?", hash).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrOperationNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}

// OperationsForDID returns the applied operations of a DID in ledger order
func (d *Database) OperationsForDID(
	didSuffix string,
	txn *Txn,
) ([]models.Operation, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []models.Operation
	result := txn.Metadata().
		Where("did_suffix = ?", didSuffix).
		Order("block_height, tx_index, op_index").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// OperationNext returns the operation chained onto the one with the given
// hash. When several reference it, the one in the highest block wins.
func (d *Database) OperationNext(hash []byte, txn *Txn) (*models.Operation, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.Operation
	result := txn.Metadata().
		Where("previous_hash = ?", hash).
		Order("block_height DESC, tx_index DESC, op_index DESC").
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrOperationNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}
