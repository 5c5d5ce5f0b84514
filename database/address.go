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

	"github.com/blinklabs-io/prism/database/models"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	walletCacheKeyPrefix = "w:"
	stakeCacheKeyPrefix  = "s:"
)

// StakeAddressFor returns the bech32 stake address of a payment address, or
// an empty string when the address has no stake part
func StakeAddressFor(address string) (string, error) {
	addr, err := lcommon.NewAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	stakeKeyHash := addr.StakeKeyHash()
	if stakeKeyHash == (lcommon.Blake2b224{}) {
		return "", nil
	}
	var networkId uint8 = lcommon.AddressNetworkMainnet
	if strings.HasPrefix(address, "addr_test") {
		networkId = lcommon.AddressNetworkTestnet
	}
	stakeAddr, err := lcommon.NewAddressFromParts(
		lcommon.AddressTypeNoneKey,
		networkId,
		nil,
		stakeKeyHash.Bytes(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	return stakeAddr.String(), nil
}

// StakeAddressGetOrCreate returns the row ID of a stake address, creating the
// row on first observation
func (d *Database) StakeAddressGetOrCreate(address string, txn *Txn) (uint, error) {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Release()
		ret, err := d.StakeAddressGetOrCreate(address, txn)
		if err != nil {
			return 0, err
		}
		return ret, txn.Commit()
	}
	return d.addresses.getOrCreate(
		stakeCacheKeyPrefix+address,
		txn,
		func(txn *Txn) (uint, error) {
			tmpAddr := models.StakeAddress{Address: address}
			if err := getOrCreate(txn.Metadata(), &tmpAddr, "address = ?", address); err != nil {
				return 0, fmt.Errorf("get or create stake address: %w", err)
			}
			return tmpAddr.ID, nil
		},
		rowExists(&models.StakeAddress{}),
	)
}

// WalletAddressGetOrCreate returns the row ID of a payment address, creating
// it and its stake address on first observation
func (d *Database) WalletAddressGetOrCreate(address string, txn *Txn) (uint, error) {
	if txn == nil {
		txn = d.Transaction(true)
		defer txn.Release()
		ret, err := d.WalletAddressGetOrCreate(address, txn)
		if err != nil {
			return 0, err
		}
		return ret, txn.Commit()
	}
	return d.addresses.getOrCreate(
		walletCacheKeyPrefix+address,
		txn,
		func(txn *Txn) (uint, error) {
			stakeAddress, err := StakeAddressFor(address)
			if err != nil {
				return 0, err
			}
			tmpAddr := models.WalletAddress{Address: address}
			if stakeAddress != "" {
				stakeId, err := d.StakeAddressGetOrCreate(stakeAddress, txn)
				if err != nil {
					return 0, err
				}
				tmpAddr.StakeAddressID = &stakeId
			}
			if err := getOrCreate(txn.Metadata(), &tmpAddr, "address = ?", address); err != nil {
				return 0, fmt.Errorf("get or create wallet address: %w", err)
			}
			return tmpAddr.ID, nil
		},
		rowExists(&models.WalletAddress{}),
	)
}

// WalletAddress returns a stored payment address
func (d *Database) WalletAddress(address string, txn *Txn) (*models.WalletAddress, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret models.WalletAddress
	result := txn.Metadata().Where("address = ?", address).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrAddressNotFound
		}
		return nil, result.Error
	}
	return &ret, nil
}

// UtxoCreate records an output of an indexed transaction
func (d *Database) UtxoCreate(utxo *models.Utxo, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.UtxoCreate(utxo, txn)
		})
	}
	result := txn.Metadata().
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(utxo)
	return result.Error
}

// DeleteOrphanedAddresses removes payment addresses no output references
// and stake addresses no payment address references. It returns the number
// of removed rows.
func (d *Database) DeleteOrphanedAddresses(txn *Txn) (int64, error) {
	if txn == nil {
		var ret int64
		err := d.Update(func(txn *Txn) error {
			var err error
			ret, err = d.DeleteOrphanedAddresses(txn)
			return err
		})
		return ret, err
	}
	result := txn.Metadata().
		Where("id NOT IN (?)", txn.Metadata().Model(&models.Utxo{}).Select("wallet_address_id")).
		Delete(&models.WalletAddress{})
	if result.Error != nil {
		return 0, result.Error
	}
	deleted := result.RowsAffected
	result = txn.Metadata().
		Where(
			"id NOT IN (?)",
			txn.Metadata().
				Model(&models.WalletAddress{}).
				Select("stake_address_id").
				Where("stake_address_id IS NOT NULL"),
		).
		Delete(&models.StakeAddress{})
	if result.Error != nil {
		return 0, result.Error
	}
	deleted += result.RowsAffected
	if deleted > 0 {
		txn.OnCommit(d.addresses.flush)
		d.logger.Info(
			"deleted orphaned addresses",
			"component", "database",
			"count", deleted,
		)
	}
	return deleted, nil
}

// rowExists returns a check for a row of model with the given ID
func rowExists(model any) func(*Txn, uint) (bool, error) {
	return func(txn *Txn, id uint) (bool, error) {
		var count int64
		result := txn.Metadata().Model(model).Where("id = ?", id).Count(&count)
		if result.Error != nil {
			return false, result.Error
		}
		return count > 0, nil
	}
}

// getOrCreate inserts row unless a row matching the query already exists,
// then loads the stored row into it
func getOrCreate(db *gorm.DB, row any, query string, args ...any) error {
	result := db.Where(query, args...).Limit(1).Find(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	result = db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// Another transaction inserted the row first
	return db.Where(query, args...).First(row).Error
}
