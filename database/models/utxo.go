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

package models

import "github.com/blinklabs-io/prism/database/types"

// StakeAddress is a bech32 stake address
type StakeAddress struct {
	Address string `gorm:"size:128;uniqueIndex;not null"`
	ID      uint   `gorm:"primarykey"`
}

func (StakeAddress) TableName() string {
	return "stake_address"
}

// WalletAddress is a bech32 payment address
type WalletAddress struct {
	StakeAddressID *uint  `gorm:"index"`
	Address        string `gorm:"size:128;uniqueIndex;not null"`
	ID             uint   `gorm:"primarykey"`
}

func (WalletAddress) TableName() string {
	return "wallet_address"
}

// Utxo is an output of an indexed transaction. The address reference is a
// restricting foreign key, so an address GC racing an insert fails instead
// of leaving the output pointing at a removed row.
type Utxo struct {
	WalletAddress   *WalletAddress `gorm:"constraint:OnDelete:RESTRICT"`
	ID              uint           `gorm:"primarykey"`
	TransactionID   uint           `gorm:"uniqueIndex:utxo_tx_output;not null"`
	WalletAddressID uint           `gorm:"index;not null"`
	OutputIndex     uint32         `gorm:"uniqueIndex:utxo_tx_output"`
	Value           types.Uint64
}

func (Utxo) TableName() string {
	return "utxo"
}
