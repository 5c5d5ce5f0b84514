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

// Transaction is a ledger transaction carrying protocol metadata
type Transaction struct {
	Hash       []byte `gorm:"uniqueIndex;size:32;not null"`
	HashPrefix string `gorm:"size:8;index"`
	Operations []Operation
	Outputs    []Utxo
	ID         uint   `gorm:"primarykey"`
	BlockID    uint   `gorm:"index;not null"`
	Height     uint64 `gorm:"index"`
	Size       uint64
	Fee        types.Uint64
	BlockIndex uint32
}

func (Transaction) TableName() string {
	return "transaction"
}
