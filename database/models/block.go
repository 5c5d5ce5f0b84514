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

import (
	"encoding/hex"
	"time"
)

// HashPrefixLength is the number of hex characters kept as a secondary hash index
const HashPrefixLength = 8

// Block is an indexed ledger block. Only blocks carrying protocol metadata
// are stored, so PrevHeight and PrevHash reference the ledger, not
// necessarily another stored row.
type Block struct {
	Time           time.Time
	LastParsedAt   *time.Time
	Hash           []byte `gorm:"index;size:32;not null"`
	PrevHash       []byte `gorm:"size:32"`
	HashPrefix     string `gorm:"size:8;index"`
	PrevHashPrefix string `gorm:"size:8"`
	ID             uint   `gorm:"primarykey"`
	LedgerID       uint   `gorm:"index:block_ledger_height;not null"`
	EpochID        uint   `gorm:"index;not null"`
	Height         uint64 `gorm:"index:block_ledger_height"`
	PrevHeight     uint64
	Slot           uint64
	TxCount        uint32
	IsFork         bool `gorm:"index"`
}

func (Block) TableName() string {
	return "block"
}

// HashPrefix returns the short index form of a hash
func HashPrefix(hash []byte) string {
	ret := hex.EncodeToString(hash)
	if len(ret) > HashPrefixLength {
		ret = ret[:HashPrefixLength]
	}
	return ret
}
