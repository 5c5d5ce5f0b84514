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

import "time"

// Ledger is a Cardano network whose PRISM operations are indexed
type Ledger struct {
	LastSyncedAt *time.Time
	Network      string `gorm:"size:32;uniqueIndex;not null"`
	ID           uint   `gorm:"primarykey"`
}

func (Ledger) TableName() string {
	return "ledger"
}

// Epoch is created lazily when the first block of the epoch is indexed
type Epoch struct {
	ID       uint   `gorm:"primarykey"`
	LedgerID uint   `gorm:"uniqueIndex:epoch_ledger_number;not null"`
	Number   uint64 `gorm:"uniqueIndex:epoch_ledger_number"`
}

func (Epoch) TableName() string {
	return "epoch"
}
