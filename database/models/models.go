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

import "errors"

// MigrateModels contains a list of model objects that should have DB migrations applied
var MigrateModels = []any{
	&CommitTimestamp{},
	&Ledger{},
	&Epoch{},
	&Block{},
	&Transaction{},
	&Operation{},
	&StakeAddress{},
	&WalletAddress{},
	&Utxo{},
}

var (
	ErrLedgerNotFound      = errors.New("ledger not found")
	ErrEpochNotFound       = errors.New("epoch not found")
	ErrBlockNotFound       = errors.New("block not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrAddressNotFound     = errors.New("address not found")
)

// CommitTimestamp records the time of the last commit, so the metadata and
// blob stores can be checked for consistency at startup
type CommitTimestamp struct {
	ID        uint `gorm:"primarykey"`
	Timestamp int64
}

func (CommitTimestamp) TableName() string {
	return "commit_timestamp"
}
