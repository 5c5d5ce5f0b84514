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

const (
	OperationTypeCreate     = "create"
	OperationTypeUpdate     = "update"
	OperationTypeDeactivate = "deactivate"
)

// Operation is an applied PRISM operation. PreviousHash links non-create
// operations to their predecessor.
type Operation struct {
	Time          time.Time
	Hash          []byte `gorm:"uniqueIndex;size:32;not null"`
	PreviousHash  []byte `gorm:"index;size:32"`
	Signature     []byte
	Payload       []byte
	DidSuffix     string `gorm:"size:64;index;not null"`
	Type          string `gorm:"size:16"`
	SignedWith    string
	ID            uint   `gorm:"primarykey"`
	TransactionID uint   `gorm:"index;not null"`
	BlockHeight   uint64 `gorm:"index"`
	TxIndex       uint32
	OpIndex       uint32
}

func (Operation) TableName() string {
	return "operation"
}
