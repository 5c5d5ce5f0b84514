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

package event

const (
	BlockAppliedEventType      EventType = "ledger.block_applied"
	RollbackEventType          EventType = "ledger.rollback"
	OperationAppliedEventType  EventType = "did.operation_applied"
	OperationRejectedEventType EventType = "did.operation_rejected"
)

// BlockAppliedEvent is published after a block with protocol metadata has
// been committed to the store
type BlockAppliedEvent struct {
	Network      string
	Hash         []byte
	Height       uint64
	Slot         uint64
	Epoch        uint64
	Transactions int
	Operations   int
	Rejected     int
}

// RollbackEvent is published after the blocks above AncestorHeight were
// removed from the current chain
type RollbackEvent struct {
	Network        string
	Policy         string
	AncestorHeight uint64
	TipHeight      uint64
	Blocks         int
}

// OperationAppliedEvent is published for every operation that changed a
// DID document
type OperationAppliedEvent struct {
	Network       string
	DID           string
	OperationHash string
	Type          string
	BlockHeight   uint64
}

// OperationRejectedEvent is published for every operation that was
// skipped because it was malformed or broke a protocol rule
type OperationRejectedEvent struct {
	Err           error
	Network       string
	OperationHash string
	DidSuffix     string
	Reason        string
	TxHash        []byte
	BlockHeight   uint64
	OpIndex       int
}
