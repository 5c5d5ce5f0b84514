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

// Package provider defines the read-only view of a Cardano ledger used by the
// indexer. Implementations only expose blocks of the canonical chain that
// have a definite height.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ProtocolMetadataKey is the transaction metadata label carrying PRISM
// operations
const ProtocolMetadataKey uint64 = 21325

// ErrNotFound is returned when the requested data does not exist
var ErrNotFound = errors.New("not found")

// Block is a block of the canonical chain. ID is the provider specific
// identifier used by GetBlockByID and GetTransactionsWithProtocolMetadata.
type Block struct {
	Time     time.Time
	ID       string
	Hash     []byte
	PrevHash []byte
	Height   uint64
	Slot     uint64
	Epoch    uint64
	TxCount  uint32
}

// PrevHeight returns the height of the previous block
func (b Block) PrevHeight() uint64 {
	if b.Height == 0 {
		return 0
	}
	return b.Height - 1
}

// Transaction is a transaction carrying protocol metadata
type Transaction struct {
	ID         string
	Hash       []byte
	BlockID    string
	Height     uint64
	Size       uint64
	Fee        uint64
	BlockIndex uint32
}

// Output is a transaction output
type Output struct {
	Address string
	Value   uint64
	Index   uint32
}

// PaymentData holds the outputs of a transaction in output order
type PaymentData struct {
	Outputs []Output
}

// Provider is a source of ledger data
type Provider interface {
	// GetTip returns the most recent block
	GetTip(ctx context.Context) (*Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*Block, error)
	GetBlockByID(ctx context.Context, id string) (*Block, error)
	// GetBlocksByHeights returns the blocks found at the given heights in
	// ascending height order. Missing heights are omitted.
	GetBlocksByHeights(ctx context.Context, heights []uint64) ([]Block, error)
	GetFirstBlockOfEpoch(ctx context.Context, epoch uint64) (*Block, error)
	// GetNextBlockWithProtocolMetadata returns the lowest block above
	// afterHeight with at least one transaction carrying ProtocolMetadataKey
	GetNextBlockWithProtocolMetadata(ctx context.Context, afterHeight uint64) (*Block, error)
	// GetMetadataForTransaction returns the JSON value stored under key
	GetMetadataForTransaction(ctx context.Context, txID string, key uint64) (json.RawMessage, error)
	GetPaymentData(ctx context.Context, txID string) (*PaymentData, error)
	// GetTransactionsWithProtocolMetadata returns the transactions of a
	// block carrying ProtocolMetadataKey in ascending block index
	GetTransactionsWithProtocolMetadata(ctx context.Context, blockID string) ([]Transaction, error)
}
