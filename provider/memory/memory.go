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

// Package memory provides an in-memory ledger that can be extended and
// rolled back, for tests and local development
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/blinklabs-io/prism/codec"
	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/provider"
)

const (
	DefaultEpochLength = 10
	DefaultSlotLength  = 20 * time.Second
)

// Tx is a transaction of the in-memory ledger
type Tx struct {
	Metadata map[uint64]json.RawMessage
	Hash     []byte
	Outputs  []provider.Output
	Size     uint64
	Fee      uint64
}

// HasMetadata reports whether the transaction carries metadata under key
func (t Tx) HasMetadata(key uint64) bool {
	_, ok := t.Metadata[key]
	return ok
}

// ProtocolTx returns a transaction carrying the given operations as
// protocol metadata
func ProtocolTx(
	ops []protocol.SignedOperation,
	outputs ...provider.Output,
) (Tx, error) {
	payload, err := codec.EncodeJSON(ops)
	if err != nil {
		return Tx{}, err
	}
	return Tx{
		Metadata: map[uint64]json.RawMessage{
			provider.ProtocolMetadataKey: payload,
		},
		Outputs: outputs,
		Size:    uint64(len(payload)), //nolint:gosec
		Fee:     170000,
	}, nil
}

type blockEntry struct {
	block provider.Block
	txs   []Tx
}

type txRef struct {
	block *blockEntry
	index int
}

// Chain is an in-memory ledger. Only blocks on the current chain are
// visible through the provider methods.
type Chain struct {
	startTime   time.Time
	byID        map[string]*blockEntry
	txs         map[string]txRef
	blocks      []*blockEntry
	slotLength  time.Duration
	epochLength uint64
	forkCount   uint64
	mu          sync.RWMutex
}

var _ provider.Provider = (*Chain)(nil)

type ChainOptionFunc func(*Chain)

// WithEpochLength sets the number of blocks per epoch
func WithEpochLength(length uint64) ChainOptionFunc {
	return func(c *Chain) {
		c.epochLength = length
	}
}

// WithStartTime sets the time of slot zero
func WithStartTime(startTime time.Time) ChainOptionFunc {
	return func(c *Chain) {
		c.startTime = startTime
	}
}

// New returns an empty chain
func New(opts ...ChainOptionFunc) *Chain {
	c := &Chain{
		startTime:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		byID:        make(map[string]*blockEntry),
		txs:         make(map[string]txRef),
		slotLength:  DefaultSlotLength,
		epochLength: DefaultEpochLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.epochLength == 0 {
		c.epochLength = DefaultEpochLength
	}
	return c
}

// AddBlock appends a block holding the given transactions to the chain.
// Transactions without a hash get one derived from the block.
func (c *Chain) AddBlock(txs ...Tx) provider.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	height := uint64(len(c.blocks)) + 1
	var prevHash []byte
	if len(c.blocks) > 0 {
		prevHash = c.blocks[len(c.blocks)-1].block.Hash
	}
	hasher := sha256.New()
	hasher.Write(prevHash)
	hasher.Write(binary.BigEndian.AppendUint64(nil, height))
	hasher.Write(binary.BigEndian.AppendUint64(nil, c.forkCount))
	hash := hasher.Sum(nil)
	slot := height * uint64(c.slotLength/time.Second)
	entry := &blockEntry{
		block: provider.Block{
			Time:     c.startTime.Add(time.Duration(height) * c.slotLength),
			ID:       hex.EncodeToString(hash),
			Hash:     hash,
			PrevHash: prevHash,
			Height:   height,
			Slot:     slot,
			Epoch:    (height - 1) / c.epochLength,
			TxCount:  uint32(len(txs)), //nolint:gosec
		},
		txs: make([]Tx, 0, len(txs)),
	}
	for i, tx := range txs {
		if len(tx.Hash) == 0 {
			txHash := sha256.Sum256(append(slices.Clone(hash), byte(i>>8), byte(i)))
			tx.Hash = txHash[:]
		}
		entry.txs = append(entry.txs, tx)
		c.txs[hex.EncodeToString(tx.Hash)] = txRef{block: entry, index: i}
	}
	c.blocks = append(c.blocks, entry)
	c.byID[entry.block.ID] = entry
	return entry.block
}

// AddEmptyBlocks appends count blocks without transactions
func (c *Chain) AddEmptyBlocks(count int) {
	for range count {
		c.AddBlock()
	}
}

// Rollback removes every block above height from the chain. Blocks added
// afterwards get different hashes than the removed ones.
func (c *Chain) Rollback(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint64(len(c.blocks)) {
		return
	}
	for _, entry := range c.blocks[height:] {
		delete(c.byID, entry.block.ID)
		for _, tx := range entry.txs {
			delete(c.txs, hex.EncodeToString(tx.Hash))
		}
	}
	c.blocks = c.blocks[:height]
	c.forkCount++
}

// Height returns the height of the tip, or zero for an empty chain
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.blocks))
}

// BlockTransactions returns all transactions of a block in block order
func (c *Chain) BlockTransactions(blockID string) ([]Tx, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byID[blockID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return slices.Clone(entry.txs), nil
}

// Transaction returns a transaction with its block and index in the block
func (c *Chain) Transaction(txID string) (*Tx, *provider.Block, uint32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.txs[txID]
	if !ok {
		return nil, nil, 0, provider.ErrNotFound
	}
	tx := ref.block.txs[ref.index]
	block := ref.block.block
	return &tx, &block, uint32(ref.index), nil //nolint:gosec
}

// TransactionsWithMetadata returns the IDs of all transactions carrying
// metadata under key, in chain order
func (c *Chain) TransactionsWithMetadata(key uint64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ret []string
	for _, entry := range c.blocks {
		for _, tx := range entry.txs {
			if tx.HasMetadata(key) {
				ret = append(ret, hex.EncodeToString(tx.Hash))
			}
		}
	}
	return ret
}

// BlocksInEpoch returns the blocks of an epoch in height order
func (c *Chain) BlocksInEpoch(epoch uint64) []provider.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ret []provider.Block
	for _, entry := range c.blocks {
		if entry.block.Epoch == epoch {
			ret = append(ret, entry.block)
		}
	}
	return ret
}

func (c *Chain) blockAt(height uint64) (*provider.Block, error) {
	if height == 0 || height > uint64(len(c.blocks)) {
		return nil, provider.ErrNotFound
	}
	block := c.blocks[height-1].block
	return &block, nil
}

func (c *Chain) GetTip(ctx context.Context) (*provider.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockAt(uint64(len(c.blocks)))
}

func (c *Chain) GetBlockByHeight(
	ctx context.Context,
	height uint64,
) (*provider.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockAt(height)
}

func (c *Chain) GetBlockByID(
	ctx context.Context,
	id string,
) (*provider.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byID[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	block := entry.block
	return &block, nil
}

func (c *Chain) GetBlocksByHeights(
	ctx context.Context,
	heights []uint64,
) ([]provider.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sorted := slices.Clone(heights)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	ret := make([]provider.Block, 0, len(sorted))
	for _, height := range sorted {
		block, err := c.blockAt(height)
		if err != nil {
			continue
		}
		ret = append(ret, *block)
	}
	return ret, nil
}

func (c *Chain) GetFirstBlockOfEpoch(
	ctx context.Context,
	epoch uint64,
) (*provider.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockAt(epoch*c.epochLength + 1)
}

func (c *Chain) GetNextBlockWithProtocolMetadata(
	ctx context.Context,
	afterHeight uint64,
) (*provider.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for height := afterHeight + 1; height <= uint64(len(c.blocks)); height++ {
		entry := c.blocks[height-1]
		for _, tx := range entry.txs {
			if tx.HasMetadata(provider.ProtocolMetadataKey) {
				block := entry.block
				return &block, nil
			}
		}
	}
	return nil, provider.ErrNotFound
}

func (c *Chain) GetMetadataForTransaction(
	ctx context.Context,
	txID string,
	key uint64,
) (json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.txs[txID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	value, ok := ref.block.txs[ref.index].Metadata[key]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return slices.Clone(value), nil
}

func (c *Chain) GetPaymentData(
	ctx context.Context,
	txID string,
) (*provider.PaymentData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.txs[txID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &provider.PaymentData{
		Outputs: slices.Clone(ref.block.txs[ref.index].Outputs),
	}, nil
}

func (c *Chain) GetTransactionsWithProtocolMetadata(
	ctx context.Context,
	blockID string,
) ([]provider.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byID[blockID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	var ret []provider.Transaction
	for i, tx := range entry.txs {
		if !tx.HasMetadata(provider.ProtocolMetadataKey) {
			continue
		}
		ret = append(ret, provider.Transaction{
			ID:         hex.EncodeToString(tx.Hash),
			Hash:       tx.Hash,
			BlockID:    blockID,
			Height:     entry.block.Height,
			Size:       tx.Size,
			Fee:        tx.Fee,
			BlockIndex: uint32(i), //nolint:gosec
		})
	}
	return ret, nil
}
