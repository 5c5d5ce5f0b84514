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

package dbsync

import (
	"bytes"
	"context"
	"testing"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/provider"
)

const testSchema = `
CREATE TABLE block (
	id INTEGER PRIMARY KEY,
	hash BLOB NOT NULL,
	epoch_no INTEGER,
	slot_no INTEGER,
	block_no INTEGER,
	previous_id INTEGER,
	time TIMESTAMP NOT NULL,
	tx_count INTEGER NOT NULL
);
CREATE TABLE tx (
	id INTEGER PRIMARY KEY,
	hash BLOB NOT NULL,
	block_id INTEGER NOT NULL,
	block_index INTEGER NOT NULL,
	fee INTEGER NOT NULL,
	size INTEGER NOT NULL
);
CREATE TABLE tx_metadata (
	id INTEGER PRIMARY KEY,
	key INTEGER NOT NULL,
	json TEXT,
	tx_id INTEGER NOT NULL
);
CREATE TABLE tx_out (
	id INTEGER PRIMARY KEY,
	tx_id INTEGER NOT NULL,
	"index" INTEGER NOT NULL,
	address TEXT NOT NULL,
	value INTEGER NOT NULL
);
`

const testPayload = `{"content":["0x22"],"version":1}`

func hash(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, 32)
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	db.MustExec(testSchema)
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Blocks 1-5 in epochs 0 and 1, then an unsettled block without a number
	for i := int64(1); i <= 6; i++ {
		var blockNo any = i
		if i == 6 {
			blockNo = nil
		}
		var previousId any = i - 1
		if i == 1 {
			previousId = nil
		}
		db.MustExec(
			`INSERT INTO block (id, hash, epoch_no, slot_no, block_no, previous_id, time, tx_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i+100, hash(byte(i)), i/3, i*20, blockNo, previousIdFor(previousId), baseTime.Add(time.Duration(i)*20*time.Second), 2,
		)
	}
	// Block 3: two protocol transactions inserted out of block order, plus
	// one with unrelated metadata
	db.MustExec(`INSERT INTO tx (id, hash, block_id, block_index, fee, size) VALUES (11, ?, 103, 1, 170000, 400)`, hash(0x31))
	db.MustExec(`INSERT INTO tx (id, hash, block_id, block_index, fee, size) VALUES (10, ?, 103, 0, 180000, 450)`, hash(0x30))
	db.MustExec(`INSERT INTO tx (id, hash, block_id, block_index, fee, size) VALUES (12, ?, 103, 2, 190000, 300)`, hash(0x32))
	db.MustExec(`INSERT INTO tx_metadata (key, json, tx_id) VALUES (21325, ?, 11)`, testPayload)
	db.MustExec(`INSERT INTO tx_metadata (key, json, tx_id) VALUES (21325, ?, 10)`, testPayload)
	db.MustExec(`INSERT INTO tx_metadata (key, json, tx_id) VALUES (674, '{"msg":["hi"]}', 10)`)
	db.MustExec(`INSERT INTO tx_metadata (key, json, tx_id) VALUES (674, '{"msg":["hi"]}', 12)`)
	db.MustExec(`INSERT INTO tx_out (tx_id, "index", address, value) VALUES (10, 1, 'addr_test1b', 2000000)`)
	db.MustExec(`INSERT INTO tx_out (tx_id, "index", address, value) VALUES (10, 0, 'addr_test1a', 1000000)`)
	// Unsettled block 6 also carries protocol metadata
	db.MustExec(`INSERT INTO tx (id, hash, block_id, block_index, fee, size) VALUES (13, ?, 106, 0, 170000, 400)`, hash(0x33))
	db.MustExec(`INSERT INTO tx_metadata (key, json, tx_id) VALUES (21325, ?, 13)`, testPayload)

	p, err := New(WithDB(db))
	require.NoError(t, err)
	return p
}

func previousIdFor(id any) any {
	if v, ok := id.(int64); ok {
		return v + 100
	}
	return nil
}

func TestGetTip(t *testing.T) {
	p := newTestProvider(t)
	tip, err := p.GetTip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tip.Height)
	assert.Equal(t, "105", tip.ID)
	assert.Equal(t, hash(5), tip.Hash)
	assert.Equal(t, hash(4), tip.PrevHash)
	assert.Equal(t, uint64(4), tip.PrevHeight())
}

func TestGetBlock(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	block, err := p.GetBlockByHeight(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "103", block.ID)
	assert.Equal(t, uint64(1), block.Epoch)
	assert.Equal(t, uint64(60), block.Slot)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), block.Time)

	byId, err := p.GetBlockByID(ctx, "103")
	require.NoError(t, err)
	assert.Equal(t, block, byId)

	first, err := p.GetBlockByHeight(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, first.PrevHash)

	_, err = p.GetBlockByHeight(ctx, 42)
	assert.ErrorIs(t, err, provider.ErrNotFound)
	_, err = p.GetBlockByID(ctx, "106")
	assert.ErrorIs(t, err, provider.ErrNotFound)
	_, err = p.GetBlockByID(ctx, "bogus")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestGetBlocksByHeights(t *testing.T) {
	p := newTestProvider(t)
	blocks, err := p.GetBlocksByHeights(context.Background(), []uint64{5, 2, 42, 4})
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(2), blocks[0].Height)
	assert.Equal(t, uint64(4), blocks[1].Height)
	assert.Equal(t, uint64(5), blocks[2].Height)

	blocks, err = p.GetBlocksByHeights(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestGetFirstBlockOfEpoch(t *testing.T) {
	p := newTestProvider(t)
	block, err := p.GetFirstBlockOfEpoch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), block.Height)
	_, err = p.GetFirstBlockOfEpoch(context.Background(), 9)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestGetNextBlockWithProtocolMetadata(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	block, err := p.GetNextBlockWithProtocolMetadata(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), block.Height)
	// The only later block with metadata has no block number
	_, err = p.GetNextBlockWithProtocolMetadata(ctx, 3)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestGetTransactionsWithProtocolMetadata(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	txs, err := p.GetTransactionsWithProtocolMetadata(ctx, "103")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "10", txs[0].ID)
	assert.Equal(t, uint32(0), txs[0].BlockIndex)
	assert.Equal(t, hash(0x30), txs[0].Hash)
	assert.Equal(t, uint64(3), txs[0].Height)
	assert.Equal(t, uint64(180000), txs[0].Fee)
	assert.Equal(t, "11", txs[1].ID)
	assert.Equal(t, uint32(1), txs[1].BlockIndex)

	txs, err = p.GetTransactionsWithProtocolMetadata(ctx, "106")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestGetMetadataForTransaction(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	value, err := p.GetMetadataForTransaction(ctx, "10", provider.ProtocolMetadataKey)
	require.NoError(t, err)
	assert.JSONEq(t, testPayload, string(value))
	_, err = p.GetMetadataForTransaction(ctx, "12", provider.ProtocolMetadataKey)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestGetPaymentData(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	data, err := p.GetPaymentData(ctx, "10")
	require.NoError(t, err)
	assert.Equal(
		t,
		[]provider.Output{
			{Address: "addr_test1a", Value: 1000000, Index: 0},
			{Address: "addr_test1b", Value: 2000000, Index: 1},
		},
		data.Outputs,
	)
	data, err = p.GetPaymentData(ctx, "11")
	require.NoError(t, err)
	assert.Empty(t, data.Outputs)
	_, err = p.GetPaymentData(ctx, "99")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestNewRequiresDatabase(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}
