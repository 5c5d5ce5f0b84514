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

package blockfrostapi_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/internal/blockfrostapi"
	"github.com/blinklabs-io/prism/internal/test/testutil"
	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/provider/blockfrost"
	"github.com/blinklabs-io/prism/provider/memory"
)

func newTestServer(
	t *testing.T,
	cfg blockfrostapi.Config,
) (*memory.Chain, *httptest.Server) {
	t.Helper()
	chain := memory.New(memory.WithEpochLength(4))
	server := blockfrostapi.New(cfg, chain, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return chain, ts
}

func getJSON(
	t *testing.T,
	ts *httptest.Server,
	path string,
	dst any,
) *http.Response {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp
}

func TestBlocks(t *testing.T) {
	chain, ts := newTestServer(t, blockfrostapi.Config{})
	chain.AddEmptyBlocks(5)

	var latest blockfrost.BlockResponse
	resp := getJSON(t, ts, "/api/v0/blocks/latest", &latest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, latest.Height)
	assert.Equal(t, uint64(5), *latest.Height)
	assert.Equal(t, uint64(1), latest.Epoch)
	assert.Nil(t, latest.NextBlock)

	var second blockfrost.BlockResponse
	getJSON(t, ts, "/api/v0/blocks/2", &second)
	require.NotNil(t, second.NextBlock)
	require.NotNil(t, second.PreviousBlock)
	assert.Equal(t, uint64(3), second.Confirmations)

	var byHash blockfrost.BlockResponse
	getJSON(t, ts, "/api/v0/blocks/"+second.Hash, &byHash)
	assert.Equal(t, second, byHash)

	var first blockfrost.BlockResponse
	getJSON(t, ts, "/api/v0/blocks/1", &first)
	assert.Nil(t, first.PreviousBlock)
	assert.Equal(t, first.Hash, *second.PreviousBlock)

	resp = getJSON(t, ts, "/api/v0/blocks/99", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var epochBlocks []string
	getJSON(t, ts, "/api/v0/epochs/1/blocks?count=1", &epochBlocks)
	require.Len(t, epochBlocks, 1)
	var epochStart blockfrost.BlockResponse
	getJSON(t, ts, "/api/v0/blocks/"+epochBlocks[0], &epochStart)
	assert.Equal(t, uint64(5), *epochStart.Height)

	resp = getJSON(t, ts, "/api/v0/epochs/7/blocks", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransactions(t *testing.T) {
	chain, ts := newTestServer(t, blockfrostapi.Config{})
	id := testutil.NewIdentity(t)
	tx, err := memory.ProtocolTx(
		[]protocol.SignedOperation{id.Create},
		provider.Output{Address: "addr_test1b", Value: 2000000, Index: 1},
		provider.Output{Address: "addr_test1a", Value: 1000000, Index: 0},
	)
	require.NoError(t, err)
	chain.AddEmptyBlocks(1)
	block := chain.AddBlock(memory.Tx{}, tx)
	txIDs := chain.TransactionsWithMetadata(provider.ProtocolMetadataKey)
	require.Len(t, txIDs, 1)
	txID := txIDs[0]

	var hashes []string
	resp := getJSON(t, ts, "/api/v0/blocks/"+block.ID+"/txs", &hashes)
	assert.Equal(t, "2", resp.Header.Get("X-Pagination-Count-Total"))
	require.Len(t, hashes, 2)
	assert.Equal(t, txID, hashes[1])

	var txResp blockfrost.TransactionResponse
	getJSON(t, ts, "/api/v0/txs/"+txID, &txResp)
	assert.Equal(t, block.ID, txResp.Block)
	assert.Equal(t, uint64(2), txResp.BlockHeight)
	assert.Equal(t, uint32(1), txResp.Index)
	assert.Equal(t, "170000", txResp.Fees)

	var metadata []blockfrost.TransactionMetadataResponse
	getJSON(t, ts, "/api/v0/txs/"+txID+"/metadata", &metadata)
	require.Len(t, metadata, 1)
	assert.Equal(t, "21325", metadata[0].Label)
	assert.JSONEq(t, string(tx.Metadata[provider.ProtocolMetadataKey]), string(metadata[0].JSONMetadata))

	var utxos blockfrost.TransactionUtxosResponse
	getJSON(t, ts, "/api/v0/txs/"+txID+"/utxos", &utxos)
	require.Len(t, utxos.Outputs, 2)
	assert.Equal(t, "addr_test1a", utxos.Outputs[0].Address)
	assert.Equal(t, "1000000", utxos.Outputs[0].Amount[0].Quantity)

	var labelTxs []blockfrost.LabelTransactionResponse
	getJSON(t, ts, "/api/v0/metadata/txs/labels/21325", &labelTxs)
	require.Len(t, labelTxs, 1)
	assert.Equal(t, txID, labelTxs[0].TxHash)

	resp = getJSON(t, ts, "/api/v0/txs/"+hex.EncodeToString(make([]byte, 32)), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = getJSON(t, ts, "/api/v0/metadata/txs/labels/21325?count=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProjectID(t *testing.T) {
	chain, ts := newTestServer(t, blockfrostapi.Config{ProjectID: "preprodtest"})
	chain.AddEmptyBlocks(1)

	resp := getJSON(t, ts, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = getJSON(t, ts, "/api/v0/blocks/latest", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v0/blocks/latest", nil)
	require.NoError(t, err)
	req.Header.Set("project_id", "preprodtest")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	server := blockfrostapi.New(
		blockfrostapi.Config{ListenAddress: "127.0.0.1:0"},
		memory.New(),
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	assert.Error(t, server.Start(ctx))
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, server.Stop(stopCtx))
	require.NoError(t, server.Stop(stopCtx))
}
