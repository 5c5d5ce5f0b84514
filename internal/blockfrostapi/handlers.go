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

package blockfrostapi

import (
	"cmp"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/provider/blockfrost"
)

const apiVersion = "0.1.0"

// writeJSON writes a JSON response with the given status
// code.
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes a Blockfrost-format error response.
func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, blockfrost.ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

func writeNotFound(w http.ResponseWriter) {
	writeError(
		w,
		http.StatusNotFound,
		"Not Found",
		"The requested component has not been found.",
	)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "Bad Request", message)
}

// writeLedgerError maps a ledger lookup error to a response
func (s *Server) writeLedgerError(
	w http.ResponseWriter,
	msg string,
	err error,
) {
	if errors.Is(err, provider.ErrNotFound) {
		writeNotFound(w)
		return
	}
	s.logger.Error(msg, "error", err)
	writeError(
		w,
		http.StatusInternalServerError,
		"Internal Server Error",
		msg,
	)
}

// handleRoot handles GET / and returns API metadata.
func (s *Server) handleRoot(
	w http.ResponseWriter,
	r *http.Request,
) {
	if r.URL.Path != "/" {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, RootResponse{
		URL:     "https://blockfrost.io/",
		Version: apiVersion,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
	})
}

func (s *Server) blockResponse(
	ctx context.Context,
	block *provider.Block,
) (blockfrost.BlockResponse, error) {
	tip, err := s.ledger.GetTip(ctx)
	if err != nil {
		return blockfrost.BlockResponse{}, err
	}
	height := block.Height
	output := "0"
	fees := "0"
	ret := blockfrost.BlockResponse{
		Time:          block.Time.Unix(),
		Height:        &height,
		Hash:          block.ID,
		Slot:          block.Slot,
		Epoch:         block.Epoch,
		TxCount:       int(block.TxCount),
		Output:        &output,
		Fees:          &fees,
		Confirmations: tip.Height - block.Height,
	}
	if len(block.PrevHash) > 0 {
		prevHash := hex.EncodeToString(block.PrevHash)
		ret.PreviousBlock = &prevHash
	}
	next, err := s.ledger.GetBlockByHeight(ctx, block.Height+1)
	switch {
	case err == nil:
		ret.NextBlock = &next.ID
	case !errors.Is(err, provider.ErrNotFound):
		return blockfrost.BlockResponse{}, err
	}
	return ret, nil
}

// lookupBlock resolves a path value holding either a block height or a
// block hash
func (s *Server) lookupBlock(
	ctx context.Context,
	hashOrNumber string,
) (*provider.Block, error) {
	if height, err := strconv.ParseUint(hashOrNumber, 10, 64); err == nil {
		return s.ledger.GetBlockByHeight(ctx, height)
	}
	return s.ledger.GetBlockByID(ctx, hashOrNumber)
}

func (s *Server) writeBlock(
	w http.ResponseWriter,
	r *http.Request,
	block *provider.Block,
) {
	resp, err := s.blockResponse(r.Context(), block)
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve block", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLatestBlock handles GET /api/v0/blocks/latest
func (s *Server) handleLatestBlock(
	w http.ResponseWriter,
	r *http.Request,
) {
	block, err := s.ledger.GetTip(r.Context())
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve latest block", err)
		return
	}
	s.writeBlock(w, r, block)
}

// handleBlock handles GET /api/v0/blocks/{hashOrNumber}
func (s *Server) handleBlock(
	w http.ResponseWriter,
	r *http.Request,
) {
	block, err := s.lookupBlock(r.Context(), r.PathValue("hashOrNumber"))
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve block", err)
		return
	}
	s.writeBlock(w, r, block)
}

// handleBlockTxs handles GET /api/v0/blocks/{hashOrNumber}/txs and returns
// the transaction hashes of a block
func (s *Server) handleBlockTxs(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	block, err := s.lookupBlock(r.Context(), r.PathValue("hashOrNumber"))
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve block", err)
		return
	}
	txs, err := s.ledger.BlockTransactions(block.ID)
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve block transactions", err)
		return
	}
	hashes := make([]string, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, hex.EncodeToString(tx.Hash))
	}
	SetPaginationHeaders(w, len(hashes), params)
	writeJSON(w, http.StatusOK, paginate(hashes, params))
}

// handleEpochBlocks handles GET /api/v0/epochs/{number}/blocks
func (s *Server) handleEpochBlocks(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	epoch, err := strconv.ParseUint(r.PathValue("number"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid epoch number")
		return
	}
	blocks := s.ledger.BlocksInEpoch(epoch)
	if len(blocks) == 0 {
		writeNotFound(w)
		return
	}
	hashes := make([]string, 0, len(blocks))
	for _, block := range blocks {
		hashes = append(hashes, block.ID)
	}
	SetPaginationHeaders(w, len(hashes), params)
	writeJSON(w, http.StatusOK, paginate(hashes, params))
}

// handleTx handles GET /api/v0/txs/{hash}
func (s *Server) handleTx(
	w http.ResponseWriter,
	r *http.Request,
) {
	txHash := r.PathValue("hash")
	tx, block, index, err := s.ledger.Transaction(txHash)
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, blockfrost.TransactionResponse{
		Hash:        txHash,
		Block:       block.ID,
		BlockHeight: block.Height,
		BlockTime:   block.Time.Unix(),
		Slot:        block.Slot,
		Index:       index,
		Fees:        strconv.FormatUint(tx.Fee, 10),
		Size:        tx.Size,
	})
}

// handleTxMetadata handles GET /api/v0/txs/{hash}/metadata
func (s *Server) handleTxMetadata(
	w http.ResponseWriter,
	r *http.Request,
) {
	tx, _, _, err := s.ledger.Transaction(r.PathValue("hash"))
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve transaction", err)
		return
	}
	labels := make([]uint64, 0, len(tx.Metadata))
	for label := range tx.Metadata {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	ret := make([]blockfrost.TransactionMetadataResponse, 0, len(labels))
	for _, label := range labels {
		ret = append(ret, blockfrost.TransactionMetadataResponse{
			Label:        strconv.FormatUint(label, 10),
			JSONMetadata: tx.Metadata[label],
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleTxUtxos handles GET /api/v0/txs/{hash}/utxos. Inputs are not
// tracked and are always empty.
func (s *Server) handleTxUtxos(
	w http.ResponseWriter,
	r *http.Request,
) {
	txHash := r.PathValue("hash")
	tx, _, _, err := s.ledger.Transaction(txHash)
	if err != nil {
		s.writeLedgerError(w, "failed to retrieve transaction", err)
		return
	}
	outputs := slices.Clone(tx.Outputs)
	slices.SortFunc(outputs, func(a, b provider.Output) int {
		return cmp.Compare(a.Index, b.Index)
	})
	ret := blockfrost.TransactionUtxosResponse{
		Hash:    txHash,
		Outputs: make([]blockfrost.UtxoOutput, 0, len(outputs)),
	}
	for _, output := range outputs {
		ret.Outputs = append(ret.Outputs, blockfrost.UtxoOutput{
			Address: output.Address,
			Amount: []blockfrost.Amount{
				{
					Unit:     "lovelace",
					Quantity: strconv.FormatUint(output.Value, 10),
				},
			},
			OutputIndex: output.Index,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleLabelTxs handles GET /api/v0/metadata/txs/labels/{label}
func (s *Server) handleLabelTxs(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	label, err := strconv.ParseUint(r.PathValue("label"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid metadata label")
		return
	}
	txIDs := s.ledger.TransactionsWithMetadata(label)
	SetPaginationHeaders(w, len(txIDs), params)
	page := paginate(txIDs, params)
	ret := make([]blockfrost.LabelTransactionResponse, 0, len(page))
	for _, txID := range page {
		tx, _, _, err := s.ledger.Transaction(txID)
		if err != nil {
			s.writeLedgerError(w, "failed to retrieve transaction", err)
			return
		}
		ret = append(ret, blockfrost.LabelTransactionResponse{
			TxHash:       txID,
			JSONMetadata: tx.Metadata[label],
		})
	}
	writeJSON(w, http.StatusOK, ret)
}
