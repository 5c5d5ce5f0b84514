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

package blockfrost

import "encoding/json"

// ErrorResponse is the body of a Blockfrost error response
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// BlockResponse is returned by /blocks/{hash_or_number} and /blocks/latest.
// Height is null for epoch boundary blocks.
type BlockResponse struct {
	Time          int64   `json:"time"`
	Height        *uint64 `json:"height"`
	Hash          string  `json:"hash"`
	Slot          uint64  `json:"slot"`
	Epoch         uint64  `json:"epoch"`
	EpochSlot     uint64  `json:"epoch_slot"`
	SlotLeader    string  `json:"slot_leader"`
	Size          uint64  `json:"size"`
	TxCount       int     `json:"tx_count"`
	Output        *string `json:"output"`
	Fees          *string `json:"fees"`
	PreviousBlock *string `json:"previous_block"`
	NextBlock     *string `json:"next_block"`
	Confirmations uint64  `json:"confirmations"`
}

// TransactionResponse is returned by /txs/{hash}
type TransactionResponse struct {
	Hash        string `json:"hash"`
	Block       string `json:"block"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
	Slot        uint64 `json:"slot"`
	Index       uint32 `json:"index"`
	Fees        string `json:"fees"`
	Size        uint64 `json:"size"`
}

// TransactionMetadataResponse is an element of /txs/{hash}/metadata
type TransactionMetadataResponse struct {
	Label        string          `json:"label"`
	JSONMetadata json.RawMessage `json:"json_metadata"`
}

// LabelTransactionResponse is an element of /metadata/txs/labels/{label}
type LabelTransactionResponse struct {
	TxHash       string          `json:"tx_hash"`
	JSONMetadata json.RawMessage `json:"json_metadata"`
}

// Amount is a quantity of an asset, lovelace for ada
type Amount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

// UtxoOutput is an output of /txs/{hash}/utxos
type UtxoOutput struct {
	Address     string   `json:"address"`
	Amount      []Amount `json:"amount"`
	OutputIndex uint32   `json:"output_index"`
}

// TransactionUtxosResponse is returned by /txs/{hash}/utxos
type TransactionUtxosResponse struct {
	Hash    string       `json:"hash"`
	Outputs []UtxoOutput `json:"outputs"`
}
