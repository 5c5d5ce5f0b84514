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
	"context"

	"github.com/blinklabs-io/prism/provider"
	"github.com/blinklabs-io/prism/provider/memory"
)

// Ledger is the view of the chain the server reads from
type Ledger interface {
	GetTip(ctx context.Context) (*provider.Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*provider.Block, error)
	GetBlockByID(ctx context.Context, id string) (*provider.Block, error)
	BlockTransactions(blockID string) ([]memory.Tx, error)
	BlocksInEpoch(epoch uint64) []provider.Block
	Transaction(txID string) (*memory.Tx, *provider.Block, uint32, error)
	TransactionsWithMetadata(key uint64) []string
}

var _ Ledger = (*memory.Chain)(nil)

// RootResponse is returned by GET /
type RootResponse struct {
	URL     string `json:"url"`
	Version string `json:"version"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}
