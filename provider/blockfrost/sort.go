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

import (
	"cmp"
	"slices"

	"github.com/blinklabs-io/prism/provider"
)

func sortBlocks(blocks []provider.Block) {
	slices.SortFunc(blocks, func(a, b provider.Block) int {
		return cmp.Compare(a.Height, b.Height)
	})
}

func sortTransactions(txs []provider.Transaction) {
	slices.SortFunc(txs, func(a, b provider.Transaction) int {
		return cmp.Compare(a.BlockIndex, b.BlockIndex)
	})
}
