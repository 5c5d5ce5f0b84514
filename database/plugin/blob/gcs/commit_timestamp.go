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

package gcs

import "github.com/blinklabs-io/prism/database/types"

func (d *BlobStoreGCS) GetCommitTimestamp() (int64, error) {
	return types.ReadCommitTimestamp(d)
}

func (d *BlobStoreGCS) SetCommitTimestamp(timestamp int64, txn types.Txn) error {
	return types.WriteCommitTimestamp(d, timestamp, txn)
}
