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

package database

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/prism/database/types"
)

// PayloadSet archives the raw protocol metadata of a transaction
func (d *Database) PayloadSet(txHash []byte, payload []byte, txn *Txn) error {
	if txn == nil {
		return d.Update(func(txn *Txn) error {
			return d.PayloadSet(txHash, payload, txn)
		})
	}
	if txn.Blob() == nil {
		return types.ErrBlobStoreUnavailable
	}
	if err := d.blob.Set(txn.Blob(), types.PayloadBlobKey(txHash), payload); err != nil {
		return fmt.Errorf("archive payload of transaction %x: %w", txHash, err)
	}
	return nil
}

// Payload returns the archived protocol metadata of a transaction
func (d *Database) Payload(txHash []byte, txn *Txn) ([]byte, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	if txn.Blob() == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	ret, err := d.blob.Get(txn.Blob(), types.PayloadBlobKey(txHash))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read payload of transaction %x: %w", txHash, err)
	}
	return ret, nil
}
