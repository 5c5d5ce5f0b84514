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

package types

import (
	"encoding/binary"
	"errors"
)

// KV is the part of a blob store used to persist the commit timestamp
type KV interface {
	NewTransaction(bool) Txn
	Get(Txn, []byte) ([]byte, error)
	Set(Txn, []byte, []byte) error
}

// EncodeCommitTimestamp returns the stored form of a commit timestamp
func EncodeCommitTimestamp(ts int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(ts)) //nolint:gosec
}

// DecodeCommitTimestamp accepts the fixed eight byte form as well as the
// shorter minimal big-endian form written by older stores
func DecodeCommitTimestamp(val []byte) (int64, error) {
	if len(val) > 8 {
		return 0, errors.New("commit timestamp longer than 8 bytes")
	}
	var buf [8]byte
	copy(buf[8-len(val):], val)
	return int64(binary.BigEndian.Uint64(buf[:])), nil //nolint:gosec
}

// ReadCommitTimestamp loads the commit timestamp from a blob store in its own
// read-only transaction
func ReadCommitTimestamp(kv KV) (int64, error) {
	txn := kv.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	val, err := kv.Get(txn, []byte(CommitTimestampKey))
	if err != nil {
		return 0, err
	}
	return DecodeCommitTimestamp(val)
}

// WriteCommitTimestamp stages the commit timestamp in txn
func WriteCommitTimestamp(kv KV, ts int64, txn Txn) error {
	if txn == nil {
		return ErrNilTxn
	}
	return kv.Set(txn, []byte(CommitTimestampKey), EncodeCommitTimestamp(ts))
}
