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
	"context"
	"errors"

	"github.com/blinklabs-io/prism/database/models"
	"github.com/blinklabs-io/prism/did"
	"github.com/blinklabs-io/prism/protocol"
)

// didStore serves the hash-chain context of the processor from a transaction
type didStore struct {
	db  *Database
	txn *Txn
}

// DIDStore returns a did.Store reading through txn, so operations stored
// earlier in the same transaction are visible to the processor
func (d *Database) DIDStore(txn *Txn) did.Store {
	return &didStore{db: d, txn: txn}
}

func (s *didStore) OperationByHash(
	_ context.Context,
	hash []byte,
) (*did.StoredOperation, error) {
	op, err := s.db.OperationByHash(hash, s.txn)
	if err != nil {
		if errors.Is(err, models.ErrOperationNotFound) {
			return nil, did.ErrOperationNotFound
		}
		return nil, err
	}
	ret := StoredOperation(op)
	return &ret, nil
}

func (s *didStore) OperationsForDID(
	_ context.Context,
	suffix string,
) ([]did.StoredOperation, error) {
	ops, err := s.db.OperationsForDID(suffix, s.txn)
	if err != nil {
		return nil, err
	}
	ret := make([]did.StoredOperation, 0, len(ops))
	for i := range ops {
		ret = append(ret, StoredOperation(&ops[i]))
	}
	return ret, nil
}

// StoredOperation converts an operation row for the processor
func StoredOperation(op *models.Operation) did.StoredOperation {
	return did.StoredOperation{
		Hash:         op.Hash,
		DidSuffix:    op.DidSuffix,
		Type:         operationType(op.Type),
		PreviousHash: op.PreviousHash,
		SignedWith:   op.SignedWith,
		Signature:    op.Signature,
		Payload:      op.Payload,
		Position: did.Position{
			BlockHeight: op.BlockHeight,
			TxIndex:     op.TxIndex,
			OpIndex:     op.OpIndex,
			Time:        op.Time,
		},
	}
}

// OperationModel converts an applied operation into a row of a transaction
func OperationModel(transactionId uint, op did.StoredOperation) models.Operation {
	return models.Operation{
		Time:          op.Time,
		Hash:          op.Hash,
		PreviousHash:  op.PreviousHash,
		Signature:     op.Signature,
		Payload:       op.Payload,
		DidSuffix:     op.DidSuffix,
		Type:          op.Type.String(),
		SignedWith:    op.SignedWith,
		TransactionID: transactionId,
		BlockHeight:   op.BlockHeight,
		TxIndex:       op.TxIndex,
		OpIndex:       op.OpIndex,
	}
}

func operationType(val string) protocol.OperationType {
	switch val {
	case models.OperationTypeCreate:
		return protocol.OperationTypeCreate
	case models.OperationTypeUpdate:
		return protocol.OperationTypeUpdate
	case models.OperationTypeDeactivate:
		return protocol.OperationTypeDeactivate
	default:
		return protocol.OperationTypeUnknown
	}
}
