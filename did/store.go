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

package did

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/prism/protocol"
)

// Position locates an operation on the ledger
type Position struct {
	BlockHeight uint64
	TxIndex     uint32
	OpIndex     uint32
	Time        time.Time
}

// StoredOperation is an applied operation as recorded by the state store
type StoredOperation struct {
	Hash         []byte
	DidSuffix    string
	Type         protocol.OperationType
	PreviousHash []byte
	SignedWith   string
	Signature    []byte
	// Payload is the serialized operation
	Payload []byte
	Position
}

func (o StoredOperation) HashHex() string {
	return hex.EncodeToString(o.Hash)
}

// Store provides the hash-chain context of applied operations
type Store interface {
	// OperationByHash returns ErrOperationNotFound when no operation has the hash
	OperationByHash(ctx context.Context, hash []byte) (*StoredOperation, error)
	// OperationsForDID returns the applied operations of a DID in ledger order
	OperationsForDID(ctx context.Context, suffix string) ([]StoredOperation, error)
}

// Replay folds applied operations, in ledger order, into a document. The
// operations are trusted, so signatures are not checked again.
func Replay(ops []StoredOperation) (*Document, error) {
	return ReplayUntil(ops, nil)
}

// ReplayUntil folds applied operations up to and including the one with the
// given hash. A nil hash replays everything.
func ReplayUntil(ops []StoredOperation, version []byte) (*Document, error) {
	var doc *Document
	for _, stored := range ops {
		op, err := protocol.UnmarshalOperation(stored.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: operation %x: %v", ErrCorruptHistory, stored.Hash, err)
		}
		if doc == nil {
			if op.Type() != protocol.OperationTypeCreate {
				return nil, fmt.Errorf("%w: chain starts with %s operation %x", ErrCorruptHistory, op.Type(), stored.Hash)
			}
			doc, err = newDocument(stored.DidSuffix, op.Create)
			if err != nil {
				return nil, fmt.Errorf("%w: operation %x: %v", ErrCorruptHistory, stored.Hash, err)
			}
		} else {
			if doc.Deactivated {
				return nil, fmt.Errorf("%w: operation %x follows deactivation", ErrCorruptHistory, stored.Hash)
			}
			if !bytes.Equal(op.PreviousOperationHash(), doc.Version) {
				return nil, fmt.Errorf("%w: operation %x breaks the hash chain", ErrCorruptHistory, stored.Hash)
			}
			if err := doc.apply(op); err != nil {
				return nil, fmt.Errorf("%w: operation %x: %v", ErrCorruptHistory, stored.Hash, err)
			}
		}
		doc.Version = bytes.Clone(stored.Hash)
		if version != nil && bytes.Equal(version, stored.Hash) {
			return doc, nil
		}
	}
	if doc == nil {
		return nil, ErrUnknownDID
	}
	if version != nil {
		return nil, fmt.Errorf("%w: version %x", ErrOperationNotFound, version)
	}
	return doc, nil
}

// apply applies a non-create operation in place
func (d *Document) apply(op *protocol.Operation) error {
	switch op.Type() {
	case protocol.OperationTypeUpdate:
		return d.applyActions(op.Update.Actions)
	case protocol.OperationTypeDeactivate:
		d.Deactivated = true
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op.Type())
	}
}

// currentDocument loads and folds the operations of a DID
func currentDocument(ctx context.Context, store Store, suffix string) (*Document, error) {
	ops, err := store.OperationsForDID(ctx, suffix)
	if err != nil {
		return nil, fmt.Errorf("load operations for %s: %w", suffix, err)
	}
	if len(ops) == 0 {
		return nil, ErrUnknownDID
	}
	return Replay(ops)
}

func lookupOperation(ctx context.Context, store Store, hash []byte) (*StoredOperation, error) {
	op, err := store.OperationByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrOperationNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup operation %x: %w", hash, err)
	}
	return op, nil
}
