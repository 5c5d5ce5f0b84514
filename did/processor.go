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
	"fmt"

	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/signing"
)

// Processor validates signed operations and computes the resulting document.
// It does not write anything: the caller persists Result.Operation, in the
// same transaction the Store reads from, when the operation is not a replay.
type Processor struct {
	verifier signing.Verifier
}

// Result is the outcome of a successfully processed operation
type Result struct {
	Operation StoredOperation
	Document  *Document
	// Replayed is set when the operation had already been applied
	Replayed bool
}

// NewProcessor returns a processor using the given verifier, or secp256k1
// ECDSA over SHA-256 when verifier is nil
func NewProcessor(verifier signing.Verifier) *Processor {
	if verifier == nil {
		verifier = signing.Secp256k1{}
	}
	return &Processor{verifier: verifier}
}

// Hash returns the operation hash of a signed operation
func (p *Processor) Hash(op protocol.SignedOperation) []byte {
	return p.verifier.Hash(op.Operation)
}

// Process validates a signed operation against the current state of its DID
func (p *Processor) Process(
	ctx context.Context,
	store Store,
	signed protocol.SignedOperation,
	pos Position,
) (*Result, error) {
	if len(signed.Operation) == 0 {
		return nil, fmt.Errorf("%w: empty operation", ErrInvalidOperation)
	}
	op, err := signed.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	hash := p.verifier.Hash(signed.Operation)
	existing, err := lookupOperation(ctx, store, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		doc, err := currentDocument(ctx, store, existing.DidSuffix)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: *existing, Document: doc, Replayed: true}, nil
	}
	record := StoredOperation{
		Hash:         hash,
		Type:         op.Type(),
		PreviousHash: bytes.Clone(op.PreviousOperationHash()),
		SignedWith:   signed.SignedWith,
		Signature:    bytes.Clone(signed.Signature),
		Payload:      bytes.Clone(signed.Operation),
		Position:     pos,
	}
	var doc *Document
	switch op.Type() {
	case protocol.OperationTypeCreate:
		record.DidSuffix = hex.EncodeToString(hash)
		doc, err = p.processCreate(ctx, store, op.Create, signed, record.DidSuffix)
	case protocol.OperationTypeUpdate, protocol.OperationTypeDeactivate:
		record.DidSuffix = op.DidSuffix()
		doc, err = p.processChained(ctx, store, op, signed)
	default:
		if op.Unsupported != 0 {
			return nil, fmt.Errorf("%w: operation field %d", ErrUnsupportedOperation, op.Unsupported)
		}
		return nil, fmt.Errorf("%w: no operation variant", ErrUnsupportedOperation)
	}
	if err != nil {
		return nil, err
	}
	doc.Version = bytes.Clone(hash)
	return &Result{Operation: record, Document: doc}, nil
}

func (p *Processor) processCreate(
	ctx context.Context,
	store Store,
	create *protocol.CreateDID,
	signed protocol.SignedOperation,
	suffix string,
) (*Document, error) {
	ops, err := store.OperationsForDID(ctx, suffix)
	if err != nil {
		return nil, fmt.Errorf("load operations for %s: %w", suffix, err)
	}
	if len(ops) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCreate, MethodPrefix+suffix)
	}
	doc, err := newDocument(suffix, create)
	if err != nil {
		return nil, err
	}
	if err := p.verify(doc, signed); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Processor) processChained(
	ctx context.Context,
	store Store,
	op *protocol.Operation,
	signed protocol.SignedOperation,
) (*Document, error) {
	suffix := op.DidSuffix()
	if !ValidSuffix(suffix) {
		return nil, fmt.Errorf("%w: bad suffix %q", ErrInvalidDID, suffix)
	}
	current, err := currentDocument(ctx, store, suffix)
	if err != nil {
		return nil, err
	}
	if current.Deactivated {
		return nil, fmt.Errorf("%w: %s", ErrDIDDeactivated, current.ID)
	}
	prevHash := op.PreviousOperationHash()
	prev, err := lookupOperation(ctx, store, prevHash)
	if err != nil {
		return nil, err
	}
	if prev == nil || prev.DidSuffix != suffix {
		return nil, fmt.Errorf("%w: %x", ErrPreviousOperationNotFound, prevHash)
	}
	if !bytes.Equal(prevHash, current.Version) {
		return nil, fmt.Errorf(
			"%w: references %x, tip is %x",
			ErrPreviousOperationNotTip,
			prevHash,
			current.Version,
		)
	}
	// Signed by a master key of the state being replaced
	if err := p.verify(current, signed); err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := next.apply(op); err != nil {
		return nil, err
	}
	return next, nil
}

func (p *Processor) verify(doc *Document, signed protocol.SignedOperation) error {
	key, ok := doc.MasterKey(signed.SignedWith)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSigningKey, signed.SignedWith)
	}
	if !p.verifier.VerifySignature(key.Data, signed.Operation, signed.Signature) {
		return fmt.Errorf("%w: signed with %q", ErrInvalidSignature, signed.SignedWith)
	}
	return nil
}
