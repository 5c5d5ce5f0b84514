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

// Package protocol models PRISM operations and their protobuf encoding.
package protocol

import (
	"errors"
	"fmt"
)

// CurveSecp256k1 is the only curve accepted for master keys
const CurveSecp256k1 = "secp256k1"

var (
	// ErrNoKeyData is returned when a public key carries neither key form
	ErrNoKeyData = errors.New("public key has no key data")
	// ErrUnknownOperation is returned when an operation has no supported variant
	ErrUnknownOperation = errors.New("unknown operation type")
)

type KeyUsage int32

const (
	KeyUsageUnknown KeyUsage = iota
	KeyUsageMaster
	KeyUsageIssuing
	KeyUsageKeyAgreement
	KeyUsageAuthentication
	KeyUsageRevocation
	KeyUsageCapabilityInvocation
	KeyUsageCapabilityDelegation
)

func (u KeyUsage) String() string {
	switch u {
	case KeyUsageMaster:
		return "master"
	case KeyUsageIssuing:
		return "issuing"
	case KeyUsageKeyAgreement:
		return "keyAgreement"
	case KeyUsageAuthentication:
		return "authentication"
	case KeyUsageRevocation:
		return "revocation"
	case KeyUsageCapabilityInvocation:
		return "capabilityInvocation"
	case KeyUsageCapabilityDelegation:
		return "capabilityDelegation"
	default:
		return "unknown"
	}
}

// PublicKey is a DID public key. Exactly one of the uncompressed (X, Y) or
// Compressed forms is expected to be set.
type PublicKey struct {
	ID         string
	Usage      KeyUsage
	Curve      string
	X          []byte
	Y          []byte
	Compressed []byte
}

// KeyBytes returns the SEC1 encoding of the key
func (k PublicKey) KeyBytes() ([]byte, error) {
	if len(k.Compressed) > 0 {
		return k.Compressed, nil
	}
	if len(k.X) == 0 || len(k.Y) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoKeyData, k.ID)
	}
	ret := make([]byte, 0, 1+len(k.X)+len(k.Y))
	ret = append(ret, 0x04)
	ret = append(ret, k.X...)
	ret = append(ret, k.Y...)
	return ret, nil
}

type Service struct {
	ID       string
	Type     string
	Endpoint string
}

type OperationType int

const (
	OperationTypeUnknown OperationType = iota
	OperationTypeCreate
	OperationTypeUpdate
	OperationTypeDeactivate
)

func (t OperationType) String() string {
	switch t {
	case OperationTypeCreate:
		return "create"
	case OperationTypeUpdate:
		return "update"
	case OperationTypeDeactivate:
		return "deactivate"
	default:
		return "unknown"
	}
}

type CreateDID struct {
	PublicKeys []PublicKey
	Services   []Service
	Context    []string
}

type UpdateDID struct {
	PreviousOperationHash []byte
	// ID is the DID suffix being updated
	ID      string
	Actions []UpdateAction
}

type DeactivateDID struct {
	PreviousOperationHash []byte
	ID                    string
}

type ActionType int

const (
	ActionUnknown ActionType = iota
	ActionAddKey
	ActionRemoveKey
	ActionAddService
	ActionRemoveService
	ActionUpdateService
	ActionPatchContext
)

func (t ActionType) String() string {
	switch t {
	case ActionAddKey:
		return "addKey"
	case ActionRemoveKey:
		return "removeKey"
	case ActionAddService:
		return "addService"
	case ActionRemoveService:
		return "removeService"
	case ActionUpdateService:
		return "updateService"
	case ActionPatchContext:
		return "patchContext"
	default:
		return "unknown"
	}
}

// UpdateAction is a single patch applied by an update operation. Only the
// field matching Type is meaningful. For ActionUpdateService, empty Type or
// Endpoint values leave the current value unchanged.
type UpdateAction struct {
	Type         ActionType
	Key          *PublicKey
	Service      *Service
	ID           string
	PatchContext []string
}

// Operation is a decoded PRISM operation. At most one variant is set.
type Operation struct {
	Create     *CreateDID
	Update     *UpdateDID
	Deactivate *DeactivateDID
	// Unsupported holds the field number of an operation variant that is
	// not modeled here (credential batches, storage entries, ...)
	Unsupported int32
}

func (o *Operation) Type() OperationType {
	switch {
	case o == nil:
		return OperationTypeUnknown
	case o.Create != nil:
		return OperationTypeCreate
	case o.Update != nil:
		return OperationTypeUpdate
	case o.Deactivate != nil:
		return OperationTypeDeactivate
	default:
		return OperationTypeUnknown
	}
}

// PreviousOperationHash returns the hash-chain predecessor of a non-create operation
func (o *Operation) PreviousOperationHash() []byte {
	switch o.Type() {
	case OperationTypeUpdate:
		return o.Update.PreviousOperationHash
	case OperationTypeDeactivate:
		return o.Deactivate.PreviousOperationHash
	default:
		return nil
	}
}

// DidSuffix returns the DID suffix targeted by a non-create operation
func (o *Operation) DidSuffix() string {
	switch o.Type() {
	case OperationTypeUpdate:
		return o.Update.ID
	case OperationTypeDeactivate:
		return o.Deactivate.ID
	default:
		return ""
	}
}

// SignedOperation carries the serialized operation verbatim, so hashes and
// signatures are always computed over the exact bytes published on-chain.
type SignedOperation struct {
	SignedWith string
	Signature  []byte
	Operation  []byte
}

// Decode parses the embedded operation bytes
func (s SignedOperation) Decode() (*Operation, error) {
	return UnmarshalOperation(s.Operation)
}
