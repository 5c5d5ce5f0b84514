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

// Package testutil provides common test helpers: deterministic channel and
// condition waits, and builders for signed PRISM operations.
package testutil

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/signing"
)

// MasterKeyID is the id of the master key of every Identity
const MasterKeyID = "master0"

// WaitForCondition polls the given condition function until it returns true
// or the timeout expires
func WaitForCondition(
	t *testing.T,
	condition func() bool,
	timeout time.Duration,
	msg string,
) {
	t.Helper()
	require.Eventually(
		t,
		condition,
		timeout,
		10*time.Millisecond,
		msg,
	)
}

// RequireReceive waits for a value on the given channel or fails the test
// if the timeout expires
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for channel receive: %s", msg)
		var zero T
		return zero // unreachable
	}
}

// RequireNoReceive verifies that no value is received on the given channel
// within the specified duration
func RequireNoReceive[T any](
	t *testing.T,
	ch <-chan T,
	duration time.Duration,
	msg string,
) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf(
			"unexpected value received on channel: %v: %s",
			v,
			msg,
		)
	case <-time.After(duration):
	}
}

// Identity is a DID controller holding a single master key
type Identity struct {
	t      *testing.T
	Key    *signing.PrivateKey
	Create protocol.SignedOperation
	// Suffix of the DID created by Create
	Suffix string
}

// NewIdentity generates a master key and a signed create operation with an
// optional set of services
func NewIdentity(t *testing.T, services ...protocol.Service) *Identity {
	t.Helper()
	key, err := signing.GenerateKey()
	require.NoError(t, err)
	x, y := key.PublicKeyCoordinates()
	op := &protocol.Operation{
		Create: &protocol.CreateDID{
			PublicKeys: []protocol.PublicKey{
				{
					ID:    MasterKeyID,
					Usage: protocol.KeyUsageMaster,
					Curve: protocol.CurveSecp256k1,
					X:     x,
					Y:     y,
				},
			},
			Services: services,
			Context:  []string{"https://www.w3.org/ns/did/v1"},
		},
	}
	ret := &Identity{t: t, Key: key}
	ret.Create = ret.Sign(op)
	ret.Suffix = signing.HashHex(ret.Create.Operation)
	return ret
}

// Sign serializes the operation and signs it with the master key
func (i *Identity) Sign(op *protocol.Operation) protocol.SignedOperation {
	i.t.Helper()
	data, err := protocol.MarshalOperation(op)
	require.NoError(i.t, err)
	return protocol.SignedOperation{
		SignedWith: MasterKeyID,
		Signature:  i.Key.Sign(data),
		Operation:  data,
	}
}

// Update builds a signed update operation following prev
func (i *Identity) Update(
	prev protocol.SignedOperation,
	actions ...protocol.UpdateAction,
) protocol.SignedOperation {
	i.t.Helper()
	return i.Sign(&protocol.Operation{
		Update: &protocol.UpdateDID{
			PreviousOperationHash: signing.Hash(prev.Operation),
			ID:                    i.Suffix,
			Actions:               actions,
		},
	})
}

// Deactivate builds a signed deactivate operation following prev
func (i *Identity) Deactivate(prev protocol.SignedOperation) protocol.SignedOperation {
	i.t.Helper()
	return i.Sign(&protocol.Operation{
		Deactivate: &protocol.DeactivateDID{
			PreviousOperationHash: signing.Hash(prev.Operation),
			ID:                    i.Suffix,
		},
	})
}

// AddService returns an update action adding a service
func AddService(id, endpoint string) protocol.UpdateAction {
	return protocol.UpdateAction{
		Type: protocol.ActionAddService,
		Service: &protocol.Service{
			ID:       id,
			Type:     "LinkedDomains",
			Endpoint: endpoint,
		},
	}
}

// OperationHash returns the hex hash of a signed operation
func OperationHash(op protocol.SignedOperation) string {
	return hex.EncodeToString(signing.Hash(op.Operation))
}

// Address returns a testnet base address built from key hashes filled with
// the given seeds
func Address(t *testing.T, paymentSeed, stakeSeed byte) string {
	t.Helper()
	addr, err := lcommon.NewAddressFromParts(
		lcommon.AddressTypeKeyKey,
		lcommon.AddressNetworkTestnet,
		bytes.Repeat([]byte{paymentSeed}, 28),
		bytes.Repeat([]byte{stakeSeed}, 28),
	)
	require.NoError(t, err)
	return addr.String()
}
