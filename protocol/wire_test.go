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

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func testCreate() *Operation {
	return &Operation{
		Create: &CreateDID{
			PublicKeys: []PublicKey{
				{
					ID:    "master0",
					Usage: KeyUsageMaster,
					Curve: CurveSecp256k1,
					X:     bytes.Repeat([]byte{0x01}, 32),
					Y:     bytes.Repeat([]byte{0x02}, 32),
				},
				{
					ID:         "auth0",
					Usage:      KeyUsageAuthentication,
					Curve:      CurveSecp256k1,
					Compressed: append([]byte{0x02}, bytes.Repeat([]byte{0x03}, 32)...),
				},
			},
			Services: []Service{
				{ID: "svc0", Type: "LinkedDomains", Endpoint: "https://example.com"},
			},
			Context: []string{"https://www.w3.org/ns/did/v1"},
		},
	}
}

func TestOperationRoundTrip(t *testing.T) {
	testDefs := []struct {
		name string
		op   *Operation
	}{
		{name: "create", op: testCreate()},
		{
			name: "update",
			op: &Operation{
				Update: &UpdateDID{
					PreviousOperationHash: bytes.Repeat([]byte{0xaa}, 32),
					ID:                    "abcd",
					Actions: []UpdateAction{
						{Type: ActionAddKey, Key: &testCreate().Create.PublicKeys[1]},
						{Type: ActionRemoveKey, ID: "issuing0"},
						{Type: ActionAddService, Service: &Service{ID: "s1", Type: "t", Endpoint: "e"}},
						{Type: ActionRemoveService, ID: "s0"},
						{Type: ActionUpdateService, Service: &Service{ID: "s1", Endpoint: "e2"}},
						{Type: ActionPatchContext, PatchContext: []string{"a", "b"}},
					},
				},
			},
		},
		{
			name: "deactivate",
			op: &Operation{
				Deactivate: &DeactivateDID{
					PreviousOperationHash: bytes.Repeat([]byte{0xbb}, 32),
					ID:                    "abcd",
				},
			},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			data, err := MarshalOperation(testDef.op)
			require.NoError(t, err)
			decoded, err := UnmarshalOperation(data)
			require.NoError(t, err)
			assert.Equal(t, testDef.op, decoded)
		})
	}
}

func TestOperationAccessors(t *testing.T) {
	prev := []byte{0x01, 0x02}
	op := &Operation{Update: &UpdateDID{PreviousOperationHash: prev, ID: "suffix"}}
	assert.Equal(t, OperationTypeUpdate, op.Type())
	assert.Equal(t, prev, op.PreviousOperationHash())
	assert.Equal(t, "suffix", op.DidSuffix())
	create := testCreate()
	assert.Nil(t, create.PreviousOperationHash())
	assert.Empty(t, create.DidSuffix())
	var nilOp *Operation
	assert.Equal(t, OperationTypeUnknown, nilOp.Type())
}

func TestUnsupportedOperation(t *testing.T) {
	// Field 4 is a credential batch issuance, which is not modeled
	data := appendMessage(nil, 4, appendString(nil, 1, "batch"))
	op, err := UnmarshalOperation(data)
	require.NoError(t, err)
	assert.Equal(t, OperationTypeUnknown, op.Type())
	assert.Equal(t, int32(4), op.Unsupported)
	_, err = MarshalOperation(op)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	data, err := MarshalOperation(testCreate())
	require.NoError(t, err)
	extended := protowire.AppendTag(bytes.Clone(data), 99, protowire.VarintType)
	extended = protowire.AppendVarint(extended, 12345)
	extended = protowire.AppendTag(extended, 100, protowire.Fixed64Type)
	extended = protowire.AppendFixed64(extended, 1)
	op, err := UnmarshalOperation(extended)
	require.NoError(t, err)
	assert.Equal(t, testCreate(), op)
}

func TestTruncatedInput(t *testing.T) {
	data, err := MarshalOperation(testCreate())
	require.NoError(t, err)
	_, err = UnmarshalOperation(data[:len(data)-3])
	assert.Error(t, err)
	_, err = UnmarshalObject([]byte{0x22, 0x10, 0x01})
	assert.Error(t, err)
}

func TestObjectRoundTrip(t *testing.T) {
	opData, err := MarshalOperation(testCreate())
	require.NoError(t, err)
	ops := []SignedOperation{
		{SignedWith: "master0", Signature: []byte{0x30, 0x01}, Operation: opData},
		{SignedWith: "master1", Signature: []byte{0x30, 0x02}, Operation: opData},
	}
	blk, err := UnmarshalObject(MarshalObject(ops))
	require.NoError(t, err)
	require.NotNil(t, blk)
	assert.Equal(t, ops, blk.Operations)
	decoded, err := blk.Operations[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, OperationTypeCreate, decoded.Type())
}

func TestObjectWithoutBlockContent(t *testing.T) {
	// Legacy objects carry a block hash in field 1 instead of block content
	legacy := appendBytes(nil, 1, bytes.Repeat([]byte{0x0f}, 32))
	blk, err := UnmarshalObject(legacy)
	require.NoError(t, err)
	assert.Nil(t, blk)
}

func TestKeyBytes(t *testing.T) {
	key := testCreate().Create.PublicKeys[0]
	data, err := key.KeyBytes()
	require.NoError(t, err)
	require.Len(t, data, 65)
	assert.Equal(t, byte(0x04), data[0])
	_, err = PublicKey{ID: "empty"}.KeyBytes()
	assert.ErrorIs(t, err, ErrNoKeyData)
}
