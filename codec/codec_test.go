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

package codec_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/prism/codec"
	"github.com/blinklabs-io/prism/internal/test/testutil"
	"github.com/blinklabs-io/prism/protocol"
)

func testOperations(t *testing.T, count int) []protocol.SignedOperation {
	ret := make([]protocol.SignedOperation, 0, count)
	for range count {
		ret = append(ret, testutil.NewIdentity(t).Create)
	}
	return ret
}

func TestRoundTrip(t *testing.T) {
	for _, count := range []int{1, 2, 5} {
		ops := testOperations(t, count)
		wire, err := codec.Encode(ops)
		require.NoError(t, err)
		assert.Equal(t, codec.WireVersion, wire.Version)
		decoded, err := codec.Decode(wire)
		require.NoError(t, err)
		assert.Equal(t, ops, decoded)
	}
}

func TestChunking(t *testing.T) {
	ops := testOperations(t, 3)
	wire, err := codec.Encode(ops)
	require.NoError(t, err)
	require.Greater(t, len(wire.Content), 1)
	var sb strings.Builder
	for i, chunk := range wire.Content {
		require.True(t, strings.HasPrefix(chunk, "0x"))
		hexPart := strings.TrimPrefix(chunk, "0x")
		assert.LessOrEqual(t, len(hexPart), codec.ChunkSize)
		if i < len(wire.Content)-1 {
			assert.Len(t, hexPart, codec.ChunkSize)
		}
		sb.WriteString(hexPart)
	}
	expected := hex.EncodeToString(protocol.MarshalObject(ops))
	assert.Equal(t, expected, sb.String())
}

func TestEncodeEmpty(t *testing.T) {
	_, err := codec.Encode(nil)
	assert.ErrorIs(t, err, codec.ErrNoOperations)
}

func TestJSONRoundTrip(t *testing.T) {
	ops := testOperations(t, 1)
	data, err := codec.EncodeJSON(ops)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":["0x`)
	assert.Contains(t, string(data), `"version":1`)
	decoded, err := codec.DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, ops, decoded)
}

func TestDecodeErrors(t *testing.T) {
	testDefs := []struct {
		name    string
		json    string
		wantErr error
	}{
		{name: "bad json", json: `{"content": [`, wantErr: codec.ErrMalformedWire},
		{name: "wrong shape", json: `{"content": "0x00", "version": 1}`, wantErr: codec.ErrMalformedWire},
		{name: "version 2", json: `{"content": ["0x2200"], "version": 2}`, wantErr: codec.ErrUnsupportedVersion},
		{name: "missing version", json: `{"content": ["0x2200"]}`, wantErr: codec.ErrUnsupportedVersion},
		{name: "bad hex", json: `{"content": ["0xzz"], "version": 1}`, wantErr: codec.ErrMalformedWire},
		{name: "truncated protobuf", json: `{"content": ["0x2210"], "version": 1}`, wantErr: codec.ErrParse},
		{name: "legacy object", json: `{"content": ["0x0a020102"], "version": 1}`, wantErr: codec.ErrEmptyBlock},
		{name: "empty block", json: `{"content": ["0x2200"], "version": 1}`, wantErr: codec.ErrEmptyBlock},
		{name: "no content", json: `{"content": [], "version": 1}`, wantErr: codec.ErrEmptyBlock},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := codec.DecodeJSON([]byte(testDef.json))
			assert.ErrorIs(t, err, testDef.wantErr)
		})
	}
}

func TestDecodeNil(t *testing.T) {
	_, err := codec.Decode(nil)
	assert.ErrorIs(t, err, codec.ErrMalformedWire)
}
