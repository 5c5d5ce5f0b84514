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

// Package codec converts signed PRISM operations to and from the chunked
// representation stored in Cardano transaction metadata.
package codec

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/prism/protocol"
)

const (
	// WireVersion is the only supported wire transaction version
	WireVersion = 1
	// ChunkSize is the maximum number of hex characters per content chunk
	ChunkSize = 128

	chunkPrefix = "0x"
)

var (
	ErrNoOperations       = errors.New("no operations to encode")
	ErrMalformedWire      = errors.New("malformed wire transaction")
	ErrUnsupportedVersion = errors.New("unsupported wire transaction version")
	ErrParse              = errors.New("failed to parse operation block")
	// ErrEmptyBlock indicates an object without block content. This is what
	// old payload formats look like, so callers generally skip it.
	ErrEmptyBlock = errors.New("wire transaction has no block content")
)

// WireTransaction is the JSON document stored under the protocol metadata key
type WireTransaction struct {
	Content []string `json:"content"`
	Version int      `json:"version"`
}

// Encode serializes the operations into a wire transaction
func Encode(ops []protocol.SignedOperation) (*WireTransaction, error) {
	if len(ops) == 0 {
		return nil, ErrNoOperations
	}
	encoded := hex.EncodeToString(protocol.MarshalObject(ops))
	ret := &WireTransaction{
		Version: WireVersion,
		Content: make([]string, 0, (len(encoded)+ChunkSize-1)/ChunkSize),
	}
	for len(encoded) > 0 {
		n := min(ChunkSize, len(encoded))
		ret.Content = append(ret.Content, chunkPrefix+encoded[:n])
		encoded = encoded[n:]
	}
	return ret, nil
}

// EncodeJSON encodes the operations and renders the wire transaction as JSON
func EncodeJSON(ops []protocol.SignedOperation) ([]byte, error) {
	wire, err := Encode(ops)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// Decode reassembles the chunks and parses the operation block
func Decode(wire *WireTransaction) ([]protocol.SignedOperation, error) {
	if wire == nil {
		return nil, fmt.Errorf("%w: nil wire transaction", ErrMalformedWire)
	}
	if wire.Version != WireVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, wire.Version)
	}
	var sb strings.Builder
	for _, chunk := range wire.Content {
		sb.WriteString(strings.TrimPrefix(chunk, chunkPrefix))
	}
	data, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedWire, err)
	}
	blk, err := protocol.UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if blk == nil || len(blk.Operations) == 0 {
		return nil, ErrEmptyBlock
	}
	return blk.Operations, nil
}

// DecodeJSON parses the wire transaction JSON and decodes it
func DecodeJSON(data []byte) ([]protocol.SignedOperation, error) {
	var wire WireTransaction
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedWire, err)
	}
	return Decode(&wire)
}
