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

// Package did implements the PRISM DID protocol state machine. It validates
// signed operations against the hash chain of previously applied operations
// and folds them into DID documents.
package did

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/blinklabs-io/prism/protocol"
	"github.com/blinklabs-io/prism/signing"
)

const (
	// MethodPrefix is the scheme and method of every PRISM DID
	MethodPrefix = "did:prism:"

	suffixLength = 64
)

// Identifier is a parsed PRISM DID. EncodedState is only set for long-form DIDs
// and holds the serialized create operation.
type Identifier struct {
	Suffix       string
	EncodedState []byte
}

// ParseDID parses a short or long-form PRISM DID
func ParseDID(s string) (Identifier, error) {
	rest, ok := strings.CutPrefix(s, MethodPrefix)
	if !ok {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	suffix, encoded, long := strings.Cut(rest, ":")
	if !ValidSuffix(suffix) {
		return Identifier{}, fmt.Errorf("%w: bad suffix %q", ErrInvalidDID, suffix)
	}
	ret := Identifier{Suffix: suffix}
	if long {
		state, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(state) == 0 {
			return Identifier{}, fmt.Errorf("%w: undecodable state", ErrInvalidLongForm)
		}
		ret.EncodedState = state
	}
	return ret, nil
}

// ValidSuffix reports whether s is a hex encoded SHA-256 digest
func ValidSuffix(s string) bool {
	if len(s) != suffixLength || strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// IsLongForm reports whether the identifier embeds its create operation
func (i Identifier) IsLongForm() bool {
	return len(i.EncodedState) > 0
}

// String returns the canonical short form
func (i Identifier) String() string {
	return MethodPrefix + i.Suffix
}

// LongForm returns the long form of the identifier. Short-form identifiers
// are returned unchanged.
func (i Identifier) LongForm() string {
	if !i.IsLongForm() {
		return i.String()
	}
	return i.String() + ":" + base64.RawURLEncoding.EncodeToString(i.EncodedState)
}

// NewLongForm builds the long-form identifier for a serialized create operation
func NewLongForm(createOperation []byte) Identifier {
	return Identifier{
		Suffix:       signing.HashHex(createOperation),
		EncodedState: createOperation,
	}
}

// CreateOperation verifies the embedded state against the suffix and decodes it
func (i Identifier) CreateOperation(verifier signing.Verifier) (*protocol.CreateDID, error) {
	if !i.IsLongForm() {
		return nil, fmt.Errorf("%w: no encoded state", ErrInvalidLongForm)
	}
	if hex.EncodeToString(verifier.Hash(i.EncodedState)) != i.Suffix {
		return nil, fmt.Errorf("%w: state does not match suffix", ErrInvalidLongForm)
	}
	op, err := protocol.UnmarshalOperation(i.EncodedState)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLongForm, err)
	}
	if op.Type() != protocol.OperationTypeCreate {
		return nil, fmt.Errorf("%w: state is a %s operation", ErrInvalidLongForm, op.Type())
	}
	return op.Create, nil
}

// DocumentFromLongForm builds the unpublished document described by a
// long-form identifier
func DocumentFromLongForm(id Identifier, verifier signing.Verifier) (*Document, error) {
	create, err := id.CreateOperation(verifier)
	if err != nil {
		return nil, err
	}
	doc, err := newDocument(id.Suffix, create)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLongForm, err)
	}
	doc.Version = verifier.Hash(id.EncodedState)
	return doc, nil
}
