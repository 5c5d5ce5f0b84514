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

// Package signing provides the hashing and signature primitives used to
// validate PRISM operations.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Verifier is the cryptographic collaborator used by the operation processor
type Verifier interface {
	Hash(data []byte) []byte
	VerifySignature(publicKey, message, signature []byte) bool
}

// Secp256k1 verifies DER encoded ECDSA signatures over the SHA-256 digest of a message
type Secp256k1 struct{}

// Hash returns the SHA-256 digest of data
func (Secp256k1) Hash(data []byte) []byte {
	return Hash(data)
}

func (Secp256k1) VerifySignature(publicKey, message, signature []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(Hash(message), pubKey)
}

// Hash returns the SHA-256 digest of data
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HashHex returns the hex encoded SHA-256 digest of data
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// PrivateKey wraps a secp256k1 private key for producing operation signatures
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random private key
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes loads a private key from its 32-byte scalar
func PrivateKeyFromBytes(data []byte) *PrivateKey {
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(data)}
}

// Sign returns the DER encoded signature of the SHA-256 digest of message
func (k *PrivateKey) Sign(message []byte) []byte {
	return ecdsa.Sign(k.key, Hash(message)).Serialize()
}

// PublicKeyCompressed returns the 33-byte compressed public key
func (k *PrivateKey) PublicKeyCompressed() []byte {
	return k.key.PubKey().SerializeCompressed()
}

// PublicKeyCoordinates returns the X and Y coordinates of the public key
func (k *PrivateKey) PublicKeyCoordinates() ([]byte, []byte) {
	uncompressed := k.key.PubKey().SerializeUncompressed()
	return uncompressed[1:33], uncompressed[33:]
}

// CompressPublicKey normalizes a SEC1 encoded key to its compressed form
func CompressPublicKey(publicKey []byte) ([]byte, error) {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pubKey.SerializeCompressed(), nil
}
