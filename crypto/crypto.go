// Package crypto provides cryptographic primitives for the miniroha
// ledger: Ed25519 keypairs, base58-encoded key/signature/hash
// material, and content hashing.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// PublicKeyPrefix marks a base58-encoded Ed25519 public key.
const PublicKeyPrefix = "ed25519:"

// KeyPair is an Ed25519 signing keypair.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// EncodePublicKey renders a public key as "ed25519:" + base58(pub).
func EncodePublicKey(pub ed25519.PublicKey) string {
	return PublicKeyPrefix + base58.Encode(pub)
}

// DecodePublicKey parses a "ed25519:"-prefixed base58 public key.
// Malformed prefixes and base58 decode errors are returned as errors,
// never panics.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(encoded, PublicKeyPrefix) {
		return nil, fmt.Errorf("crypto: public key missing %q prefix", PublicKeyPrefix)
	}
	raw, err := base58.Decode(strings.TrimPrefix(encoded, PublicKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("crypto: base58 decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePrivateKey renders a private key as base58(priv), no prefix.
func EncodePrivateKey(priv ed25519.PrivateKey) string {
	return base58.Encode(priv)
}

// DecodePrivateKey parses a base58-encoded private key.
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: base58 decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// EncodeSignature renders a detached signature as base58(sig).
func EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

// DecodeSignature parses a base58-encoded detached signature.
func DecodeSignature(encoded string) ([]byte, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: base58 decode signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("crypto: signature has %d bytes, want %d", len(raw), ed25519.SignatureSize)
	}
	return raw, nil
}

// Sign signs a message with a raw private key, returning the base58
// detached signature.
func Sign(priv ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(priv, message)
	return EncodeSignature(sig)
}

// Verify checks a base58-encoded signature against a message and an
// "ed25519:"-prefixed base58 public key. Malformed key prefixes,
// base58 decode errors, and verification failure all yield false;
// none of them ever surface as a panic or error across this boundary.
func Verify(encodedPubKey, message, encodedSig string) bool {
	pub, err := DecodePublicKey(encodedPubKey)
	if err != nil {
		return false
	}
	sig, err := DecodeSignature(encodedSig)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}

// Hash computes the 64-byte SHA-512 digest of data, base58-encoded.
// This is the content hash used for blocks and transactions.
func Hash(data []byte) string {
	sum := sha512.Sum512(data)
	return base58.Encode(sum[:])
}
