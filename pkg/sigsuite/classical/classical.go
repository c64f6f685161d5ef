// Package classical implements the classical signature scheme of
// the signature suite: Ed25519 via the standard library. No
// third-party wrapper is worth reaching for plain Ed25519 over
// crypto/ed25519 itself.
package classical

import (
	"crypto/ed25519"
	"fmt"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// KeyPair is a classical signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("classical: generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// FromSeed derives a deterministic key pair from a 32-byte seed, used
// by tests and by deterministic validator bootstrap.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("classical: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs message with the private key.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// Verify checks an Ed25519 signature. pubKey and signature must be
// exactly PublicKeySize and SignatureSize bytes respectively, or the
// signature is rejected as malformed rather than panicking.
func Verify(pubKey, message, signature []byte) (bool, error) {
	if len(pubKey) != PublicKeySize {
		return false, fmt.Errorf("classical: public key must be %d bytes, got %d", PublicKeySize, len(pubKey))
	}
	if len(signature) != SignatureSize {
		return false, fmt.Errorf("classical: signature must be %d bytes, got %d", SignatureSize, len(signature))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, signature), nil
}
