// Package blsagg implements the aggregatable signature scheme of
// the signature suite: BLS12-381 signature aggregation via point addition,
// with verification reduced to a single pairing check regardless of
// signer count. Built on gnark-crypto's pure-Go BLS12-381
// implementation, narrowed to the []byte-in/[]byte-out contract
// sigsuite expects.
package blsagg

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func initialize() {
	initOnce.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen = g1
		g2Gen = g2
	})
}

// PrivateKey is a BLS12-381 scalar in Fr.
type PrivateKey struct {
	scalar fr.Element
}

// GenerateKeyPair creates a new random BLS key pair.
func GenerateKeyPair() (*PrivateKey, []byte, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blsagg: generate random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.publicKeyBytes(), nil
}

// FromSeed derives a deterministic key pair from a seed, for
// reproducible validator bootstrap and tests.
func FromSeed(seed []byte) (*PrivateKey, []byte, error) {
	initialize()
	digest := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(digest[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.publicKeyBytes(), nil
}

func (sk *PrivateKey) publicKeyBytes() []byte {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	out := pk.Bytes()
	return out[:]
}

// Sign produces a BLS signature: sig = sk * H(message).
func (sk *PrivateKey) Sign(message []byte) []byte {
	initialize()
	h := hashToG1(message)
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	out := sig.Bytes()
	return out[:]
}

// Verify checks a single BLS signature via pairing:
// e(sig, G2) == e(H(message), pk).
func Verify(pubKey, message, signature []byte) (bool, error) {
	initialize()
	if len(pubKey) != PublicKeySize {
		return false, fmt.Errorf("blsagg: public key must be %d bytes, got %d", PublicKeySize, len(pubKey))
	}
	if len(signature) != SignatureSize {
		return false, fmt.Errorf("blsagg: signature must be %d bytes, got %d", SignatureSize, len(signature))
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(pubKey); err != nil {
		return false, fmt.Errorf("blsagg: decode public key: %w", err)
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(signature); err != nil {
		return false, fmt.Errorf("blsagg: decode signature: %w", err)
	}
	if err := validateSubgroups(&pk, &sig); err != nil {
		return false, err
	}
	h := hashToG1(message)
	return pairingVerify(sig, h, pk), nil
}

func pairingVerify(sig, h bls12381.G1Affine, pk bls12381.G2Affine) bool {
	var negPk bls12381.G2Affine
	negPk.Neg(&pk)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

// AggregateSignatures combines signatures over a common message via G1
// point addition, yielding a single SignatureSize-byte blob whose
// verification cost (see VerifyAggregate) is independent of len(signatures).
func AggregateSignatures(signatures [][]byte) ([]byte, error) {
	initialize()
	if len(signatures) == 0 {
		return nil, fmt.Errorf("blsagg: no signatures to aggregate")
	}
	var agg bls12381.G1Jac
	for i, sb := range signatures {
		var pt bls12381.G1Affine
		if _, err := pt.SetBytes(sb); err != nil {
			return nil, fmt.Errorf("blsagg: decode signature %d: %w", i, err)
		}
		var jac bls12381.G1Jac
		jac.FromAffine(&pt)
		if i == 0 {
			agg = jac
		} else {
			agg.AddAssign(&jac)
		}
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	out := result.Bytes()
	return out[:], nil
}

// AggregatePublicKeys combines public keys via G2 point addition.
func AggregatePublicKeys(pubKeys [][]byte) ([]byte, error) {
	initialize()
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("blsagg: no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	for i, pb := range pubKeys {
		var pt bls12381.G2Affine
		if _, err := pt.SetBytes(pb); err != nil {
			return nil, fmt.Errorf("blsagg: decode public key %d: %w", i, err)
		}
		var jac bls12381.G2Jac
		jac.FromAffine(&pt)
		if i == 0 {
			agg = jac
		} else {
			agg.AddAssign(&jac)
		}
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	out := result.Bytes()
	return out[:], nil
}

// VerifyAggregate verifies an aggregate signature against the public
// keys of every contributing signer, all of whom must have signed the
// same message. Cost is one aggregate + one pairing check, not one
// pairing check per signer.
func VerifyAggregate(aggregate []byte, pubKeys [][]byte, message []byte) (bool, error) {
	initialize()
	if len(aggregate) != SignatureSize {
		return false, fmt.Errorf("blsagg: aggregate must be %d bytes, got %d", SignatureSize, len(aggregate))
	}
	if len(pubKeys) == 0 {
		return false, fmt.Errorf("blsagg: no public keys supplied")
	}
	aggPk, err := AggregatePublicKeys(pubKeys)
	if err != nil {
		return false, err
	}
	return Verify(aggPk, message, aggregate)
}

func validateSubgroups(pk *bls12381.G2Affine, sig *bls12381.G1Affine) error {
	if !pk.IsOnCurve() || pk.IsInfinity() || !pk.IsInSubGroup() {
		return fmt.Errorf("blsagg: public key failed subgroup validation")
	}
	if !sig.IsOnCurve() || sig.IsInfinity() || !sig.IsInSubGroup() {
		return fmt.Errorf("blsagg: signature failed subgroup validation")
	}
	return nil
}

// hashToG1 maps an arbitrary message to a G1 point deterministically
// via a hash-and-increment construction.
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("ZKCONSENSUS_BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_"))
	h.Write(message)
	seed := h.Sum(nil)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(seed)
		binary.Write(h2, binary.BigEndian, counter)
		candidate := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(candidate); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(candidate)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)
		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}

		counter++
		if counter > 1000 {
			return g1Gen
		}
	}
}
