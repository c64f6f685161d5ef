// Package sigsuite exposes the uniform signature verifier: a tagged
// sum of concrete schemes dispatched on SigKind rather than a
// virtual-call hierarchy ("concrete-type polymorphism of signatures").
package sigsuite

import (
	"fmt"

	"github.com/foldchain/zkconsensus/pkg/sigsuite/blsagg"
	"github.com/foldchain/zkconsensus/pkg/sigsuite/classical"
	"github.com/foldchain/zkconsensus/pkg/sigsuite/pqhash"
)

// SigKind tags which concrete scheme a signature was produced with.
// ValidatorSignature.sig_type and Transaction.sig_type carry this value.
type SigKind uint8

const (
	SigClassical SigKind = iota
	SigPostQuantum
	SigBLSAggregatable
)

func (k SigKind) String() string {
	switch k {
	case SigClassical:
		return "classical"
	case SigPostQuantum:
		return "post_quantum"
	case SigBLSAggregatable:
		return "bls_aggregatable"
	default:
		return "unknown"
	}
}

// Verify dispatches verification to the scheme named by kind. The
// verifier never trusts a stored key: pubKey is always supplied by the
// caller (the signature suite).
func Verify(kind SigKind, pubKey, message, signature []byte) (bool, error) {
	switch kind {
	case SigClassical:
		return classical.Verify(pubKey, message, signature)
	case SigPostQuantum:
		return pqhash.Verify(pubKey, message, signature)
	case SigBLSAggregatable:
		return blsagg.Verify(pubKey, message, signature)
	default:
		return false, fmt.Errorf("sigsuite: unknown sig kind %d", kind)
	}
}

// BatchResult is the per-signature outcome of VerifyBatch.
type BatchResult struct {
	Index int
	OK    bool
	Err   error
}

// Attestation is one (kind, pubkey, message, signature) unit to verify.
type Attestation struct {
	Kind      SigKind
	PublicKey []byte
	Message   []byte
	Signature []byte
}

// VerifyBatch verifies every attestation and reports a per-signature
// result; it does not fail-fast, since the signature suite requires per-item
// results to be available on request. Callers that want fail-fast
// behavior can range over the result and stop at the first false.
func VerifyBatch(atts []Attestation) []BatchResult {
	results := make([]BatchResult, len(atts))
	for i, a := range atts {
		ok, err := Verify(a.Kind, a.PublicKey, a.Message, a.Signature)
		results[i] = BatchResult{Index: i, OK: ok, Err: err}
	}
	return results
}

// Aggregator is the succinct-aggregation contract of the signature suite: given
// N attestations over the same message, produce a shape whose
// verification time is o(N). Concrete aggregators may legitimately
// implement this by falling back to sequential verification; the
// pipeline must not depend on constant-time aggregation for
// correctness.
type Aggregator interface {
	// CanAggregate reports whether this aggregator has a succinct
	// aggregation path for the given kind.
	CanAggregate(kind SigKind) bool
	// Aggregate combines signatures over a common message into an
	// opaque aggregate blob.
	Aggregate(kind SigKind, signatures [][]byte) ([]byte, error)
	// VerifyAggregate verifies an aggregate produced by Aggregate
	// against the supplied public keys (same order as the signatures
	// passed to Aggregate) and the common message.
	VerifyAggregate(kind SigKind, aggregate []byte, pubKeys [][]byte, message []byte) (bool, error)
}

// DefaultAggregator implements Aggregator with real point-addition
// aggregation for SigBLSAggregatable and sequential-verification
// fallback for the other two kinds.
type DefaultAggregator struct{}

func (DefaultAggregator) CanAggregate(kind SigKind) bool {
	return kind == SigBLSAggregatable
}

func (DefaultAggregator) Aggregate(kind SigKind, signatures [][]byte) ([]byte, error) {
	if kind == SigBLSAggregatable {
		return blsagg.AggregateSignatures(signatures)
	}
	// Fallback shape: concatenate signatures; VerifyAggregate for
	// non-aggregatable kinds just verifies each one sequentially, so the
	// "aggregate" is nothing more than a transport container.
	return concatSignatures(signatures), nil
}

func (DefaultAggregator) VerifyAggregate(kind SigKind, aggregate []byte, pubKeys [][]byte, message []byte) (bool, error) {
	if kind == SigBLSAggregatable {
		return blsagg.VerifyAggregate(aggregate, pubKeys, message)
	}
	sigs, err := splitSignatures(aggregate, kind)
	if err != nil {
		return false, err
	}
	if len(sigs) != len(pubKeys) {
		return false, fmt.Errorf("sigsuite: aggregate signature count mismatch")
	}
	for i, sig := range sigs {
		ok, err := Verify(kind, pubKeys[i], message, sig)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func sigLenForKind(kind SigKind) int {
	switch kind {
	case SigClassical:
		return classical.SignatureSize
	case SigPostQuantum:
		return pqhash.SignatureSize
	default:
		return 0
	}
}

func concatSignatures(sigs [][]byte) []byte {
	var out []byte
	for _, s := range sigs {
		out = append(out, s...)
	}
	return out
}

func splitSignatures(blob []byte, kind SigKind) ([][]byte, error) {
	n := sigLenForKind(kind)
	if n == 0 || len(blob)%n != 0 {
		return nil, fmt.Errorf("sigsuite: cannot split aggregate for kind %s", kind)
	}
	out := make([][]byte, 0, len(blob)/n)
	for i := 0; i < len(blob); i += n {
		out = append(out, blob[i:i+n])
	}
	return out, nil
}
