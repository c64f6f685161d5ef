// Package codec implements the canonical binary encoding: one byte
// representation per typed object, little-endian, length-prefixed
// variable fields. No existing reflection-based codec (go-ethereum's
// RLP included) fits the bijection/determinism requirement closely
// enough to trust blindly for a from-scratch wire format, so this is
// a hand-rolled codec — see DESIGN.md for the per-format
// justification. The binary encoding is the only form provided; there
// is no secondary JSON debug form.
package codec

import "github.com/foldchain/zkconsensus/pkg/hashsuite"

// Address mirrors pkg/state.Address without importing pkg/state, so
// codec has no dependency on the state package's mutation logic.
type Address [20]byte

// SigType tags which signature scheme produced a signature, matching
// pkg/sigsuite.SigKind's wire values.
type SigType uint8

const (
	SigTypeClassical SigType = iota
	SigTypePostQuantum
	SigTypeBLSAggregatable
)

// ProofKind distinguishes a base receipt from a recursive (composed) one.
type ProofKind uint8

const (
	ProofKindBase ProofKind = iota
	ProofKindRecursive
)

// Transaction is the canonical wire shape of the wire format:
// from(20) || to(20) || value(u64) || nonce(u64) || gas_limit(u64) ||
// data(len-prefixed) || sig_type(u8) || signature(len-prefixed).
type Transaction struct {
	From      Address
	To        Address
	Value     uint64
	Nonce     uint64
	GasLimit  uint64
	Data      []byte
	SigType   SigType
	Signature []byte
}

// BlockHeader is the canonical header shape.
type BlockHeader struct {
	PrevHash     hashsuite.Hash32
	TxMerkleRoot hashsuite.Hash32
	StateRoot    hashsuite.Hash32
	Timestamp    uint64
	BlockNumber  uint64
	GasUsed      uint64
	GasLimit     uint64
	Producer     Address
	Extra        []byte
}

// ValidatorSignature is a stake-weighted attestation (the account model).
type ValidatorSignature struct {
	Validator   Address
	StakeWeight uint64
	Signature   []byte
	SigType     SigType
}

// StateTransitionOutputs are the public outputs of the state-transition
// relation F (the state-transition relation).
type StateTransitionOutputs struct {
	NewStateRoot hashsuite.Hash32
	TxCount      uint32
	GasUsed      uint64
	Success      bool
}

// ZkReceipt is an opaque proof body plus its declared public outputs
// and image id.
type ZkReceipt struct {
	Body           []byte
	PublicOutputs  StateTransitionOutputs
	ProgramImageID hashsuite.Hash32
	ProofKind      ProofKind
}

// ProtocolRule is a self-amending protocol change (the account model).
type ProtocolRule struct {
	RuleID           uint32
	Body             []byte
	ValidityReceipt  ZkReceipt
	ActivationHeight uint64
}

// Block is the full on-chain object. A nil Receipt, or one whose Body is
// nil, is the "pending" marker the block pipeline allows a degraded
// block to carry; only a nil Receipt is encoded as an absent receipt.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
	Attestations []ValidatorSignature
	Receipt      *ZkReceipt
	Rules        []ProtocolRule
}
