package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/foldchain/zkconsensus/pkg/hashsuite"
)

// writer accumulates the canonical byte form. All integers are
// little-endian fixed width; variable-length fields are prefixed with
// a little-endian uint32 length, per the wire format.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) u32(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); w.buf.Write(b[:]) }
func (w *writer) u64(v uint64) { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); w.buf.Write(b[:]) }
func (w *writer) fixed(b []byte) { w.buf.Write(b) }
func (w *writer) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

// reader consumes the canonical byte form, tracking the read offset
// and erroring on truncation rather than panicking.
type reader struct {
	b   []byte
	off int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) need(n int) error {
	if r.off+n > len(r.b) {
		return fmt.Errorf("codec: truncated input: need %d bytes at offset %d, have %d", n, r.off, len(r.b))
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := append([]byte(nil), r.b[r.off:r.off+n]...)
	r.off += n
	return out, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

func (r *reader) hash32() (hashsuite.Hash32, error) {
	b, err := r.fixed(32)
	if err != nil {
		return hashsuite.Hash32{}, err
	}
	var h hashsuite.Hash32
	copy(h[:], b)
	return h, nil
}

func (r *reader) address() (Address, error) {
	b, err := r.fixed(20)
	if err != nil {
		return Address{}, err
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (r *reader) atEnd() bool { return r.off == len(r.b) }

// --- Transaction ---

func EncodeTransaction(tx Transaction) []byte {
	var w writer
	w.fixed(tx.From[:])
	w.fixed(tx.To[:])
	w.u64(tx.Value)
	w.u64(tx.Nonce)
	w.u64(tx.GasLimit)
	w.bytesField(tx.Data)
	w.u8(uint8(tx.SigType))
	w.bytesField(tx.Signature)
	return w.buf.Bytes()
}

func DecodeTransaction(b []byte) (Transaction, error) {
	r := newReader(b)
	var tx Transaction
	var err error
	if tx.From, err = r.address(); err != nil {
		return tx, err
	}
	if tx.To, err = r.address(); err != nil {
		return tx, err
	}
	if tx.Value, err = r.u64(); err != nil {
		return tx, err
	}
	if tx.Nonce, err = r.u64(); err != nil {
		return tx, err
	}
	if tx.GasLimit, err = r.u64(); err != nil {
		return tx, err
	}
	if tx.Data, err = r.bytesField(); err != nil {
		return tx, err
	}
	sigType, err := r.u8()
	if err != nil {
		return tx, err
	}
	tx.SigType = SigType(sigType)
	if tx.Signature, err = r.bytesField(); err != nil {
		return tx, err
	}
	if !r.atEnd() {
		return tx, fmt.Errorf("codec: trailing bytes after transaction")
	}
	return tx, nil
}

// --- BlockHeader ---

func EncodeBlockHeader(h BlockHeader) []byte {
	var w writer
	w.fixed(h.PrevHash[:])
	w.fixed(h.TxMerkleRoot[:])
	w.fixed(h.StateRoot[:])
	w.u64(h.Timestamp)
	w.u64(h.BlockNumber)
	w.u64(h.GasUsed)
	w.u64(h.GasLimit)
	w.fixed(h.Producer[:])
	w.bytesField(h.Extra)
	return w.buf.Bytes()
}

func DecodeBlockHeader(b []byte) (BlockHeader, error) {
	r := newReader(b)
	var h BlockHeader
	var err error
	if h.PrevHash, err = r.hash32(); err != nil {
		return h, err
	}
	if h.TxMerkleRoot, err = r.hash32(); err != nil {
		return h, err
	}
	if h.StateRoot, err = r.hash32(); err != nil {
		return h, err
	}
	if h.Timestamp, err = r.u64(); err != nil {
		return h, err
	}
	if h.BlockNumber, err = r.u64(); err != nil {
		return h, err
	}
	if h.GasUsed, err = r.u64(); err != nil {
		return h, err
	}
	if h.GasLimit, err = r.u64(); err != nil {
		return h, err
	}
	if h.Producer, err = r.address(); err != nil {
		return h, err
	}
	if h.Extra, err = r.bytesField(); err != nil {
		return h, err
	}
	if !r.atEnd() {
		return h, fmt.Errorf("codec: trailing bytes after header")
	}
	return h, nil
}

// HashHeader computes the canonical header hash used as prev_hash by
// the following block (wire-compatible family, domain Header).
func HashHeader(h BlockHeader) hashsuite.Hash32 {
	return hashsuite.Wire(hashsuite.DomainHeader, EncodeBlockHeader(h))
}

// --- ValidatorSignature ---

func EncodeValidatorSignature(v ValidatorSignature) []byte {
	var w writer
	w.fixed(v.Validator[:])
	w.u64(v.StakeWeight)
	w.bytesField(v.Signature)
	w.u8(uint8(v.SigType))
	return w.buf.Bytes()
}

func DecodeValidatorSignature(b []byte) (ValidatorSignature, error) {
	r := newReader(b)
	var v ValidatorSignature
	var err error
	if v.Validator, err = r.address(); err != nil {
		return v, err
	}
	if v.StakeWeight, err = r.u64(); err != nil {
		return v, err
	}
	if v.Signature, err = r.bytesField(); err != nil {
		return v, err
	}
	sigType, err := r.u8()
	if err != nil {
		return v, err
	}
	v.SigType = SigType(sigType)
	if !r.atEnd() {
		return v, fmt.Errorf("codec: trailing bytes after validator signature")
	}
	return v, nil
}

// --- StateTransitionOutputs / ZkReceipt ---

func encodeOutputs(w *writer, o StateTransitionOutputs) {
	w.fixed(o.NewStateRoot[:])
	w.u32(o.TxCount)
	w.u64(o.GasUsed)
	if o.Success {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func decodeOutputs(r *reader) (StateTransitionOutputs, error) {
	var o StateTransitionOutputs
	var err error
	if o.NewStateRoot, err = r.hash32(); err != nil {
		return o, err
	}
	if o.TxCount, err = r.u32(); err != nil {
		return o, err
	}
	if o.GasUsed, err = r.u64(); err != nil {
		return o, err
	}
	successByte, err := r.u8()
	if err != nil {
		return o, err
	}
	o.Success = successByte != 0
	return o, nil
}

func EncodeZkReceipt(rcpt ZkReceipt) []byte {
	var w writer
	w.bytesField(rcpt.Body)
	encodeOutputs(&w, rcpt.PublicOutputs)
	w.fixed(rcpt.ProgramImageID[:])
	w.u8(uint8(rcpt.ProofKind))
	return w.buf.Bytes()
}

func DecodeZkReceipt(b []byte) (ZkReceipt, error) {
	r := newReader(b)
	var rcpt ZkReceipt
	var err error
	if rcpt.Body, err = r.bytesField(); err != nil {
		return rcpt, err
	}
	if rcpt.PublicOutputs, err = decodeOutputs(r); err != nil {
		return rcpt, err
	}
	if rcpt.ProgramImageID, err = r.hash32(); err != nil {
		return rcpt, err
	}
	proofKind, err := r.u8()
	if err != nil {
		return rcpt, err
	}
	rcpt.ProofKind = ProofKind(proofKind)
	if !r.atEnd() {
		return rcpt, fmt.Errorf("codec: trailing bytes after receipt")
	}
	return rcpt, nil
}

// --- ProtocolRule ---

func EncodeProtocolRule(rule ProtocolRule) []byte {
	var w writer
	w.u32(rule.RuleID)
	w.bytesField(rule.Body)
	w.bytesField(EncodeZkReceipt(rule.ValidityReceipt))
	w.u64(rule.ActivationHeight)
	return w.buf.Bytes()
}

func DecodeProtocolRule(b []byte) (ProtocolRule, error) {
	r := newReader(b)
	var rule ProtocolRule
	var err error
	if rule.RuleID, err = r.u32(); err != nil {
		return rule, err
	}
	if rule.Body, err = r.bytesField(); err != nil {
		return rule, err
	}
	receiptBytes, err := r.bytesField()
	if err != nil {
		return rule, err
	}
	if rule.ValidityReceipt, err = DecodeZkReceipt(receiptBytes); err != nil {
		return rule, fmt.Errorf("codec: decode validity receipt: %w", err)
	}
	if rule.ActivationHeight, err = r.u64(); err != nil {
		return rule, err
	}
	if !r.atEnd() {
		return rule, fmt.Errorf("codec: trailing bytes after protocol rule")
	}
	return rule, nil
}

// --- Block ---

// EncodeBlock follows the wire format's block binary format: header fields
// in declaration order, then length-prefixed transaction list,
// length-prefixed attestation list, receipt body length-prefixed (0 =
// pending), length-prefixed rule list.
func EncodeBlock(blk Block) []byte {
	var w writer
	w.fixed(EncodeBlockHeader(blk.Header))

	w.u32(uint32(len(blk.Transactions)))
	for _, tx := range blk.Transactions {
		w.bytesField(EncodeTransaction(tx))
	}

	w.u32(uint32(len(blk.Attestations)))
	for _, att := range blk.Attestations {
		w.bytesField(EncodeValidatorSignature(att))
	}

	if blk.Receipt == nil {
		w.u32(0)
	} else {
		w.bytesField(EncodeZkReceipt(*blk.Receipt))
	}

	w.u32(uint32(len(blk.Rules)))
	for _, rule := range blk.Rules {
		w.bytesField(EncodeProtocolRule(rule))
	}

	return w.buf.Bytes()
}

func DecodeBlock(b []byte) (Block, error) {
	r := newReader(b)
	var blk Block
	var err error

	if blk.Header, err = decodeHeaderFrom(r); err != nil {
		return blk, fmt.Errorf("codec: decode header: %w", err)
	}

	txCount, err := r.u32()
	if err != nil {
		return blk, err
	}
	blk.Transactions = make([]Transaction, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		txBytes, err := r.bytesField()
		if err != nil {
			return blk, err
		}
		tx, err := DecodeTransaction(txBytes)
		if err != nil {
			return blk, fmt.Errorf("codec: decode transaction %d: %w", i, err)
		}
		blk.Transactions = append(blk.Transactions, tx)
	}

	attCount, err := r.u32()
	if err != nil {
		return blk, err
	}
	blk.Attestations = make([]ValidatorSignature, 0, attCount)
	for i := uint32(0); i < attCount; i++ {
		attBytes, err := r.bytesField()
		if err != nil {
			return blk, err
		}
		att, err := DecodeValidatorSignature(attBytes)
		if err != nil {
			return blk, fmt.Errorf("codec: decode attestation %d: %w", i, err)
		}
		blk.Attestations = append(blk.Attestations, att)
	}

	receiptLen, err := r.u32()
	if err != nil {
		return blk, err
	}
	if receiptLen > 0 {
		receiptBytes, err := r.fixed(int(receiptLen))
		if err != nil {
			return blk, err
		}
		rcpt, err := DecodeZkReceipt(receiptBytes)
		if err != nil {
			return blk, fmt.Errorf("codec: decode receipt: %w", err)
		}
		blk.Receipt = &rcpt
	}

	ruleCount, err := r.u32()
	if err != nil {
		return blk, err
	}
	blk.Rules = make([]ProtocolRule, 0, ruleCount)
	for i := uint32(0); i < ruleCount; i++ {
		ruleBytes, err := r.bytesField()
		if err != nil {
			return blk, err
		}
		rule, err := DecodeProtocolRule(ruleBytes)
		if err != nil {
			return blk, fmt.Errorf("codec: decode rule %d: %w", i, err)
		}
		blk.Rules = append(blk.Rules, rule)
	}

	if !r.atEnd() {
		return blk, fmt.Errorf("codec: trailing bytes after block")
	}
	return blk, nil
}

func decodeHeaderFrom(r *reader) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.PrevHash, err = r.hash32(); err != nil {
		return h, err
	}
	if h.TxMerkleRoot, err = r.hash32(); err != nil {
		return h, err
	}
	if h.StateRoot, err = r.hash32(); err != nil {
		return h, err
	}
	if h.Timestamp, err = r.u64(); err != nil {
		return h, err
	}
	if h.BlockNumber, err = r.u64(); err != nil {
		return h, err
	}
	if h.GasUsed, err = r.u64(); err != nil {
		return h, err
	}
	if h.GasLimit, err = r.u64(); err != nil {
		return h, err
	}
	if h.Producer, err = r.address(); err != nil {
		return h, err
	}
	if h.Extra, err = r.bytesField(); err != nil {
		return h, err
	}
	return h, nil
}

// MerkleRootOfTransactions computes the canonical transaction Merkle
// root: the fast-family Merkle root over each transaction's canonical
// encoding, hashed individually as a leaf.
func MerkleRootOfTransactions(txs []Transaction) hashsuite.Hash32 {
	leaves := make([]hashsuite.Hash32, len(txs))
	for i, tx := range txs {
		leaves[i] = hashsuite.Fast(hashsuite.DomainTransaction, EncodeTransaction(tx))
	}
	return hashsuite.MerkleRoot(leaves)
}
