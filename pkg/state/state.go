// Package state implements the deterministic account model of the
// consensus core: addresses, accounts, world-state mutation, and
// state-root commitment, following a snapshot-and-mutate discipline
// over a minimal balance/nonce/storage account model.
package state

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/foldchain/zkconsensus/pkg/errs"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
)

// Address is the 20-byte account key.
type Address [20]byte

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// Less orders addresses by byte value, used for deterministic
// iteration and for producer-election tie-breaking (validator election).
func (a Address) Less(b Address) bool { return bytes.Compare(a[:], b[:]) < 0 }

// AddressFromPublicKey derives an address from a classical public key
// as the last 20 bytes of its wire-family hash, the familiar
// go-ethereum-style convention.
func AddressFromPublicKey(pubKey []byte) Address {
	h := hashsuite.Wire(hashsuite.DomainStateEntry, pubKey)
	var addr Address
	copy(addr[:], h[12:])
	return addr
}

// Account is the minimal balance/nonce/code/storage account model of
// the account model.
type Account struct {
	Balance uint64
	Nonce   uint64
	Code    []byte
	Storage map[hashsuite.Hash32]hashsuite.Hash32
}

// NewAccount returns a zero-value account with an initialized storage map.
func NewAccount() *Account {
	return &Account{Storage: make(map[hashsuite.Hash32]hashsuite.Hash32)}
}

// Clone returns a deep copy, used by clone-on-update writers so
// readers holding a prior snapshot are never mutated underneath them
// (the design notes's "shared immutable snapshots").
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	out := &Account{
		Balance: a.Balance,
		Nonce:   a.Nonce,
		Code:    append([]byte(nil), a.Code...),
		Storage: make(map[hashsuite.Hash32]hashsuite.Hash32, len(a.Storage)),
	}
	for k, v := range a.Storage {
		out.Storage[k] = v
	}
	return out
}

// Fingerprint computes the canonical per-account digest folded into
// the state root: wireHash(domain=StateEntry, balance_le || nonce_le
// || codeHash || storageRoot). codeHash is the fast-family hash of
// code; storageRoot is the fast-family Merkle root over sorted
// (key,value) storage pairs.
func (a *Account) Fingerprint() hashsuite.Hash32 {
	var balBuf, nonceBuf [8]byte
	binary.LittleEndian.PutUint64(balBuf[:], a.Balance)
	binary.LittleEndian.PutUint64(nonceBuf[:], a.Nonce)
	codeHash := hashsuite.Fast(hashsuite.DomainStateEntry, a.Code)
	storageRoot := a.storageRoot()
	return hashsuite.Wire(hashsuite.DomainStateEntry, balBuf[:], nonceBuf[:], codeHash[:], storageRoot[:])
}

func (a *Account) storageRoot() hashsuite.Hash32 {
	if len(a.Storage) == 0 {
		return hashsuite.Hash32{}
	}
	keys := make([]hashsuite.Hash32, 0, len(a.Storage))
	for k := range a.Storage {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	leaves := make([]hashsuite.Hash32, len(keys))
	for i, k := range keys {
		v := a.Storage[k]
		leaves[i] = hashsuite.Fast(hashsuite.DomainStateEntry, k[:], v[:])
	}
	return hashsuite.MerkleRoot(leaves)
}

// WorldState is the mutable account mapping plus chain-position
// metadata (the account model). The block pipeline is the sole mutator; all
// other components receive Snapshot() copies.
type WorldState struct {
	mu          sync.RWMutex
	accounts    map[Address]*Account
	globalNonce uint64
	stateRoot   hashsuite.Hash32
	blockNumber uint64
}

// New returns an empty world state (the pre-genesis state).
func New() *WorldState {
	return &WorldState{accounts: make(map[Address]*Account)}
}

// Snapshot returns an immutable deep copy for readers, per the
// clone-on-update discipline the rest of this package follows.
func (w *WorldState) Snapshot() *WorldState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := &WorldState{
		accounts:    make(map[Address]*Account, len(w.accounts)),
		globalNonce: w.globalNonce,
		stateRoot:   w.stateRoot,
		blockNumber: w.blockNumber,
	}
	for addr, acct := range w.accounts {
		out.accounts[addr] = acct.Clone()
	}
	return out
}

func (w *WorldState) Account(addr Address) (*Account, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.accounts[addr]
	return a, ok
}

func (w *WorldState) StateRoot() hashsuite.Hash32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stateRoot
}

func (w *WorldState) BlockNumber() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.blockNumber
}

func (w *WorldState) SetBlockNumber(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blockNumber = n
}

// Credit adds amount to addr's balance, creating the account with
// zero state if absent (the state model step 2).
func (w *WorldState) Credit(addr Address, amount uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acct, ok := w.accounts[addr]
	if !ok {
		acct = NewAccount()
		w.accounts[addr] = acct
	}
	acct.Balance += amount
}

// GasModel computes the gas a transaction consumes, a substitutable
// plug-in per the design notes Open Question (c).
type GasModel interface {
	Cost(data []byte) uint64
}

// DefaultGasModel implements the base model named in the state model:
// 21000 + 16 * len(data).
type DefaultGasModel struct{}

func (DefaultGasModel) Cost(data []byte) uint64 {
	return 21000 + 16*uint64(len(data))
}

// ApplyInput is the minimal transaction shape state needs to apply a
// mutation; pkg/codec.Transaction satisfies a superset of this via
// adaptation in pkg/transition.
type ApplyInput struct {
	From        Address
	To          Address
	Value       uint64
	Nonce       uint64
	GasLimit    uint64
	Data        []byte
	UnitPrice   uint64
	SignatureOK bool // caller has already verified the signature (pkg/sigsuite)
}

// Apply mutates w according to the state model: fail on invalid
// signature, nonce mismatch, or insufficient balance; otherwise debit
// value+fee from sender, increment its nonce, create/credit the
// recipient, and report gas consumed.
func Apply(w *WorldState, in ApplyInput, gasModel GasModel) (gasUsed uint64, err error) {
	if gasModel == nil {
		gasModel = DefaultGasModel{}
	}
	gasUsed = gasModel.Cost(in.Data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !in.SignatureOK {
		return 0, errs.Validation(errs.CodeSignatureInvalid, nil)
	}

	sender, ok := w.accounts[in.From]
	if !ok {
		sender = NewAccount()
	}
	if sender.Nonce != in.Nonce {
		return 0, errs.Admission(errs.CodeNonceMismatch, nil)
	}

	fee := gasUsed * in.UnitPrice
	total := in.Value + fee
	if sender.Balance < total {
		return 0, errs.Admission(errs.CodeInsufficientBalance, nil)
	}

	sender.Balance -= total
	sender.Nonce++
	w.accounts[in.From] = sender

	recipient, ok := w.accounts[in.To]
	if !ok {
		recipient = NewAccount()
		w.accounts[in.To] = recipient
	}
	recipient.Balance += in.Value

	return gasUsed, nil
}

// Commit replaces w's account set, state root, and global nonce with
// other's, atomically under w's lock. pkg/transition calls this once
// a scratch Snapshot() has executed a batch successfully, so partial
// or failed executions never touch the authoritative state: on any
// failure the new state root stays equal to the previous one.
func (w *WorldState) Commit(other *WorldState) {
	other.mu.RLock()
	accounts := make(map[Address]*Account, len(other.accounts))
	for addr, acct := range other.accounts {
		accounts[addr] = acct.Clone()
	}
	stateRoot := other.stateRoot
	globalNonce := other.globalNonce
	blockNumber := other.blockNumber
	other.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = accounts
	w.stateRoot = stateRoot
	w.globalNonce = globalNonce
	w.blockNumber = blockNumber
}

// RecomputeRoot folds the sorted (address, fingerprint) sequence
// through the wire-compatible hash, seeded with the previous root, per
// the state model. It must be called after a batch of Apply calls to
// commit the new state_root.
func (w *WorldState) RecomputeRoot() hashsuite.Hash32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	addrs := make([]Address, 0, len(w.accounts))
	for addr := range w.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	seed := w.stateRoot
	for _, addr := range addrs {
		fp := w.accounts[addr].Fingerprint()
		seed = hashsuite.Wire(hashsuite.DomainStateEntry, seed[:], addr[:], fp[:])
	}
	w.stateRoot = seed
	return seed
}
