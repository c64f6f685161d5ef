// Package validator implements the validator set, stake-weighted
// producer election, performance scoring, and slashing.
//
// A Set is an immutable roster built by NewSet; Registry holds the
// active Set behind an atomic pointer and swaps in updated copies.
// Each validator carries an integer performance score, changed only by
// explicit updates and slashes, rather than a binary online/offline
// flag, and election weighs by stake rather than flat voting power.
package validator

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/foldchain/zkconsensus/pkg/errs"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/state"
)

// Validator is one member of the set: an address, its public key (for
// attestation verification), its stake, and its current performance
// score.
type Validator struct {
	Address          state.Address
	PublicKey        []byte
	Stake            uint64
	PerformanceScore int64 // starts at 0; changed by Update.PerformanceDelta and by -1 per slash; block production and timeouts do not change it
}

func (v Validator) clone() Validator { return v }

// PerformanceThreshold is the minimum score a validator must carry to
// be eligible for election; validators below it are skipped and
// re-drawn (validator election).
const PerformanceThreshold int64 = -10

// maxRedrawAttempts bounds how many times election re-draws around a
// below-threshold validator before falling through to round-robin.
const maxRedrawAttempts = 8

// Default slash and reward fractions. WithUpdates takes the slash
// fraction from each Update, not from these constants.
const (
	DefaultSlashFraction  = 0.10
	DefaultRewardFraction = 0.01
)

// Set is an immutable validator roster snapshot. Sets are swapped
// atomically at epoch boundaries (validator election's "set updates are
// atomic at epoch boundaries"); nothing ever mutates a Set in place.
type Set struct {
	validators  []Validator
	totalStake  uint64
	roundRobin  uint64 // cursor for round-robin fallback, advanced via atomic ops by the holder
}

// NewSet builds a Set from validators, sorted by address for
// deterministic tie-breaking and iteration.
func NewSet(validators []Validator) *Set {
	sorted := make([]Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address[:], sorted[j].Address[:]) < 0
	})
	var total uint64
	for _, v := range sorted {
		total += v.Stake
	}
	return &Set{validators: sorted, totalStake: total}
}

// Validators returns a defensive copy of the roster.
func (s *Set) Validators() []Validator {
	out := make([]Validator, len(s.validators))
	copy(out, s.validators)
	return out
}

func (s *Set) TotalStake() uint64 { return s.totalStake }

// electSeed computes wire-hash(prev_hash ∥ h) per validator election.
func electSeed(prevHash hashsuite.Hash32, height uint64) hashsuite.Hash32 {
	var hBuf [8]byte
	binary.LittleEndian.PutUint64(hBuf[:], height)
	return hashsuite.Wire(hashsuite.DomainStateEntry, prevHash[:], hBuf[:])
}

// drawIndex maps a 32-byte seed to a stake-weighted index into s's
// sorted validator list: draw a value in [0, total_stake) from the
// seed, then select whichever validator's cumulative stake interval
// contains it. Ties (zero total stake) fall back to index 0.
func (s *Set) drawIndex(seed hashsuite.Hash32) int {
	if s.totalStake == 0 || len(s.validators) == 0 {
		return 0
	}
	draw := foldSeed(seed) % s.totalStake
	var cumulative uint64
	for i, v := range s.validators {
		cumulative += v.Stake
		if draw < cumulative {
			return i
		}
	}
	return len(s.validators) - 1
}

// foldSeed reduces a 32-byte seed into a uint64 draw space by XOR-ing
// its four 8-byte limbs; total_stake fits in uint64 so the seed only
// needs to be uniform modulo it, not carried as an exact big integer.
func foldSeed(h hashsuite.Hash32) uint64 {
	return binary.LittleEndian.Uint64(h[:8]) ^ binary.LittleEndian.Uint64(h[8:16]) ^
		binary.LittleEndian.Uint64(h[16:24]) ^ binary.LittleEndian.Uint64(h[24:32])
}

// Elect selects the producer for height h, following validator election:
// deterministic stake-weighted sampling seeded by wire-hash(prev_hash
// ∥ h), skipping and re-drawing around validators below
// PerformanceThreshold up to maxRedrawAttempts, falling through to
// round-robin if the bound is hit.
func (s *Set) Elect(prevHash hashsuite.Hash32, height uint64) (Validator, error) {
	if len(s.validators) == 0 {
		return Validator{}, errs.Fatal(errs.CodeStateDivergence, nil)
	}
	seed := electSeed(prevHash, height)
	idx := s.drawIndex(seed)

	for attempt := 0; attempt < maxRedrawAttempts; attempt++ {
		v := s.validators[idx]
		if v.PerformanceScore >= PerformanceThreshold {
			return v.clone(), nil
		}
		seed = hashsuite.Wire(hashsuite.DomainStateEntry, seed[:], []byte{byte(attempt)})
		idx = s.drawIndex(seed)
	}

	rr := atomic.AddUint64(&s.roundRobin, 1) - 1
	return s.validators[int(rr%uint64(len(s.validators)))].clone(), nil
}

// WithUpdates applies slashing debits, reward credits, and performance
// score deltas, returning a new Set. Registry swaps the result in
// atomically: at the next epoch boundary for rewards and performance
// deltas, and at once for slashes, so a slash at height h applies to
// the set used for heights ≥ h+1.
func (s *Set) WithUpdates(updates []Update) *Set {
	byAddr := make(map[state.Address]Validator, len(s.validators))
	for _, v := range s.validators {
		byAddr[v.Address] = v
	}
	for _, u := range updates {
		v, ok := byAddr[u.Address]
		if !ok {
			continue
		}
		if u.Slash {
			debit := uint64(float64(v.Stake) * u.SlashFraction)
			if debit > v.Stake {
				debit = v.Stake
			}
			v.Stake -= debit
			v.PerformanceScore--
		}
		if u.Reward > 0 {
			v.Stake += u.Reward
		}
		v.PerformanceScore += u.PerformanceDelta
		byAddr[u.Address] = v
	}
	out := make([]Validator, 0, len(byAddr))
	for _, v := range byAddr {
		out = append(out, v)
	}
	return NewSet(out)
}

// Update is one pending roster mutation, enqueued during an epoch and
// applied all-at-once at the next epoch's first block.
type Update struct {
	Address          state.Address
	Slash            bool
	SlashFraction    float64
	Reward           uint64
	PerformanceDelta int64
}

// Registry holds the currently-active Set plus the queue of
// reward/performance updates accumulated during the current epoch,
// swapping the active pointer atomically only at epoch boundaries.
// Slash debits bypass that queue entirely: they land on the active
// Set the moment they're enqueued, since a reduced stake must be
// visible in TotalStake() starting at the very next block, not at the
// next epoch's first block.
type Registry struct {
	active      atomic.Pointer[Set]
	epochLength uint64

	mu      sync.Mutex
	pending []Update
}

// NewRegistry seeds a Registry with the genesis validator set.
func NewRegistry(genesis *Set, epochLength uint64) *Registry {
	r := &Registry{epochLength: epochLength}
	r.active.Store(genesis)
	return r
}

// Current returns the currently-active Set.
func (r *Registry) Current() *Set { return r.active.Load() }

// Enqueue applies u's slash debit, if any, synchronously against the
// active Set so it takes effect at height h+1, then queues whatever
// reward credit or performance delta remains to be folded in at the
// start of the next epoch alongside any roster churn.
func (r *Registry) Enqueue(u Update) {
	if u.Slash {
		r.applySlashNow(u.Address, u.SlashFraction)
		u.Slash = false
		u.SlashFraction = 0
	}
	if u.Reward == 0 && u.PerformanceDelta == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, u)
}

// applySlashNow debits stake and decrements performance score for
// addr against whichever Set is currently active, retrying the
// compare-and-swap if OnBlock swaps the pointer concurrently.
func (r *Registry) applySlashNow(addr state.Address, fraction float64) {
	slash := []Update{{Address: addr, Slash: true, SlashFraction: fraction}}
	for {
		current := r.active.Load()
		next := current.WithUpdates(slash)
		if r.active.CompareAndSwap(current, next) {
			return
		}
	}
}

// OnBlock is called by the pipeline after every finalized block;
// if height is the first block of a new epoch, it atomically swaps in
// a Set built from all reward/performance updates queued during the
// prior epoch. Slashing never waits for this call.
func (r *Registry) OnBlock(height uint64) {
	if r.epochLength == 0 || height%r.epochLength != 0 {
		return
	}
	r.mu.Lock()
	updates := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(updates) == 0 {
		return
	}
	for {
		current := r.active.Load()
		if r.active.CompareAndSwap(current, current.WithUpdates(updates)) {
			return
		}
	}
}
