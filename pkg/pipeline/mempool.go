package pipeline

import (
	"sort"
	"sync"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/errs"
	"github.com/foldchain/zkconsensus/pkg/state"
)

// pendingTx is a mempool entry carrying the fee implied by its unit
// price, used to resolve duplicate (sender, nonce) admissions.
type pendingTx struct {
	tx  codec.Transaction
	fee uint64
}

// Mempool is the bounded, per-sender nonce-sorted admission queue of
// the block pipeline's Collecting state. Duplicate (sender, nonce) pairs
// evict the lower-fee version; admission fails on a full global queue,
// an exceeded per-account limit, or malformed syntax.
type Mempool struct {
	mu sync.Mutex

	maxGlobal    int
	maxPerSender int

	bySender map[state.Address]map[uint64]pendingTx
	count    int
}

// NewMempool constructs an empty Mempool bounded by maxGlobal total
// entries and maxPerSender entries per sending address.
func NewMempool(maxGlobal, maxPerSender int) *Mempool {
	return &Mempool{
		maxGlobal:    maxGlobal,
		maxPerSender: maxPerSender,
		bySender:     make(map[state.Address]map[uint64]pendingTx),
	}
}

// Admit validates and inserts tx, fee being unitPrice * gasLimit (the
// declared fee ceiling, used only to break duplicate-nonce ties).
func (m *Mempool) Admit(tx codec.Transaction, unitPrice uint64) error {
	if tx.From == (codec.Address{}) {
		return errs.Admission(errs.CodeMalformed, nil)
	}
	if tx.GasLimit == 0 {
		return errs.Admission(errs.CodeMalformed, nil)
	}

	from := state.Address(tx.From)
	fee := unitPrice * tx.GasLimit

	m.mu.Lock()
	defer m.mu.Unlock()

	senderQueue, ok := m.bySender[from]
	if !ok {
		senderQueue = make(map[uint64]pendingTx)
		m.bySender[from] = senderQueue
	}

	if existing, dup := senderQueue[tx.Nonce]; dup {
		if fee <= existing.fee {
			return nil // lower-or-equal fee: silently ignored, existing wins
		}
		senderQueue[tx.Nonce] = pendingTx{tx: tx, fee: fee}
		return nil
	}

	if len(senderQueue) >= m.maxPerSender {
		return errs.Admission(errs.CodeQueueFull, nil)
	}
	if m.count >= m.maxGlobal {
		return errs.Admission(errs.CodeQueueFull, nil)
	}

	senderQueue[tx.Nonce] = pendingTx{tx: tx, fee: fee}
	m.count++
	return nil
}

// Drain removes and returns up to max transactions in (sender-priority,
// nonce-ascending) order, per the block pipeline's Assembling state.
// Sender priority is the sender's address byte order, matching the
// rest of the module's deterministic address ordering convention.
func (m *Mempool) Drain(max int) []codec.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	senders := make([]state.Address, 0, len(m.bySender))
	for addr := range m.bySender {
		senders = append(senders, addr)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].Less(senders[j]) })

	var out []codec.Transaction
	for _, addr := range senders {
		queue := m.bySender[addr]
		nonces := make([]uint64, 0, len(queue))
		for n := range queue {
			nonces = append(nonces, n)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		for _, n := range nonces {
			if len(out) >= max {
				return out
			}
			out = append(out, queue[n].tx)
			delete(queue, n)
			m.count--
		}
		if len(queue) == 0 {
			delete(m.bySender, addr)
		}
	}
	return out
}

// Requeue reinserts transactions that were drained but failed their
// precondition during assembly's scratch-state dry run, so a future
// block can still include them once their precondition is satisfied
// (e.g. a prior transaction from the same sender clears a nonce gap).
func (m *Mempool) Requeue(txs []codec.Transaction, unitPrice uint64) {
	for _, tx := range txs {
		_ = m.Admit(tx, unitPrice)
	}
}

// Len reports the current total queued transaction count.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
