// Package coordinator provides three bounded task pools (producer,
// validation, signature) plus a generic size-or-timer batch admission
// processor.
//
// A semaphore bounds how many goroutines run a class of work at once;
// golang.org/x/sync/semaphore.Weighted is used instead of a plain
// channel-based semaphore specifically because acquisition needs to be
// context-cancellation-aware, releasing a permit that was never taken
// rather than blocking forever.
package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/foldchain/zkconsensus/pkg/metrics"
)

// Pool bounds concurrent execution of a class of work to a fixed
// number of permits. Acquire blocks until a permit is free or ctx is
// done; Release always runs via defer at the call site so a permit is
// never leaked on panic or early return.
type Pool struct {
	sem   *semaphore.Weighted
	gauge interface {
		Inc()
		Dec()
	}
}

// NewPool constructs a Pool with the given concurrency and no
// instrumentation.
func NewPool(concurrency int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(concurrency)}
}

// NewInstrumentedPool constructs a Pool that reports in-flight
// permits under label in collectors.PoolInFlight.
func NewInstrumentedPool(concurrency int64, label string, collectors *metrics.Collectors) *Pool {
	p := NewPool(concurrency)
	if collectors != nil {
		p.gauge = collectors.PoolInFlight.WithLabelValues(label)
	}
	return p
}

// Acquire blocks for a single permit, returning ctx.Err() if ctx is
// cancelled first.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if p.gauge != nil {
		p.gauge.Inc()
	}
	return nil
}

// Release returns a permit acquired via Acquire.
func (p *Pool) Release() {
	if p.gauge != nil {
		p.gauge.Dec()
	}
	p.sem.Release(1)
}

// Run acquires a permit, runs fn, and releases the permit regardless
// of outcome — the common case, wrapping the acquire/defer-release
// pattern so callers don't repeat it.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Pools bundles the three named task pools: producer
// (serial block construction, concurrency 1-2), validation (parallel
// signature/proof verification, concurrency = cores), signature
// (parallel attestation batching, concurrency = cores × 2).
type Pools struct {
	Producer   *Pool
	Validation *Pool
	Signature  *Pool
}

// NewPools builds the three pools sized from cores (typically
// runtime.NumCPU()). collectors may be nil to skip instrumentation.
func NewPools(cores int64, collectors *metrics.Collectors) *Pools {
	producerConcurrency := int64(2)
	if cores < 2 {
		producerConcurrency = 1
	}
	return &Pools{
		Producer:   NewInstrumentedPool(producerConcurrency, "producer", collectors),
		Validation: NewInstrumentedPool(cores, "validation", collectors),
		Signature:  NewInstrumentedPool(cores*2, "signature", collectors),
	}
}

// BatchProcessor admits items into a bounded channel and flushes the
// accumulated batch to onFlush whenever it reaches maxSize items or a
// fixed flushInterval ticker fires, whichever comes first; a
// size-triggered flush does not reset the ticker.
type BatchProcessor[T any] struct {
	items         chan T
	maxSize       int
	flushInterval time.Duration
	onFlush       func([]T)
}

// NewBatchProcessor constructs a processor with the given channel
// bound, flush size, and flush interval.
func NewBatchProcessor[T any](channelBound, maxSize int, flushInterval time.Duration, onFlush func([]T)) *BatchProcessor[T] {
	return &BatchProcessor[T]{
		items:         make(chan T, channelBound),
		maxSize:       maxSize,
		flushInterval: flushInterval,
		onFlush:       onFlush,
	}
}

// Submit enqueues an item, blocking if the channel is at capacity
// until ctx is done.
func (b *BatchProcessor[T]) Submit(ctx context.Context, item T) error {
	select {
	case b.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains items into batches and flushes them, until ctx is
// cancelled (at which point any partial batch is flushed once more
// before returning).
func (b *BatchProcessor[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]T, 0, b.maxSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.onFlush(batch)
		batch = make([]T, 0, b.maxSize)
	}

	for {
		select {
		case item := <-b.items:
			batch = append(batch, item)
			if len(batch) >= b.maxSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}
