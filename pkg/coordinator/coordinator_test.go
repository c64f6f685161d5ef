package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/metrics"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var concurrent, maxSeen int32
	errs := make(chan error, 5)

	for i := 0; i < 5; i++ {
		go func() {
			errs <- p.Run(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					cur := atomic.LoadInt32(&maxSeen)
					if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, maxSeen, int32(2))
}

func TestPool_AcquireRespectsCancellation(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Acquire(ctx)
	require.Error(t, err)
	p.Release()
}

func TestBatchProcessor_FlushesOnSize(t *testing.T) {
	var flushed [][]int
	var mu sync.Mutex
	bp := NewBatchProcessor[int](10, 3, time.Hour, func(batch []int) {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]int(nil), batch...)
		flushed = append(flushed, cp)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go bp.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, bp.Submit(ctx, i))
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	assert.Equal(t, []int{0, 1, 2}, flushed[0])
}

func TestNewPools_BuildsAllThreePools(t *testing.T) {
	pools := NewPools(4, nil)
	assert.NotNil(t, pools.Producer)
	assert.NotNil(t, pools.Validation)
	assert.NotNil(t, pools.Signature)
}

func TestNewInstrumentedPool_RecordsInFlightGauge(t *testing.T) {
	collectors := metrics.New("test_coordinator")
	p := NewInstrumentedPool(1, "validation", collectors)

	require.NoError(t, p.Acquire(context.Background()))
	metric := &dto.Metric{}
	require.NoError(t, collectors.PoolInFlight.WithLabelValues("validation").Write(metric))
	assert.Equal(t, 1.0, metric.GetGauge().GetValue())

	p.Release()
	require.NoError(t, collectors.PoolInFlight.WithLabelValues("validation").Write(metric))
	assert.Equal(t, 0.0, metric.GetGauge().GetValue())
}
