// Package metrics collects Prometheus instrumentation for the block
// pipeline and coordinator pools. Collectors are constructed
// explicitly and threaded through to callers rather than registered
// against the global default registry, matching the design notes's "no
// global mutable state; all configuration and metrics collectors are
// passed explicitly."
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric the pipeline and coordinator
// report. A single instance is constructed at startup and passed to
// every component that needs to record a measurement.
type Collectors struct {
	registry *prometheus.Registry

	BlocksFinalized   prometheus.Counter
	BlocksDegraded    prometheus.Counter
	BlockAssembleTime prometheus.Histogram
	ProveTime         prometheus.Histogram
	ComposeAttempts   prometheus.Histogram
	MempoolSize       prometheus.Gauge
	ValidatorStake    prometheus.Gauge
	SlashEvents       prometheus.Counter
	PoolInFlight      *prometheus.GaugeVec
}

// New builds a fresh registry and collector set. namespace prefixes
// every metric name (e.g. "zkconsensus").
func New(namespace string) *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		registry: reg,
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_finalized_total",
			Help:      "Total number of blocks that reached the Finalized stage.",
		}),
		BlocksDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_degraded_total",
			Help:      "Total number of blocks finalized with a pending-receipt marker instead of a completed proof.",
		}),
		BlockAssembleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_assemble_seconds",
			Help:      "Time spent draining the mempool and executing a candidate batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prove_seconds",
			Help:      "Time spent producing a state-transition proof.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ComposeAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compose_attempts",
			Help:      "Number of attempts the recursive composer took before a fold succeeded.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_size",
			Help:      "Number of transactions currently admitted to the mempool.",
		}),
		ValidatorStake: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validator_total_stake",
			Help:      "Total stake across the active validator set.",
		}),
		SlashEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slash_events_total",
			Help:      "Total number of slashing events applied to the validator set.",
		}),
		PoolInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_flight",
			Help:      "Number of goroutines currently holding a permit in a coordinator pool.",
		}, []string{"pool"}),
	}

	reg.MustRegister(
		c.BlocksFinalized,
		c.BlocksDegraded,
		c.BlockAssembleTime,
		c.ProveTime,
		c.ComposeAttempts,
		c.MempoolSize,
		c.ValidatorStake,
		c.SlashEvents,
		c.PoolInFlight,
	)
	return c
}

// Registry returns the registry these collectors are registered
// against, for mounting behind a promhttp.Handler.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}
