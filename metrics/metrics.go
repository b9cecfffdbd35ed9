// Package metrics exposes the prover's operational counters via Prometheus:
// update admission, composition outcomes and the head of the checkpoint
// chain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the prover registers.
type Metrics struct {
	UpdatesAdmitted  prometheus.Counter
	UpdatesRejected  *prometheus.CounterVec
	Compositions     prometheus.Counter
	CompositionFails *prometheus.CounterVec
	ComposeSeconds   prometheus.Histogram
	LatestBlock      prometheus.Gauge
	LatestSlot       prometheus.Gauge
	ChainLength      prometheus.Counter
}

// New registers the prover collectors with reg. A nil registerer falls back
// to the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		UpdatesAdmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lightfold",
			Name:      "updates_admitted_total",
			Help:      "Consensus updates that passed validation.",
		}),
		UpdatesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightfold",
			Name:      "updates_rejected_total",
			Help:      "Consensus updates rejected by validation, by reason.",
		}, []string{"reason"}),
		Compositions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lightfold",
			Name:      "compositions_total",
			Help:      "Successful proof compositions.",
		}),
		CompositionFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightfold",
			Name:      "composition_failures_total",
			Help:      "Failed proof compositions, by kind.",
		}, []string{"kind"}),
		ComposeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lightfold",
			Name:      "compose_duration_seconds",
			Help:      "Wall-clock duration of proof compositions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		LatestBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightfold",
			Name:      "latest_finalized_block",
			Help:      "Block number of the latest published checkpoint.",
		}),
		LatestSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightfold",
			Name:      "latest_attested_slot",
			Help:      "Highest attested slot folded into the latest checkpoint.",
		}),
		ChainLength: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lightfold",
			Name:      "proof_chain_length",
			Help:      "Number of proofs composed onto the chain since start.",
		}),
	}
}
