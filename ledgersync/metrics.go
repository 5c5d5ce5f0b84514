// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledgersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncMetrics struct {
	checkpointHeight   prometheus.Gauge
	tipHeight          prometheus.Gauge
	blocksApplied      prometheus.Counter
	operationsApplied  *prometheus.CounterVec
	operationsRejected *prometheus.CounterVec
	rollbacks          prometheus.Counter
	rolledBackBlocks   prometheus.Counter
	applyDuration      prometheus.Histogram
}

func (m *syncMetrics) init(promRegistry prometheus.Registerer, network string) {
	promautoFactory := promauto.With(
		prometheus.WrapRegistererWith(
			prometheus.Labels{"network": network},
			promRegistry,
		),
	)
	m.checkpointHeight = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "prism_sync_checkpoint_height",
		Help: "height of the most recent applied block",
	})
	m.tipHeight = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "prism_sync_tip_height",
		Help: "height of the ledger tip reported by the provider",
	})
	m.blocksApplied = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "prism_sync_blocks_applied_total",
		Help: "blocks with protocol metadata applied",
	})
	m.operationsApplied = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_sync_operations_applied_total",
			Help: "operations applied by type",
		},
		[]string{"type"},
	)
	m.operationsRejected = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_sync_operations_rejected_total",
			Help: "operations rejected by kind",
		},
		[]string{"kind"},
	)
	m.rollbacks = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "prism_sync_rollbacks_total",
		Help: "forks detected",
	})
	m.rolledBackBlocks = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "prism_sync_rolled_back_blocks_total",
		Help: "stored blocks removed from the chain by rollbacks",
	})
	m.applyDuration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "prism_sync_block_apply_seconds",
		Help:    "time to fetch and apply one block",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
}
