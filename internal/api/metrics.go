/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for redemption and reconciliation activity.
type Metrics struct {
	redemptions        *prometheus.CounterVec
	redemptionDuration *prometheus.HistogramVec
	redemptionRetries  prometheus.Counter
	reconcileMismatch  prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global Prometheus
// registry. Collectors are created once so repeated service construction does
// not panic on duplicate registration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	redemptions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_shop",
			Subsystem: "ledger",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)
	redemptionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coin_shop",
			Subsystem: "ledger",
			Name:      "redemption_duration_seconds",
			Help:      "Time spent completing a redemption, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	redemptionRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coin_shop",
			Subsystem: "ledger",
			Name:      "redemption_retries_total",
			Help:      "Redemption attempts retried after a transient backend failure.",
		},
	)
	reconcileMismatch := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coin_shop",
			Subsystem: "reconciler",
			Name:      "balance_mismatches",
			Help:      "Accounts whose balance disagreed with the journal in the last pass.",
		},
	)

	collectors := []prometheus.Collector{redemptions, redemptionDuration, redemptionRetries, reconcileMismatch}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.CounterVec:
					redemptions = already.ExistingCollector.(*prometheus.CounterVec)
				case *prometheus.HistogramVec:
					redemptionDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case prometheus.Gauge:
					reconcileMismatch = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					if target == redemptionRetries {
						redemptionRetries = already.ExistingCollector.(prometheus.Counter)
					}
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		redemptions:        redemptions,
		redemptionDuration: redemptionDuration,
		redemptionRetries:  redemptionRetries,
		reconcileMismatch:  reconcileMismatch,
	}
}

// ObserveRedemption records one finished redemption with its outcome label.
func (m *Metrics) ObserveRedemption(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
	m.redemptionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) IncRedemptionRetry() {
	if m == nil {
		return
	}
	m.redemptionRetries.Inc()
}

// SetReconcileMismatches publishes the mismatch count of the last reconcile pass.
func (m *Metrics) SetReconcileMismatches(n int) {
	if m == nil {
		return
	}
	m.reconcileMismatch.Set(float64(n))
}
