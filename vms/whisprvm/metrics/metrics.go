// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics holds the Prometheus instrumentation of the Whispr VM.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	poolOps         *prometheus.CounterVec
	swapsSubmitted  prometheus.Counter
	swapsResolved   *prometheus.CounterVec
	swapsPending    prometheus.Gauge
	computeLatency  prometheus.Histogram
	callbacksDenied *prometheus.CounterVec
}

// New registers the VM metrics on registerer.
func New(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		poolOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_operations_total",
			Help:      "Pool operations by kind and result",
		}, []string{"op", "result"}),
		swapsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confidential_swaps_submitted_total",
			Help:      "Confidential swaps accepted by the computation cluster",
		}),
		swapsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confidential_swaps_resolved_total",
			Help:      "Confidential swaps that reached a terminal status",
		}, []string{"status", "reason"}),
		swapsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confidential_swaps_pending",
			Help:      "Confidential swaps waiting on a computation result",
		}),
		computeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidential_swap_latency_seconds",
			Help:      "Time from submission to terminal status",
			Buckets:   prometheus.DefBuckets,
		}),
		callbacksDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computation_callbacks_rejected_total",
			Help:      "Computation callbacks rejected without a state change",
		}, []string{"reason"}),
	}

	err := errors.Join(
		registerer.Register(m.poolOps),
		registerer.Register(m.swapsSubmitted),
		registerer.Register(m.swapsResolved),
		registerer.Register(m.swapsPending),
		registerer.Register(m.computeLatency),
		registerer.Register(m.callbacksDenied),
	)
	return m, err
}

// PoolOp counts one deposit, withdraw, swap, lock or unlock.
func (m *Metrics) PoolOp(op string, err error) {
	if m == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.poolOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SwapSubmitted() {
	if m == nil {
		return
	}
	m.swapsSubmitted.Inc()
	m.swapsPending.Inc()
}

// SwapResolved records a Computing request reaching status after elapsed.
func (m *Metrics) SwapResolved(status, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.swapsResolved.WithLabelValues(status, reason).Inc()
	m.swapsPending.Dec()
	m.computeLatency.Observe(elapsed.Seconds())
}

// SetPending resets the pending gauge, used after rebuilding from disk.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.swapsPending.Set(float64(n))
}

func (m *Metrics) CallbackRejected(reason string) {
	if m == nil {
		return
	}
	m.callbacksDenied.WithLabelValues(reason).Inc()
}
