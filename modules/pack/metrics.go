// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "mono"
	metricsSubsystem = "pack"
)

type decodeMetrics struct {
	cacheBytes     prometheus.Gauge
	cacheHighWater prometheus.Gauge
	spilledObjects prometheus.Counter
}

var (
	defaultDecodeMetricsOnce sync.Once
	defaultDecodeMetricsInst *decodeMetrics
)

func getDefaultDecodeMetrics() *decodeMetrics {
	defaultDecodeMetricsOnce.Do(func() {
		defaultDecodeMetricsInst = newDecodeMetrics(prometheus.DefaultRegisterer)
	})
	return defaultDecodeMetricsInst
}

func newDecodeMetrics(reg prometheus.Registerer) *decodeMetrics {
	m := &decodeMetrics{
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decode_cache_bytes",
			Help:      "Resident size of the resolved-object cache.",
		}),
		cacheHighWater: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decode_cache_high_water_bytes",
			Help:      "High-water mark of the resolved-object cache.",
		}),
		spilledObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decode_spilled_objects_total",
			Help:      "Total resolved objects written to the spill store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cacheBytes, m.cacheHighWater, m.spilledObjects)
	}
	return m
}
