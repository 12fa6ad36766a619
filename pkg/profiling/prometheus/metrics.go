/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/internal/version"
	"github.com/yorkie-team/wardroom/pkg/cache"
)

const (
	namespace       = "wardroom"
	collectionLabel = "collection"
	componentLabel  = "component"
	statusLabel     = "status"
	resultLabel     = "result"
)

var connectionStatuses = []types.ConnectionStatus{
	types.Disconnected,
	types.Connecting,
	types.Connected,
	types.Errored,
}

// Metrics manages the metric information of the realtime core. Each client
// owns its instance, so nothing is registered globally.
type Metrics struct {
	registry *prometheus.Registry

	version *prometheus.GaugeVec

	mutationsTotal   *prometheus.CounterVec
	mutationSeconds  *prometheus.HistogramVec
	conflictsTotal   *prometheus.CounterVec
	changeEvents     *prometheus.CounterVec
	connectionStatus *prometheus.GaugeVec

	presenceReconnectsTotal prometheus.Counter
	presenceHeartbeatsTotal *prometheus.CounterVec
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		version: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "version",
			Help:      "Which version is running. 1 for 'version' label with current version.",
		}, []string{"version"}),
		mutationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "The total count of optimistic mutations by outcome.",
		}, []string{collectionLabel, "type", resultLabel}),
		mutationSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutation_seconds",
			Help:      "The time until the record store answered a mutation.",
		}, []string{collectionLabel}),
		conflictsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "conflicts_total",
			Help:      "The total count of detected conflicts by resolution strategy.",
		}, []string{collectionLabel, "strategy"}),
		changeEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "change_events_total",
			Help:      "The total count of change events received from the push channel.",
		}, []string{collectionLabel, "kind"}),
		connectionStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_status",
			Help:      "The connection status of each component. 1 for the current status.",
		}, []string{componentLabel, statusLabel}),
		presenceReconnectsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "reconnects_total",
			Help:      "The total count of scheduled presence reconnects.",
		}),
		presenceHeartbeatsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "heartbeats_total",
			Help:      "The total count of durable heartbeats by outcome.",
		}, []string{resultLabel}),
	}

	metrics.version.With(prometheus.Labels{
		"version": version.Version,
	}).Set(1)

	return metrics, nil
}

// RecordMutation records the outcome of an optimistic mutation.
func (m *Metrics) RecordMutation(collection, mutationType, result string, elapsed time.Duration) {
	m.mutationsTotal.With(prometheus.Labels{
		collectionLabel: collection,
		"type":          mutationType,
		resultLabel:     result,
	}).Inc()
	m.mutationSeconds.With(prometheus.Labels{
		collectionLabel: collection,
	}).Observe(elapsed.Seconds())
}

// RecordConflict records a conflict detected on collection.
func (m *Metrics) RecordConflict(collection, strategy string) {
	m.conflictsTotal.With(prometheus.Labels{
		collectionLabel: collection,
		"strategy":      strategy,
	}).Inc()
}

// RecordChangeEvent records a change event received for collection.
func (m *Metrics) RecordChangeEvent(collection, kind string) {
	m.changeEvents.With(prometheus.Labels{
		collectionLabel: collection,
		"kind":          kind,
	}).Inc()
}

// RecordConnectionStatus sets the status of component to status.
func (m *Metrics) RecordConnectionStatus(component, status string) {
	for _, s := range connectionStatuses {
		value := 0.0
		if string(s) == status {
			value = 1
		}
		m.connectionStatus.With(prometheus.Labels{
			componentLabel: component,
			statusLabel:    string(s),
		}).Set(value)
	}
}

// RecordReconnect records a scheduled presence reconnect.
func (m *Metrics) RecordReconnect() {
	m.presenceReconnectsTotal.Inc()
}

// RecordHeartbeat records the outcome of a durable heartbeat.
func (m *Metrics) RecordHeartbeat(result string) {
	m.presenceHeartbeatsTotal.With(prometheus.Labels{
		resultLabel: result,
	}).Inc()
}

// RegisterCache exports the statistics of c.
func (m *Metrics) RegisterCache(c cache.StatsProvider) error {
	labels := prometheus.Labels{"cache": c.Name()}
	funcs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "The total count of cache lookups that found a value.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Hits()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "The total count of cache lookups that found nothing.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Misses()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "invalidations_total",
			Help:        "The total count of entries dropped by invalidation.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Stats().Invalidations()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "The number of cached entries.",
			ConstLabels: labels,
		}, func() float64 { return float64(c.Len()) }),
	}

	for _, collector := range funcs {
		if err := m.registry.Register(collector); err != nil {
			return fmt.Errorf("register cache %s: %w", c.Name(), err)
		}
	}
	return nil
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
