// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type NegotiationMetrics interface {
	IncStarted(protocol, role string)
	ObserveFinished(protocol, role, outcome string, duration time.Duration)
	SetActive(count int)
}

var METRICS_SUBSYSTEM = "negotiation"

type negotiationMetrics struct {
	started  *prometheus.CounterVec
	finished *prometheus.HistogramVec
	active   prometheus.Gauge
}

// InitMetrics registers with the supplied registry. A nil registry gives metrics that are never exported.
func InitMetrics(registry *prometheus.Registry) NegotiationMetrics {
	m := &negotiationMetrics{}
	m.started = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "started_total",
		Help: "Negotiations started", Namespace: "obligation", Subsystem: METRICS_SUBSYSTEM}, []string{"protocol", "role"})
	m.finished = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "duration_seconds",
		Help: "Negotiation durations by outcome", Namespace: "obligation", Subsystem: METRICS_SUBSYSTEM}, []string{"protocol", "role", "outcome"})
	m.active = prometheus.NewGauge(prometheus.GaugeOpts{Name: "active",
		Help: "Negotiations running on this node", Namespace: "obligation", Subsystem: METRICS_SUBSYSTEM})
	if registry != nil {
		registry.MustRegister(m.started, m.finished, m.active)
	}
	return m
}

func (m *negotiationMetrics) IncStarted(protocol, role string) {
	m.started.With(prometheus.Labels{"protocol": protocol, "role": role}).Inc()
}

func (m *negotiationMetrics) ObserveFinished(protocol, role, outcome string, duration time.Duration) {
	m.finished.With(prometheus.Labels{"protocol": protocol, "role": role, "outcome": outcome}).Observe(duration.Seconds())
}

func (m *negotiationMetrics) SetActive(count int) {
	m.active.Set(float64(count))
}
