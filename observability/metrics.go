// Copyright 2025 AxonFlow
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

// Package observability defines this module's Prometheus collectors
// (§4.17). It is contract-only: no metrics-scrape HTTP endpoint is wired
// here, callers register the returned collectors against whatever
// registerer backs their own exporter.
package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nlsql-oss/queryorch/resilience"
)

// Metrics bundles one collector per component named in §4.17, grounded on
// the teacher's own prom* collector set (request counters/histograms,
// registered at construction rather than via package-level init so a
// caller controls which prometheus.Registerer they land on).
type Metrics struct {
	PoolConnections     *prometheus.GaugeVec
	BreakerTransitions  *prometheus.CounterVec
	NodeDuration        *prometheus.HistogramVec
	LLMCalls            *prometheus.CounterVec
	LLMCost             *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
}

// New builds every collector and registers them against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PoolConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queryorch_pool_connections",
			Help: "Pooled backend connections by pool name and state (idle/busy).",
		}, []string{"pool", "state"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queryorch_breaker_transitions_total",
			Help: "Circuit breaker state transitions by dependency and resulting state.",
		}, []string{"dependency", "state"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queryorch_node_duration_milliseconds",
			Help:    "Orchestrator node execution duration in milliseconds, by stage.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queryorch_llm_calls_total",
			Help: "LLM provider invocations by provider and outcome.",
		}, []string{"provider", "status"}),
		LLMCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queryorch_llm_cost_usd_total",
			Help: "Accumulated LLM spend in USD, by provider.",
		}, []string{"provider"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queryorch_ratelimit_rejections_total",
			Help: "Requests rejected by the sliding-window rate limiter, by endpoint.",
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		m.PoolConnections,
		m.BreakerTransitions,
		m.NodeDuration,
		m.LLMCalls,
		m.LLMCost,
		m.RateLimitRejections,
	)
	return m
}

// ObservePoolSize records a pool's current idle/busy split.
func (m *Metrics) ObservePoolSize(pool string, total, idle int) {
	m.PoolConnections.WithLabelValues(pool, "idle").Set(float64(idle))
	m.PoolConnections.WithLabelValues(pool, "busy").Set(float64(total - idle))
}

// BreakerStateChange is a resilience.OnStateChange callback that records a
// breaker transition.
func (m *Metrics) BreakerStateChange(name string, _, to resilience.BreakerState) {
	m.BreakerTransitions.WithLabelValues(name, strings.ToLower(to.String())).Inc()
}

// ObserveNodeDuration records how long a pipeline stage took.
func (m *Metrics) ObserveNodeDuration(stage string, ms float64) {
	m.NodeDuration.WithLabelValues(stage).Observe(ms)
}

// ObserveLLMUsage records an LLM call's outcome and, on success, its cost.
func (m *Metrics) ObserveLLMUsage(provider, status string, costUSD float64) {
	m.LLMCalls.WithLabelValues(provider, status).Inc()
	if costUSD > 0 {
		m.LLMCost.WithLabelValues(provider).Add(costUSD)
	}
}

// ObserveRateLimitRejection records a rejected request for endpoint.
func (m *Metrics) ObserveRateLimitRejection(endpoint string) {
	m.RateLimitRejections.WithLabelValues(endpoint).Inc()
}
