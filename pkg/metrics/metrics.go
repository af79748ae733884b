// Copyright 2025 Kadir Pekel
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

// Package metrics registers the daemon's Prometheus collectors. Served at
// /metrics by the control plane; informational only, no behavior depends
// on them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts completed poll cycles per agent and outcome.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentworker",
		Subsystem: "loop",
		Name:      "poll_cycles_total",
		Help:      "Completed poll cycles by agent and outcome.",
	}, []string{"agent", "outcome"})

	// BackendCalls observes backend call latency per agent.
	BackendCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentworker",
		Subsystem: "backend",
		Name:      "call_duration_seconds",
		Help:      "Backend call latency by agent.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"agent"})

	// InboxDepth gauges the last observed inbox size per agent.
	InboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentworker",
		Subsystem: "inbox",
		Name:      "depth",
		Help:      "Unread inbox items observed at the last poll.",
	}, []string{"agent"})

	// HTTPRequests counts control-plane requests by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentworker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Control-plane requests by method, route, and status.",
	}, []string{"method", "route", "status"})
)
