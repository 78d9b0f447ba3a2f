// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lark"

// Outcome labels for submissions.
const (
	SubmitSent   = "sent"
	SubmitQueued = "queued"
	SubmitBusy   = "busy"
)

// Result labels for model requests.
const (
	ModelOK      = "ok"
	ModelError   = "error"
	ModelTimeout = "timeout"
	ModelLate    = "late"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the collectors for one process. A nil *Metrics is valid
// and records nothing, so components can take one unconditionally.
type Metrics struct {
	submissions   *prometheus.CounterVec
	modelRequests *prometheus.CounterVec
	modelLatency  prometheus.Histogram
	queueDepth    prometheus.Gauge
	flushReplayed *prometheus.CounterVec
	online        prometheus.Gauge
	actions       *prometheus.CounterVec
	speechErrors  prometheus.Counter
	workerCalls   *prometheus.CounterVec
	eventsDropped prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "User submissions by outcome.",
		}, []string{"outcome"}),
		modelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Remote model requests by result.",
		}, []string{"result"}),
		modelLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Time from request to reply for answered model requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Messages waiting in the offline queue.",
		}),
		flushReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_replayed_total",
			Help:      "Queued messages replayed by flushes, by result.",
		}, []string{"result"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when connectivity is up, 0 when offline.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched actions by type and result.",
		}, []string{"type", "result"}),
		speechErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_failures_total",
			Help:      "Replies that could not be spoken by any voice.",
		}),
		workerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_calls_total",
			Help:      "Audio worker calls by kind and result.",
		}, []string{"kind", "result"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "State events dropped because a subscriber was not keeping up.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.submissions, m.modelRequests, m.modelLatency, m.queueDepth,
			m.flushReplayed, m.online, m.actions, m.speechErrors,
			m.workerCalls, m.eventsDropped,
		)
	}
	return m
}

// Submission counts one submission outcome.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// ModelRequest counts one model request and, for answered ones, its latency.
func (m *Metrics) ModelRequest(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.modelRequests.WithLabelValues(result).Inc()
	if result == ModelOK || result == ModelError {
		m.modelLatency.Observe(took.Seconds())
	}
}

// QueueDepth sets the offline queue gauge.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Replayed counts one flushed entry.
func (m *Metrics) Replayed(ok bool) {
	if m == nil {
		return
	}
	m.flushReplayed.WithLabelValues(resultLabel(ok)).Inc()
}

// Online sets the connectivity gauge.
func (m *Metrics) Online(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

// Action counts one dispatched action.
func (m *Metrics) Action(actionType string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(actionType, resultLabel(err == nil)).Inc()
}

// SpeechFailure counts a reply no voice could speak.
func (m *Metrics) SpeechFailure() {
	if m == nil {
		return
	}
	m.speechErrors.Inc()
}

// WorkerCall counts one worker call.
func (m *Metrics) WorkerCall(kind string, err error) {
	if m == nil {
		return
	}
	m.workerCalls.WithLabelValues(kind, resultLabel(err == nil)).Inc()
}

// EventDropped counts an event a slow subscriber missed.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
