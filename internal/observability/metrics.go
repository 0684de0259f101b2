// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gatekeep Prometheus collectors.
//
// It implements auth.OutcomeRecorder and notify.Recorder.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_auth_operations_total",
				Help: "Auth operations by operation and outcome code",
			},
			[]string{"operation", "outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_notifications_total",
				Help: "Notification delivery attempts by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_http_requests_total",
				Help: "HTTP API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	reg.MustRegister(m.OperationsTotal, m.NotificationsTotal, m.HTTPRequestsTotal)
	return m
}

// RecordOutcome counts one auth operation.
func (m *Metrics) RecordOutcome(operation, outcome string) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordNotification counts one notification event.
func (m *Metrics) RecordNotification(transport, outcome string) {
	m.NotificationsTotal.WithLabelValues(transport, outcome).Inc()
}

// RecordHTTPRequest counts one HTTP request against its route template.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
