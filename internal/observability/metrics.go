// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the application counters. It satisfies auth.MetricsRecorder.
type Metrics struct {
	AuthAttemptsTotal *prometheus.CounterVec
	TokensIssuedTotal prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates the application counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_auth_attempts_total",
				Help: "Authentication operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pricepulse_tokens_issued_total",
				Help: "Session tokens issued",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricepulse_http_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(m.AuthAttemptsTotal, m.TokensIssuedTotal, m.HTTPRequestsTotal)
	return m
}

// RecordAuthAttempt counts one authentication outcome.
func (m *Metrics) RecordAuthAttempt(operation, result string) {
	m.AuthAttemptsTotal.WithLabelValues(operation, result).Inc()
}

// RecordTokenIssued counts one issued session token.
func (m *Metrics) RecordTokenIssued() {
	m.TokensIssuedTotal.Inc()
}

// RecordHTTPRequest counts one served request. route is the router pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
