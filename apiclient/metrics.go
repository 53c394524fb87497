package apiclient

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	refreshSuccess   = "success"
	refreshFailure   = "failure"
	refreshCoalesced = "coalesced"
)

// metrics is nil-safe: a Client built without WithMetrics records nothing.
type metrics struct {
	requests    *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	invalidated prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remitadmin",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests sent to the backend, by method and status class.",
		}, []string{"method", "code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remitadmin",
			Subsystem: "client",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh outcomes.",
		}, []string{"outcome"}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remitadmin",
			Subsystem: "client",
			Name:      "sessions_invalidated_total",
			Help:      "Sessions cleared because they could not be recovered.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.refreshes, m.invalidated} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("apiclient: register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) observeRequest(method string, status int) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status/100) + "xx"
	}
	m.requests.WithLabelValues(method, code).Inc()
}

func (m *metrics) observeRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *metrics) observeInvalidated() {
	if m == nil {
		return
	}
	m.invalidated.Inc()
}
