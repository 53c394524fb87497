package apiclient

import (
	"context"
	"testing"

	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/ggoodman/remitadmin-go/sessions/memorystore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordRefreshFlow(t *testing.T) {
	f := newFakeAPI(t)
	f.issueOnRefresh("R1", "A2")
	reg := prometheus.NewRegistry()
	store := memorystore.New(&sessions.Session{AccessToken: "A1", RefreshToken: "R1"})
	c, _ := newTestClient(t, f, store, WithMetrics(reg))

	if err := c.GetJSON(context.Background(), "/transactions/", nil, nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"GET 4xx", c.metrics.requests.WithLabelValues("GET", "4xx"), 1},
		{"GET 2xx", c.metrics.requests.WithLabelValues("GET", "2xx"), 1},
		{"POST 2xx", c.metrics.requests.WithLabelValues("POST", "2xx"), 1},
		{"refresh success", c.metrics.refreshes.WithLabelValues(refreshSuccess), 1},
		{"invalidated", c.metrics.invalidated, 0},
	}
	for _, ck := range checks {
		if got := testutil.ToFloat64(ck.c); got != ck.want {
			t.Errorf("%s = %v, want %v", ck.name, got, ck.want)
		}
	}
}

func TestMetricsDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := memorystore.New(nil)
	if _, err := New("http://localhost:8001/api/v1", store, WithMetrics(reg)); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New("http://localhost:8001/api/v1", store, WithMetrics(reg)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *metrics
	m.observeRequest("GET", 200)
	m.observeRefresh(refreshFailure)
	m.observeInvalidated()
}
