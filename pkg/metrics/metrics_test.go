package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestNewWithRegistryRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ScoreRequestsTotal.WithLabelValues("ok").Inc()
	m.ScoreRequestsTotal.WithLabelValues("ok").Inc()
	m.ScoringErrorsTotal.WithLabelValues("str_ngrams").Inc()
	m.CacheHitsTotal.Inc()

	if got := counterValue(t, reg, "score_requests_total"); got != 2 {
		t.Errorf("score_requests_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "scoring_errors_total"); got != 1 {
		t.Errorf("scoring_errors_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "cache_hits_total"); got != 1 {
		t.Errorf("cache_hits_total = %v, want 1", got)
	}
}

func TestNewWithRegistryTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegistry(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewWithRegistry(reg)
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.ActiveShards.Set(3)

	srv := httptest.NewServer(HandlerFor(reg, reg))
	defer srv.Close()
	for i := 0; i < 2; i++ {
		resp, err := srv.Client().Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "active_shards 3") {
			t.Fatalf("scrape missing active_shards:\n%s", body)
		}
	}
	if got := counterValue(t, reg, "promhttp_metric_handler_requests_total"); got < 1 {
		t.Errorf("scrape counter = %v", got)
	}
}
