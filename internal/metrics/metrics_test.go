package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/retaildss/rebalance-engine/internal/metrics"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/stores/{storeID}/risk", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/stores/{storeID}/risk", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"S1", "S2", "S3"} {
		req := httptest.NewRequest("GET", "/stores/"+id+"/risk", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("expected 3 requests under one route label, got %v", got)
	}
}

func TestHandler_ExposesEngineMetrics(t *testing.T) {
	metrics.TransfersExecuted.Inc()

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "rebalance_transfers_executed_total"); err != nil || n != 1 {
		t.Errorf("expected one transfers series, got %d (%v)", n, err)
	}
}
