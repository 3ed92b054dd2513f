package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/api"
	"github.com/retaildss/rebalance-engine/internal/forecast"
	"github.com/retaildss/rebalance-engine/internal/matcher"
	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/risk"
	"github.com/retaildss/rebalance-engine/internal/scheduler"
	"github.com/retaildss/rebalance-engine/internal/store"
	"github.com/retaildss/rebalance-engine/internal/transfer"
)

var salesStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *store.MemoryStore
	jobs   *scheduler.Jobs
	hub    *api.WSHub
	router chi.Router
}

// newTestEnv builds the full handler stack over a seeded in-memory network:
// retail store S1 is out of P1, hub H1 holds 200 units, X1 holds nothing.
func newTestEnv(t *testing.T, opts api.RouterOptions) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.PutStore(model.Store{ID: "S1", Name: "Store One", Tier: model.TierRetailStore, Lat: 41.0, Lon: 29.0})
	ms.PutStore(model.Store{ID: "H1", Name: "Hub One", Tier: model.TierRegionalHub, Lat: 41.09, Lon: 29.0})
	ms.PutStore(model.Store{ID: "X1", Name: "Empty", Tier: model.TierRetailStore, Lat: 40.0, Lon: 29.0})
	ms.PutProduct(model.Product{ID: "P1", Name: "Widget", Category: "tools", UnitPrice: decimal.NewFromInt(10), ValueClass: model.ClassB})
	ms.PutInventory(model.InventoryPosition{StoreID: "S1", ProductID: "P1", Quantity: 0, SafetyStock: 10})
	ms.PutInventory(model.InventoryPosition{StoreID: "H1", ProductID: "P1", Quantity: 200, SafetyStock: 20})
	for i := 0; i < 10; i++ {
		ms.AddSales(model.SalesRecord{StoreID: "S1", ProductID: "P1", Date: salesStart.AddDate(0, 0, i), Quantity: 4})
	}

	hub := api.NewWSHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	fc := forecast.NewForecaster(ms, forecast.Options{HorizonDays: 5}, nil)
	jobs := scheduler.NewJobs(fc.Regenerate, hub.PublishJob, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs.Shutdown(ctx)
	})

	svc := api.NewService(api.Deps{
		Store:      ms,
		Forecaster: fc,
		Matcher:    matcher.NewService(ms, matcher.Options{}, nil),
		Jobs:       jobs,
		Hub:        hub,
	})
	opts.Quiet = true
	return &testEnv{store: ms, jobs: jobs, hub: hub, router: api.NewRouter(svc, hub, opts)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// --- Network and risk ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})
	w := env.do(t, "GET", "/health", nil)
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestListStoresAndInventory(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var stores []model.Store
	w := env.do(t, "GET", "/api/v1/stores", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &stores)
	if len(stores) != 3 || stores[0].ID != "H1" {
		t.Errorf("expected 3 stores ordered by id, got %+v", stores)
	}

	var positions []model.InventoryPosition
	w = env.do(t, "GET", "/api/v1/stores/H1/inventory", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &positions)
	if len(positions) != 1 || positions[0].Quantity != 200 {
		t.Errorf("unexpected inventory %+v", positions)
	}

	expectStatus(t, env.do(t, "GET", "/api/v1/stores/NOPE/inventory", nil), http.StatusNotFound)
}

func TestStoreRisk(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	tests := []struct {
		store string
		want  model.RiskTier
		color string
	}{
		{"S1", model.RiskHigh, "red"},
		{"H1", model.RiskOverstock, "yellow"},
		{"X1", model.RiskUnknown, "gray"},
	}
	for _, tt := range tests {
		var resp api.StoreRiskResponse
		w := env.do(t, "GET", "/api/v1/stores/"+tt.store+"/risk", nil)
		expectStatus(t, w, http.StatusOK)
		decodeBody(t, w, &resp)
		if resp.Status != tt.want || resp.Color != tt.color {
			t.Errorf("%s: expected %s/%s, got %+v", tt.store, tt.want, tt.color, resp)
		}
	}

	expectStatus(t, env.do(t, "GET", "/api/v1/stores/NOPE/risk", nil), http.StatusNotFound)
}

func TestRiskReport(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var report []risk.ReportEntry
	w := env.do(t, "GET", "/api/v1/risk/report", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &report)
	if len(report) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(report))
	}
	byID := make(map[string]risk.ReportEntry)
	for _, e := range report {
		byID[e.StoreID] = e
	}
	if byID["H1"].Stock != 200 || byID["H1"].SafetyStock != 20 || byID["H1"].Status != model.RiskOverstock {
		t.Errorf("unexpected H1 entry %+v", byID["H1"])
	}
	if byID["X1"].Status != model.RiskUnknown || byID["X1"].Stock != 0 {
		t.Errorf("unexpected X1 entry %+v", byID["X1"])
	}
}

// --- Forecasts ---

func TestRegenerateForecasts(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var job scheduler.Job
	w := env.do(t, "POST", "/api/v1/forecasts/regenerate", nil)
	expectStatus(t, w, http.StatusAccepted)
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "/api/v1/forecasts/jobs/") {
		t.Errorf("unexpected Location %q", loc)
	}
	decodeBody(t, w, &job)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := env.jobs.Wait(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	w = env.do(t, "GET", "/api/v1/forecasts/jobs/"+job.ID, nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &job)
	// S1 is fitted on its own history; X1 borrows S1's as the nearest
	// retail seller; H1 has no proxy.
	if job.Status != scheduler.StatusSucceeded || job.Result.GeneratedCount != 10 {
		t.Fatalf("unexpected job %+v", job)
	}

	var rows []model.DemandForecast
	w = env.do(t, "GET", "/api/v1/forecasts?store_id=S1&product_id=P1", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &rows)
	if len(rows) != 5 || rows[0].Model != model.ModelLinearTrend || rows[0].PredictedQuantity != 4 {
		t.Errorf("unexpected forecasts %+v", rows)
	}

	w = env.do(t, "GET", "/api/v1/forecasts?limit=2", nil)
	expectStatus(t, w, http.StatusOK)
	rows = nil
	decodeBody(t, w, &rows)
	if len(rows) != 2 {
		t.Errorf("expected limit to cap rows at 2, got %d", len(rows))
	}

	expectStatus(t, env.do(t, "GET", "/api/v1/forecasts?limit=0", nil), http.StatusBadRequest)

	// Finished jobs cannot be cancelled.
	expectStatus(t, env.do(t, "DELETE", "/api/v1/forecasts/jobs/"+job.ID, nil), http.StatusConflict)
	expectStatus(t, env.do(t, "DELETE", "/api/v1/forecasts/jobs/nope", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, "GET", "/api/v1/forecasts/jobs/nope", nil), http.StatusNotFound)
}

func TestRegenerateForecasts_ConflictAndCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	jobs := scheduler.NewJobs(func(ctx context.Context, progress forecast.ProgressFunc) (forecast.Result, error) {
		<-ctx.Done()
		return forecast.Result{}, ctx.Err()
	}, nil, nil)
	svc := api.NewService(api.Deps{Store: ms, Jobs: jobs})
	env := &testEnv{store: ms, jobs: jobs, router: api.NewRouter(svc, nil, api.RouterOptions{Quiet: true})}

	var first scheduler.Job
	w := env.do(t, "POST", "/api/v1/forecasts/regenerate", nil)
	expectStatus(t, w, http.StatusAccepted)
	decodeBody(t, w, &first)

	var conflict struct {
		Error string        `json:"error"`
		Job   scheduler.Job `json:"job"`
	}
	w = env.do(t, "POST", "/api/v1/forecasts/regenerate", nil)
	expectStatus(t, w, http.StatusConflict)
	decodeBody(t, w, &conflict)
	if conflict.Job.ID != first.ID {
		t.Errorf("expected running job %s in conflict body, got %s", first.ID, conflict.Job.ID)
	}

	expectStatus(t, env.do(t, "DELETE", "/api/v1/forecasts/jobs/"+first.ID, nil), http.StatusAccepted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := jobs.Wait(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != scheduler.StatusCanceled {
		t.Errorf("expected canceled, got %s", done.Status)
	}
}

func TestRegenerateForecasts_RateLimited(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{RegeneratePerMinute: 1})

	w := env.do(t, "POST", "/api/v1/forecasts/regenerate", nil)
	expectStatus(t, w, http.StatusAccepted)
	expectStatus(t, env.do(t, "POST", "/api/v1/forecasts/regenerate", nil), http.StatusTooManyRequests)
}

// --- Analysis ---

func TestAccuracy(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	expectStatus(t, env.do(t, "GET", "/api/v1/analysis/accuracy?store_id=S1", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, "GET", "/api/v1/analysis/accuracy?store_id=S1&product_id=P1", nil), http.StatusUnprocessableEntity)

	var rows []model.DemandForecast
	for i := 0; i < 3; i++ {
		rows = append(rows, model.DemandForecast{StoreID: "S1", ProductID: "P1", Date: salesStart.AddDate(0, 0, i), PredictedQuantity: 3})
	}
	if err := env.store.InsertForecasts(context.Background(), rows); err != nil {
		t.Fatal(err)
	}

	var report forecast.AccuracyReport
	w := env.do(t, "GET", "/api/v1/analysis/accuracy?store_id=S1&product_id=P1", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &report)
	// Actuals are all 4: constant series yield R² = 1.
	if report.Accuracy.MAE != 1 || report.Accuracy.RMSE != 1 || report.Accuracy.R2 != 1 || report.Accuracy.Points != 3 {
		t.Errorf("unexpected accuracy %+v", report.Accuracy)
	}
}

func TestColdStart(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	expectStatus(t, env.do(t, "GET", "/api/v1/analysis/cold-start", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, "GET", "/api/v1/analysis/cold-start?product_id=NOPE", nil), http.StatusNotFound)

	var report forecast.ColdStartReport
	w := env.do(t, "GET", "/api/v1/analysis/cold-start?product_id=P1", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &report)
	if report.SalesCount != 10 || report.Status != model.StatusColdStart || len(report.Proxies) != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

// --- Transfers ---

func TestRecommendations(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var recs []model.TransferRecommendation
	w := env.do(t, "GET", "/api/v1/transfers/recommendations", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &recs)
	// No forecasts: S1 is short of its safety stock only.
	if len(recs) != 1 {
		t.Fatalf("expected one recommendation, got %+v", recs)
	}
	rec := recs[0]
	if rec.Source.ID != "H1" || rec.Target.ID != "S1" || rec.Amount != 10 || rec.TransferID != "TRF-100" {
		t.Errorf("unexpected recommendation %+v", rec)
	}
	if rec.Algorithm != matcher.Algorithm {
		t.Errorf("unexpected algorithm %q", rec.Algorithm)
	}

	recs = nil
	w = env.do(t, "GET", "/api/v1/transfers/recommendations?vehicle_capacity=4", nil)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &recs)
	if len(recs) != 1 || recs[0].Amount != 4 {
		t.Errorf("expected capacity 4 to cap the amount, got %+v", recs)
	}

	for _, bad := range []string{"abc", "0", "-3", "10001"} {
		w := env.do(t, "GET", "/api/v1/transfers/recommendations?vehicle_capacity="+bad, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("vehicle_capacity=%s: expected 400, got %d", bad, w.Code)
		}
	}
}

func TestRejectTransfer_Accumulates(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})
	req := api.RejectRequest{SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Reason: model.ReasonStrategy}

	var resp api.RejectResponse
	w := env.do(t, "POST", "/api/v1/transfers/reject", req)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &resp)
	if resp.NewPenaltyScore != 5 {
		t.Errorf("expected 5 after first rejection, got %v", resp.NewPenaltyScore)
	}

	w = env.do(t, "POST", "/api/v1/transfers/reject", req)
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &resp)
	if resp.NewPenaltyScore != 10 {
		t.Errorf("expected 10 after second rejection, got %v", resp.NewPenaltyScore)
	}
	if n := len(env.store.Rejections()); n != 2 {
		t.Errorf("expected 2 rejection records, got %d", n)
	}
}

func TestRejectTransfer_UnknownReasonWeighsDefault(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var resp api.RejectResponse
	w := env.do(t, "POST", "/api/v1/transfers/reject",
		api.RejectRequest{SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Reason: "LATE"})
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &resp)
	if resp.NewPenaltyScore != 1 {
		t.Errorf("expected default weight 1, got %v", resp.NewPenaltyScore)
	}
	recs := env.store.Rejections()
	if len(recs) != 1 || recs[0].Reason != "LATE" {
		t.Errorf("expected the free-form reason to be stored, got %+v", recs)
	}
}

func TestRejectTransfer_Validation(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	tests := []struct {
		name string
		body any
	}{
		{"malformed", `{"source_store_id":`},
		{"missing reason", api.RejectRequest{SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1"}},
		{"same store", api.RejectRequest{SourceStoreID: "S1", TargetStoreID: "S1", ProductID: "P1", Reason: model.ReasonOps}},
		{"missing source", api.RejectRequest{TargetStoreID: "S1", ProductID: "P1", Reason: model.ReasonOps}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, "POST", "/api/v1/transfers/reject", tt.body), http.StatusBadRequest)
		})
	}
	if n := len(env.store.Rejections()); n != 0 {
		t.Errorf("expected no rejection records, got %d", n)
	}
}

func TestExecuteTransfer(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})
	v0 := int64(0)

	var tr model.Transfer
	w := env.do(t, "POST", "/api/v1/transfers", api.TransferRequest{
		SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 30, ExpectedVersion: &v0,
	})
	expectStatus(t, w, http.StatusCreated)
	decodeBody(t, w, &tr)
	if tr.ID == "" || tr.Amount != 30 {
		t.Errorf("unexpected transfer %+v", tr)
	}

	ctx := context.Background()
	src, _ := env.store.GetInventoryPosition(ctx, "H1", "P1")
	dst, _ := env.store.GetInventoryPosition(ctx, "S1", "P1")
	if src.Quantity != 170 || dst.Quantity != 30 {
		t.Errorf("expected 170/30 after transfer, got %d/%d", src.Quantity, dst.Quantity)
	}

	// The recommendation that carried version 0 is now stale.
	w = env.do(t, "POST", "/api/v1/transfers", api.TransferRequest{
		SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 5, ExpectedVersion: &v0,
	})
	expectStatus(t, w, http.StatusConflict)
}

func TestExecuteTransfer_Errors(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	tests := []struct {
		name string
		req  api.TransferRequest
		want int
	}{
		{"insufficient", api.TransferRequest{SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 500}, http.StatusConflict},
		{"unknown store", api.TransferRequest{SourceStoreID: "H1", TargetStoreID: "NOPE", ProductID: "P1", Amount: 5}, http.StatusNotFound},
		{"no source position", api.TransferRequest{SourceStoreID: "X1", TargetStoreID: "S1", ProductID: "P1", Amount: 5}, http.StatusNotFound},
		{"zero amount", api.TransferRequest{SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1"}, http.StatusBadRequest},
		{"same store", api.TransferRequest{SourceStoreID: "H1", TargetStoreID: "H1", ProductID: "P1", Amount: 5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, "POST", "/api/v1/transfers", tt.req), tt.want)
		})
	}
	if n := len(env.store.Transfers()); n != 0 {
		t.Errorf("expected no transfers, got %d", n)
	}
}

func TestWhatIf(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var sim transfer.Simulation
	w := env.do(t, "POST", "/api/v1/transfers/what-if", api.WhatIfRequest{
		SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 30,
	})
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &sim)
	if sim.Verdict != transfer.VerdictApprove || sim.SourceRisk != transfer.StockRiskLow {
		t.Errorf("unexpected simulation %+v", sim)
	}
	if !sim.PotentialRevenue.Equal(decimal.NewFromInt(210)) {
		t.Errorf("expected revenue 210, got %s", sim.PotentialRevenue)
	}
	if sim.Source.After != 170 || sim.Target.After != 30 {
		t.Errorf("unexpected projection %+v / %+v", sim.Source, sim.Target)
	}

	w = env.do(t, "POST", "/api/v1/transfers/what-if", api.WhatIfRequest{
		SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 190,
	})
	expectStatus(t, w, http.StatusOK)
	decodeBody(t, w, &sim)
	if sim.Verdict != transfer.VerdictReject || sim.SourceRisk != transfer.StockRiskHigh {
		t.Errorf("expected REJECT/HIGH, got %s/%s", sim.Verdict, sim.SourceRisk)
	}

	// Read-only: nothing moved.
	src, _ := env.store.GetInventoryPosition(context.Background(), "H1", "P1")
	if src.Quantity != 200 {
		t.Errorf("what-if must not change stock, got %d", src.Quantity)
	}

	expectStatus(t, env.do(t, "POST", "/api/v1/transfers/what-if", api.WhatIfRequest{
		SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "NOPE", Amount: 1,
	}), http.StatusNotFound)
}

// --- WebSocket ---

func TestLaunchProduct(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})

	var res forecast.LaunchResult
	w := env.do(t, "POST", "/api/v1/products/launch", api.LaunchRequest{
		ID: "P2", Name: "Widget Pro", Category: "tools", UnitPrice: decimal.NewFromInt(12), ReferenceProductID: "P1",
	})
	expectStatus(t, w, http.StatusCreated)
	decodeBody(t, w, &res)
	if res.Product.ID != "P2" || res.Product.ValueClass != model.ClassB || res.PositionsOpened != 3 {
		t.Errorf("unexpected launch result %+v", res)
	}
	if pos, err := env.store.GetInventoryPosition(context.Background(), "X1", "P2"); err != nil || pos.Quantity != 0 {
		t.Errorf("expected an empty position at X1, got %+v (%v)", pos, err)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", api.LaunchRequest{ID: "P2", Name: "Again", Category: "tools"}, http.StatusConflict},
		{"unknown reference", api.LaunchRequest{Name: "New", Category: "tools", ReferenceProductID: "P9"}, http.StatusNotFound},
		{"missing name", api.LaunchRequest{Category: "tools"}, http.StatusBadRequest},
		{"negative price", api.LaunchRequest{Name: "New", Category: "tools", UnitPrice: decimal.NewFromInt(-1)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, "POST", "/api/v1/products/launch", tt.body), tt.want)
		})
	}
}

func TestWebSocket_TransferEvent(t *testing.T) {
	env := newTestEnv(t, api.RouterOptions{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	body, _ := json.Marshal(api.TransferRequest{SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 10})
	resp, err := http.Post(srv.URL+"/api/v1/transfers", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev struct {
		Type string         `json:"type"`
		Data model.Transfer `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != api.EventTransferExecuted || ev.Data.Amount != 10 {
		t.Errorf("unexpected event %+v", ev)
	}
}
