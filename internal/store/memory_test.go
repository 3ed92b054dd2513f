package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.PutStore(model.Store{ID: "S1", Name: "Kadikoy", Tier: model.TierRetailStore})
	ms.PutStore(model.Store{ID: "H1", Name: "Hub", Tier: model.TierRegionalHub})
	ms.PutProduct(model.Product{ID: "P1", Name: "Widget", Category: "tools"})
	ms.PutInventory(model.InventoryPosition{StoreID: "S1", ProductID: "P1", Quantity: 5, SafetyStock: 10})
	ms.PutInventory(model.InventoryPosition{StoreID: "H1", ProductID: "P1", Quantity: 100, SafetyStock: 20})
	return ms
}

func TestGetStore_NotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := ms.GetStore(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInventory_OrderedAndFiltered(t *testing.T) {
	ms := seeded(t)
	ms.PutInventory(model.InventoryPosition{StoreID: "H1", ProductID: "P0", Quantity: 1, SafetyStock: 1})

	all, err := ms.ListInventory(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	want := []model.PositionKey{
		{StoreID: "H1", ProductID: "P0"},
		{StoreID: "H1", ProductID: "P1"},
		{StoreID: "S1", ProductID: "P1"},
	}
	if len(all) != len(want) {
		t.Fatalf("expected %d positions, got %d", len(want), len(all))
	}
	for i, k := range want {
		if all[i].Key() != k {
			t.Errorf("position %d: expected %v, got %v", i, k, all[i].Key())
		}
	}

	one, _ := ms.ListInventory(context.Background(), "S1")
	if len(one) != 1 || one[0].StoreID != "S1" {
		t.Errorf("expected only S1 positions, got %+v", one)
	}
}

func TestInventoryStats_CountsRiskAndOverstock(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutInventory(model.InventoryPosition{StoreID: "S1", ProductID: "A", Quantity: 5, SafetyStock: 10})
	ms.PutInventory(model.InventoryPosition{StoreID: "S1", ProductID: "B", Quantity: 31, SafetyStock: 10})
	ms.PutInventory(model.InventoryPosition{StoreID: "S1", ProductID: "C", Quantity: 30, SafetyStock: 10})

	stats, err := ms.InventoryStats(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalItems != 3 || stats.HighRiskItems != 1 || stats.OverstockItems != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.TotalStock != 66 || stats.TotalSafetyStock != 30 {
		t.Errorf("unexpected totals %+v", stats)
	}

	all, _ := ms.AllInventoryStats(context.Background())
	if all["S1"] != stats {
		t.Errorf("bulk stats %+v differ from single %+v", all["S1"], stats)
	}
}

func TestApplyTransfer_MovesStockAndBumpsVersion(t *testing.T) {
	ms := seeded(t)
	ctx := context.Background()

	v := int64(0)
	err := ms.ApplyTransfer(ctx, &model.Transfer{
		ID: "t1", SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 30,
	}, &v, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src, _ := ms.GetInventoryPosition(ctx, "H1", "P1")
	dst, _ := ms.GetInventoryPosition(ctx, "S1", "P1")
	if src.Quantity != 70 || dst.Quantity != 35 {
		t.Errorf("expected 70/35, got %d/%d", src.Quantity, dst.Quantity)
	}
	if src.Version != 1 || dst.Version != 1 {
		t.Errorf("expected versions 1/1, got %d/%d", src.Version, dst.Version)
	}
	if len(ms.Transfers()) != 1 {
		t.Errorf("expected 1 recorded transfer, got %d", len(ms.Transfers()))
	}
}

func TestApplyTransfer_StaleVersion(t *testing.T) {
	ms := seeded(t)
	ctx := context.Background()

	stale := int64(7)
	err := ms.ApplyTransfer(ctx, &model.Transfer{
		SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1", Amount: 1,
	}, &stale, 10)
	if !errors.Is(err, store.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	src, _ := ms.GetInventoryPosition(ctx, "H1", "P1")
	if src.Quantity != 100 {
		t.Errorf("stale transfer must not move stock, got %d", src.Quantity)
	}
}

func TestApplyTransfer_InsufficientStock(t *testing.T) {
	ms := seeded(t)
	err := ms.ApplyTransfer(context.Background(), &model.Transfer{
		SourceStoreID: "S1", TargetStoreID: "H1", ProductID: "P1", Amount: 6,
	}, nil, 10)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestApplyTransfer_CreatesTargetPosition(t *testing.T) {
	ms := seeded(t)
	ms.PutStore(model.Store{ID: "S2", Name: "Besiktas", Tier: model.TierRetailStore})
	ctx := context.Background()

	if err := ms.ApplyTransfer(ctx, &model.Transfer{
		SourceStoreID: "H1", TargetStoreID: "S2", ProductID: "P1", Amount: 12,
	}, nil, 10); err != nil {
		t.Fatal(err)
	}
	dst, err := ms.GetInventoryPosition(ctx, "S2", "P1")
	if err != nil {
		t.Fatal(err)
	}
	if dst.Quantity != 12 || dst.SafetyStock != 10 {
		t.Errorf("expected new position 12/10, got %d/%d", dst.Quantity, dst.SafetyStock)
	}
}

func TestRecordRejection_Accumulates(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	r := &model.TransferRejection{SourceStoreID: "A", TargetStoreID: "B", ProductID: "P", Reason: model.ReasonStrategy}

	if _, err := ms.RecordRejection(ctx, r, 5); err != nil {
		t.Fatal(err)
	}
	score, err := ms.RecordRejection(ctx, r, 5)
	if err != nil {
		t.Fatal(err)
	}
	if score != 10 {
		t.Errorf("expected cumulative 10, got %v", score)
	}
	if len(ms.Rejections()) != 2 {
		t.Errorf("expected 2 rejections, got %d", len(ms.Rejections()))
	}
	penalties, _ := ms.ListRoutePenalties(ctx)
	if len(penalties) != 1 || penalties[0].Score != 10 {
		t.Errorf("unexpected penalties %+v", penalties)
	}
}

func TestForecastTotals_InclusiveWindow(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	var rows []model.DemandForecast
	for i := 0; i < 10; i++ {
		rows = append(rows, model.DemandForecast{
			StoreID: "S1", ProductID: "P1",
			Date:              day("2024-03-01").AddDate(0, 0, i),
			PredictedQuantity: 2,
		})
	}
	if err := ms.InsertForecasts(ctx, rows); err != nil {
		t.Fatal(err)
	}

	totals, _ := ms.ForecastTotals(ctx, day("2024-03-01"), day("2024-03-07"))
	if got := totals[model.PositionKey{StoreID: "S1", ProductID: "P1"}]; got != 14 {
		t.Errorf("expected 14 over 7 days, got %d", got)
	}

	if err := ms.DeleteAllForecasts(ctx); err != nil {
		t.Fatal(err)
	}
	listed, _ := ms.ListForecasts(ctx, "", "")
	if len(listed) != 0 {
		t.Errorf("expected no forecasts after delete, got %d", len(listed))
	}
}

func TestSalesQueries(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.AddSales(
		model.SalesRecord{StoreID: "S2", ProductID: "P1", Date: day("2024-01-02"), Quantity: 3},
		model.SalesRecord{StoreID: "S1", ProductID: "P1", Date: day("2024-01-03"), Quantity: 1},
		model.SalesRecord{StoreID: "S1", ProductID: "P1", Date: day("2024-01-01"), Quantity: 2},
		model.SalesRecord{StoreID: "S1", ProductID: "P2", Date: day("2024-01-01"), Quantity: 9},
	)

	hist, _ := ms.SalesHistory(ctx, "S1", "P1")
	if len(hist) != 2 || !hist[0].Date.Before(hist[1].Date) {
		t.Errorf("expected 2 date-ordered records, got %+v", hist)
	}
	n, _ := ms.CountProductSales(ctx, "P1")
	if n != 3 {
		t.Errorf("expected 3 sales of P1, got %d", n)
	}
}

func TestLoadFixture(t *testing.T) {
	doc := `{
		"stores": [{"id": "S1", "name": "One", "tier": "RETAIL_STORE", "lat": 41.0, "lon": 29.0}],
		"products": [{"id": "P1", "name": "Widget", "category": "tools", "unit_price": "12.50"}],
		"inventory": [{"store_id": "S1", "product_id": "P1", "quantity": 4, "safety_stock": 10}],
		"sales": [{"store_id": "S1", "product_id": "P1", "date": "2024-01-05", "quantity": 2, "revenue": "25.00"}],
		"route_penalties": [{"source_store_id": "H1", "target_store_id": "S1", "score": 7.5}]
	}`
	ms := store.NewMemoryStore()
	if err := ms.LoadFixture(strings.NewReader(doc)); err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	ctx := context.Background()

	p, err := ms.GetProduct(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if p.ValueClass != model.ClassC {
		t.Errorf("expected missing class to normalize to C, got %q", p.ValueClass)
	}
	if p.UnitPrice.String() != "12.5" {
		t.Errorf("expected price 12.5, got %s", p.UnitPrice)
	}
	hist, _ := ms.SalesHistory(ctx, "S1", "P1")
	if len(hist) != 1 || !hist[0].Date.Equal(day("2024-01-05")) {
		t.Errorf("unexpected sales %+v", hist)
	}
	penalties, _ := ms.ListRoutePenalties(ctx)
	if len(penalties) != 1 || penalties[0].Score != 7.5 {
		t.Errorf("unexpected penalties %+v", penalties)
	}
}

func TestLoadFixture_BadTier(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.LoadFixture(strings.NewReader(`{"stores": [{"id": "X", "tier": "WAREHOUSE"}]}`))
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestLoadFixtureFile_Seed(t *testing.T) {
	ms := store.NewMemoryStore()
	if err := ms.LoadFixtureFile("../../seed/network.json"); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	stores, _ := ms.ListStores(ctx)
	products, _ := ms.ListProducts(ctx)
	if len(stores) != 6 || len(products) != 4 {
		t.Errorf("expected 6 stores and 4 products, got %d and %d", len(stores), len(products))
	}
	if n, _ := ms.CountProductSales(ctx, "P1"); n != 63 {
		t.Errorf("expected 63 P1 sales, got %d", n)
	}
	penalties, _ := ms.ListRoutePenalties(ctx)
	if len(penalties) != 1 || penalties[0].Score != 2.5 {
		t.Errorf("unexpected penalties %+v", penalties)
	}
}
