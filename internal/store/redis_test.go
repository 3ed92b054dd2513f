package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/store"
)

func cached(t *testing.T) (*store.CachedStore, *store.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ms := seeded(t)
	return store.NewCachedStore(ms, rdb, time.Minute), ms, mr
}

func penaltyOf(t *testing.T, s store.Store, sourceID, targetID string) float64 {
	t.Helper()
	penalties, err := s.ListRoutePenalties(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range penalties {
		if p.SourceStoreID == sourceID && p.TargetStoreID == targetID {
			return p.Score
		}
	}
	return 0
}

func TestCachedStore_PenaltiesServedFromCache(t *testing.T) {
	cs, ms, mr := cached(t)
	ms.SetRoutePenalty("H1", "S1", 2)

	if got := penaltyOf(t, cs, "H1", "S1"); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if !mr.Exists("rebalance:route_penalties") {
		t.Fatal("expected penalties to be cached")
	}

	// Changes behind the cache stay invisible until the entry is dropped.
	ms.SetRoutePenalty("H1", "S1", 7)
	if got := penaltyOf(t, cs, "H1", "S1"); got != 2 {
		t.Errorf("expected cached 2, got %v", got)
	}
}

func TestCachedStore_RejectionInvalidatesPenalties(t *testing.T) {
	cs, _, _ := cached(t)
	ctx := context.Background()

	if got := penaltyOf(t, cs, "H1", "S1"); got != 0 {
		t.Fatalf("expected no penalty, got %v", got)
	}
	rej := &model.TransferRejection{
		ID: "R1", SourceStoreID: "H1", TargetStoreID: "S1", ProductID: "P1",
		Reason: model.ReasonStrategy, CreatedAt: time.Now().UTC(),
	}
	score, err := cs.RecordRejection(ctx, rej, 5)
	if err != nil {
		t.Fatal(err)
	}
	if score != 5 {
		t.Errorf("expected new score 5, got %v", score)
	}
	if got := penaltyOf(t, cs, "H1", "S1"); got != 5 {
		t.Errorf("expected rejection to be visible through the cache, got %v", got)
	}
}

func TestCachedStore_ForecastTotalsRecomputed(t *testing.T) {
	cs, _, _ := cached(t)
	ctx := context.Background()
	from, to := day("2024-01-01"), day("2024-01-07")
	key := model.PositionKey{StoreID: "S1", ProductID: "P1"}

	row := func(date string, qty int) model.DemandForecast {
		return model.DemandForecast{StoreID: "S1", ProductID: "P1", Date: day(date), PredictedQuantity: qty}
	}

	if err := cs.InsertForecasts(ctx, []model.DemandForecast{row("2024-01-01", 3), row("2024-01-02", 4)}); err != nil {
		t.Fatal(err)
	}
	totals, err := cs.ForecastTotals(ctx, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if totals[key] != 7 {
		t.Fatalf("expected 7, got %d", totals[key])
	}

	// Cached read decodes the same totals.
	if totals, _ := cs.ForecastTotals(ctx, from, to); totals[key] != 7 {
		t.Errorf("expected cached 7, got %d", totals[key])
	}

	if err := cs.InsertForecasts(ctx, []model.DemandForecast{row("2024-01-03", 5)}); err != nil {
		t.Fatal(err)
	}
	if totals, _ := cs.ForecastTotals(ctx, from, to); totals[key] != 12 {
		t.Errorf("expected 12 after insert, got %d", totals[key])
	}

	if err := cs.DeleteAllForecasts(ctx); err != nil {
		t.Fatal(err)
	}
	if totals, _ := cs.ForecastTotals(ctx, from, to); len(totals) != 0 {
		t.Errorf("expected no totals after delete, got %v", totals)
	}
}

func TestCachedStore_CreateProductInvalidatesProducts(t *testing.T) {
	cs, _, _ := cached(t)
	ctx := context.Background()

	if products, _ := cs.ListProducts(ctx); len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := model.Product{ID: "P2", Name: "Gadget", Category: "tools", ValueClass: model.ClassC}
	pos := []model.InventoryPosition{{StoreID: "S1", ProductID: "P2", SafetyStock: 10}}
	if err := cs.CreateProduct(ctx, p, pos, nil); err != nil {
		t.Fatal(err)
	}
	if products, _ := cs.ListProducts(ctx); len(products) != 2 {
		t.Errorf("expected 2 products after create, got %d", len(products))
	}
	if err := cs.CreateProduct(ctx, p, nil, nil); !errors.Is(err, store.ErrProductExists) {
		t.Errorf("expected ErrProductExists, got %v", err)
	}
}
