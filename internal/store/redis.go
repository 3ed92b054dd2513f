package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Cached: stores, products, route penalties and forecast totals. Inventory
// and sales always come from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) ApplyTransfer(ctx context.Context, t *model.Transfer, expectedVersion *int64, defaultSafety int) error {
	return s.primary.ApplyTransfer(ctx, t, expectedVersion, defaultSafety)
}

func (s *CachedStore) DeleteAllForecasts(ctx context.Context) error {
	if err := s.primary.DeleteAllForecasts(ctx); err != nil {
		return err
	}
	s.invalidateForecastTotals(ctx)
	return nil
}

func (s *CachedStore) InsertForecasts(ctx context.Context, rows []model.DemandForecast) error {
	if err := s.primary.InsertForecasts(ctx, rows); err != nil {
		return err
	}
	s.invalidateForecastTotals(ctx)
	return nil
}

func (s *CachedStore) CreateProduct(ctx context.Context, p model.Product, positions []model.InventoryPosition, forecasts []model.DemandForecast) error {
	if err := s.primary.CreateProduct(ctx, p, positions, forecasts); err != nil {
		return err
	}
	s.rdb.Del(ctx, productsKey, productKey(p.ID))
	if len(forecasts) > 0 {
		s.invalidateForecastTotals(ctx)
	}
	return nil
}

func (s *CachedStore) RecordRejection(ctx context.Context, r *model.TransferRejection, increment float64) (float64, error) {
	score, err := s.primary.RecordRejection(ctx, r, increment)
	if err != nil {
		return 0, err
	}
	// Invalidate; next matching run re-reads the table.
	s.rdb.Del(ctx, penaltiesKey)
	return score, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListStores(ctx context.Context) ([]model.Store, error) {
	var stores []model.Store
	if s.load(ctx, storesKey, &stores) {
		return stores, nil
	}

	stores, err := s.primary.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, storesKey, stores)
	return stores, nil
}

func (s *CachedStore) GetStore(ctx context.Context, id string) (*model.Store, error) {
	var st model.Store
	if s.load(ctx, storeKey(id), &st) {
		return &st, nil
	}

	m, err := s.primary.GetStore(ctx, id)
	if err != nil {
		return nil, err
	}
	s.save(ctx, storeKey(id), m)
	return m, nil
}

func (s *CachedStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if s.load(ctx, productsKey, &products) {
		return products, nil
	}

	products, err := s.primary.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, productsKey, products)
	return products, nil
}

func (s *CachedStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	if s.load(ctx, productKey(id), &p) {
		return &p, nil
	}

	m, err := s.primary.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	s.save(ctx, productKey(id), m)
	return m, nil
}

func (s *CachedStore) ListRoutePenalties(ctx context.Context) ([]model.RoutePenalty, error) {
	var penalties []model.RoutePenalty
	if s.load(ctx, penaltiesKey, &penalties) {
		return penalties, nil
	}

	penalties, err := s.primary.ListRoutePenalties(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, penaltiesKey, penalties)
	return penalties, nil
}

// ForecastTotals caches per window. JSON object keys must be strings, so the
// map is stored as a slice of entries.
func (s *CachedStore) ForecastTotals(ctx context.Context, from, to time.Time) (map[model.PositionKey]int, error) {
	key := forecastTotalsKey(from, to)

	var entries []forecastTotal
	if s.load(ctx, key, &entries) {
		totals := make(map[model.PositionKey]int, len(entries))
		for _, e := range entries {
			totals[model.PositionKey{StoreID: e.StoreID, ProductID: e.ProductID}] = e.Total
		}
		return totals, nil
	}

	totals, err := s.primary.ForecastTotals(ctx, from, to)
	if err != nil {
		return nil, err
	}

	entries = make([]forecastTotal, 0, len(totals))
	for k, v := range totals {
		entries = append(entries, forecastTotal{StoreID: k.StoreID, ProductID: k.ProductID, Total: v})
	}
	if s.save(ctx, key, entries) {
		s.rdb.SAdd(ctx, forecastTotalsIndexKey, key)
	}
	return totals, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListInventory(ctx context.Context, storeID string) ([]model.InventoryPosition, error) {
	return s.primary.ListInventory(ctx, storeID)
}

func (s *CachedStore) GetInventoryPosition(ctx context.Context, storeID, productID string) (*model.InventoryPosition, error) {
	return s.primary.GetInventoryPosition(ctx, storeID, productID)
}

func (s *CachedStore) InventoryStats(ctx context.Context, storeID string) (model.InventoryStats, error) {
	return s.primary.InventoryStats(ctx, storeID)
}

func (s *CachedStore) AllInventoryStats(ctx context.Context) (map[string]model.InventoryStats, error) {
	return s.primary.AllInventoryStats(ctx)
}

func (s *CachedStore) SalesHistory(ctx context.Context, storeID, productID string) ([]model.SalesRecord, error) {
	return s.primary.SalesHistory(ctx, storeID, productID)
}

func (s *CachedStore) ProductSales(ctx context.Context, productID string) ([]model.SalesRecord, error) {
	return s.primary.ProductSales(ctx, productID)
}

func (s *CachedStore) CountProductSales(ctx context.Context, productID string) (int, error) {
	return s.primary.CountProductSales(ctx, productID)
}

func (s *CachedStore) ListForecasts(ctx context.Context, storeID, productID string) ([]model.DemandForecast, error) {
	return s.primary.ListForecasts(ctx, storeID, productID)
}

// --- Cache helpers ---

type forecastTotal struct {
	StoreID   string `json:"s"`
	ProductID string `json:"p"`
	Total     int    `json:"t"`
}

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) save(ctx context.Context, key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.rdb.Set(ctx, key, data, s.ttl).Err() == nil
}

func (s *CachedStore) invalidateForecastTotals(ctx context.Context) {
	keys, err := s.rdb.SMembers(ctx, forecastTotalsIndexKey).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	s.rdb.Del(ctx, append(keys, forecastTotalsIndexKey)...)
}

const (
	storesKey              = "rebalance:stores"
	productsKey            = "rebalance:products"
	penaltiesKey           = "rebalance:route_penalties"
	forecastTotalsIndexKey = "rebalance:forecast_totals"
)

func storeKey(id string) string   { return fmt.Sprintf("rebalance:store:%s", id) }
func productKey(id string) string { return fmt.Sprintf("rebalance:product:%s", id) }

func forecastTotalsKey(from, to time.Time) string {
	return fmt.Sprintf("rebalance:forecast_totals:%s:%s",
		model.Day(from).Format(time.DateOnly), model.Day(to).Format(time.DateOnly))
}
