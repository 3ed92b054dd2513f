package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	stores     map[string]*model.Store
	products   map[string]*model.Product
	inventory  map[model.PositionKey]*model.InventoryPosition
	sales      []model.SalesRecord
	forecasts  []model.DemandForecast
	penalties  map[model.RouteKey]*model.RoutePenalty
	rejections []model.TransferRejection
	transfers  []model.Transfer
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stores:    make(map[string]*model.Store),
		products:  make(map[string]*model.Product),
		inventory: make(map[model.PositionKey]*model.InventoryPosition),
		penalties: make(map[model.RouteKey]*model.RoutePenalty),
	}
}

// --- Seeding helpers (not part of Store) ---

// PutStore inserts or replaces a store.
func (s *MemoryStore) PutStore(st model.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[st.ID] = &st
}

// PutProduct inserts or replaces a product.
func (s *MemoryStore) PutProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutInventory inserts or replaces an inventory position.
func (s *MemoryStore) PutInventory(p model.InventoryPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[p.Key()] = &p
}

// AddSales appends sales records.
func (s *MemoryStore) AddSales(records ...model.SalesRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Date = model.Day(r.Date)
		s.sales = append(s.sales, r)
	}
}

// SetRoutePenalty overwrites the score of a route.
func (s *MemoryStore) SetRoutePenalty(sourceID, targetID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.RouteKey{SourceStoreID: sourceID, TargetStoreID: targetID}
	s.penalties[key] = &model.RoutePenalty{
		SourceStoreID: sourceID,
		TargetStoreID: targetID,
		Score:         score,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Rejections returns a copy of the rejection log.
func (s *MemoryStore) Rejections() []model.TransferRejection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TransferRejection(nil), s.rejections...)
}

// Transfers returns a copy of the executed transfer log.
func (s *MemoryStore) Transfers() []model.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Transfer(nil), s.transfers...)
}

// --- Network master data ---

func (s *MemoryStore) ListStores(_ context.Context) ([]model.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := make([]model.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, *st)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].ID < stores[j].ID })
	return stores, nil
}

func (s *MemoryStore) GetStore(_ context.Context, id string) (*model.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return nil, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p model.Product, positions []model.InventoryPosition, forecasts []model.DemandForecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("create product %s: %w", p.ID, ErrProductExists)
	}
	s.products[p.ID] = &p
	for _, pos := range positions {
		pos := pos
		s.inventory[pos.Key()] = &pos
	}
	for _, f := range forecasts {
		f.Date = model.Day(f.Date)
		s.forecasts = append(s.forecasts, f)
	}
	return nil
}

// --- Inventory snapshot ---

func (s *MemoryStore) ListInventory(_ context.Context, storeID string) ([]model.InventoryPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.InventoryPosition
	for _, p := range s.inventory {
		if storeID == "" || p.StoreID == storeID {
			positions = append(positions, *p)
		}
	}
	sortPositions(positions)
	return positions, nil
}

func (s *MemoryStore) GetInventoryPosition(_ context.Context, storeID, productID string) (*model.InventoryPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.inventory[model.PositionKey{StoreID: storeID, ProductID: productID}]
	if !ok {
		return nil, fmt.Errorf("inventory %s/%s: %w", storeID, productID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) InventoryStats(_ context.Context, storeID string) (model.InventoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.InventoryStats{StoreID: storeID}
	for _, p := range s.inventory {
		if p.StoreID == storeID {
			stats.Add(*p)
		}
	}
	return stats, nil
}

func (s *MemoryStore) AllInventoryStats(_ context.Context) (map[string]model.InventoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]model.InventoryStats)
	for _, p := range s.inventory {
		stats := result[p.StoreID]
		stats.StoreID = p.StoreID
		stats.Add(*p)
		result[p.StoreID] = stats
	}
	return result, nil
}

// ApplyTransfer checks and mutates both positions under a single write lock.
func (s *MemoryStore) ApplyTransfer(_ context.Context, t *model.Transfer, expectedVersion *int64, defaultSafety int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcKey := model.PositionKey{StoreID: t.SourceStoreID, ProductID: t.ProductID}
	src, ok := s.inventory[srcKey]
	if !ok {
		return fmt.Errorf("inventory %s/%s: %w", t.SourceStoreID, t.ProductID, ErrNotFound)
	}
	if expectedVersion != nil && src.Version != *expectedVersion {
		return fmt.Errorf("inventory %s/%s at version %d, expected %d: %w",
			t.SourceStoreID, t.ProductID, src.Version, *expectedVersion, ErrStaleVersion)
	}
	if src.Quantity < t.Amount {
		return fmt.Errorf("inventory %s/%s holds %d, need %d: %w",
			t.SourceStoreID, t.ProductID, src.Quantity, t.Amount, ErrInsufficientStock)
	}

	dstKey := model.PositionKey{StoreID: t.TargetStoreID, ProductID: t.ProductID}
	dst, ok := s.inventory[dstKey]
	if !ok {
		dst = &model.InventoryPosition{
			StoreID:     t.TargetStoreID,
			ProductID:   t.ProductID,
			SafetyStock: defaultSafety,
		}
		s.inventory[dstKey] = dst
	}

	src.Quantity -= t.Amount
	src.Version++
	dst.Quantity += t.Amount
	dst.Version++

	s.transfers = append(s.transfers, *t)
	return nil
}

// --- Sales history ---

func (s *MemoryStore) SalesHistory(_ context.Context, storeID, productID string) ([]model.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SalesRecord
	for _, r := range s.sales {
		if r.StoreID == storeID && r.ProductID == productID {
			result = append(result, r)
		}
	}
	sortSales(result)
	return result, nil
}

func (s *MemoryStore) ProductSales(_ context.Context, productID string) ([]model.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SalesRecord
	for _, r := range s.sales {
		if r.ProductID == productID {
			result = append(result, r)
		}
	}
	sortSales(result)
	return result, nil
}

func (s *MemoryStore) CountProductSales(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.sales {
		if r.ProductID == productID {
			n++
		}
	}
	return n, nil
}

// --- Forecasts ---

func (s *MemoryStore) DeleteAllForecasts(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts = nil
	return nil
}

func (s *MemoryStore) InsertForecasts(_ context.Context, rows []model.DemandForecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range rows {
		f.Date = model.Day(f.Date)
		s.forecasts = append(s.forecasts, f)
	}
	return nil
}

func (s *MemoryStore) ListForecasts(_ context.Context, storeID, productID string) ([]model.DemandForecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DemandForecast
	for _, f := range s.forecasts {
		if (storeID == "" || f.StoreID == storeID) && (productID == "" || f.ProductID == productID) {
			result = append(result, f)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (s *MemoryStore) ForecastTotals(_ context.Context, from, to time.Time) (map[model.PositionKey]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = model.Day(from), model.Day(to)
	totals := make(map[model.PositionKey]int)
	for _, f := range s.forecasts {
		if f.Date.Before(from) || f.Date.After(to) {
			continue
		}
		totals[model.PositionKey{StoreID: f.StoreID, ProductID: f.ProductID}] += f.PredictedQuantity
	}
	return totals, nil
}

// --- Feedback ---

func (s *MemoryStore) ListRoutePenalties(_ context.Context) ([]model.RoutePenalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	penalties := make([]model.RoutePenalty, 0, len(s.penalties))
	for _, p := range s.penalties {
		penalties = append(penalties, *p)
	}
	return penalties, nil
}

func (s *MemoryStore) RecordRejection(_ context.Context, r *model.TransferRejection, increment float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejections = append(s.rejections, *r)

	key := model.RouteKey{SourceStoreID: r.SourceStoreID, TargetStoreID: r.TargetStoreID}
	p, ok := s.penalties[key]
	if !ok {
		p = &model.RoutePenalty{SourceStoreID: r.SourceStoreID, TargetStoreID: r.TargetStoreID}
		s.penalties[key] = p
	}
	p.Score += increment
	p.UpdatedAt = r.CreatedAt
	return p.Score, nil
}

func sortPositions(positions []model.InventoryPosition) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].StoreID != positions[j].StoreID {
			return positions[i].StoreID < positions[j].StoreID
		}
		return positions[i].ProductID < positions[j].ProductID
	})
}

func sortSales(records []model.SalesRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
}
