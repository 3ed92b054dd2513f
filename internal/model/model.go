// Package model defines the core domain types shared across the rebalancing
// engine. Monetary values use shopspring/decimal; quantities are whole units.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Store is a node of the retail network: a distribution center, a regional
// hub or a retail store.
type Store struct {
	ID   string    `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
	Tier StoreTier `json:"tier" db:"tier"`
	Lat  float64   `json:"lat" db:"lat"`
	Lon  float64   `json:"lon" db:"lon"`
}

// Ref returns the compact reference embedded in recommendations.
func (s Store) Ref() StoreRef {
	return StoreRef{ID: s.ID, Name: s.Name, Tier: s.Tier}
}

// StoreRef identifies a store inside an output record.
type StoreRef struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Tier StoreTier `json:"tier"`
}

// Product is a sellable item. ValueClass is maintained by an external ABC
// analysis and is read-only here.
type Product struct {
	ID         string          `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	Category   string          `json:"category" db:"category"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	ValueClass ValueClass      `json:"value_class" db:"value_class"`
}

// InventoryPosition is the on-hand stock of one product at one store.
// Version increases by one with every committed transfer touching the row.
type InventoryPosition struct {
	StoreID     string `json:"store_id" db:"store_id"`
	ProductID   string `json:"product_id" db:"product_id"`
	Quantity    int    `json:"quantity" db:"quantity"`
	SafetyStock int    `json:"safety_stock" db:"safety_stock"`
	Version     int64  `json:"version" db:"version"`
}

// Key returns the (store, product) key of the position.
func (p InventoryPosition) Key() PositionKey {
	return PositionKey{StoreID: p.StoreID, ProductID: p.ProductID}
}

// PositionKey identifies a (store, product) pair.
type PositionKey struct {
	StoreID   string
	ProductID string
}

// SalesRecord is an immutable historical sale aggregate for one day.
type SalesRecord struct {
	StoreID   string          `json:"store_id" db:"store_id"`
	ProductID string          `json:"product_id" db:"product_id"`
	Date      time.Time       `json:"date" db:"date"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Revenue   decimal.Decimal `json:"revenue" db:"revenue"`
}

// DemandForecast is one projected day of demand for a (store, product) pair.
type DemandForecast struct {
	StoreID           string        `json:"store_id" db:"store_id"`
	ProductID         string        `json:"product_id" db:"product_id"`
	Date              time.Time     `json:"date" db:"date"`
	PredictedQuantity int           `json:"predicted_quantity" db:"predicted_quantity"`
	Model             ForecastModel `json:"model" db:"model"`
}

// RouteKey identifies a directed source → target route.
type RouteKey struct {
	SourceStoreID string
	TargetStoreID string
}

// RoutePenalty is the accumulated rejection score of a route. Scores only
// ever grow.
type RoutePenalty struct {
	SourceStoreID string    `json:"source_store_id" db:"source_store_id"`
	TargetStoreID string    `json:"target_store_id" db:"target_store_id"`
	Score         float64   `json:"score" db:"penalty_score"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// TransferRejection is an append-only record of a rejected recommendation.
type TransferRejection struct {
	ID            string          `json:"id" db:"id"`
	TransferID    string          `json:"transfer_id,omitempty" db:"transfer_id"`
	SourceStoreID string          `json:"source_store_id" db:"source_store_id"`
	TargetStoreID string          `json:"target_store_id" db:"target_store_id"`
	ProductID     string          `json:"product_id" db:"product_id"`
	Reason        RejectionReason `json:"reason" db:"reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Transfer is an executed stock movement between two stores.
type Transfer struct {
	ID            string    `json:"id" db:"id"`
	SourceStoreID string    `json:"source_store_id" db:"source_store_id"`
	TargetStoreID string    `json:"target_store_id" db:"target_store_id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	Amount        int       `json:"amount" db:"amount"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// InventoryStats is the per-store aggregate the risk classifier works on.
type InventoryStats struct {
	StoreID          string `json:"store_id"`
	TotalItems       int    `json:"total_items"`
	HighRiskItems    int    `json:"high_risk_items"`
	OverstockItems   int    `json:"overstock_items"`
	TotalStock       int    `json:"total_stock"`
	TotalSafetyStock int    `json:"total_safety_stock"`
}

// Add folds one position into the aggregate.
func (s *InventoryStats) Add(p InventoryPosition) {
	s.TotalItems++
	s.TotalStock += p.Quantity
	s.TotalSafetyStock += p.SafetyStock
	if p.Quantity < p.SafetyStock {
		s.HighRiskItems++
	}
	if p.Quantity > 3*p.SafetyStock {
		s.OverstockItems++
	}
}

// TransferRecommendation is the ephemeral output of a matching run.
type TransferRecommendation struct {
	TransferID    string      `json:"transfer_id"`
	Source        StoreRef    `json:"source"`
	Target        StoreRef    `json:"target"`
	ProductID     string      `json:"product_id"`
	ProductName   string      `json:"product"`
	Amount        int         `json:"amount"`
	Score         float64     `json:"score"`
	DistanceKm    float64     `json:"distance_km"`
	SourceVersion int64       `json:"source_version"`
	Explanation   Explanation `json:"xai_explanation"`
	Algorithm     string      `json:"algorithm"`
}

// Explanation is the human-readable justification of a recommendation.
type Explanation struct {
	Summary       string          `json:"summary"`
	Reasons       []string        `json:"reasons"`
	Score         int             `json:"score"`
	Type          string          `json:"type"`
	RiskReduction int             `json:"risk_reduction_pct"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// Day truncates t to midnight UTC. Sales and forecast dates are compared at
// day granularity.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
