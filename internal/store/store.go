// Package store defines the persistence interface for the rebalancing engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and local development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/retaildss/rebalance-engine/internal/model"
)

var (
	// ErrNotFound is returned when a store, product or position is missing.
	ErrNotFound = errors.New("store: not found")

	// ErrProductExists is returned by CreateProduct for a duplicate ID.
	ErrProductExists = errors.New("store: product already exists")

	// ErrStaleVersion is returned by ApplyTransfer when the source position
	// changed since the caller read it.
	ErrStaleVersion = errors.New("store: inventory position version changed")

	// ErrInsufficientStock is returned by ApplyTransfer when the source
	// position no longer holds the requested amount.
	ErrInsufficientStock = errors.New("store: insufficient stock at source")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Network master data ---

	// ListStores returns all stores ordered by ID.
	ListStores(ctx context.Context) ([]model.Store, error)

	// GetStore retrieves a store by its ID.
	GetStore(ctx context.Context, id string) (*model.Store, error)

	// ListProducts returns all products ordered by ID.
	ListProducts(ctx context.Context) ([]model.Product, error)

	// GetProduct retrieves a product by its ID.
	GetProduct(ctx context.Context, id string) (*model.Product, error)

	// CreateProduct inserts a new product together with its opening
	// inventory positions and seed forecasts in a single unit of work.
	CreateProduct(ctx context.Context, p model.Product, positions []model.InventoryPosition, forecasts []model.DemandForecast) error

	// --- Inventory snapshot ---

	// ListInventory returns positions ordered by (store, product). An empty
	// storeID returns the whole network.
	ListInventory(ctx context.Context, storeID string) ([]model.InventoryPosition, error)

	// GetInventoryPosition retrieves one (store, product) position.
	GetInventoryPosition(ctx context.Context, storeID, productID string) (*model.InventoryPosition, error)

	// InventoryStats aggregates the positions of one store.
	InventoryStats(ctx context.Context, storeID string) (model.InventoryStats, error)

	// AllInventoryStats aggregates every store holding positions in one pass.
	AllInventoryStats(ctx context.Context) (map[string]model.InventoryStats, error)

	// ApplyTransfer moves stock between two positions atomically. The source
	// position must still carry expectedVersion (when non-nil) and hold at
	// least t.Amount units. A missing target position is created with the
	// given default safety stock.
	ApplyTransfer(ctx context.Context, t *model.Transfer, expectedVersion *int64, defaultSafety int) error

	// --- Sales history (append-only) ---

	// SalesHistory returns the sales of one pair ordered by date.
	SalesHistory(ctx context.Context, storeID, productID string) ([]model.SalesRecord, error)

	// ProductSales returns network-wide sales of a product ordered by date.
	ProductSales(ctx context.Context, productID string) ([]model.SalesRecord, error)

	// CountProductSales counts sales records of a product across the network.
	CountProductSales(ctx context.Context, productID string) (int, error)

	// --- Forecasts (bulk regenerated) ---

	// DeleteAllForecasts clears the forecast table.
	DeleteAllForecasts(ctx context.Context) error

	// InsertForecasts appends one batch of forecast rows atomically.
	InsertForecasts(ctx context.Context, rows []model.DemandForecast) error

	// ListForecasts returns forecast rows ordered by date. Empty IDs match all.
	ListForecasts(ctx context.Context, storeID, productID string) ([]model.DemandForecast, error)

	// ForecastTotals sums predicted demand per pair for dates in [from, to].
	ForecastTotals(ctx context.Context, from, to time.Time) (map[model.PositionKey]int, error)

	// --- Feedback ---

	// ListRoutePenalties returns the whole penalty table.
	ListRoutePenalties(ctx context.Context) ([]model.RoutePenalty, error)

	// RecordRejection appends the rejection and adds increment to the route
	// penalty in a single unit of work, returning the new cumulative score.
	RecordRejection(ctx context.Context, r *model.TransferRejection, increment float64) (float64, error)
}
