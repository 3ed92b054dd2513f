package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/penalty"
	"github.com/retaildss/rebalance-engine/internal/store"
)

// MaxVehicleCapacity bounds a per-request capacity override.
const MaxVehicleCapacity = 10000

// ErrInvalidCapacity is returned for a capacity outside 1..MaxVehicleCapacity.
var ErrInvalidCapacity = errors.New("matcher: vehicle capacity out of range")

// Service loads a network snapshot and runs Match against it.
type Service struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a matching service with default run options.
func NewService(s store.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, opts: opts.withDefaults(), logger: logger, now: time.Now}
}

// SetClock overrides the time source of the demand window.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Recommend produces recommendations for the current network state. A
// vehicleCapacity of 0 uses the configured default.
func (s *Service) Recommend(ctx context.Context, vehicleCapacity int) ([]model.TransferRecommendation, error) {
	if vehicleCapacity < 0 || vehicleCapacity > MaxVehicleCapacity {
		return nil, fmt.Errorf("%d: %w", vehicleCapacity, ErrInvalidCapacity)
	}
	opts := s.opts
	if vehicleCapacity > 0 {
		opts.VehicleCapacity = vehicleCapacity
	}

	snap, err := s.snapshot(ctx, opts.DemandWindowDays)
	if err != nil {
		return nil, err
	}
	penalties, err := penalty.Load(ctx, s.store)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	recs := Match(snap, penalties, opts)
	s.logger.Info("transfer recommendations generated",
		"recommendations", len(recs),
		"positions", len(snap.Inventory),
		"vehicle_capacity", opts.VehicleCapacity,
		"duration", time.Since(start))
	return recs, nil
}

func (s *Service) snapshot(ctx context.Context, windowDays int) (Snapshot, error) {
	stores, err := s.store.ListStores(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list stores: %w", err)
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list products: %w", err)
	}
	inventory, err := s.store.ListInventory(ctx, "")
	if err != nil {
		return Snapshot{}, fmt.Errorf("list inventory: %w", err)
	}

	from := model.Day(s.now())
	to := from.AddDate(0, 0, windowDays-1)
	demand, err := s.store.ForecastTotals(ctx, from, to)
	if err != nil {
		return Snapshot{}, fmt.Errorf("forecast totals: %w", err)
	}

	return Snapshot{Stores: stores, Products: products, Inventory: inventory, Demand: demand}, nil
}
