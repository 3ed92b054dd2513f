package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/store"
)

const (
	// LaunchSafetyStock is the safety stock of every position opened by a launch.
	LaunchSafetyStock = 10

	// ReferenceShare scales the reference product's forecasts for a launch.
	ReferenceShare = 0.8
)

var (
	// ErrInvalidLaunch is returned for a launch without name, category or
	// with a negative price.
	ErrInvalidLaunch = errors.New("forecast: invalid product launch")

	// ErrProductExists is returned when the launched product ID is taken.
	ErrProductExists = errors.New("forecast: product already exists")
)

// Launch describes a new product entering the network.
type Launch struct {
	ID                 string
	Name               string
	Category           string
	UnitPrice          decimal.Decimal
	ReferenceProductID string
}

// LaunchResult summarizes what a launch created.
type LaunchResult struct {
	Product         model.Product `json:"product"`
	PositionsOpened int           `json:"positions_opened"`
	SeededForecasts int           `json:"seeded_forecasts"`
}

// LaunchProduct creates a product with a zero-stock position in every store.
// With a reference product, the new product inherits its value class and
// ReferenceShare of its forecasts from today on. Without one it starts as
// class C with no forecasts.
func (f *Forecaster) LaunchProduct(ctx context.Context, l Launch) (LaunchResult, error) {
	l.Name = strings.TrimSpace(l.Name)
	l.Category = strings.TrimSpace(l.Category)
	if l.Name == "" || l.Category == "" {
		return LaunchResult{}, fmt.Errorf("%w: name and category are required", ErrInvalidLaunch)
	}
	if l.UnitPrice.IsNegative() {
		return LaunchResult{}, fmt.Errorf("%w: unit price must not be negative", ErrInvalidLaunch)
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}

	p := model.Product{
		ID:         l.ID,
		Name:       l.Name,
		Category:   l.Category,
		UnitPrice:  l.UnitPrice,
		ValueClass: model.ClassC,
	}

	var seeded []model.DemandForecast
	if l.ReferenceProductID != "" {
		ref, err := f.store.GetProduct(ctx, l.ReferenceProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return LaunchResult{}, fmt.Errorf("reference %s: %w", l.ReferenceProductID, ErrProductNotFound)
			}
			return LaunchResult{}, err
		}
		p.ValueClass = ref.ValueClass.Normalize()

		rows, err := f.store.ListForecasts(ctx, "", ref.ID)
		if err != nil {
			return LaunchResult{}, fmt.Errorf("reference forecasts: %w", err)
		}
		today := model.Day(f.now())
		for _, r := range rows {
			if r.Date.Before(today) {
				continue
			}
			seeded = append(seeded, model.DemandForecast{
				StoreID:           r.StoreID,
				ProductID:         p.ID,
				Date:              r.Date,
				PredictedQuantity: clampRound(float64(r.PredictedQuantity) * ReferenceShare),
				Model:             model.ModelReferenceProduct,
			})
		}
	}

	stores, err := f.store.ListStores(ctx)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("list stores: %w", err)
	}
	positions := make([]model.InventoryPosition, len(stores))
	for i, st := range stores {
		positions[i] = model.InventoryPosition{StoreID: st.ID, ProductID: p.ID, SafetyStock: LaunchSafetyStock}
	}

	if err := f.store.CreateProduct(ctx, p, positions, seeded); err != nil {
		if errors.Is(err, store.ErrProductExists) {
			return LaunchResult{}, fmt.Errorf("%s: %w", p.ID, ErrProductExists)
		}
		return LaunchResult{}, fmt.Errorf("create product: %w", err)
	}

	f.logger.Info("product launched",
		"product", p.ID, "reference", l.ReferenceProductID,
		"positions", len(positions), "forecasts", len(seeded))
	return LaunchResult{Product: p, PositionsOpened: len(positions), SeededForecasts: len(seeded)}, nil
}
