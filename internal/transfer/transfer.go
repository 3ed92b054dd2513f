// Package transfer executes approved stock transfers and simulates their
// effect before approval.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/store"
)

// DefaultTargetSafetyStock is the safety stock of a position created by a
// transfer into a store that never held the product.
const DefaultTargetSafetyStock = 10

var (
	// ErrInvalidAmount is returned for a non-positive transfer amount.
	ErrInvalidAmount = errors.New("transfer: amount must be positive")

	// ErrSameStore is returned when source and target coincide.
	ErrSameStore = errors.New("transfer: source and target must differ")

	// ErrStoreNotFound is returned when either store is unknown.
	ErrStoreNotFound = errors.New("transfer: store not found")

	// ErrPositionNotFound is returned when the source holds no position.
	ErrPositionNotFound = errors.New("transfer: source inventory position not found")

	// ErrProductNotFound is returned by WhatIf for unknown products.
	ErrProductNotFound = errors.New("transfer: product not found")

	// ErrInsufficientStock is returned when the source holds less than the amount.
	ErrInsufficientStock = errors.New("transfer: insufficient stock at source")

	// ErrStaleVersion is returned when the source position changed after
	// the recommendation was produced.
	ErrStaleVersion = errors.New("transfer: source position changed since recommendation")
)

// revenueShare is the fraction of sale value counted as recoverable revenue.
var revenueShare = decimal.NewFromFloat(0.7)

// Request describes a transfer to execute.
type Request struct {
	SourceStoreID string
	TargetStoreID string
	ProductID     string
	Amount        int
	// ExpectedVersion, when set, must match the source position version.
	ExpectedVersion *int64
}

// Executor applies transfers against a Store.
type Executor struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor. A nil logger uses slog.Default().
func NewExecutor(s store.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: s, logger: logger, now: time.Now}
}

// Execute validates the request and moves the stock atomically.
func (e *Executor) Execute(ctx context.Context, req Request) (*model.Transfer, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.SourceStoreID == req.TargetStoreID {
		return nil, ErrSameStore
	}
	if err := e.requireStores(ctx, req.SourceStoreID, req.TargetStoreID); err != nil {
		return nil, err
	}

	src, err := e.store.GetInventoryPosition(ctx, req.SourceStoreID, req.ProductID)
	if err != nil {
		return nil, mapNotFound(err, ErrPositionNotFound)
	}
	if src.Quantity < req.Amount {
		return nil, fmt.Errorf("%s holds %d of %s, need %d: %w",
			req.SourceStoreID, src.Quantity, req.ProductID, req.Amount, ErrInsufficientStock)
	}

	t := &model.Transfer{
		ID:            uuid.New().String(),
		SourceStoreID: req.SourceStoreID,
		TargetStoreID: req.TargetStoreID,
		ProductID:     req.ProductID,
		Amount:        req.Amount,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.store.ApplyTransfer(ctx, t, req.ExpectedVersion, DefaultTargetSafetyStock); err != nil {
		switch {
		case errors.Is(err, store.ErrStaleVersion):
			return nil, fmt.Errorf("%w: %v", ErrStaleVersion, err)
		case errors.Is(err, store.ErrInsufficientStock):
			return nil, fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: %v", ErrPositionNotFound, err)
		default:
			return nil, fmt.Errorf("apply transfer: %w", err)
		}
	}

	e.logger.Info("transfer executed",
		"id", t.ID, "source", t.SourceStoreID, "target", t.TargetStoreID,
		"product", t.ProductID, "amount", t.Amount)
	return t, nil
}

// Verdict is the what-if recommendation.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
)

// StockRisk is the projected risk of the source after a transfer.
type StockRisk string

const (
	StockRiskHigh StockRisk = "HIGH"
	StockRiskLow  StockRisk = "LOW"
)

// SideProjection is one store's stock before and after a transfer.
type SideProjection struct {
	StoreID     string `json:"store_id"`
	Before      int    `json:"before"`
	After       int    `json:"after"`
	SafetyStock int    `json:"safety_stock"`
}

// Simulation is the result of WhatIf.
type Simulation struct {
	ProductID        string          `json:"product_id"`
	Amount           int             `json:"amount"`
	Source           SideProjection  `json:"source"`
	Target           SideProjection  `json:"target"`
	SourceRisk       StockRisk       `json:"source_risk"`
	PotentialRevenue decimal.Decimal `json:"potential_revenue"`
	Verdict          Verdict         `json:"verdict"`
}

// WhatIf projects a transfer without changing any state. The source must
// keep strictly more than its safety stock for the verdict to be APPROVE.
func (e *Executor) WhatIf(ctx context.Context, sourceID, targetID, productID string, amount int) (Simulation, error) {
	if amount <= 0 {
		return Simulation{}, ErrInvalidAmount
	}
	if err := e.requireStores(ctx, sourceID, targetID); err != nil {
		return Simulation{}, err
	}
	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return Simulation{}, mapNotFound(err, ErrProductNotFound)
	}
	src, err := e.store.GetInventoryPosition(ctx, sourceID, productID)
	if err != nil {
		return Simulation{}, mapNotFound(err, ErrPositionNotFound)
	}

	dst := model.InventoryPosition{StoreID: targetID, ProductID: productID, SafetyStock: DefaultTargetSafetyStock}
	if p, err := e.store.GetInventoryPosition(ctx, targetID, productID); err == nil {
		dst = *p
	} else if !errors.Is(err, store.ErrNotFound) {
		return Simulation{}, err
	}

	sim := Simulation{
		ProductID: productID,
		Amount:    amount,
		Source: SideProjection{
			StoreID: sourceID, Before: src.Quantity, After: src.Quantity - amount, SafetyStock: src.SafetyStock,
		},
		Target: SideProjection{
			StoreID: targetID, Before: dst.Quantity, After: dst.Quantity + amount, SafetyStock: dst.SafetyStock,
		},
		SourceRisk:       StockRiskLow,
		PotentialRevenue: decimal.NewFromInt(int64(amount)).Mul(product.UnitPrice).Mul(revenueShare).Round(2),
		Verdict:          VerdictReject,
	}
	if sim.Source.After < src.SafetyStock {
		sim.SourceRisk = StockRiskHigh
	}
	if sim.Source.After > src.SafetyStock {
		sim.Verdict = VerdictApprove
	}
	return sim, nil
}

func (e *Executor) requireStores(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := e.store.GetStore(ctx, id); err != nil {
			return mapNotFound(err, ErrStoreNotFound)
		}
	}
	return nil
}

func mapNotFound(err, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}
