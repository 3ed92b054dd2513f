// Package risk classifies stores by the share of their inventory positions
// that are below safety stock or heavily overstocked.
package risk

import (
	"context"
	"log/slog"

	"github.com/retaildss/rebalance-engine/internal/model"
)

const (
	// HighRiskRatio is the share of under-safety positions above which a
	// store is HIGH_RISK.
	HighRiskRatio = 0.20

	// OverstockRatio is the share of positions above 3x safety stock above
	// which a store is OVERSTOCK.
	OverstockRatio = 0.40
)

// Classify applies the risk rule to aggregated stats. Rules are evaluated in
// order; a store with no positions is UNKNOWN.
func Classify(stats model.InventoryStats) model.RiskTier {
	if stats.TotalItems == 0 {
		return model.RiskUnknown
	}
	total := float64(stats.TotalItems)
	switch {
	case float64(stats.HighRiskItems)/total > HighRiskRatio:
		return model.RiskHigh
	case float64(stats.OverstockItems)/total > OverstockRatio:
		return model.RiskOverstock
	default:
		return model.RiskLow
	}
}

// StatsSource is the slice of the store the classifier reads.
type StatsSource interface {
	InventoryStats(ctx context.Context, storeID string) (model.InventoryStats, error)
	AllInventoryStats(ctx context.Context) (map[string]model.InventoryStats, error)
}

// ReportEntry is one row of the network risk report.
type ReportEntry struct {
	StoreID     string          `json:"store_id"`
	Name        string          `json:"name"`
	Tier        model.StoreTier `json:"tier"`
	Stock       int             `json:"stock"`
	SafetyStock int             `json:"safety_stock"`
	Status      model.RiskTier  `json:"status"`
	Color       string          `json:"color"`
}

// Classifier classifies stores against a stats source. Aggregation failures
// never propagate; they are logged and reported as UNKNOWN.
type Classifier struct {
	src    StatsSource
	logger *slog.Logger
}

// NewClassifier creates a classifier. A nil logger uses slog.Default().
func NewClassifier(src StatsSource, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{src: src, logger: logger}
}

// ClassifyStore classifies a single store.
func (c *Classifier) ClassifyStore(ctx context.Context, storeID string) model.RiskTier {
	stats, err := c.src.InventoryStats(ctx, storeID)
	if err != nil {
		c.logger.Error("inventory aggregation failed", "store", storeID, "err", err)
		return model.RiskUnknown
	}
	return Classify(stats)
}

// BuildReport classifies every given store using one bulk aggregation. Stores
// without positions report zero totals and UNKNOWN.
func (c *Classifier) BuildReport(ctx context.Context, stores []model.Store) []ReportEntry {
	all, err := c.src.AllInventoryStats(ctx)
	if err != nil {
		c.logger.Error("bulk inventory aggregation failed", "err", err)
		all = nil
	}

	report := make([]ReportEntry, 0, len(stores))
	for _, st := range stores {
		stats := all[st.ID]
		status := Classify(stats)
		report = append(report, ReportEntry{
			StoreID:     st.ID,
			Name:        st.Name,
			Tier:        st.Tier,
			Stock:       stats.TotalStock,
			SafetyStock: stats.TotalSafetyStock,
			Status:      status,
			Color:       status.Color(),
		})
	}
	return report
}
