package model

import "fmt"

// StoreTier is the logistics tier of a store.
type StoreTier string

const (
	TierDistributionCenter StoreTier = "DISTRIBUTION_CENTER"
	TierRegionalHub        StoreTier = "REGIONAL_HUB"
	TierRetailStore        StoreTier = "RETAIL_STORE"
)

// DefaultTierOrder is the giver search order of the matcher.
var DefaultTierOrder = []StoreTier{TierRegionalHub, TierDistributionCenter, TierRetailStore}

// ParseStoreTier validates a tier string.
func ParseStoreTier(s string) (StoreTier, error) {
	switch t := StoreTier(s); t {
	case TierDistributionCenter, TierRegionalHub, TierRetailStore:
		return t, nil
	default:
		return "", fmt.Errorf("model: unknown store tier %q", s)
	}
}

// ValueClass is the ABC revenue class of a product.
type ValueClass string

const (
	ClassA ValueClass = "A"
	ClassB ValueClass = "B"
	ClassC ValueClass = "C"
)

// Normalize maps unset or unknown classes to C.
func (c ValueClass) Normalize() ValueClass {
	switch c {
	case ClassA, ClassB, ClassC:
		return c
	default:
		return ClassC
	}
}

// RiskTier is the stock risk classification of a store.
type RiskTier string

const (
	RiskHigh      RiskTier = "HIGH_RISK"
	RiskOverstock RiskTier = "OVERSTOCK"
	RiskLow       RiskTier = "LOW_RISK"
	RiskUnknown   RiskTier = "UNKNOWN"
)

// Color is the dashboard color of the tier.
func (r RiskTier) Color() string {
	switch r {
	case RiskHigh:
		return "red"
	case RiskOverstock:
		return "yellow"
	case RiskLow:
		return "green"
	case RiskUnknown:
		return "gray"
	default:
		return "gray"
	}
}

// RejectionReason is why a planner rejected a recommendation.
type RejectionReason string

const (
	ReasonCost     RejectionReason = "COST"
	ReasonOps      RejectionReason = "OPS"
	ReasonStrategy RejectionReason = "STRATEGY"
)

// ForecastModel names the path that produced a forecast row.
type ForecastModel string

const (
	ModelLinearTrend       ForecastModel = "linear_trend"
	ModelStoreProxy        ForecastModel = "store_proxy"
	ModelProductSimilarity ForecastModel = "product_similarity"
	ModelReferenceProduct  ForecastModel = "reference_product"
)

// ColdStartStatus reports whether a product has enough history.
type ColdStartStatus string

const (
	StatusEstablished ColdStartStatus = "established"
	StatusColdStart   ColdStartStatus = "cold_start"
)
