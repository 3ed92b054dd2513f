package matcher

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// ExplanationType marks recommendations raised ahead of a stock-out.
const ExplanationType = "PROACTIVE"

// costPerKm is the logistics cost estimate per kilometre.
var costPerKm = decimal.NewFromFloat(4.5)

// RiskReduction is the share of window demand a transfer covers, capped at
// 100. Zero demand counts as a full reduction.
func RiskReduction(amount, demand int) int {
	if demand <= 0 {
		return 100
	}
	pct := int(math.RoundToEven(float64(amount) / float64(demand) * 100))
	return min(100, pct)
}

// LogisticsCost estimates the cost of a transfer over dist kilometres,
// rounded to whole currency units.
func LogisticsCost(dist float64) decimal.Decimal {
	return decimal.NewFromFloat(dist).Mul(costPerKm).Round(0)
}

func explain(r receiver, source model.Store, amount int, score, dist float64, windowDays int) model.Explanation {
	reduction := RiskReduction(amount, r.demand)
	cost := LogisticsCost(dist)

	reasons := []string{
		fmt.Sprintf("Risk analysis: stock-out risk reduced by %d%%.", reduction),
		fmt.Sprintf("Demand forecast: %d units needed over the next %d days.", r.demand, windowDays),
	}
	if source.Tier == model.TierRegionalHub {
		reasons = append(reasons, "Logistics strategy: the regional hub was used as the most efficient source.")
	} else {
		reasons = append(reasons, fmt.Sprintf("Logistics strategy: nearest well-stocked location (%s) selected.", source.Name))
	}
	if r.product.ValueClass.Normalize() == model.ClassA {
		reasons = append(reasons, "Financial impact: class A (high revenue) product prioritized.")
	}
	reasons = append(reasons, fmt.Sprintf("Logistics cost: %s (distance %.1f km).", cost.StringFixed(0), dist))

	return model.Explanation{
		Summary:       fmt.Sprintf("Stock-out risk reduced %d%% | cost %s", reduction, cost.StringFixed(0)),
		Reasons:       reasons,
		Score:         int(math.RoundToEven(math.Max(0, score))),
		Type:          ExplanationType,
		RiskReduction: reduction,
		EstimatedCost: cost,
	}
}
