// Package matcher implements the Robin Hood rebalancing heuristic: stock is
// moved from positions holding more than their forecast need to positions
// holding less, searching giver tiers in a fixed order and scoring
// candidates on urgency, distance and past planner rejections.
//
// Matching is greedy and single-pass; it does not seek a globally optimal
// assignment.
package matcher

import (
	"fmt"
	"math"
	"sort"

	"github.com/retaildss/rebalance-engine/internal/geo"
	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/penalty"
)

const (
	// Algorithm tags every recommendation.
	Algorithm = "Robin Hood v2.2 (Bulk Optimized)"

	// DefaultVehicleCapacity caps a single transfer.
	DefaultVehicleCapacity = 50

	// FirstTransferNumber is the sequence start of TRF-n ids.
	FirstTransferNumber = 100

	urgencyWeight      = 100.0
	distanceWeight     = 0.5
	penaltyWeight      = 5.0
	bulkDistanceFactor = 0.7
	retailReleaseShare = 2
)

// Snapshot is the input of one matching run.
type Snapshot struct {
	Stores    []model.Store
	Products  []model.Product
	Inventory []model.InventoryPosition
	// Demand is the forecast demand per position over the demand window.
	Demand map[model.PositionKey]int
}

// Options tunes a matching run.
type Options struct {
	VehicleCapacity int
	TierOrder       []model.StoreTier
	// DemandWindowDays only labels the explanation text.
	DemandWindowDays int
}

func (o Options) withDefaults() Options {
	if o.VehicleCapacity <= 0 {
		o.VehicleCapacity = DefaultVehicleCapacity
	}
	if len(o.TierOrder) == 0 {
		o.TierOrder = model.DefaultTierOrder
	}
	if o.DemandWindowDays <= 0 {
		o.DemandWindowDays = 7
	}
	return o
}

type receiver struct {
	store    model.Store
	product  model.Product
	shortage int
	urgency  float64
	demand   int
}

type giver struct {
	store model.Store
	key   model.PositionKey
	// version of the position when the snapshot was read
	version int64
}

// Match runs the heuristic and returns recommendations in receiver
// processing order. The penalty map is read, never written.
func Match(snap Snapshot, penalties penalty.Map, opts Options) []model.TransferRecommendation {
	opts = opts.withDefaults()

	stores := make(map[string]model.Store, len(snap.Stores))
	for _, s := range snap.Stores {
		stores[s.ID] = s
	}
	products := make(map[string]model.Product, len(snap.Products))
	for _, p := range snap.Products {
		products[p.ID] = p
	}

	positions := append([]model.InventoryPosition(nil), snap.Inventory...)
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].StoreID != positions[j].StoreID {
			return positions[i].StoreID < positions[j].StoreID
		}
		return positions[i].ProductID < positions[j].ProductID
	})

	ledger := NewLedger()
	var receivers []receiver
	// givers[tier][productID]
	givers := make(map[model.StoreTier]map[string][]giver)

	for _, pos := range positions {
		st, ok := stores[pos.StoreID]
		if !ok {
			continue
		}
		product, ok := products[pos.ProductID]
		if !ok {
			product = model.Product{ID: pos.ProductID, Name: pos.ProductID}
		}
		demand := snap.Demand[pos.Key()]
		need := demand + pos.SafetyStock

		switch {
		case pos.Quantity < need:
			receivers = append(receivers, receiver{
				store:    st,
				product:  product,
				shortage: need - pos.Quantity,
				urgency:  urgency(pos.Quantity, demand),
				demand:   demand,
			})
		case pos.Quantity > need:
			excess := pos.Quantity - need
			if st.Tier == model.TierRetailStore {
				excess /= retailReleaseShare
			}
			if excess <= 0 {
				continue
			}
			ledger.Offer(pos.Key(), excess)
			byProduct := givers[st.Tier]
			if byProduct == nil {
				byProduct = make(map[string][]giver)
				givers[st.Tier] = byProduct
			}
			byProduct[pos.ProductID] = append(byProduct[pos.ProductID], giver{store: st, key: pos.Key(), version: pos.Version})
		}
	}

	sort.SliceStable(receivers, func(i, j int) bool {
		ai := receivers[i].product.ValueClass.Normalize() == model.ClassA
		aj := receivers[j].product.ValueClass.Normalize() == model.ClassA
		if ai != aj {
			return ai
		}
		return receivers[i].urgency > receivers[j].urgency
	})

	var recs []model.TransferRecommendation
	next := FirstTransferNumber
	for _, r := range receivers {
		best, score, dist, found := bestGiver(r, givers, ledger, penalties, opts.TierOrder)
		if !found {
			continue
		}
		amount := min(r.shortage, ledger.Remaining(best.key), opts.VehicleCapacity)
		if amount <= 0 {
			continue
		}
		ledger.Take(best.key, amount)

		recs = append(recs, model.TransferRecommendation{
			TransferID:    fmt.Sprintf("TRF-%d", next),
			Source:        best.store.Ref(),
			Target:        r.store.Ref(),
			ProductID:     r.product.ID,
			ProductName:   r.product.Name,
			Amount:        amount,
			Score:         score,
			DistanceKm:    math.Round(dist*100) / 100,
			SourceVersion: best.version,
			Explanation:   explain(r, best.store, amount, score, dist, opts.DemandWindowDays),
			Algorithm:     Algorithm,
		})
		next++
	}
	return recs
}

// bestGiver searches tiers in order and stops at the first tier holding any
// giver of the product with remaining excess. Within that tier the strictly
// highest score wins, so the earliest giver wins ties.
func bestGiver(
	r receiver,
	givers map[model.StoreTier]map[string][]giver,
	ledger Ledger,
	penalties penalty.Map,
	order []model.StoreTier,
) (best giver, bestScore, bestDist float64, found bool) {
	origin := geo.Point{Lat: r.store.Lat, Lon: r.store.Lon}
	for _, tier := range order {
		bestScore = math.Inf(-1)
		for _, g := range givers[tier][r.product.ID] {
			if ledger.Remaining(g.key) <= 0 {
				continue
			}
			dist := geo.Distance(origin, geo.Point{Lat: g.store.Lat, Lon: g.store.Lon})
			distPenalty := dist
			if tier != model.TierRetailStore {
				distPenalty = dist * bulkDistanceFactor
			}
			score := r.urgency*urgencyWeight -
				distPenalty*distanceWeight -
				penalties.Score(g.store.ID, r.store.ID)*penaltyWeight
			if score > bestScore {
				best, bestScore, bestDist, found = g, score, dist, true
			}
		}
		if found {
			return best, bestScore, bestDist, true
		}
	}
	return giver{}, 0, 0, false
}

// urgency is 1 for an empty shelf, otherwise demand over stock capped at 1.
func urgency(quantity, demand int) float64 {
	if quantity <= 0 {
		return 1
	}
	return math.Min(1, float64(demand)/float64(quantity))
}
