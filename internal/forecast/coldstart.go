package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/store"
)

const (
	// EstablishedThreshold is the network-wide sale count above which a
	// product no longer needs a proxy.
	EstablishedThreshold = 10

	// MaxProxies is the number of similar products averaged.
	MaxProxies = 3

	// DemandWindowDays is the trailing window used for a proxy's average
	// daily demand.
	DemandWindowDays = 30

	// SimilarityMethod names the cold-start estimator in reports.
	SimilarityMethod = "k-NN (Similarity Based)"
)

// ProxyProduct is one similar product used to estimate cold-start demand.
type ProxyProduct struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	PriceDiff      decimal.Decimal `json:"price_diff"`
	Similarity     float64         `json:"similarity_score"`
	AvgDailyDemand float64         `json:"avg_daily_demand"`
}

// ColdStartReport is the result of AnalyzeColdStart.
type ColdStartReport struct {
	ProductID       string                `json:"product_id"`
	ProductName     string                `json:"product_name"`
	Status          model.ColdStartStatus `json:"status"`
	SalesCount      int                   `json:"sales_count"`
	Method          string                `json:"method,omitempty"`
	PredictedDemand float64               `json:"predicted_daily_demand"`
	Proxies         []ProxyProduct        `json:"similar_products"`
	Message         string                `json:"message"`
}

// AnalyzeColdStart reports whether a product has enough history and, when it
// does not, estimates daily demand from the closest-priced products of the
// same category.
func (f *Forecaster) AnalyzeColdStart(ctx context.Context, productID string) (ColdStartReport, error) {
	p, err := f.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ColdStartReport{}, fmt.Errorf("%s: %w", productID, ErrProductNotFound)
		}
		return ColdStartReport{}, err
	}

	count, err := f.store.CountProductSales(ctx, productID)
	if err != nil {
		return ColdStartReport{}, fmt.Errorf("count sales: %w", err)
	}

	report := ColdStartReport{
		ProductID:   p.ID,
		ProductName: p.Name,
		SalesCount:  count,
		Proxies:     []ProxyProduct{},
	}
	if count > EstablishedThreshold {
		report.Status = model.StatusEstablished
		report.Message = "product has enough sales history for a trend forecast"
		return report, nil
	}

	products, err := f.store.ListProducts(ctx)
	if err != nil {
		return ColdStartReport{}, fmt.Errorf("list products: %w", err)
	}
	proxies, err := f.similarProducts(ctx, *p, products)
	if err != nil {
		return ColdStartReport{}, err
	}

	report.Status = model.StatusColdStart
	report.Method = SimilarityMethod
	report.Proxies = proxies
	report.PredictedDemand = roundTo(meanDemand(proxies), 1)
	if len(proxies) == 0 {
		report.Message = fmt.Sprintf("no similar products in category %q", p.Category)
	} else {
		report.Message = fmt.Sprintf("demand estimated from %d similar products", len(proxies))
	}
	return report, nil
}

// similarProducts returns up to MaxProxies products of the same category,
// ordered by ascending absolute price difference.
func (f *Forecaster) similarProducts(ctx context.Context, target model.Product, products []model.Product) ([]ProxyProduct, error) {
	var candidates []model.Product
	for _, p := range products {
		if p.ID != target.ID && p.Category == target.Category {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].UnitPrice.Sub(target.UnitPrice).Abs()
		dj := candidates[j].UnitPrice.Sub(target.UnitPrice).Abs()
		return di.LessThan(dj)
	})
	if len(candidates) > MaxProxies {
		candidates = candidates[:MaxProxies]
	}

	proxies := make([]ProxyProduct, 0, len(candidates))
	for _, c := range candidates {
		sales, err := f.store.ProductSales(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("sales of %s: %w", c.ID, err)
		}
		diff := c.UnitPrice.Sub(target.UnitPrice).Abs()
		proxies = append(proxies, ProxyProduct{
			ProductID:      c.ID,
			Name:           c.Name,
			UnitPrice:      c.UnitPrice,
			PriceDiff:      diff,
			Similarity:     similarity(target.UnitPrice, c.UnitPrice),
			AvgDailyDemand: roundTo(avgDailyDemand(sales), 2),
		})
	}
	return proxies, nil
}

// similarity scores closeness in price on a 0..100 scale.
func similarity(a, b decimal.Decimal) float64 {
	hi := decimal.Max(a, b)
	if !hi.IsPositive() {
		return 100
	}
	ratio, _ := a.Sub(b).Abs().Div(hi).Float64()
	return roundTo(100*(1-ratio), 1)
}

// avgDailyDemand is the quantity sold in the DemandWindowDays days ending at
// the latest sale, divided by the window length. Sales must be date-ordered.
func avgDailyDemand(sales []model.SalesRecord) float64 {
	if len(sales) == 0 {
		return 0
	}
	latest := model.Day(sales[len(sales)-1].Date)
	cutoff := latest.AddDate(0, 0, -(DemandWindowDays - 1))
	total := 0
	for _, s := range sales {
		if !model.Day(s.Date).Before(cutoff) {
			total += s.Quantity
		}
	}
	return float64(total) / DemandWindowDays
}

func meanDemand(proxies []ProxyProduct) float64 {
	if len(proxies) == 0 {
		return 0
	}
	var sum float64
	for _, p := range proxies {
		sum += p.AvgDailyDemand
	}
	return sum / float64(len(proxies))
}
