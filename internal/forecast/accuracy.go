package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// ErrNotEnoughData is returned when there are no forecasts to evaluate.
var ErrNotEnoughData = errors.New("forecast: not enough data to evaluate accuracy")

// AccuracyPoint pairs a forecast day with the quantity actually sold.
type AccuracyPoint struct {
	Date      time.Time `json:"date"`
	Predicted int       `json:"predicted"`
	Actual    int       `json:"actual"`
}

// Accuracy holds the error metrics of a forecast series.
type Accuracy struct {
	MAE    float64 `json:"mae"`
	RMSE   float64 `json:"rmse"`
	R2     float64 `json:"r2"`
	Points int     `json:"points"`
}

// AccuracyReport is the result of EvaluateAccuracy.
type AccuracyReport struct {
	StoreID   string          `json:"store_id"`
	ProductID string          `json:"product_id"`
	Accuracy  Accuracy        `json:"metrics"`
	Series    []AccuracyPoint `json:"series"`
}

// Evaluate computes MAE and RMSE (2 decimals) and R² (4 decimals). R² is 1
// when fewer than two points exist or actuals have no variance.
func Evaluate(points []AccuracyPoint) (Accuracy, error) {
	if len(points) == 0 {
		return Accuracy{}, ErrNotEnoughData
	}

	n := float64(len(points))
	var absSum, sqSum, actualSum float64
	for _, p := range points {
		e := float64(p.Actual - p.Predicted)
		absSum += math.Abs(e)
		sqSum += e * e
		actualSum += float64(p.Actual)
	}

	r2 := 1.0
	if len(points) >= 2 {
		mean := actualSum / n
		var ssTot float64
		for _, p := range points {
			d := float64(p.Actual) - mean
			ssTot += d * d
		}
		if ssTot != 0 {
			r2 = 1 - sqSum/ssTot
		}
	}

	return Accuracy{
		MAE:    roundTo(absSum/n, 2),
		RMSE:   roundTo(math.Sqrt(sqSum/n), 2),
		R2:     roundTo(r2, 4),
		Points: len(points),
	}, nil
}

// EvaluateAccuracy joins the stored forecasts of a pair with its actual
// sales by date; days without sales count as zero.
func (f *Forecaster) EvaluateAccuracy(ctx context.Context, storeID, productID string) (AccuracyReport, error) {
	forecasts, err := f.store.ListForecasts(ctx, storeID, productID)
	if err != nil {
		return AccuracyReport{}, fmt.Errorf("list forecasts: %w", err)
	}
	if len(forecasts) == 0 {
		return AccuracyReport{}, ErrNotEnoughData
	}

	sales, err := f.store.SalesHistory(ctx, storeID, productID)
	if err != nil {
		return AccuracyReport{}, fmt.Errorf("sales history: %w", err)
	}
	actual := make(map[time.Time]int, len(sales))
	for _, s := range sales {
		actual[model.Day(s.Date)] += s.Quantity
	}

	series := make([]AccuracyPoint, len(forecasts))
	for i, fc := range forecasts {
		d := model.Day(fc.Date)
		series[i] = AccuracyPoint{Date: d, Predicted: fc.PredictedQuantity, Actual: actual[d]}
	}

	acc, err := Evaluate(series)
	if err != nil {
		return AccuracyReport{}, err
	}
	return AccuracyReport{StoreID: storeID, ProductID: productID, Accuracy: acc, Series: series}, nil
}
