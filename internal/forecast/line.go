// Package forecast implements per-(store, product) demand forecasting: an
// ordinary-least-squares trend on sales history, cold-start fallbacks via a
// nearby proxy store or similarly priced products, and accuracy evaluation
// of stored forecasts against actual sales.
//
// Internal math is float64; predictions are rounded half-to-even and clamped
// to non-negative whole units before they leave the package.
package forecast

import (
	"errors"
	"math"
	"time"

	"github.com/retaildss/rebalance-engine/internal/model"
)

var (
	// ErrInsufficientPoints is returned when fewer than two points are fitted.
	ErrInsufficientPoints = errors.New("forecast: at least two points are required")

	// ErrDegenerate is returned when every point falls on the same date.
	ErrDegenerate = errors.New("forecast: zero variance in dates")
)

// Point is one observation for the trend fit.
type Point struct {
	Date     time.Time
	Quantity float64
}

// Line is a fitted trend: quantity = Slope*ordinal + Intercept, where the
// ordinal is the number of days since the Unix epoch.
type Line struct {
	Slope     float64
	Intercept float64
}

// At evaluates the line on a date.
func (l Line) At(date time.Time) float64 {
	return l.Slope*ordinal(date) + l.Intercept
}

// Prediction is one projected day.
type Prediction struct {
	Date     time.Time
	Quantity int
}

// FitLine fits quantity against date ordinal by ordinary least squares.
func FitLine(points []Point) (Line, error) {
	if len(points) < 2 {
		return Line{}, ErrInsufficientPoints
	}

	n := float64(len(points))
	var sumX, sumY float64
	for _, p := range points {
		sumX += ordinal(p.Date)
		sumY += p.Quantity
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for _, p := range points {
		dx := ordinal(p.Date) - meanX
		sxx += dx * dx
		sxy += dx * (p.Quantity - meanY)
	}
	if sxx == 0 {
		return Line{}, ErrDegenerate
	}

	slope := sxy / sxx
	return Line{Slope: slope, Intercept: meanY - slope*meanX}, nil
}

// Project returns daily predictions for lastDate+1 .. lastDate+horizon.
func Project(line Line, lastDate time.Time, horizon int) []Prediction {
	start := model.Day(lastDate)
	out := make([]Prediction, 0, horizon)
	for i := 1; i <= horizon; i++ {
		date := start.AddDate(0, 0, i)
		out = append(out, Prediction{Date: date, Quantity: clampRound(line.At(date))})
	}
	return out
}

// Flat returns horizon days of a constant prediction starting the day after
// from.
func Flat(quantity float64, from time.Time, horizon int) []Prediction {
	q := clampRound(quantity)
	start := model.Day(from)
	out := make([]Prediction, 0, horizon)
	for i := 1; i <= horizon; i++ {
		out = append(out, Prediction{Date: start.AddDate(0, 0, i), Quantity: q})
	}
	return out
}

func ordinal(t time.Time) float64 {
	return float64(model.Day(t).Unix() / 86400)
}

func clampRound(v float64) int {
	r := math.RoundToEven(v)
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	return int(r)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
