package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retaildss/rebalance-engine/internal/geo"
	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/store"
)

// ErrProductNotFound is returned by the analysis entry points for unknown products.
var ErrProductNotFound = errors.New("forecast: product not found")

// Options tunes regeneration.
type Options struct {
	// HorizonDays is the number of days projected per pair.
	HorizonDays int
	// MinHistory is the number of sales records a pair needs before a
	// trend is fitted on it.
	MinHistory int
	// BatchSize is the number of rows written per insert.
	BatchSize int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{HorizonDays: 30, MinHistory: 10, BatchSize: 5000}
}

// Result summarizes one regeneration run.
type Result struct {
	GeneratedCount int `json:"generated_count"`
	PairsFitted    int `json:"pairs_fitted"`
	PairsSkipped   int `json:"pairs_skipped"`
	PairsFailed    int `json:"pairs_failed"`
}

// ProgressFunc receives the number of processed pairs out of total.
type ProgressFunc func(done, total int)

// Forecaster generates and evaluates demand forecasts against a Store.
type Forecaster struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewForecaster creates a forecaster. Zero option fields take the defaults.
func NewForecaster(s store.Store, opts Options, logger *slog.Logger) *Forecaster {
	def := DefaultOptions()
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = def.HorizonDays
	}
	if opts.MinHistory <= 0 {
		opts.MinHistory = def.MinHistory
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forecaster{store: s, opts: opts, logger: logger, now: time.Now}
}

// SetClock overrides the time source used for flat cold-start forecasts.
func (f *Forecaster) SetClock(now func() time.Time) {
	f.now = now
}

// Regenerate replaces every stored forecast. Each store × product pair is
// forecast from its own history, else from the nearest same-tier store that
// sells the product, else (when the pair holds stock) from similarly priced
// products of the same category. Pair-level failures are logged and counted;
// store failures and cancellation abort the run with the partial result.
func (f *Forecaster) Regenerate(ctx context.Context, progress ProgressFunc) (Result, error) {
	var res Result

	stores, err := f.store.ListStores(ctx)
	if err != nil {
		return res, fmt.Errorf("list stores: %w", err)
	}
	products, err := f.store.ListProducts(ctx)
	if err != nil {
		return res, fmt.Errorf("list products: %w", err)
	}
	inventory, err := f.store.ListInventory(ctx, "")
	if err != nil {
		return res, fmt.Errorf("list inventory: %w", err)
	}
	held := make(map[model.PositionKey]bool, len(inventory))
	for _, p := range inventory {
		held[p.Key()] = true
	}

	if err := f.store.DeleteAllForecasts(ctx); err != nil {
		return res, fmt.Errorf("clear forecasts: %w", err)
	}

	w := &batchWriter{store: f.store, size: f.opts.BatchSize}
	total := len(stores) * len(products)
	done := 0
	if progress != nil {
		progress(0, total)
	}

	for _, p := range products {
		sales, err := f.store.ProductSales(ctx, p.ID)
		if err != nil {
			return res, fmt.Errorf("sales of %s: %w", p.ID, err)
		}
		history := groupByStore(sales)
		similar := f.lazySimilarity(ctx, p, products)

		for _, st := range stores {
			if err := ctx.Err(); err != nil {
				res.GeneratedCount = w.written
				return res, err
			}

			rows, err := f.forecastPair(st, p, stores, history, held, similar)
			done++
			switch {
			case err != nil:
				res.PairsFailed++
				f.logger.Warn("forecast fit failed", "store", st.ID, "product", p.ID, "err", err)
			case len(rows) == 0:
				res.PairsSkipped++
			default:
				res.PairsFitted++
				if err := w.add(ctx, rows); err != nil {
					res.GeneratedCount = w.written
					return res, err
				}
			}
		}
		if progress != nil {
			progress(done, total)
		}
	}

	if err := w.flush(ctx); err != nil {
		res.GeneratedCount = w.written
		return res, err
	}
	res.GeneratedCount = w.written
	f.logger.Info("forecasts regenerated",
		"rows", res.GeneratedCount, "fitted", res.PairsFitted,
		"skipped", res.PairsSkipped, "failed", res.PairsFailed)
	return res, nil
}

// forecastPair returns the rows for one pair, or none when no path applies.
func (f *Forecaster) forecastPair(
	st model.Store,
	p model.Product,
	stores []model.Store,
	history map[string][]model.SalesRecord,
	held map[model.PositionKey]bool,
	similar func() float64,
) ([]model.DemandForecast, error) {
	if own := history[st.ID]; len(own) >= f.opts.MinHistory {
		return f.fitRows(st.ID, p.ID, own, model.ModelLinearTrend)
	}

	if proxy := nearestSeller(st, stores, history); proxy != "" {
		return f.fitRows(st.ID, p.ID, history[proxy], model.ModelStoreProxy)
	}

	if !held[model.PositionKey{StoreID: st.ID, ProductID: p.ID}] {
		return nil, nil
	}
	predicted := similar()
	if predicted <= 0 {
		return nil, nil
	}
	preds := Flat(predicted, f.now(), f.opts.HorizonDays)
	return toRows(st.ID, p.ID, preds, model.ModelProductSimilarity), nil
}

func (f *Forecaster) fitRows(storeID, productID string, sales []model.SalesRecord, m model.ForecastModel) ([]model.DemandForecast, error) {
	points := make([]Point, len(sales))
	for i, s := range sales {
		points[i] = Point{Date: s.Date, Quantity: float64(s.Quantity)}
	}
	line, err := FitLine(points)
	if err != nil {
		return nil, err
	}
	last := sales[len(sales)-1].Date
	return toRows(storeID, productID, Project(line, last, f.opts.HorizonDays), m), nil
}

// lazySimilarity computes the product-similarity prediction at most once per
// product and only if some pair needs it.
func (f *Forecaster) lazySimilarity(ctx context.Context, p model.Product, products []model.Product) func() float64 {
	var (
		computed bool
		value    float64
	)
	return func() float64 {
		if computed {
			return value
		}
		computed = true
		proxies, err := f.similarProducts(ctx, p, products)
		if err != nil {
			f.logger.Warn("similar product lookup failed", "product", p.ID, "err", err)
			return 0
		}
		value = meanDemand(proxies)
		return value
	}
}

// nearestSeller returns the closest other store of the same tier that has
// sold the product, or "" when there is none.
func nearestSeller(target model.Store, stores []model.Store, history map[string][]model.SalesRecord) string {
	var ids []string
	var points []geo.Point
	for _, st := range stores {
		if st.ID == target.ID || st.Tier != target.Tier || len(history[st.ID]) == 0 {
			continue
		}
		ids = append(ids, st.ID)
		points = append(points, geo.Point{Lat: st.Lat, Lon: st.Lon})
	}
	i := geo.Nearest(geo.Point{Lat: target.Lat, Lon: target.Lon}, points)
	if i < 0 {
		return ""
	}
	return ids[i]
}

func groupByStore(sales []model.SalesRecord) map[string][]model.SalesRecord {
	out := make(map[string][]model.SalesRecord)
	for _, s := range sales {
		out[s.StoreID] = append(out[s.StoreID], s)
	}
	return out
}

func toRows(storeID, productID string, preds []Prediction, m model.ForecastModel) []model.DemandForecast {
	rows := make([]model.DemandForecast, len(preds))
	for i, p := range preds {
		rows[i] = model.DemandForecast{
			StoreID:           storeID,
			ProductID:         productID,
			Date:              p.Date,
			PredictedQuantity: p.Quantity,
			Model:             m,
		}
	}
	return rows
}

// batchWriter buffers rows and inserts them in fixed-size chunks.
type batchWriter struct {
	store   store.Store
	size    int
	buf     []model.DemandForecast
	written int
}

func (w *batchWriter) add(ctx context.Context, rows []model.DemandForecast) error {
	w.buf = append(w.buf, rows...)
	for len(w.buf) >= w.size {
		if err := w.insert(ctx, w.buf[:w.size]); err != nil {
			return err
		}
		w.buf = append(w.buf[:0], w.buf[w.size:]...)
	}
	return nil
}

func (w *batchWriter) flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.insert(ctx, w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *batchWriter) insert(ctx context.Context, rows []model.DemandForecast) error {
	batch := make([]model.DemandForecast, len(rows))
	copy(batch, rows)
	if err := w.store.InsertForecasts(ctx, batch); err != nil {
		return fmt.Errorf("insert forecasts: %w", err)
	}
	w.written += len(batch)
	return nil
}
