package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC and exchanged as TEXT for exact
// decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Network master data ---

func (s *PostgresStore) ListStores(ctx context.Context) ([]model.Store, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, tier, lat, lon FROM stores ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		var st model.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Tier, &st.Lat, &st.Lon); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

func (s *PostgresStore) GetStore(ctx context.Context, id string) (*model.Store, error) {
	var st model.Store
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, tier, lat, lon FROM stores WHERE id = $1`, id).
		Scan(&st.ID, &st.Name, &st.Tier, &st.Lat, &st.Lon)
	if err != nil {
		return nil, fmt.Errorf("get store %s: %w", id, notFound(err))
	}
	return &st, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category, unit_price::TEXT, COALESCE(value_class, 'C')
		 FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &price, &p.ValueClass); err != nil {
			return nil, err
		}
		p.UnitPrice, _ = decimal.NewFromString(price)
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	var price string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, category, unit_price::TEXT, COALESCE(value_class, 'C')
		 FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Category, &price, &p.ValueClass)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, notFound(err))
	}
	p.UnitPrice, _ = decimal.NewFromString(price)
	return &p, nil
}

// CreateProduct inserts the product, its positions and its seed forecasts
// in one transaction.
func (s *PostgresStore) CreateProduct(ctx context.Context, p model.Product, positions []model.InventoryPosition, forecasts []model.DemandForecast) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO products (id, name, category, unit_price, value_class)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Category, p.UnitPrice.String(), string(p.ValueClass))
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create product %s: %w", p.ID, ErrProductExists)
	}

	for _, pos := range positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO inventory (store_id, product_id, quantity, safety_stock, version)
			 VALUES ($1, $2, $3, $4, 0)`,
			pos.StoreID, pos.ProductID, pos.Quantity, pos.SafetyStock); err != nil {
			return fmt.Errorf("open position %s/%s: %w", pos.StoreID, pos.ProductID, err)
		}
	}

	if len(forecasts) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"forecasts"},
			[]string{"store_id", "product_id", "date", "predicted_quantity", "model"},
			pgx.CopyFromSlice(len(forecasts), func(i int) ([]any, error) {
				f := forecasts[i]
				return []any{f.StoreID, f.ProductID, f.Date, f.PredictedQuantity, string(f.Model)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy seed forecasts: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// --- Inventory snapshot ---

func (s *PostgresStore) ListInventory(ctx context.Context, storeID string) ([]model.InventoryPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT store_id, product_id, quantity, safety_stock, version
		 FROM inventory
		 WHERE $1 = '' OR store_id = $1
		 ORDER BY store_id, product_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.InventoryPosition
	for rows.Next() {
		var p model.InventoryPosition
		if err := rows.Scan(&p.StoreID, &p.ProductID, &p.Quantity, &p.SafetyStock, &p.Version); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetInventoryPosition(ctx context.Context, storeID, productID string) (*model.InventoryPosition, error) {
	var p model.InventoryPosition
	err := s.pool.QueryRow(ctx,
		`SELECT store_id, product_id, quantity, safety_stock, version
		 FROM inventory WHERE store_id = $1 AND product_id = $2`, storeID, productID).
		Scan(&p.StoreID, &p.ProductID, &p.Quantity, &p.SafetyStock, &p.Version)
	if err != nil {
		return nil, fmt.Errorf("get inventory %s/%s: %w", storeID, productID, notFound(err))
	}
	return &p, nil
}

const statsColumns = `
	COUNT(*),
	COALESCE(SUM(CASE WHEN quantity < safety_stock THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN quantity > safety_stock * 3 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(quantity), 0),
	COALESCE(SUM(safety_stock), 0)`

func (s *PostgresStore) InventoryStats(ctx context.Context, storeID string) (model.InventoryStats, error) {
	stats := model.InventoryStats{StoreID: storeID}
	err := s.pool.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM inventory WHERE store_id = $1`, storeID).
		Scan(&stats.TotalItems, &stats.HighRiskItems, &stats.OverstockItems,
			&stats.TotalStock, &stats.TotalSafetyStock)
	if err != nil {
		return stats, fmt.Errorf("inventory stats %s: %w", storeID, err)
	}
	return stats, nil
}

func (s *PostgresStore) AllInventoryStats(ctx context.Context) (map[string]model.InventoryStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT store_id, `+statsColumns+` FROM inventory GROUP BY store_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]model.InventoryStats)
	for rows.Next() {
		var st model.InventoryStats
		if err := rows.Scan(&st.StoreID, &st.TotalItems, &st.HighRiskItems,
			&st.OverstockItems, &st.TotalStock, &st.TotalSafetyStock); err != nil {
			return nil, err
		}
		result[st.StoreID] = st
	}
	return result, rows.Err()
}

// ApplyTransfer locks the source row, re-checks version and stock, then
// moves the units and records the transfer in one transaction.
func (s *PostgresStore) ApplyTransfer(ctx context.Context, t *model.Transfer, expectedVersion *int64, defaultSafety int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var qty int
	var version int64
	err = tx.QueryRow(ctx,
		`SELECT quantity, version FROM inventory
		 WHERE store_id = $1 AND product_id = $2 FOR UPDATE`,
		t.SourceStoreID, t.ProductID).Scan(&qty, &version)
	if err != nil {
		return fmt.Errorf("lock inventory %s/%s: %w", t.SourceStoreID, t.ProductID, notFound(err))
	}
	if expectedVersion != nil && version != *expectedVersion {
		return fmt.Errorf("inventory %s/%s at version %d, expected %d: %w",
			t.SourceStoreID, t.ProductID, version, *expectedVersion, ErrStaleVersion)
	}
	if qty < t.Amount {
		return fmt.Errorf("inventory %s/%s holds %d, need %d: %w",
			t.SourceStoreID, t.ProductID, qty, t.Amount, ErrInsufficientStock)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE inventory SET quantity = quantity - $3, version = version + 1
		 WHERE store_id = $1 AND product_id = $2`,
		t.SourceStoreID, t.ProductID, t.Amount); err != nil {
		return fmt.Errorf("debit source: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO inventory (store_id, product_id, quantity, safety_stock, version)
		 VALUES ($1, $2, $3, $4, 1)
		 ON CONFLICT (store_id, product_id)
		 DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity,
		               version = inventory.version + 1`,
		t.TargetStoreID, t.ProductID, t.Amount, defaultSafety); err != nil {
		return fmt.Errorf("credit target: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO transfers (id, source_store_id, target_store_id, product_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.SourceStoreID, t.TargetStoreID, t.ProductID, t.Amount, t.CreatedAt); err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}

	return tx.Commit(ctx)
}

// --- Sales history ---

func (s *PostgresStore) SalesHistory(ctx context.Context, storeID, productID string) ([]model.SalesRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT store_id, product_id, date, quantity, COALESCE(revenue, 0)::TEXT
		 FROM sales WHERE store_id = $1 AND product_id = $2 ORDER BY date`,
		storeID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSales(rows)
}

func (s *PostgresStore) ProductSales(ctx context.Context, productID string) ([]model.SalesRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT store_id, product_id, date, quantity, COALESCE(revenue, 0)::TEXT
		 FROM sales WHERE product_id = $1 ORDER BY date`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSales(rows)
}

func (s *PostgresStore) CountProductSales(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sales WHERE product_id = $1`, productID).Scan(&n)
	return n, err
}

// --- Forecasts ---

func (s *PostgresStore) DeleteAllForecasts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM forecasts`)
	return err
}

// InsertForecasts streams one batch through COPY, which is atomic per call.
func (s *PostgresStore) InsertForecasts(ctx context.Context, rows []model.DemandForecast) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"forecasts"},
		[]string{"store_id", "product_id", "date", "predicted_quantity", "model"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			f := rows[i]
			return []any{f.StoreID, f.ProductID, f.Date, f.PredictedQuantity, string(f.Model)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy forecasts: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForecasts(ctx context.Context, storeID, productID string) ([]model.DemandForecast, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT store_id, product_id, date, predicted_quantity, model
		 FROM forecasts
		 WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR product_id = $2)
		 ORDER BY date, store_id, product_id`, storeID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.DemandForecast
	for rows.Next() {
		var f model.DemandForecast
		if err := rows.Scan(&f.StoreID, &f.ProductID, &f.Date, &f.PredictedQuantity, &f.Model); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ForecastTotals(ctx context.Context, from, to time.Time) (map[model.PositionKey]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT store_id, product_id, COALESCE(SUM(predicted_quantity), 0)
		 FROM forecasts WHERE date BETWEEN $1 AND $2
		 GROUP BY store_id, product_id`, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[model.PositionKey]int)
	for rows.Next() {
		var key model.PositionKey
		var total int
		if err := rows.Scan(&key.StoreID, &key.ProductID, &total); err != nil {
			return nil, err
		}
		totals[key] = total
	}
	return totals, rows.Err()
}

// --- Feedback ---

func (s *PostgresStore) ListRoutePenalties(ctx context.Context) ([]model.RoutePenalty, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_store_id, target_store_id, penalty_score, updated_at FROM route_penalties`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var penalties []model.RoutePenalty
	for rows.Next() {
		var p model.RoutePenalty
		if err := rows.Scan(&p.SourceStoreID, &p.TargetStoreID, &p.Score, &p.UpdatedAt); err != nil {
			return nil, err
		}
		penalties = append(penalties, p)
	}
	return penalties, rows.Err()
}

func (s *PostgresStore) RecordRejection(ctx context.Context, r *model.TransferRejection, increment float64) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO transfer_rejections (id, transfer_id, source_store_id, target_store_id, product_id, reason, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		r.ID, r.TransferID, r.SourceStoreID, r.TargetStoreID, r.ProductID, r.Reason, r.CreatedAt); err != nil {
		return 0, fmt.Errorf("insert rejection: %w", err)
	}

	var score float64
	err = tx.QueryRow(ctx,
		`INSERT INTO route_penalties (source_store_id, target_store_id, penalty_score, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source_store_id, target_store_id)
		 DO UPDATE SET penalty_score = route_penalties.penalty_score + EXCLUDED.penalty_score,
		               updated_at = EXCLUDED.updated_at
		 RETURNING penalty_score`,
		r.SourceStoreID, r.TargetStoreID, increment, r.CreatedAt).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("upsert route penalty: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return score, nil
}

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSales(rows pgxRows) ([]model.SalesRecord, error) {
	var records []model.SalesRecord
	for rows.Next() {
		var r model.SalesRecord
		var revenue string
		if err := rows.Scan(&r.StoreID, &r.ProductID, &r.Date, &r.Quantity, &revenue); err != nil {
			return nil, err
		}
		r.Revenue, _ = decimal.NewFromString(revenue)
		records = append(records, r)
	}
	return records, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
