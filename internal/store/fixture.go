package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// Fixture is the JSON seed document accepted by LoadFixture. Sale dates are
// plain YYYY-MM-DD strings.
type Fixture struct {
	Stores    []model.Store             `json:"stores"`
	Products  []model.Product           `json:"products"`
	Inventory []model.InventoryPosition `json:"inventory"`
	Sales     []fixtureSale             `json:"sales"`
	Penalties []model.RoutePenalty      `json:"route_penalties"`
}

type fixtureSale struct {
	StoreID   string          `json:"store_id"`
	ProductID string          `json:"product_id"`
	Date      string          `json:"date"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// LoadFixture decodes a fixture document and seeds the store with it.
func (s *MemoryStore) LoadFixture(r io.Reader) error {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}

	for _, st := range f.Stores {
		if _, err := model.ParseStoreTier(string(st.Tier)); err != nil {
			return fmt.Errorf("store %s: %w", st.ID, err)
		}
		s.PutStore(st)
	}
	for _, p := range f.Products {
		p.ValueClass = p.ValueClass.Normalize()
		s.PutProduct(p)
	}
	for _, p := range f.Inventory {
		s.PutInventory(p)
	}
	for i, sale := range f.Sales {
		date, err := time.Parse(time.DateOnly, sale.Date)
		if err != nil {
			return fmt.Errorf("sale %d: %w", i, err)
		}
		s.AddSales(model.SalesRecord{
			StoreID:   sale.StoreID,
			ProductID: sale.ProductID,
			Date:      date,
			Quantity:  sale.Quantity,
			Revenue:   sale.Revenue,
		})
	}
	for _, p := range f.Penalties {
		s.SetRoutePenalty(p.SourceStoreID, p.TargetStoreID, p.Score)
	}
	return nil
}

// LoadFixtureFile seeds the store from a JSON file on disk.
func (s *MemoryStore) LoadFixtureFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.LoadFixture(f)
}
