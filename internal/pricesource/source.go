// Package pricesource defines the price lookup contract used by the
// price-check engine. Concrete marketplace clients live in subpackages.
package pricesource

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is one observation of an item's lowest listed price, in the
// marketplace's base currency.
type Quote struct {
	CatalogID int64           `json:"catalog_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

// Source fetches the current price of a catalog item.
//
// Implementations return *domain.FetchError when the item cannot be priced.
type Source interface {
	Fetch(ctx context.Context, catalogID int64) (Quote, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, catalogID int64) (Quote, error)

func (f Func) Fetch(ctx context.Context, catalogID int64) (Quote, error) { return f(ctx, catalogID) }
