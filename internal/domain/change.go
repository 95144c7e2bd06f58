package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money is an amount in one currency.
type Money struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Amounts is one price expressed in several currencies, base currency first.
type Amounts []Money

// Outcome classifies a fresh observation against the stored price.
type Outcome int

const (
	OutcomeBaseline Outcome = iota
	OutcomeUnchanged
	OutcomeChanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBaseline:
		return "baseline"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Classify compares observed against the stored last price.
func Classify(stored decimal.NullDecimal, observed decimal.Decimal) Outcome {
	if !stored.Valid {
		return OutcomeBaseline
	}
	if stored.Decimal.Equal(observed) {
		return OutcomeUnchanged
	}
	return OutcomeChanged
}

// PriceChange is the payload delivered to a subscriber when an item moved.
type PriceChange struct {
	ItemID    int64           `json:"item_id"`
	CatalogID int64           `json:"catalog_id"`
	ItemName  string          `json:"item_name"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Old       Amounts         `json:"old"`
	New       Amounts         `json:"new"`
	Diff      decimal.Decimal `json:"diff"`
	Percent   decimal.Decimal `json:"percent"`
	At        time.Time       `json:"at"`
}

// NewPriceChange computes diff = new - old and percent = diff / old * 100.
// old must be non-zero; a zero stored price yields a zero percent.
func NewPriceChange(item Item, oldPrice, newPrice decimal.Decimal, at time.Time) PriceChange {
	diff := newPrice.Sub(oldPrice)
	pct := decimal.Zero
	if !oldPrice.IsZero() {
		pct = diff.Div(oldPrice).Mul(decimal.NewFromInt(100))
	}
	return PriceChange{
		ItemID:    item.ID,
		CatalogID: item.CatalogID,
		ItemName:  item.Name,
		OldPrice:  oldPrice,
		NewPrice:  newPrice,
		Diff:      diff,
		Percent:   pct,
		At:        at,
	}
}

// Up reports whether the price increased.
func (c PriceChange) Up() bool { return c.Diff.IsPositive() }
