// Package pricer provides the price oracle the claim settlement engine reads
// from. Prices are keyed by an opaque 32-byte price id bound to a batch of
// requests by the price setter.
package pricer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Pricer returns the quote and quote timestamp for a price id.
type Pricer interface {
	PriceAt(ctx context.Context, priceID common.Hash) (decimal.Decimal, time.Time, error)
}

// Static serves one fixed quote for every price id. Used by tests and by the
// simulate command.
type Static struct {
	Price    decimal.Decimal
	QuotedAt time.Time
}

// NewStatic builds a fixed-quote pricer.
func NewStatic(price decimal.Decimal, quotedAt time.Time) *Static {
	return &Static{Price: price, QuotedAt: quotedAt}
}

func (s *Static) PriceAt(ctx context.Context, priceID common.Hash) (decimal.Decimal, time.Time, error) {
	return s.Price, s.QuotedAt, nil
}

var _ Pricer = (*Static)(nil)
