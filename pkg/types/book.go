package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxDepth is the maximum number of price levels kept per book side.
// Deeper levels are dropped during normalization and after every merge.
const MaxDepth = 15

// PriceLevel represents a single price level in an order book.
// Levels are immutable once constructed; a changed quantity arrives as a
// replacement level, never as an in-place mutation.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// NewPriceLevel creates a price level with Total precomputed.
func NewPriceLevel(price, quantity decimal.Decimal) PriceLevel {
	return PriceLevel{
		Price:    price,
		Quantity: quantity,
		Total:    price.Mul(quantity),
	}
}

// OrderBookData is the canonical venue-agnostic order book.
// Invariants: bids strictly descending by price, asks strictly ascending,
// at most MaxDepth levels per side, no duplicate prices on one side, and
// every stored level has quantity > 0.
type OrderBookData struct {
	Symbol        string          `json:"symbol"`
	Bids          []PriceLevel    `json:"bids"`
	Asks          []PriceLevel    `json:"asks"`
	Spread        decimal.Decimal `json:"spread"`
	SpreadPercent decimal.Decimal `json:"spread_percent"`
	LastUpdate    time.Time       `json:"last_update"`
}

// BestBid returns the highest bid, if any.
func (ob *OrderBookData) BestBid() (PriceLevel, bool) {
	if len(ob.Bids) == 0 {
		return PriceLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (ob *OrderBookData) BestAsk() (PriceLevel, bool) {
	if len(ob.Asks) == 0 {
		return PriceLevel{}, false
	}
	return ob.Asks[0], true
}

// IncrementalUpdate is a delta (or full snapshot) pushed by a venue.
// An entry with Quantity == 0 is a tombstone: the level at that price is
// removed if present, otherwise the entry is a no-op.
type IncrementalUpdate struct {
	AskUpdates    []PriceLevel `json:"ask_updates,omitempty"`
	BidUpdates    []PriceLevel `json:"bid_updates,omitempty"`
	LastUpdate    time.Time    `json:"last_update,omitempty"`
	IsIncremental bool         `json:"is_incremental"`
}
