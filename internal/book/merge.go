package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bookscope/bookscope/pkg/types"
)

// New builds a canonical order book from raw level slices. Both sides are
// sorted (asks ascending, bids descending), truncated to types.MaxDepth and
// the spread recomputed.
func New(symbol string, asks, bids []types.PriceLevel, lastUpdate time.Time) *types.OrderBookData {
	asks = normalizeSide(asks, true)
	bids = normalizeSide(bids, false)
	spread, spreadPct := computeSpread(asks, bids)

	return &types.OrderBookData{
		Symbol:        symbol,
		Asks:          asks,
		Bids:          bids,
		Spread:        spread,
		SpreadPercent: spreadPct,
		LastUpdate:    lastUpdate,
	}
}

// Merge applies an update to the current book and returns a newly
// constructed book; neither input is mutated. A non-incremental update, or
// any update against an absent book, replaces both sides wholesale. An
// incremental update patches level by level: equal price replaces, zero
// quantity deletes, otherwise the level is inserted.
//
// Merge is deterministic: the clock is consulted only on a full replace
// whose update carries no timestamp.
func Merge(current *types.OrderBookData, update *types.IncrementalUpdate) *types.OrderBookData {
	if current == nil || !update.IsIncremental {
		last := update.LastUpdate
		if last.IsZero() {
			if current != nil {
				last = current.LastUpdate
			} else {
				last = time.Now()
			}
		}
		symbol := ""
		if current != nil {
			symbol = current.Symbol
		}
		return New(symbol, update.AskUpdates, update.BidUpdates, last)
	}

	asks := applySide(current.Asks, update.AskUpdates)
	bids := applySide(current.Bids, update.BidUpdates)
	asks = normalizeSide(asks, true)
	bids = normalizeSide(bids, false)
	spread, spreadPct := computeSpread(asks, bids)

	last := update.LastUpdate
	if last.IsZero() {
		last = current.LastUpdate
	}

	return &types.OrderBookData{
		Symbol:        current.Symbol,
		Asks:          asks,
		Bids:          bids,
		Spread:        spread,
		SpreadPercent: spreadPct,
		LastUpdate:    last,
	}
}

// applySide patches one side with update entries, in entry order.
func applySide(levels, updates []types.PriceLevel) []types.PriceLevel {
	merged := make([]types.PriceLevel, len(levels))
	copy(merged, levels)

	for _, u := range updates {
		idx := -1
		for i, lvl := range merged {
			if lvl.Price.Equal(u.Price) {
				idx = i
				break
			}
		}

		switch {
		case u.Quantity.IsZero():
			// Tombstone: drop the level if it exists.
			if idx != -1 {
				merged = append(merged[:idx], merged[idx+1:]...)
			}
		case idx != -1:
			merged[idx] = u
		default:
			merged = append(merged, u)
		}
	}

	return merged
}

func normalizeSide(levels []types.PriceLevel, ascending bool) []types.PriceLevel {
	// Zero-quantity entries are deletions, never stored levels.
	out := make([]types.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity.IsPositive() {
			out = append(out, lvl)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Price.GreaterThan(out[j].Price)
	})

	if len(out) > types.MaxDepth {
		out = out[:types.MaxDepth]
	}
	return out
}

// computeSpread derives spread and spread percent from the best levels.
// An empty ask side yields a spread percent of zero rather than dividing
// by zero.
func computeSpread(asks, bids []types.PriceLevel) (decimal.Decimal, decimal.Decimal) {
	bestAsk := decimal.Zero
	bestBid := decimal.Zero
	if len(asks) > 0 {
		bestAsk = asks[0].Price
	}
	if len(bids) > 0 {
		bestBid = bids[0].Price
	}

	spread := bestAsk.Sub(bestBid)
	if bestAsk.IsZero() {
		return spread, decimal.Zero
	}
	return spread, spread.Div(bestAsk)
}
