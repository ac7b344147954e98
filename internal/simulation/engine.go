package simulation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bookscope/bookscope/pkg/types"
)

// PlaceOrder determines where a hypothetical order would rest in the book.
// The opposing side is scanned in order; the insertion position is the first
// index whose price is not better than the order's reference price (best
// opposing price for market orders, the limit price otherwise).
func PlaceOrder(order *types.SimulatedOrder, ob *types.OrderBookData) (types.OrderPlacement, error) {
	levels, err := opposingLevels(order, ob)
	if err != nil {
		return types.OrderPlacement{}, err
	}

	refPrice := order.Price
	if order.Type == types.OrderTypeMarket {
		refPrice = levels[0].Price
	}

	position := len(levels)
	for i, lvl := range levels {
		if order.Side == types.OrderSideBuy && lvl.Price.LessThanOrEqual(refPrice) {
			position = i
			break
		}
		if order.Side == types.OrderSideSell && lvl.Price.GreaterThanOrEqual(refPrice) {
			position = i
			break
		}
	}

	return types.OrderPlacement{
		Position:      position,
		PriceLevel:    refPrice,
		PartialFill:   order.Quantity.GreaterThan(totalLiquidity(levels)),
		QueuePosition: 1,
	}, nil
}

// ComputeMetrics walks the opposing side from the best price outward,
// consuming visible liquidity level by level. When nothing fills, the
// average execution price stays zero and no slippage is reported.
func ComputeMetrics(order *types.SimulatedOrder, ob *types.OrderBookData) (types.OrderMetrics, error) {
	levels, err := opposingLevels(order, ob)
	if err != nil {
		return types.OrderMetrics{}, err
	}
	if !order.Quantity.IsPositive() {
		return types.OrderMetrics{}, fmt.Errorf("order quantity must be positive, got %s", order.Quantity)
	}

	remaining := order.Quantity
	totalCost := decimal.Zero
	worstPrice := decimal.Zero
	levelsFilled := 0

	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		fillQty := decimal.Min(remaining, lvl.Quantity)
		totalCost = totalCost.Add(fillQty.Mul(lvl.Price))
		worstPrice = lvl.Price
		remaining = remaining.Sub(fillQty)
		levelsFilled++
	}

	filled := order.Quantity.Sub(remaining)
	fillPct, _ := filled.Div(order.Quantity).Mul(decimal.NewFromInt(100)).Float64()

	avgPrice := decimal.Zero
	slippage := 0.0
	if filled.IsPositive() {
		avgPrice = totalCost.Div(filled)
		bestPrice := levels[0].Price
		slippage, _ = avgPrice.Sub(bestPrice).Div(bestPrice).Abs().Mul(decimal.NewFromInt(100)).Float64()
	}

	return types.OrderMetrics{
		FillPercentage:        fillPct,
		MarketImpact:          float64(levelsFilled) / float64(len(levels)) * 100,
		Slippage:              slippage,
		EstimatedTimeToFill:   estimateTimeToFill(order, fillPct),
		WorstCasePrice:        worstPrice,
		AverageExecutionPrice: avgPrice,
		TotalCost:             totalCost,
		FilledQuantity:        filled,
	}, nil
}

// Simulate runs placement and metrics against one book snapshot.
func Simulate(order *types.SimulatedOrder, ob *types.OrderBookData) (*types.SimulationResult, error) {
	placement, err := PlaceOrder(order, ob)
	if err != nil {
		return nil, err
	}
	metrics, err := ComputeMetrics(order, ob)
	if err != nil {
		return nil, err
	}

	return &types.SimulationResult{
		Order:     *order,
		Placement: placement,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}, nil
}

// opposingLevels returns the side a taker order would execute against.
// An absent book or an empty opposing side leaves no reference price, so
// the simulation fails fast rather than producing non-finite numbers.
func opposingLevels(order *types.SimulatedOrder, ob *types.OrderBookData) ([]types.PriceLevel, error) {
	if ob == nil {
		return nil, types.ErrNoOrderBook
	}
	levels := ob.Asks
	if order.Side == types.OrderSideSell {
		levels = ob.Bids
	}
	if len(levels) == 0 {
		return nil, types.ErrNoOrderBook
	}
	return levels, nil
}

func totalLiquidity(levels []types.PriceLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, lvl := range levels {
		sum = sum.Add(lvl.Quantity)
	}
	return sum
}

func estimateTimeToFill(order *types.SimulatedOrder, fillPct float64) float64 {
	sizeMultiplier := 1.0
	if order.Quantity.GreaterThan(decimal.NewFromInt(10)) {
		sizeMultiplier = 1.5
	}
	fillMultiplier := 1.0
	if fillPct < 100 {
		fillMultiplier = 2.0
	}
	return order.Timing.BaseDelay() + sizeMultiplier*fillMultiplier*5
}
