package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides
const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order types
const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Execution timing options for simulated orders
const (
	TimingImmediate ExecutionTiming = "immediate"
	Timing5s        ExecutionTiming = "5s"
	Timing10s       ExecutionTiming = "10s"
	Timing30s       ExecutionTiming = "30s"
)

type OrderSide string
type OrderType string
type ExecutionTiming string

// BaseDelay returns the timing option's delay contribution in seconds.
func (t ExecutionTiming) BaseDelay() float64 {
	switch t {
	case Timing5s:
		return 5
	case Timing10s:
		return 10
	case Timing30s:
		return 30
	default:
		return 0
	}
}

// SimulatedOrder is a hypothetical order evaluated against a book snapshot.
// Price is required for limit orders and ignored for market orders.
type SimulatedOrder struct {
	Venue    VenueType       `json:"venue"`
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Type     OrderType       `json:"type"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	Timing   ExecutionTiming `json:"timing"`
}

// OrderPlacement describes where a simulated order would rest in the book.
type OrderPlacement struct {
	Position      int             `json:"position"`
	PriceLevel    decimal.Decimal `json:"price_level"`
	PartialFill   bool            `json:"partial_fill"`
	QueuePosition int             `json:"queue_position"`
}

// OrderMetrics are the execution estimates for a simulated order.
// AverageExecutionPrice is zero when nothing fills.
type OrderMetrics struct {
	FillPercentage        float64         `json:"fill_percentage"`
	MarketImpact          float64         `json:"market_impact"`
	Slippage              float64         `json:"slippage"`
	EstimatedTimeToFill   float64         `json:"estimated_time_to_fill"`
	WorstCasePrice        decimal.Decimal `json:"worst_case_price"`
	AverageExecutionPrice decimal.Decimal `json:"average_execution_price"`
	TotalCost             decimal.Decimal `json:"total_cost"`
	FilledQuantity        decimal.Decimal `json:"filled_quantity"`
}

// SimulationResult bundles a simulation request with its outcome.
type SimulationResult struct {
	Order     SimulatedOrder `json:"order"`
	Placement OrderPlacement `json:"placement"`
	Metrics   OrderMetrics   `json:"metrics"`
	Timestamp time.Time      `json:"timestamp"`
}
