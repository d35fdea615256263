// Package types holds data shared across packages to avoid import cycles:
// bin/pool identity, order and strategy records, and the execution signals
// the monitor hands to the execution engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes the purpose of a range order.
type OrderType string

const (
	OrderTypeLimitBuy   OrderType = "LIMIT_BUY"
	OrderTypeLimitSell  OrderType = "LIMIT_SELL"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeDcaStep    OrderType = "DCA_STEP"
	OrderTypeGridLevel  OrderType = "GRID_LEVEL"
)

// OrderStatus is the lifecycle state of a RangeOrder.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusFailed          OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// StrategyStatus is the lifecycle state of a composite strategy.
type StrategyStatus string

const (
	StrategyStatusActive    StrategyStatus = "ACTIVE"
	StrategyStatusPaused    StrategyStatus = "PAUSED"
	StrategyStatusCancelled StrategyStatus = "CANCELLED"
	StrategyStatusCompleted StrategyStatus = "COMPLETED"
)

// Urgency is the priority class assigned by the monitor to a signal, and
// consumed by the execution engine's scheduler.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "LOW"
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SignalKind identifies why a signal was emitted.
type SignalKind string

const (
	SignalPriceTarget        SignalKind = "PRICE_TARGET"
	SignalStopLoss           SignalKind = "STOP_LOSS"
	SignalTakeProfit         SignalKind = "TAKE_PROFIT"
	SignalOptimalWindow      SignalKind = "OPTIMAL_WINDOW"
	SignalLiquidityAvailable SignalKind = "LIQUIDITY_AVAILABLE"
	SignalTimeTriggered      SignalKind = "TIME_TRIGGERED"
)

// LadderDistribution is the shape of a DCA ladder's amount allocation across bins.
type LadderDistribution struct {
	Kind     string            // "uniform", "weighted", "fibonacci", "explicit"
	Bias     float64           // used when Kind == "weighted"
	Explicit []decimal.Decimal // used when Kind == "explicit", one weight per bin in range order
}

func UniformDistribution() LadderDistribution {
	return LadderDistribution{Kind: "uniform"}
}

func WeightedDistribution(bias float64) LadderDistribution {
	return LadderDistribution{Kind: "weighted", Bias: bias}
}

func FibonacciDistribution() LadderDistribution {
	return LadderDistribution{Kind: "fibonacci"}
}

func ExplicitDistribution(weights []decimal.Decimal) LadderDistribution {
	return LadderDistribution{Kind: "explicit", Explicit: weights}
}

// Pool is a single DLMM liquidity pool between two tokens.
type Pool struct {
	Address     string
	TokenX      string
	TokenY      string
	BinStep     uint16 // basis points
	BasePrice   decimal.Decimal
	ActiveBinID int32
	FeeTier     decimal.Decimal // fraction, e.g. 0.003 = 30bps
	TVLUsd      decimal.Decimal
	Volume24h   decimal.Decimal
	// BinLiquidity holds total liquidity (token-equivalent units) keyed by bin id,
	// for the window of bins the monitor currently tracks around ActiveBinID.
	BinLiquidity map[int32]decimal.Decimal
}

// RangeOrder is a single resting order against one pool.
type RangeOrder struct {
	ID             string
	Pool           string
	OrderType      OrderType
	Side           Side
	BinID          int32
	TargetPrice    decimal.Decimal
	AmountIn       decimal.Decimal
	FilledAmount   decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
	MaxSlippageBps int
	PositionID     string
	StrategyID     string
	RetryCount     int
	Priority       Urgency
	FailureReason  string

	// Trailing-stop state, populated only for OrderTypeStopLoss orders with
	// a configured trailing percentage.
	TrailingPct      decimal.Decimal
	HighestPrice     decimal.Decimal
	TrailingDistance decimal.Decimal
	StopPrice        decimal.Decimal
}

// UnfilledNotional is the exposure this order still contributes.
func (o *RangeOrder) UnfilledNotional() decimal.Decimal {
	remaining := o.AmountIn.Sub(o.FilledAmount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining.Mul(o.TargetPrice)
}

// Fill is a single execution against a RangeOrder.
type Fill struct {
	OrderID   string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// DcaConfig configures a dollar-cost-average ladder strategy.
type DcaConfig struct {
	Pool            string
	Side            Side
	TotalAmount     decimal.Decimal
	OrderCount      int
	LowBinID        int32
	HighBinID       int32
	Distribution    LadderDistribution
	MinViableAmount decimal.Decimal // child allocations below this are folded into a neighbor
	ExpiresAt       *time.Time
}

// GridConfig configures a grid strategy.
type GridConfig struct {
	Pool           string
	CenterPrice    decimal.Decimal
	SpacingBps     int
	BuyLevels      int
	SellLevels     int
	AmountPerLevel decimal.Decimal
}

// Strategy is a composite of child orders managed as a unit.
type Strategy struct {
	ID             string
	Kind           string // "dca", "grid", "tp_sl"
	Pool           string
	Status         StrategyStatus
	ChildOrderIDs  []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExecutedVolume decimal.Decimal
	RealizedPnL    decimal.Decimal
	FillCount      int
}

// MarketSnapshot is an atomically-replaced view of a pool's current state.
type MarketSnapshot struct {
	Pool         string
	ActiveBinID  int32
	Price        decimal.Decimal
	BinLiquidity map[int32]decimal.Decimal
	Volume24h    decimal.Decimal
	Timestamp    time.Time
}

// PricePoint is one observation in a pool's bounded price history.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
}

// ExecutionSignal is a lossy hint that an order may be ready to execute.
type ExecutionSignal struct {
	OrderID             string
	Pool                string
	Kind                SignalKind
	Urgency             Urgency
	ExpectedSlippageBps int
	AvailableLiquidity  decimal.Decimal
	Timestamp           time.Time
}

// ArbitrageHop is one leg of an ArbitrageCycle.
type ArbitrageHop struct {
	Pool        string
	InToken     string
	OutToken    string
	ExpectedIn  decimal.Decimal
	ExpectedOut decimal.Decimal
	PriceImpact decimal.Decimal
}

// ArbitrageCycle is a closed loop of hops whose product of effective rates
// exceeds 1 (discarded otherwise).
type ArbitrageCycle struct {
	Hops        []ArbitrageHop
	RateProduct decimal.Decimal
}

// RiskEnvelope is the process-wide set of limits enforced on order creation.
type RiskEnvelope struct {
	MaxPositionSize      decimal.Decimal
	MaxTotalExposure     decimal.Decimal
	MaxActiveOrders      int
	MaxSlippageBps       int
	DailyLossLimit       decimal.Decimal
	GlobalStopLossPct    decimal.Decimal
	MaxConsecutiveLosses int
	PositionCooldown     time.Duration
}
