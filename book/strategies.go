package book

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/types"
)

// Runner is the plug-in interface a custom strategy satisfies. The monitor
// dispatches every snapshot update to each registered runner and forwards
// the signals it returns to the execution engine.
type Runner interface {
	// Name returns the strategy identifier.
	Name() string

	// OnSnapshot processes a market snapshot update and returns any signals
	// the strategy wants acted on (nil or empty if none).
	OnSnapshot(snap types.MarketSnapshot) []types.ExecutionSignal

	// Enabled reports whether the strategy should be evaluated.
	Enabled() bool
}

// SignalBuilder is a fluent constructor for ExecutionSignal.
type SignalBuilder struct {
	signal types.ExecutionSignal
}

// NewSignalBuilder starts building a signal for orderID against pool.
func NewSignalBuilder(orderID, pool string) *SignalBuilder {
	return &SignalBuilder{signal: types.ExecutionSignal{
		OrderID: orderID,
		Pool:    pool,
		Urgency: types.UrgencyMedium,
	}}
}

func (sb *SignalBuilder) Kind(k types.SignalKind) *SignalBuilder {
	sb.signal.Kind = k
	return sb
}

func (sb *SignalBuilder) Urgency(u types.Urgency) *SignalBuilder {
	sb.signal.Urgency = u
	return sb
}

func (sb *SignalBuilder) ExpectedSlippageBps(bps int) *SignalBuilder {
	sb.signal.ExpectedSlippageBps = bps
	return sb
}

func (sb *SignalBuilder) AvailableLiquidity(liq decimal.Decimal) *SignalBuilder {
	sb.signal.AvailableLiquidity = liq
	return sb
}

// Build returns the completed signal, stamped with the current time.
func (sb *SignalBuilder) Build() types.ExecutionSignal {
	sb.signal.Timestamp = time.Now()
	return sb.signal
}
