package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/types"
)

func sampleLimits() types.RiskEnvelope {
	return types.RiskEnvelope{
		MaxPositionSize:      decimal.NewFromInt(1000),
		MaxTotalExposure:     decimal.NewFromInt(5000),
		MaxActiveOrders:      3,
		MaxSlippageBps:       50,
		DailyLossLimit:       decimal.NewFromInt(200),
		GlobalStopLossPct:    decimal.NewFromFloat(0.1),
		MaxConsecutiveLosses: 2,
		PositionCooldown:     time.Millisecond,
	}
}

func TestEnvelopeAdmitsWithinLimits(t *testing.T) {
	env := NewEnvelope(sampleLimits())
	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)})
	require.NoError(t, err)
	require.True(t, env.TotalExposure().Equal(decimal.NewFromInt(100)))
	require.Equal(t, 1, env.ActiveOrders())
}

func TestEnvelopeRejectsOverPositionSize(t *testing.T) {
	env := NewEnvelope(sampleLimits())
	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(1000), TargetPrice: decimal.NewFromInt(10)})
	require.Error(t, err)
}

func TestEnvelopeRejectsOverTotalExposure(t *testing.T) {
	limits := sampleLimits()
	limits.MaxActiveOrders = 0 // unlimited order count for this test, exposure is the limiting factor
	env := NewEnvelope(limits)
	for i := 0; i < 5; i++ {
		err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(90), TargetPrice: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}
	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(90), TargetPrice: decimal.NewFromInt(10)})
	require.Error(t, err)
}

func TestEnvelopeRejectsOverMaxActiveOrders(t *testing.T) {
	env := NewEnvelope(sampleLimits())
	for i := 0; i < 3; i++ {
		err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(1), TargetPrice: decimal.NewFromInt(1)})
		require.NoError(t, err)
	}
	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(1), TargetPrice: decimal.NewFromInt(1)})
	require.Error(t, err)
}

func TestEnvelopeCircuitBreakerBlocksAdmit(t *testing.T) {
	env := NewEnvelope(sampleLimits())
	env.Breaker().RecordLoss(decimal.NewFromInt(1))
	env.Breaker().RecordLoss(decimal.NewFromInt(1))
	require.True(t, env.Breaker().IsTripped())

	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(1), TargetPrice: decimal.NewFromInt(1)})
	require.Error(t, err)
}

func TestEnvelopeReconcileTripsBreakerOnConsecutiveLosses(t *testing.T) {
	env := NewEnvelope(sampleLimits())
	require.NoError(t, env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)}))
	env.Reconcile("p1", decimal.Zero, decimal.NewFromInt(-10), true)

	require.NoError(t, env.Admit(PlacementRequest{Pool: "p2", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)}))
	env.Reconcile("p2", decimal.Zero, decimal.NewFromInt(-10), true)

	require.True(t, env.Breaker().IsTripped())
}

func TestEnvelopePartialFillDoesNotCountAsExit(t *testing.T) {
	limits := sampleLimits()
	limits.PositionCooldown = time.Hour
	limits.MaxConsecutiveLosses = 2
	env := NewEnvelope(limits)

	require.NoError(t, env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)}))

	// Partial fills carry a fee-sized negative PnL; they must neither feed
	// the loss streak nor start the pool cooldown.
	env.Reconcile("p1", decimal.NewFromInt(10), decimal.NewFromFloat(-0.1), false)
	env.Reconcile("p1", decimal.NewFromInt(10), decimal.NewFromFloat(-0.1), false)
	env.Reconcile("p1", decimal.NewFromInt(10), decimal.NewFromFloat(-0.1), false)

	require.False(t, env.Breaker().IsTripped())
	require.Equal(t, 1, env.ActiveOrders())

	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)})
	require.NoError(t, err, "no cooldown should be in effect before the position closes")
}

func TestEnvelopePoolCooldownBlocksImmediateReentry(t *testing.T) {
	limits := sampleLimits()
	limits.PositionCooldown = time.Hour
	env := NewEnvelope(limits)

	require.NoError(t, env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)}))
	env.Reconcile("p1", decimal.Zero, decimal.NewFromInt(5), true)

	err := env.Admit(PlacementRequest{Pool: "p1", Side: types.SideBuy, Amount: decimal.NewFromInt(10), TargetPrice: decimal.NewFromInt(10)})
	require.Error(t, err)
}

func TestCircuitBreakerDailyLossLimit(t *testing.T) {
	cb := NewCircuitBreaker(10, 0.05, time.Minute)
	require.False(t, cb.Check(decimal.NewFromInt(1000)))
	cb.RecordLoss(decimal.NewFromInt(60))
	require.True(t, cb.Check(decimal.NewFromInt(1000)))
}

func TestCircuitBreakerForceReset(t *testing.T) {
	cb := NewCircuitBreaker(1, 0, time.Hour)
	cb.RecordLoss(decimal.NewFromInt(1))
	require.True(t, cb.IsTripped())
	cb.ForceReset()
	require.False(t, cb.IsTripped())
}
