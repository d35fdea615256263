package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

func newTestBook(t *testing.T) (*Book, *binmath.Calculator) {
	t.Helper()
	env := risk.NewEnvelope(types.RiskEnvelope{
		MaxPositionSize:      decimal.NewFromInt(100000),
		MaxTotalExposure:     decimal.NewFromInt(1000000),
		MaxActiveOrders:      100,
		MaxConsecutiveLosses: 10,
		PositionCooldown:     time.Millisecond,
	})
	b := New(env, stats.NewCounters())
	calc, err := binmath.New(20, decimal.NewFromInt(100))
	require.NoError(t, err)
	b.RegisterPool("pool1", calc)
	return b, calc
}

func TestCreateLimitAndCancel(t *testing.T) {
	b, _ := newTestBook(t)

	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusPending, order.Status)

	require.NoError(t, b.CancelOrder(order.ID))
	got, ok := b.Get(order.ID)
	require.True(t, ok)
	require.Equal(t, types.OrderStatusCancelled, got.Status)
}

func TestCreateDcaLadderCreatesChildren(t *testing.T) {
	b, _ := newTestBook(t)

	strat, err := b.CreateDcaLadder(types.DcaConfig{
		Pool:         "pool1",
		Side:         types.SideBuy,
		TotalAmount:  decimal.NewFromInt(1000),
		OrderCount:   10,
		LowBinID:     90,
		HighBinID:    100,
		Distribution: types.UniformDistribution(),
	})
	require.NoError(t, err)
	require.Len(t, strat.ChildOrderIDs, 10)
	require.Equal(t, 10, len(b.ListActive("pool1")))
}

func TestCreateGridCreatesSymmetricLevels(t *testing.T) {
	b, _ := newTestBook(t)

	strat, err := b.CreateGrid(types.GridConfig{
		Pool:           "pool1",
		CenterPrice:    decimal.NewFromInt(100),
		SpacingBps:     100,
		BuyLevels:      3,
		SellLevels:     3,
		AmountPerLevel: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Len(t, strat.ChildOrderIDs, 6)
}

func TestCancelCancelledOrderIsNoop(t *testing.T) {
	b, _ := newTestBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	require.NoError(t, b.CancelOrder(order.ID))
	require.NoError(t, b.CancelOrder(order.ID))
	got, _ := b.Get(order.ID)
	require.Equal(t, types.OrderStatusCancelled, got.Status)
}

func TestCreateDcaLadderAllOrNothing(t *testing.T) {
	b, _ := newTestBook(t)
	b.SetActiveBin("pool1", 95) // bins 95..99 sit at/above active, rejected for buys

	_, err := b.CreateDcaLadder(types.DcaConfig{
		Pool:         "pool1",
		Side:         types.SideBuy,
		TotalAmount:  decimal.NewFromInt(1000),
		OrderCount:   10,
		LowBinID:     90,
		HighBinID:    100,
		Distribution: types.UniformDistribution(),
	})
	require.Error(t, err)
	require.True(t, stats.Is(err, stats.KindInvalidPlacement))
	require.Empty(t, b.ListActive("pool1"))
}

func TestCreateDcaLadderReleasesExposureOnFailure(t *testing.T) {
	b, _ := newTestBook(t)
	b.SetActiveBin("pool1", 95)

	_, err := b.CreateDcaLadder(types.DcaConfig{
		Pool:         "pool1",
		Side:         types.SideBuy,
		TotalAmount:  decimal.NewFromInt(1000),
		OrderCount:   10,
		LowBinID:     90,
		HighBinID:    100,
		Distribution: types.UniformDistribution(),
	})
	require.Error(t, err)
	require.True(t, b.envelope.TotalExposure().IsZero())
	require.Equal(t, 0, b.envelope.ActiveOrders())
}

func TestCancelStrategyCancelsChildren(t *testing.T) {
	b, _ := newTestBook(t)
	strat, err := b.CreateDcaLadder(types.DcaConfig{
		Pool:         "pool1",
		Side:         types.SideBuy,
		TotalAmount:  decimal.NewFromInt(1000),
		OrderCount:   10,
		LowBinID:     90,
		HighBinID:    100,
		Distribution: types.UniformDistribution(),
	})
	require.NoError(t, err)

	require.NoError(t, b.CancelStrategy(strat.ID))

	status, err := b.StrategyStatus(strat.ID)
	require.NoError(t, err)
	require.Equal(t, types.StrategyStatusCancelled, status.Status)
	for _, id := range status.ChildOrderIDs {
		child, ok := b.Get(id)
		require.True(t, ok)
		require.Equal(t, types.OrderStatusCancelled, child.Status)
	}
}

func TestOnFillMarksOrderFilled(t *testing.T) {
	b, _ := newTestBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	err = b.OnFill(types.Fill{OrderID: order.ID, Amount: decimal.NewFromInt(10), Price: order.TargetPrice, Fee: decimal.NewFromFloat(0.1)}, decimal.Zero)
	require.NoError(t, err)

	got, _ := b.Get(order.ID)
	require.Equal(t, types.OrderStatusFilled, got.Status)
}

func TestOnFillPartial(t *testing.T) {
	b, _ := newTestBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	err = b.OnFill(types.Fill{OrderID: order.ID, Amount: decimal.NewFromInt(4), Price: order.TargetPrice, Fee: decimal.Zero}, decimal.Zero)
	require.NoError(t, err)

	got, _ := b.Get(order.ID)
	require.Equal(t, types.OrderStatusPartiallyFilled, got.Status)
}

func TestExpireStaleExpiresPastDeadline(t *testing.T) {
	b, _ := newTestBook(t)
	past := time.Now().Add(-time.Minute)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, &past)
	require.NoError(t, err)

	n := b.ExpireStale(time.Now())
	require.Equal(t, 1, n)
	got, _ := b.Get(order.ID)
	require.Equal(t, types.OrderStatusExpired, got.Status)
}

func TestApplyTrailingStopRatchetsUp(t *testing.T) {
	order := &types.RangeOrder{}
	cfg := TrailingStopConfig{TrailingPct: decimal.NewFromFloat(0.1), StartThreshold: decimal.NewFromFloat(0.05)}
	entry := decimal.NewFromInt(100)

	// Not yet profitable enough to arm.
	triggered := ApplyTrailingStop(order, cfg, entry, decimal.NewFromInt(102))
	require.False(t, triggered)
	require.True(t, order.StopPrice.IsZero())

	// Profit exceeds threshold: stop arms at 90% of high.
	triggered = ApplyTrailingStop(order, cfg, entry, decimal.NewFromInt(120))
	require.False(t, triggered)
	require.True(t, order.StopPrice.Equal(decimal.NewFromInt(108)))

	// Price pulls back through the stop.
	triggered = ApplyTrailingStop(order, cfg, entry, decimal.NewFromInt(107))
	require.True(t, triggered)
}

func TestCheckFixedExitBuySide(t *testing.T) {
	exit, reason := CheckFixedExit(types.SideBuy, decimal.NewFromInt(110), decimal.NewFromInt(90), decimal.NewFromInt(111))
	require.True(t, exit)
	require.Equal(t, "take_profit", reason)
}

func TestCreateLimitSellAtActiveBinRejected(t *testing.T) {
	b, _ := newTestBook(t)
	b.SetActiveBin("pool1", 100)

	_, err := b.CreateLimit("pool1", types.SideSell, types.OrderTypeLimitSell, 100, decimal.NewFromInt(10), 50, nil)
	require.Error(t, err)
	require.True(t, stats.Is(err, stats.KindInvalidPlacement))
}

func TestCreateLimitBuyBelowActiveBinAccepted(t *testing.T) {
	b, _ := newTestBook(t)
	b.SetActiveBin("pool1", 100)

	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)
	require.Equal(t, int32(95), order.BinID)
}

func TestCreateLimitSkipsPlacementCheckWhenActiveBinUnknown(t *testing.T) {
	b, _ := newTestBook(t)
	_, err := b.CreateLimit("pool1", types.SideSell, types.OrderTypeLimitSell, 50, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)
}

func TestCreateTpSlAttachesExitOrders(t *testing.T) {
	b, _ := newTestBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	require.NoError(t, b.OnFill(types.Fill{OrderID: order.ID, Amount: decimal.NewFromInt(10), Price: order.TargetPrice, Fee: decimal.Zero}, decimal.Zero))
	time.Sleep(2 * time.Millisecond) // clear the pool's post-fill cooldown window

	ids, err := b.CreateTpSl(order.ID, decimal.NewFromInt(150), decimal.NewFromInt(110), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, id := range ids {
		exit, ok := b.Get(id)
		require.True(t, ok)
		require.Equal(t, types.SideSell, exit.Side)
	}
}

func TestCreateTpSlRejectsUnfilledPosition(t *testing.T) {
	b, _ := newTestBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	_, err = b.CreateTpSl(order.ID, decimal.NewFromInt(150), decimal.Zero, decimal.Zero, decimal.Zero)
	require.Error(t, err)
}
