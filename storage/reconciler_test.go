package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/book"
	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

func TestRecoverOnStartupRestoresOrdersAndSkipsUnknownPool(t *testing.T) {
	s := newTestStore(t)

	known := types.RangeOrder{
		ID: "ord1", Pool: "pool1", OrderType: types.OrderTypeLimitBuy, Side: types.SideBuy,
		BinID: 95, TargetPrice: decimal.NewFromInt(100), AmountIn: decimal.NewFromInt(10),
		Status: types.OrderStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	unknownPool := types.RangeOrder{
		ID: "ord2", Pool: "pool-ghost", OrderType: types.OrderTypeLimitBuy, Side: types.SideBuy,
		BinID: 10, TargetPrice: decimal.NewFromInt(100), AmountIn: decimal.NewFromInt(10),
		Status: types.OrderStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.SaveOrder(known))
	require.NoError(t, s.SaveOrder(unknownPool))
	require.NoError(t, s.SaveRiskState(risk.State{TotalExposure: decimal.NewFromInt(1000), ActiveOrders: 1}))

	env := risk.NewEnvelope(types.RiskEnvelope{
		MaxPositionSize:  decimal.NewFromInt(1_000_000),
		MaxTotalExposure: decimal.NewFromInt(1_000_000),
		MaxActiveOrders:  100,
	})
	b := book.New(env, stats.NewCounters())
	calc, err := binmath.New(20, decimal.NewFromInt(100))
	require.NoError(t, err)
	b.RegisterPool("pool1", calc)

	rec := NewReconciler(s, b, env)
	n, err := rec.RecoverOnStartup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok := b.Get("ord1")
	require.True(t, ok)
	_, ok = b.Get("ord2")
	require.False(t, ok)

	require.True(t, env.TotalExposure().Equal(decimal.NewFromInt(1000)))
}

func TestRecoverOnStartupNilStoreIsNoOp(t *testing.T) {
	env := risk.NewEnvelope(types.RiskEnvelope{MaxPositionSize: decimal.NewFromInt(1), MaxTotalExposure: decimal.NewFromInt(1)})
	b := book.New(env, stats.NewCounters())

	rec := NewReconciler(nil, b, env)
	n, err := rec.RecoverOnStartup(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}
