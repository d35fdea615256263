package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/types"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	return s
}

func TestSaveAndLoadOpenOrders(t *testing.T) {
	s := newTestStore(t)

	pending := types.RangeOrder{
		ID: "ord1", Pool: "pool1", OrderType: types.OrderTypeLimitBuy, Side: types.SideBuy,
		BinID: 95, TargetPrice: decimal.NewFromInt(100), AmountIn: decimal.NewFromInt(10),
		Status: types.OrderStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	filled := types.RangeOrder{
		ID: "ord2", Pool: "pool1", OrderType: types.OrderTypeLimitBuy, Side: types.SideBuy,
		BinID: 90, TargetPrice: decimal.NewFromInt(100), AmountIn: decimal.NewFromInt(10),
		FilledAmount: decimal.NewFromInt(10), Status: types.OrderStatusFilled,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	require.NoError(t, s.SaveOrder(pending))
	require.NoError(t, s.SaveOrder(filled))

	open, err := s.LoadOpenOrders()
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "ord1", open[0].ID)
	require.True(t, open[0].TargetPrice.Equal(decimal.NewFromInt(100)))
}

func TestSaveAndLoadActiveStrategies(t *testing.T) {
	s := newTestStore(t)

	strat := types.Strategy{
		ID: "dca1", Kind: "dca", Pool: "pool1", Status: types.StrategyStatusActive,
		ChildOrderIDs: []string{"ord1", "ord2", "ord3"},
		CreatedAt:     time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.SaveStrategy(strat))

	loaded, err := s.LoadActiveStrategies()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, []string{"ord1", "ord2", "ord3"}, loaded[0].ChildOrderIDs)
}

func TestSaveAndLoadRiskState(t *testing.T) {
	s := newTestStore(t)

	state := risk.State{
		TotalExposure: decimal.NewFromInt(5000), ActiveOrders: 3,
		DailyPnL: decimal.NewFromInt(-200), LastResetDay: 42, ConsecutiveLosses: 2,
	}
	require.NoError(t, s.SaveRiskState(state))

	loaded, err := s.LoadRiskState()
	require.NoError(t, err)
	require.True(t, loaded.TotalExposure.Equal(decimal.NewFromInt(5000)))
	require.Equal(t, 3, loaded.ActiveOrders)
	require.Equal(t, 2, loaded.ConsecutiveLosses)
}

func TestLoadRiskStateEmptyReturnsZeroValue(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.LoadRiskState()
	require.NoError(t, err)
	require.True(t, loaded.TotalExposure.IsZero())
}

func TestSaveFillAppends(t *testing.T) {
	s := newTestStore(t)
	fill := types.Fill{OrderID: "ord1", Amount: decimal.NewFromInt(5), Price: decimal.NewFromInt(100), Timestamp: time.Now()}
	require.NoError(t, s.SaveFill(fill))

	var count int64
	s.db.Model(&fillRecord{}).Count(&count)
	require.Equal(t, int64(1), count)
}
