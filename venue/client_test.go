package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

func TestMockClientSubmitThenStatus(t *testing.T) {
	m := NewMockClient(nil, decimal.NewFromInt(10_000))

	result, err := m.Submit(context.Background(), SubmitRequest{
		Pool:        "pool1",
		Side:        types.SideBuy,
		BinID:       95,
		AmountIn:    decimal.NewFromInt(10),
		TargetPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.True(t, result.FilledAmount.Equal(decimal.NewFromInt(10)))
	require.NotEmpty(t, result.TxHash)

	status, err := m.GetStatus(context.Background(), result.TxHash)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, status.Kind)
	require.True(t, status.Out.Equal(decimal.NewFromInt(1000)))
}

func TestMockClientGetStatusUnknownTx(t *testing.T) {
	m := NewMockClient(nil, decimal.Zero)
	_, err := m.GetStatus(context.Background(), "nope")
	require.Error(t, err)
	require.True(t, stats.Is(err, stats.KindNotFound))
}

func TestMockClientSimulate(t *testing.T) {
	m := NewMockClient(nil, decimal.Zero)

	sim, err := m.Simulate(context.Background(), SubmitRequest{
		Pool:        "pool1",
		AmountIn:    decimal.NewFromInt(5),
		TargetPrice: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	require.True(t, sim.Success)
	require.True(t, sim.ExpectedOut.Equal(decimal.NewFromInt(100)))

	rejected, err := m.Simulate(context.Background(), SubmitRequest{Pool: "pool1", AmountIn: decimal.Zero})
	require.NoError(t, err)
	require.False(t, rejected.Success)
}

func TestMockClientPositions(t *testing.T) {
	m := NewMockClient(nil, decimal.Zero)
	m.SeedPosition(PositionState{ID: "pos1", Pool: "pool1", AmountX: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100)})

	pos, err := m.GetPosition(context.Background(), "pos1")
	require.NoError(t, err)
	require.Equal(t, "pool1", pos.Pool)

	_, err = m.GetPosition(context.Background(), "pos2")
	require.True(t, stats.Is(err, stats.KindNotFound))
}

func TestMockClientListTokensDedupes(t *testing.T) {
	m := NewMockClient(nil, decimal.Zero)
	m.SeedPool(types.Pool{Address: "pool_ab", TokenX: "A", TokenY: "B"})
	m.SeedPool(types.Pool{Address: "pool_bc", TokenX: "B", TokenY: "C"})

	tokens, err := m.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 3)
}

func TestDecodeStreamEvent(t *testing.T) {
	ev, err := decodeStreamEvent(streamEventWire{
		Kind:        string(StreamActiveBinChanged),
		Pool:        "pool1",
		ActiveBinID: 42,
		Price:       "101.5",
	})
	require.NoError(t, err)
	require.Equal(t, StreamActiveBinChanged, ev.Kind)
	require.Equal(t, int32(42), ev.ActiveBinID)
	require.True(t, ev.Price.Equal(decimal.NewFromFloat(101.5)))

	_, err = decodeStreamEvent(streamEventWire{Kind: "ActiveBinChanged", Price: "not-a-number"})
	require.Error(t, err)
}
