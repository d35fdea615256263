package binmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPriceAtBinRoundTrip(t *testing.T) {
	c, err := New(20, decimal.NewFromInt(100))
	require.NoError(t, err)

	for _, b := range []int32{-50, -1, 0, 1, 50, 95} {
		price, err := c.PriceAt(b)
		require.NoError(t, err)
		got, err := c.BinAt(price)
		require.NoError(t, err)
		require.Equal(t, b, got, "round trip for bin %d", b)
	}
}

func TestPriceAtMonotone(t *testing.T) {
	c, err := New(20, decimal.NewFromInt(100))
	require.NoError(t, err)

	for b := int32(-10); b < 10; b++ {
		p1, err := c.PriceAt(b)
		require.NoError(t, err)
		p2, err := c.PriceAt(b + 1)
		require.NoError(t, err)
		require.True(t, p2.GreaterThan(p1))
	}
}

func TestLimitBuyFillPrice(t *testing.T) {
	// bin_step=20 bps, base=100: price_at(95) ~= 120.8.
	c, err := New(20, decimal.NewFromInt(100))
	require.NoError(t, err)

	price, err := c.PriceAt(95)
	require.NoError(t, err)
	f, _ := price.Float64()
	require.InDelta(t, 120.8, f, 1.0)
}

func TestDcaDistributeUniform(t *testing.T) {
	dist, err := DcaDistribute(LadderSpec{
		Total:      decimal.NewFromInt(1000),
		LowBin:     90,
		HighBin:    100,
		OrderCount: 10,
		Shape:      "uniform",
	})
	require.NoError(t, err)
	require.Len(t, dist, 10)

	sum := decimal.Zero
	for b := int32(90); b < 100; b++ {
		amt, ok := dist[b]
		require.True(t, ok)
		require.True(t, amt.Equal(decimal.NewFromInt(100)))
		sum = sum.Add(amt)
	}
	require.True(t, sum.Equal(decimal.NewFromInt(1000)))
}

func TestDcaDistributeInvalidRange(t *testing.T) {
	_, err := DcaDistribute(LadderSpec{Total: decimal.NewFromInt(1000), LowBin: 100, HighBin: 100, Shape: "uniform"})
	require.Error(t, err)
}

func TestDcaDistributeWeightedSumsToTotal(t *testing.T) {
	dist, err := DcaDistribute(LadderSpec{Total: decimal.NewFromInt(1000), LowBin: 0, HighBin: 5, Shape: "weighted", Bias: 2.0})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, amt := range dist {
		sum = sum.Add(amt)
	}
	require.True(t, sum.Equal(decimal.NewFromInt(1000)))
}

func TestDcaDistributeSpacedOrderCount(t *testing.T) {
	dist, err := DcaDistribute(LadderSpec{
		Total:      decimal.NewFromInt(500),
		LowBin:     90,
		HighBin:    100,
		OrderCount: 5,
		Shape:      "uniform",
	})
	require.NoError(t, err)
	require.Len(t, dist, 5)
	for _, b := range []int32{90, 92, 94, 96, 98} {
		amt, ok := dist[b]
		require.True(t, ok, "expected allocation at bin %d", b)
		require.True(t, amt.Equal(decimal.NewFromInt(100)))
	}
}

func TestDcaDistributeMinViableFoldsIntoNeighbor(t *testing.T) {
	// fibonacci over 5 bins: weights 5,3,2,1,1 of 12. With total 120 the tail
	// bins get 10 each; a min-viable of 15 folds them into the nearest kept bin.
	dist, err := DcaDistribute(LadderSpec{
		Total:     decimal.NewFromInt(120),
		LowBin:    0,
		HighBin:   5,
		Shape:     "fibonacci",
		MinViable: decimal.NewFromInt(15),
	})
	require.NoError(t, err)
	require.Less(t, len(dist), 5)

	sum := decimal.Zero
	for _, amt := range dist {
		require.True(t, amt.GreaterThanOrEqual(decimal.NewFromInt(15)))
		sum = sum.Add(amt)
	}
	require.True(t, sum.Equal(decimal.NewFromInt(120)))
}

func TestDcaDistributeOrderCountExceedingRangeRejected(t *testing.T) {
	_, err := DcaDistribute(LadderSpec{Total: decimal.NewFromInt(100), LowBin: 0, HighBin: 3, OrderCount: 5, Shape: "uniform"})
	require.Error(t, err)
}

func TestGridLevelsSpacingClamped(t *testing.T) {
	c, err := New(20, decimal.NewFromInt(100))
	require.NoError(t, err)

	buys, sells, err := c.GridLevels(decimal.NewFromInt(100), 5, 2, 3)
	require.NoError(t, err)
	require.Len(t, buys, 2)
	require.Len(t, sells, 3)
	// spacing_bps(5) < bin_step(20) clamps to at least 1 bin spacing.
	require.NotEqual(t, buys[0], buys[1])
}

func TestPriceImpactCapped(t *testing.T) {
	impact := PriceImpact(decimal.NewFromInt(1_000_000), decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.True(t, impact.Equal(decimal.NewFromFloat(0.5)))
}

func TestPriceImpactZeroLiquidity(t *testing.T) {
	impact := PriceImpact(decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(1))
	require.True(t, impact.Equal(decimal.NewFromFloat(0.5)))
}
