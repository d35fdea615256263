package poolgraph

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/types"
)

func samplePools() []*types.Pool {
	return []*types.Pool{
		{Address: "pool_ab", TokenX: "A", TokenY: "B", FeeTier: decimal.NewFromFloat(0.003), TVLUsd: decimal.NewFromInt(500_000)},
		{Address: "pool_bc", TokenX: "B", TokenY: "C", FeeTier: decimal.NewFromFloat(0.003), TVLUsd: decimal.NewFromInt(500_000)},
		{Address: "pool_ac", TokenX: "A", TokenY: "C", FeeTier: decimal.NewFromFloat(0.003), TVLUsd: decimal.NewFromInt(10_000)},
	}
}

func TestFindShortestPath(t *testing.T) {
	g := NewGraph()
	g.Rebuild(samplePools(), decimal.Zero)

	path, ok := g.FindShortestPath("A", "C", 3)
	require.True(t, ok)
	require.NotEmpty(t, path.Edges)
	require.Equal(t, "C", path.Edges[len(path.Edges)-1].To)
}

func TestFindShortestPathUnreachable(t *testing.T) {
	g := NewGraph()
	g.Rebuild(samplePools(), decimal.Zero)

	_, ok := g.FindShortestPath("A", "Z", 3)
	require.False(t, ok)
}

func TestFindAlternativePaths(t *testing.T) {
	g := NewGraph()
	g.Rebuild(samplePools(), decimal.Zero)

	paths := g.FindAlternativePaths("A", "C", 5, 3)
	require.NotEmpty(t, paths)
}

func TestArbitrageCyclesDiscardUnprofitable(t *testing.T) {
	g := NewGraph()
	g.Rebuild(samplePools(), decimal.Zero)

	// With a neutral rate of 1 on every edge and positive fees, every
	// cycle's rate product is < 1 and must be discarded entirely.
	cycles := g.DetectArbitrageCycles(4)
	require.Empty(t, cycles)
}

func TestArbitrageCyclesDetectMispricedTriangle(t *testing.T) {
	// A->B at 2, B->C at 2, A->C at 3: going A->B->C->A multiplies
	// 2 * 2 * 1/3 ~= 1.33, comfortably profitable after three 30bps fees.
	pools := []*types.Pool{
		{Address: "pool_ab", TokenX: "A", TokenY: "B", BinStep: 20, BasePrice: decimal.NewFromInt(2), FeeTier: decimal.NewFromFloat(0.003), TVLUsd: decimal.NewFromInt(500_000)},
		{Address: "pool_bc", TokenX: "B", TokenY: "C", BinStep: 20, BasePrice: decimal.NewFromInt(2), FeeTier: decimal.NewFromFloat(0.003), TVLUsd: decimal.NewFromInt(500_000)},
		{Address: "pool_ac", TokenX: "A", TokenY: "C", BinStep: 20, BasePrice: decimal.NewFromInt(3), FeeTier: decimal.NewFromFloat(0.003), TVLUsd: decimal.NewFromInt(500_000)},
	}
	g := NewGraph()
	g.Rebuild(pools, decimal.Zero)

	cycles := g.DetectArbitrageCycles(4)
	require.NotEmpty(t, cycles)
	for _, c := range cycles {
		require.True(t, c.RateProduct.GreaterThan(decimal.NewFromInt(1)))
		require.Equal(t, c.Hops[0].InToken, c.Hops[len(c.Hops)-1].OutToken)
	}
}

func TestRouteConfidenceBounded(t *testing.T) {
	g := NewGraph()
	g.Rebuild(samplePools(), decimal.Zero)
	path, ok := g.FindShortestPath("A", "C", 3)
	require.True(t, ok)

	conf := RouteConfidence(path)
	require.True(t, conf.GreaterThanOrEqual(decimal.Zero))
	require.True(t, conf.LessThanOrEqual(decimal.NewFromInt(1)))
}
