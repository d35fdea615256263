package poolgraph

import (
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/types"
)

// EstimateSwap applies the edge's fee and a liquidity-weighted price-impact
// estimate to amountIn, composing binmath.ExpectedOutput.
func EstimateSwap(e Edge, amountIn decimal.Decimal) decimal.Decimal {
	impactFactor := decimal.NewFromFloat(0.5)
	return binmath.ExpectedOutput(amountIn, e.Rate, e.FeeTier, e.Liquidity, impactFactor)
}

// DetectArbitrageCycles enumerates simple cycles up to maxLength hops
// starting from each node, computing the product of effective rates along
// each cycle and discarding any whose product is <= 1.
func (g *Graph) DetectArbitrageCycles(maxLength int) []types.ArbitrageCycle {
	snap := g.current.Load()
	var cycles []types.ArbitrageCycle
	seen := map[string]bool{}

	for start := range snap.adjacency {
		var dfs func(token string, path []Edge, rateProduct decimal.Decimal, visited map[string]bool)
		dfs = func(token string, path []Edge, rateProduct decimal.Decimal, visited map[string]bool) {
			if len(path) > 0 && token == start {
				if rateProduct.GreaterThan(decimal.NewFromInt(1)) {
					key := cycleKey(path)
					if !seen[key] {
						seen[key] = true
						cycles = append(cycles, toArbitrageCycle(path, rateProduct))
					}
				}
				return
			}
			if len(path) >= maxLength {
				return
			}
			for _, e := range snap.adjacency[token] {
				if visited[e.To] && e.To != start {
					continue
				}
				if e.To == start && len(path) < 1 {
					continue
				}
				nextVisited := make(map[string]bool, len(visited)+1)
				for k, v := range visited {
					nextVisited[k] = v
				}
				nextVisited[e.To] = true
				dfs(e.To, append(path, e), rateProduct.Mul(e.Rate).Mul(decimal.NewFromInt(1).Sub(e.FeeTier)), nextVisited)
			}
		}
		dfs(start, nil, decimal.NewFromInt(1), map[string]bool{start: true})
	}
	return cycles
}

func cycleKey(path []Edge) string {
	key := ""
	for _, e := range path {
		key += e.Pool + ">"
	}
	return key
}

func toArbitrageCycle(path []Edge, rateProduct decimal.Decimal) types.ArbitrageCycle {
	hops := make([]types.ArbitrageHop, len(path))
	for i, e := range path {
		hops[i] = types.ArbitrageHop{
			Pool:        e.Pool,
			InToken:     e.From,
			OutToken:    e.To,
			ExpectedIn:  decimal.NewFromInt(1),
			ExpectedOut: e.Rate,
			PriceImpact: e.PriceImpact,
		}
	}
	return types.ArbitrageCycle{Hops: hops, RateProduct: rateProduct}
}
