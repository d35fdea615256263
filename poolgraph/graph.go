// Package poolgraph builds a token connectivity graph over a venue's pools
// and answers shortest-path, alternative-path, and arbitrage-cycle queries
// over it.
package poolgraph

import (
	"container/heap"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/types"
)

// Edge is one pool connecting two tokens.
type Edge struct {
	Pool        string
	From        string
	To          string
	Weight      decimal.Decimal // lower is better: derived from fee + inverse liquidity
	PriceImpact decimal.Decimal
	Liquidity   decimal.Decimal
	FeeTier     decimal.Decimal
	Rate        decimal.Decimal // effective exchange rate From->To at current state
}

// snapshot is the immutable graph built by the most recent Rebuild.
type snapshot struct {
	adjacency map[string][]Edge
}

// Graph is an undirected multigraph over tokens, rebuilt atomically from a
// venue pool listing. Readers always see a consistent snapshot, even while a
// Rebuild is in flight.
type Graph struct {
	current atomic.Pointer[snapshot]
}

// NewGraph returns an empty graph; call Rebuild before issuing queries.
func NewGraph() *Graph {
	g := &Graph{}
	g.current.Store(&snapshot{adjacency: map[string][]Edge{}})
	return g
}

// Rebuild replaces the graph's adjacency in one atomic pointer swap from a
// fresh pool listing. minLiquidity excludes pools below the configured
// liquidity floor.
func (g *Graph) Rebuild(pools []*types.Pool, minLiquidity decimal.Decimal) {
	adj := map[string][]Edge{}
	for _, p := range pools {
		if p.TVLUsd.LessThan(minLiquidity) {
			continue
		}
		weight := edgeWeight(p)
		impact := decimal.NewFromFloat(0.0)
		if p.TVLUsd.IsPositive() {
			impact = decimal.NewFromFloat(1).Div(p.TVLUsd)
		}
		rate, inverse := poolRates(p)
		fwd := Edge{Pool: p.Address, From: p.TokenX, To: p.TokenY, Weight: weight, PriceImpact: impact, Liquidity: p.TVLUsd, FeeTier: p.FeeTier, Rate: rate}
		bwd := Edge{Pool: p.Address, From: p.TokenY, To: p.TokenX, Weight: weight, PriceImpact: impact, Liquidity: p.TVLUsd, FeeTier: p.FeeTier, Rate: inverse}
		adj[p.TokenX] = append(adj[p.TokenX], fwd)
		adj[p.TokenY] = append(adj[p.TokenY], bwd)
	}
	g.current.Store(&snapshot{adjacency: adj})
}

// poolRates derives the X->Y exchange rate from the pool's active-bin price
// and its Y->X inverse. Pools without usable bin parameters fall back to a
// neutral rate of 1.
func poolRates(p *types.Pool) (rate, inverse decimal.Decimal) {
	rate = decimal.NewFromInt(1)
	if calc, err := binmath.New(p.BinStep, p.BasePrice); err == nil {
		if price, err := calc.PriceAt(p.ActiveBinID); err == nil && price.IsPositive() {
			rate = price
		}
	}
	return rate, decimal.NewFromInt(1).Div(rate)
}

func edgeWeight(p *types.Pool) decimal.Decimal {
	// Lower weight for higher liquidity and lower fees.
	liqTerm := decimal.NewFromInt(1)
	if p.TVLUsd.IsPositive() {
		liqTerm = decimal.NewFromInt(1).Div(p.TVLUsd.Add(decimal.NewFromInt(1)))
	}
	return p.FeeTier.Add(liqTerm)
}

// Neighbors returns the edges leaving token, using the current snapshot.
func (g *Graph) Neighbors(token string) []Edge {
	snap := g.current.Load()
	edges := snap.adjacency[token]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Path is an ordered sequence of edges from a source to a destination token.
type Path struct {
	Edges []Edge
	Cost  decimal.Decimal
}

type heapItem struct {
	token string
	cost  float64
	path  []Edge
	index int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int            { return len(h) }
func (h priorityHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h priorityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *priorityHeap) Push(x interface{}) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// FindShortestPath runs Dijkstra over edge weight, bounded to maxHops.
func (g *Graph) FindShortestPath(from, to string, maxHops int) (*Path, bool) {
	if from == to {
		return &Path{Edges: nil, Cost: decimal.Zero}, true
	}
	snap := g.current.Load()

	pq := &priorityHeap{}
	heap.Init(pq)
	heap.Push(pq, &heapItem{token: from, cost: 0, path: nil})

	best := map[string]float64{from: 0}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*heapItem)
		if cur.token == to {
			edges := make([]Edge, len(cur.path))
			copy(edges, cur.path)
			return &Path{Edges: edges, Cost: decimal.NewFromFloat(cur.cost)}, true
		}
		if len(cur.path) >= maxHops {
			continue
		}
		for _, e := range snap.adjacency[cur.token] {
			w, _ := e.Weight.Float64()
			nextCost := cur.cost + w
			if known, ok := best[e.To]; ok && known <= nextCost {
				continue
			}
			best[e.To] = nextCost
			nextPath := make([]Edge, len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath[len(cur.path)] = e
			heap.Push(pq, &heapItem{token: e.To, cost: nextCost, path: nextPath})
		}
	}
	return nil, false
}

// FindAlternativePaths enumerates up to maxAlternatives simple paths from
// from to to via bounded depth-first search, each visiting no token twice.
func (g *Graph) FindAlternativePaths(from, to string, maxAlternatives, maxHops int) []*Path {
	snap := g.current.Load()
	var results []*Path
	visited := map[string]bool{from: true}

	var dfs func(token string, path []Edge, cost decimal.Decimal)
	dfs = func(token string, path []Edge, cost decimal.Decimal) {
		if len(results) >= maxAlternatives {
			return
		}
		if token == to && len(path) > 0 {
			cp := make([]Edge, len(path))
			copy(cp, path)
			results = append(results, &Path{Edges: cp, Cost: cost})
			return
		}
		if len(path) >= maxHops {
			return
		}
		for _, e := range snap.adjacency[token] {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			dfs(e.To, append(path, e), cost.Add(e.Weight))
			visited[e.To] = false
			if len(results) >= maxAlternatives {
				return
			}
		}
	}
	dfs(from, nil, decimal.Zero)
	return results
}

// RouteConfidence scores a path in [0, 1]: shorter paths and deeper
// liquidity score higher, larger price impact scores lower.
func RouteConfidence(p *Path) decimal.Decimal {
	if p == nil || len(p.Edges) == 0 {
		return decimal.Zero
	}
	lengthPenalty := decimal.NewFromFloat(1.0 / float64(len(p.Edges)))
	liquidityBonus := decimal.Zero
	impactPenalty := decimal.Zero
	for _, e := range p.Edges {
		liquidityBonus = liquidityBonus.Add(e.Liquidity)
		impactPenalty = impactPenalty.Add(e.PriceImpact)
	}
	avgImpactPenalty := impactPenalty.Div(decimal.NewFromInt(int64(len(p.Edges))))
	score := lengthPenalty.Mul(decimal.NewFromFloat(0.5)).
		Add(decimal.NewFromFloat(0.3)).
		Sub(avgImpactPenalty.Mul(decimal.NewFromFloat(0.2)))
	if liquidityBonus.GreaterThan(decimal.NewFromInt(1_000_000)) {
		score = score.Add(decimal.NewFromFloat(0.2))
	}
	if score.GreaterThan(decimal.NewFromInt(1)) {
		score = decimal.NewFromInt(1)
	}
	if score.IsNegative() {
		score = decimal.Zero
	}
	return score
}
