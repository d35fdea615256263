package execution

import (
	"container/heap"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/book"
	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
	"github.com/dlmmcore/engine/venue"
)

func newTestEngineBook(t *testing.T) (*book.Book, *stats.Counters) {
	t.Helper()
	env := risk.NewEnvelope(types.RiskEnvelope{
		MaxPositionSize:      decimal.NewFromInt(1_000_000),
		MaxTotalExposure:     decimal.NewFromInt(10_000_000),
		MaxActiveOrders:      100,
		MaxConsecutiveLosses: 100,
		PositionCooldown:     time.Millisecond,
	})
	counters := stats.NewCounters()
	b := book.New(env, counters)
	calc, err := binmath.New(20, decimal.NewFromInt(100))
	require.NoError(t, err)
	b.RegisterPool("pool1", calc)
	return b, counters
}

// unreliableClient fails its first failN Submit calls with a retriable
// VenueUnavailable error, then succeeds.
type unreliableClient struct {
	mu    sync.Mutex
	calls []time.Time
	failN int
	snap  types.MarketSnapshot
}

func (c *unreliableClient) PoolSnapshot(ctx context.Context, pool string, binWindow int32) (types.MarketSnapshot, error) {
	return c.snap, nil
}

func (c *unreliableClient) GetPosition(ctx context.Context, id string) (venue.PositionState, error) {
	return venue.PositionState{}, stats.New(stats.KindNotFound, "no positions in test client")
}

func (c *unreliableClient) Simulate(ctx context.Context, req venue.SubmitRequest) (venue.SimulationResult, error) {
	return venue.SimulationResult{Success: true, ExpectedOut: req.AmountIn.Mul(req.TargetPrice)}, nil
}

func (c *unreliableClient) GetStatus(ctx context.Context, txHash string) (venue.SubmissionStatus, error) {
	return venue.SubmissionStatus{Kind: venue.StatusConfirmed}, nil
}

func (c *unreliableClient) ListTokens(ctx context.Context) ([]venue.TokenMeta, error) {
	return nil, nil
}

func (c *unreliableClient) Submit(ctx context.Context, req venue.SubmitRequest) (venue.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, time.Now())
	if len(c.calls) <= c.failN {
		return venue.SubmitResult{}, stats.New(stats.KindVenueUnavailable, "simulated venue outage")
	}
	return venue.SubmitResult{FilledAmount: req.AmountIn, FillPrice: req.TargetPrice, Fee: decimal.Zero, TxHash: "tx"}, nil
}

func (c *unreliableClient) Cancel(ctx context.Context, orderID string) error { return nil }

func (c *unreliableClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func (c *unreliableClient) ListPools(ctx context.Context) ([]types.Pool, error) {
	return nil, nil
}

func (c *unreliableClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestEngineRetryExhaustionFailsOrder(t *testing.T) {
	b, counters := newTestEngineBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	client := &unreliableClient{failN: 3}
	signals := make(chan types.ExecutionSignal, 1)

	cfg := DefaultConfig()
	cfg.MaxRetryAttempts = 2
	cfg.RetryDelay = 20 * time.Millisecond
	cfg.DispatchInterval = 5 * time.Millisecond
	cfg.EnableMevProtection = false
	cfg.MinLiquidityFloor = decimal.Zero

	eng := New(cfg, b, client, counters, signals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	signals <- types.ExecutionSignal{
		OrderID:            order.ID,
		Pool:               "pool1",
		Kind:               types.SignalPriceTarget,
		Urgency:            types.UrgencyHigh,
		AvailableLiquidity: decimal.NewFromInt(100),
		Timestamp:          time.Now(),
	}

	require.Eventually(t, func() bool {
		got, ok := b.Get(order.ID)
		return ok && got.Status == types.OrderStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 3, client.callCount())
	got, _ := b.Get(order.ID)
	require.NotEmpty(t, got.FailureReason)
}

func TestEngineSubmitsSuccessfullyOnFirstAttempt(t *testing.T) {
	b, counters := newTestEngineBook(t)
	order, err := b.CreateLimit("pool1", types.SideBuy, types.OrderTypeLimitBuy, 95, decimal.NewFromInt(10), 50, nil)
	require.NoError(t, err)

	client := &unreliableClient{failN: 0}
	signals := make(chan types.ExecutionSignal, 1)

	cfg := DefaultConfig()
	cfg.DispatchInterval = 5 * time.Millisecond
	cfg.EnableMevProtection = false
	cfg.MinLiquidityFloor = decimal.Zero

	eng := New(cfg, b, client, counters, signals)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	signals <- types.ExecutionSignal{
		OrderID:            order.ID,
		Pool:               "pool1",
		Kind:               types.SignalPriceTarget,
		Urgency:            types.UrgencyCritical,
		AvailableLiquidity: decimal.NewFromInt(100),
		Timestamp:          time.Now(),
	}

	require.Eventually(t, func() bool {
		got, ok := b.Get(order.ID)
		return ok && got.Status == types.OrderStatusFilled
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 1, client.callCount())
}

func TestPriorityQueueOrdersByUrgencyThenFIFO(t *testing.T) {
	var q priorityQueue
	heap.Init(&q)

	now := time.Now()
	heap.Push(&q, &queueItem{signal: types.ExecutionSignal{OrderID: "low"}, effectiveUrgency: types.UrgencyLow, enqueuedAt: now})
	heap.Push(&q, &queueItem{signal: types.ExecutionSignal{OrderID: "critical"}, effectiveUrgency: types.UrgencyCritical, enqueuedAt: now.Add(time.Millisecond)})
	heap.Push(&q, &queueItem{signal: types.ExecutionSignal{OrderID: "high-first"}, effectiveUrgency: types.UrgencyHigh, enqueuedAt: now})
	heap.Push(&q, &queueItem{signal: types.ExecutionSignal{OrderID: "high-second"}, effectiveUrgency: types.UrgencyHigh, enqueuedAt: now.Add(time.Second)})

	var order []string
	for q.Len() > 0 {
		order = append(order, heap.Pop(&q).(*queueItem).signal.OrderID)
	}
	require.Equal(t, []string{"critical", "high-first", "high-second", "low"}, order)
}

func TestSelectProtectionThresholds(t *testing.T) {
	cfg := DefaultConfig()
	noJitter := func(min, max time.Duration) time.Duration { return min }

	low := SelectProtection(cfg, decimal.NewFromFloat(0.1), types.UrgencyLow, noJitter)
	require.Zero(t, low.Delay)
	require.False(t, low.UsePrivacyEndpoint)
	require.False(t, low.UseAtomicBundle)
	require.Zero(t, low.SplitCount)

	delayed := SelectProtection(cfg, decimal.NewFromFloat(0.4), types.UrgencyLow, noJitter)
	require.Equal(t, cfg.MevDelayMin, delayed.Delay)

	privacy := SelectProtection(cfg, decimal.NewFromFloat(0.7), types.UrgencyLow, noJitter)
	require.True(t, privacy.UsePrivacyEndpoint)
	require.True(t, privacy.SplitCount > 0)

	bundled := SelectProtection(cfg, decimal.NewFromFloat(0.9), types.UrgencyLow, noJitter)
	require.True(t, bundled.UseAtomicBundle)
	require.Equal(t, cfg.MaxSplits, bundled.SplitCount)

	highPriority := SelectProtection(cfg, decimal.Zero, types.UrgencyCritical, noJitter)
	require.True(t, highPriority.UsePrivacyEndpoint)
}

func TestComputeVulnerabilityClampedToUnitInterval(t *testing.T) {
	w := DefaultVulnerabilityWeights()
	v := ComputeVulnerability(w, VulnerabilityInputs{
		Notional:            decimal.NewFromInt(1_000_000),
		NotionalReference:   decimal.NewFromInt(1000),
		CurrentFee:          decimal.NewFromInt(100),
		TrailingMedianFee:   decimal.NewFromInt(1),
		PoolToxicity:        decimal.NewFromInt(5),
		TimeToBlockBoundary: 10 * time.Second,
		BlockInterval:       time.Second,
	})
	require.True(t, v.LessThanOrEqual(decimal.NewFromInt(1)))
	require.True(t, v.GreaterThanOrEqual(decimal.Zero))
}

func TestGasOptimizerCongestionBucket(t *testing.T) {
	g := NewGasOptimizer()
	require.Equal(t, CongestionLow, g.CongestionBucket())

	for i := 0; i < 10; i++ {
		g.RecordExecutionDuration(20 * time.Second)
	}
	require.Equal(t, CongestionHigh, g.CongestionBucket())
}

func TestGasOptimizerMedianFee(t *testing.T) {
	g := NewGasOptimizer()
	g.Observe(FeeObservation{Standard: decimal.NewFromInt(10)})
	g.Observe(FeeObservation{Standard: decimal.NewFromInt(20)})
	g.Observe(FeeObservation{Standard: decimal.NewFromInt(30)})
	require.True(t, g.MedianFee().Equal(decimal.NewFromInt(20)))
}
