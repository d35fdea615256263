// Package venue defines the boundary between the engine and an on-chain
// DLMM venue: pool state reads, order submission, and a streaming
// subscription. Two implementations exist: a mock for paper trading and
// tests, and a live signing client.
package venue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

// SubmitRequest is a prepared order ready for on-chain submission.
type SubmitRequest struct {
	OrderID        string
	Pool           string
	Side           types.Side
	BinID          int32
	AmountIn       decimal.Decimal
	TargetPrice    decimal.Decimal
	MaxSlippageBps int

	// Submission variant, set by the execution engine's MEV protection
	// selection. UseAtomicBundle takes precedence if both are set.
	UsePrivacyEndpoint bool
	UseAtomicBundle    bool
}

// SubmitResult is the observed outcome of a successful submission.
type SubmitResult struct {
	FilledAmount decimal.Decimal
	FillPrice    decimal.Decimal
	Fee          decimal.Decimal
	TxHash       string
}

// PositionState is a venue-held position read.
type PositionState struct {
	ID         string
	Pool       string
	AmountX    decimal.Decimal
	AmountY    decimal.Decimal
	EntryPrice decimal.Decimal
}

// TokenMeta describes one tradeable token, for pool-graph construction.
type TokenMeta struct {
	Address  string
	Symbol   string
	Decimals int
}

// SimulationResult is the outcome of a dry-run of a submission.
type SimulationResult struct {
	Success     bool
	ExpectedOut decimal.Decimal
	GasUsed     int64
	Error       string
}

// StatusKind classifies a submitted transaction's settlement state.
type StatusKind string

const (
	StatusPending   StatusKind = "PENDING"
	StatusConfirmed StatusKind = "CONFIRMED"
	StatusFailed    StatusKind = "FAILED"
)

// SubmissionStatus reports where a submitted transaction stands.
type SubmissionStatus struct {
	Kind     StatusKind
	Out      decimal.Decimal
	GasUsed  int64
	Slippage decimal.Decimal
	Reason   string
}

// Client is the venue boundary the monitor and execution engine depend on.
// MockClient and SigningClient both satisfy it.
type Client interface {
	// PoolSnapshot reads current pool state, windowed to ±binWindow bins
	// around the active bin.
	PoolSnapshot(ctx context.Context, pool string, binWindow int32) (types.MarketSnapshot, error)

	// GetPosition reads a venue-held position by id.
	GetPosition(ctx context.Context, id string) (PositionState, error)

	// Simulate dry-runs a submission without settling it. A Success=false
	// result carries the venue's rejection reason.
	Simulate(ctx context.Context, req SubmitRequest) (SimulationResult, error)

	// Submit places an order on-chain (or against a simulator) and blocks
	// until it settles or ctx expires.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// GetStatus reports the settlement state of a prior submission.
	GetStatus(ctx context.Context, txHash string) (SubmissionStatus, error)

	// Cancel best-effort cancels a resting order.
	Cancel(ctx context.Context, orderID string) error

	// Balance returns the account's free collateral balance.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// ListPools returns the full set of known pools, for pool-graph
	// construction. Callers treat the result as a point-in-time snapshot;
	// the graph itself owns consistency.
	ListPools(ctx context.Context) ([]types.Pool, error)

	// ListTokens returns the metadata of every token the venue trades.
	ListTokens(ctx context.Context) ([]TokenMeta, error)
}

// MockClient simulates fills against an in-memory pool model, for paper
// trading and tests.
type MockClient struct {
	pools     map[string]types.MarketSnapshot
	registry  map[string]types.Pool
	positions map[string]PositionState
	statuses  map[string]SubmissionStatus
	balance   decimal.Decimal
}

// NewMockClient returns a MockClient seeded with the given pool snapshots.
func NewMockClient(seed map[string]types.MarketSnapshot, startingBalance decimal.Decimal) *MockClient {
	pools := make(map[string]types.MarketSnapshot, len(seed))
	for k, v := range seed {
		pools[k] = v
	}
	return &MockClient{
		pools:     pools,
		registry:  make(map[string]types.Pool),
		positions: make(map[string]PositionState),
		statuses:  make(map[string]SubmissionStatus),
		balance:   startingBalance,
	}
}

// SeedPool registers pool metadata (token pair, fee tier, liquidity) used
// by ListPools for pool-graph construction. The snapshot-level state (bin
// liquidity, active bin) is set separately via SetSnapshot.
func (m *MockClient) SeedPool(p types.Pool) {
	m.registry[p.Address] = p
}

func (m *MockClient) ListPools(ctx context.Context) ([]types.Pool, error) {
	out := make([]types.Pool, 0, len(m.registry))
	for _, p := range m.registry {
		out = append(out, p)
	}
	return out, nil
}

// SeedPosition registers a simulated position for GetPosition reads.
func (m *MockClient) SeedPosition(p PositionState) {
	m.positions[p.ID] = p
}

func (m *MockClient) GetPosition(ctx context.Context, id string) (PositionState, error) {
	pos, ok := m.positions[id]
	if !ok {
		return PositionState{}, stats.New(stats.KindNotFound, "unknown position: "+id)
	}
	return pos, nil
}

func (m *MockClient) ListTokens(ctx context.Context) ([]TokenMeta, error) {
	seen := make(map[string]bool)
	var out []TokenMeta
	for _, p := range m.registry {
		for _, tok := range []string{p.TokenX, p.TokenY} {
			if !seen[tok] {
				seen[tok] = true
				out = append(out, TokenMeta{Address: tok, Symbol: tok, Decimals: 18})
			}
		}
	}
	return out, nil
}

// SetSnapshot updates the simulated state for a pool.
func (m *MockClient) SetSnapshot(snap types.MarketSnapshot) {
	m.pools[snap.Pool] = snap
}

// Simulate mirrors Submit's fill model without recording a settlement.
func (m *MockClient) Simulate(ctx context.Context, req SubmitRequest) (SimulationResult, error) {
	if !req.AmountIn.IsPositive() {
		return SimulationResult{Success: false, Error: "non-positive amount"}, nil
	}
	return SimulationResult{
		Success:     true,
		ExpectedOut: req.AmountIn.Mul(req.TargetPrice),
		GasUsed:     21_000,
	}, nil
}

func (m *MockClient) GetStatus(ctx context.Context, txHash string) (SubmissionStatus, error) {
	status, ok := m.statuses[txHash]
	if !ok {
		return SubmissionStatus{}, stats.New(stats.KindNotFound, "unknown tx: "+txHash)
	}
	return status, nil
}

func (m *MockClient) PoolSnapshot(ctx context.Context, pool string, binWindow int32) (types.MarketSnapshot, error) {
	snap, ok := m.pools[pool]
	if !ok {
		return types.MarketSnapshot{}, stats.New(stats.KindNotFound, "unknown pool: "+pool)
	}
	return snap, nil
}

func (m *MockClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	orderID := fmt.Sprintf("MOCK_%d", time.Now().UnixNano())
	log.Info().
		Str("order_id", orderID).
		Str("pool", req.Pool).
		Str("side", string(req.Side)).
		Str("amount", req.AmountIn.StringFixed(6)).
		Bool("privacy_endpoint", req.UsePrivacyEndpoint).
		Bool("atomic_bundle", req.UseAtomicBundle).
		Msg("mock venue: simulated fill")

	out := req.AmountIn.Mul(req.TargetPrice)
	m.statuses[orderID] = SubmissionStatus{Kind: StatusConfirmed, Out: out, GasUsed: 21_000}

	return SubmitResult{
		FilledAmount: req.AmountIn,
		FillPrice:    req.TargetPrice,
		Fee:          out.Mul(decimal.NewFromFloat(0.003)),
		TxHash:       orderID,
	}, nil
}

func (m *MockClient) Cancel(ctx context.Context, orderID string) error {
	log.Info().Str("order_id", orderID).Msg("mock venue: order cancelled")
	return nil
}

func (m *MockClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	return m.balance, nil
}

// NewFromEnv returns a MockClient unless LIVE_TRADING=true.
func NewFromEnv(seed map[string]types.MarketSnapshot) (Client, error) {
	if os.Getenv("LIVE_TRADING") != "true" {
		log.Info().Msg("venue: starting in paper mode (set LIVE_TRADING=true for live signing)")
		return NewMockClient(seed, decimal.NewFromInt(10000)), nil
	}
	return NewSigningClient()
}
