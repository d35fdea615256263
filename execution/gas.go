package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CongestionBucket classifies recent network conditions, derived from the
// moving average of the last 50 execution durations.
type CongestionBucket string

const (
	CongestionLow      CongestionBucket = "LOW"
	CongestionMedium   CongestionBucket = "MEDIUM"
	CongestionHigh     CongestionBucket = "HIGH"
	CongestionCritical CongestionBucket = "CRITICAL"
)

// congestionMultipliers maps each bucket to the Dynamic fee policy's
// multiplier.
var congestionMultipliers = map[CongestionBucket]float64{
	CongestionLow:      0.8,
	CongestionMedium:   1.0,
	CongestionHigh:     1.5,
	CongestionCritical: 2.0,
}

// FeeObservation is one sample of the venue's current fee tiers.
type FeeObservation struct {
	Standard  decimal.Decimal
	Fast      decimal.Decimal
	Economic  decimal.Decimal
	Timestamp time.Time
}

const (
	maxFeeObservations = 200
	maxDurationSamples = 50
)

// GasOptimizer is a bounded ring buffer of recent fee observations and
// execution durations, feeding both the Dynamic fee policy and the
// congestion-bucket reads the MEV protection selection makes.
type GasOptimizer struct {
	mu sync.Mutex

	observations []FeeObservation
	durations    []time.Duration
}

// NewGasOptimizer returns an empty GasOptimizer seeded with the Standard fee
// policy's fallback (Low congestion, zero fee) until observations arrive.
func NewGasOptimizer() *GasOptimizer {
	return &GasOptimizer{}
}

// Observe records a fee sample, evicting the oldest once the buffer is full.
func (g *GasOptimizer) Observe(obs FeeObservation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observations = append(g.observations, obs)
	if len(g.observations) > maxFeeObservations {
		g.observations = g.observations[len(g.observations)-maxFeeObservations:]
	}
}

// RecordExecutionDuration appends a completed submission's wall-clock time,
// the input the congestion bucket is derived from.
func (g *GasOptimizer) RecordExecutionDuration(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.durations = append(g.durations, d)
	if len(g.durations) > maxDurationSamples {
		g.durations = g.durations[len(g.durations)-maxDurationSamples:]
	}
}

// MedianFee returns the moving median of observed Standard fees, or zero if
// no observations have been recorded yet.
func (g *GasOptimizer) MedianFee() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return median(g.observations)
}

func median(obs []FeeObservation) decimal.Decimal {
	if len(obs) == 0 {
		return decimal.Zero
	}
	vals := make([]decimal.Decimal, len(obs))
	for i, o := range obs {
		vals[i] = o.Standard
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].LessThan(vals[j]) })
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return vals[mid-1].Add(vals[mid]).Div(decimal.NewFromInt(2))
}

// CongestionBucket classifies current conditions from the average of the
// last up-to-50 execution durations.
func (g *GasOptimizer) CongestionBucket() CongestionBucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.durations) == 0 {
		return CongestionLow
	}
	var total time.Duration
	for _, d := range g.durations {
		total += d
	}
	avg := total / time.Duration(len(g.durations))
	switch {
	case avg > 30*time.Second:
		return CongestionCritical
	case avg > 15*time.Second:
		return CongestionHigh
	case avg > 5*time.Second:
		return CongestionMedium
	default:
		return CongestionLow
	}
}

// DynamicFee combines the moving median fee with the congestion multiplier.
func (g *GasOptimizer) DynamicFee() decimal.Decimal {
	median := g.MedianFee()
	mult := congestionMultipliers[g.CongestionBucket()]
	return median.Mul(decimal.NewFromFloat(mult))
}

// Resolve returns the fee the given policy prescribes right now.
func (p FeePolicy) Resolve(gas *GasOptimizer) decimal.Decimal {
	switch p.Kind {
	case FeeFast:
		return gas.MedianFee().Mul(decimal.NewFromFloat(1.5))
	case FeeEconomic:
		return gas.MedianFee().Mul(decimal.NewFromFloat(0.7))
	case FeeDynamic:
		return gas.DynamicFee()
	case FeeCustom:
		return p.CustomValue
	default: // FeeStandard
		return gas.MedianFee()
	}
}
