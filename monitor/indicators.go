package monitor

import (
	"sync"

	"github.com/shopspring/decimal"
)

// EMA computes an exponential moving average.
type EMA struct {
	mu          sync.RWMutex
	multiplier  decimal.Decimal
	value       decimal.Decimal
	initialized bool
}

// NewEMA returns an EMA over the given period.
func NewEMA(period int) *EMA {
	mult := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	return &EMA{multiplier: mult}
}

// Update folds in a new price observation.
func (e *EMA) Update(price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		e.value = price
		e.initialized = true
		return
	}
	e.value = price.Sub(e.value).Mul(e.multiplier).Add(e.value)
}

// Value returns the current EMA.
func (e *EMA) Value() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// VolatilityTracker computes a rolling standard deviation over a fixed
// window of prices. A DLMM pool snapshot only carries a last traded price,
// not OHLC bars, so there is no true-range input here.
type VolatilityTracker struct {
	mu     sync.RWMutex
	period int
	prices []decimal.Decimal
	stdDev decimal.Decimal
}

// NewVolatilityTracker returns a tracker over the given period.
func NewVolatilityTracker(period int) *VolatilityTracker {
	return &VolatilityTracker{period: period, prices: make([]decimal.Decimal, 0, period)}
}

// Update folds in a new price and recomputes the standard deviation.
func (vt *VolatilityTracker) Update(price decimal.Decimal) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.prices = append(vt.prices, price)
	if len(vt.prices) > vt.period {
		vt.prices = vt.prices[1:]
	}
	vt.stdDev = stdDev(vt.prices)
}

// StdDev returns the current standard deviation.
func (vt *VolatilityTracker) StdDev() decimal.Decimal {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return vt.stdDev
}

// IsHighVolatility reports whether stddev exceeds threshold.
func (vt *VolatilityTracker) IsHighVolatility(threshold decimal.Decimal) bool {
	return vt.StdDev().GreaterThan(threshold)
}

func stdDev(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(prices))))

	variance := decimal.Zero
	for _, p := range prices {
		diff := p.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(prices))))
	return sqrt(variance)
}

// sqrt computes a square root via Newton's method; decimal.Decimal has no
// built-in Sqrt.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}

// MomentumTracker tracks simple momentum and rate of change over a window.
type MomentumTracker struct {
	mu       sync.RWMutex
	period   int
	prices   []decimal.Decimal
	momentum decimal.Decimal
	roc      decimal.Decimal
}

// NewMomentumTracker returns a tracker over the given period.
func NewMomentumTracker(period int) *MomentumTracker {
	return &MomentumTracker{period: period, prices: make([]decimal.Decimal, 0, period)}
}

// Update folds in a new price observation.
func (mt *MomentumTracker) Update(price decimal.Decimal) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.prices = append(mt.prices, price)
	if len(mt.prices) > mt.period {
		mt.prices = mt.prices[1:]
	}
	if len(mt.prices) >= 2 {
		mt.momentum = price.Sub(mt.prices[0])
		if !mt.prices[0].IsZero() {
			mt.roc = price.Sub(mt.prices[0]).Div(mt.prices[0]).Mul(decimal.NewFromInt(100))
		}
	}
}

// Momentum returns the current momentum value.
func (mt *MomentumTracker) Momentum() decimal.Decimal {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.momentum
}

// ROC returns the current rate of change, as a percentage.
func (mt *MomentumTracker) ROC() decimal.Decimal {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.roc
}
