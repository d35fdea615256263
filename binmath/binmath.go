// Package binmath implements the price/bin mapping at the core of a DLMM
// pool: converting between a signed bin index and price, computing DCA
// ladder and grid level distributions, and estimating swap output and price
// impact. It is pure: no I/O, no shared state.
package binmath

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/stats"
)

const (
	MinBinStep     uint16 = 1    // 0.01%
	MaxBinStep     uint16 = 1000 // 10%
	DefaultBinStep uint16 = 20   // 0.2%
)

// Calculator computes price/bin conversions for a single pool's bin step
// and base price (the price at bin_id == 0).
type Calculator struct {
	BinStep   uint16
	BasePrice decimal.Decimal
	stepRatio decimal.Decimal // bin_step / 10000
}

// New validates bin_step and base_price and returns a ready Calculator.
func New(binStep uint16, basePrice decimal.Decimal) (*Calculator, error) {
	if binStep < MinBinStep || binStep > MaxBinStep {
		return nil, stats.New(stats.KindConfigInvalid, "bin step out of range")
	}
	if basePrice.LessThanOrEqual(decimal.Zero) {
		return nil, stats.New(stats.KindConfigInvalid, "base price must be positive")
	}
	return &Calculator{
		BinStep:   binStep,
		BasePrice: basePrice,
		stepRatio: decimal.NewFromInt(int64(binStep)).Div(decimal.NewFromInt(10000)),
	}, nil
}

// ratio returns (1 + bin_step/10000).
func (c *Calculator) ratio() decimal.Decimal {
	return decimal.NewFromInt(1).Add(c.stepRatio)
}

// powInt raises base to an integer power (positive, negative, or zero) via
// repeated squaring, so large |bin_id| stays cheap. Positive exponents are
// exact in the decimal domain; a negative exponent takes one reciprocal,
// rounded to decimal.DivisionPrecision digits.
func powInt(base decimal.Decimal, exp int32) decimal.Decimal {
	if exp == 0 {
		return decimal.NewFromInt(1)
	}
	neg := exp < 0
	if neg {
		exp = -exp
	}
	result := decimal.NewFromInt(1)
	b := base
	e := exp
	for e > 0 {
		if e&1 == 1 {
			result = result.Mul(b)
		}
		b = b.Mul(b)
		e >>= 1
	}
	if neg {
		if result.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1).Div(result)
	}
	return result
}

// PriceAt returns the price at the given bin id.
func (c *Calculator) PriceAt(binID int32) (decimal.Decimal, error) {
	multiplier := powInt(c.ratio(), binID)
	price := c.BasePrice.Mul(multiplier)
	if price.IsZero() || !price.IsPositive() {
		return decimal.Zero, stats.New(stats.KindNumericOverflow, "price calculation overflow")
	}
	return price, nil
}

// BinAt returns the bin id nearest the given price: the log ratio is rounded,
// so a price in the upper half of a bin's BinRange maps to the next bin up.
//
// The logarithm runs on a float64 conversion of the price ratio. Precision
// loss is confined to rounding the final bin index, an integer; money math
// stays entirely in decimal.Decimal.
func (c *Calculator) BinAt(price decimal.Decimal) (int32, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return 0, stats.New(stats.KindConfigInvalid, "price must be positive")
	}
	priceRatio := price.Div(c.BasePrice)
	lnPriceRatio := math.Log(priceRatio.InexactFloat64())
	lnStepPlusOne := math.Log(c.ratio().InexactFloat64())
	if lnStepPlusOne == 0 {
		return 0, stats.New(stats.KindConfigInvalid, "bin step ratio too small")
	}
	binIDf := lnPriceRatio / lnStepPlusOne
	return int32(math.Round(binIDf)), nil
}

// BinRange returns the (lower, upper) price bounds of a bin.
func (c *Calculator) BinRange(binID int32) (lower, upper decimal.Decimal, err error) {
	lower, err = c.PriceAt(binID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	upper, err = c.PriceAt(binID + 1)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return lower, upper, nil
}

// LadderSpec describes a DCA ladder allocation request over the half-open
// bin range [LowBin, HighBin).
type LadderSpec struct {
	Total      decimal.Decimal
	LowBin     int32
	HighBin    int32
	OrderCount int    // number of child orders; 0 places one per bin
	Shape      string // "uniform", "weighted", "fibonacci", "explicit"
	Bias       float64
	Explicit   []decimal.Decimal
	MinViable  decimal.Decimal // allocations below this are folded into the nearest kept bin
}

// ladderWeights returns one relative weight per child, in bin order.
func ladderWeights(spec LadderSpec, count int) ([]decimal.Decimal, error) {
	weights := make([]decimal.Decimal, count)
	switch spec.Shape {
	case "uniform":
		for i := range weights {
			weights[i] = decimal.NewFromInt(1)
		}

	case "weighted":
		for i := 0; i < count; i++ {
			positionFactor := float64(count-i) / float64(count)
			weights[i] = decimal.NewFromFloat(math.Pow(positionFactor, spec.Bias))
		}

	case "fibonacci":
		fib := make([]int64, count)
		if count > 0 {
			fib[0] = 1
		}
		if count > 1 {
			fib[1] = 1
		}
		for i := 2; i < count; i++ {
			fib[i] = fib[i-1] + fib[i-2]
		}
		// reversed so earlier (lower-price) bins get larger allocations
		for i := 0; i < count; i++ {
			weights[i] = decimal.NewFromInt(fib[count-1-i])
		}

	case "explicit":
		if len(spec.Explicit) != count {
			return nil, stats.New(stats.KindConfigInvalid, "explicit distribution length must match order count")
		}
		copy(weights, spec.Explicit)

	default:
		return nil, stats.New(stats.KindConfigInvalid, "unknown distribution shape: "+spec.Shape)
	}
	return weights, nil
}

// DcaDistribute allocates spec.Total across evenly spaced bins in
// [LowBin, HighBin) according to the distribution shape. Amounts sum to
// Total exactly; the division remainder goes to the first child. Bins whose
// allocation falls below MinViable are dropped and their share folded into
// the nearest kept bin.
func DcaDistribute(spec LadderSpec) (map[int32]decimal.Decimal, error) {
	if spec.LowBin >= spec.HighBin {
		return nil, stats.New(stats.KindConfigInvalid, "lo must be less than hi")
	}
	if spec.Total.LessThanOrEqual(decimal.Zero) {
		return nil, stats.New(stats.KindConfigInvalid, "total amount must be positive")
	}
	span := int(spec.HighBin - spec.LowBin)
	count := spec.OrderCount
	if count <= 0 {
		count = span
	}
	if count > span {
		return nil, stats.New(stats.KindConfigInvalid, "order count exceeds bin range")
	}

	bins := make([]int32, count)
	for i := 0; i < count; i++ {
		bins[i] = spec.LowBin + int32(i*span/count)
	}

	weights, err := ladderWeights(spec, count)
	if err != nil {
		return nil, err
	}
	totalWeight := decimal.Zero
	for _, w := range weights {
		if w.IsNegative() {
			return nil, stats.New(stats.KindConfigInvalid, "distribution weights must be non-negative")
		}
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() {
		return nil, stats.New(stats.KindConfigInvalid, "distribution weights sum to zero")
	}

	amounts := make([]decimal.Decimal, count)
	rest := decimal.Zero
	for i := 1; i < count; i++ {
		amounts[i] = spec.Total.Mul(weights[i]).Div(totalWeight)
		rest = rest.Add(amounts[i])
	}
	amounts[0] = spec.Total.Sub(rest)

	result := make(map[int32]decimal.Decimal, count)
	if spec.MinViable.IsPositive() {
		kept := make([]int, 0, count)
		for i, amt := range amounts {
			if amt.GreaterThanOrEqual(spec.MinViable) {
				kept = append(kept, i)
			}
		}
		if len(kept) == 0 {
			return nil, stats.New(stats.KindConfigInvalid, "every allocation falls below the minimum viable size")
		}
		folded := make([]decimal.Decimal, count)
		copy(folded, amounts)
		for i, amt := range amounts {
			if amt.GreaterThanOrEqual(spec.MinViable) {
				continue
			}
			nearest := kept[0]
			for _, k := range kept[1:] {
				if abs32(bins[k]-bins[i]) < abs32(bins[nearest]-bins[i]) {
					nearest = k
				}
			}
			folded[nearest] = folded[nearest].Add(amt)
		}
		for _, i := range kept {
			result[bins[i]] = folded[i]
		}
		return result, nil
	}

	for i, amt := range amounts {
		result[bins[i]] = amt
	}
	return result, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// GridLevels returns buy and sell bin ids symmetric around the bin
// containing centerPrice: buys descending below, sells ascending above.
func (c *Calculator) GridLevels(centerPrice decimal.Decimal, spacingBps int, nBuy, nSell int) (buyBins, sellBins []int32, err error) {
	centerBin, err := c.BinAt(centerPrice)
	if err != nil {
		return nil, nil, err
	}
	spacingRatio := decimal.NewFromInt(int64(spacingBps)).Div(decimal.NewFromInt(int64(c.BinStep)))
	binSpacingF, _ := spacingRatio.Round(0).Float64()
	binSpacing := int32(binSpacingF)
	if binSpacing < 1 {
		binSpacing = 1
	}

	buyBins = make([]int32, 0, nBuy)
	for i := 1; i <= nBuy; i++ {
		buyBins = append(buyBins, centerBin-binSpacing*int32(i))
	}
	sellBins = make([]int32, 0, nSell)
	for i := 1; i <= nSell; i++ {
		sellBins = append(sellBins, centerBin+binSpacing*int32(i))
	}
	return buyBins, sellBins, nil
}

// PriceImpact models the fractional price impact of trading amountIn against
// poolLiquidity, bounded to [0, 0.5].
func PriceImpact(amountIn, poolLiquidity decimal.Decimal, impactFactor decimal.Decimal) decimal.Decimal {
	if poolLiquidity.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromFloat(0.5)
	}
	impact := amountIn.Div(poolLiquidity).Mul(impactFactor)
	cap := decimal.NewFromFloat(0.5)
	if impact.GreaterThan(cap) {
		return cap
	}
	if impact.IsNegative() {
		return decimal.Zero
	}
	return impact
}

// ExpectedOutput applies fee then price impact to amountIn. The fee is
// bounded to [0, 0.10] and impact to [0, 0.5].
func ExpectedOutput(amountIn, effectiveRate, fee, poolLiquidity, impactFactor decimal.Decimal) decimal.Decimal {
	maxFee := decimal.NewFromFloat(0.10)
	if fee.GreaterThan(maxFee) {
		fee = maxFee
	}
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	afterFee := amountIn.Mul(decimal.NewFromInt(1).Sub(fee))
	impact := PriceImpact(amountIn, poolLiquidity, impactFactor)
	return afterFee.Mul(effectiveRate).Mul(decimal.NewFromInt(1).Sub(impact))
}

// BinSlippage returns the fractional slippage between the target and actual
// bin's price.
func (c *Calculator) BinSlippage(targetBinID, actualBinID int32) (decimal.Decimal, error) {
	targetPrice, err := c.PriceAt(targetBinID)
	if err != nil {
		return decimal.Zero, err
	}
	actualPrice, err := c.PriceAt(actualBinID)
	if err != nil {
		return decimal.Zero, err
	}
	return actualPrice.Sub(targetPrice).Div(targetPrice).Abs(), nil
}
