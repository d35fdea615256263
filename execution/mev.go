package execution

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/types"
)

// VulnerabilityWeights scales each factor of the vulnerability score.
// Configuration rather than constants, so operators can recalibrate
// without a redeploy.
type VulnerabilityWeights struct {
	Notional   float64
	GasAnomaly float64
	Toxicity   float64
	Timing     float64
}

// DefaultVulnerabilityWeights weights the four factors evenly.
func DefaultVulnerabilityWeights() VulnerabilityWeights {
	return VulnerabilityWeights{Notional: 0.25, GasAnomaly: 0.25, Toxicity: 0.25, Timing: 0.25}
}

// VulnerabilityInputs is the per-order evidence the score is computed from.
type VulnerabilityInputs struct {
	Notional            decimal.Decimal
	NotionalReference   decimal.Decimal // normalizer: notional at which the factor saturates to 1
	CurrentFee          decimal.Decimal
	TrailingMedianFee   decimal.Decimal
	PoolToxicity        decimal.Decimal // 0..1 configured per-pool hint
	TimeToBlockBoundary time.Duration
	BlockInterval       time.Duration
}

// clamp01 keeps a factor within the score's valid domain.
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ComputeVulnerability combines notional size, gas-fee anomaly, a
// configured per-pool toxicity hint, and proximity to a block boundary into
// a single 0..1 vulnerability score. Not a learned model, just a linear
// feature combination.
func ComputeVulnerability(w VulnerabilityWeights, in VulnerabilityInputs) decimal.Decimal {
	notionalFactor := 0.0
	if in.NotionalReference.IsPositive() {
		ratio, _ := in.Notional.Div(in.NotionalReference).Float64()
		notionalFactor = clamp01(ratio)
	}

	gasFactor := 0.0
	if in.TrailingMedianFee.IsPositive() {
		ratio, _ := in.CurrentFee.Div(in.TrailingMedianFee).Float64()
		gasFactor = clamp01(ratio - 1) // only anomalously high fees count
	}

	toxicityFactor, _ := in.PoolToxicity.Float64()
	toxicityFactor = clamp01(toxicityFactor)

	timingFactor := 0.0
	if in.BlockInterval > 0 {
		remaining := float64(in.TimeToBlockBoundary) / float64(in.BlockInterval)
		timingFactor = clamp01(1 - remaining) // closer to the boundary is riskier
	}

	score := w.Notional*notionalFactor + w.GasAnomaly*gasFactor + w.Toxicity*toxicityFactor + w.Timing*timingFactor
	return decimal.NewFromFloat(clamp01(score))
}

// ProtectionPlan is the composed set of MEV mitigations an order should use
// for one submission attempt.
type ProtectionPlan struct {
	Delay              time.Duration
	UsePrivacyEndpoint bool
	UseAtomicBundle    bool
	SplitCount         int
}

// randDuration draws a delay uniformly from [min, max]. Injected so tests
// can make the selection deterministic.
type randDuration func(min, max time.Duration) time.Duration

// SelectProtection maps a vulnerability score to a set of mitigations. The
// rules are independent and compose: an order can be delayed, privacy
// routed, bundled, and split all at once.
func SelectProtection(cfg Config, vulnerability decimal.Decimal, priority types.Urgency, jitter randDuration) ProtectionPlan {
	var plan ProtectionPlan
	v, _ := vulnerability.Float64()

	if v > 0.3 {
		plan.Delay = jitter(cfg.MevDelayMin, cfg.MevDelayMax)
	}
	if v > 0.6 || priority >= types.UrgencyHigh {
		plan.UsePrivacyEndpoint = true
	}
	if v > 0.8 {
		plan.UseAtomicBundle = true
	}
	if v > 0.5 {
		splits := int(math.Ceil(v * float64(cfg.MaxSplits)))
		if splits < 1 {
			splits = 1
		}
		if splits > cfg.MaxSplits {
			splits = cfg.MaxSplits
		}
		plan.SplitCount = splits
	}
	return plan
}
