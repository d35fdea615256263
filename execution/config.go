// Package execution implements the priority-ordered, bounded-concurrency
// order execution engine: a dispatcher pulls signals off a priority queue,
// runs pre-flight validation, selects MEV protection and a fee policy, and
// hands the prepared submission to the venue client with retry and backoff.
package execution

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeePolicyKind selects how the engine prices gas/fees for a submission.
type FeePolicyKind string

const (
	FeeStandard FeePolicyKind = "standard"
	FeeFast     FeePolicyKind = "fast"
	FeeEconomic FeePolicyKind = "economic"
	FeeDynamic  FeePolicyKind = "dynamic"
	FeeCustom   FeePolicyKind = "custom"
)

// FeePolicy configures the engine's fee selection. CustomValue is only used
// when Kind is FeeCustom.
type FeePolicy struct {
	Kind        FeePolicyKind
	CustomValue decimal.Decimal
}

// Config holds every tunable the execution engine reads.
type Config struct {
	MaxConcurrentExecutions  int
	ExecutionTimeout         time.Duration
	MaxRetryAttempts         int
	RetryDelay               time.Duration
	FeePolicy                FeePolicy
	EnableSlippageProtection bool
	EnableMevProtection      bool
	BatchThreshold           decimal.Decimal
	MinLiquidityFloor        decimal.Decimal
	MaxSplits                int
	DispatchInterval         time.Duration
	AgeBonusThreshold        time.Duration
	MevDelayMin              time.Duration
	MevDelayMax              time.Duration

	// Vulnerability scoring inputs.
	VulnerabilityWeights VulnerabilityWeights
	NotionalReference    decimal.Decimal
	BlockInterval        time.Duration
	PoolToxicity         map[string]decimal.Decimal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentExecutions:  4,
		ExecutionTimeout:         10 * time.Second,
		MaxRetryAttempts:         2,
		RetryDelay:               100 * time.Millisecond,
		FeePolicy:                FeePolicy{Kind: FeeStandard},
		EnableSlippageProtection: true,
		EnableMevProtection:      true,
		BatchThreshold:           decimal.NewFromInt(10000),
		MinLiquidityFloor:        decimal.NewFromInt(1),
		MaxSplits:                4,
		DispatchInterval:         100 * time.Millisecond,
		AgeBonusThreshold:        30 * time.Second,
		MevDelayMin:              50 * time.Millisecond,
		MevDelayMax:              400 * time.Millisecond,
		VulnerabilityWeights:     DefaultVulnerabilityWeights(),
		NotionalReference:        decimal.NewFromInt(100000),
		BlockInterval:            2 * time.Second,
		PoolToxicity:             map[string]decimal.Decimal{},
	}
}
