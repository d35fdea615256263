// Package risk implements the process-wide risk envelope that gates order
// and strategy creation, plus the circuit breaker that halts trading after
// consecutive losses or a daily loss-limit breach. Every creation path asks
// the envelope; approval and exposure reservation happen in one place.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

// PlacementRequest describes an order a caller wants to create.
type PlacementRequest struct {
	Pool         string
	Side         types.Side
	Amount       decimal.Decimal
	TargetPrice  decimal.Decimal
}

// Envelope is the centralized risk approval system: every order-creation
// path must call Admit before the book mutates, and Release when an order's
// exposure is no longer outstanding.
type Envelope struct {
	mu sync.Mutex

	limits types.RiskEnvelope

	totalExposure decimal.Decimal
	activeOrders  int

	dailyPnL          decimal.Decimal
	dailyStartBalance decimal.Decimal
	lastResetDay      int

	poolCooldownUntil map[string]time.Time

	breaker *CircuitBreaker

	store StateSink
}

// State is the envelope's persisted snapshot, saved on daily rollover and
// reloaded by storage.Reconciler on startup.
type State struct {
	TotalExposure     decimal.Decimal
	ActiveOrders      int
	DailyPnL          decimal.Decimal
	DailyStartBalance decimal.Decimal
	LastResetDay      int
	ConsecutiveLosses int
}

// StateSink is the narrow persistence interface the envelope writes through
// on day rollover; storage.GormStore satisfies it. A nil StateSink (the
// default) makes persistence a no-op.
type StateSink interface {
	SaveRiskState(State) error
}

// NewEnvelope constructs an Envelope under the given limits.
func NewEnvelope(limits types.RiskEnvelope) *Envelope {
	maxConsec := limits.MaxConsecutiveLosses
	if maxConsec <= 0 {
		maxConsec = 3
	}
	cooldown := limits.PositionCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	env := &Envelope{
		limits:            limits,
		totalExposure:     decimal.Zero,
		dailyPnL:          decimal.Zero,
		poolCooldownUntil: make(map[string]time.Time),
		breaker:           NewCircuitBreaker(maxConsec, 0, 30*time.Minute),
	}

	log.Info().
		Str("max_position", limits.MaxPositionSize.StringFixed(2)).
		Str("max_exposure", limits.MaxTotalExposure.StringFixed(2)).
		Int("max_active_orders", limits.MaxActiveOrders).
		Int("max_consecutive_losses", maxConsec).
		Dur("cooldown", cooldown).
		Msg("risk envelope initialized")

	return env
}

// Admit validates a placement request against the envelope and, if
// approved, reserves its exposure. Callers must pair a successful Admit
// with a later Release (on cancel/expiry) or Reconcile (on fill).
func (e *Envelope) Admit(req PlacementRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.checkDayReset()

	if e.breaker.IsTripped() {
		return stats.New(stats.KindRiskLimitExceeded, "circuit breaker tripped")
	}

	if until, ok := e.poolCooldownUntil[req.Pool]; ok && time.Now().Before(until) {
		return stats.New(stats.KindRiskLimitExceeded, fmt.Sprintf("pool %s in cooldown", req.Pool))
	}

	notional := req.Amount.Mul(req.TargetPrice)
	if notional.GreaterThan(e.limits.MaxPositionSize) {
		return stats.New(stats.KindRiskLimitExceeded, "order exceeds max position size")
	}

	if e.totalExposure.Add(notional).GreaterThan(e.limits.MaxTotalExposure) {
		return stats.New(stats.KindRiskLimitExceeded, "order would exceed max total exposure")
	}

	if e.limits.MaxActiveOrders > 0 && e.activeOrders >= e.limits.MaxActiveOrders {
		return stats.New(stats.KindRiskLimitExceeded, "max active orders reached")
	}

	if !e.limits.DailyLossLimit.IsZero() && e.dailyPnL.LessThan(e.limits.DailyLossLimit.Neg()) {
		return stats.New(stats.KindRiskLimitExceeded, "daily loss limit hit")
	}

	e.totalExposure = e.totalExposure.Add(notional)
	e.activeOrders++
	return nil
}

// Release returns the unfilled notional of a cancelled/expired/failed order
// back to the available exposure budget.
func (e *Envelope) Release(unfilledNotional decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalExposure = e.totalExposure.Sub(unfilledNotional)
	if e.totalExposure.IsNegative() {
		e.totalExposure = decimal.Zero
	}
	if e.activeOrders > 0 {
		e.activeOrders--
	}
}

// Reconcile releases the notional a fill consumed and records realized PnL,
// irrespective of any concurrent cancel request racing the fill. terminal
// marks the fill that completed the order: only then is the active-order
// slot retired, the win/loss recorded with the circuit breaker, and the
// pool's cooldown window started. Partial fills keep the slot occupied and
// must not count as an exit, or a multi-fill ladder would register every
// partial buy as a fee-sized loss.
func (e *Envelope) Reconcile(pool string, consumedNotional, realizedPnL decimal.Decimal, terminal bool) {
	e.mu.Lock()
	e.totalExposure = e.totalExposure.Sub(consumedNotional)
	if e.totalExposure.IsNegative() {
		e.totalExposure = decimal.Zero
	}
	if terminal && e.activeOrders > 0 {
		e.activeOrders--
	}
	e.dailyPnL = e.dailyPnL.Add(realizedPnL)
	e.mu.Unlock()

	if !terminal {
		return
	}

	if realizedPnL.IsNegative() {
		e.breaker.RecordLoss(realizedPnL.Abs())
	} else {
		e.breaker.RecordWin(realizedPnL)
	}

	e.mu.Lock()
	e.poolCooldownUntil[pool] = time.Now().Add(e.cooldown())
	e.mu.Unlock()
}

func (e *Envelope) cooldown() time.Duration {
	if e.limits.PositionCooldown > 0 {
		return e.limits.PositionCooldown
	}
	return 30 * time.Second
}

func (e *Envelope) checkDayReset() {
	today := time.Now().YearDay()
	if e.lastResetDay != today {
		e.dailyPnL = decimal.Zero
		e.lastResetDay = today
		if e.store != nil {
			snapshot := e.snapshotLocked()
			go func() {
				if err := e.store.SaveRiskState(snapshot); err != nil {
					log.Warn().Err(err).Msg("risk: failed to persist risk state on day rollover")
				}
			}()
		}
	}
}

// snapshotLocked returns the current state. Callers must hold e.mu.
func (e *Envelope) snapshotLocked() State {
	consecutiveLosses, _, _, _ := e.breaker.GetStats()
	return State{
		TotalExposure:     e.totalExposure,
		ActiveOrders:      e.activeOrders,
		DailyPnL:          e.dailyPnL,
		DailyStartBalance: e.dailyStartBalance,
		LastResetDay:      e.lastResetDay,
		ConsecutiveLosses: consecutiveLosses,
	}
}

// SetStore installs the sink the envelope persists its state through on day
// rollover. Passing nil (the default) disables persistence.
func (e *Envelope) SetStore(store StateSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
}

// RestoreState seeds the envelope from a previously persisted snapshot,
// used by storage.Reconciler on startup. It does not replay individual
// order admissions; callers must separately re-admit recovered orders.
func (e *Envelope) RestoreState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalExposure = s.TotalExposure
	e.activeOrders = s.ActiveOrders
	e.dailyPnL = s.DailyPnL
	e.dailyStartBalance = s.DailyStartBalance
	e.lastResetDay = s.LastResetDay
}

// TotalExposure returns current committed exposure.
func (e *Envelope) TotalExposure() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalExposure
}

// ActiveOrders returns current active order count tracked by the envelope.
func (e *Envelope) ActiveOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeOrders
}

// Breaker exposes the underlying circuit breaker for status queries.
func (e *Envelope) Breaker() *CircuitBreaker {
	return e.breaker
}
