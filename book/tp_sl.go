package book

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

// TrailingStopConfig configures a ratchet-up-only trailing stop on a
// position: the stop only activates once profit exceeds startThreshold, and
// then only ever moves in the position's favor.
type TrailingStopConfig struct {
	TrailingPct    decimal.Decimal // fraction below the high-water mark, e.g. 0.05
	StartThreshold decimal.Decimal // fraction of profit required before trailing activates
}

// ApplyTrailingStop updates an order's trailing-stop state given the latest
// price and entry price, returning true if the stop has now triggered.
// order.HighestPrice only ever increases; order.StopPrice only ever rises.
func ApplyTrailingStop(order *types.RangeOrder, cfg TrailingStopConfig, entryPrice, currentPrice decimal.Decimal) bool {
	if entryPrice.IsZero() {
		return false
	}

	if currentPrice.GreaterThan(order.HighestPrice) {
		order.HighestPrice = currentPrice
	}

	profitPct := order.HighestPrice.Sub(entryPrice).Div(entryPrice)
	if profitPct.LessThan(cfg.StartThreshold) {
		return false
	}

	candidateStop := order.HighestPrice.Mul(decimal.NewFromInt(1).Sub(cfg.TrailingPct))
	if candidateStop.GreaterThan(order.StopPrice) {
		order.StopPrice = candidateStop
		order.TrailingDistance = cfg.TrailingPct
	}

	return !order.StopPrice.IsZero() && currentPrice.LessThanOrEqual(order.StopPrice)
}

// RatchetTrailingStop folds the latest observed price into a stop-loss
// order's trailing state under the book lock: the high-water mark and stop
// price only ever move up. Returns true when the current price has crossed
// the stop.
func (b *Book) RatchetTrailingStop(orderID string, price decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.Status.IsTerminal() || o.OrderType != types.OrderTypeStopLoss {
		return false
	}
	if price.GreaterThan(o.HighestPrice) {
		o.HighestPrice = price
	}
	if !o.TrailingDistance.IsZero() {
		candidate := o.HighestPrice.Sub(o.HighestPrice.Mul(o.TrailingDistance))
		if candidate.GreaterThan(o.StopPrice) {
			o.StopPrice = candidate
		}
	}
	return !o.StopPrice.IsZero() && price.LessThanOrEqual(o.StopPrice)
}

// CheckFixedExit evaluates a plain (non-trailing) take-profit/stop-loss
// pair against the current price.
func CheckFixedExit(side types.Side, takeProfit, stopLoss, currentPrice decimal.Decimal) (shouldExit bool, reason string) {
	switch side {
	case types.SideBuy:
		if !takeProfit.IsZero() && currentPrice.GreaterThanOrEqual(takeProfit) {
			return true, "take_profit"
		}
		if !stopLoss.IsZero() && currentPrice.LessThanOrEqual(stopLoss) {
			return true, "stop_loss"
		}
	case types.SideSell:
		if !takeProfit.IsZero() && currentPrice.LessThanOrEqual(takeProfit) {
			return true, "take_profit"
		}
		if !stopLoss.IsZero() && currentPrice.GreaterThanOrEqual(stopLoss) {
			return true, "stop_loss"
		}
	}
	return false, ""
}

// CreateTpSl attaches exit orders to an already (partially) filled position
// order: an opposite-side take-profit at tpPrice, a stop-loss (trailing if
// trailingPct is positive) at slPrice, or both. closePct scopes the exit to
// a fraction of the position's filled amount; the zero value closes it in
// full. Returns the ids of whichever exit orders the risk envelope admitted.
func (b *Book) CreateTpSl(positionOrderID string, tpPrice, slPrice, trailingPct, closePct decimal.Decimal) ([]string, error) {
	b.mu.Lock()
	pos, ok := b.orders[positionOrderID]
	var calc *binmath.Calculator
	if ok {
		calc = b.calcs[pos.Pool]
	}
	b.mu.Unlock()

	if !ok {
		return nil, stats.New(stats.KindNotFound, "position not found: "+positionOrderID)
	}
	if pos.FilledAmount.IsZero() {
		return nil, stats.New(stats.KindInvalidState, "position has no filled amount: "+positionOrderID)
	}
	if calc == nil {
		return nil, stats.New(stats.KindNotFound, "pool not registered: "+pos.Pool)
	}

	exitSide := types.SideSell
	if pos.Side == types.SideSell {
		exitSide = types.SideBuy
	}

	amount := pos.FilledAmount
	if closePct.IsPositive() && closePct.LessThan(decimal.NewFromInt(1)) {
		amount = amount.Mul(closePct)
	}

	var orderIDs []string

	if tpPrice.IsPositive() {
		binID, err := calc.BinAt(tpPrice)
		if err != nil {
			return orderIDs, err
		}
		b.mu.Lock()
		price, err := b.admitLocked(pos.Pool, exitSide, types.OrderTypeTakeProfit, binID, amount)
		if err != nil {
			b.mu.Unlock()
			log.Warn().Err(err).Str("position_id", positionOrderID).Msg("take-profit order rejected")
		} else {
			order := b.insertLocked(pos.Pool, exitSide, types.OrderTypeTakeProfit, binID, price, amount, pos.MaxSlippageBps, nil, pos.StrategyID)
			order.PositionID = positionOrderID
			b.mu.Unlock()
			orderIDs = append(orderIDs, order.ID)
		}
	}

	if slPrice.IsPositive() || trailingPct.IsPositive() {
		binID := pos.BinID
		if slPrice.IsPositive() {
			var err error
			binID, err = calc.BinAt(slPrice)
			if err != nil {
				return orderIDs, err
			}
		}
		b.mu.Lock()
		price, err := b.admitLocked(pos.Pool, exitSide, types.OrderTypeStopLoss, binID, amount)
		if err != nil {
			b.mu.Unlock()
			log.Warn().Err(err).Str("position_id", positionOrderID).Msg("stop-loss order rejected")
		} else {
			order := b.insertLocked(pos.Pool, exitSide, types.OrderTypeStopLoss, binID, price, amount, pos.MaxSlippageBps, nil, pos.StrategyID)
			order.PositionID = positionOrderID
			order.StopPrice = slPrice
			order.TrailingDistance = trailingPct
			if trailingPct.IsPositive() {
				order.HighestPrice = pos.AvgFillPrice
			}
			b.mu.Unlock()
			orderIDs = append(orderIDs, order.ID)
		}
	}

	if len(orderIDs) == 0 {
		return nil, stats.New(stats.KindRiskLimitExceeded, "no tp/sl orders admitted for position: "+positionOrderID)
	}

	log.Info().Str("position_id", positionOrderID).Int("orders", len(orderIDs)).Msg("tp/sl attached")
	return orderIDs, nil
}
