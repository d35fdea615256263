// Package book owns the live order and strategy book: creating range
// orders and DCA/grid ladders, tracking their lifecycle, and applying
// fills.
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/notify"
	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

// Book is the in-memory store of all live orders and strategies. It is the
// sole owner of order state; the monitor and execution engine reference
// orders by id.
type Book struct {
	mu sync.RWMutex

	orders     map[string]*types.RangeOrder
	strategies map[string]*types.Strategy

	envelope   *risk.Envelope
	calcs      map[string]*binmath.Calculator // per-pool bin calculators
	activeBins map[string]int32               // last known active_bin_id per pool

	counters *stats.Counters

	nextID int64

	store    PersistenceSink
	notifier notify.Sink
}

// SetNotifier installs the sink the book publishes OrderCreated,
// OrderFailed, OrderExecuted, and StrategyCancelled events through. A nil
// sink (the default) makes publication a no-op.
func (b *Book) SetNotifier(sink notify.Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = sink
}

// notifyLocked best-effort publishes an event. Callers must hold b.mu;
// publication never blocks order mutation.
func (b *Book) notifyLocked(e notify.Event) {
	if b.notifier == nil {
		return
	}
	e.Timestamp = time.Now()
	b.notifier.Notify(e)
}

// PersistenceSink is the narrow persistence interface the book writes
// through at its transition points (create, fill, cancel, expire);
// storage.GormStore satisfies it. A nil sink (the default) makes
// persistence a no-op.
type PersistenceSink interface {
	SaveOrder(types.RangeOrder) error
	SaveStrategy(types.Strategy) error
	SaveFill(types.Fill) error
}

// SetStore installs the sink the book persists through. Passing nil
// disables persistence.
func (b *Book) SetStore(store PersistenceSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store = store
}

// persistOrderLocked best-effort saves an order snapshot. Callers must hold
// b.mu. Failures are logged, never propagated: persistence is an additive
// write, never a read-path dependency.
func (b *Book) persistOrderLocked(o *types.RangeOrder) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveOrder(*o); err != nil {
		log.Warn().Err(err).Str("order_id", o.ID).Msg("book: failed to persist order")
	}
}

func (b *Book) persistStrategyLocked(s *types.Strategy) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveStrategy(*s); err != nil {
		log.Warn().Err(err).Str("strategy_id", s.ID).Msg("book: failed to persist strategy")
	}
}

// New constructs an empty Book bound to a risk envelope.
func New(envelope *risk.Envelope, counters *stats.Counters) *Book {
	return &Book{
		orders:     make(map[string]*types.RangeOrder),
		strategies: make(map[string]*types.Strategy),
		envelope:   envelope,
		calcs:      make(map[string]*binmath.Calculator),
		activeBins: make(map[string]int32),
		counters:   counters,
	}
}

// RegisterPool installs the bin calculator used for orders against pool.
func (b *Book) RegisterPool(pool string, calc *binmath.Calculator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calcs[pool] = calc
}

// PoolRegistered reports whether pool has a bin calculator installed.
func (b *Book) PoolRegistered(pool string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.calcs[pool]
	return ok
}

// SetActiveBin records the pool's current active_bin_id, as observed by the
// monitor on its last snapshot poll. Until a pool has a known active bin,
// CreateLimit skips the resting-order placement constraint for it.
func (b *Book) SetActiveBin(pool string, binID int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeBins[pool] = binID
}

// validatePlacement enforces the DLMM resting-order constraint: buy-side
// orders (and stop-losses, which rest like a buy order) must sit strictly
// below the active bin, sell-side orders and take-profits strictly above.
// Callers must hold b.mu.
func (b *Book) validatePlacement(pool string, side types.Side, orderType types.OrderType, binID int32) error {
	activeBin, ok := b.activeBins[pool]
	if !ok {
		return nil
	}

	switch orderType {
	case types.OrderTypeStopLoss:
		if binID >= activeBin {
			return stats.New(stats.KindInvalidPlacement, fmt.Sprintf("stop_loss bin %d must be strictly below active bin %d", binID, activeBin))
		}
	case types.OrderTypeTakeProfit:
		if binID <= activeBin {
			return stats.New(stats.KindInvalidPlacement, fmt.Sprintf("take_profit bin %d must be strictly above active bin %d", binID, activeBin))
		}
	default:
		switch side {
		case types.SideBuy:
			if binID >= activeBin {
				return stats.New(stats.KindInvalidPlacement, fmt.Sprintf("buy bin %d must be strictly below active bin %d", binID, activeBin))
			}
		case types.SideSell:
			if binID <= activeBin {
				return stats.New(stats.KindInvalidPlacement, fmt.Sprintf("sell bin %d must be strictly above active bin %d", binID, activeBin))
			}
		}
	}
	return nil
}

func (b *Book) genID(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), b.nextID)
}

// admitLocked validates one prospective order and reserves its exposure
// with the risk envelope. Callers must hold b.mu and must pair a successful
// admit with either insertLocked or a rollback Release.
func (b *Book) admitLocked(pool string, side types.Side, orderType types.OrderType, binID int32, amount decimal.Decimal) (decimal.Decimal, error) {
	calc, ok := b.calcs[pool]
	if !ok {
		return decimal.Zero, stats.New(stats.KindNotFound, "pool not registered: "+pool)
	}
	price, err := calc.PriceAt(binID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := b.validatePlacement(pool, side, orderType, binID); err != nil {
		return decimal.Zero, err
	}
	if err := b.envelope.Admit(risk.PlacementRequest{Pool: pool, Side: side, Amount: amount, TargetPrice: price}); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// insertLocked builds and stores an order whose exposure is already
// reserved. Callers must hold b.mu.
func (b *Book) insertLocked(pool string, side types.Side, orderType types.OrderType, binID int32, price, amount decimal.Decimal, maxSlippageBps int, expiresAt *time.Time, strategyID string) *types.RangeOrder {
	order := &types.RangeOrder{
		ID:             b.genID("ord"),
		Pool:           pool,
		OrderType:      orderType,
		Side:           side,
		BinID:          binID,
		TargetPrice:    price,
		AmountIn:       amount,
		Status:         types.OrderStatusPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		ExpiresAt:      expiresAt,
		MaxSlippageBps: maxSlippageBps,
		StrategyID:     strategyID,
		Priority:       types.UrgencyMedium,
	}
	b.orders[order.ID] = order
	b.counters.IncCreated()
	b.persistOrderLocked(order)
	b.notifyLocked(notify.Event{Kind: notify.KindOrderCreated, Pool: pool, OrderID: order.ID, Amount: amount, Price: price})

	log.Info().
		Str("order_id", order.ID).
		Str("pool", pool).
		Str("side", string(side)).
		Int32("bin_id", binID).
		Str("amount", amount.StringFixed(6)).
		Msg("order created")

	return order
}

// CreateLimit places a single limit order at a target bin, subject to risk
// admission.
func (b *Book) CreateLimit(pool string, side types.Side, orderType types.OrderType, binID int32, amountIn decimal.Decimal, maxSlippageBps int, expiresAt *time.Time) (*types.RangeOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, err := b.admitLocked(pool, side, orderType, binID, amountIn)
	if err != nil {
		return nil, err
	}
	return b.insertLocked(pool, side, orderType, binID, price, amountIn, maxSlippageBps, expiresAt, ""), nil
}

// childSpec is one admitted-but-not-yet-inserted strategy child.
type childSpec struct {
	side   types.Side
	binID  int32
	price  decimal.Decimal
	amount decimal.Decimal
}

// admitChildrenLocked admits every child or none: on the first rejection it
// releases the exposure already reserved and returns the rejecting child's
// error, leaving the book unchanged. Callers must hold b.mu.
func (b *Book) admitChildrenLocked(pool string, orderType types.OrderType, children []childSpec) ([]childSpec, error) {
	admitted := make([]childSpec, 0, len(children))
	for _, c := range children {
		price, err := b.admitLocked(pool, c.side, orderType, c.binID, c.amount)
		if err != nil {
			for _, a := range admitted {
				b.envelope.Release(a.amount.Mul(a.price))
			}
			return nil, err
		}
		c.price = price
		admitted = append(admitted, c)
	}
	return admitted, nil
}

// CreateDcaLadder splits a DcaConfig into child limit orders across its bin
// range, per the configured LadderDistribution, and groups them under one
// Strategy. Creation is all-or-nothing: if any child fails validation or
// risk admission, no orders are inserted.
func (b *Book) CreateDcaLadder(cfg types.DcaConfig) (*types.Strategy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.calcs[cfg.Pool]; !ok {
		return nil, stats.New(stats.KindNotFound, "pool not registered: "+cfg.Pool)
	}

	dist, err := binmath.DcaDistribute(binmath.LadderSpec{
		Total:      cfg.TotalAmount,
		LowBin:     cfg.LowBinID,
		HighBin:    cfg.HighBinID,
		OrderCount: cfg.OrderCount,
		Shape:      cfg.Distribution.Kind,
		Bias:       cfg.Distribution.Bias,
		Explicit:   cfg.Distribution.Explicit,
		MinViable:  cfg.MinViableAmount,
	})
	if err != nil {
		return nil, err
	}

	var children []childSpec
	for binID := cfg.LowBinID; binID < cfg.HighBinID; binID++ {
		amt, ok := dist[binID]
		if !ok || amt.IsZero() {
			continue
		}
		children = append(children, childSpec{side: cfg.Side, binID: binID, amount: amt})
	}

	admitted, err := b.admitChildrenLocked(cfg.Pool, types.OrderTypeDcaStep, children)
	if err != nil {
		return nil, err
	}

	strat := &types.Strategy{
		ID:        b.genID("dca"),
		Kind:      "dca",
		Pool:      cfg.Pool,
		Status:    types.StrategyStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for _, c := range admitted {
		order := b.insertLocked(cfg.Pool, c.side, types.OrderTypeDcaStep, c.binID, c.price, c.amount, 0, cfg.ExpiresAt, strat.ID)
		strat.ChildOrderIDs = append(strat.ChildOrderIDs, order.ID)
	}
	b.strategies[strat.ID] = strat
	b.persistStrategyLocked(strat)

	log.Info().Str("strategy_id", strat.ID).Int("children", len(strat.ChildOrderIDs)).Msg("dca ladder created")
	return strat, nil
}

// CreateGrid lays out a symmetric buy/sell grid around a center price.
// Like CreateDcaLadder, creation is all-or-nothing.
func (b *Book) CreateGrid(cfg types.GridConfig) (*types.Strategy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	calc, ok := b.calcs[cfg.Pool]
	if !ok {
		return nil, stats.New(stats.KindNotFound, "pool not registered: "+cfg.Pool)
	}
	if cfg.SpacingBps <= 0 {
		return nil, stats.New(stats.KindConfigInvalid, "grid spacing must be positive")
	}
	if !cfg.AmountPerLevel.IsPositive() {
		return nil, stats.New(stats.KindConfigInvalid, "grid amount per level must be positive")
	}
	if cfg.BuyLevels < 0 || cfg.SellLevels < 0 || cfg.BuyLevels+cfg.SellLevels == 0 {
		return nil, stats.New(stats.KindConfigInvalid, "grid needs at least one level")
	}

	buyBins, sellBins, err := calc.GridLevels(cfg.CenterPrice, cfg.SpacingBps, cfg.BuyLevels, cfg.SellLevels)
	if err != nil {
		return nil, err
	}

	children := make([]childSpec, 0, len(buyBins)+len(sellBins))
	for _, binID := range buyBins {
		children = append(children, childSpec{side: types.SideBuy, binID: binID, amount: cfg.AmountPerLevel})
	}
	for _, binID := range sellBins {
		children = append(children, childSpec{side: types.SideSell, binID: binID, amount: cfg.AmountPerLevel})
	}

	admitted, err := b.admitChildrenLocked(cfg.Pool, types.OrderTypeGridLevel, children)
	if err != nil {
		return nil, err
	}

	strat := &types.Strategy{
		ID:        b.genID("grid"),
		Kind:      "grid",
		Pool:      cfg.Pool,
		Status:    types.StrategyStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for _, c := range admitted {
		order := b.insertLocked(cfg.Pool, c.side, types.OrderTypeGridLevel, c.binID, c.price, c.amount, 0, nil, strat.ID)
		strat.ChildOrderIDs = append(strat.ChildOrderIDs, order.ID)
	}
	b.strategies[strat.ID] = strat
	b.persistStrategyLocked(strat)

	log.Info().Str("strategy_id", strat.ID).Int("children", len(strat.ChildOrderIDs)).Msg("grid strategy created")
	return strat, nil
}

// CancelOrder transitions a pending/partially-filled order to cancelled and
// releases its reserved exposure. Cancelling an order already in a terminal
// state is a no-op returning success.
func (b *Book) CancelOrder(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return stats.New(stats.KindNotFound, "order not found: "+orderID)
	}
	if order.Status.IsTerminal() {
		return nil
	}

	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	b.envelope.Release(order.UnfilledNotional())
	b.counters.IncCancelled()
	b.persistOrderLocked(order)

	log.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

// CancelStrategy cancels every non-terminal child order of a strategy. A
// single child's cancel failure is logged and does not abort the rest.
func (b *Book) CancelStrategy(strategyID string) error {
	b.mu.Lock()
	strat, ok := b.strategies[strategyID]
	if !ok {
		b.mu.Unlock()
		return stats.New(stats.KindNotFound, "strategy not found: "+strategyID)
	}
	children := append([]string(nil), strat.ChildOrderIDs...)
	strat.Status = types.StrategyStatusCancelled
	strat.UpdatedAt = time.Now()
	b.persistStrategyLocked(strat)
	b.mu.Unlock()

	for _, id := range children {
		if err := b.CancelOrder(id); err != nil {
			log.Warn().Err(err).Str("order_id", id).Msg("failed to cancel strategy child order")
		}
	}
	b.mu.Lock()
	b.notifyLocked(notify.Event{Kind: notify.KindStrategyCancelled, StrategyID: strategyID})
	b.mu.Unlock()
	return nil
}

// StrategyStatus returns a snapshot of a strategy's current state and
// aggregate counters.
func (b *Book) StrategyStatus(strategyID string) (types.Strategy, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	strat, ok := b.strategies[strategyID]
	if !ok {
		return types.Strategy{}, stats.New(stats.KindNotFound, "strategy not found: "+strategyID)
	}
	snapshot := *strat
	snapshot.ChildOrderIDs = append([]string(nil), strat.ChildOrderIDs...)
	return snapshot, nil
}

// FailOrder transitions a non-terminal order to Failed, releases its
// reserved exposure, and records the reason the execution engine gives up
// on it (a retry budget exhausted against the venue).
func (b *Book) FailOrder(orderID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return stats.New(stats.KindNotFound, "order not found: "+orderID)
	}
	if order.Status.IsTerminal() {
		return stats.New(stats.KindInvalidState, "order already terminal: "+string(order.Status))
	}

	order.Status = types.OrderStatusFailed
	order.FailureReason = reason
	order.UpdatedAt = time.Now()
	b.envelope.Release(order.UnfilledNotional())
	b.counters.IncFailed()
	b.persistOrderLocked(order)
	b.notifyLocked(notify.Event{Kind: notify.KindOrderFailed, Pool: order.Pool, OrderID: orderID, Reason: reason})

	log.Warn().Str("order_id", orderID).Str("reason", reason).Msg("order failed")
	return nil
}

// OnFill applies a fill to its order: updates filled amount, weighted
// average fill price, status, and reconciles exposure/PnL with the risk
// envelope. entryPrice is the position's cost basis used to compute
// realized PnL on sell-side fills; callers pass decimal.Zero for buys.
func (b *Book) OnFill(fill types.Fill, entryPrice decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[fill.OrderID]
	if !ok {
		return stats.New(stats.KindNotFound, "order not found: "+fill.OrderID)
	}
	if order.Status.IsTerminal() {
		return stats.New(stats.KindInvalidState, "order already terminal")
	}

	// Clamp so filled never exceeds amount_in even if the venue over-reports.
	applied := fill.Amount
	if remaining := order.AmountIn.Sub(order.FilledAmount); applied.GreaterThan(remaining) {
		applied = remaining
	}

	priorFilled := order.FilledAmount
	totalFilled := priorFilled.Add(applied)
	if totalFilled.IsPositive() {
		order.AvgFillPrice = order.AvgFillPrice.Mul(priorFilled).Add(fill.Price.Mul(applied)).Div(totalFilled)
	}
	order.FilledAmount = totalFilled
	order.UpdatedAt = time.Now()

	if order.FilledAmount.GreaterThanOrEqual(order.AmountIn) {
		order.Status = types.OrderStatusFilled
		b.counters.IncFilled()
		b.notifyLocked(notify.Event{Kind: notify.KindOrderExecuted, Pool: order.Pool, OrderID: order.ID, Amount: order.FilledAmount, Price: order.AvgFillPrice})
	} else {
		order.Status = types.OrderStatusPartiallyFilled
	}

	var realizedPnL decimal.Decimal
	if order.Side == types.SideSell && entryPrice.IsPositive() {
		realizedPnL = fill.Price.Sub(entryPrice).Mul(applied).Sub(fill.Fee)
	} else {
		realizedPnL = fill.Fee.Neg()
	}

	released := applied.Mul(order.TargetPrice)
	b.envelope.Reconcile(order.Pool, released, realizedPnL, order.Status == types.OrderStatusFilled)

	if order.StrategyID != "" {
		if strat, ok := b.strategies[order.StrategyID]; ok {
			strat.ExecutedVolume = strat.ExecutedVolume.Add(applied.Mul(fill.Price))
			strat.RealizedPnL = strat.RealizedPnL.Add(realizedPnL)
			strat.FillCount++
			strat.UpdatedAt = time.Now()
			b.persistStrategyLocked(strat)
		}
	}

	b.persistOrderLocked(order)
	if b.store != nil {
		if err := b.store.SaveFill(fill); err != nil {
			log.Warn().Err(err).Str("order_id", fill.OrderID).Msg("book: failed to persist fill")
		}
	}

	log.Info().
		Str("order_id", fill.OrderID).
		Str("status", string(order.Status)).
		Str("fill_amount", applied.StringFixed(6)).
		Str("fill_price", fill.Price.StringFixed(6)).
		Msg("fill applied")

	return nil
}

// NoteRetry bumps an order's retry counter ahead of a re-queued submission
// attempt.
func (b *Book) NoteRetry(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[orderID]; ok && !o.Status.IsTerminal() {
		o.RetryCount++
		o.UpdatedAt = time.Now()
	}
}

// RestoreOrder re-inserts a previously persisted order into the book
// without risk admission or notification, used by storage.Reconciler on
// startup to rebuild the in-memory book from a persisted snapshot. Exposure
// for restored orders is expected to already be reflected in the risk
// envelope's restored State.
func (b *Book) RestoreOrder(o types.RangeOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order := o
	b.orders[order.ID] = &order
}

// RestoreStrategy re-inserts a previously persisted strategy, mirroring
// RestoreOrder.
func (b *Book) RestoreStrategy(s types.Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	strat := s
	b.strategies[strat.ID] = &strat
}

// Get returns an order by id.
func (b *Book) Get(orderID string) (*types.RangeOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	return o, ok
}

// ListActive returns every non-terminal order, optionally filtered by pool.
func (b *Book) ListActive(pool string) []*types.RangeOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*types.RangeOrder
	for _, o := range b.orders {
		if o.Status.IsTerminal() {
			continue
		}
		if pool != "" && o.Pool != pool {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ExpireOrder transitions a single non-terminal order to Expired and
// releases its reserved exposure, regardless of whether its ExpiresAt has
// actually elapsed. The execution engine's pre-flight check uses it when it
// discovers an order has gone stale ahead of the monitor's own sweep.
func (b *Book) ExpireOrder(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return stats.New(stats.KindNotFound, "order not found: "+orderID)
	}
	if order.Status.IsTerminal() {
		return stats.New(stats.KindInvalidState, "order already terminal: "+string(order.Status))
	}

	order.Status = types.OrderStatusExpired
	order.UpdatedAt = time.Now()
	b.envelope.Release(order.UnfilledNotional())
	b.counters.IncExpired()
	b.persistOrderLocked(order)
	return nil
}

// ExpireStale transitions pending orders past their ExpiresAt to expired.
func (b *Book) ExpireStale(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, o := range b.orders {
		if o.Status.IsTerminal() || o.ExpiresAt == nil {
			continue
		}
		if now.After(*o.ExpiresAt) {
			o.Status = types.OrderStatusExpired
			o.UpdatedAt = now
			b.envelope.Release(o.UnfilledNotional())
			b.counters.IncExpired()
			b.persistOrderLocked(o)
			n++
		}
	}
	return n
}
