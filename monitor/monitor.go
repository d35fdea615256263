package monitor

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/book"
	"github.com/dlmmcore/engine/notify"
	"github.com/dlmmcore/engine/types"
	"github.com/dlmmcore/engine/venue"
)

const (
	defaultMainPollInterval     = time.Second
	defaultStopLossPollInterval = 500 * time.Millisecond
	defaultBinWindow            = 10
)

// Monitor polls a venue for every pool referenced by an active order,
// refreshes snapshots and price history, and emits ExecutionSignals for
// the book's pending orders. Two independent timers drive it: a main poll
// and a faster stop-loss poll, since trailing updates are time-critical.
type Monitor struct {
	client venue.Client
	book   *book.Book

	snapshots *SnapshotStore
	histMu    sync.RWMutex
	histories map[string]*History

	runnersMu sync.RWMutex
	runners   []book.Runner

	mainInterval     time.Duration
	stopLossInterval time.Duration
	binWindow        int32

	signals chan types.ExecutionSignal

	notifier            notify.Sink
	priceChangeAlertPct decimal.Decimal
	minLiquidity        decimal.Decimal
	largeTradeThreshold decimal.Decimal
}

// New constructs a Monitor. mainInterval/stopLossInterval/binWindow use
// package defaults if zero.
func New(client venue.Client, b *book.Book, mainInterval, stopLossInterval time.Duration, binWindow int32) *Monitor {
	if mainInterval <= 0 {
		mainInterval = defaultMainPollInterval
	}
	if stopLossInterval <= 0 {
		stopLossInterval = defaultStopLossPollInterval
	}
	if binWindow <= 0 {
		binWindow = defaultBinWindow
	}
	return &Monitor{
		client:           client,
		book:             b,
		snapshots:        NewSnapshotStore(),
		histories:        make(map[string]*History),
		mainInterval:     mainInterval,
		stopLossInterval: stopLossInterval,
		binWindow:        binWindow,
		signals:          make(chan types.ExecutionSignal, 256),
	}
}

// NewFromEnv builds a Monitor with poll intervals read from the
// POSITION_MONITOR_MS and STOP_LOSS_POLL_MS environment variables.
func NewFromEnv(client venue.Client, b *book.Book) *Monitor {
	main := envDuration("POSITION_MONITOR_MS", defaultMainPollInterval)
	sl := envDuration("STOP_LOSS_POLL_MS", defaultStopLossPollInterval)
	return New(client, b, main, sl, defaultBinWindow)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Signals returns the channel the execution engine consumes emitted
// ExecutionSignals from.
func (m *Monitor) Signals() <-chan types.ExecutionSignal {
	return m.signals
}

// SetNotifier installs the sink PriceAlert events are published to. A nil
// sink (the default) makes alert publication a no-op.
func (m *Monitor) SetNotifier(sink notify.Sink) {
	m.notifier = sink
}

// SetThresholds configures the price-change alert percentage and the
// minimum bin liquidity an OptimalWindow signal requires.
func (m *Monitor) SetThresholds(priceChangeAlertPct, minLiquidity decimal.Decimal) {
	m.priceChangeAlertPct = priceChangeAlertPct
	m.minLiquidity = minLiquidity
}

// SetLargeTradeThreshold configures the notional above which a streamed
// LargeTradeDetected event is forwarded to the notification sink.
func (m *Monitor) SetLargeTradeThreshold(threshold decimal.Decimal) {
	m.largeTradeThreshold = threshold
}

// RegisterRunner adds a strategy runner the monitor dispatches every
// snapshot update to. Runners returning signals feed the same channel the
// built-in order evaluation uses.
func (m *Monitor) RegisterRunner(r book.Runner) {
	m.runnersMu.Lock()
	defer m.runnersMu.Unlock()
	m.runners = append(m.runners, r)
}

// runRunners hands a fresh snapshot to every enabled runner and forwards
// whatever signals they return.
func (m *Monitor) runRunners(snap types.MarketSnapshot) {
	m.runnersMu.RLock()
	runners := m.runners
	m.runnersMu.RUnlock()

	for _, r := range runners {
		if !r.Enabled() {
			continue
		}
		for _, sig := range r.OnSnapshot(snap) {
			if sig.Timestamp.IsZero() {
				sig.Timestamp = time.Now()
			}
			m.push(sig, r.Name())
		}
	}
}

// Start runs the main-poll and stop-loss-poll loops until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.mainLoop(ctx)
	go m.stopLossLoop(ctx)
}

func (m *Monitor) mainLoop(ctx context.Context) {
	ticker := time.NewTicker(m.mainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) stopLossLoop(ctx context.Context) {
	ticker := time.NewTicker(m.stopLossInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.stopLossTick()
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	pools := m.poolsWithActiveOrders()
	for _, pool := range pools {
		snap, err := m.client.PoolSnapshot(ctx, pool, m.binWindow)
		if err != nil {
			log.Warn().Err(err).Str("pool", pool).Msg("monitor: failed to fetch pool snapshot")
			continue
		}
		m.snapshots.Put(snap)
		m.book.SetActiveBin(pool, snap.ActiveBinID)

		m.histMu.Lock()
		hist, ok := m.histories[pool]
		if !ok {
			hist = NewHistory(500)
			m.histories[pool] = hist
		}
		m.histMu.Unlock()
		prev := hist.Recent(1)
		hist.Append(types.PricePoint{Timestamp: snap.Timestamp, Price: snap.Price, Volume: snap.Volume24h})
		m.checkPriceAlert(pool, prev, snap.Price)

		m.evaluateOrders(pool, snap)
		m.runRunners(snap)
	}

	expired := m.book.ExpireStale(time.Now())
	if expired > 0 {
		log.Info().Int("count", expired).Msg("monitor: expired stale orders")
	}
}

// checkPriceAlert publishes a PriceAlert notification when the price moved
// by more than the configured percentage since the previous tick's sample.
func (m *Monitor) checkPriceAlert(pool string, prev []types.PricePoint, price decimal.Decimal) {
	if m.notifier == nil || len(prev) == 0 || m.priceChangeAlertPct.IsZero() || prev[0].Price.IsZero() {
		return
	}
	changePct := price.Sub(prev[0].Price).Div(prev[0].Price).Abs()
	if changePct.LessThan(m.priceChangeAlertPct) {
		return
	}
	m.notifier.Notify(notify.Event{
		Kind:      notify.KindPriceAlert,
		Pool:      pool,
		Price:     price,
		Amount:    changePct,
		Message:   "pool price moved beyond alert threshold",
		Timestamp: time.Now(),
	})
}

func (m *Monitor) poolsWithActiveOrders() []string {
	seen := map[string]bool{}
	var pools []string
	for _, o := range m.book.ListActive("") {
		if !seen[o.Pool] {
			seen[o.Pool] = true
			pools = append(pools, o.Pool)
		}
	}
	return pools
}

func (m *Monitor) evaluateOrders(pool string, snap types.MarketSnapshot) {
	for _, o := range m.book.ListActive(pool) {
		switch o.OrderType {
		case types.OrderTypeLimitBuy, types.OrderTypeDcaStep, types.OrderTypeGridLevel:
			if o.Side == types.SideBuy && snap.ActiveBinID <= o.BinID {
				m.emit(o, types.SignalPriceTarget, types.UrgencyHigh, snap)
			} else if o.Side == types.SideSell && snap.ActiveBinID >= o.BinID {
				m.emit(o, types.SignalPriceTarget, types.UrgencyHigh, snap)
			}
		case types.OrderTypeLimitSell:
			if snap.ActiveBinID >= o.BinID {
				m.emit(o, types.SignalPriceTarget, types.UrgencyHigh, snap)
			}
		case types.OrderTypeTakeProfit:
			if snap.ActiveBinID >= o.BinID {
				m.emit(o, types.SignalTakeProfit, types.UrgencyCritical, snap)
			}
		}
		m.evaluateOptimalWindow(o, snap)
	}
}

// evaluateOptimalWindow emits an OptimalWindow signal when the
// bin-liquidity at an order's target bin meets the configured floor and the
// current-to-target price deviation is within the order's own max-slippage
// tolerance.
func (m *Monitor) evaluateOptimalWindow(o *types.RangeOrder, snap types.MarketSnapshot) {
	if o.MaxSlippageBps <= 0 || snap.Price.IsZero() || o.TargetPrice.IsZero() {
		return
	}
	liq, ok := snap.BinLiquidity[o.BinID]
	if !ok || liq.LessThan(m.minLiquidity) {
		return
	}
	deviationBps := snap.Price.Sub(o.TargetPrice).Div(o.TargetPrice).Abs().Mul(decimal.NewFromInt(10000))
	if deviationBps.GreaterThan(decimal.NewFromInt(int64(o.MaxSlippageBps))) {
		return
	}
	m.emit(o, types.SignalOptimalWindow, types.UrgencyMedium, snap)
}

func (m *Monitor) emit(o *types.RangeOrder, kind types.SignalKind, urgency types.Urgency, snap types.MarketSnapshot) {
	var slippageBps int
	if o.TargetPrice.IsPositive() {
		dev := snap.Price.Sub(o.TargetPrice).Div(o.TargetPrice).Abs().Mul(decimal.NewFromInt(10000))
		slippageBps = int(dev.IntPart())
	}
	sig := book.NewSignalBuilder(o.ID, o.Pool).
		Kind(kind).
		Urgency(urgency).
		ExpectedSlippageBps(slippageBps).
		AvailableLiquidity(snap.BinLiquidity[o.BinID]).
		Build()
	m.push(sig, o.ID)
}

// push forwards a signal without ever blocking the polling loop; the
// channel is generously buffered, so a full buffer means the engine has
// stalled and dropping the lossy hint is the right call.
func (m *Monitor) push(sig types.ExecutionSignal, origin string) {
	select {
	case m.signals <- sig:
	default:
		log.Warn().Str("origin", origin).Msg("monitor: signal channel full, dropping signal")
	}
}

// HandleStreamEvent reacts to a push event from a venue.StreamSubscriber by
// nudging the same evaluation path the polling loop drives, rather than
// waiting for the next scheduled tick. An ActiveBinChanged event updates the
// cached snapshot's bin/price in place and re-evaluates pending orders for
// that pool; a LargeTradeDetected event above the configured threshold is
// forwarded to the notification sink only, since it is informational and
// does not itself change order eligibility.
func (m *Monitor) HandleStreamEvent(ev venue.StreamEvent) {
	switch ev.Kind {
	case venue.StreamActiveBinChanged:
		snap, ok := m.snapshots.Get(ev.Pool)
		if !ok {
			snap = types.MarketSnapshot{Pool: ev.Pool, BinLiquidity: map[int32]decimal.Decimal{}}
		}
		snap.ActiveBinID = ev.ActiveBinID
		if ev.Price.IsPositive() {
			snap.Price = ev.Price
		}
		snap.Timestamp = ev.Timestamp
		m.snapshots.Put(snap)
		m.book.SetActiveBin(ev.Pool, snap.ActiveBinID)
		m.evaluateOrders(ev.Pool, snap)
		m.runRunners(snap)
	case venue.StreamLargeTradeDetected:
		if m.notifier == nil || ev.Amount.LessThan(m.largeTradeThreshold) {
			return
		}
		m.notifier.Notify(notify.Event{
			Kind:      notify.KindLargeTradeDetected,
			Pool:      ev.Pool,
			Amount:    ev.Amount,
			Price:     ev.Price,
			Message:   "large trade observed on streaming subscription",
			Timestamp: time.Now(),
		})
	}
}

func (m *Monitor) stopLossTick() {
	for _, o := range m.book.ListActive("") {
		if o.OrderType != types.OrderTypeStopLoss {
			continue
		}
		snap, ok := m.snapshots.Get(o.Pool)
		if !ok {
			continue
		}
		if m.book.RatchetTrailingStop(o.ID, snap.Price) {
			m.emit(o, types.SignalStopLoss, types.UrgencyCritical, snap)
		}
	}
}

// Indicators bundles analytics computed on demand from a pool's history;
// nothing here is cached between calls.
type Indicators struct {
	EMA    decimal.Decimal
	StdDev decimal.Decimal
	RSI    decimal.Decimal
}

// Compute derives EMA/stddev/RSI from the most recent points in a pool's
// history. Returns the zero value if fewer than period+1 points exist.
func (m *Monitor) Compute(pool string, period int) (Indicators, bool) {
	m.histMu.RLock()
	hist, ok := m.histories[pool]
	m.histMu.RUnlock()
	if !ok || hist.Len() < period+1 {
		return Indicators{}, false
	}
	points := hist.Recent(0)

	ema := NewEMA(period)
	vol := NewVolatilityTracker(period)
	for _, p := range points {
		ema.Update(p.Price)
		vol.Update(p.Price)
	}

	return Indicators{
		EMA:    ema.Value(),
		StdDev: vol.StdDev(),
		RSI:    rsi(points, period),
	}, true
}

func rsi(points []types.PricePoint, period int) decimal.Decimal {
	if len(points) < period+1 {
		return decimal.NewFromInt(50)
	}
	start := len(points) - period - 1
	gain := decimal.Zero
	loss := decimal.Zero
	for i := start + 1; i < len(points); i++ {
		delta := points[i].Price.Sub(points[i-1].Price)
		if delta.IsPositive() {
			gain = gain.Add(delta)
		} else {
			loss = loss.Add(delta.Abs())
		}
	}
	if loss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := gain.Div(loss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}
