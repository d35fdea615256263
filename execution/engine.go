package execution

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/book"
	"github.com/dlmmcore/engine/notify"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
	"github.com/dlmmcore/engine/venue"
)

// Engine is the priority-ordered, bounded-concurrency order execution
// engine. A dispatcher goroutine pulls signals off a priority queue at a
// fixed poll period, acquires a semaphore permit, and spawns a worker per
// dequeued item; workers run pre-flight validation, MEV protection
// selection, and fee pricing before handing the submission to the venue.
type Engine struct {
	mu        sync.Mutex
	queue     priorityQueue
	cancelled map[string]bool

	cfg      Config
	book     *book.Book
	client   venue.Client
	counters *stats.Counters
	gas      *GasOptimizer

	signals <-chan types.ExecutionSignal
	sem     chan struct{}
	wg      sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand

	notifier notify.Sink
}

// SetNotifier installs the sink the engine publishes MevAttackDetected
// events through when the atomic-bundle protection tier is selected.
func (e *Engine) SetNotifier(sink notify.Sink) {
	e.notifier = sink
}

// New constructs an Engine. signals is the channel the monitor publishes
// ExecutionSignals to (Monitor.Signals()).
func New(cfg Config, b *book.Book, client venue.Client, counters *stats.Counters, signals <-chan types.ExecutionSignal) *Engine {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 1
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 100 * time.Millisecond
	}
	return &Engine{
		cancelled: make(map[string]bool),
		cfg:       cfg,
		book:      b,
		client:    client,
		counters:  counters,
		gas:       NewGasOptimizer(),
		signals:   signals,
		sem:       make(chan struct{}, cfg.MaxConcurrentExecutions),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start runs the ingest and dispatch loops until ctx is cancelled. Use
// Wait after cancelling to drain in-flight workers.
func (e *Engine) Start(ctx context.Context) {
	go e.ingestLoop(ctx)
	go e.dispatchLoop(ctx)
}

// Wait blocks until every in-flight worker has returned. Call after ctx has
// been cancelled to implement a clean shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-e.signals:
			if !ok {
				return
			}
			e.enqueue(sig)
		}
	}
}

// enqueue pushes a freshly observed signal onto the priority queue. The
// engine never blocks the monitor: this call only ever takes a short mutex,
// never performs I/O.
func (e *Engine) enqueue(sig types.ExecutionSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	heap.Push(&e.queue, &queueItem{
		signal:           sig,
		enqueuedAt:       time.Now(),
		effectiveUrgency: sig.Urgency,
	})
	e.counters.SetQueueDepth(int64(e.queue.Len()))
}

// CancelQueued marks orderID so that if it is still sitting in the queue it
// is dropped before dispatch, rather than submitted. A cancel that arrives
// after the order has already been dispatched is a no-op here: the
// in-flight submission races the cancel and wins if it lands a fill.
// Aborting the venue call mid-flight would trade that race for
// reconciliation bugs, so the engine deliberately does not.
func (e *Engine) CancelQueued(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[orderID] = true
}

func (e *Engine) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatchReady(ctx)
		}
	}
}

// dispatchReady pops items off the queue while a concurrency permit is
// available, spawning one worker per item.
func (e *Engine) dispatchReady(ctx context.Context) {
	for {
		item, gotPermit := e.popNext()
		if item == nil {
			if gotPermit {
				<-e.sem
			}
			return
		}

		e.wg.Add(1)
		go func(it *queueItem) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.execute(ctx, it)
		}(item)
	}
}

// popNext applies the age-bonus starvation mitigation, acquires a
// concurrency permit, and pops the highest-priority non-cancelled item.
// Returns (nil, false) when no permit is free. If a
// permit was acquired but no usable item was found, gotPermit is true so the
// caller releases it.
func (e *Engine) popNext() (*queueItem, bool) {
	select {
	case e.sem <- struct{}{}:
	default:
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyAgeBonusLocked()

	for e.queue.Len() > 0 {
		item := heap.Pop(&e.queue).(*queueItem)
		e.counters.SetQueueDepth(int64(e.queue.Len()))
		if e.cancelled[item.signal.OrderID] {
			delete(e.cancelled, item.signal.OrderID)
			continue
		}
		return item, true
	}
	return nil, true
}

// applyAgeBonusLocked promotes any item waiting longer than
// cfg.AgeBonusThreshold one urgency step, so a continuous stream of
// high-urgency signals cannot starve low-urgency orders indefinitely. Each
// item is promoted at most once. Callers must hold e.mu.
func (e *Engine) applyAgeBonusLocked() {
	if e.cfg.AgeBonusThreshold <= 0 {
		return
	}
	promoted := false
	for _, item := range e.queue {
		if item.agePromoted || item.effectiveUrgency >= types.UrgencyCritical {
			continue
		}
		if time.Since(item.enqueuedAt) >= e.cfg.AgeBonusThreshold {
			item.effectiveUrgency++
			item.agePromoted = true
			promoted = true
		}
	}
	if promoted {
		heap.Init(&e.queue)
	}
}

// execute runs one submission attempt for an order: pre-flight validation,
// protection selection, fee policy, submission. A retriable failure
// re-enters the queue with the same priority after an exponential backoff,
// getting a fresh protection-strategy selection on the next attempt.
func (e *Engine) execute(ctx context.Context, item *queueItem) {
	order, ok := e.book.Get(item.signal.OrderID)
	if !ok {
		return
	}
	if err := e.preflight(order, item.signal); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("execution: pre-flight rejected signal")
		return
	}

	vulnerability := e.vulnerabilityFor(order, item.signal)
	plan := ProtectionPlan{}
	if e.cfg.EnableMevProtection {
		plan = SelectProtection(e.cfg, vulnerability, order.Priority, e.jitter)
		if plan.UseAtomicBundle && e.notifier != nil {
			e.notifier.Notify(notify.Event{
				Kind:      notify.KindMevAttackDetected,
				Pool:      order.Pool,
				OrderID:   order.ID,
				Message:   "atomic-bundle protection engaged: elevated MEV vulnerability",
				Amount:    vulnerability,
				Timestamp: time.Now(),
			})
		}
	}

	if plan.Delay > 0 {
		select {
		case <-time.After(plan.Delay):
		case <-ctx.Done():
			return
		}
	}

	start := time.Now()
	err := e.submitAndFill(ctx, order, plan)
	e.gas.RecordExecutionDuration(time.Since(start))
	if err == nil {
		return
	}

	if stats.Retriable(err) && item.attempt < e.cfg.MaxRetryAttempts {
		e.counters.IncRetry()
		e.book.NoteRetry(order.ID)
		backoff := time.Duration(float64(e.cfg.RetryDelay) * math.Pow(2, float64(item.attempt)))
		e.requeueAfter(ctx, item, backoff)
		return
	}

	if failErr := e.book.FailOrder(order.ID, err.Error()); failErr != nil {
		log.Warn().Err(failErr).Str("order_id", order.ID).Msg("execution: failed order already terminal")
	}
}

// requeueAfter re-enters a retriable item once its backoff elapses. The
// wait happens off the worker pool so the concurrency permit is freed for
// other submissions during the backoff.
func (e *Engine) requeueAfter(ctx context.Context, item *queueItem, backoff time.Duration) {
	next := &queueItem{
		signal:           item.signal,
		enqueuedAt:       item.enqueuedAt, // keep original FIFO position within the urgency class
		effectiveUrgency: item.effectiveUrgency,
		agePromoted:      item.agePromoted,
		attempt:          item.attempt + 1,
	}
	time.AfterFunc(backoff, func() {
		if ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		heap.Push(&e.queue, next)
		e.counters.SetQueueDepth(int64(e.queue.Len()))
		e.mu.Unlock()
	})
}

// preflight revalidates everything the signal only hinted at.
func (e *Engine) preflight(order *types.RangeOrder, signal types.ExecutionSignal) error {
	if order.Status.IsTerminal() {
		return stats.New(stats.KindInvalidState, "order already terminal: "+string(order.Status))
	}
	if order.Status != types.OrderStatusPending && order.Status != types.OrderStatusPartiallyFilled {
		return stats.New(stats.KindInvalidState, "order not in a dispatchable status: "+string(order.Status))
	}
	if order.ExpiresAt != nil && time.Now().After(*order.ExpiresAt) {
		_ = e.book.ExpireOrder(order.ID)
		return stats.New(stats.KindExpired, "order past expires_at: "+order.ID)
	}
	if e.cfg.EnableSlippageProtection && order.MaxSlippageBps > 0 && signal.ExpectedSlippageBps > order.MaxSlippageBps {
		return stats.New(stats.KindSlippageProtection, fmt.Sprintf("expected slippage %dbps exceeds max %dbps", signal.ExpectedSlippageBps, order.MaxSlippageBps))
	}
	if e.cfg.MinLiquidityFloor.IsPositive() && signal.AvailableLiquidity.LessThan(e.cfg.MinLiquidityFloor) {
		return stats.New(stats.KindInsufficientLiquidity, "available liquidity below configured floor")
	}
	return nil
}

func (e *Engine) vulnerabilityFor(order *types.RangeOrder, signal types.ExecutionSignal) decimal.Decimal {
	toxicity := e.cfg.PoolToxicity[order.Pool]
	return ComputeVulnerability(e.cfg.VulnerabilityWeights, VulnerabilityInputs{
		Notional:            order.AmountIn.Sub(order.FilledAmount).Mul(order.TargetPrice),
		NotionalReference:   e.cfg.NotionalReference,
		CurrentFee:          e.cfg.FeePolicy.Resolve(e.gas),
		TrailingMedianFee:   e.gas.MedianFee(),
		PoolToxicity:        toxicity,
		TimeToBlockBoundary: e.cfg.BlockInterval / 2,
		BlockInterval:       e.cfg.BlockInterval,
	})
}

// submitAndFill splits the order's remaining amount per the protection
// plan, submits each slice to the venue, and applies successful fills to
// the book. The first failed slice aborts the remaining ones.
func (e *Engine) submitAndFill(ctx context.Context, order *types.RangeOrder, plan ProtectionPlan) error {
	splits := plan.SplitCount
	if splits < 1 {
		splits = 1
	}

	remaining := order.AmountIn.Sub(order.FilledAmount)
	if !remaining.IsPositive() {
		return nil
	}
	share := remaining.Div(decimal.NewFromInt(int64(splits)))

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	// Dry-run the whole remaining amount before spending a signature. A
	// deterministic simulation failure is a venue rejection, not worth a
	// retry; transport errors keep their own (possibly retriable) kind.
	sim, err := e.client.Simulate(submitCtx, venue.SubmitRequest{
		OrderID:     order.ID,
		Pool:        order.Pool,
		Side:        order.Side,
		BinID:       order.BinID,
		AmountIn:    remaining,
		TargetPrice: order.TargetPrice,
	})
	if err != nil {
		return err
	}
	if !sim.Success {
		return stats.New(stats.KindVenueRejected, "simulation rejected: "+sim.Error)
	}

	allocated := decimal.Zero
	for i := 0; i < splits; i++ {
		amt := share
		if i == splits-1 {
			amt = remaining.Sub(allocated)
		}
		allocated = allocated.Add(amt)

		result, err := e.client.Submit(submitCtx, venue.SubmitRequest{
			OrderID:            order.ID,
			Pool:               order.Pool,
			Side:               order.Side,
			BinID:              order.BinID,
			AmountIn:           amt,
			TargetPrice:        order.TargetPrice,
			MaxSlippageBps:     order.MaxSlippageBps,
			UsePrivacyEndpoint: plan.UsePrivacyEndpoint,
			UseAtomicBundle:    plan.UseAtomicBundle,
		})
		if err != nil {
			return err
		}

		if err := e.book.OnFill(types.Fill{
			OrderID:   order.ID,
			Amount:    result.FilledAmount,
			Price:     result.FillPrice,
			Fee:       result.Fee,
			Timestamp: time.Now(),
		}, decimal.Zero); err != nil {
			return err
		}
	}
	return nil
}

// jitter draws a delay uniformly from [min, max], guarded by a mutex since
// math/rand.Rand is not safe for concurrent use across worker goroutines.
func (e *Engine) jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return min + time.Duration(e.rng.Int63n(int64(max-min)+1))
}
