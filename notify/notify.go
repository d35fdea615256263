// Package notify delivers structured trading events to one or more sinks
// (Telegram, logs). Events are a single typed struct behind a Sink
// interface so additional channels can be added without touching callers.
package notify

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates the notification events the core emits.
type Kind string

const (
	KindOrderCreated       Kind = "order_created"
	KindOrderExecuted      Kind = "order_executed"
	KindOrderFailed        Kind = "order_failed"
	KindStrategyCancelled  Kind = "strategy_cancelled"
	KindMevAttackDetected  Kind = "mev_attack_detected"
	KindRiskLimitTripped   Kind = "risk_limit_tripped"
	KindPriceAlert         Kind = "price_alert"
	KindLargeTradeDetected Kind = "large_trade_detected"
)

// Event is a single notification, carrying whichever fields are relevant to
// its Kind. Unused fields are left zero.
type Event struct {
	Kind       Kind
	Pool       string
	OrderID    string
	StrategyID string
	Message    string
	Amount     decimal.Decimal
	Price      decimal.Decimal
	Reason     string
	Timestamp  time.Time
}

// Sink receives notification events. Implementations must not block the
// caller for long; TelegramSink sends asynchronously.
type Sink interface {
	Notify(Event)
}

// Multi fans an event out to every sink in the slice.
type Multi []Sink

func (m Multi) Notify(e Event) {
	for _, s := range m {
		s.Notify(e)
	}
}
