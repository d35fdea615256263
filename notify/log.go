package notify

import "github.com/rs/zerolog/log"

// LogSink writes every event as a structured zerolog line. It is always
// wired in, independent of whether Telegram is configured.
type LogSink struct{}

func (LogSink) Notify(e Event) {
	ev := log.Info()
	if e.Kind == KindOrderFailed || e.Kind == KindRiskLimitTripped || e.Kind == KindMevAttackDetected {
		ev = log.Warn()
	}
	ev.
		Str("event", string(e.Kind)).
		Str("pool", e.Pool).
		Str("order_id", e.OrderID).
		Str("strategy_id", e.StrategyID).
		Str("amount", e.Amount.StringFixed(6)).
		Str("price", e.Price.StringFixed(6)).
		Str("reason", e.Reason).
		Msg(e.Message)
}
