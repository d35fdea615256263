package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramSink pushes every Event to a single chat as a Markdown message,
// formatted from an emoji/template lookup keyed by Kind.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink dials the Telegram Bot API.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to create telegram bot: %w", err)
	}
	return &TelegramSink{api: api, chatID: chatID}, nil
}

var kindEmoji = map[Kind]string{
	KindOrderCreated:       "📝",
	KindOrderExecuted:      "✅",
	KindOrderFailed:        "🛑",
	KindStrategyCancelled:  "🚫",
	KindMevAttackDetected:  "⚠️",
	KindRiskLimitTripped:   "🔒",
	KindPriceAlert:         "📣",
	KindLargeTradeDetected: "🐳",
}

// Notify sends e to the configured chat. Send failures are logged, not
// returned, so a Telegram outage never blocks the caller.
func (t *TelegramSink) Notify(e Event) {
	emoji, ok := kindEmoji[e.Kind]
	if !ok {
		emoji = "ℹ️"
	}

	text := fmt.Sprintf("%s *%s*\n\n📊 Pool: %s\n%s", emoji, e.Kind, e.Pool, e.Message)
	if !e.Amount.IsZero() {
		text += fmt.Sprintf("\n💵 Amount: *%s*", e.Amount.StringFixed(6))
	}
	if !e.Price.IsZero() {
		text += fmt.Sprintf("\n💱 Price: *%s*", e.Price.StringFixed(6))
	}
	if e.Reason != "" {
		text += fmt.Sprintf("\n📝 %s", e.Reason)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	go func() {
		if _, err := t.api.Send(msg); err != nil {
			log.Error().Err(err).Str("event", string(e.Kind)).Msg("notify: failed to send telegram message")
		}
	}()
}
