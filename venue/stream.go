package venue

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// StreamEventKind identifies the kind of push event a venue's streaming
// endpoint can emit.
type StreamEventKind string

const (
	StreamActiveBinChanged   StreamEventKind = "ActiveBinChanged"
	StreamLargeTradeDetected StreamEventKind = "LargeTradeDetected"
)

// StreamEvent is the decoded form of a push message, carrying only the
// fields relevant to its Kind.
type StreamEvent struct {
	Kind        StreamEventKind
	Pool        string
	ActiveBinID int32
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Timestamp   time.Time
}

type streamEventWire struct {
	Kind        string `json:"kind"`
	Pool        string `json:"pool"`
	ActiveBinID int32  `json:"active_bin_id"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
}

// StreamSubscriber maintains a websocket connection to a venue's streaming
// endpoint and hands decoded events to a caller-supplied handler. It is a
// supplement to the monitor's polling loop, not a replacement for it:
// callers still poll, and treat stream events purely as an early nudge.
type StreamSubscriber struct {
	url     string
	handler func(StreamEvent)
}

// NewStreamSubscriber builds a subscriber against url, invoking handler for
// every decoded event. handler must not block.
func NewStreamSubscriber(url string, handler func(StreamEvent)) *StreamSubscriber {
	return &StreamSubscriber{url: url, handler: handler}
}

// Run dials the venue's streaming endpoint and reads events until ctx is
// cancelled, reconnecting after any read or dial error with a backoff that
// starts at 1s and doubles up to 30s.
// It returns only when ctx is done.
func (s *StreamSubscriber) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runOnce(ctx); err != nil {
			log.Warn().Err(err).Str("url", s.url).Dur("retry_in", backoff).Msg("venue: stream subscriber disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *StreamSubscriber) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var wire streamEventWire
		if err := conn.ReadJSON(&wire); err != nil {
			return err
		}
		ev, err := decodeStreamEvent(wire)
		if err != nil {
			log.Warn().Err(err).Msg("venue: dropping malformed stream event")
			continue
		}
		s.handler(ev)
	}
}

func decodeStreamEvent(wire streamEventWire) (StreamEvent, error) {
	ev := StreamEvent{
		Kind:        StreamEventKind(wire.Kind),
		Pool:        wire.Pool,
		ActiveBinID: wire.ActiveBinID,
		Timestamp:   time.Now(),
	}
	if wire.Price != "" {
		p, err := decimal.NewFromString(wire.Price)
		if err != nil {
			return StreamEvent{}, err
		}
		ev.Price = p
	}
	if wire.Amount != "" {
		a, err := decimal.NewFromString(wire.Amount)
		if err != nil {
			return StreamEvent{}, err
		}
		ev.Amount = a
	}
	return ev, nil
}
