package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
)

const (
	defaultStreamURL = "wss://stream.bybit.com/v5/public/linear"

	handshakeTimeout = 15 * time.Second
	pingPeriod       = 20 * time.Second
	readWait         = 60 * time.Second
	reconnectDelay   = 2 * time.Second
	maxReconnect     = 60 * time.Second
	// A connection that stays up at least this long counts as healthy and
	// resets the reconnect backoff.
	healthyUptime = time.Minute
)

// Stream subscribes to public ticker topics and keeps the adapter's live
// quote map current, so quotes between REST cycles reflect the last pushed
// tick rather than the previous cycle. It reconnects with exponential
// backoff until ctx is cancelled.
type Stream struct {
	adapter *Adapter
	wsURL   string
	symbols []string
	logger  *slog.Logger
}

// NewStream creates a stream for the given native symbols (e.g. BTCUSDT).
func NewStream(adapter *Adapter, wsURL string, symbols []string, logger *slog.Logger) *Stream {
	if wsURL == "" {
		wsURL = defaultStreamURL
	}
	return &Stream{
		adapter: adapter,
		wsURL:   wsURL,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "bybit-stream")),
	}
}

// Run dials, subscribes, and consumes ticker pushes until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		start := time.Now()
		err := s.connectAndRead(ctx)
		uptime := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("stream disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = backoff(delay, uptime)
	}
}

// backoff doubles the reconnect delay up to maxReconnect. A connection that
// stayed up past healthyUptime restarts the ladder from the base delay, so a
// single early outage does not pin every later reconnect at the maximum.
func backoff(previous, uptime time.Duration) time.Duration {
	if uptime >= healthyUptime {
		return reconnectDelay
	}
	next := previous * 2
	if next > maxReconnect {
		next = maxReconnect
	}
	return next
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	args := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		args = append(args, "tickers."+sym)
	}
	sub := map[string]any{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("subscribed", slog.Int("topics", len(args)))

	// Bybit drops connections that stay silent; it expects an application
	// level ping op rather than a ws control frame.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(msg)
	}
}

// tickerPush is the v5 public ticker payload. Pushes are deltas; absent
// fields keep their previous value.
type tickerPush struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		MarkPrice   string `json:"markPrice"`
		FundingRate string `json:"fundingRate"`
	} `json:"data"`
}

func (s *Stream) handleMessage(msg []byte) {
	var push tickerPush
	if err := json.Unmarshal(msg, &push); err != nil || push.Data.Symbol == "" {
		return
	}

	now := time.Now().UTC()

	s.adapter.mu.Lock()
	defer s.adapter.mu.Unlock()

	q, ok := s.adapter.stream[push.Data.Symbol]
	if !ok {
		q = domain.InstrumentQuote{
			Exchange:     s.adapter.Name(),
			NativeSymbol: push.Data.Symbol,
		}
	}
	if p := pick(push.Data.MarkPrice, push.Data.LastPrice); p != "" {
		if price, err := decimal.NewFromString(p); err == nil {
			q.Price = price
		}
	}
	if push.Data.FundingRate != "" {
		if rate, err := decimal.NewFromString(push.Data.FundingRate); err == nil {
			q.FundingRate = rate
		}
	}
	if q.Price.IsZero() {
		// Never surface a half-built quote.
		return
	}
	q.ObservedAt = now
	s.adapter.stream[push.Data.Symbol] = q
}
