package bitmex

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaigouthro/trading-server/internal/types"
)

const (
	wsDialTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadDeadline = 75 * time.Second
	wsMaxBackoff   = 30 * time.Second
)

// wsMessage is the envelope the venue pushes table updates in.
type wsMessage struct {
	Table  string      `json:"table"`
	Action string      `json:"action"`
	Data   []wireTrade `json:"data"`
}

// tradeFeed maintains one websocket subscription for a set of symbols,
// reconnecting with capped exponential backoff. Ticks are delivered in
// arrival order on a single channel.
type tradeFeed struct {
	url     string
	symbols []string
	logger  *slog.Logger

	out    chan types.Tick
	cancel context.CancelFunc
	done   chan struct{}
}

// SubscribeTrades opens the live trade stream for the given symbols. The
// returned channel closes when the context is cancelled or the client is
// closed.
func (c *Client) SubscribeTrades(ctx context.Context, symbols []string) (<-chan types.Tick, error) {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	if c.feed != nil {
		c.feed.stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	feed := &tradeFeed{
		url:     c.cfg.WSURL,
		symbols: symbols,
		logger:  c.logger,
		out:     make(chan types.Tick, 1024),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.feed = feed

	go feed.run(ctx)
	return feed.out, nil
}

func (f *tradeFeed) stop() {
	f.cancel()
	<-f.done
}

// run owns the connection lifecycle: dial, subscribe, read until failure,
// back off, repeat.
func (f *tradeFeed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.out)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("trade stream disconnected, reconnecting",
			"venue", venueName, "backoff", backoff, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
	}
}

// session runs one connect-subscribe-read cycle and returns the error that
// ended it.
func (f *tradeFeed) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		args[i] = "trade:" + s
	}
	sub := map[string]any{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.logger.Info("trade stream subscribed", "venue", venueName, "symbols", f.symbols)

	// Close the connection when the context ends so ReadMessage unblocks.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-sessionDone:
		}
	}()

	go f.keepalive(ctx, conn, sessionDone)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Welcome and subscription acks don't match the envelope.
			continue
		}
		if msg.Table != "trade" || msg.Action != "insert" {
			continue
		}

		for _, tr := range msg.Data {
			tick := types.Tick{
				Symbol:    tr.Symbol,
				Timestamp: tr.Timestamp,
				Price:     tr.Price,
				Size:      tr.Size,
				Side:      sideFromWire(tr.Side),
			}
			select {
			case f.out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Consumer is behind; drop the oldest to keep the feed live.
				select {
				case <-f.out:
				default:
				}
				select {
				case f.out <- tick:
				default:
				}
			}
		}
	}
}

func (f *tradeFeed) keepalive(ctx context.Context, conn *websocket.Conn, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			if err != nil {
				return
			}
		}
	}
}
