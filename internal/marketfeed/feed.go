// Package marketfeed consumes an external price stream for market-condition
// context: native token price and prevailing gas price. The quote flow works
// with a zero-value context; a stale or absent feed never blocks a quote.
package marketfeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Context is a point-in-time market snapshot. The zero value means
// "unknown".
type Context struct {
	NativeUSD   decimal.Decimal `json:"nativeUsd"`   // native token price per chain's gas unit
	GasPriceWei decimal.Decimal `json:"gasPriceWei"` // prevailing gas price
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Known reports whether the snapshot holds real data.
func (c Context) Known() bool { return !c.UpdatedAt.IsZero() }

// Feed holds the latest market context, safe for concurrent readers.
type Feed struct {
	mu   sync.RWMutex
	last Context
	log  *zap.Logger
}

func New(log *zap.Logger) *Feed {
	return &Feed{log: log}
}

func (f *Feed) Current() Context {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last
}

func (f *Feed) set(c Context) {
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
}

// tick is the wire shape of one feed update, shared by the websocket and
// Redis transports.
type tick struct {
	NativeUSD   string `json:"nativeUsd"`
	GasPriceWei string `json:"gasPriceWei"`
	TsMs        int64  `json:"tsMs"`
}

func (f *Feed) apply(t tick) {
	native, err := decimal.NewFromString(t.NativeUSD)
	if err != nil {
		f.log.Debug("marketfeed: bad nativeUsd", zap.String("value", t.NativeUSD))
		return
	}
	gas, err := decimal.NewFromString(t.GasPriceWei)
	if err != nil {
		f.log.Debug("marketfeed: bad gasPriceWei", zap.String("value", t.GasPriceWei))
		return
	}
	ts := time.UnixMilli(t.TsMs)
	if t.TsMs == 0 {
		ts = time.Now()
	}
	f.set(Context{NativeUSD: native, GasPriceWei: gas, UpdatedAt: ts})
}

// RunWS consumes the websocket feed until ctx is done, reconnecting with a
// fixed backoff on any read or dial failure.
func (f *Feed) RunWS(ctx context.Context, url string) {
	dialer := &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	for ctx.Err() == nil {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			f.log.Warn("marketfeed: dial failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		f.readLoop(ctx, conn)
		_ = conn.Close()
	}
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.log.Warn("marketfeed: read failed, reconnecting", zap.Error(err))
			}
			return
		}
		var t tick
		if err := json.Unmarshal(msg, &t); err != nil {
			f.log.Debug("marketfeed: malformed tick", zap.Error(err))
			continue
		}
		f.apply(t)
	}
}

// RunRedis consumes ticks from a Redis pub/sub channel, the alternative
// transport when the price service publishes through Redis.
func (f *Feed) RunRedis(ctx context.Context, rdb *redis.Client, channel string) {
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var t tick
			if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
				f.log.Debug("marketfeed: malformed redis tick", zap.Error(err))
				continue
			}
			f.apply(t)
		}
	}
}
