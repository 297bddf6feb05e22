package marketfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFeed_ZeroValueUnknown(t *testing.T) {
	f := New(zap.NewNop())
	assert.False(t, f.Current().Known())
}

func TestFeed_ApplyTick(t *testing.T) {
	f := New(zap.NewNop())
	f.apply(tick{NativeUSD: "3200.50", GasPriceWei: "30000000000", TsMs: 1700000000000})

	c := f.Current()
	require.True(t, c.Known())
	assert.Equal(t, "3200.5", c.NativeUSD.String())
	assert.Equal(t, "30000000000", c.GasPriceWei.String())
	assert.Equal(t, time.UnixMilli(1700000000000), c.UpdatedAt)
}

func TestFeed_MalformedTickIgnored(t *testing.T) {
	f := New(zap.NewNop())
	f.apply(tick{NativeUSD: "3200", GasPriceWei: "30000000000", TsMs: 1})
	before := f.Current()

	f.apply(tick{NativeUSD: "not-a-number", GasPriceWei: "1", TsMs: 2})
	assert.Equal(t, before, f.Current(), "bad values never clobber the last good snapshot")

	f.apply(tick{NativeUSD: "3300", GasPriceWei: "oops", TsMs: 3})
	assert.Equal(t, before, f.Current())
}

func TestFeed_ZeroTimestampDefaultsToNow(t *testing.T) {
	f := New(zap.NewNop())
	f.apply(tick{NativeUSD: "3200", GasPriceWei: "30000000000"})
	assert.WithinDuration(t, time.Now(), f.Current().UpdatedAt, time.Second)
}

func TestFeed_RunRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(zap.NewNop())
	done := make(chan struct{})
	go func() {
		f.RunRedis(ctx, rdb, "market.ticks")
		close(done)
	}()

	// Publish once the subscription is live; retry until a subscriber is
	// counted so the test never races the subscribe round-trip.
	require.Eventually(t, func() bool {
		return mr.Publish("market.ticks",
			`{"nativeUsd": "3200", "gasPriceWei": "30000000000", "tsMs": 1700000000000}`) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.Current().Known()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "3200", f.Current().NativeUSD.String())

	mr.Publish("market.ticks", `{"nativeUsd": "oops`)
	mr.Publish("market.ticks", `{"nativeUsd": "3300", "gasPriceWei": "31000000000", "tsMs": 1700000001000}`)
	require.Eventually(t, func() bool {
		return f.Current().NativeUSD.String() == "3300"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunRedis did not stop on context cancellation")
	}
}

func TestFeed_RunWS(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		err = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"nativeUsd": "3200", "gasPriceWei": "30000000000", "tsMs": 1700000000000}`))
		require.NoError(t, err)
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(zap.NewNop())
	done := make(chan struct{})
	go func() {
		f.RunWS(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.Current().Known()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "3200", f.Current().NativeUSD.String())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunWS did not stop on context cancellation")
	}
}
