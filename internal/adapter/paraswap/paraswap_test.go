package paraswap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

func testCfg(baseURL string) config.AdapterCfg {
	return config.AdapterCfg{
		Protocol:      ID,
		BaseURL:       baseURL,
		RateLimit:     100,
		RateWindow:    1000,
		RetryAttempts: 1,
		RetryBaseMs:   1,
		TimeoutMs:     2000,
	}
}

func testReq() types.QuoteRequest {
	return types.QuoteRequest{
		FromToken:       types.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, ChainID: 1},
		ToToken:         types.Token{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Decimals: 18, ChainID: 1},
		Amount:          decimal.RequireFromString("2500000000"),
		SlippagePercent: decimal.RequireFromString("0.5"),
		ChainID:         1,
	}
}

func TestQuote_ParsesPriceRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "1", q.Get("network"))
		assert.Equal(t, "6", q.Get("srcDecimals"))
		w.Write([]byte(`{"priceRoute": {
			"srcAmount": "2500000000",
			"destAmount": "2500000000000000000000",
			"gasCost": "210000",
			"side": "SELL",
			"priceImpact": "-0.15",
			"bestRoute": [{
				"percent": 100,
				"swaps": [{
					"srcToken": "0xa0b8",
					"destToken": "0x6b17",
					"swapExchanges": [
						{"exchange": "UniswapV3", "percent": 70, "poolAddresses": ["0xpool1"]},
						{"exchange": "SushiSwap", "percent": 30, "poolAddresses": []}
					]
				}]
			}]
		}}`))
	}))
	defer srv.Close()

	a := New(testCfg(srv.URL), []uint64{1}, zap.NewNop())
	got, err := a.Quote(context.Background(), testReq())
	require.NoError(t, err)

	assert.True(t, got.ToAmount.Equal(decimal.RequireFromString("2500000000000000000000")))
	assert.True(t, got.PriceImpactPct.Equal(decimal.RequireFromString("0.15")), "impact is reported as an absolute value")
	assert.EqualValues(t, 210000, got.GasEstimate)

	require.Len(t, got.Route, 2)
	assert.Equal(t, types.ProtocolID("UniswapV3"), got.Route[0].Protocol)
	assert.True(t, got.Route[0].PercentOfTotal.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, "0xpool1", got.Route[0].PoolAddress)
	assert.Empty(t, got.Route[1].PoolAddress)
}

func TestQuote_NetworkFromTokenChain(t *testing.T) {
	var network string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network = r.URL.Query().Get("network")
		w.Write([]byte(`{"priceRoute": {"destAmount": "100", "gasCost": "210000"}}`))
	}))
	defer srv.Close()

	a := New(testCfg(srv.URL), []uint64{137}, zap.NewNop())
	req := testReq()
	req.FromToken.ChainID = 137
	req.ToToken.ChainID = 137
	req.ChainID = 0 // callers may omit the top-level chain id

	_, err := a.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "137", network)
}

func TestQuote_ErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		kind types.ErrorKind
	}{
		{"too small", `{"error": "amount too small"}`, types.ErrAmountTooSmall},
		{"too large", `{"error": "srcAmount too big"}`, types.ErrAmountTooLarge},
		{"token missing", `{"error": "token not found"}`, types.ErrTokenNotSupported},
		{"generic", `{"error": "internal error"}`, types.ErrAPI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a := New(testCfg(srv.URL), []uint64{1}, zap.NewNop())
			_, err := a.Quote(context.Background(), testReq())
			require.Error(t, err)
			assert.True(t, types.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestQuote_MaxImpactLowersConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"priceRoute": {"destAmount": "100", "gasCost": "210000", "maxImpactReached": true}}`))
	}))
	defer srv.Close()

	a := New(testCfg(srv.URL), []uint64{1}, zap.NewNop())
	got, err := a.Quote(context.Background(), testReq())
	require.NoError(t, err)
	assert.InDelta(t, 0.65, got.Confidence, 1e-9)
}

func TestBuildTransaction_PostsToChainEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/1", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{
			"to": "0xDEF171Fe48CF0115B1d80b88dc8eAB59176FEe57",
			"data": "0xcafe",
			"value": "0",
			"gasPrice": "25000000000",
			"gas": 300000,
			"chainId": 1
		}`))
	}))
	defer srv.Close()

	a := New(testCfg(srv.URL), []uint64{1}, zap.NewNop())
	quote := &types.ProtocolQuote{
		Protocol:    ID,
		FromToken:   testReq().FromToken,
		ToToken:     testReq().ToToken,
		FromAmount:  decimal.RequireFromString("2500000000"),
		ToAmountMin: decimal.RequireFromString("2487500000000000000000"),
		ValidUntil:  time.Now().Add(time.Minute).UnixMilli(),
	}

	params, err := a.BuildTransaction(context.Background(), quote, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "0xDEF171Fe48CF0115B1d80b88dc8eAB59176FEe57", params.To)
	assert.EqualValues(t, 300000, params.GasLimit)
	assert.Zero(t, params.Deadline)
}
