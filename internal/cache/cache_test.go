package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

func sampleRequest() types.QuoteRequest {
	return types.QuoteRequest{
		FromToken:       types.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1},
		ToToken:         types.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", ChainID: 1},
		Amount:          decimal.RequireFromString("2500"),
		SlippagePercent: decimal.RequireFromString("0.5"),
		ChainID:         1,
	}
}

func TestFingerprint_CaseInsensitiveAddresses(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	b.FromToken.Address = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_SensitiveToEconomicFields(t *testing.T) {
	base := sampleRequest()

	amount := sampleRequest()
	amount.Amount = decimal.RequireFromString("2500.01")
	assert.NotEqual(t, Fingerprint(base), Fingerprint(amount))

	slip := sampleRequest()
	slip.SlippagePercent = decimal.RequireFromString("1")
	assert.NotEqual(t, Fingerprint(base), Fingerprint(slip))

	chain := sampleRequest()
	chain.ToToken.ChainID = 137
	assert.NotEqual(t, Fingerprint(base), Fingerprint(chain))
}

func TestMemory_PutGet(t *testing.T) {
	c := NewMemory("test")
	fp := Fingerprint(sampleRequest())
	q := types.ProtocolQuote{Protocol: "1inch", ToAmount: decimal.RequireFromString("2510")}

	c.Put(context.Background(), fp, q, 30*time.Second)

	got, ok := c.Get(context.Background(), fp)
	require.True(t, ok)
	assert.Equal(t, types.ProtocolID("1inch"), got.Protocol)
	assert.True(t, got.ToAmount.Equal(q.ToAmount))
}

func TestMemory_ExpiredEntryIsMissAndEvicted(t *testing.T) {
	c := NewMemory("test")
	base := time.Now()
	c.now = func() time.Time { return base }

	fp := "fp"
	c.Put(context.Background(), fp, types.ProtocolQuote{Protocol: "1inch"}, 30*time.Second)

	c.now = func() time.Time { return base.Add(31 * time.Second) }
	_, ok := c.Get(context.Background(), fp)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "lazy eviction removes the expired entry")
}

func TestMemory_ZeroTTLNotStored(t *testing.T) {
	c := NewMemory("test")
	c.Put(context.Background(), "fp", types.ProtocolQuote{}, 0)
	assert.Equal(t, 0, c.Len())
}

func TestMemory_Purge(t *testing.T) {
	c := NewMemory("test")
	c.Put(context.Background(), "a", types.ProtocolQuote{}, time.Minute)
	c.Put(context.Background(), "b", types.ProtocolQuote{}, time.Minute)
	require.Equal(t, 2, c.Len())

	c.Purge(context.Background())
	assert.Equal(t, 0, c.Len())
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory("test")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put(context.Background(), "shared", types.ProtocolQuote{Protocol: "1inch"}, time.Minute)
				c.Get(context.Background(), "shared")
			}
		}()
	}
	wg.Wait()

	_, ok := c.Get(context.Background(), "shared")
	assert.True(t, ok)
}
