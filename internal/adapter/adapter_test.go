package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

type namedAdapter struct {
	id    types.ProtocolID
	kind  types.AdapterKind
	pairs bool
}

func (n namedAdapter) ID() types.ProtocolID    { return n.id }
func (n namedAdapter) Kind() types.AdapterKind { return n.kind }
func (n namedAdapter) Quote(context.Context, types.QuoteRequest) (*types.ProtocolQuote, error) {
	return nil, nil
}
func (n namedAdapter) BuildTransaction(context.Context, *types.ProtocolQuote, string, time.Time) (*types.TransactionParams, error) {
	return nil, nil
}
func (n namedAdapter) SupportsPair(types.Token, types.Token) bool { return n.pairs }

func TestRegistry_ByKindStableOrder(t *testing.T) {
	r := NewRegistry(
		namedAdapter{id: "zeta", kind: types.KindSwap, pairs: true},
		namedAdapter{id: "alpha", kind: types.KindSwap, pairs: true},
		namedAdapter{id: "mid", kind: types.KindBridge, pairs: true},
	)

	swaps := r.ByKind(types.KindSwap)
	require.Len(t, swaps, 2)
	assert.Equal(t, types.ProtocolID("alpha"), swaps[0].ID())
	assert.Equal(t, types.ProtocolID("zeta"), swaps[1].ID())

	bridges := r.ByKind(types.KindBridge)
	require.Len(t, bridges, 1)
	assert.Equal(t, types.ProtocolID("mid"), bridges[0].ID())
}

func TestRegistry_EligibleHonorsAllowList(t *testing.T) {
	r := NewRegistry(
		namedAdapter{id: "alpha", kind: types.KindSwap, pairs: true},
		namedAdapter{id: "beta", kind: types.KindSwap, pairs: true},
	)

	req := types.QuoteRequest{AllowedProtocols: []types.ProtocolID{"beta"}}
	got := r.Eligible(types.KindSwap, req)
	require.Len(t, got, 1)
	assert.Equal(t, types.ProtocolID("beta"), got[0].ID())
}

func TestRegistry_EligibleSkipsUnsupportedPairs(t *testing.T) {
	r := NewRegistry(
		namedAdapter{id: "alpha", kind: types.KindSwap, pairs: false},
		namedAdapter{id: "beta", kind: types.KindSwap, pairs: true},
	)

	got := r.Eligible(types.KindSwap, types.QuoteRequest{})
	require.Len(t, got, 1)
	assert.Equal(t, types.ProtocolID("beta"), got[0].ID())
}

func TestRegistry_Get(t *testing.T) {
	a := namedAdapter{id: "alpha", kind: types.KindSwap}
	r := NewRegistry(a)
	assert.NotNil(t, r.Get("alpha"))
	assert.Nil(t, r.Get("missing"))
}
