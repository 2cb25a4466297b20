package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(price, size string) BookEntry {
	return BookEntry{Price: d(price), Size: d(size)}
}

func TestOrderBook_Midpoint(t *testing.T) {
	ob := OrderBook{
		Bids: []BookEntry{entry("0.85", "100")},
		Asks: []BookEntry{entry("0.88", "50")},
	}
	mid, ok := ob.Midpoint()
	require.True(t, ok)
	assert.True(t, d("0.865").Equal(mid), "got %s", mid)
	assert.True(t, d("0.03").Equal(ob.Spread()))
}

func TestOrderBook_ImpliedPrice_OneSided(t *testing.T) {
	bidsOnly := OrderBook{Bids: []BookEntry{entry("0.40", "10")}}
	p, ok := bidsOnly.ImpliedPrice()
	require.True(t, ok)
	assert.True(t, d("0.40").Equal(p))

	asksOnly := OrderBook{Asks: []BookEntry{entry("0.60", "10")}}
	p, ok = asksOnly.ImpliedPrice()
	require.True(t, ok)
	assert.True(t, d("0.60").Equal(p))

	_, ok = OrderBook{}.ImpliedPrice()
	assert.False(t, ok)
	assert.True(t, OrderBook{}.Empty())
}

func TestOrderBook_Depth(t *testing.T) {
	ob := OrderBook{
		Asks: []BookEntry{entry("0.50", "10"), entry("0.51", "20"), entry("0.52", "30")},
	}
	assert.True(t, d("30").Equal(ob.AskDepth(2)))
	assert.True(t, d("60").Equal(ob.AskDepth(0)))
	assert.True(t, d("60").Equal(ob.AskDepth(10)))
	assert.True(t, ob.BidDepth(5).IsZero())
}

func TestNewMarketSnapshot_UsesOldestTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	yes := OrderBook{TokenID: "y", Timestamp: now.Add(-5 * time.Second)}
	no := OrderBook{TokenID: "n", Timestamp: now.Add(-2 * time.Second)}

	snap := NewMarketSnapshot("0xc", yes, no, now)
	assert.Equal(t, now.Add(-5*time.Second), snap.ObservedAt)
	assert.Equal(t, "y", snap.Book(true).TokenID)
	assert.Equal(t, "n", snap.Book(false).TokenID)

	snap = NewMarketSnapshot("0xc", OrderBook{}, OrderBook{}, now)
	assert.Equal(t, now, snap.ObservedAt)
}

func TestMarket_Defaults(t *testing.T) {
	m := Market{}
	assert.True(t, DefaultTickSize.Equal(m.Tick()))
	lo, hi := m.PriceBounds()
	assert.True(t, d("0.01").Equal(lo))
	assert.True(t, d("0.99").Equal(hi))

	m.TickSize = d("0.001")
	assert.True(t, d("0.001").Equal(m.Tick()))
}

func TestMarket_Tokens(t *testing.T) {
	m := Market{Tokens: [2]Token{{TokenID: "no", Outcome: "No"}, {TokenID: "yes", Outcome: "Yes"}}}
	assert.Equal(t, "yes", m.YesToken().TokenID)
	assert.Equal(t, "no", m.NoToken().TokenID)
}
