package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeEventDetails(t *testing.T) {
	e := TradeEvent{
		SolAmount:   1_500_000_000,   // 1.5 SOL
		TokenAmount: 300_000_000_000, // 300000 tokens
	}
	d := e.Details()

	require.True(t, d.SolAmount.Equal(decimal.RequireFromString("1.5")))
	require.True(t, d.TokenAmount.Equal(decimal.NewFromInt(300000)))
	assert.True(t, d.Price.Equal(decimal.RequireFromString("0.000005")))
	assert.True(t, d.MarketCap.Equal(decimal.NewFromInt(5000)))
}

func TestTradeEventDetails_ZeroTokenAmount(t *testing.T) {
	e := TradeEvent{SolAmount: 1_000_000_000}
	d := e.Details()
	assert.True(t, d.Price.IsZero())
	assert.True(t, d.MarketCap.IsZero())
}

func TestAmmTradeEventDetails(t *testing.T) {
	e := AmmTradeEvent{
		SolAmount:   2_000_000_000,   // 2 SOL
		TokenAmount: 400_000_000_000, // 400000 tokens
		LpFee:       5_000_000,
	}
	d := e.Details()
	assert.True(t, d.Price.Equal(decimal.RequireFromString("0.000005")))
	assert.True(t, d.LpFee.Equal(decimal.RequireFromString("0.005")))
}

func TestAmmPoolDataTrackedMint(t *testing.T) {
	assert.Equal(t, "MintA", AmmPoolData{BaseTokenMint: "MintA", QuoteTokenMint: WSOL}.TrackedMint())
	assert.Equal(t, "MintB", AmmPoolData{BaseTokenMint: WSOL, QuoteTokenMint: "MintB"}.TrackedMint())
	assert.Empty(t, AmmPoolData{BaseTokenMint: "MintA", QuoteTokenMint: "MintB"}.TrackedMint())
}
