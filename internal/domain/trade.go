package domain

import "github.com/shopspring/decimal"

// Program IDs monitored by the pipeline.
const (
	// PumpProgram is the pump.fun bonding curve program ID.
	PumpProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	// PumpAMMProgram is the pump.fun AMM (PumpSwap) program ID.
	PumpAMMProgram = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	// WSOL is the Wrapped SOL mint address.
	WSOL = "So11111111111111111111111111111111111111112"
)

var (
	// solDivisor converts lamports to SOL (10^9).
	solDivisor = decimal.NewFromInt(1_000_000_000)
	// tokenDivisor converts raw token units to tokens (10^6).
	tokenDivisor = decimal.NewFromInt(1_000_000)
	// totalSupply is the fixed pump.fun token supply (1B) used for market cap.
	totalSupply = decimal.NewFromInt(1_000_000_000)
)

// TxLogs is one logsNotification routed out of a streaming session:
// the raw material both decoders scan.
type TxLogs struct {
	Signature string
	Slot      uint64
	Success   bool
	Logs      []string
}

// TradeEvent is one decoded bonding curve trade. Immutable once decoded.
type TradeEvent struct {
	Signature            string
	Slot                 uint64
	Success              bool
	Mint                 string
	User                 string
	SolAmount            uint64
	TokenAmount          uint64
	IsBuy                bool
	Timestamp            int64
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
}

// TradeDetails is the human-scale view of a TradeEvent.
type TradeDetails struct {
	SolAmount    decimal.Decimal
	TokenAmount  decimal.Decimal
	VirtualSol   decimal.Decimal
	VirtualToken decimal.Decimal
	RealSol      decimal.Decimal
	RealToken    decimal.Decimal
	Price        decimal.Decimal
	MarketCap    decimal.Decimal
}

// Details derives display quantities from the raw integer amounts.
// Price is SOL per token, zero when the token amount is zero.
func (e *TradeEvent) Details() TradeDetails {
	d := TradeDetails{
		SolAmount:    decimal.NewFromUint64(e.SolAmount).Div(solDivisor),
		TokenAmount:  decimal.NewFromUint64(e.TokenAmount).Div(tokenDivisor),
		VirtualSol:   decimal.NewFromUint64(e.VirtualSolReserves).Div(solDivisor),
		VirtualToken: decimal.NewFromUint64(e.VirtualTokenReserves).Div(tokenDivisor),
		RealSol:      decimal.NewFromUint64(e.RealSolReserves).Div(solDivisor),
		RealToken:    decimal.NewFromUint64(e.RealTokenReserves).Div(tokenDivisor),
	}
	if !d.TokenAmount.IsZero() {
		d.Price = d.SolAmount.Div(d.TokenAmount)
	}
	d.MarketCap = d.Price.Mul(totalSupply)
	return d
}

// AmmTradeEvent is one decoded AMM swap. The counterparty is a pool
// address that must be resolved to a mint before aggregation.
type AmmTradeEvent struct {
	Signature              string
	Slot                   uint64
	Success                bool
	Pool                   string
	User                   string
	SolAmount              uint64
	TokenAmount            uint64
	IsBuy                  bool
	Timestamp              int64
	PoolBaseTokenReserves  uint64
	PoolQuoteTokenReserves uint64
	LpFee                  uint64
	ProtocolFee            uint64
	CoinCreatorFee         uint64
}

// AmmTradeDetails is the human-scale view of an AmmTradeEvent.
type AmmTradeDetails struct {
	SolAmount   decimal.Decimal
	TokenAmount decimal.Decimal
	PoolBase    decimal.Decimal
	PoolQuote   decimal.Decimal
	LpFee       decimal.Decimal
	ProtocolFee decimal.Decimal
	CreatorFee  decimal.Decimal
	Price       decimal.Decimal
}

// Details derives display quantities from the raw integer amounts.
func (e *AmmTradeEvent) Details() AmmTradeDetails {
	d := AmmTradeDetails{
		SolAmount:   decimal.NewFromUint64(e.SolAmount).Div(solDivisor),
		TokenAmount: decimal.NewFromUint64(e.TokenAmount).Div(tokenDivisor),
		PoolBase:    decimal.NewFromUint64(e.PoolBaseTokenReserves).Div(tokenDivisor),
		PoolQuote:   decimal.NewFromUint64(e.PoolQuoteTokenReserves).Div(solDivisor),
		LpFee:       decimal.NewFromUint64(e.LpFee).Div(solDivisor),
		ProtocolFee: decimal.NewFromUint64(e.ProtocolFee).Div(solDivisor),
		CreatorFee:  decimal.NewFromUint64(e.CoinCreatorFee).Div(solDivisor),
	}
	if !d.TokenAmount.IsZero() {
		d.Price = d.SolAmount.Div(d.TokenAmount)
	}
	return d
}

// AmmPoolData is the cached pool -> mint pair resolution.
type AmmPoolData struct {
	BaseTokenMint  string
	QuoteTokenMint string
}

// TrackedMint returns the non-WSOL side of the pool, or "" when neither
// side is wrapped SOL (such pools are not tracked).
func (p AmmPoolData) TrackedMint() string {
	switch {
	case p.BaseTokenMint == WSOL:
		return p.QuoteTokenMint
	case p.QuoteTokenMint == WSOL:
		return p.BaseTokenMint
	default:
		return ""
	}
}
