package domain

// KLineData is one OHLCV candle for a (mint, minute) bucket. Prices are
// stored as decimal strings to keep exact precision across the KV store.
type KLineData struct {
	Timestamp   int64  `json:"timestamp"`    // bucket start, minute-aligned
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	VolumeSol   string `json:"volume_sol"`
	VolumeToken string `json:"volume_token"`
	NetFlowSol  string `json:"net_flow_sol"` // buys positive, sells negative
	LastUpdate  int64  `json:"last_update"`  // wall clock, seconds
}

// MintKline pairs a candle with the mint it belongs to, for cross-mint reads.
type MintKline struct {
	Mint  string    `json:"mint"`
	KLine KLineData `json:"kline"`
}

// ActiveMint is one mint with its last fold wall-clock time.
type ActiveMint struct {
	Mint         string `json:"mint"`
	LastActivity int64  `json:"last_activity"`
}

// StrategyAlert is handed to the notification collaborator when a pattern
// fires. It is not persisted by the core.
type StrategyAlert struct {
	Mint         string      `json:"mint"`
	StrategyName string      `json:"strategy_name"`
	Message      string      `json:"message"`
	Timestamp    int64       `json:"timestamp"`
	Klines       []KLineData `json:"klines"`
}
