package domain

import "time"

// SignalKind identifies the class of a weak signal. Weak signals come from
// fast, cheap detectors and carry a pre-normalised magnitude in [0,1].
type SignalKind string

const (
	SignalLargeSwap      SignalKind = "LARGE_SWAP"
	SignalGasSpike       SignalKind = "GAS_SPIKE"
	SignalFlashLoan      SignalKind = "FLASH_LOAN"
	SignalMempoolCluster SignalKind = "MEMPOOL_CLUSTER"
	SignalSandwich       SignalKind = "SANDWICH_PATTERN"
)

// AlertKind identifies the class of a strong alert. Strong alerts come from
// slower, cross-checked validators and carry an unbounded percentage
// deviation that the engine normalises against a per-kind base threshold.
type AlertKind string

const (
	AlertOracleManipulation AlertKind = "ORACLE_MANIPULATION"
	AlertCrossChainArb      AlertKind = "CROSS_CHAIN_ARBITRAGE"
	AlertPriceDivergence    AlertKind = "PRICE_DIVERGENCE"
)

// WeakSignal is a fast, lower-trust observation of suspicious activity on a
// single pool.
type WeakSignal struct {
	Kind       SignalKind
	Chain      string
	Pair       string
	PoolKey    PoolKey
	ObservedAt time.Time
	// Magnitude is the detector's own severity estimate in [0,1]. Values
	// outside the range are clamped on ingestion.
	Magnitude float64
}

// StrongAlert is a slower, cross-validated, higher-trust observation, for
// example an oracle-vs-DEX price comparison or a cross-chain price check.
type StrongAlert struct {
	Kind       AlertKind
	Chain      string
	Pair       string
	PoolKey    PoolKey
	ObservedAt time.Time
	// Deviation is an unbounded percentage (e.g. 85 means 85%).
	Deviation float64
	// Evidence is an opaque audit blob kept for forensics only. It never
	// participates in scoring.
	Evidence map[string]string
}

// SwapEvent is a swap observed on a pool, confirmed or still pending.
type SwapEvent struct {
	Chain     string
	Pair      string
	PoolKey   PoolKey
	Trader    string
	AmountUSD float64
	Timestamp time.Time
}

// FlashLoanEvent is a flash-loan origination touching a pool.
type FlashLoanEvent struct {
	Chain     string
	Pair      string
	PoolKey   PoolKey
	Provider  string
	AmountUSD float64
	Timestamp time.Time
}

// PendingTx is a mempool transaction targeting a pool, before inclusion.
type PendingTx struct {
	Chain        string
	Pair         string
	PoolKey      PoolKey
	Hash         string
	From         string
	GasPriceGwei float64
	Timestamp    time.Time
}

// PriceSource distinguishes where a price observation came from.
type PriceSource string

const (
	PriceSourceDEX    PriceSource = "dex"
	PriceSourceOracle PriceSource = "oracle"
)

// PriceTick is a single price observation for a pair on one chain, either
// from a DEX venue or an oracle feed. The price travels as a decimal string
// so venue comparisons do not accumulate float error before the detector
// parses it.
type PriceTick struct {
	Chain     string
	Pair      string
	PoolKey   PoolKey
	Source    PriceSource
	Venue     string
	Price     string
	Timestamp time.Time
}
