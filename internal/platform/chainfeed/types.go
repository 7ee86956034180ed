package chainfeed

import (
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// WSCommand is the subscribe/unsubscribe envelope sent to the feed.
type WSCommand struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	PoolKeys []string `json:"pool_keys"`
}

// SwapMessage is the wire shape of a confirmed swap on the "swaps" channel.
type SwapMessage struct {
	EventType string  `json:"event_type"`
	Chain     string  `json:"chain"`
	Pair      string  `json:"pair"`
	PoolKey   string  `json:"pool_key"`
	Trader    string  `json:"trader"`
	AmountUSD float64 `json:"amount_usd"`
	Timestamp string  `json:"timestamp"`
}

// PendingTxMessage is the wire shape of a mempool transaction on the
// "pending_txs" channel.
type PendingTxMessage struct {
	EventType    string  `json:"event_type"`
	Chain        string  `json:"chain"`
	Pair         string  `json:"pair"`
	PoolKey      string  `json:"pool_key"`
	Hash         string  `json:"hash"`
	From         string  `json:"from"`
	GasPriceGwei float64 `json:"gas_price_gwei"`
	Timestamp    string  `json:"timestamp"`
}

// FlashLoanMessage is the wire shape of a flash-loan origination on the
// "flash_loans" channel.
type FlashLoanMessage struct {
	EventType string  `json:"event_type"`
	Chain     string  `json:"chain"`
	Pair      string  `json:"pair"`
	PoolKey   string  `json:"pool_key"`
	Provider  string  `json:"provider"`
	AmountUSD float64 `json:"amount_usd"`
	Timestamp string  `json:"timestamp"`
}

// PriceMessage is the wire shape of a price tick on the "prices" channel.
// Price stays a string end to end.
type PriceMessage struct {
	EventType string `json:"event_type"`
	Chain     string `json:"chain"`
	Pair      string `json:"pair"`
	PoolKey   string `json:"pool_key"`
	Source    string `json:"source"`
	Venue     string `json:"venue"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// parseTime parses the feed's RFC3339 timestamps, falling back to now for
// missing or malformed values.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// SwapToDomain converts a wire swap into the domain event.
func SwapToDomain(m *SwapMessage) domain.SwapEvent {
	return domain.SwapEvent{
		Chain:     m.Chain,
		Pair:      m.Pair,
		PoolKey:   domain.PoolKey(m.PoolKey),
		Trader:    m.Trader,
		AmountUSD: m.AmountUSD,
		Timestamp: parseTime(m.Timestamp),
	}
}

// PendingTxToDomain converts a wire pending transaction into the domain event.
func PendingTxToDomain(m *PendingTxMessage) domain.PendingTx {
	return domain.PendingTx{
		Chain:        m.Chain,
		Pair:         m.Pair,
		PoolKey:      domain.PoolKey(m.PoolKey),
		Hash:         m.Hash,
		From:         m.From,
		GasPriceGwei: m.GasPriceGwei,
		Timestamp:    parseTime(m.Timestamp),
	}
}

// FlashLoanToDomain converts a wire flash loan into the domain event.
func FlashLoanToDomain(m *FlashLoanMessage) domain.FlashLoanEvent {
	return domain.FlashLoanEvent{
		Chain:     m.Chain,
		Pair:      m.Pair,
		PoolKey:   domain.PoolKey(m.PoolKey),
		Provider:  m.Provider,
		AmountUSD: m.AmountUSD,
		Timestamp: parseTime(m.Timestamp),
	}
}

// PriceToDomain converts a wire price tick into the domain event.
func PriceToDomain(m *PriceMessage) domain.PriceTick {
	return domain.PriceTick{
		Chain:     m.Chain,
		Pair:      m.Pair,
		PoolKey:   domain.PoolKey(m.PoolKey),
		Source:    domain.PriceSource(m.Source),
		Venue:     m.Venue,
		Price:     m.Price,
		Timestamp: parseTime(m.Timestamp),
	}
}
