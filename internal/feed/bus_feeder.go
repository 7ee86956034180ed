package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/dexguard/internal/domain"
	"github.com/alanyoungcy/dexguard/internal/platform/chainfeed"
)

// chainEventsChannel is the Redis channel carrying out-of-band chain events:
// replayed traffic, backfills, and events injected by sibling agents.
const chainEventsChannel = "chain_events"

// BusFeeder subscribes to the chain_events Redis channel and routes each
// event through the dispatcher, using the same wire shapes as the WebSocket
// feed.
type BusFeeder struct {
	bus        domain.SignalBus
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus domain.SignalBus, dispatcher *Dispatcher, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run subscribes to chain_events and dispatches each message until ctx is
// cancelled.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, chainEventsChannel)
	if err != nil {
		return err
	}
	f.logger.Info("bus feeder started")
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("bus feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *BusFeeder) handleMessage(ctx context.Context, data []byte) error {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	switch envelope.EventType {
	case "swap":
		var m chainfeed.SwapMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		f.dispatcher.HandleSwap(ctx, chainfeed.SwapToDomain(&m))
	case "pending_tx":
		var m chainfeed.PendingTxMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		f.dispatcher.HandlePendingTx(ctx, chainfeed.PendingTxToDomain(&m))
	case "flash_loan":
		var m chainfeed.FlashLoanMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		f.dispatcher.HandleFlashLoan(ctx, chainfeed.FlashLoanToDomain(&m))
	case "price_tick":
		var m chainfeed.PriceMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		f.dispatcher.HandlePriceTick(ctx, chainfeed.PriceToDomain(&m))
	}
	return nil
}
