package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
	"github.com/alanyoungcy/dexguard/internal/platform/chainfeed"
)

// ChainWSFeed connects to the chain-event aggregator WebSocket, subscribes
// to all event channels for the watched pool keys, and routes each message
// through the dispatcher. It reconnects on disconnect.
type ChainWSFeed struct {
	wsURL      string
	poolKeys   []string
	dispatcher *Dispatcher
	logger     *slog.Logger
	closeOnce  sync.Once
	done       chan struct{}
}

// NewChainWSFeed creates a feed for the given watched pool keys.
func NewChainWSFeed(wsURL string, poolKeys []string, dispatcher *Dispatcher, logger *slog.Logger) *ChainWSFeed {
	return &ChainWSFeed{
		wsURL:      wsURL,
		poolKeys:   poolKeys,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "chain_ws_feed")),
		done:       make(chan struct{}),
	}
}

// Run connects, subscribes to all channels for the configured pools, and
// runs until ctx is cancelled. Reconnects with backoff on disconnect.
func (f *ChainWSFeed) Run(ctx context.Context) error {
	if len(f.poolKeys) == 0 {
		f.logger.Info("no pools to watch, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("chain feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *ChainWSFeed) runConnection(ctx context.Context) error {
	client := chainfeed.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnSwap(func(ev domain.SwapEvent) {
		f.dispatcher.HandleSwap(context.Background(), ev)
	})
	client.OnPendingTx(func(tx domain.PendingTx) {
		f.dispatcher.HandlePendingTx(context.Background(), tx)
	})
	client.OnFlashLoan(func(ev domain.FlashLoanEvent) {
		f.dispatcher.HandleFlashLoan(context.Background(), ev)
	})
	client.OnPriceTick(func(tick domain.PriceTick) {
		f.dispatcher.HandlePriceTick(context.Background(), tick)
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return err
	}
	channels := []string{"swaps", "pending_txs", "flash_loans", "prices"}
	if err := client.Subscribe(connCtx, channels, f.poolKeys); err != nil {
		return err
	}
	f.logger.Info("chain feed subscribed", slog.Int("pools", len(f.poolKeys)))

	<-ctx.Done()
	return ctx.Err()
}

// Close stops the feed.
func (f *ChainWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
