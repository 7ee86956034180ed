// Package chainfeed is the client for the chain-event aggregator feed: a
// WebSocket stream of confirmed swaps, mempool transactions, flash loans,
// and venue price ticks for watched pools.
package chainfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// SwapHandler is called for each confirmed swap on a watched pool.
type SwapHandler func(domain.SwapEvent)

// PendingTxHandler is called for each mempool transaction targeting a
// watched pool.
type PendingTxHandler func(domain.PendingTx)

// FlashLoanHandler is called for each flash-loan origination.
type FlashLoanHandler func(domain.FlashLoanEvent)

// PriceTickHandler is called for each DEX or oracle price tick.
type PriceTickHandler func(domain.PriceTick)

// WSClient is a WebSocket client for the chain-event aggregator. It manages
// the connection lifecycle, subscriptions, and dispatches messages to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	// Handlers
	swapHandlers      []SwapHandler
	pendingHandlers   []PendingTxHandler
	flashLoanHandlers []FlashLoanHandler
	priceHandlers     []PriceTickHandler
	handlerMu         sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given feed endpoint.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("chainfeed: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("chainfeed: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start the read loop and ping loop.
	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("chainfeed: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given channels for the specified pool keys.
// Valid channels are "swaps", "pending_txs", "flash_loans", "prices".
func (w *WSClient) Subscribe(ctx context.Context, channels []string, poolKeys []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("chainfeed: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{
			Type:     "subscribe",
			Channel:  ch,
			PoolKeys: poolKeys,
		}

		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("chainfeed: subscribe to %s: %w", ch, err)
		}

		// Track subscription for reconnection.
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		// Send a close message to the server.
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnSwap registers a handler for confirmed swaps on the "swaps" channel.
func (w *WSClient) OnSwap(handler SwapHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.swapHandlers = append(w.swapHandlers, handler)
}

// OnPendingTx registers a handler for mempool transactions on the
// "pending_txs" channel.
func (w *WSClient) OnPendingTx(handler PendingTxHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.pendingHandlers = append(w.pendingHandlers, handler)
}

// OnFlashLoan registers a handler for flash loans on the "flash_loans"
// channel.
func (w *WSClient) OnFlashLoan(handler FlashLoanHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.flashLoanHandlers = append(w.flashLoanHandlers, handler)
}

// OnPriceTick registers a handler for price ticks on the "prices" channel.
func (w *WSClient) OnPriceTick(handler PriceTickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			// Attempt reconnection.
			w.reconnect()
			return // readLoop will be restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it to the
// appropriate handler based on the event type.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	switch envelope.EventType {
	case "swap":
		var m SwapMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		ev := SwapToDomain(&m)

		w.handlerMu.RLock()
		handlers := w.swapHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}

	case "pending_tx":
		var m PendingTxMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		tx := PendingTxToDomain(&m)

		w.handlerMu.RLock()
		handlers := w.pendingHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(tx)
		}

	case "flash_loan":
		var m FlashLoanMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		ev := FlashLoanToDomain(&m)

		w.handlerMu.RLock()
		handlers := w.flashLoanHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}

	case "price_tick":
		var m PriceMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		tick := PriceToDomain(&m)

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(tick)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
