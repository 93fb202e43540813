// Package marketdata is the multi-exchange market-data aggregator of
// spec.md §4.4: one VenueClient per configured venue, normalization,
// reconnect/heartbeat, and VWAP/best-bid/best-ask aggregation. The
// VenueClient contract (connect/subscribe/unsubscribe/disconnect/
// getStatus) is grounded on github.com/gorilla/websocket usage patterns
// and the MarketFeedService interface shape in
// internal/marketfeeds/service.go (stopChan, RWMutex-guarded maps);
// aggregator fan-in and caching is grounded on
// internal/marketdata/distributor.go and pubsub.go (bounded per-key
// caches, rebroadcast to direct subscribers), generalized to the
// VWAP/best-bid/best-ask aggregation math of the spec. Reconnect/backoff
// and the heartbeat watchdog are added here: the teacher's distributor
// assumes an already-connected feed.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/model"
)

// DataType enumerates the normalized event shapes a VenueClient emits,
// per spec.md §4.4.
type DataType string

const (
	DataTypeTicker            DataType = "ticker"
	DataTypeOrderBook         DataType = "orderbook"
	DataTypeOrderBookUpdate   DataType = "orderbook_update"
	DataTypeTrade             DataType = "trade"
	DataTypeAggregatedTrade   DataType = "aggregated_trade"
)

// Event is the normalized payload a VenueClient delivers to its
// subscribers.
type Event struct {
	Type     DataType
	Exchange string
	Pair     model.Pair
	Data     interface{}
	Ts       time.Time
}

// Status mirrors spec.md §4.4's getStatus shape.
type Status struct {
	Connected         bool
	Subscriptions     []string
	ReconnectAttempts int
	LastMessageAt     time.Time
}

// VenueClient is the per-exchange WebSocket contract, per spec.md §4.4.
type VenueClient interface {
	Connect(ctx context.Context) error
	Subscribe(channel string, pair model.Pair) error
	Unsubscribe(channel string, pair model.Pair) error
	Disconnect() error
	GetStatus() Status
}

// Parser translates one venue's wire message into a normalized Event.
type Parser func(raw []byte) (Event, error)

// ReconnectPolicy configures backoff and heartbeat timing, per
// spec.md §4.4 and §6's default {maxReconnectAttempts=5,
// reconnectDelayMs=1000, heartbeatMs=30000}.
type ReconnectPolicy struct {
	MaxAttempts      int
	ReconnectDelayMs int64
	HeartbeatMs      int64
}

// DefaultReconnectPolicy returns spec.md §6's per-venue defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, ReconnectDelayMs: 1000, HeartbeatMs: 30000}
}

// WSClient is a gorilla/websocket-backed VenueClient with exponential
// backoff reconnection and a heartbeat watchdog, per spec.md §4.4.
type WSClient struct {
	exchange string
	url      string
	parser   Parser
	policy   ReconnectPolicy
	logger   *zap.Logger
	onEvent  func(Event)
	onTerminal func(exchange string, reason string)

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	subs          map[string]bool // "channel:pair"
	attempts      int
	lastMessageAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWSClient constructs a venue client; onEvent receives every parsed
// message, onTerminal fires once reconnection attempts are exhausted.
func NewWSClient(exchange, url string, parser Parser, policy ReconnectPolicy, logger *zap.Logger, onEvent func(Event), onTerminal func(exchange, reason string)) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		exchange: exchange, url: url, parser: parser, policy: policy,
		logger: logger.Named("marketdata." + exchange),
		onEvent: onEvent, onTerminal: onTerminal,
		subs:   make(map[string]bool),
		stopCh: make(chan struct{}), doneCh: make(chan struct{}),
	}
}

// Connect dials the venue and starts the read/heartbeat loop.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("marketdata: dial %s: %w", c.exchange, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.lastMessageAt = time.Now()
	c.mu.Unlock()

	go c.readLoop()
	go c.heartbeatLoop()
	return nil
}

// Subscribe remembers the (channel,pair) pair so it can be replayed
// after a reconnect.
func (c *WSClient) Subscribe(channel string, pair model.Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[subKey(channel, pair)] = true
	return c.writeSubscribeLocked(channel, pair, true)
}

// Unsubscribe removes a remembered subscription.
func (c *WSClient) Unsubscribe(channel string, pair model.Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, subKey(channel, pair))
	return c.writeSubscribeLocked(channel, pair, false)
}

func (c *WSClient) writeSubscribeLocked(channel string, pair model.Pair, subscribe bool) error {
	if c.conn == nil {
		return nil
	}
	msg := map[string]interface{}{"op": map[bool]string{true: "subscribe", false: "unsubscribe"}[subscribe], "channel": channel, "pair": string(pair)}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Disconnect closes the connection and stops the background loops.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetStatus reports the client's current connection state.
func (c *WSClient) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]string, 0, len(c.subs))
	for k := range c.subs {
		subs = append(subs, k)
	}
	return Status{Connected: c.connected, Subscriptions: subs, ReconnectAttempts: c.attempts, LastMessageAt: c.lastMessageAt}
}

func (c *WSClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read error, reconnecting", zap.Error(err))
			c.reconnect()
			return
		}
		c.mu.Lock()
		c.lastMessageAt = time.Now()
		c.mu.Unlock()

		ev, err := c.parser(raw)
		if err != nil {
			c.logger.Debug("parse error", zap.Error(err))
			continue
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

// heartbeatLoop force-terminates and reconnects if no message arrives
// within 2x the heartbeat interval, per spec.md §4.4.
func (c *WSClient) heartbeatLoop() {
	interval := time.Duration(c.policy.HeartbeatMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := time.Since(c.lastMessageAt) > 2*interval
			c.mu.Unlock()
			if stale {
				c.logger.Warn("heartbeat watchdog tripped")
				c.reconnect()
				return
			}
		}
	}
}

// reconnect retries with exponential backoff reconnectDelay·2^(attempts-1),
// bounded by maxReconnectAttempts, per spec.md §4.4. On success it
// replays every remembered subscription; on exhaustion it surfaces a
// terminal event.
func (c *WSClient) reconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	maxAttempts := c.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseDelay := time.Duration(c.policy.ReconnectDelayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-c.stopCh:
			return
		default:
		}
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()

		delay := baseDelay * time.Duration(1<<(attempt-1))
		time.Sleep(delay)

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.attempts = 0
		c.lastMessageAt = time.Now()
		subs := make([]string, 0, len(c.subs))
		for k := range c.subs {
			subs = append(subs, k)
		}
		c.mu.Unlock()

		for _, k := range subs {
			channel, pair := splitSubKey(k)
			_ = c.writeSubscribeLocked(channel, pair, true)
		}

		go c.readLoop()
		go c.heartbeatLoop()
		return
	}

	c.logger.Error("reconnect attempts exhausted, surfacing terminal event")
	if c.onTerminal != nil {
		c.onTerminal(c.exchange, "max reconnect attempts exceeded")
	}
}

func subKey(channel string, pair model.Pair) string { return channel + ":" + string(pair) }

func splitSubKey(k string) (string, model.Pair) {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], model.Pair(k[i+1:])
		}
	}
	return k, ""
}
