package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/bus"
	"github.com/nexustrade/tradingcore/internal/model"
)

const maxTradeTapeLen = 1000

// cacheKey mirrors the spec's "(type,exchange,pair)" cache keying.
type cacheKey struct {
	Type     DataType
	Exchange string
	Pair     model.Pair
}

// Aggregator owns one VenueClient per configured venue, rebroadcasts
// normalized data on the event bus and to direct subscribers keyed by
// "type:pair", and runs the periodic VWAP/best-bid/best-ask loop of
// spec.md §4.4.
type Aggregator struct {
	logger *zap.Logger
	bus    *bus.Bus
	interval time.Duration

	mu       sync.RWMutex
	clients  map[string]VenueClient
	tickers  map[cacheKey]model.Ticker
	books    map[cacheKey]model.OrderBook
	trades   map[cacheKey][]model.TradeTape
	direct   map[string][]chan Event // "type:pair" -> subscriber channels

	stopCh chan struct{}
}

// New constructs an Aggregator with spec.md §4.4's default 1s
// aggregation interval.
func New(logger *zap.Logger, b *bus.Bus, interval time.Duration) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		logger: logger.Named("marketdata.aggregator"), bus: b, interval: interval,
		clients: make(map[string]VenueClient),
		tickers: make(map[cacheKey]model.Ticker),
		books:   make(map[cacheKey]model.OrderBook),
		trades:  make(map[cacheKey][]model.TradeTape),
		direct:  make(map[string][]chan Event),
		stopCh:  make(chan struct{}),
	}
}

// RegisterClient adds a venue client the aggregator owns and fans in.
func (a *Aggregator) RegisterClient(exchange string, c VenueClient) {
	a.mu.Lock()
	a.clients[exchange] = c
	a.mu.Unlock()
}

// SubscribeDirect returns a channel of normalized events for one
// "type:pair" key, bypassing the event bus.
func (a *Aggregator) SubscribeDirect(dataType DataType, pair model.Pair, buffer int) <-chan Event {
	key := string(dataType) + ":" + string(pair)
	ch := make(chan Event, buffer)
	a.mu.Lock()
	a.direct[key] = append(a.direct[key], ch)
	a.mu.Unlock()
	return ch
}

// OnEvent is the callback VenueClients invoke for every parsed message.
// It updates the bounded caches and rebroadcasts.
func (a *Aggregator) OnEvent(ev Event) {
	key := cacheKey{Type: ev.Type, Exchange: ev.Exchange, Pair: ev.Pair}

	a.mu.Lock()
	switch ev.Type {
	case DataTypeTicker:
		if t, ok := ev.Data.(model.Ticker); ok {
			a.tickers[key] = t
		}
	case DataTypeOrderBook, DataTypeOrderBookUpdate:
		if ob, ok := ev.Data.(model.OrderBook); ok {
			a.books[key] = ob
		}
	case DataTypeTrade, DataTypeAggregatedTrade:
		if tr, ok := ev.Data.(model.TradeTape); ok {
			list := append(a.trades[key], tr)
			if len(list) > maxTradeTapeLen {
				list = list[len(list)-maxTradeTapeLen:]
			}
			a.trades[key] = list
		}
	}
	directKey := string(ev.Type) + ":" + string(ev.Pair)
	subs := a.direct[directKey]
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(context.Background(), bus.EventMarketPriceUpdate, map[string]interface{}{
			"type": ev.Type, "exchange": ev.Exchange, "pair": ev.Pair, "data": ev.Data, "ts": ev.Ts,
		}, bus.PublishOptions{})
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start runs the periodic aggregation loop until ctx is cancelled or
// Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// Stop halts the aggregation loop and disconnects every owned client.
func (a *Aggregator) Stop() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	a.mu.RLock()
	clients := make([]VenueClient, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.mu.RUnlock()
	for _, c := range clients {
		_ = c.Disconnect()
	}
}

// tick computes one round of VWAP/best-bid/best-ask per pair and emits
// aggregatedPrice, per spec.md §4.4.
func (a *Aggregator) tick() {
	a.mu.RLock()
	byPair := make(map[model.Pair][]model.Ticker)
	for k, t := range a.tickers {
		if k.Type == DataTypeTicker {
			byPair[k.Pair] = append(byPair[k.Pair], t)
		}
	}
	a.mu.RUnlock()

	for pair, tickers := range byPair {
		if len(tickers) == 0 {
			continue
		}
		agg := Aggregate(pair, tickers)
		if a.bus != nil {
			a.bus.Publish(context.Background(), bus.EventAggregatedPrice, map[string]interface{}{"aggregated": agg}, bus.PublishOptions{})
		}
	}
}

// LatestPrice returns the current VWAP across every venue's cached
// ticker for pair, for callers that need a pull-style quote instead of
// subscribing to aggregatedPrice events — notably the trading
// coordinator's risk-check price lookup.
func (a *Aggregator) LatestPrice(pair model.Pair) (decimal.Decimal, bool) {
	a.mu.RLock()
	var tickers []model.Ticker
	for k, t := range a.tickers {
		if k.Type == DataTypeTicker && k.Pair == pair {
			tickers = append(tickers, t)
		}
	}
	a.mu.RUnlock()
	if len(tickers) == 0 {
		return decimal.Zero, false
	}
	agg := Aggregate(pair, tickers)
	if agg.VWAP.IsZero() {
		return decimal.Zero, false
	}
	return agg.VWAP, true
}

// Aggregate computes spec.md §4.4's VWAP/best-bid/best-ask summary
// across per-venue tickers for one pair.
func Aggregate(pair model.Pair, tickers []model.Ticker) model.AggregatedPrice {
	notional := decimal.Zero
	volume := decimal.Zero
	var bestBid, bestAsk decimal.Decimal
	haveBid, haveAsk := false, false
	exchanges := make([]string, 0, len(tickers))

	for _, t := range tickers {
		notional = notional.Add(t.Price.Mul(t.Volume))
		volume = volume.Add(t.Volume)
		exchanges = append(exchanges, t.Exchange)
		if !haveBid || t.Bid.GreaterThan(bestBid) {
			bestBid, haveBid = t.Bid, true
		}
		if !haveAsk || t.Ask.LessThan(bestAsk) {
			bestAsk, haveAsk = t.Ask, true
		}
	}

	vwap := decimal.Zero
	if volume.IsPositive() {
		vwap = notional.Div(volume)
	}
	spread := bestAsk.Sub(bestBid)
	spreadPct := decimal.Zero
	if bestBid.IsPositive() {
		spreadPct = spread.Div(bestBid)
	}

	return model.AggregatedPrice{
		Pair: pair, VWAP: vwap, BestBid: bestBid, BestAsk: bestAsk,
		Spread: spread, SpreadPct: spreadPct, TotalVolume: volume,
		ExchangeCount: len(tickers), Exchanges: exchanges, Timestamp: time.Now(),
	}
}
