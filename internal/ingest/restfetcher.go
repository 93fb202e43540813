package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/tradingcore/internal/model"
)

// RESTFetcher is a minimal Fetcher backed by a per-exchange REST
// candle endpoint returning a JSON array of
// [timestampMs, open, high, low, close, volume] rows (the shape every
// major venue's klines/OHLCV endpoint reduces to). No ecosystem REST
// client library in the example pack models venue-specific historical
// candle pulls (only WebSocket trade streaming, e.g.
// internal/exchange/binance.go's BinanceConnector) so this talks
// directly to net/http, documented in DESIGN.md.
type RESTFetcher struct {
	BaseURLs map[string]string // exchange -> base URL, e.g. "https://api.binance.com/api/v3/klines"
	Client   *http.Client
}

// NewRESTFetcher constructs a RESTFetcher with a 10s client timeout.
func NewRESTFetcher(baseURLs map[string]string) *RESTFetcher {
	return &RESTFetcher{BaseURLs: baseURLs, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *RESTFetcher) FetchCandles(ctx context.Context, exchange string, pair model.Pair, tf model.Timeframe, fromMs int64, limit int) ([]model.Candle, error) {
	base, ok := f.BaseURLs[exchange]
	if !ok {
		return nil, fmt.Errorf("ingest: no REST endpoint configured for exchange %q", exchange)
	}

	q := url.Values{}
	q.Set("symbol", string(pair))
	q.Set("interval", string(tf))
	q.Set("startTime", strconv.FormatInt(fromMs, 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch %s: %w", exchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: %s returned status %d", exchange, resp.StatusCode)
	}

	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("ingest: decode response: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseRow(row)
		if err != nil {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseRow(row []interface{}) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("ingest: short candle row")
	}
	ts, ok := toInt64(row[0])
	if !ok {
		return model.Candle{}, fmt.Errorf("ingest: bad timestamp")
	}
	open, err1 := toDecimal(row[1])
	high, err2 := toDecimal(row[2])
	low, err3 := toDecimal(row[3])
	closeP, err4 := toDecimal(row[4])
	vol, err5 := toDecimal(row[5])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return model.Candle{}, fmt.Errorf("ingest: bad candle row field")
	}
	return model.Candle{TimestampMs: ts, Open: open, High: high, Low: low, Close: closeP, Volume: vol}, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Decimal{}, fmt.Errorf("ingest: unsupported value type %T", v)
	}
}

// NullFetcher rejects every fetch; used where no venue endpoint is
// configured so ingestion failures surface clearly instead of
// silently returning empty pages.
type NullFetcher struct{}

// NewNullFetcher constructs a NullFetcher.
func NewNullFetcher() NullFetcher { return NullFetcher{} }

func (NullFetcher) FetchCandles(_ context.Context, exchange string, _ model.Pair, _ model.Timeframe, _ int64, _ int) ([]model.Candle, error) {
	return nil, fmt.Errorf("ingest: no fetcher configured for exchange %q", exchange)
}
