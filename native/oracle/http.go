package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stabled/core/events"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultHTTPEndpoint     = "https://api.coingecko.com/api/v3/simple/price"
	defaultHTTPVsCurrency   = "usd"
	defaultHTTPFeedDecimals = 8
	defaultPollInterval     = 30 * time.Second
)

// HTTPFeedConfig controls the polled price source.
type HTTPFeedConfig struct {
	// Endpoint is a CoinGecko-shaped simple price API.
	Endpoint string
	// AssetIDs maps ledger symbols to upstream asset identifiers.
	AssetIDs map[string]string
	// VsCurrency is the quote currency requested from the API.
	VsCurrency string
	// Decimals is the integer precision quotes are scaled into.
	Decimals uint8
	// PollInterval is the refresh cadence for Run.
	PollInterval time.Duration
}

func (c HTTPFeedConfig) normalise() HTTPFeedConfig {
	cfg := c
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultHTTPEndpoint
	}
	if strings.TrimSpace(cfg.VsCurrency) == "" {
		cfg.VsCurrency = defaultHTTPVsCurrency
	}
	if cfg.Decimals == 0 || cfg.Decimals > 18 {
		cfg.Decimals = defaultHTTPFeedDecimals
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	ids := make(map[string]string, len(cfg.AssetIDs))
	for symbol, id := range cfg.AssetIDs {
		normalized := normalizeSymbol(symbol)
		trimmed := strings.TrimSpace(id)
		if normalized == "" || trimmed == "" {
			continue
		}
		ids[normalized] = trimmed
	}
	cfg.AssetIDs = ids
	return cfg
}

// HTTPFeed polls an external price API on an interval and serves the cached
// quotes. Serving never blocks on the network; a refresh that fails leaves
// the previous quote in place so staleness checks decide its fate.
type HTTPFeed struct {
	client  HTTPDoer
	cfg     HTTPFeedConfig
	emitter events.Emitter

	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewHTTPFeed constructs the poller. A nil client falls back to
// http.DefaultClient.
func NewHTTPFeed(client HTTPDoer, cfg HTTPFeedConfig) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{
		client:  client,
		cfg:     cfg.normalise(),
		emitter: events.NoopEmitter{},
		quotes:  make(map[string]PriceQuote),
	}
}

// SetEmitter wires an event emitter for accepted price refreshes.
func (f *HTTPFeed) SetEmitter(emitter events.Emitter) {
	if f == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.emitter = emitter
}

// LatestPrice serves the cached quote for the asset.
func (f *HTTPFeed) LatestPrice(asset string) (PriceQuote, error) {
	if f == nil {
		return PriceQuote{}, fmt.Errorf("oracle: http feed not configured")
	}
	symbol := normalizeSymbol(asset)
	f.mu.RLock()
	stored, ok := f.quotes[symbol]
	f.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, symbol)
	}
	return stored.Clone(), nil
}

// Run refreshes the cache on the configured interval until the context is
// cancelled. The first refresh happens immediately.
func (f *HTTPFeed) Run(ctx context.Context) {
	if f == nil {
		return
	}
	_ = f.RefreshOnce(ctx)
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = f.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce fetches quotes for every configured asset in a single request
// and updates the cache with the ones that parse cleanly.
func (f *HTTPFeed) RefreshOnce(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("oracle: http feed not configured")
	}
	if len(f.cfg.AssetIDs) == 0 {
		return fmt.Errorf("oracle: no assets configured for http feed")
	}

	ids := make([]string, 0, len(f.cfg.AssetIDs))
	bySymbol := make(map[string]string, len(f.cfg.AssetIDs))
	for symbol, id := range f.cfg.AssetIDs {
		ids = append(ids, id)
		bySymbol[id] = symbol
	}
	sort.Strings(ids)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.Endpoint, nil)
	if err != nil {
		return err
	}
	values := url.Values{}
	values.Set("ids", strings.Join(ids, ","))
	values.Set("vs_currencies", f.cfg.VsCurrency)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("oracle: http feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return fmt.Errorf("oracle: http feed decode: %w", err)
	}

	var firstErr error
	for id, entry := range payload {
		symbol, ok := bySymbol[id]
		if !ok {
			continue
		}
		quote, err := f.parseEntry(entry)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("oracle: http feed %s: %w", symbol, err)
			}
			continue
		}
		f.mu.Lock()
		f.quotes[symbol] = quote
		f.mu.Unlock()
		f.emitter.Emit(events.PriceUpdated{
			Asset:    symbol,
			Price:    quote.Price,
			Decimals: quote.Decimals,
			Source:   quote.Source,
		})
	}
	return firstErr
}

func (f *HTTPFeed) parseEntry(entry map[string]interface{}) (PriceQuote, error) {
	currency := strings.ToLower(f.cfg.VsCurrency)
	var priceStr string
	if raw, exists := entry[currency]; exists {
		switch v := raw.(type) {
		case json.Number:
			priceStr = v.String()
		case string:
			priceStr = v
		case float64:
			priceStr = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			priceStr = fmt.Sprintf("%v", v)
		}
	}
	price, err := ParseDecimal(priceStr, f.cfg.Decimals)
	if err != nil {
		return PriceQuote{}, err
	}

	ts := time.Time{}
	if rawTs, exists := entry["last_updated_at"]; exists {
		switch v := rawTs.(type) {
		case json.Number:
			if parsed, err := v.Int64(); err == nil && parsed > 0 {
				ts = time.Unix(parsed, 0)
			}
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed > 0 {
				ts = time.Unix(parsed, 0)
			}
		case float64:
			if v > 0 {
				ts = time.Unix(int64(v), 0)
			}
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return PriceQuote{Price: price, Decimals: f.cfg.Decimals, Timestamp: ts, Source: "http"}, nil
}
