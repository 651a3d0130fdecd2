package oracle

import (
	"fmt"
	"math/big"
	"time"
)

// Precision is the fixed-point scale shared with the collateral engine. All
// USD values produced by the resolver carry eighteen decimals.
const Precision = 18

var precisionUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Precision), nil)

// Resolver converts asset amounts into USD values and back. It is built from
// two parallel lists pairing each supported asset with the feed that prices
// it, mirroring how deployments configure collateral assets.
type Resolver struct {
	assets  []string
	feedIDs map[string]string
	feeds   map[string]PriceFeed
	maxAge  time.Duration
	now     func() time.Time
}

// NewResolver pairs assets[i] with feedIDs[i]. Both lists must be non-empty
// and the same length, every asset unique, and every referenced feed present
// in the feeds map.
func NewResolver(assets []string, feedIDs []string, feeds map[string]PriceFeed, maxAge time.Duration) (*Resolver, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("oracle: no assets configured")
	}
	if len(assets) != len(feedIDs) {
		return nil, fmt.Errorf("oracle: %d assets paired with %d feeds", len(assets), len(feedIDs))
	}
	cloned := make(map[string]PriceFeed, len(feeds))
	for id, feed := range feeds {
		if feed == nil {
			continue
		}
		cloned[normalizeSymbol(id)] = feed
	}
	normalized := make([]string, 0, len(assets))
	pairing := make(map[string]string, len(assets))
	for i, asset := range assets {
		symbol := normalizeSymbol(asset)
		if symbol == "" {
			return nil, fmt.Errorf("oracle: empty asset at index %d", i)
		}
		if _, dup := pairing[symbol]; dup {
			return nil, fmt.Errorf("oracle: duplicate asset %s", symbol)
		}
		feedID := normalizeSymbol(feedIDs[i])
		if feedID == "" {
			return nil, fmt.Errorf("oracle: empty feed id for asset %s", symbol)
		}
		if _, ok := cloned[feedID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
		}
		normalized = append(normalized, symbol)
		pairing[symbol] = feedID
	}
	if maxAge <= 0 {
		maxAge = defaultMaxQuoteAge
	}
	return &Resolver{
		assets:  normalized,
		feedIDs: pairing,
		feeds:   cloned,
		maxAge:  maxAge,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Assets returns the supported asset symbols in configuration order.
func (r *Resolver) Assets() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.assets))
	copy(out, r.assets)
	return out
}

// AssetSupported reports whether the resolver prices the asset.
func (r *Resolver) AssetSupported(asset string) bool {
	if r == nil {
		return false
	}
	_, ok := r.feedIDs[normalizeSymbol(asset)]
	return ok
}

// LatestPrice returns the current quote for the asset after validity and
// freshness checks. Any failure is terminal for the caller: the resolver
// never substitutes a default price.
func (r *Resolver) LatestPrice(asset string) (PriceQuote, error) {
	if r == nil {
		return PriceQuote{}, ErrFeedNotFound
	}
	symbol := normalizeSymbol(asset)
	feedID, ok := r.feedIDs[symbol]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	feed, ok := r.feeds[feedID]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	quote, err := feed.LatestPrice(symbol)
	if err != nil {
		return PriceQuote{}, err
	}
	if !quote.Valid() {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrInvalidPrice, symbol)
	}
	if quote.Timestamp.Before(r.now().Add(-r.maxAge)) {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrStaleQuote, symbol)
	}
	return quote, nil
}

// NormalizedPrice returns the asset price scaled to eighteen decimals.
func (r *Resolver) NormalizedPrice(asset string) (*big.Int, error) {
	quote, err := r.LatestPrice(asset)
	if err != nil {
		return nil, err
	}
	return normalizePrice(quote), nil
}

// ToUSDValue converts an asset amount (eighteen decimals) into its USD value
// (eighteen decimals). The multiplication happens before the division so no
// precision is lost ahead of the final truncation.
func (r *Resolver) ToUSDValue(asset string, amount *big.Int) (*big.Int, error) {
	normalized, err := r.NormalizedPrice(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("oracle: amount must not be negative")
	}
	value := new(big.Int).Mul(amount, normalized)
	return value.Quo(value, precisionUnit), nil
}

// FromUSDValue converts a USD value (eighteen decimals) into the equivalent
// asset amount (eighteen decimals), truncating toward zero.
func (r *Resolver) FromUSDValue(asset string, usdValue *big.Int) (*big.Int, error) {
	normalized, err := r.NormalizedPrice(asset)
	if err != nil {
		return nil, err
	}
	if usdValue == nil {
		return big.NewInt(0), nil
	}
	if usdValue.Sign() < 0 {
		return nil, fmt.Errorf("oracle: usd value must not be negative")
	}
	amount := new(big.Int).Mul(usdValue, precisionUnit)
	return amount.Quo(amount, normalized), nil
}

// normalizePrice lifts a feed-native quote to eighteen decimals.
func normalizePrice(quote PriceQuote) *big.Int {
	shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Precision-quote.Decimals)), nil)
	return new(big.Int).Mul(quote.Price, shift)
}
