package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures an integer price observation for one asset at the
// feed-native decimal precision, along with the observation timestamp and the
// reporting source.
type PriceQuote struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Decimals: q.Decimals, Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Valid reports whether the quote carries a positive, usable price.
func (q PriceQuote) Valid() bool {
	return q.Price != nil && q.Price.Sign() > 0 && q.Decimals <= 18
}

// PriceFeed resolves the latest price observation for an asset symbol.
type PriceFeed interface {
	LatestPrice(asset string) (PriceQuote, error)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ManualFeed is an in-memory feed used for tests, local networks and manual
// overrides during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]PriceQuote)}
}

// Set stores an integer price for the asset at the given decimal precision.
func (m *ManualFeed) Set(asset string, price *big.Int, decimals uint8, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("oracle: manual feed not configured")
	}
	symbol := normalizeSymbol(asset)
	if symbol == "" {
		return fmt.Errorf("oracle: asset symbol required")
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if decimals > 18 {
		return fmt.Errorf("oracle: feed decimals must be <= 18")
	}
	m.mu.Lock()
	m.quotes[symbol] = PriceQuote{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		Timestamp: ts,
		Source:    "manual",
	}
	m.mu.Unlock()
	return nil
}

// SetDecimal parses a decimal price string (e.g. "2043.75") and stores it
// scaled to the supplied precision.
func (m *ManualFeed) SetDecimal(asset, price string, decimals uint8, ts time.Time) error {
	scaled, err := ParseDecimal(price, decimals)
	if err != nil {
		return err
	}
	return m.Set(asset, scaled, decimals, ts)
}

// LatestPrice retrieves the stored quote for the asset.
func (m *ManualFeed) LatestPrice(asset string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("oracle: manual feed not configured")
	}
	symbol := normalizeSymbol(asset)
	m.mu.RLock()
	stored, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, symbol)
	}
	return stored.Clone(), nil
}

// ParseDecimal converts a decimal string into an integer scaled to the given
// number of decimals, truncating any excess fractional digits.
func ParseDecimal(value string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: price required")
	}
	if decimals > 18 {
		return nil, fmt.Errorf("oracle: feed decimals must be <= 18")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid price %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
