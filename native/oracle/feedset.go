package oracle

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultMaxQuoteAge = 5 * time.Minute

// FeedSet resolves an asset price across several registered feeds. Feeds are
// consulted in priority order and the first fresh, valid quote wins. A quote
// older than the configured maximum age is skipped, so a wedged upstream
// source degrades into an error instead of a stale price.
type FeedSet struct {
	mu       sync.RWMutex
	feeds    map[string]PriceFeed
	priority []string
	maxAge   time.Duration
	now      func() time.Time
}

// NewFeedSet constructs an empty feed set. A non-positive maxAge falls back
// to the default of five minutes.
func NewFeedSet(maxAge time.Duration) *FeedSet {
	if maxAge <= 0 {
		maxAge = defaultMaxQuoteAge
	}
	return &FeedSet{
		feeds:  make(map[string]PriceFeed),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register adds or replaces a named feed. Names are case-insensitive.
func (s *FeedSet) Register(name string, feed PriceFeed) {
	if s == nil || feed == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[trimmed] = feed
}

// SetPriority fixes the order feeds are consulted in. Unknown names are kept
// and simply skipped at resolution time; registered feeds missing from the
// list are consulted last in lexical order.
func (s *FeedSet) SetPriority(names []string) {
	if s == nil {
		return
	}
	ordered := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		ordered = append(ordered, trimmed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = ordered
}

// MaxAge reports the freshness cutoff applied to quotes.
func (s *FeedSet) MaxAge() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxAge
}

func (s *FeedSet) ordered() []PriceFeed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := make([]PriceFeed, 0, len(s.feeds))
	used := make(map[string]struct{}, len(s.feeds))
	for _, name := range s.priority {
		feed, ok := s.feeds[name]
		if !ok {
			continue
		}
		ordered = append(ordered, feed)
		used[name] = struct{}{}
	}
	rest := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		if _, done := used[name]; done {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		ordered = append(ordered, s.feeds[name])
	}
	return ordered
}

// LatestPrice implements the PriceFeed interface over the whole set.
func (s *FeedSet) LatestPrice(asset string) (PriceQuote, error) {
	if s == nil {
		return PriceQuote{}, ErrFeedNotFound
	}
	symbol := normalizeSymbol(asset)
	if symbol == "" {
		return PriceQuote{}, fmt.Errorf("%w: empty asset", ErrUnknownAsset)
	}
	feeds := s.ordered()
	if len(feeds) == 0 {
		return PriceQuote{}, fmt.Errorf("%w: no feeds registered", ErrFeedNotFound)
	}

	cutoff := s.now().Add(-s.MaxAge())
	var lastErr error
	sawStale := false
	for _, feed := range feeds {
		quote, err := feed.LatestPrice(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if !quote.Valid() {
			lastErr = fmt.Errorf("%w: %s", ErrInvalidPrice, symbol)
			continue
		}
		if quote.Timestamp.Before(cutoff) {
			sawStale = true
			continue
		}
		return quote, nil
	}
	if sawStale {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrStaleQuote, symbol)
	}
	if lastErr != nil {
		return PriceQuote{}, lastErr
	}
	return PriceQuote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, symbol)
}
