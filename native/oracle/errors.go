package oracle

import "errors"

var (
	// ErrUnknownAsset is returned when no feed is paired with the asset.
	ErrUnknownAsset = errors.New("oracle: no feed configured for asset")
	// ErrFeedNotFound is returned when a pairing references an unregistered feed.
	ErrFeedNotFound = errors.New("oracle: feed not registered")
	// ErrInvalidPrice is returned when a feed produces a non-positive or
	// unrepresentable price. The resolver fails closed instead of propagating it.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrStaleQuote is returned when every available quote is older than the
	// configured freshness window.
	ErrStaleQuote = errors.New("oracle: no fresh quote available")
	// ErrQuoteNotFound is returned when a feed has no observation for the asset.
	ErrQuoteNotFound = errors.New("oracle: quote not found")
)
