package collateral

import "errors"

var (
	// ErrInvalidConfiguration rejects engine construction when the collateral
	// asset list and the price feed list do not pair one-to-one.
	ErrInvalidConfiguration = errors.New("collateral engine: asset and feed lists must pair one-to-one")
	// ErrNeedsMoreThanZero rejects zero or negative operation amounts.
	ErrNeedsMoreThanZero = errors.New("collateral engine: amount must be greater than zero")
	// ErrNotAllowedToken rejects assets outside the approved collateral set.
	ErrNotAllowedToken = errors.New("collateral engine: collateral asset not approved")
	// ErrTransferFailed wraps a failed token movement into or out of the
	// engine module account.
	ErrTransferFailed = errors.New("collateral engine: token transfer failed")
	// ErrMintFailed wraps a failed stable token mint.
	ErrMintFailed = errors.New("collateral engine: stable token mint failed")
	// ErrBreaksHealthFactor aborts a mint or redeem that would leave the
	// caller below the minimum health factor.
	ErrBreaksHealthFactor = errors.New("collateral engine: operation breaks health factor")
	// ErrHealthFactorOk rejects liquidation of a healthy account.
	ErrHealthFactorOk = errors.New("collateral engine: health factor above minimum")
	// ErrHealthFactorNotImproved aborts a liquidation that leaves the target
	// no better off, including seizures the held collateral cannot cover.
	ErrHealthFactorNotImproved = errors.New("collateral engine: health factor not improved")
	// ErrInsufficientBalance rejects burns or redemptions beyond the held
	// amount.
	ErrInsufficientBalance = errors.New("collateral engine: insufficient balance")
)
